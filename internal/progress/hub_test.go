package progress

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishReachesSubscriber(t *testing.T) {
	hub := NewHub(slog.Default())
	ch, cancel := hub.Subscribe(1, 2)
	defer cancel()

	err := hub.Publish(Update{UserID: 1, AccountID: 2, ExecutionID: 7, Stage: StageFetching, Progress: 10})
	require.NoError(t, err)

	u := <-ch
	assert.Equal(t, StageFetching, u.Stage)
	assert.Equal(t, 10, u.Progress)
	assert.False(t, u.Timestamp.IsZero())
}

func TestHub_TopicIsolation(t *testing.T) {
	hub := NewHub(slog.Default())
	ch, cancel := hub.Subscribe(1, 2)
	defer cancel()

	require.NoError(t, hub.Publish(Update{UserID: 9, AccountID: 9, ExecutionID: 1, Stage: StageFetching, Progress: 10}))
	assert.Empty(t, ch)
}

func TestHub_ProgressStrictlyIncreasing(t *testing.T) {
	hub := NewHub(slog.Default())

	require.NoError(t, hub.Publish(Update{ExecutionID: 3, Stage: StageConnecting, Progress: 5}))
	require.NoError(t, hub.Publish(Update{ExecutionID: 3, Stage: StageFetching, Progress: 20}))

	err := hub.Publish(Update{ExecutionID: 3, Stage: StageProcessing, Progress: 20})
	assert.Error(t, err)
	err = hub.Publish(Update{ExecutionID: 3, Stage: StageProcessing, Progress: 15})
	assert.Error(t, err)

	require.NoError(t, hub.Publish(Update{ExecutionID: 3, Stage: StageCompleted, Progress: 100}))
}

func TestHub_TerminalStageResetsHighWater(t *testing.T) {
	hub := NewHub(slog.Default())

	require.NoError(t, hub.Publish(Update{ExecutionID: 4, Stage: StageCompleted, Progress: 100}))
	// A new execution under the same id (reused counters in tests) starts over.
	require.NoError(t, hub.Publish(Update{ExecutionID: 4, Stage: StageConnecting, Progress: 5}))
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(slog.Default())
	_, cancel := hub.Subscribe(1, 1)
	defer cancel()

	// Never read: publishes beyond the buffer must still succeed.
	for i := 1; i <= subscriberBuffer+5; i++ {
		require.NoError(t, hub.Publish(Update{UserID: 1, AccountID: 1, ExecutionID: 5, Stage: StageProcessing, Progress: i}))
	}
}

func TestHub_ProgressRange(t *testing.T) {
	hub := NewHub(slog.Default())

	assert.Error(t, hub.Publish(Update{ExecutionID: 6, Progress: -1}))
	assert.Error(t, hub.Publish(Update{ExecutionID: 6, Progress: 101}))
}
