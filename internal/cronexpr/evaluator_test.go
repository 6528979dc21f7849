package cronexpr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_Next(t *testing.T) {
	eval := New()

	t.Run("Monday 9am Berlin resolves to 8am UTC in winter", func(t *testing.T) {
		// 2025-01-06 is a Monday. Local 09:00 CET == 08:00 UTC.
		from := time.Date(2025, 1, 6, 7, 59, 0, 0, time.UTC)

		next, err := eval.Next("0 9 * * MON", "Europe/Berlin", from)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("Next after firing advances a full week", func(t *testing.T) {
		firedAt := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)

		next, err := eval.Next("0 9 * * MON", "Europe/Berlin", firedAt)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 1, 13, 8, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("Strictly greater than from", func(t *testing.T) {
		from := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
		next, err := eval.Next("0 12 * * *", "UTC", from)
		require.NoError(t, err)
		assert.True(t, next.After(from), "next firing must be strictly after from")
	})

	t.Run("DST spring forward skips to first valid instant", func(t *testing.T) {
		// Europe/Berlin jumps 02:00 -> 03:00 on 2025-03-30. A 02:30 local
		// schedule has no valid instant that day; the firing rolls past the gap.
		from := time.Date(2025, 3, 30, 0, 0, 0, 0, time.UTC)

		next, err := eval.Next("30 2 * * *", "Europe/Berlin", from)
		require.NoError(t, err)

		berlin, err := time.LoadLocation("Europe/Berlin")
		require.NoError(t, err)

		local := next.In(berlin)
		assert.True(t, next.After(from))
		// Never lands inside the nonexistent 02:00-03:00 window of the gap day.
		if local.Day() == 30 && local.Month() == time.March {
			assert.True(t, local.Hour() >= 3, "firing inside DST gap: %v", local)
		}
	})

	t.Run("Empty timezone defaults to UTC", func(t *testing.T) {
		from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		next, err := eval.Next("0 0 * * *", "", from)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("Invalid expression", func(t *testing.T) {
		_, err := eval.Next("not a cron", "UTC", time.Now())
		assert.True(t, errors.Is(err, ErrInvalidCron))
	})

	t.Run("Unknown timezone", func(t *testing.T) {
		_, err := eval.Next("0 9 * * *", "Mars/Olympus_Mons", time.Now())
		assert.True(t, errors.Is(err, ErrUnknownTimezone))
	})
}

func TestEvaluator_NextN(t *testing.T) {
	eval := New()
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("Enumerates consecutive firings", func(t *testing.T) {
		firings, err := eval.NextN("0 12 * * *", "UTC", from, 3)
		require.NoError(t, err)
		require.Len(t, firings, 3)

		assert.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), firings[0].UTC())
		assert.Equal(t, time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC), firings[1].UTC())
		assert.Equal(t, time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC), firings[2].UTC())
	})

	t.Run("Zero count returns nothing", func(t *testing.T) {
		firings, err := eval.NextN("0 12 * * *", "UTC", from, 0)
		require.NoError(t, err)
		assert.Empty(t, firings)
	})

	t.Run("Firings are strictly increasing", func(t *testing.T) {
		firings, err := eval.NextN("*/15 * * * *", "America/New_York", from, 10)
		require.NoError(t, err)
		require.Len(t, firings, 10)
		for i := 1; i < len(firings); i++ {
			assert.True(t, firings[i].After(firings[i-1]))
		}
	})
}

func TestEvaluator_Validate(t *testing.T) {
	eval := New()

	testCases := []struct {
		name        string
		expr        string
		timezone    string
		expectError error
	}{
		{"valid expression and zone", "*/5 * * * *", "Europe/Berlin", nil},
		{"descriptor", "@daily", "UTC", nil},
		{"six fields rejected", "0 0 9 * * MON", "UTC", ErrInvalidCron},
		{"garbage expression", "often", "UTC", ErrInvalidCron},
		{"bad zone", "0 9 * * *", "Nowhere/Nothing", ErrUnknownTimezone},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := eval.Validate(tc.expr, tc.timezone)
			if tc.expectError == nil {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, tc.expectError))
			}
		})
	}
}
