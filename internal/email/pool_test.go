package email

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPooledSessionBrokenFlag(t *testing.T) {
	s := &pooledSession{lastUsed: time.Now()}

	assert.False(t, s.isBroken())
	assert.True(t, s.isFresh(time.Minute))

	s.markBroken()
	assert.True(t, s.isBroken())
	assert.False(t, s.isFresh(time.Minute), "a broken session is never fresh")
}

func TestPooledSessionConcurrentFlagAccess(t *testing.T) {
	s := &pooledSession{lastUsed: time.Now()}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.touch()
				s.isBroken()
				s.isFresh(time.Minute)
			}
		}()
	}
	wg.Wait()

	s.markBroken()
	assert.True(t, s.isBroken())
}

func TestDialTimeoutDoesNotHang(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// Accept but never send a greeting, so the dial can only time out. The
	// late connection is drained and logged out behind the scenes.
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			time.Sleep(300 * time.Millisecond)
			conn.Close()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	account := Account{ID: 1, IMAPHost: host, IMAPPort: port, UseTLS: false}

	start := time.Now()
	_, err = dial(context.Background(), account, 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Less(t, time.Since(start), time.Second)
}
