package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emersion/go-imap/client"
)

// pooledSession is one live IMAP connection bound to an account.
type pooledSession struct {
	client    *client.Client
	accountID int

	mu       sync.Mutex
	lastUsed time.Time
	broken   bool
}

// touch records a successful round trip.
func (s *pooledSession) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// markBroken flags the session for redial on next acquire.
func (s *pooledSession) markBroken() {
	s.mu.Lock()
	s.broken = true
	s.mu.Unlock()
}

func (s *pooledSession) isFresh(window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.broken && time.Since(s.lastUsed) < window
}

func (s *pooledSession) isBroken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken
}

// ConnectionPool keeps at most one IMAP session per account and serializes
// use of each session. IMAP connections are stateful (selected mailbox,
// command pipeline), so concurrent executions against the same account
// queue on the per-account lock rather than share the wire.
type ConnectionPool struct {
	connectTimeout  time.Duration
	healthFreshness time.Duration
	acquireTimeout  time.Duration
	logger          *slog.Logger

	mu       sync.Mutex
	sessions map[int]*pooledSession
	locks    map[int]chan struct{} // per-account binary semaphore
}

// PoolConfig carries the pool tunables.
type PoolConfig struct {
	ConnectTimeout  time.Duration
	HealthFreshness time.Duration
	AcquireTimeout  time.Duration
}

// NewConnectionPool creates an empty pool.
func NewConnectionPool(config PoolConfig, logger *slog.Logger) *ConnectionPool {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.HealthFreshness == 0 {
		config.HealthFreshness = 60 * time.Second
	}
	if config.AcquireTimeout == 0 {
		config.AcquireTimeout = 60 * time.Second
	}
	return &ConnectionPool{
		connectTimeout:  config.ConnectTimeout,
		healthFreshness: config.HealthFreshness,
		acquireTimeout:  config.AcquireTimeout,
		logger:          logger.With("component", "imap_pool"),
		sessions:        make(map[int]*pooledSession),
		locks:           make(map[int]chan struct{}),
	}
}

// Acquire returns a healthy session for the account along with a release
// func. Blocks until the per-account lock is free, the acquire timeout
// elapses, or the context is cancelled.
func (p *ConnectionPool) Acquire(ctx context.Context, account Account) (*pooledSession, func(), error) {
	lock := p.accountLock(account.ID)

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("%w: acquire for account %d: %v", ErrConnection, account.ID, ctx.Err())
	case <-time.After(p.acquireTimeout):
		return nil, nil, fmt.Errorf("%w: acquire for account %d: timeout after %v", ErrConnection, account.ID, p.acquireTimeout)
	}

	session, err := p.sessionLocked(ctx, account)
	if err != nil {
		<-lock
		return nil, nil, err
	}

	release := func() { <-lock }
	return session, release, nil
}

// EnsureHealthy verifies the account's session responds, redialing a stale
// or broken one. A session used within the freshness window is trusted
// without a round trip.
func (p *ConnectionPool) EnsureHealthy(ctx context.Context, account Account) error {
	session, release, err := p.Acquire(ctx, account)
	if err != nil {
		return err
	}
	defer release()

	if session.isFresh(p.healthFreshness) {
		return nil
	}
	if err := session.client.Noop(); err != nil {
		session.markBroken()
		return fmt.Errorf("%w: noop for account %d: %v", ErrConnection, account.ID, err)
	}
	session.touch()
	return nil
}

// Release drops the account's session, logging out best-effort.
func (p *ConnectionPool) Release(accountID int) {
	p.mu.Lock()
	session := p.sessions[accountID]
	delete(p.sessions, accountID)
	p.mu.Unlock()

	if session != nil {
		if err := session.client.Logout(); err != nil {
			p.logger.Debug("Logout failed", "account_id", accountID, "error", err)
		}
	}
}

// CloseAll releases every session. Called on shutdown.
func (p *ConnectionPool) CloseAll() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[int]*pooledSession)
	p.mu.Unlock()

	for id, session := range sessions {
		if err := session.client.Logout(); err != nil {
			p.logger.Debug("Logout failed", "account_id", id, "error", err)
		}
	}
}

// accountLock returns the binary semaphore for one account.
func (p *ConnectionPool) accountLock(accountID int) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[accountID]
	if !ok {
		lock = make(chan struct{}, 1)
		p.locks[accountID] = lock
	}
	return lock
}

// sessionLocked returns the cached session or dials a new one. The caller
// must hold the account lock.
func (p *ConnectionPool) sessionLocked(ctx context.Context, account Account) (*pooledSession, error) {
	p.mu.Lock()
	session := p.sessions[account.ID]
	p.mu.Unlock()

	if session != nil {
		if session.isFresh(p.healthFreshness) {
			return session, nil
		}
		// Stale or broken: probe before trusting it.
		if !session.isBroken() {
			if err := session.client.Noop(); err == nil {
				session.touch()
				return session, nil
			}
		}
		p.logger.Info("Redialing stale session", "account_id", account.ID)
		session.client.Logout()
		p.mu.Lock()
		delete(p.sessions, account.ID)
		p.mu.Unlock()
	}

	c, err := dial(ctx, account, p.connectTimeout)
	if err != nil {
		return nil, err
	}
	if err := authenticate(c, account); err != nil {
		c.Logout()
		return nil, err
	}

	session = &pooledSession{client: c, accountID: account.ID, lastUsed: time.Now()}
	p.mu.Lock()
	p.sessions[account.ID] = session
	p.mu.Unlock()

	p.logger.Info("Opened IMAP session", "account_id", account.ID, "host", account.IMAPHost)
	return session, nil
}
