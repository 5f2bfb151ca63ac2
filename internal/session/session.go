// Package session tracks per-user viewing state: which channel relays a
// user currently holds, serialized by a per-user lock and expired when
// the user goes idle.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tvgate/tvgate/internal/config"
	"github.com/tvgate/tvgate/internal/observability"
	"github.com/tvgate/tvgate/internal/relay"
)

// Session is the state for one user identity. All fields behind mu are
// only touched inside Table.WithSession, which holds the lock.
type Session struct {
	user string

	mu       sync.Mutex
	relays   map[string]*relay.Relay
	deadline time.Time

	// expired is set by the reaper after removal from the table. A
	// caller that raced the reaper sees it under the lock and retries
	// with a fresh session instead of using a dead one.
	expired bool
}

// User returns the session's user identity.
func (s *Session) User() string { return s.user }

// ResolveRelay returns the session's relay for the channel, creating it
// with create on first use. Must only be called from inside
// Table.WithSession.
func (s *Session) ResolveRelay(channelID string, create func() *relay.Relay) *relay.Relay {
	if r, ok := s.relays[channelID]; ok {
		return r
	}
	r := create()
	s.relays[channelID] = r
	return r
}

// RelayCount returns the number of channel relays the session holds.
// Must only be called from inside Table.WithSession.
func (s *Session) RelayCount() int { return len(s.relays) }

// Info is a point-in-time view of one session for the status API.
type Info struct {
	User     string    `json:"user"`
	Relays   int       `json:"relays"`
	IdleFrom time.Time `json:"idle_from"`
}

// Table is the process-wide user -> session map. Sessions are created
// lazily on first access and removed by the reaper after the idle
// timeout.
type Table struct {
	cfg    config.SessionConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewTable creates an empty session table.
func NewTable(cfg config.SessionConfig, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		cfg:      cfg,
		logger:   observability.WithComponent(logger, "session"),
		sessions: make(map[string]*Session),
	}
}

func (t *Table) getOrCreate(user string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[user]
	if !ok {
		s = &Session{user: user, relays: make(map[string]*relay.Relay)}
		t.sessions[user] = s
		t.logger.Debug("session created", slog.String("user", user))
	}
	return s
}

// WithSession runs fn with the user's session locked. The session's
// idle deadline is pushed out first, so any access defers expiry. If
// the session was reaped between lookup and lock the call retries with
// a fresh one, so fn never runs on a session that has left the table.
func (t *Table) WithSession(user string, fn func(*Session) error) error {
	for {
		s := t.getOrCreate(user)

		s.mu.Lock()
		if s.expired {
			s.mu.Unlock()
			continue
		}
		s.deadline = time.Now().Add(t.cfg.IdleTimeout)
		err := fn(s)
		s.mu.Unlock()
		return err
	}
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Snapshot returns a view of all live sessions for the status API.
func (t *Table) Snapshot() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Info, 0, len(t.sessions))
	for _, s := range t.sessions {
		s.mu.Lock()
		out = append(out, Info{User: s.user, Relays: len(s.relays), IdleFrom: s.deadline.Add(-t.cfg.IdleTimeout)})
		s.mu.Unlock()
	}
	return out
}

// reap removes sessions whose idle deadline has passed. In-flight
// client exchanges keep streaming through their relay; expiry only
// drops the session's relay reuse state.
func (t *Table) reap(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for user, s := range t.sessions {
		s.mu.Lock()
		if now.After(s.deadline) {
			s.expired = true
			delete(t.sessions, user)
			t.logger.Debug("session expired",
				slog.String("user", user),
				slog.Int("relays", len(s.relays)))
		}
		s.mu.Unlock()
	}
}

// Run sweeps the table on the configured interval until ctx is
// cancelled.
func (t *Table) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.reap(now)
		}
	}
}
