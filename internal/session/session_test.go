package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvgate/tvgate/internal/config"
	"github.com/tvgate/tvgate/internal/relay"
)

func newTable(idle time.Duration) *Table {
	return NewTable(config.SessionConfig{IdleTimeout: idle, ReapInterval: time.Millisecond}, nil)
}

func TestWithSessionCreatesLazily(t *testing.T) {
	tbl := newTable(time.Minute)
	assert.Equal(t, 0, tbl.Len())

	err := tbl.WithSession("alice", func(s *Session) error {
		assert.Equal(t, "alice", s.User())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Len())

	// Same user maps to the same session.
	var first, second *Session
	_ = tbl.WithSession("alice", func(s *Session) error { first = s; return nil })
	_ = tbl.WithSession("alice", func(s *Session) error { second = s; return nil })
	assert.Same(t, first, second)
}

func TestResolveRelayReusesExisting(t *testing.T) {
	tbl := newTable(time.Minute)

	var created int
	var got []*relay.Relay
	for i := 0; i < 3; i++ {
		_ = tbl.WithSession("alice", func(s *Session) error {
			r := s.ResolveRelay("chan-1", func() *relay.Relay {
				created++
				return &relay.Relay{}
			})
			got = append(got, r)
			return nil
		})
	}

	assert.Equal(t, 1, created)
	assert.Same(t, got[0], got[1])
	assert.Same(t, got[1], got[2])
}

func TestResolveRelayPerChannel(t *testing.T) {
	tbl := newTable(time.Minute)

	_ = tbl.WithSession("alice", func(s *Session) error {
		a := s.ResolveRelay("chan-a", func() *relay.Relay { return &relay.Relay{} })
		b := s.ResolveRelay("chan-b", func() *relay.Relay { return &relay.Relay{} })
		assert.NotSame(t, a, b)
		assert.Equal(t, 2, s.RelayCount())
		return nil
	})
}

func TestConcurrentSameChannelCreatesOneRelay(t *testing.T) {
	tbl := newTable(time.Minute)

	var mu sync.Mutex
	created := 0
	seen := make(map[*relay.Relay]bool)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tbl.WithSession("alice", func(s *Session) error {
				r := s.ResolveRelay("chan-1", func() *relay.Relay {
					mu.Lock()
					created++
					mu.Unlock()
					return &relay.Relay{}
				})
				mu.Lock()
				seen[r] = true
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, seen, 1)
}

func TestReapRemovesIdleSessions(t *testing.T) {
	tbl := newTable(10 * time.Millisecond)

	_ = tbl.WithSession("alice", func(s *Session) error { return nil })
	require.Equal(t, 1, tbl.Len())

	tbl.reap(time.Now().Add(time.Second))
	assert.Equal(t, 0, tbl.Len())
}

func TestReapSkipsActiveSessions(t *testing.T) {
	tbl := newTable(time.Minute)

	_ = tbl.WithSession("alice", func(s *Session) error { return nil })
	tbl.reap(time.Now())
	assert.Equal(t, 1, tbl.Len())
}

func TestAccessAfterReapGetsFreshSession(t *testing.T) {
	tbl := newTable(10 * time.Millisecond)

	var first *Session
	_ = tbl.WithSession("alice", func(s *Session) error {
		first = s
		s.ResolveRelay("chan-1", func() *relay.Relay { return &relay.Relay{} })
		return nil
	})

	tbl.reap(time.Now().Add(time.Second))

	_ = tbl.WithSession("alice", func(s *Session) error {
		assert.NotSame(t, first, s)
		assert.Equal(t, 0, s.RelayCount())
		return nil
	})
}

func TestExpiredSessionNeverReused(t *testing.T) {
	// Mark a session expired by hand to model the reaper winning the
	// race between lookup and lock; WithSession must retry and hand out
	// a live one.
	tbl := newTable(time.Minute)

	var stale *Session
	_ = tbl.WithSession("alice", func(s *Session) error { stale = s; return nil })

	tbl.mu.Lock()
	stale.expired = true
	delete(tbl.sessions, "alice")
	tbl.mu.Unlock()

	_ = tbl.WithSession("alice", func(s *Session) error {
		assert.NotSame(t, stale, s)
		assert.False(t, s.expired)
		return nil
	})
}

func TestSnapshot(t *testing.T) {
	tbl := newTable(time.Minute)

	_ = tbl.WithSession("alice", func(s *Session) error {
		s.ResolveRelay("chan-1", func() *relay.Relay { return &relay.Relay{} })
		return nil
	})
	_ = tbl.WithSession("bob", func(s *Session) error { return nil })

	infos := tbl.Snapshot()
	require.Len(t, infos, 2)

	byUser := make(map[string]Info)
	for _, info := range infos {
		byUser[info.User] = info
	}
	assert.Equal(t, 1, byUser["alice"].Relays)
	assert.Equal(t, 0, byUser["bob"].Relays)
}
