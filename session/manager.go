package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager keeps one Machine per browser identity and evicts idle ones.
type Manager struct {
	restorer Restorer
	opts     Options
	ttl      time.Duration
	logger   *zap.Logger

	// OnCountChange observes the number of live sessions.
	OnCountChange func(n int)

	mu       sync.RWMutex
	sessions map[string]*Machine
}

// NewManager creates a manager whose machines share restorer and opts.
func NewManager(restorer Restorer, opts Options, ttl time.Duration) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		restorer: restorer,
		opts:     opts,
		ttl:      ttl,
		logger:   opts.Logger,
		sessions: make(map[string]*Machine),
	}
}

// Get returns the session for id, creating an Idle one on first use. The
// session is touched while the manager lock is held, so a concurrent Sweep
// either evicts it before Get sees it or finds it freshly active.
func (m *Manager) Get(id string) *Machine {
	m.mu.RLock()
	machine, ok := m.sessions[id]
	if ok {
		machine.Touch()
	}
	m.mu.RUnlock()
	if ok {
		return machine
	}

	m.mu.Lock()
	if machine, ok = m.sessions[id]; !ok {
		machine = NewMachine(id, m.restorer, m.opts)
		m.sessions[id] = machine
		m.logger.Info("Session created", zap.String("session_id", id))
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		m.countChanged(n)
	}
	return machine
}

// Lookup returns an existing session without creating one.
func (m *Manager) Lookup(id string) (*Machine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	machine, ok := m.sessions[id]
	return machine, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Remove closes and forgets a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	machine, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if ok {
		machine.Close()
		m.countChanged(n)
	}
}

// Sweep closes sessions idle for longer than the TTL. Sessions with a
// request in flight are kept until it resolves.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var expired []*Machine
	for id, machine := range m.sessions {
		if machine.Status() == StatusInFlight {
			continue
		}
		if now.Sub(machine.LastActive()) > m.ttl {
			expired = append(expired, machine)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, machine := range expired {
		machine.Close()
		m.logger.Info("Session expired", zap.String("session_id", machine.ID()))
	}
	if len(expired) > 0 {
		m.countChanged(n)
	}
	return len(expired)
}

// StartSweeper runs Sweep every interval until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("Session sweeper started", zap.Duration("interval", interval), zap.Duration("ttl", m.ttl))

		for {
			select {
			case now := <-ticker.C:
				if n := m.Sweep(now); n > 0 {
					m.logger.Info("Session sweep completed", zap.Int("expired", n))
				}
			case <-ctx.Done():
				m.logger.Info("Session sweeper shutting down", zap.Error(ctx.Err()))
				return
			}
		}
	}()
}

// CloseAll closes every session, abandoning in-flight calls.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Machine)
	m.mu.Unlock()

	for _, machine := range sessions {
		machine.Close()
	}
	m.countChanged(0)
}

func (m *Manager) countChanged(n int) {
	if m.OnCountChange != nil {
		m.OnCountChange(n)
	}
}
