package session

import (
	"fmt"
	"sync"

	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
)

// Gate admits at most one mutating operation per session. A second caller is
// turned away with ErrBusy instead of being queued; reads never touch the gate.
type Gate struct {
	mu       sync.Mutex
	inflight map[string]string
}

// NewGate returns an empty gate.
func NewGate() *Gate {
	return &Gate{inflight: make(map[string]string)}
}

// Acquire claims the session for op. The returned release func must be
// called exactly once when the operation finishes.
func (g *Gate) Acquire(sessionID, op string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if current, busy := g.inflight[sessionID]; busy {
		return nil, fmt.Errorf("%w: %s in progress", session.ErrBusy, current)
	}
	g.inflight[sessionID] = op

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inflight, sessionID)
			g.mu.Unlock()
		})
	}, nil
}
