package session

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
)

// Mutating operation names, reported by the gate while in flight.
const (
	opStart   = "start"
	opStop    = "stop"
	opInject  = "inject"
	opAdvance = "advance"
)

// state is one committed version of a session's mutable part. A state is
// never modified after it has been published through controller.current.
type state struct {
	status    session.Status
	ledger    session.Ledger
	updatedAt time.Time
}

// start moves STOPPED -> ACTIVE.
func (s *state) start(now time.Time) (*state, error) {
	if s.status != session.StatusStopped {
		return nil, fmt.Errorf("%w: cannot start a %s session", session.ErrInvalidTransition, s.status)
	}
	return &state{status: session.StatusActive, ledger: s.ledger, updatedAt: now}, nil
}

// stop moves ACTIVE -> STOPPED.
func (s *state) stop(now time.Time) (*state, error) {
	if s.status != session.StatusActive {
		return nil, fmt.Errorf("%w: cannot stop a %s session", session.ErrInvalidTransition, s.status)
	}
	return &state{status: session.StatusStopped, ledger: s.ledger, updatedAt: now}, nil
}

// advance appends one turn. The append that fills the ledger also moves the
// session to COMPLETED in the same returned state.
func (s *state) advance(agentID, content, prompt string, now time.Time) (*state, session.Turn, error) {
	switch {
	case s.status == session.StatusActive:
	case s.status.Terminal():
		return nil, session.Turn{}, fmt.Errorf("%w: session is completed", session.ErrCapacityExceeded)
	default:
		return nil, session.Turn{}, fmt.Errorf("%w: cannot add turns to a %s session", session.ErrInvalidTransition, s.status)
	}

	ledger, turn, err := s.ledger.Append(agentID, content, prompt, now)
	if err != nil {
		return nil, session.Turn{}, err
	}

	status := session.StatusActive
	if ledger.Full() {
		status = session.StatusCompleted
	}
	return &state{status: status, ledger: ledger, updatedAt: now}, turn, nil
}

// controller owns the lifecycle of one session. Writers are serialized by the
// Gate; readers load the current state without locking.
type controller struct {
	id        string
	topic     string
	agentIDs  []string
	createdAt time.Time

	current atomic.Pointer[state]
}

func newController(s *session.Session) (*controller, error) {
	if !s.Status.Valid() {
		return nil, fmt.Errorf("session %s has unknown status %q", s.ID, s.Status)
	}
	ledger, err := session.NewLedger(s.MaxTurns, s.Turns)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", s.ID, err)
	}
	if s.Status == session.StatusCompleted && !ledger.Full() {
		return nil, fmt.Errorf("session %s is completed with %d of %d turns", s.ID, ledger.Len(), ledger.Max())
	}

	c := &controller{
		id:        s.ID,
		topic:     s.Topic,
		agentIDs:  append([]string(nil), s.AgentIDs...),
		createdAt: s.CreatedAt,
	}
	c.current.Store(&state{status: s.Status, ledger: ledger, updatedAt: s.UpdatedAt})
	return c, nil
}

func (c *controller) load() *state {
	return c.current.Load()
}

func (c *controller) hasAgent(agentID string) bool {
	return slices.Contains(c.agentIDs, agentID)
}

// snapshot renders the last committed state.
func (c *controller) snapshot() session.Session {
	return c.render(c.load())
}

func (c *controller) render(st *state) session.Session {
	return session.Session{
		ID:        c.id,
		Topic:     c.topic,
		AgentIDs:  append([]string(nil), c.agentIDs...),
		MaxTurns:  st.ledger.Max(),
		Status:    st.status,
		Turns:     st.ledger.Turns(),
		CreatedAt: c.createdAt,
		UpdatedAt: st.updatedAt,
	}
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: turn content is empty", session.ErrInvalidInput)
	}
	return content, nil
}
