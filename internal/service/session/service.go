package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/agent-salon/backend/internal/model/agent"
	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
	"github.com/zhouzirui/agent-salon/backend/internal/service/events"
	"github.com/zhouzirui/agent-salon/backend/internal/store"
)

// Publisher receives events for committed mutations.
type Publisher interface {
	Publish(evts ...events.Event)
}

// Config holds service defaults.
type Config struct {
	DefaultMaxTurns int
	InjectRounds    int
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher sets the event sink for committed mutations.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l.With("component", "session")
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service drives session lifecycles. It is the only writer of session status
// and turns; everything else reads snapshots.
type Service struct {
	store     store.Store
	agents    agent.Store
	responder Responder
	publisher Publisher
	gate      *Gate
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	controllers map[string]*controller
}

// NewService wires the session core. responder may be nil when prompt
// injection is not available; InjectPrompt then fails UpstreamUnavailable.
func NewService(st store.Store, agents agent.Store, responder Responder, cfg Config, opts ...Option) *Service {
	if cfg.DefaultMaxTurns <= 0 {
		cfg.DefaultMaxTurns = 10
	}
	if cfg.InjectRounds <= 0 {
		cfg.InjectRounds = 1
	}

	s := &Service{
		store:       st,
		agents:      agents,
		responder:   responder,
		gate:        NewGate(),
		cfg:         cfg,
		logger:      slog.Default().With("component", "session"),
		now:         func() time.Time { return time.Now().UTC() },
		controllers: make(map[string]*controller),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultMaxTurns is applied by callers when a create request omits maxTurns.
func (s *Service) DefaultMaxTurns() int {
	return s.cfg.DefaultMaxTurns
}

// CreateParams describes a new session.
type CreateParams struct {
	Topic    string
	AgentIDs []string
	MaxTurns int
}

// CreateSession provisions an ACTIVE session with an empty ledger.
func (s *Service) CreateSession(ctx context.Context, params CreateParams) (session.Session, error) {
	if params.MaxTurns <= 0 {
		return session.Session{}, fmt.Errorf("%w: maxTurns must be positive", session.ErrInvalidInput)
	}
	agentIDs, err := s.validateAgents(params.AgentIDs)
	if err != nil {
		return session.Session{}, err
	}

	topic := strings.TrimSpace(params.Topic)
	if topic == "" {
		topic = session.DefaultTopic
	}

	now := s.now()
	created := &session.Session{
		ID:        uuid.NewString(),
		Topic:     topic,
		AgentIDs:  agentIDs,
		MaxTurns:  params.MaxTurns,
		Status:    session.StatusActive,
		Turns:     []session.Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	c, err := newController(created)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.store.CreateSession(ctx, created); err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}

	s.mu.Lock()
	s.controllers[created.ID] = c
	s.mu.Unlock()

	s.logger.Info("session created", "session_id", created.ID, "agents", len(agentIDs), "max_turns", params.MaxTurns)
	return c.snapshot(), nil
}

func (s *Service) validateAgents(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one agent is required", session.ErrInvalidInput)
	}

	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, fmt.Errorf("%w: agent id is empty", session.ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: agent %s listed twice", session.ErrInvalidInput, id)
		}
		if s.agents != nil {
			if _, ok := s.agents.FindByID(id); !ok {
				return nil, fmt.Errorf("%w: unknown agent %s", session.ErrInvalidInput, id)
			}
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// GetSession returns the last committed snapshot. It never waits for an
// in-flight mutation.
func (s *Service) GetSession(ctx context.Context, id string) (session.Session, error) {
	c, err := s.controllerFor(ctx, id)
	if err != nil {
		return session.Session{}, err
	}
	return c.snapshot(), nil
}

// ListSessions returns stored sessions newest first.
func (s *Service) ListSessions(ctx context.Context, limit int) ([]session.Session, error) {
	stored, err := s.store.ListSessions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]session.Session, 0, len(stored))
	for _, st := range stored {
		s.mu.Lock()
		c, ok := s.controllers[st.ID]
		s.mu.Unlock()
		if ok {
			out = append(out, c.snapshot())
			continue
		}
		out = append(out, *st)
	}
	return out, nil
}

// Start resumes a STOPPED session.
func (s *Service) Start(ctx context.Context, id string) (session.Session, error) {
	return s.mutate(ctx, id, opStart, func(_ *controller, cur *state) (*state, []session.Turn, error) {
		next, err := cur.start(s.now())
		return next, nil, err
	})
}

// Stop pauses an ACTIVE session.
func (s *Service) Stop(ctx context.Context, id string) (session.Session, error) {
	return s.mutate(ctx, id, opStop, func(_ *controller, cur *state) (*state, []session.Turn, error) {
		next, err := cur.stop(s.now())
		return next, nil, err
	})
}

// AdvanceTurn records a turn produced outside the service.
func (s *Service) AdvanceTurn(ctx context.Context, id, agentID, content string) (session.Session, error) {
	content, err := validateContent(content)
	if err != nil {
		return session.Session{}, err
	}

	return s.mutate(ctx, id, opAdvance, func(c *controller, cur *state) (*state, []session.Turn, error) {
		if !c.hasAgent(agentID) {
			return nil, nil, fmt.Errorf("%w: agent %s is not part of the session", session.ErrInvalidInput, agentID)
		}
		next, turn, err := cur.advance(agentID, content, "", s.now())
		if err != nil {
			return nil, nil, err
		}
		return next, []session.Turn{turn}, nil
	})
}

// InjectPrompt asks the selected responders to answer an operator prompt.
// Generated turns are staged and committed together; if any responder fails
// nothing is committed.
func (s *Service) InjectPrompt(ctx context.Context, id, text string, sel ResponderSelection) (session.Session, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return session.Session{}, fmt.Errorf("%w: prompt is required", session.ErrInvalidInput)
	}

	return s.mutate(ctx, id, opInject, func(c *controller, cur *state) (*state, []session.Turn, error) {
		switch {
		case cur.status.Terminal() || cur.ledger.Full():
			return nil, nil, fmt.Errorf("%w: max turns reached", session.ErrCapacityExceeded)
		case cur.status != session.StatusActive:
			return nil, nil, fmt.Errorf("%w: session is not active", session.ErrInvalidInput)
		}

		responders, err := s.selectResponders(c, sel.AgentIDs)
		if err != nil {
			return nil, nil, err
		}
		if s.responder == nil {
			return nil, nil, fmt.Errorf("%w: no responder configured", session.ErrUpstreamUnavailable)
		}

		rounds := sel.Rounds
		if rounds <= 0 {
			rounds = s.cfg.InjectRounds
		}

		participants := s.profiles(c.agentIDs)
		next := cur
		var staged []session.Turn
		pending := text

	conversation:
		for round := 0; round < rounds; round++ {
			for _, profile := range responders {
				if next.ledger.Full() {
					break conversation
				}

				reply, err := s.responder.Respond(ctx, ResponseRequest{
					SessionID:    c.id,
					Topic:        c.topic,
					Agent:        profile,
					Participants: participants,
					History:      next.ledger.Turns(),
					Prompt:       pending,
				})
				if err != nil {
					return nil, nil, classifyUpstream(ctx, profile.ID, err)
				}

				content, concluded := stripConclusion(reply)
				if content == "" && concluded {
					s.logger.Info("agent concluded conversation", "session_id", c.id, "agent_id", profile.ID)
					break conversation
				}
				if content == "" {
					return nil, nil, fmt.Errorf("%w: agent %s returned an empty response", session.ErrUpstreamUnavailable, profile.ID)
				}

				var turn session.Turn
				next, turn, err = next.advance(profile.ID, content, text, s.now())
				if err != nil {
					return nil, nil, err
				}
				staged = append(staged, turn)

				if pending != "" {
					pending = ""
					text = ""
				}
				if concluded {
					s.logger.Info("agent concluded conversation", "session_id", c.id, "agent_id", profile.ID)
					break conversation
				}
			}
		}
		return next, staged, nil
	})
}

func (s *Service) selectResponders(c *controller, requested []string) ([]agent.Profile, error) {
	if len(requested) == 0 {
		return s.profiles(c.agentIDs), nil
	}
	for _, id := range requested {
		if !c.hasAgent(id) {
			return nil, fmt.Errorf("%w: agent %s is not part of the session", session.ErrInvalidInput, id)
		}
	}
	return s.profiles(requested), nil
}

// profiles resolves roster entries; ids no longer in the roster get a bare
// profile so the session stays usable.
func (s *Service) profiles(ids []string) []agent.Profile {
	out := make([]agent.Profile, 0, len(ids))
	for _, id := range ids {
		if s.agents != nil {
			if p, ok := s.agents.FindByID(id); ok {
				out = append(out, p)
				continue
			}
		}
		out = append(out, agent.Profile{ID: id, Name: id})
	}
	return out
}

func classifyUpstream(ctx context.Context, agentID string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("agent %s: %w", agentID, ctxErr)
	}
	if errors.Is(err, session.ErrUpstreamUnavailable) {
		return fmt.Errorf("agent %s: %w", agentID, err)
	}
	return fmt.Errorf("%w: agent %s: %v", session.ErrUpstreamUnavailable, agentID, err)
}

type mutation func(c *controller, cur *state) (*state, []session.Turn, error)

// mutate runs fn under the session's gate, persists its result and only then
// publishes it to readers. A failure at any step leaves the session as it was.
func (s *Service) mutate(ctx context.Context, id, op string, fn mutation) (session.Session, error) {
	c, err := s.controllerFor(ctx, id)
	if err != nil {
		return session.Session{}, err
	}

	release, err := s.gate.Acquire(id, op)
	if err != nil {
		s.logger.Debug("mutation rejected", "session_id", id, "op", op, "error", err)
		return session.Session{}, err
	}
	defer release()

	cur := c.load()
	next, added, err := fn(c, cur)
	if err != nil {
		s.logger.Warn("mutation failed", "session_id", id, "op", op, "error", err)
		return session.Session{}, err
	}

	if err := s.persist(ctx, id, cur, next, added); err != nil {
		s.logger.Error("persisting mutation failed", "session_id", id, "op", op, "error", err)
		return session.Session{}, fmt.Errorf("%s session: %w", op, err)
	}
	c.current.Store(next)

	s.logger.Info("session updated", "session_id", id, "op", op, "status", next.status, "turns", next.ledger.Len(), "added", len(added))
	s.publish(id, cur, next, added)
	return c.render(next), nil
}

func (s *Service) persist(ctx context.Context, id string, cur, next *state, added []session.Turn) error {
	if len(added) > 0 {
		return s.store.AppendTurns(ctx, id, added, next.status, next.updatedAt)
	}
	if next.status != cur.status {
		return s.store.UpdateStatus(ctx, id, next.status, next.updatedAt)
	}
	return nil
}

func (s *Service) publish(id string, cur, next *state, added []session.Turn) {
	if s.publisher == nil {
		return
	}

	evts := make([]events.Event, 0, len(added)+1)
	for i := range added {
		turn := added[i]
		evts = append(evts, events.Event{
			Type:      events.TypeTurn,
			SessionID: id,
			Status:    next.status,
			Turn:      &turn,
			Timestamp: turn.CreatedAt,
		})
	}
	if next.status != cur.status {
		evts = append(evts, events.Event{
			Type:      events.TypeStatus,
			SessionID: id,
			Status:    next.status,
			Timestamp: next.updatedAt,
		})
	}
	s.publisher.Publish(evts...)
}

// controllerFor returns the cached controller or loads it from the store.
func (s *Service) controllerFor(ctx context.Context, id string) (*controller, error) {
	s.mu.Lock()
	c, ok := s.controllers[id]
	s.mu.Unlock()
	if ok {
		return c, nil
	}

	stored, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	loaded, err := newController(stored)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.controllers[id]; ok {
		return c, nil
	}
	s.controllers[id] = loaded
	return loaded, nil
}
