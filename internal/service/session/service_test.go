package session_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agent-salon/backend/internal/model/agent"
	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
	"github.com/zhouzirui/agent-salon/backend/internal/service/events"
	sessionsvc "github.com/zhouzirui/agent-salon/backend/internal/service/session"
	"github.com/zhouzirui/agent-salon/backend/internal/store"
)

var testRoster = []agent.Profile{
	{ID: "a", Name: "Alice", Provider: agent.ProviderMock},
	{ID: "b", Name: "Bob", Provider: agent.ProviderMock},
	{ID: "c", Name: "Carol", Provider: agent.ProviderMock},
}

type scriptedResponder struct {
	mu    sync.Mutex
	calls []sessionsvc.ResponseRequest
	reply func(req sessionsvc.ResponseRequest, call int) (string, error)
}

func (r *scriptedResponder) Respond(_ context.Context, req sessionsvc.ResponseRequest) (string, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	call := len(r.calls)
	r.mu.Unlock()

	if r.reply == nil {
		return fmt.Sprintf("%s says %d", req.Agent.ID, call), nil
	}
	return r.reply(req, call)
}

func (r *scriptedResponder) requests() []sessionsvc.ResponseRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sessionsvc.ResponseRequest(nil), r.calls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(evts ...events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
}

func (p *recordingPublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

func newService(t *testing.T, st store.Store, responder sessionsvc.Responder, opts ...sessionsvc.Option) *sessionsvc.Service {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	return sessionsvc.NewService(st, agent.NewMemoryStore(testRoster), responder, sessionsvc.Config{DefaultMaxTurns: 10, InjectRounds: 1}, opts...)
}

func createSession(t *testing.T, svc *sessionsvc.Service, maxTurns int, agents ...string) session.Session {
	t.Helper()
	if len(agents) == 0 {
		agents = []string{"a", "b"}
	}
	s, err := svc.CreateSession(context.Background(), sessionsvc.CreateParams{Topic: "testing", AgentIDs: agents, MaxTurns: maxTurns})
	require.NoError(t, err)
	return s
}

func assertSequences(t *testing.T, s session.Session) {
	t.Helper()
	require.LessOrEqual(t, len(s.Turns), s.MaxTurns)
	for i, turn := range s.Turns {
		assert.Equal(t, i+1, turn.Sequence)
	}
}

func TestCreateSessionDefaultsAndValidation(t *testing.T) {
	svc := newService(t, nil, nil)
	ctx := context.Background()

	s, err := svc.CreateSession(ctx, sessionsvc.CreateParams{AgentIDs: []string{"a"}, MaxTurns: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, session.DefaultTopic, s.Topic)
	assert.Equal(t, session.StatusActive, s.Status)
	assert.Empty(t, s.Turns)

	cases := []sessionsvc.CreateParams{
		{AgentIDs: []string{"a"}, MaxTurns: 0},
		{AgentIDs: []string{"a"}, MaxTurns: -1},
		{AgentIDs: nil, MaxTurns: 3},
		{AgentIDs: []string{"a", "a"}, MaxTurns: 3},
		{AgentIDs: []string{"zed"}, MaxTurns: 3},
	}
	for _, params := range cases {
		_, err := svc.CreateSession(ctx, params)
		assert.ErrorIs(t, err, session.ErrInvalidInput, "%+v", params)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	svc := newService(t, nil, nil)
	_, err := svc.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = svc.Stop(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestStartStopTransitions(t *testing.T) {
	svc := newService(t, nil, nil)
	ctx := context.Background()
	s := createSession(t, svc, 3)

	_, err := svc.Start(ctx, s.ID)
	assert.ErrorIs(t, err, session.ErrInvalidTransition)

	stopped, err := svc.Stop(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusStopped, stopped.Status)

	_, err = svc.Stop(ctx, s.ID)
	assert.ErrorIs(t, err, session.ErrInvalidTransition)

	_, err = svc.AdvanceTurn(ctx, s.ID, "a", "hello")
	assert.ErrorIs(t, err, session.ErrInvalidTransition)

	started, err := svc.Start(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, started.Status)
}

func TestAdvanceToCompletion(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newService(t, nil, nil, sessionsvc.WithPublisher(pub))
	ctx := context.Background()
	s := createSession(t, svc, 3)

	var err error
	for i, id := range []string{"a", "b", "a"} {
		s, err = svc.AdvanceTurn(ctx, s.ID, id, fmt.Sprintf("turn %d", i+1))
		require.NoError(t, err)
	}
	assert.Equal(t, session.StatusCompleted, s.Status)
	assert.Len(t, s.Turns, 3)
	assertSequences(t, s)

	_, err = svc.Start(ctx, s.ID)
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
	_, err = svc.Stop(ctx, s.ID)
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
	_, err = svc.AdvanceTurn(ctx, s.ID, "b", "one more")
	assert.ErrorIs(t, err, session.ErrCapacityExceeded)
	_, err = svc.InjectPrompt(ctx, s.ID, "anyone?", sessionsvc.ResponderSelection{})
	assert.ErrorIs(t, err, session.ErrCapacityExceeded)

	evts := pub.all()
	require.Len(t, evts, 4)
	assert.Equal(t, events.TypeTurn, evts[2].Type)
	assert.Equal(t, events.TypeStatus, evts[3].Type)
	assert.Equal(t, session.StatusCompleted, evts[3].Status)
}

func TestAdvanceTurnValidation(t *testing.T) {
	svc := newService(t, nil, nil)
	ctx := context.Background()
	s := createSession(t, svc, 3)

	_, err := svc.AdvanceTurn(ctx, s.ID, "a", "   ")
	assert.ErrorIs(t, err, session.ErrInvalidInput)
	_, err = svc.AdvanceTurn(ctx, s.ID, "c", "not a member")
	assert.ErrorIs(t, err, session.ErrInvalidInput)

	got, err := svc.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Turns)
}

func TestInjectPromptEmptyLeavesLedgerUnchanged(t *testing.T) {
	responder := &scriptedResponder{}
	svc := newService(t, nil, responder)
	ctx := context.Background()
	s := createSession(t, svc, 5)

	_, err := svc.InjectPrompt(ctx, s.ID, "  \n", sessionsvc.ResponderSelection{})
	assert.ErrorIs(t, err, session.ErrInvalidInput)

	got, err := svc.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Turns)
	assert.Empty(t, responder.requests())
}

func TestInjectPromptOnStoppedSession(t *testing.T) {
	svc := newService(t, nil, &scriptedResponder{})
	ctx := context.Background()
	s := createSession(t, svc, 5)
	_, err := svc.Stop(ctx, s.ID)
	require.NoError(t, err)

	_, err = svc.InjectPrompt(ctx, s.ID, "hello", sessionsvc.ResponderSelection{})
	assert.ErrorIs(t, err, session.ErrInvalidInput)
}

func TestInjectPromptAllAgentsAnswerInOrder(t *testing.T) {
	responder := &scriptedResponder{}
	svc := newService(t, nil, responder)
	ctx := context.Background()
	s := createSession(t, svc, 10, "b", "a")

	got, err := svc.InjectPrompt(ctx, s.ID, "what now?", sessionsvc.ResponderSelection{})
	require.NoError(t, err)
	require.Len(t, got.Turns, 2)
	assertSequences(t, got)
	assert.Equal(t, "b", got.Turns[0].AgentID)
	assert.Equal(t, "a", got.Turns[1].AgentID)
	assert.Equal(t, "what now?", got.Turns[0].Prompt)
	assert.Empty(t, got.Turns[1].Prompt)

	reqs := responder.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "what now?", reqs[0].Prompt)
	assert.Empty(t, reqs[0].History)
	assert.Empty(t, reqs[1].Prompt)
	require.Len(t, reqs[1].History, 1)
	assert.Equal(t, "b", reqs[1].History[0].AgentID)
	assert.Equal(t, "Bob", reqs[0].Agent.Name)
	assert.Len(t, reqs[0].Participants, 2)
}

func TestInjectPromptSelectionAndRounds(t *testing.T) {
	svc := newService(t, nil, &scriptedResponder{})
	ctx := context.Background()
	s := createSession(t, svc, 10, "a", "b", "c")

	got, err := svc.InjectPrompt(ctx, s.ID, "go", sessionsvc.ResponderSelection{AgentIDs: []string{"c", "a"}, Rounds: 2})
	require.NoError(t, err)
	require.Len(t, got.Turns, 4)
	var speakers []string
	for _, turn := range got.Turns {
		speakers = append(speakers, turn.AgentID)
	}
	assert.Equal(t, []string{"c", "a", "c", "a"}, speakers)

	_, err = svc.InjectPrompt(ctx, s.ID, "go", sessionsvc.ResponderSelection{AgentIDs: []string{"zed"}})
	assert.ErrorIs(t, err, session.ErrInvalidInput)
}

func TestInjectPromptStopsWhenLedgerFills(t *testing.T) {
	svc := newService(t, nil, &scriptedResponder{})
	ctx := context.Background()
	s := createSession(t, svc, 3, "a", "b")

	got, err := svc.InjectPrompt(ctx, s.ID, "go", sessionsvc.ResponderSelection{Rounds: 5})
	require.NoError(t, err)
	assert.Len(t, got.Turns, 3)
	assert.Equal(t, session.StatusCompleted, got.Status)
	assertSequences(t, got)
}

func TestInjectPromptConclusionMarker(t *testing.T) {
	responder := &scriptedResponder{
		reply: func(req sessionsvc.ResponseRequest, call int) (string, error) {
			if call == 2 {
				return "We agree. " + sessionsvc.ConclusionMarker, nil
			}
			return "thinking", nil
		},
	}
	svc := newService(t, nil, responder)
	ctx := context.Background()
	s := createSession(t, svc, 10, "a", "b", "c")

	got, err := svc.InjectPrompt(ctx, s.ID, "settle it", sessionsvc.ResponderSelection{Rounds: 3})
	require.NoError(t, err)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, "We agree.", got.Turns[1].Content)
	assert.Equal(t, session.StatusActive, got.Status)
}

func TestInjectPromptMarkerOnlyReplyKeepsEarlierTurns(t *testing.T) {
	responder := &scriptedResponder{
		reply: func(req sessionsvc.ResponseRequest, call int) (string, error) {
			if req.Agent.ID == "b" {
				return sessionsvc.ConclusionMarker, nil
			}
			return "first answer", nil
		},
	}
	svc := newService(t, nil, responder)
	ctx := context.Background()
	s := createSession(t, svc, 10, "a", "b", "c")

	got, err := svc.InjectPrompt(ctx, s.ID, "wrap up", sessionsvc.ResponderSelection{Rounds: 2})
	require.NoError(t, err)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "a", got.Turns[0].AgentID)
	assert.Equal(t, "first answer", got.Turns[0].Content)
	assert.Equal(t, "wrap up", got.Turns[0].Prompt)

	stored, err := svc.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Turns, 1)
}

func TestInjectPromptFailureCommitsNothing(t *testing.T) {
	responder := &scriptedResponder{
		reply: func(req sessionsvc.ResponseRequest, call int) (string, error) {
			if call == 2 {
				return "", errors.New("connection reset")
			}
			return "first", nil
		},
	}
	pub := &recordingPublisher{}
	svc := newService(t, nil, responder, sessionsvc.WithPublisher(pub))
	ctx := context.Background()
	s := createSession(t, svc, 10)

	_, err := svc.InjectPrompt(ctx, s.ID, "hello", sessionsvc.ResponderSelection{})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrUpstreamUnavailable)
	assert.Equal(t, "upstream_unavailable", session.Kind(err))

	got, err := svc.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Turns)
	assert.Empty(t, pub.all())

	// The gate is released after a failure.
	_, err = svc.Stop(ctx, s.ID)
	require.NoError(t, err)
}

func TestInjectPromptEmptyReplyIsUpstreamFailure(t *testing.T) {
	responder := &scriptedResponder{
		reply: func(sessionsvc.ResponseRequest, int) (string, error) { return "  ", nil },
	}
	svc := newService(t, nil, responder)
	s := createSession(t, svc, 10)

	_, err := svc.InjectPrompt(context.Background(), s.ID, "hello", sessionsvc.ResponderSelection{})
	assert.ErrorIs(t, err, session.ErrUpstreamUnavailable)
}

func TestInjectPromptWithoutResponder(t *testing.T) {
	svc := newService(t, nil, nil)
	s := createSession(t, svc, 10)

	_, err := svc.InjectPrompt(context.Background(), s.ID, "hello", sessionsvc.ResponderSelection{})
	assert.ErrorIs(t, err, session.ErrUpstreamUnavailable)
}

type blockingResponder struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingResponder) Respond(ctx context.Context, req sessionsvc.ResponseRequest) (string, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return "reply from " + req.Agent.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestMutationsAreRejectedWhileInjectionIsInFlight(t *testing.T) {
	responder := &blockingResponder{started: make(chan struct{}), release: make(chan struct{})}
	svc := newService(t, nil, responder)
	ctx := context.Background()
	s := createSession(t, svc, 10)

	done := make(chan error, 1)
	go func() {
		_, err := svc.InjectPrompt(ctx, s.ID, "hello", sessionsvc.ResponderSelection{AgentIDs: []string{"a"}})
		done <- err
	}()
	<-responder.started

	_, err := svc.Stop(ctx, s.ID)
	assert.ErrorIs(t, err, session.ErrBusy)
	_, err = svc.AdvanceTurn(ctx, s.ID, "b", "interrupting")
	assert.ErrorIs(t, err, session.ErrBusy)
	_, err = svc.InjectPrompt(ctx, s.ID, "me too", sessionsvc.ResponderSelection{})
	assert.ErrorIs(t, err, session.ErrBusy)

	// Reads see the last committed state without waiting.
	snap, err := svc.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Turns)
	assert.Equal(t, session.StatusActive, snap.Status)

	close(responder.release)
	require.NoError(t, <-done)

	got, err := svc.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "reply from a", got.Turns[0].Content)

	_, err = svc.Stop(ctx, s.ID)
	require.NoError(t, err)
}

func TestConcurrentMutationsNeverExceedCapacity(t *testing.T) {
	svc := newService(t, nil, nil)
	ctx := context.Background()
	s := createSession(t, svc, 5)

	const workers = 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "a"
			if i%2 == 1 {
				id = "b"
			}
			_, err := svc.AdvanceTurn(ctx, s.ID, id, fmt.Sprintf("worker %d", i))
			if err != nil {
				kind := session.Kind(err)
				assert.Contains(t, []string{"busy", "capacity_exceeded"}, kind, err.Error())
			}
		}(i)
	}
	wg.Wait()

	got, err := svc.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assertSequences(t, got)
	if len(got.Turns) == got.MaxTurns {
		assert.Equal(t, session.StatusCompleted, got.Status)
	} else {
		assert.Equal(t, session.StatusActive, got.Status)
	}
}

func TestServiceReloadsFromSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "salon.db")
	ctx := context.Background()

	first, err := store.NewSQLiteStore(path, nil)
	require.NoError(t, err)
	svc := newService(t, first, &scriptedResponder{})
	s := createSession(t, svc, 4)
	_, err = svc.InjectPrompt(ctx, s.ID, "persist me", sessionsvc.ResponderSelection{})
	require.NoError(t, err)
	_, err = svc.Stop(ctx, s.ID)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := store.NewSQLiteStore(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })
	reloaded := newService(t, second, &scriptedResponder{})

	got, err := reloaded.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusStopped, got.Status)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, "persist me", got.Turns[0].Prompt)

	_, err = reloaded.Start(ctx, s.ID)
	require.NoError(t, err)
	got, err = reloaded.AdvanceTurn(ctx, s.ID, "a", "third")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Turns[2].Sequence)

	list, err := reloaded.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Turns, 3)
}
