package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agent-salon/backend/internal/model/agent"
	"github.com/zhouzirui/agent-salon/backend/internal/service/events"
	sessionsvc "github.com/zhouzirui/agent-salon/backend/internal/service/session"
	"github.com/zhouzirui/agent-salon/backend/internal/store"
)

func setupServer(t *testing.T) (*httptest.Server, *sessionsvc.Service, string) {
	t.Helper()

	broadcaster := events.NewBroadcaster(nil)
	agents := agent.NewMemoryStore([]agent.Profile{{ID: "a", Name: "A", Provider: agent.ProviderMock}})
	sessions := sessionsvc.NewService(store.NewMemoryStore(), agents, nil, sessionsvc.Config{}, sessionsvc.WithPublisher(broadcaster))
	created, err := sessions.CreateSession(context.Background(), sessionsvc.CreateParams{AgentIDs: []string{"a"}, MaxTurns: 3})
	require.NoError(t, err)

	r := chi.NewRouter()
	New(sessions, broadcaster, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		broadcaster.Close()
	})
	return srv, sessions, created.ID
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	srv, _, _ := setupServer(t)

	resp, err := http.Get(srv.URL + "/sessions/missing/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/sessions/missing", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocketReceivesSnapshotAndEvents(t *testing.T) {
	srv, sessions, id := setupServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/sessions/"+id, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot outgoingMessage
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, TypeSnapshot, snapshot.Type)
	assert.Equal(t, id, snapshot.SessionID)

	_, err = sessions.AdvanceTurn(context.Background(), id, "a", "hello")
	require.NoError(t, err)

	var msg struct {
		Type string       `json:"type"`
		Data events.Event `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.TypeTurn, msg.Type)
	require.NotNil(t, msg.Data.Turn)
	assert.Equal(t, "hello", msg.Data.Turn.Content)
}

func TestSSEReceivesSnapshotAndEvents(t *testing.T) {
	srv, sessions, id := setupServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sessions/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "event: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "event: "))
			}
		}
	}

	assert.Equal(t, TypeSnapshot, readEvent())

	_, err = sessions.Stop(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, events.TypeStatus, readEvent())
}
