package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
	"github.com/zhouzirui/agent-salon/backend/internal/service/events"
	"github.com/zhouzirui/agent-salon/backend/pkg/utils"
)

const (
	pongWait          = 60 * time.Second
	pingPeriod        = 54 * time.Second
	writeWait         = 10 * time.Second
	heartbeatInterval = 15 * time.Second
)

// TypeSnapshot is the first message of every stream.
const TypeSnapshot = "snapshot"

// SessionReader returns committed session snapshots.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (session.Session, error)
}

// Subscriber hands out per-session event channels.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan events.Event, string)
}

// Handler pushes committed session events over SSE and WebSocket.
type Handler struct {
	sessions SessionReader
	events   Subscriber
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates a stream handler. Pass nil logger for default.
func New(sessions SessionReader, subscriber Subscriber, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions: sessions,
		events:   subscriber,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With("component", "stream"),
	}
}

// RegisterRoutes 注册事件流路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/events", h.handleSSE)
	r.Get("/ws/sessions/{sessionID}", h.handleWebSocket)
}

// outgoingMessage is the WebSocket frame shape.
type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	snap, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err == nil {
		return snap, true
	}
	if errors.Is(err, session.ErrNotFound) {
		utils.RespondErrorCode(w, http.StatusNotFound, session.Kind(err), err.Error())
	} else {
		h.logger.Error("load session for stream failed", "error", err)
		utils.RespondErrorCode(w, http.StatusInternalServerError, "internal", "internal error")
	}
	return session.Session{}, false
}

func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	snap, ok := h.lookup(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	ch, subID := h.events.Subscribe(ctx, snap.ID)
	log := h.logger.With("session_id", snap.ID, "sub_id", subID, "transport", "sse")
	log.Info("stream opened")
	defer log.Info("stream closed")

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEEvent(w, flusher, TypeSnapshot, snap); err != nil {
		log.Debug("write snapshot failed", "error", err)
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			utils.SendSSEComment(w, flusher, "heartbeat "+t.UTC().Format(time.RFC3339))
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, evt.Type, evt); err != nil {
				log.Debug("write event failed", "error", err)
				return
			}
		}
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.lookup(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "session_id", snap.ID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch, subID := h.events.Subscribe(ctx, snap.ID)
	log := h.logger.With("session_id", snap.ID, "sub_id", subID, "transport", "websocket")
	log.Info("stream opened")
	defer log.Info("stream closed")

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.readLoop(conn, cancel, log)
	go h.pingLoop(ctx, conn)

	if err := h.write(conn, snap.ID, TypeSnapshot, snap); err != nil {
		log.Debug("write snapshot failed", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := h.write(conn, snap.ID, evt.Type, evt); err != nil {
				log.Debug("write event failed", "error", err)
				return
			}
		}
	}
}

// readLoop drains client frames so control messages are processed, and
// cancels the stream once the client goes away.
func (h *Handler) readLoop(conn *websocket.Conn, cancel context.CancelFunc, log *slog.Logger) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (h *Handler) write(conn *websocket.Conn, sessionID, typ string, data any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(outgoingMessage{
		Type:      typ,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
