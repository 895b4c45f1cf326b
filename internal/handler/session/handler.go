package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/agent-salon/backend/internal/analysis/palette"
	"github.com/zhouzirui/agent-salon/backend/internal/analysis/participation"
	"github.com/zhouzirui/agent-salon/backend/internal/model/session"
	"github.com/zhouzirui/agent-salon/backend/internal/service/artifact"
	sessionsvc "github.com/zhouzirui/agent-salon/backend/internal/service/session"
	"github.com/zhouzirui/agent-salon/backend/internal/service/transcript"
	"github.com/zhouzirui/agent-salon/backend/pkg/utils"
)

// Handler 会话服务的HTTP处理器
type Handler struct {
	sessions  *sessionsvc.Service
	artifacts *artifact.Synthesizer
	exporter  *transcript.Exporter
	logger    *slog.Logger
}

// New 创建会话处理器
func New(sessions *sessionsvc.Service, artifacts *artifact.Synthesizer, exporter *transcript.Exporter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:  sessions,
		artifacts: artifacts,
		exporter:  exporter,
		logger:    logger.With("component", "http.session"),
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/start", h.handleStart)
			r.Post("/stop", h.handleStop)
			r.Post("/inject", h.handleInject)
			r.Post("/turns", h.handleAdvance)
			r.Get("/stats", h.handleStats)
			r.Post("/summary", h.handleSummary)
			r.Post("/report", h.handleReport)
			r.Get("/export", h.handleExport)
		})
	})
}

// sessionView is a snapshot plus the palette color of every participant.
type sessionView struct {
	session.Session
	AgentColors map[string]string `json:"agentColors"`
}

func newSessionView(s session.Session) sessionView {
	colors := make(map[string]string, len(s.AgentIDs))
	for _, id := range s.AgentIDs {
		colors[id] = palette.For(id).Hex
	}
	return sessionView{Session: s, AgentColors: colors}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Topic    string   `json:"topic"`
		AgentIDs []string `json:"agentIds"`
		MaxTurns *int     `json:"maxTurns"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}

	maxTurns := h.sessions.DefaultMaxTurns()
	if payload.MaxTurns != nil {
		maxTurns = *payload.MaxTurns
	}

	created, err := h.sessions.CreateSession(r.Context(), sessionsvc.CreateParams{
		Topic:    payload.Topic,
		AgentIDs: payload.AgentIDs,
		MaxTurns: maxTurns,
	})
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, newSessionView(created))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.RespondErrorCode(w, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	sessions, err := h.sessions.ListSessions(r.Context(), limit)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, newSessionView(s))
	}
	utils.RespondJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, newSessionView(snap))
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.Start(r.Context(), chi.URLParam(r, "sessionID"))
	h.respondSnapshot(w, http.StatusOK, snap, err)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.Stop(r.Context(), chi.URLParam(r, "sessionID"))
	h.respondSnapshot(w, http.StatusOK, snap, err)
}

func (h *Handler) handleInject(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Prompt   string   `json:"prompt"`
		AgentIDs []string `json:"agentIds"`
		Rounds   int      `json:"rounds"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}

	snap, err := h.sessions.InjectPrompt(r.Context(), chi.URLParam(r, "sessionID"), payload.Prompt, sessionsvc.ResponderSelection{
		AgentIDs: payload.AgentIDs,
		Rounds:   payload.Rounds,
	})
	h.respondSnapshot(w, http.StatusOK, snap, err)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AgentID string `json:"agentId"`
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &payload) {
		return
	}

	snap, err := h.sessions.AdvanceTurn(r.Context(), chi.URLParam(r, "sessionID"), payload.AgentID, payload.Content)
	h.respondSnapshot(w, http.StatusCreated, snap, err)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, participation.Aggregate(snap.Turns))
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	summary, err := h.artifacts.Summarize(r.Context(), snap)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	stats := participation.Aggregate(snap.Turns)
	report, err := h.artifacts.Report(r.Context(), snap, stats)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"report": report,
		"stats":  stats,
	})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	doc, err := h.exporter.Export(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", transcript.Filename(id)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(transcript.Render(doc))); err != nil {
		h.logger.Warn("failed to write transcript", "session_id", id, "error", err)
	}
}

func (h *Handler) respondSnapshot(w http.ResponseWriter, status int, snap session.Session, err error) {
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	utils.RespondJSON(w, status, newSessionView(snap))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.RespondErrorCode(w, http.StatusBadRequest, "invalid_input", "invalid request body")
		return false
	}
	return true
}
