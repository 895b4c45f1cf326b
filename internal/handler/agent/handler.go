package agent

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/agent-salon/backend/internal/analysis/palette"
	"github.com/zhouzirui/agent-salon/backend/internal/model/agent"
	"github.com/zhouzirui/agent-salon/backend/pkg/utils"
)

// Handler agent名册的HTTP处理器
type Handler struct {
	agents agent.Store
}

// New 创建agent处理器
func New(agents agent.Store) *Handler {
	return &Handler{agents: agents}
}

// RegisterRoutes 注册agent相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/agents", h.handleListAgents)
}

type agentView struct {
	agent.Profile
	Color string `json:"color"`
}

// handleListAgents 列出名册中的所有agent及其展示颜色
func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	profiles := h.agents.List()
	views := make([]agentView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, agentView{Profile: p, Color: palette.For(p.ID).Hex})
	}
	utils.RespondJSON(w, http.StatusOK, views)
}
