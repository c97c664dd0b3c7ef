package service

import (
	"github.com/cloudwego/hertz/pkg/app/server"

	"github.com/promptlab/promptlab/goi/agent"
	"github.com/promptlab/promptlab/goi/checkpoint"
	"github.com/promptlab/promptlab/goi/control"
	"github.com/promptlab/promptlab/goi/pubsub"
	"github.com/promptlab/promptlab/goi/syncstate"
	"github.com/promptlab/promptlab/goi/todo"
	"github.com/promptlab/promptlab/pkg/hertzx/middleware"
)

// Service wires the orchestration subsystems to HTTP. defaults fills loop
// settings a start request leaves out.
type Service struct {
	sessions    *agent.SessionManager
	store       todo.Store
	checkpoints checkpoint.Controller
	control     control.Manager
	sync        syncstate.Manager
	hub         *pubsub.Hub
	defaults    agent.Config
}

func NewService(sessions *agent.SessionManager, store todo.Store, cps checkpoint.Controller, ctl control.Manager, sm syncstate.Manager, hub *pubsub.Hub, defaults agent.Config) *Service {
	return &Service{
		sessions:    sessions,
		store:       store,
		checkpoints: cps,
		control:     ctl,
		sync:        sm,
		hub:         hub,
		defaults:    defaults,
	}
}

// RegisterRoutes mounts the API under /goi. jwtSecret empty disables auth.
func (s *Service) RegisterRoutes(h *server.Hertz, jwtSecret string) {
	g := h.Group("/goi", middleware.BearerAuthMW(jwtSecret))

	sessions := g.Group("/sessions")
	sessions.GET("", s.ListSessions)
	sessions.GET("/stats", s.SessionStats)
	sessions.POST("/:sessionId/start", s.StartSession)
	sessions.POST("/:sessionId/run", s.RunSession)
	sessions.POST("/:sessionId/pause", s.PauseSession)
	sessions.POST("/:sessionId/resume", s.ResumeSession)
	sessions.DELETE("/:sessionId", s.DeleteSession)
	sessions.GET("/:sessionId", s.GetSession)
	sessions.GET("/:sessionId/todo", s.GetTodoList)
	sessions.POST("/:sessionId/todo/items", s.AppendTodoItems)
	sessions.POST("/:sessionId/todo/items/:itemId/retry", s.RetryTodoItem)
	sessions.GET("/:sessionId/checkpoints", s.ListCheckpoints)
	sessions.GET("/:sessionId/checkpoints/audit", s.CheckpointAudit)
	sessions.POST("/:sessionId/control", s.TransferControl)
	sessions.GET("/:sessionId/control", s.GetController)
	sessions.GET("/:sessionId/control/history", s.ControlHistory)
	sessions.POST("/:sessionId/command", s.SubmitCommand)
	sessions.GET("/:sessionId/understanding", s.GetUnderstanding)
	sessions.POST("/:sessionId/understanding", s.UpdateUnderstanding)
	sessions.GET("/:sessionId/events", s.StreamEvents)

	g.POST("/checkpoints/:checkpointId/respond", s.RespondCheckpoint)
}
