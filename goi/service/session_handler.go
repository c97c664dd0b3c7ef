package service

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/promptlab/promptlab/goi/agent"
	"github.com/promptlab/promptlab/goi/checkpoint"
	"github.com/promptlab/promptlab/goi/todo"
	"github.com/promptlab/promptlab/pkg/hertzx"
	"github.com/promptlab/promptlab/pkg/hertzx/middleware"
)

type StartSessionReq struct {
	Goal       string         `json:"goal"`
	Items      []todo.NewItem `json:"items"`
	TodoListID string         `json:"todoListId"`
	ModelID    string         `json:"modelId"`
	AutoRun    *bool          `json:"autoRun"`
	// Pointers distinguish "absent, use the server default" from an explicit
	// value: maxRetries 0 is a legitimate never-retry setting.
	MaxRetries   *int   `json:"maxRetries"`
	StepDelayMs  *int   `json:"stepDelayMs"`
	ExpiryAction string `json:"expiryAction"`
}

type SessionView struct {
	agent.Snapshot
	Controller string `json:"controller"`
}

func (s *Service) sessionView(l *agent.Loop) SessionView {
	return SessionView{
		Snapshot:   l.Snapshot(),
		Controller: string(s.control.Controller(l.SessionID())),
	}
}

// StartSession binds a session to a TODO list, creating the list from the
// request when no existing list id is given, and starts the loop unless
// autoRun is explicitly false.
func (s *Service) StartSession(ctx context.Context, c *app.RequestContext) {
	sessionID := c.Param("sessionId")
	var req StartSessionReq
	if err := c.BindAndValidate(&req); err != nil {
		hertzx.Bad(c, err.Error())
		return
	}

	listID := req.TodoListID
	if listID == "" {
		if req.Goal == "" {
			hertzx.Bad(c, "either todoListId or goal is required")
			return
		}
		list, err := s.store.CreateList(ctx, todo.CreateListArgs{
			Goal:      req.Goal,
			CreatedBy: middleware.CallerID(c),
			Items:     req.Items,
		})
		if err != nil {
			hertzx.Err(c, err)
			return
		}
		listID = list.ID
	}

	cfg := s.defaults
	cfg.ModelID = req.ModelID
	if req.MaxRetries != nil {
		cfg.MaxRetries = *req.MaxRetries
	}
	if req.StepDelayMs != nil {
		cfg.StepDelay = time.Duration(*req.StepDelayMs) * time.Millisecond
	}
	if req.ExpiryAction != "" {
		cfg.ExpiryAction = checkpoint.ExpiryAction(req.ExpiryAction)
	}
	loop, err := s.sessions.GetOrCreate(ctx, sessionID, listID, cfg)
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	if req.AutoRun == nil || *req.AutoRun {
		if err := loop.Run(ctx); err != nil {
			hertzx.Err(c, err)
			return
		}
	}
	hertzx.OK(c, s.sessionView(loop))
}

func (s *Service) RunSession(ctx context.Context, c *app.RequestContext) {
	loop, err := s.sessions.Get(c.Param("sessionId"))
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	if err := loop.Run(ctx); err != nil {
		hertzx.Err(c, err)
		return
	}
	hertzx.OK(c, s.sessionView(loop))
}

func (s *Service) PauseSession(ctx context.Context, c *app.RequestContext) {
	loop, err := s.sessions.Get(c.Param("sessionId"))
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	if err := loop.Pause(ctx); err != nil {
		hertzx.Err(c, err)
		return
	}
	hertzx.OK(c, s.sessionView(loop))
}

type ResumeSessionReq struct {
	TodoListID string `json:"todoListId"`
}

func (s *Service) ResumeSession(ctx context.Context, c *app.RequestContext) {
	sessionID := c.Param("sessionId")
	var req ResumeSessionReq
	if err := c.BindAndValidate(&req); err != nil {
		hertzx.Bad(c, err.Error())
		return
	}
	loop, err := s.sessions.Get(sessionID)
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	if req.TodoListID == "" || req.TodoListID == loop.ListID() {
		// Same list: resume is unpause when paused, run otherwise.
		err = loop.Run(ctx)
	} else {
		err = loop.Resume(ctx, req.TodoListID)
	}
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	hertzx.OK(c, s.sessionView(loop))
}

func (s *Service) DeleteSession(ctx context.Context, c *app.RequestContext) {
	force := c.Query("force") == "true"
	if err := s.sessions.Delete(ctx, c.Param("sessionId"), force); err != nil {
		hertzx.Err(c, err)
		return
	}
	hertzx.Msg(c, "session deleted")
}

func (s *Service) GetSession(ctx context.Context, c *app.RequestContext) {
	loop, err := s.sessions.Get(c.Param("sessionId"))
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	hertzx.OK(c, s.sessionView(loop))
}

func (s *Service) ListSessions(ctx context.Context, c *app.RequestContext) {
	hertzx.OK(c, s.sessions.Sessions())
}

func (s *Service) SessionStats(ctx context.Context, c *app.RequestContext) {
	hertzx.OK(c, s.sessions.Stats())
}

func (s *Service) GetTodoList(ctx context.Context, c *app.RequestContext) {
	loop, err := s.sessions.Get(c.Param("sessionId"))
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	list, err := s.store.GetList(ctx, loop.ListID())
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	hertzx.OK(c, list)
}

type AppendItemsReq struct {
	Items []todo.NewItem `json:"items"`
}

func (s *Service) AppendTodoItems(ctx context.Context, c *app.RequestContext) {
	loop, err := s.sessions.Get(c.Param("sessionId"))
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	var req AppendItemsReq
	if err := c.BindAndValidate(&req); err != nil {
		hertzx.Bad(c, err.Error())
		return
	}
	if len(req.Items) == 0 {
		hertzx.Bad(c, "items must not be empty")
		return
	}
	list, err := s.store.AppendItems(ctx, loop.ListID(), req.Items)
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	hertzx.OK(c, list)
}

// RetryTodoItem puts one failed item back to pending. The loop picks it up
// on its next pass; a finished loop needs an explicit resume afterwards.
func (s *Service) RetryTodoItem(ctx context.Context, c *app.RequestContext) {
	loop, err := s.sessions.Get(c.Param("sessionId"))
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	item, err := s.store.RetryItem(ctx, loop.ListID(), c.Param("itemId"))
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	hertzx.OK(c, item)
}
