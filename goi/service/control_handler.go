package service

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/promptlab/promptlab/goi/control"
	"github.com/promptlab/promptlab/pkg/hertzx"
)

type TransferControlReq struct {
	To      string `json:"to"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// TransferControl hands control of the session to the other party. A refused
// transfer is a normal outcome, reported in the result body, not an error.
func (s *Service) TransferControl(ctx context.Context, c *app.RequestContext) {
	var req TransferControlReq
	if err := c.BindAndValidate(&req); err != nil {
		hertzx.Bad(c, err.Error())
		return
	}
	res := s.control.TransferTo(ctx, c.Param("sessionId"), control.Party(req.To), req.Reason, req.Message)
	hertzx.OK(c, res)
}

func (s *Service) GetController(ctx context.Context, c *app.RequestContext) {
	hertzx.OK(c, map[string]any{
		"controller": s.control.Controller(c.Param("sessionId")),
	})
}

func (s *Service) ControlHistory(ctx context.Context, c *app.RequestContext) {
	hertzx.OK(c, s.control.History(ctx, c.Param("sessionId")))
}

type SubmitCommandReq struct {
	Command string `json:"command"`
}

type CommandResult struct {
	Accepted   bool   `json:"accepted"`
	Busy       bool   `json:"busy"`
	Controller string `json:"controller"`
	Hint       string `json:"hint,omitempty"`
}

// SubmitCommand takes a user instruction. While the agent holds control the
// command is not executed; the caller gets a busy result and can either wait
// or take control first.
func (s *Service) SubmitCommand(ctx context.Context, c *app.RequestContext) {
	sessionID := c.Param("sessionId")
	var req SubmitCommandReq
	if err := c.BindAndValidate(&req); err != nil {
		hertzx.Bad(c, err.Error())
		return
	}
	if req.Command == "" {
		hertzx.Bad(c, "command must not be empty")
		return
	}
	holder := s.control.Controller(sessionID)
	if holder == control.PartyAI {
		hertzx.OK(c, CommandResult{
			Accepted:   false,
			Busy:       true,
			Controller: string(holder),
			Hint:       "agent is in control; take over or wait for a checkpoint",
		})
		return
	}
	hertzx.OK(c, CommandResult{
		Accepted:   true,
		Controller: string(holder),
	})
}
