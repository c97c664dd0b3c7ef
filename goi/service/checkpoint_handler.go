package service

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/promptlab/promptlab/goi/checkpoint"
	"github.com/promptlab/promptlab/pkg/hertzx"
)

type RespondCheckpointReq struct {
	Action        string         `json:"action"`
	Modifications map[string]any `json:"modifications"`
	Reason        string         `json:"reason"`
}

func (s *Service) RespondCheckpoint(ctx context.Context, c *app.RequestContext) {
	var req RespondCheckpointReq
	if err := c.BindAndValidate(&req); err != nil {
		hertzx.Bad(c, err.Error())
		return
	}
	cp, err := s.checkpoints.Respond(ctx, c.Param("checkpointId"), checkpoint.Response{
		Action:        checkpoint.Action(req.Action),
		Modifications: req.Modifications,
		Reason:        req.Reason,
	})
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	hertzx.OK(c, cp)
}

// CheckpointView decorates a checkpoint with the time left before it
// expires. Zero for anything not pending.
type CheckpointView struct {
	checkpoint.Checkpoint
	RemainingMs int64 `json:"remainingMs"`
}

// ListCheckpoints returns a session's checkpoints, newest first. The status
// query filters, comma-free repeats allowed: ?status=pending&status=expired.
func (s *Service) ListCheckpoints(ctx context.Context, c *app.RequestContext) {
	sessionID := c.Param("sessionId")
	var statuses []checkpoint.Status
	for _, raw := range c.QueryArgs().PeekAll("status") {
		statuses = append(statuses, checkpoint.Status(raw))
	}
	cps, err := s.checkpoints.List(ctx, sessionID, statuses)
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	now := time.Now()
	views := make([]CheckpointView, 0, len(cps))
	for _, cp := range cps {
		views = append(views, CheckpointView{Checkpoint: cp, RemainingMs: cp.RemainingMs(now)})
	}
	hertzx.OK(c, views)
}

type CheckpointAuditPage struct {
	Items []checkpoint.Checkpoint `json:"items"`
	Total int64                   `json:"total"`
}

// CheckpointAudit pages through the session's full checkpoint history.
func (s *Service) CheckpointAudit(ctx context.Context, c *app.RequestContext) {
	pageable, err := hertzx.ParsePageable(c)
	if err != nil {
		hertzx.Bad(c, err.Error())
		return
	}
	items, total, err := s.checkpoints.Audit(ctx, c.Param("sessionId"), pageable)
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	hertzx.OK(c, CheckpointAuditPage{Items: items, Total: total})
}
