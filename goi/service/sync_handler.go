package service

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"github.com/promptlab/promptlab/goi/syncstate"
	"github.com/promptlab/promptlab/pkg/hertzx"
)

func (s *Service) GetUnderstanding(ctx context.Context, c *app.RequestContext) {
	hertzx.OK(c, s.sync.Get(ctx, c.Param("sessionId")))
}

func (s *Service) UpdateUnderstanding(ctx context.Context, c *app.RequestContext) {
	var patch syncstate.Patch
	if err := c.BindAndValidate(&patch); err != nil {
		hertzx.Bad(c, err.Error())
		return
	}
	u, err := s.sync.Update(ctx, c.Param("sessionId"), patch)
	if err != nil {
		hertzx.Err(c, err)
		return
	}
	hertzx.OK(c, u)
}
