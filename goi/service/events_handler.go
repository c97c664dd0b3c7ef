package service

import (
	"context"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/sse"

	"github.com/promptlab/promptlab/goi/pubsub"
	"github.com/promptlab/promptlab/pkg/hertzx"
	"github.com/promptlab/promptlab/pkg/logs"
)

const heartbeatInterval = 15 * time.Second

// StreamEvents pushes the session's event feed over SSE. The type query
// narrows the feed; heartbeats keep intermediaries from closing the pipe.
// Unsubscription happens when the client goes away.
func (s *Service) StreamEvents(ctx context.Context, c *app.RequestContext) {
	sessionID := c.Param("sessionId")
	var types []pubsub.EventType
	for _, raw := range c.QueryArgs().PeekAll("type") {
		types = append(types, pubsub.EventType(raw))
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := s.hub.Subscribe(subCtx, sessionID, types...)

	sender := hertzx.NewSseSender(sse.NewStream(c))
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e := hertzx.BuildDataEvent(string(ev.Type), ev)
			e.ID = strconv.FormatInt(ev.Seq, 10)
			if err := sender.Send(e); err != nil {
				logs.CtxInfof(ctx, "sse client for session %s gone: %v", sessionID, err)
				return
			}
		case <-heartbeat.C:
			e := hertzx.BuildDataEvent(string(pubsub.HeartbeatEvent), map[string]any{
				"ts": time.Now().UnixMilli(),
			})
			if err := sender.Send(e); err != nil {
				return
			}
		}
	}
}
