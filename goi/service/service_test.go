package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/promptlab/promptlab/goi/agent"
	"github.com/promptlab/promptlab/goi/checkpoint"
	"github.com/promptlab/promptlab/goi/control"
	"github.com/promptlab/promptlab/goi/pubsub"
	"github.com/promptlab/promptlab/goi/syncstate"
	"github.com/promptlab/promptlab/goi/todo"
	"github.com/promptlab/promptlab/pkg/resp"
)

type testEnv struct {
	h        *server.Hertz
	cps      checkpoint.Controller
	sessions *agent.SessionManager
	store    todo.Store
}

func newTestEnv(t *testing.T, jwtSecret string) *testEnv {
	t.Helper()
	hub := pubsub.NewHub()
	store := todo.NewMemoryStore()
	cps := checkpoint.NewController(hub, nil, checkpoint.ExpiryReject)
	ctl := control.NewManager(hub, nil)
	sm := syncstate.NewManager(hub, nil)
	sessions := agent.NewSessionManager(agent.ManagerOptions{
		Store:       store,
		Checkpoints: cps,
		Control:     ctl,
		Hub:         hub,
		Executor: agent.StepFunc(func(ctx context.Context, req agent.StepRequest) (agent.StepResult, error) {
			return agent.StepResult{Outcome: agent.OutcomeSuccess}, nil
		}),
	})
	t.Cleanup(func() {
		_ = sessions.Shutdown(context.Background())
		hub.Shutdown()
	})

	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	defaults := agent.Config{MaxRetries: 2, StepDelay: time.Millisecond}
	NewService(sessions, store, cps, ctl, sm, hub, defaults).RegisterRoutes(h, jwtSecret)
	return &testEnv{h: h, cps: cps, sessions: sessions, store: store}
}

func newTestServer(t *testing.T, jwtSecret string) *server.Hertz {
	return newTestEnv(t, jwtSecret).h
}

func doJSON(h *server.Hertz, method, path, body string, headers ...ut.Header) (int, []byte) {
	var b *ut.Body
	if body != "" {
		b = &ut.Body{Body: bytes.NewBufferString(body), Len: len(body)}
		headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/json"})
	}
	w := ut.PerformRequest(h.Engine, method, path, b, headers...)
	res := w.Result()
	return res.StatusCode(), res.Body()
}

func startIdleSession(t *testing.T, h *server.Hertz, sessionID string) SessionView {
	t.Helper()
	body := `{"goal":"roll out prompt v2","autoRun":false,"items":[{"title":"draft"},{"title":"review"}]}`
	status, raw := doJSON(h, http.MethodPost, "/goi/sessions/"+sessionID+"/start", body)
	require.Equal(t, http.StatusOK, status, string(raw))
	var view SessionView
	require.NoError(t, json.Unmarshal(raw, &view))
	return view
}

func TestStartSessionCreatesList(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, "")

	view := startIdleSession(t, h, "s1")
	require.Equal(t, "s1", view.SessionID)
	require.Equal(t, agent.StatusIdle, view.Status)
	require.NotEmpty(t, view.ListID)
	require.Equal(t, string(control.PartyUser), view.Controller)

	status, raw := doJSON(h, http.MethodGet, "/goi/sessions/s1/todo", "")
	require.Equal(t, http.StatusOK, status)
	var list todo.TodoList
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list.Items, 2)
	require.Equal(t, todo.ItemStatusPending, list.Items[0].Status)

	status, raw = doJSON(h, http.MethodGet, "/goi/sessions", "")
	require.Equal(t, http.StatusOK, status)
	var views []agent.Snapshot
	require.NoError(t, json.Unmarshal(raw, &views))
	require.Len(t, views, 1)
}

func TestStartSessionUnknownList(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, "")

	status, raw := doJSON(h, http.MethodPost, "/goi/sessions/s1/start", `{"todoListId":"missing"}`)
	require.Equal(t, http.StatusNotFound, status)
	var envelope resp.Response
	require.NoError(t, json.Unmarshal(raw, &envelope))
	require.Equal(t, resp.Failed, envelope.Code)
}

func TestStartSessionRequiresGoalOrList(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, "")

	status, _ := doJSON(h, http.MethodPost, "/goi/sessions/s1/start", `{}`)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, "")

	status, _ := doJSON(h, http.MethodGet, "/goi/sessions/ghost", "")
	require.Equal(t, http.StatusNotFound, status)
}

func TestAppendItemsValidation(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, "")
	startIdleSession(t, h, "s1")

	status, _ := doJSON(h, http.MethodPost, "/goi/sessions/s1/todo/items", `{"items":[]}`)
	require.Equal(t, http.StatusBadRequest, status)

	status, raw := doJSON(h, http.MethodPost, "/goi/sessions/s1/todo/items", `{"items":[{"title":"extra"}]}`)
	require.Equal(t, http.StatusOK, status)
	var list todo.TodoList
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list.Items, 3)
}

func TestListCheckpointsIncludesRemainingMs(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, "")
	startIdleSession(t, env.h, "s1")

	cp, err := env.cps.Create(context.Background(), checkpoint.CreateArgs{
		SessionID: "s1",
		Reason:    "confirm rollout",
		TTL:       time.Minute,
	})
	require.NoError(t, err)

	status, raw := doJSON(env.h, http.MethodGet, "/goi/sessions/s1/checkpoints", "")
	require.Equal(t, http.StatusOK, status, string(raw))
	var views []CheckpointView
	require.NoError(t, json.Unmarshal(raw, &views))
	require.Len(t, views, 1)
	require.Equal(t, cp.ID, views[0].ID)
	require.Greater(t, views[0].RemainingMs, int64(0))
	require.LessOrEqual(t, views[0].RemainingMs, int64(time.Minute/time.Millisecond))
}

func TestRespondUnknownCheckpoint(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, "")

	status, _ := doJSON(h, http.MethodPost, "/goi/checkpoints/nope/respond", `{"action":"approve"}`)
	require.Equal(t, http.StatusNotFound, status)
}

func TestControlAndCommandFlow(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, "")
	startIdleSession(t, h, "s1")

	// User holds control by default, so the command goes straight through.
	status, raw := doJSON(h, http.MethodPost, "/goi/sessions/s1/command", `{"command":"tighten the rubric"}`)
	require.Equal(t, http.StatusOK, status)
	var cmd CommandResult
	require.NoError(t, json.Unmarshal(raw, &cmd))
	require.True(t, cmd.Accepted)
	require.False(t, cmd.Busy)

	status, raw = doJSON(h, http.MethodPost, "/goi/sessions/s1/control", `{"to":"ai","reason":"let it run"}`)
	require.Equal(t, http.StatusOK, status)
	var transfer control.TransferResult
	require.NoError(t, json.Unmarshal(raw, &transfer))
	require.True(t, transfer.Success)

	status, raw = doJSON(h, http.MethodPost, "/goi/sessions/s1/command", `{"command":"stop"}`)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(raw, &cmd))
	require.False(t, cmd.Accepted)
	require.True(t, cmd.Busy)

	status, raw = doJSON(h, http.MethodGet, "/goi/sessions/s1/control/history", "")
	require.Equal(t, http.StatusOK, status)
	var history []control.Transfer
	require.NoError(t, json.Unmarshal(raw, &history))
	require.Len(t, history, 1)
}

func TestUnderstandingRoundTrip(t *testing.T) {
	t.Parallel()
	h := newTestServer(t, "")
	startIdleSession(t, h, "s1")

	body := `{"summary":"testing prompt variants","confidence":0.8}`
	status, _ := doJSON(h, http.MethodPost, "/goi/sessions/s1/understanding", body)
	require.Equal(t, http.StatusOK, status)

	status, raw := doJSON(h, http.MethodGet, "/goi/sessions/s1/understanding", "")
	require.Equal(t, http.StatusOK, status)
	var u syncstate.Understanding
	require.NoError(t, json.Unmarshal(raw, &u))
	require.Equal(t, "testing prompt variants", u.Summary)
	require.InDelta(t, 0.8, u.Confidence, 1e-9)
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()
	const secret = "test-secret"
	h := newTestServer(t, secret)

	status, _ := doJSON(h, http.MethodGet, "/goi/sessions", "")
	require.Equal(t, http.StatusUnauthorized, status)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "tester"})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	status, _ = doJSON(h, http.MethodGet, "/goi/sessions", "",
		ut.Header{Key: "Authorization", Value: fmt.Sprintf("Bearer %s", signed)})
	require.Equal(t, http.StatusOK, status)
}
