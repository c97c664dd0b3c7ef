package checkpoint

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/promptlab/promptlab/goi/db/dbtest"
	"github.com/promptlab/promptlab/goi/pubsub"
	"github.com/promptlab/promptlab/models"
	"github.com/promptlab/promptlab/pkg/resp"
)

func newTestController(t *testing.T) Controller {
	t.Helper()
	hub := pubsub.NewHub()
	t.Cleanup(hub.Shutdown)
	return NewController(hub, nil, ExpiryReject)
}

func mustCreate(t *testing.T, c Controller, sessionID string) Checkpoint {
	t.Helper()
	cp, err := c.Create(context.Background(), CreateArgs{
		SessionID: sessionID,
		Reason:    "confirm deploy",
		Preview:   map[string]any{"action": "deploy"},
		Options: []Option{
			{ID: "yes", Label: "Proceed", Recommended: true},
			{ID: "no", Label: "Abort"},
		},
	})
	require.NoError(t, err)
	return cp
}

func TestCreateAndApprove(t *testing.T) {
	t.Parallel()
	c := newTestController(t)
	ctx := context.Background()
	cp := mustCreate(t, c, "s1")
	require.Equal(t, StatusPending, cp.Status)
	require.Positive(t, cp.RemainingMs(time.Now()))

	var wg sync.WaitGroup
	wg.Add(1)
	var got Resolution
	go func() {
		defer wg.Done()
		res, err := c.Await(ctx, cp.ID)
		require.NoError(t, err)
		got = res
	}()

	resolved, err := c.Respond(ctx, cp.ID, Response{Action: ActionApprove})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, resolved.Status)

	wg.Wait()
	require.Equal(t, cp.ID, got.CheckpointID)
	require.Equal(t, StatusApproved, got.Status)
	require.Equal(t, ActionApprove, got.Response.Action)
}

func TestRespondBeforeAwaitStillDelivers(t *testing.T) {
	t.Parallel()
	c := newTestController(t)
	ctx := context.Background()
	cp := mustCreate(t, c, "s1")

	_, err := c.Respond(ctx, cp.ID, Response{Action: ActionReject, Reason: "nope"})
	require.NoError(t, err)

	// The resolution waits in the buffered slot.
	res, err := c.Await(ctx, cp.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, res.Status)
}

func TestOnePendingPerSession(t *testing.T) {
	t.Parallel()
	c := newTestController(t)
	ctx := context.Background()
	cp := mustCreate(t, c, "s1")

	_, err := c.Create(ctx, CreateArgs{SessionID: "s1", Reason: "another"})
	require.Error(t, err)
	require.Equal(t, resp.CodeConflict, resp.CodeOf(err))

	// Other sessions are unaffected.
	_, err = c.Create(ctx, CreateArgs{SessionID: "s2", Reason: "other session"})
	require.NoError(t, err)

	// Resolving frees the slot.
	_, err = c.Respond(ctx, cp.ID, Response{Action: ActionApprove})
	require.NoError(t, err)
	_, err = c.Create(ctx, CreateArgs{SessionID: "s1", Reason: "next"})
	require.NoError(t, err)
}

func TestRespondValidation(t *testing.T) {
	t.Parallel()
	c := newTestController(t)
	ctx := context.Background()
	cp := mustCreate(t, c, "s1")

	_, err := c.Respond(ctx, cp.ID, Response{Action: "shrug"})
	require.Equal(t, resp.CodeValidation, resp.CodeOf(err))

	_, err = c.Respond(ctx, cp.ID, Response{Action: ActionModify})
	require.Equal(t, resp.CodeValidation, resp.CodeOf(err))

	_, err = c.Respond(ctx, "no-such-id", Response{Action: ActionApprove})
	require.Equal(t, resp.CodeNotFound, resp.CodeOf(err))

	_, err = c.Respond(ctx, cp.ID, Response{
		Action:        ActionModify,
		Modifications: map[string]any{"target": "staging"},
	})
	require.NoError(t, err)

	// Terminal checkpoints are immutable.
	_, err = c.Respond(ctx, cp.ID, Response{Action: ActionApprove})
	require.Equal(t, resp.CodeInvalidState, resp.CodeOf(err))
}

func TestRespondRaceSingleWinner(t *testing.T) {
	t.Parallel()
	c := newTestController(t)
	ctx := context.Background()
	cp := mustCreate(t, c, "s1")

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Respond(ctx, cp.ID, Response{Action: ActionApprove})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		}
	}
	require.Equal(t, 1, wins)
}

func TestExpiry(t *testing.T) {
	t.Parallel()
	c := newTestController(t)
	ctx := context.Background()
	cp, err := c.Create(ctx, CreateArgs{
		SessionID: "s1",
		Reason:    "short lived",
		TTL:       time.Millisecond,
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	// Responding after the deadline reports the expiry.
	_, err = c.Respond(ctx, cp.ID, Response{Action: ActionApprove})
	require.Error(t, err)
	require.Equal(t, resp.CodeInvalidState, resp.CodeOf(err))

	res, err := c.Await(ctx, cp.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, res.Status)

	// The pending slot is free again.
	_, err = c.Create(ctx, CreateArgs{SessionID: "s1", Reason: "next"})
	require.NoError(t, err)
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()
	c := newTestController(t)
	ctx := context.Background()
	_, err := c.Create(ctx, CreateArgs{SessionID: "s1", Reason: "a", TTL: time.Millisecond})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.Equal(t, 1, c.SweepExpired(ctx))
	require.Equal(t, 0, c.SweepExpired(ctx))
}

func TestAwaitHonorsContext(t *testing.T) {
	t.Parallel()
	c := newTestController(t)
	cp := mustCreate(t, c, "s1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Await(ctx, cp.ID)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTakeoverHandsControlToUser(t *testing.T) {
	t.Parallel()
	c := newTestController(t)
	ctx := context.Background()

	var mu sync.Mutex
	var takeoverSession string
	c.SetTakeoverFunc(func(ctx context.Context, sessionID, reason string) {
		mu.Lock()
		takeoverSession = sessionID
		mu.Unlock()
	})

	cp := mustCreate(t, c, "s1")
	_, err := c.Respond(ctx, cp.ID, Response{Action: ActionTakeover, Reason: "I got this"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "s1", takeoverSession)
}

func TestListAndAudit(t *testing.T) {
	t.Parallel()
	c := newTestController(t)
	ctx := context.Background()

	first := mustCreate(t, c, "s1")
	_, err := c.Respond(ctx, first.ID, Response{Action: ActionApprove})
	require.NoError(t, err)
	second := mustCreate(t, c, "s1")
	mustCreate(t, c, "other")

	pending, err := c.Pending(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, second.ID, pending[0].ID)

	all, err := c.List(ctx, "s1", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	page, total, err := c.Audit(ctx, "s1", models.PageRequest(1, 1, "", ""))
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, page, 1)

	page, _, err = c.Audit(ctx, "s1", models.PageRequest(3, 1, "", ""))
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestRespondSurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := dbtest.NewFake()
	hub := pubsub.NewHub()
	t.Cleanup(hub.Shutdown)

	first := NewController(hub, fake, ExpiryReject)
	cp, err := first.Create(ctx, CreateArgs{SessionID: "s1", Reason: "confirm deploy"})
	require.NoError(t, err)

	// A fresh controller over the same store stands in for a restarted
	// process: the pending checkpoint only exists as a row.
	second := NewController(hub, fake, ExpiryReject)
	got, err := second.Respond(ctx, cp.ID, Response{Action: ActionApprove})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)

	row, err := fake.GetCheckpointByID(ctx, cp.ID)
	require.NoError(t, err)
	require.Equal(t, string(StatusApproved), row.Status)

	// The resolution is final on the new controller too.
	_, err = second.Respond(ctx, cp.ID, Response{Action: ActionReject})
	require.Error(t, err)
	se, ok := resp.AsStatusError(err)
	require.True(t, ok)
	require.Equal(t, string(StatusApproved), se.CurrentStatus)
}

func TestListReadsPersistedRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := dbtest.NewFake()
	hub := pubsub.NewHub()
	t.Cleanup(hub.Shutdown)

	first := NewController(hub, fake, ExpiryReject)
	approved, err := first.Create(ctx, CreateArgs{SessionID: "s1", Reason: "first"})
	require.NoError(t, err)
	_, err = first.Respond(ctx, approved.ID, Response{Action: ActionApprove})
	require.NoError(t, err)
	overdue, err := first.Create(ctx, CreateArgs{SessionID: "s1", Reason: "second", TTL: time.Millisecond})
	require.NoError(t, err)

	second := NewController(hub, fake, ExpiryReject)
	require.Eventually(t, func() bool {
		// A pending row past its deadline reads as expired.
		cps, err := second.List(ctx, "s1", []Status{StatusExpired})
		return err == nil && len(cps) == 1 && cps[0].ID == overdue.ID
	}, 5*time.Second, 2*time.Millisecond)

	all, err := second.List(ctx, "s1", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	got, err := second.List(ctx, "s1", []Status{StatusApproved})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, approved.ID, got[0].ID)
	require.NotNil(t, got[0].Response)
	require.Equal(t, ActionApprove, got[0].Response.Action)
}
