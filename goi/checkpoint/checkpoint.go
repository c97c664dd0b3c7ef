package checkpoint

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptlab/promptlab/goi/csync"
	"github.com/promptlab/promptlab/goi/db"
	"github.com/promptlab/promptlab/goi/pubsub"
	"github.com/promptlab/promptlab/models"
	"github.com/promptlab/promptlab/pkg/logs"
	"github.com/promptlab/promptlab/pkg/resp"
)

// TakeoverFunc hands control to the user when a checkpoint resolves with
// takeover. Injected to keep this package independent of the control manager.
type TakeoverFunc func(ctx context.Context, sessionID, reason string)

type Controller interface {
	Create(ctx context.Context, args CreateArgs) (Checkpoint, error)
	// Await blocks until the checkpoint resolves or ctx ends. Exactly one
	// resolution is ever delivered per checkpoint.
	Await(ctx context.Context, checkpointID string) (Resolution, error)
	Respond(ctx context.Context, checkpointID string, response Response) (Checkpoint, error)
	Pending(ctx context.Context, sessionID string) ([]Checkpoint, error)
	List(ctx context.Context, sessionID string, statuses []Status) ([]Checkpoint, error)
	// Audit pages through a session's checkpoint history, newest first.
	// Reads from the database when one is wired, so history survives
	// restarts; otherwise it pages the in-memory records.
	Audit(ctx context.Context, sessionID string, pageable models.Pageable) ([]Checkpoint, int64, error)
	// SweepExpired expires overdue pending checkpoints; returns how many.
	SweepExpired(ctx context.Context) int
	SetTakeoverFunc(f TakeoverFunc)
	ExpiryPolicy() ExpiryAction
}

type record struct {
	mu sync.Mutex
	cp Checkpoint
}

type controller struct {
	records  *csync.Map[string, *record]
	pending  *csync.Map[string, string]          // sessionID -> pending checkpoint id
	waiters  *csync.Map[string, chan Resolution] // checkpoint id -> resume slot
	hub      *pubsub.Hub
	q        db.Querier // optional audit persistence
	takeover TakeoverFunc
	expiry   ExpiryAction
}

func NewController(hub *pubsub.Hub, q db.Querier, expiry ExpiryAction) Controller {
	if expiry == "" {
		expiry = ExpiryReject
	}
	return &controller{
		records: csync.NewMap[string, *record](),
		pending: csync.NewMap[string, string](),
		waiters: csync.NewMap[string, chan Resolution](),
		hub:     hub,
		q:       q,
		expiry:  expiry,
	}
}

func (c *controller) SetTakeoverFunc(f TakeoverFunc) {
	c.takeover = f
}

func (c *controller) ExpiryPolicy() ExpiryAction {
	return c.expiry
}

func (c *controller) Create(ctx context.Context, args CreateArgs) (Checkpoint, error) {
	if args.SessionID == "" {
		return Checkpoint{}, resp.Validationf("session id is required")
	}
	if args.Reason == "" {
		return Checkpoint{}, resp.Validationf("checkpoint reason is required")
	}
	ttl := args.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := uuid.New().String()
	// one pending checkpoint per session; the claim is atomic
	if existing, loaded := c.pending.GetOrSet(args.SessionID, id); loaded {
		return Checkpoint{}, resp.Conflictf(string(StatusPending),
			"session %s already has pending checkpoint %s", args.SessionID, existing)
	}
	now := time.Now()
	cp := Checkpoint{
		ID:         id,
		SessionID:  args.SessionID,
		TodoItemID: args.TodoItemID,
		Reason:     args.Reason,
		Preview:    args.Preview,
		Options:    args.Options,
		Status:     StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	c.records.Set(id, &record{cp: cp})
	c.waiters.Set(id, make(chan Resolution, 1))
	c.persistCreate(ctx, cp)
	c.hub.Publish(cp.SessionID, pubsub.CheckpointCreatedEvent, cp)
	return cp, nil
}

func (c *controller) Await(ctx context.Context, checkpointID string) (Resolution, error) {
	rec, ok := c.records.Get(checkpointID)
	if !ok {
		return Resolution{}, resp.NotFoundf("checkpoint %s not found", checkpointID)
	}
	ch, ok := c.waiters.Get(checkpointID)
	if !ok {
		// The slot was already consumed by an earlier Await; the record
		// holds the terminal outcome.
		rec.mu.Lock()
		cp := rec.cp
		rec.mu.Unlock()
		if cp.Status == StatusPending {
			return Resolution{}, resp.InvalidStatef(string(cp.Status), "checkpoint %s is already being awaited", checkpointID)
		}
		res := Resolution{CheckpointID: cp.ID, Status: cp.Status}
		if cp.Response != nil {
			res.Response = *cp.Response
		}
		return res, nil
	}
	select {
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	case res := <-ch:
		c.waiters.Del(checkpointID)
		return res, nil
	}
}

func (c *controller) Respond(ctx context.Context, checkpointID string, response Response) (Checkpoint, error) {
	if !ValidAction(response.Action) {
		return Checkpoint{}, resp.Validationf("invalid checkpoint action %q", response.Action)
	}
	if response.Action == ActionModify && len(response.Modifications) == 0 {
		return Checkpoint{}, resp.Validationf("modify response requires a modifications payload")
	}
	rec, ok := c.records.Get(checkpointID)
	if !ok {
		rec, ok = c.loadRecord(ctx, checkpointID)
	}
	if !ok {
		return Checkpoint{}, resp.NotFoundf("checkpoint %s not found", checkpointID)
	}

	rec.mu.Lock()
	if expired := c.expireLocked(ctx, rec, time.Now()); expired {
		cp := rec.cp
		rec.mu.Unlock()
		return cp, resp.InvalidStatef(string(cp.Status), "checkpoint %s has expired", checkpointID)
	}
	if rec.cp.Status != StatusPending {
		cp := rec.cp
		rec.mu.Unlock()
		return cp, resp.InvalidStatef(string(cp.Status), "checkpoint %s is not pending", checkpointID)
	}
	rec.cp.Status = statusFor(response.Action)
	rec.cp.Response = &response
	rec.cp.ResolvedAt = time.Now()
	cp := rec.cp
	rec.mu.Unlock()

	// Transfer control before waking the loop: a takeover resolution must
	// never let the loop observe the agent still in control.
	if response.Action == ActionTakeover && c.takeover != nil {
		c.takeover(ctx, cp.SessionID, response.Reason)
	}
	c.finishResolution(ctx, cp, Resolution{
		CheckpointID: cp.ID,
		Status:       cp.Status,
		Response:     response,
	})
	return cp, nil
}

func (c *controller) Pending(ctx context.Context, sessionID string) ([]Checkpoint, error) {
	return c.List(ctx, sessionID, []Status{StatusPending})
}

func (c *controller) List(ctx context.Context, sessionID string, statuses []Status) ([]Checkpoint, error) {
	now := time.Now()
	var out []Checkpoint
	seen := map[string]bool{}
	for _, rec := range c.records.Seq2() {
		rec.mu.Lock()
		if rec.cp.SessionID == sessionID {
			seen[rec.cp.ID] = true
			c.expireLocked(ctx, rec, now)
			if matches(rec.cp.Status, statuses) {
				out = append(out, rec.cp)
			}
		}
		rec.mu.Unlock()
	}
	// Checkpoints from before a restart only exist as rows. A pending row
	// past its deadline reads as expired; the sweep cannot see it.
	if c.q != nil {
		rows, err := c.q.ListCheckpointsBySession(ctx, sessionID, nil)
		if err != nil {
			logs.CtxErrorf(ctx, "list persisted checkpoints for session %s failed: %v", sessionID, err)
			return out, nil
		}
		for _, row := range rows {
			if seen[row.ID] {
				continue
			}
			cp := fromRow(row)
			if cp.Status == StatusPending && now.After(cp.ExpiresAt) {
				cp.Status = StatusExpired
			}
			if matches(cp.Status, statuses) {
				out = append(out, cp)
			}
		}
	}
	return out, nil
}

func (c *controller) Audit(ctx context.Context, sessionID string, pageable models.Pageable) ([]Checkpoint, int64, error) {
	if c.q != nil {
		rows, total, err := c.q.PageCheckpointsBySession(ctx, sessionID, pageable)
		if err != nil {
			return nil, 0, resp.Internalf("page checkpoints: %v", err)
		}
		out := make([]Checkpoint, 0, len(rows))
		for _, row := range rows {
			out = append(out, fromRow(row))
		}
		return out, total, nil
	}

	all, err := c.List(ctx, sessionID, nil)
	if err != nil {
		return nil, 0, err
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	total := int64(len(all))
	offset := pageable.Offset()
	if offset >= len(all) {
		return []Checkpoint{}, total, nil
	}
	end := offset + pageable.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// loadRecord rebuilds a checkpoint record from its persisted row, so a
// pending checkpoint from before a restart can still be responded to. The
// resolution has no waiter to wake; the loop is gone with the old process.
func (c *controller) loadRecord(ctx context.Context, checkpointID string) (*record, bool) {
	if c.q == nil {
		return nil, false
	}
	row, err := c.q.GetCheckpointByID(ctx, checkpointID)
	if err != nil {
		return nil, false
	}
	cp := fromRow(row)
	rec := &record{cp: cp}
	actual, loaded := c.records.GetOrSet(checkpointID, rec)
	if !loaded && cp.Status == StatusPending {
		// re-stake the one-pending-per-session claim
		c.pending.GetOrSet(cp.SessionID, cp.ID)
	}
	return actual, true
}

// fromRow rebuilds the domain view from a persisted audit row.
func fromRow(row db.Checkpoint) Checkpoint {
	cp := Checkpoint{
		ID:         row.ID,
		SessionID:  row.SessionID,
		TodoItemID: row.TodoItemID,
		Reason:     row.Reason,
		Status:     Status(row.Status),
		ExpiresAt:  time.UnixMilli(row.ExpiresAt),
	}
	if row.CreatedAt != nil {
		cp.CreatedAt = *row.CreatedAt
	}
	if row.ResolvedAt > 0 {
		cp.ResolvedAt = time.UnixMilli(row.ResolvedAt)
	}
	if row.Preview != "" {
		_ = json.Unmarshal([]byte(row.Preview), &cp.Preview)
	}
	if row.Options != "" {
		_ = json.Unmarshal([]byte(row.Options), &cp.Options)
	}
	if row.Response != "" {
		var r Response
		if json.Unmarshal([]byte(row.Response), &r) == nil {
			cp.Response = &r
		}
	}
	return cp
}

func (c *controller) SweepExpired(ctx context.Context) int {
	now := time.Now()
	count := 0
	for _, rec := range c.records.Seq2() {
		rec.mu.Lock()
		if c.expireLocked(ctx, rec, now) {
			count++
		}
		rec.mu.Unlock()
	}
	if count > 0 {
		logs.Infof("checkpoint sweep expired %d checkpoint(s)", count)
	}
	return count
}

// expireLocked moves an overdue pending checkpoint to EXPIRED and delivers
// the resolution. Caller holds rec.mu.
func (c *controller) expireLocked(ctx context.Context, rec *record, now time.Time) bool {
	if rec.cp.Status != StatusPending || now.Before(rec.cp.ExpiresAt) {
		return false
	}
	rec.cp.Status = StatusExpired
	rec.cp.ResolvedAt = now
	cp := rec.cp
	go c.finishResolution(ctx, cp, Resolution{
		CheckpointID: cp.ID,
		Status:       StatusExpired,
	})
	return true
}

// finishResolution clears the pending slot, wakes the waiting loop, persists
// and publishes. The 1-buffered waiter slot guarantees a single wakeup even
// if the loop is not blocked yet.
func (c *controller) finishResolution(ctx context.Context, cp Checkpoint, res Resolution) {
	if current, ok := c.pending.Get(cp.SessionID); ok && current == cp.ID {
		c.pending.Del(cp.SessionID)
	}
	// Exactly one resolver ever reaches here per checkpoint (the status
	// flip is guarded), so the buffered send cannot block or double up.
	if ch, ok := c.waiters.Get(cp.ID); ok {
		ch <- res
	}
	c.persistResolve(ctx, cp)
	c.hub.Publish(cp.SessionID, pubsub.CheckpointResolvedEvent, cp)
}

func (c *controller) persistCreate(ctx context.Context, cp Checkpoint) {
	if c.q == nil {
		return
	}
	row := db.Checkpoint{
		SessionID:  cp.SessionID,
		TodoItemID: cp.TodoItemID,
		Reason:     cp.Reason,
		Preview:    marshal(cp.Preview),
		Options:    marshal(cp.Options),
		Status:     string(cp.Status),
		ExpiresAt:  cp.ExpiresAt.UnixMilli(),
	}
	row.ID = cp.ID
	if _, err := c.q.CreateCheckpoint(ctx, row); err != nil {
		logs.CtxErrorf(ctx, "persist checkpoint %s failed: %v", cp.ID, err)
	}
}

func (c *controller) persistResolve(ctx context.Context, cp Checkpoint) {
	if c.q == nil {
		return
	}
	err := c.q.UpdateCheckpointStatus(ctx, db.UpdateCheckpointStatusArgs{
		ID:         cp.ID,
		Status:     string(cp.Status),
		Response:   marshal(cp.Response),
		ResolvedAt: cp.ResolvedAt.UnixMilli(),
	})
	if err != nil {
		logs.CtxErrorf(ctx, "persist checkpoint resolution %s failed: %v", cp.ID, err)
	}
}

func statusFor(action Action) Status {
	switch action {
	case ActionApprove:
		return StatusApproved
	case ActionModify:
		return StatusModified
	case ActionReject:
		return StatusRejected
	case ActionTakeover:
		return StatusTakeover
	}
	return StatusRejected
}

func matches(s Status, statuses []Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, status := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func marshal(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
