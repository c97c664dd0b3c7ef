package agent

import (
	"context"
	"sync"
	"time"

	"github.com/promptlab/promptlab/goi/checkpoint"
	"github.com/promptlab/promptlab/goi/control"
	"github.com/promptlab/promptlab/goi/csync"
	"github.com/promptlab/promptlab/goi/pubsub"
	"github.com/promptlab/promptlab/goi/todo"
	"github.com/promptlab/promptlab/pkg/logs"
	"github.com/promptlab/promptlab/pkg/resp"
	"github.com/promptlab/promptlab/pkg/safego"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether the loop is live from the caller's point of view:
// it is executing steps or suspended on a checkpoint.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusWaiting
}

type Config struct {
	ModelID string
	// MaxRetries is how many extra attempts a failing item gets. Zero is a
	// valid setting and means fail on the first attempt.
	MaxRetries int
	StepDelay  time.Duration
	// ExpiryAction decides what happens to the in-flight item when a
	// checkpoint expires: reject fails it, skip moves past it.
	ExpiryAction checkpoint.ExpiryAction
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.StepDelay <= 0 {
		out.StepDelay = 50 * time.Millisecond
	}
	if out.ExpiryAction == "" {
		out.ExpiryAction = checkpoint.ExpiryReject
	}
	return out
}

// Snapshot is a point-in-time view of the loop for listings and stats.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	ListID    string    `json:"todo_list_id"`
	Status    Status    `json:"status"`
	ModelID   string    `json:"model_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Loop drives one session's TODO list to completion. All step execution
// happens on a single goroutine; Pause, Unpause and RequestStop only flip
// signals that the goroutine observes at step boundaries, so there is never
// more than one writer to the list.
type Loop struct {
	sessionID   string
	cfg         Config
	store       todo.Store
	checkpoints checkpoint.Controller
	control     control.Manager
	hub         *pubsub.Hub
	executor    StepExecutor

	status    *csync.Value[Status]
	listID    *csync.Value[string]
	updatedAt *csync.Value[time.Time]

	mu        sync.Mutex // guards run lifecycle below
	running   bool
	cancelRun context.CancelFunc
	doneCh    chan struct{}

	pauseCh   chan struct{} // 1-buffered signal, drained at boundaries
	unpauseCh chan struct{}
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func NewLoop(sessionID, listID string, cfg Config, store todo.Store, cps checkpoint.Controller, ctl control.Manager, hub *pubsub.Hub, exec StepExecutor) *Loop {
	l := &Loop{
		sessionID:   sessionID,
		cfg:         cfg.withDefaults(),
		store:       store,
		checkpoints: cps,
		control:     ctl,
		hub:         hub,
		executor:    exec,
		status:      csync.NewValue(StatusIdle),
		listID:      csync.NewValue(listID),
		updatedAt:   csync.NewValue(time.Now()),
		pauseCh:     make(chan struct{}, 1),
		unpauseCh:   make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	return l
}

func (l *Loop) SessionID() string { return l.sessionID }
func (l *Loop) Status() Status    { return l.status.Get() }
func (l *Loop) ListID() string    { return l.listID.Get() }

func (l *Loop) Snapshot() Snapshot {
	return Snapshot{
		SessionID: l.sessionID,
		ListID:    l.listID.Get(),
		Status:    l.status.Get(),
		ModelID:   l.cfg.ModelID,
		UpdatedAt: l.updatedAt.Get(),
	}
}

// Run starts step execution. It returns immediately: the loop drives itself
// on its own goroutine. Running and waiting loops are left alone, a paused
// loop is woken, terminal loops report their state.
func (l *Loop) Run(ctx context.Context) error {
	st := l.status.Get()
	if st.Terminal() {
		return resp.InvalidStatef(string(st), "session %s already finished", l.sessionID)
	}
	if st == StatusPaused {
		return l.Unpause(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.running = true
	l.cancelRun = cancel
	l.doneCh = make(chan struct{})
	done := l.doneCh
	safego.Go(runCtx, func() {
		defer close(done)
		defer func() {
			l.mu.Lock()
			l.running = false
			l.mu.Unlock()
			cancel()
		}()
		l.run(runCtx)
	})
	return nil
}

// Pause requests a stop at the next step boundary. An in-flight step is
// never interrupted. Pausing a paused loop is a no-op.
func (l *Loop) Pause(ctx context.Context) error {
	switch st := l.status.Get(); st {
	case StatusPaused:
		return nil
	case StatusCompleted, StatusFailed:
		return resp.InvalidStatef(string(st), "session %s already finished", l.sessionID)
	}
	select {
	case l.pauseCh <- struct{}{}:
	default:
	}
	return nil
}

// Unpause resumes a paused loop at the item it stopped in front of.
func (l *Loop) Unpause(ctx context.Context) error {
	st := l.status.Get()
	if st != StatusPaused {
		return resp.InvalidStatef(string(st), "session %s is not paused", l.sessionID)
	}
	// Drain a pause request that never got consumed.
	select {
	case <-l.pauseCh:
	default:
	}
	l.mu.Lock()
	alive := l.running
	l.mu.Unlock()
	if alive {
		select {
		case l.unpauseCh <- struct{}{}:
		default:
		}
		return nil
	}
	// The run goroutine exited while paused (stop or process restart).
	l.setStatus(context.Background(), StatusIdle)
	return l.Run(ctx)
}

// Resume re-binds the loop to a TODO list and starts it. Used to pick a
// session back up after completion, failure or a restart.
func (l *Loop) Resume(ctx context.Context, todoListID string) error {
	st := l.status.Get()
	if st == StatusRunning || st == StatusWaiting {
		return resp.InvalidStatef(string(st), "session %s is still active", l.sessionID)
	}
	if _, err := l.store.GetList(ctx, todoListID); err != nil {
		return err
	}
	l.listID.Set(todoListID)
	l.setStatus(ctx, StatusIdle)
	return l.Run(ctx)
}

// RequestStop tells the run goroutine to exit at the next boundary without
// marking the loop terminal. Used on shutdown and forced delete.
func (l *Loop) RequestStop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Abort requests a stop and cancels the run context so an in-flight step
// unblocks immediately. Used on forced delete.
func (l *Loop) Abort() {
	l.RequestStop()
	l.mu.Lock()
	cancel := l.cancelRun
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done returns a channel closed when the current run goroutine exits. Nil
// when the loop never ran.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doneCh
}

func (l *Loop) stopped() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

func (l *Loop) setStatus(ctx context.Context, next Status) {
	var changed bool
	l.status.Update(func(cur Status) Status {
		changed = cur != next
		return next
	})
	if !changed {
		return
	}
	l.updatedAt.Set(time.Now())
	l.hub.Publish(l.sessionID, pubsub.LoopStatusEvent, map[string]any{
		"status":       string(next),
		"todo_list_id": l.listID.Get(),
	})
}

func (l *Loop) publishItem(listID string, item todo.TodoItem) {
	l.hub.Publish(l.sessionID, pubsub.TodoUpdatedEvent, map[string]any{
		"todo_list_id": listID,
		"item":         item,
	})
}

func (l *Loop) publishList(list todo.TodoList) {
	l.hub.Publish(l.sessionID, pubsub.TodoUpdatedEvent, map[string]any{
		"todo_list_id": list.ID,
		"list_status":  list.Status,
	})
}

// run is the actor body. Exactly one instance per loop is alive at a time.
func (l *Loop) run(ctx context.Context) {
	l.setStatus(ctx, StatusRunning)
	for {
		if ctx.Err() != nil || l.stopped() {
			l.parkPaused(ctx)
			return
		}
		if !l.checkPause(ctx) {
			return
		}

		list, err := l.store.GetList(ctx, l.listID.Get())
		if err != nil {
			logs.CtxErrorf(ctx, "loop %s: load list: %v", l.sessionID, err)
			l.fail(ctx)
			return
		}
		item, ok := list.NextPending()
		if !ok {
			// A run interrupted mid-step leaves its item in progress.
			// Settle it before declaring the list done.
			if item, ok = list.FirstInProgress(); !ok {
				l.finish(ctx, list)
				return
			}
		}
		if !l.runItem(ctx, list.ID, item) {
			return
		}
		if !l.yield(ctx) {
			return
		}
	}
}

// runItem executes one item through claim, execute, classify. Returns false
// when the loop is finished or parked and the actor must exit.
func (l *Loop) runItem(ctx context.Context, listID string, item todo.TodoItem) bool {
	if item.Status == todo.ItemStatusPending {
		claimed, err := l.store.TransitionItem(ctx, listID, item.ID, todo.ItemStatusInProgress)
		if err != nil {
			logs.CtxErrorf(ctx, "loop %s: claim item %s: %v", l.sessionID, item.ID, err)
			l.fail(ctx)
			return false
		}
		item = claimed
		l.publishItem(listID, item)
	}

	var resolution *checkpoint.Response
	attempt := item.RetryCount
	for {
		res, err := l.executor.ExecuteStep(ctx, StepRequest{
			SessionID:  l.sessionID,
			ListID:     listID,
			Item:       item,
			Attempt:    attempt,
			ModelID:    l.cfg.ModelID,
			Resolution: resolution,
		})
		if err != nil {
			if ctx.Err() != nil || l.stopped() {
				// Shutdown, not a step failure. Leave the item in progress
				// and park; a later run claims no new work until it is
				// settled by retry or resume.
				l.parkPaused(ctx)
				return false
			}
			res = StepResult{Outcome: OutcomeFailure, Message: err.Error()}
		}

		switch res.Outcome {
		case OutcomeSuccess:
			return l.completeItem(ctx, listID, item.ID)

		case OutcomeCheckpoint:
			out, ok := l.awaitCheckpoint(ctx, listID, item, res.Checkpoint)
			if !ok {
				return false
			}
			if out != nil {
				// Approved or modified: run the step again with the
				// human's answer attached.
				resolution = out
				continue
			}
			// Rejected, or expired under the skip policy with the item
			// already moved past. Item state was settled by awaitCheckpoint.
			return l.status.Get() == StatusRunning

		case OutcomeFailure:
			attempt++
			if attempt <= l.cfg.MaxRetries {
				if _, err := l.store.IncrementRetry(ctx, listID, item.ID); err != nil {
					logs.CtxErrorf(ctx, "loop %s: bump retry %s: %v", l.sessionID, item.ID, err)
					l.fail(ctx)
					return false
				}
				logs.CtxWarnf(ctx, "loop %s: item %s attempt %d failed: %s", l.sessionID, item.ID, attempt, res.Message)
				continue
			}
			if res.Skippable {
				return l.skipItem(ctx, listID, item.ID)
			}
			return l.failItem(ctx, listID, item.ID)

		default:
			logs.CtxErrorf(ctx, "loop %s: executor returned unknown outcome %q", l.sessionID, res.Outcome)
			return l.failItem(ctx, listID, item.ID)
		}
	}
}

// awaitCheckpoint suspends the loop on a human gate. Returns (response, true)
// when the step should re-run with the response applied, (nil, true) when the
// item was settled and the loop should move on, and (nil, false) when the
// actor must exit.
func (l *Loop) awaitCheckpoint(ctx context.Context, listID string, item todo.TodoItem, spec *CheckpointSpec) (*checkpoint.Response, bool) {
	if spec == nil {
		spec = &CheckpointSpec{Reason: "confirm step"}
	}
	cp, err := l.checkpoints.Create(ctx, checkpoint.CreateArgs{
		SessionID:  l.sessionID,
		TodoItemID: item.ID,
		Reason:     spec.Reason,
		Preview:    spec.Preview,
		Options:    spec.Options,
		TTL:        spec.TTL,
	})
	if err != nil {
		logs.CtxErrorf(ctx, "loop %s: create checkpoint: %v", l.sessionID, err)
		l.failItem(ctx, listID, item.ID)
		return nil, false
	}

	l.setStatus(ctx, StatusWaiting)
	res, err := l.checkpoints.Await(ctx, cp.ID)
	if err != nil {
		// Context gone: leave the loop parked, the checkpoint stays pending.
		l.parkPaused(ctx)
		return nil, false
	}

	switch res.Status {
	case checkpoint.StatusApproved, checkpoint.StatusModified:
		l.setStatus(ctx, StatusRunning)
		return &res.Response, true

	case checkpoint.StatusRejected:
		l.failItem(ctx, listID, item.ID)
		return nil, true

	case checkpoint.StatusExpired:
		if l.cfg.ExpiryAction == checkpoint.ExpirySkip {
			l.setStatus(ctx, StatusRunning)
			l.skipItem(ctx, listID, item.ID)
			return nil, true
		}
		l.failItem(ctx, listID, item.ID)
		return nil, true

	case checkpoint.StatusTakeover:
		if !l.awaitHandback(ctx) {
			return nil, false
		}
		l.setStatus(ctx, StatusRunning)
		// Re-run the step from scratch: the user may have changed the
		// world while holding control.
		return &checkpoint.Response{Action: checkpoint.ActionApprove}, true

	default:
		logs.CtxErrorf(ctx, "loop %s: checkpoint %s resolved with unexpected status %s", l.sessionID, cp.ID, res.Status)
		l.failItem(ctx, listID, item.ID)
		return nil, true
	}
}

// awaitHandback blocks while the user holds control, until control is
// transferred back to the agent.
func (l *Loop) awaitHandback(ctx context.Context) bool {
	if l.control.Controller(l.sessionID) == control.PartyAI {
		return true
	}
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := l.hub.Subscribe(subCtx, l.sessionID, pubsub.ControlTransferredEvent)
	for {
		// Transfer may have landed before the subscription did.
		if l.control.Controller(l.sessionID) == control.PartyAI {
			return true
		}
		select {
		case <-ctx.Done():
			l.parkPaused(ctx)
			return false
		case <-l.stopCh:
			l.parkPaused(ctx)
			return false
		case _, ok := <-events:
			if !ok {
				l.parkPaused(ctx)
				return false
			}
		}
	}
}

func (l *Loop) completeItem(ctx context.Context, listID, itemID string) bool {
	item, err := l.store.TransitionItem(ctx, listID, itemID, todo.ItemStatusCompleted)
	if err != nil {
		logs.CtxErrorf(ctx, "loop %s: complete item %s: %v", l.sessionID, itemID, err)
		l.fail(ctx)
		return false
	}
	l.publishItem(listID, item)
	return true
}

func (l *Loop) skipItem(ctx context.Context, listID, itemID string) bool {
	item, err := l.store.TransitionItem(ctx, listID, itemID, todo.ItemStatusSkipped)
	if err != nil {
		logs.CtxErrorf(ctx, "loop %s: skip item %s: %v", l.sessionID, itemID, err)
		l.fail(ctx)
		return false
	}
	logs.CtxWarnf(ctx, "loop %s: skipped item %s", l.sessionID, itemID)
	l.publishItem(listID, item)
	return true
}

// failItem marks the item failed and gives up on the whole loop. Always
// returns false so callers can bail straight out of the actor.
func (l *Loop) failItem(ctx context.Context, listID, itemID string) bool {
	item, err := l.store.TransitionItem(ctx, listID, itemID, todo.ItemStatusFailed)
	if err != nil {
		logs.CtxErrorf(ctx, "loop %s: fail item %s: %v", l.sessionID, itemID, err)
	} else {
		l.publishItem(listID, item)
	}
	l.fail(ctx)
	return false
}

func (l *Loop) fail(ctx context.Context) {
	if list, err := l.store.TransitionList(ctx, l.listID.Get(), todo.ListStatusFailed); err == nil {
		l.publishList(list)
	}
	l.setStatus(ctx, StatusFailed)
}

func (l *Loop) finish(ctx context.Context, list todo.TodoList) {
	if list.HasFailed() {
		l.fail(ctx)
		return
	}
	next, err := l.store.TransitionList(ctx, list.ID, todo.ListStatusCompleted)
	if err != nil {
		logs.CtxErrorf(ctx, "loop %s: complete list %s: %v", l.sessionID, list.ID, err)
		l.fail(ctx)
		return
	}
	l.publishList(next)
	l.setStatus(ctx, StatusCompleted)
}

// parkPaused leaves a non-terminal loop paused when the actor exits early.
func (l *Loop) parkPaused(ctx context.Context) {
	if !l.status.Get().Terminal() {
		l.setStatus(ctx, StatusPaused)
	}
}

// checkPause honors a pending pause request, blocking until unpaused.
// Returns false when the actor must exit instead of continuing.
func (l *Loop) checkPause(ctx context.Context) bool {
	select {
	case <-l.pauseCh:
	default:
		return true
	}
	l.setStatus(ctx, StatusPaused)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-l.stopCh:
			return false
		case <-l.unpauseCh:
			l.setStatus(ctx, StatusRunning)
			return true
		case <-l.pauseCh:
			// Repeated pause while paused, ignore.
		}
	}
}

// yield sleeps the configured step delay so pause and stop requests get a
// clean boundary between items.
func (l *Loop) yield(ctx context.Context) bool {
	t := time.NewTimer(l.cfg.StepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		l.parkPaused(ctx)
		return false
	case <-l.stopCh:
		l.parkPaused(ctx)
		return false
	case <-t.C:
		return true
	}
}
