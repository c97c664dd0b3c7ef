package agent

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/promptlab/promptlab/goi/checkpoint"
	"github.com/promptlab/promptlab/goi/control"
	"github.com/promptlab/promptlab/goi/csync"
	"github.com/promptlab/promptlab/goi/pubsub"
	"github.com/promptlab/promptlab/goi/todo"
	"github.com/promptlab/promptlab/pkg/logs"
	"github.com/promptlab/promptlab/pkg/redisx"
	"github.com/promptlab/promptlab/pkg/resp"
	"github.com/promptlab/promptlab/pkg/safego"
)

// SessionManager owns the registry of loops. At most one live loop exists
// per session id in this process; with a redis locker configured the same
// holds across replicas.
type SessionManager struct {
	loops       *csync.Map[string, *Loop]
	locks       *csync.Map[string, *sessionLock]
	store       todo.Store
	checkpoints checkpoint.Controller
	control     control.Manager
	hub         *pubsub.Hub
	executor    StepExecutor
	redis       redisx.Redis // optional, enables cross-replica session ownership
}

const sessionLockTTL = 30 * time.Second

// sessionLock pairs the redis lock with the refresh goroutine keeping it
// alive. release is idempotent so every unregister path can call it.
type sessionLock struct {
	lock *redisx.DistributedLock
	stop chan struct{}
	once sync.Once
}

func (s *sessionLock) release() {
	s.once.Do(func() {
		close(s.stop)
		if err := s.lock.Unlock(context.Background()); err != nil {
			logs.Warnf("release session lock: %v", err)
		}
	})
}

type ManagerOptions struct {
	Store       todo.Store
	Checkpoints checkpoint.Controller
	Control     control.Manager
	Hub         *pubsub.Hub
	Executor    StepExecutor
	Redis       redisx.Redis
}

func NewSessionManager(opts ManagerOptions) *SessionManager {
	m := &SessionManager{
		loops:       csync.NewMap[string, *Loop](),
		locks:       csync.NewMap[string, *sessionLock](),
		store:       opts.Store,
		checkpoints: opts.Checkpoints,
		control:     opts.Control,
		hub:         opts.Hub,
		executor:    opts.Executor,
		redis:       opts.Redis,
	}
	// Control may only move to the agent when a loop can actually act on it,
	// and a takeover resolution hands control to the user.
	m.control.SetLoopChecker(func(sessionID string) bool {
		l, ok := m.loops.Get(sessionID)
		return ok && !l.Status().Terminal()
	})
	m.checkpoints.SetTakeoverFunc(func(ctx context.Context, sessionID, reason string) {
		res := m.control.TransferTo(ctx, sessionID, control.PartyUser, reason, "")
		if !res.Success {
			logs.CtxWarnf(ctx, "takeover for session %s did not transfer control: %s", sessionID, res.Error)
		}
	})
	return m
}

// GetOrCreate returns the session's loop, creating and registering one bound
// to todoListID when none exists. An active loop cannot be re-created: the
// conflict carries its current status so callers can report it.
func (m *SessionManager) GetOrCreate(ctx context.Context, sessionID, todoListID string, cfg Config) (*Loop, error) {
	if existing, ok := m.loops.Get(sessionID); ok {
		if st := existing.Status(); st.Active() {
			return nil, resp.Conflictf(string(st), "session %s already has a live loop", sessionID)
		}
		return existing, nil
	}
	if _, err := m.store.GetList(ctx, todoListID); err != nil {
		return nil, err
	}
	var sl *sessionLock
	if m.redis != nil {
		lock := redisx.NewDistributedLock(m.redis, "goi:session:"+sessionID, sessionLockTTL)
		ok, err := lock.TryLock(ctx)
		if err != nil {
			return nil, resp.Internalf("acquire session lock: %v", err)
		}
		if !ok {
			return nil, resp.Conflictf(string(StatusRunning), "session %s is owned by another replica", sessionID)
		}
		sl = &sessionLock{lock: lock, stop: make(chan struct{})}
	}
	loop := NewLoop(sessionID, todoListID, cfg, m.store, m.checkpoints, m.control, m.hub, m.executor)
	actual, loaded := m.loops.GetOrSet(sessionID, loop)
	if loaded {
		// Lost the registration race; same rules apply to the winner.
		if sl != nil {
			sl.release()
		}
		if st := actual.Status(); st.Active() {
			return nil, resp.Conflictf(string(st), "session %s already has a live loop", sessionID)
		}
		return actual, nil
	}
	if sl != nil {
		m.locks.Set(sessionID, sl)
		m.refreshLock(sessionID, sl)
	}
	return actual, nil
}

// refreshLock keeps the session lock alive for as long as the loop is
// registered. A failed refresh means the lock expired or was taken over, so
// the goroutine gives up rather than fight for it.
func (m *SessionManager) refreshLock(sessionID string, sl *sessionLock) {
	safego.Go(context.Background(), func() {
		ticker := time.NewTicker(sessionLockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-sl.stop:
				return
			case <-ticker.C:
				if err := sl.lock.Refresh(context.Background()); err != nil {
					logs.Warnf("refresh session lock for %s: %v", sessionID, err)
					return
				}
			}
		}
	})
}

// releaseLock drops the session's redis lock, if one is held.
func (m *SessionManager) releaseLock(sessionID string) {
	if sl, ok := m.locks.Take(sessionID); ok {
		sl.release()
	}
}

func (m *SessionManager) Get(sessionID string) (*Loop, error) {
	l, ok := m.loops.Get(sessionID)
	if !ok {
		return nil, resp.NotFoundf("session %s has no loop", sessionID)
	}
	return l, nil
}

func (m *SessionManager) Has(sessionID string) bool {
	_, ok := m.loops.Get(sessionID)
	return ok
}

// Delete unregisters a session's loop. Active loops are refused unless force
// is set, in which case the loop is stopped first.
func (m *SessionManager) Delete(ctx context.Context, sessionID string, force bool) error {
	l, ok := m.loops.Get(sessionID)
	if !ok {
		return resp.NotFoundf("session %s has no loop", sessionID)
	}
	if st := l.Status(); st.Active() {
		if !force {
			return resp.InvalidStatef(string(st), "session %s is still active", sessionID)
		}
		l.Abort()
		if done := l.Done(); done != nil {
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				logs.CtxWarnf(ctx, "session %s loop did not stop in time, dropping anyway", sessionID)
			case <-ctx.Done():
			}
		}
	}
	m.loops.Del(sessionID)
	m.releaseLock(sessionID)
	return nil
}

func (m *SessionManager) Sessions() []Snapshot {
	out := make([]Snapshot, 0, m.loops.Len())
	for _, l := range m.loops.Seq2() {
		out = append(out, l.Snapshot())
	}
	return out
}

// Stats counts loops per status.
func (m *SessionManager) Stats() map[Status]int {
	out := make(map[Status]int)
	for _, l := range m.loops.Seq2() {
		out[l.Status()]++
	}
	return out
}

// ReapTerminal drops loops that finished more than maxIdle ago. Run from the
// scheduler so the registry does not grow without bound.
func (m *SessionManager) ReapTerminal(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	reaped := 0
	for id, l := range m.loops.Seq2() {
		snap := l.Snapshot()
		if snap.Status.Terminal() && snap.UpdatedAt.Before(cutoff) {
			m.loops.Del(id)
			m.releaseLock(id)
			reaped++
		}
	}
	return reaped
}

// Shutdown stops every loop, waits for the actors to exit, and hands the
// session locks back so another replica can pick the sessions up.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for id, l := range m.loops.Seq2() {
		id, l := id, l
		g.Go(func() error {
			defer m.releaseLock(id)
			l.RequestStop()
			done := l.Done()
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}
