package control

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptlab/promptlab/goi/csync"
	"github.com/promptlab/promptlab/goi/db"
	"github.com/promptlab/promptlab/goi/pubsub"
	"github.com/promptlab/promptlab/pkg/logs"
)

// Party is who currently directs the session.
type Party string

const (
	PartyUser Party = "user"
	PartyAI   Party = "ai"
)

func ValidParty(p Party) bool {
	return p == PartyUser || p == PartyAI
}

// Transfer is one entry of the append-only control history.
type Transfer struct {
	From          Party     `json:"from"`
	To            Party     `json:"to"`
	Reason        string    `json:"reason,omitempty"`
	Message       string    `json:"message,omitempty"`
	TransferredAt time.Time `json:"transferredAt"`
}

// TransferResult reports the outcome. Failure is an expected value, not an
// error: the validity of a transfer depends on racy external state.
type TransferResult struct {
	Success       bool      `json:"success"`
	From          Party     `json:"from,omitempty"`
	To            Party     `json:"to,omitempty"`
	TransferredAt time.Time `json:"transferredAt,omitzero"`
	Error         string    `json:"error,omitempty"`
}

// LoopChecker reports whether a live, AI-drivable loop exists for a session.
// Injected by the session manager to avoid a package cycle.
type LoopChecker func(sessionID string) bool

type Manager interface {
	Controller(sessionID string) Party
	CanTransferTo(sessionID string, to Party) (bool, string)
	TransferTo(ctx context.Context, sessionID string, to Party, reason, message string) TransferResult
	History(ctx context.Context, sessionID string) []Transfer
	SetLoopChecker(f LoopChecker)
}

type state struct {
	mu         sync.Mutex
	controller Party
	history    []Transfer
}

type manager struct {
	states      *csync.Map[string, *state]
	hub         *pubsub.Hub
	q           db.Querier // optional history persistence
	loopChecker LoopChecker
}

func NewManager(hub *pubsub.Hub, q db.Querier) Manager {
	return &manager{
		states: csync.NewMap[string, *state](),
		hub:    hub,
		q:      q,
	}
}

func (m *manager) SetLoopChecker(f LoopChecker) {
	m.loopChecker = f
}

// forSession returns the session's control state, rebuilding it from the
// persisted transfer history on first access so control survives restarts.
func (m *manager) forSession(ctx context.Context, sessionID string) *state {
	if s, ok := m.states.Get(sessionID); ok {
		return s
	}
	// user holds control until it is explicitly handed over
	s := &state{controller: PartyUser}
	if m.q != nil {
		rows, err := m.q.ListControlTransfers(ctx, sessionID)
		if err != nil {
			logs.CtxErrorf(ctx, "load control history for session %s failed: %v", sessionID, err)
		}
		for _, row := range rows {
			s.history = append(s.history, Transfer{
				From:          Party(row.FromParty),
				To:            Party(row.ToParty),
				Reason:        row.Reason,
				Message:       row.Message,
				TransferredAt: time.UnixMilli(row.TransferredAt),
			})
		}
		if n := len(s.history); n > 0 {
			s.controller = s.history[n-1].To
		}
	}
	actual, _ := m.states.GetOrSet(sessionID, s)
	return actual
}

func (m *manager) Controller(sessionID string) Party {
	s := m.forSession(context.Background(), sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controller
}

// CanTransferTo is a pure predicate; the string names why not.
func (m *manager) CanTransferTo(sessionID string, to Party) (bool, string) {
	s := m.forSession(context.Background(), sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.canTransferLocked(s, sessionID, to)
}

// canTransferLocked validates under the session's state lock.
func (m *manager) canTransferLocked(s *state, sessionID string, to Party) (bool, string) {
	if !ValidParty(to) {
		return false, "invalid transfer target"
	}
	if s.controller == to {
		return false, "control is already held by " + string(to)
	}
	if to == PartyAI && (m.loopChecker == nil || !m.loopChecker(sessionID)) {
		return false, "no live agent loop for session " + sessionID
	}
	return true, ""
}

func (m *manager) TransferTo(ctx context.Context, sessionID string, to Party, reason, message string) TransferResult {
	s := m.forSession(ctx, sessionID)
	s.mu.Lock()
	if ok, why := m.canTransferLocked(s, sessionID, to); !ok {
		s.mu.Unlock()
		return TransferResult{Success: false, Error: why}
	}
	from := s.controller
	transfer := Transfer{
		From:          from,
		To:            to,
		Reason:        reason,
		Message:       message,
		TransferredAt: time.Now(),
	}
	s.controller = to
	s.history = append(s.history, transfer)
	s.mu.Unlock()

	m.persist(ctx, sessionID, transfer)
	m.hub.Publish(sessionID, pubsub.ControlTransferredEvent, transfer)
	return TransferResult{
		Success:       true,
		From:          from,
		To:            to,
		TransferredAt: transfer.TransferredAt,
	}
}

func (m *manager) History(ctx context.Context, sessionID string) []Transfer {
	s := m.forSession(ctx, sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transfer, len(s.history))
	copy(out, s.history)
	return out
}

func (m *manager) persist(ctx context.Context, sessionID string, t Transfer) {
	if m.q == nil {
		return
	}
	row := db.ControlTransfer{
		SessionID:     sessionID,
		FromParty:     string(t.From),
		ToParty:       string(t.To),
		Reason:        t.Reason,
		Message:       t.Message,
		TransferredAt: t.TransferredAt.UnixMilli(),
	}
	row.ID = uuid.New().String()
	if err := m.q.CreateControlTransfer(ctx, row); err != nil {
		logs.CtxErrorf(ctx, "persist control transfer for session %s failed: %v", sessionID, err)
	}
}
