package syncstate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptlab/promptlab/goi/csync"
	"github.com/promptlab/promptlab/goi/db"
	"github.com/promptlab/promptlab/goi/pubsub"
	"github.com/promptlab/promptlab/pkg/logs"
	"github.com/promptlab/promptlab/pkg/resp"
)

// Understanding is the shared human-readable snapshot of what the agent
// thinks it is doing. Last writer wins; both parties read it.
type Understanding struct {
	Summary           string    `json:"summary,omitempty"`
	CurrentGoal       string    `json:"currentGoal,omitempty"`
	SelectedResources []string  `json:"selectedResources,omitempty"`
	CurrentPhase      string    `json:"currentPhase,omitempty"`
	Confidence        float64   `json:"confidence"`
	UpdatedAt         time.Time `json:"updatedAt,omitzero"`
}

// Patch carries a partial update; nil fields keep the current value.
type Patch struct {
	Summary           *string   `json:"summary,omitempty"`
	CurrentGoal       *string   `json:"currentGoal,omitempty"`
	SelectedResources *[]string `json:"selectedResources,omitempty"`
	CurrentPhase      *string   `json:"currentPhase,omitempty"`
	Confidence        *float64  `json:"confidence,omitempty"`
}

type Manager interface {
	Get(ctx context.Context, sessionID string) Understanding
	Update(ctx context.Context, sessionID string, patch Patch) (Understanding, error)
}

type manager struct {
	states *csync.Map[string, *entry]
	hub    *pubsub.Hub
	q      db.Querier // optional persistence
}

type entry struct {
	mu sync.Mutex
	u  Understanding
}

func NewManager(hub *pubsub.Hub, q db.Querier) Manager {
	return &manager{
		states: csync.NewMap[string, *entry](),
		hub:    hub,
		q:      q,
	}
}

// forSession returns the session's entry, loading the persisted snapshot on
// first access so the understanding survives restarts.
func (m *manager) forSession(ctx context.Context, sessionID string) *entry {
	if e, ok := m.states.Get(sessionID); ok {
		return e
	}
	e := &entry{}
	if m.q != nil {
		row, err := m.q.GetUnderstanding(ctx, sessionID)
		if err != nil {
			logs.CtxErrorf(ctx, "load understanding for session %s failed: %v", sessionID, err)
		} else {
			e.u = fromRow(row)
		}
	}
	actual, _ := m.states.GetOrSet(sessionID, e)
	return actual
}

func fromRow(row db.Understanding) Understanding {
	u := Understanding{
		Summary:      row.Summary,
		CurrentGoal:  row.CurrentGoal,
		CurrentPhase: row.CurrentPhase,
		Confidence:   row.Confidence,
	}
	if row.SelectedResources != "" {
		_ = json.Unmarshal([]byte(row.SelectedResources), &u.SelectedResources)
	}
	if row.UpdatedAt != nil {
		u.UpdatedAt = *row.UpdatedAt
	}
	return u
}

func (m *manager) Get(ctx context.Context, sessionID string) Understanding {
	e := m.forSession(ctx, sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.u
}

func (m *manager) Update(ctx context.Context, sessionID string, patch Patch) (Understanding, error) {
	if patch.Confidence != nil && (*patch.Confidence < 0 || *patch.Confidence > 1) {
		return Understanding{}, resp.Validationf("confidence must be within [0, 1]")
	}
	e := m.forSession(ctx, sessionID)
	e.mu.Lock()
	if patch.Summary != nil {
		e.u.Summary = *patch.Summary
	}
	if patch.CurrentGoal != nil {
		e.u.CurrentGoal = *patch.CurrentGoal
	}
	if patch.SelectedResources != nil {
		e.u.SelectedResources = *patch.SelectedResources
	}
	if patch.CurrentPhase != nil {
		e.u.CurrentPhase = *patch.CurrentPhase
	}
	if patch.Confidence != nil {
		e.u.Confidence = *patch.Confidence
	}
	e.u.UpdatedAt = time.Now()
	u := e.u
	e.mu.Unlock()

	m.persist(ctx, sessionID, u)
	m.hub.Publish(sessionID, pubsub.UnderstandingUpdatedEvent, u)
	return u, nil
}

func (m *manager) persist(ctx context.Context, sessionID string, u Understanding) {
	if m.q == nil {
		return
	}
	resources := ""
	if len(u.SelectedResources) > 0 {
		data, err := json.Marshal(u.SelectedResources)
		if err == nil {
			resources = string(data)
		}
	}
	row := db.Understanding{
		SessionID:         sessionID,
		Summary:           u.Summary,
		CurrentGoal:       u.CurrentGoal,
		SelectedResources: resources,
		CurrentPhase:      u.CurrentPhase,
		Confidence:        u.Confidence,
	}
	row.ID = uuid.New().String()
	if err := m.q.UpsertUnderstanding(ctx, row); err != nil {
		logs.CtxErrorf(ctx, "persist understanding for session %s failed: %v", sessionID, err)
	}
}
