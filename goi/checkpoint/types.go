package checkpoint

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusModified Status = "modified"
	StatusRejected Status = "rejected"
	StatusTakeover Status = "takeover"
	StatusExpired  Status = "expired"
)

// Terminal statuses are final and immutable.
func (s Status) Terminal() bool {
	return s != StatusPending
}

type Action string

const (
	ActionApprove  Action = "approve"
	ActionModify   Action = "modify"
	ActionReject   Action = "reject"
	ActionTakeover Action = "takeover"
)

func ValidAction(a Action) bool {
	switch a {
	case ActionApprove, ActionModify, ActionReject, ActionTakeover:
		return true
	}
	return false
}

// Option is one of the choices offered to the human.
type Option struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Recommended bool   `json:"recommended,omitempty"`
}

// Response is what the human answered.
type Response struct {
	Action        Action         `json:"action"`
	Modifications map[string]any `json:"modifications,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}

type Checkpoint struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionId"`
	TodoItemID string         `json:"todoItemId,omitempty"`
	Reason     string         `json:"reason"`
	Preview    map[string]any `json:"preview,omitempty"`
	Options    []Option       `json:"options,omitempty"`
	Status     Status         `json:"status"`
	Response   *Response      `json:"response,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	ExpiresAt  time.Time      `json:"expiresAt"`
	ResolvedAt time.Time      `json:"resolvedAt,omitzero"`
}

// RemainingMs is the time left before a pending checkpoint expires.
func (c Checkpoint) RemainingMs(now time.Time) int64 {
	if c.Status != StatusPending {
		return 0
	}
	remaining := c.ExpiresAt.Sub(now).Milliseconds()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Resolution is the single resume signal delivered to the waiting loop.
type Resolution struct {
	CheckpointID string
	Status       Status
	Response     Response
}

type CreateArgs struct {
	SessionID  string
	TodoItemID string
	Reason     string
	Preview    map[string]any
	Options    []Option
	TTL        time.Duration
}

// ExpiryAction decides how an expired checkpoint reads to the waiting loop.
type ExpiryAction string

const (
	// ExpiryReject treats expiry like a rejection: the loop gives up on the item.
	ExpiryReject ExpiryAction = "reject"
	// ExpirySkip lets the loop skip the item and continue.
	ExpirySkip ExpiryAction = "skip"
)

const DefaultTTL = 30 * time.Second
