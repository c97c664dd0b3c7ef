package todo

import "time"

type ListStatus string

const (
	ListStatusActive    ListStatus = "active"
	ListStatusCompleted ListStatus = "completed"
	ListStatusFailed    ListStatus = "failed"
	ListStatusArchived  ListStatus = "archived"
)

type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusSkipped    ItemStatus = "skipped"
	ItemStatusFailed     ItemStatus = "failed"
)

// Terminal reports whether no further transition may leave the status.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemStatusCompleted, ItemStatusSkipped:
		return true
	}
	return false
}

// Done reports whether the item no longer needs execution.
// Failed counts as done only for list-completion bookkeeping.
func (s ItemStatus) Done() bool {
	switch s {
	case ItemStatusCompleted, ItemStatusSkipped, ItemStatusFailed:
		return true
	}
	return false
}

func (s ListStatus) Terminal() bool {
	switch s {
	case ListStatusCompleted, ListStatusFailed, ListStatusArchived:
		return true
	}
	return false
}

type TodoItem struct {
	ID          string     `json:"id"`
	ListID      string     `json:"listId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	Status      ItemStatus `json:"status"`
	RetryCount  int        `json:"retryCount"`
	OrderIndex  int        `json:"orderIndex"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TodoList is the ordered plan a loop executes. Items keeps execution order.
type TodoList struct {
	ID             string     `json:"id"`
	Goal           string     `json:"goal"`
	Status         ListStatus `json:"status"`
	Items          []TodoItem `json:"items"`
	CurrentVersion int64      `json:"currentVersion"`
	CreatedBy      string     `json:"createdBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// NextPending returns the first pending item in list order.
func (l *TodoList) NextPending() (TodoItem, bool) {
	for _, item := range l.Items {
		if item.Status == ItemStatusPending {
			return item, true
		}
	}
	return TodoItem{}, false
}

// FirstInProgress returns the first in-progress item in list order. At most
// one exists when a single loop drives the list, but an interrupted run can
// leave one behind.
func (l *TodoList) FirstInProgress() (TodoItem, bool) {
	for _, item := range l.Items {
		if item.Status == ItemStatusInProgress {
			return item, true
		}
	}
	return TodoItem{}, false
}

// AllDone reports whether every item reached a done status.
func (l *TodoList) AllDone() bool {
	for _, item := range l.Items {
		if !item.Status.Done() {
			return false
		}
	}
	return true
}

// HasFailed reports whether at least one item failed.
func (l *TodoList) HasFailed() bool {
	for _, item := range l.Items {
		if item.Status == ItemStatusFailed {
			return true
		}
	}
	return false
}

// NewItem describes an item to append at creation or append time.
type NewItem struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

type CreateListArgs struct {
	ID        string
	Goal      string
	CreatedBy string
	Items     []NewItem
}
