package todo

import "github.com/promptlab/promptlab/pkg/resp"

// itemTransitions is the full table of legal item moves. FAILED→PENDING is
// deliberately absent: it is only reachable through an explicit retry request.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusPending:    {ItemStatusInProgress, ItemStatusSkipped},
	ItemStatusInProgress: {ItemStatusCompleted, ItemStatusFailed, ItemStatusSkipped},
	ItemStatusCompleted:  {},
	ItemStatusSkipped:    {},
	ItemStatusFailed:     {},
}

var listTransitions = map[ListStatus][]ListStatus{
	ListStatusActive:    {ListStatusCompleted, ListStatusFailed},
	ListStatusCompleted: {ListStatusArchived},
	ListStatusFailed:    {ListStatusArchived},
	ListStatusArchived:  {},
}

// CanItemTransition reports whether from→to is a legal item move.
func CanItemTransition(from, to ItemStatus) bool {
	for _, allowed := range itemTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanListTransition reports whether from→to is a legal list move.
func CanListTransition(from, to ListStatus) bool {
	for _, allowed := range listTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateItemTransition returns a typed error naming from/to when illegal.
func ValidateItemTransition(itemID string, from, to ItemStatus) error {
	if !CanItemTransition(from, to) {
		return resp.InvalidTransitionf(string(from), "todo item %s cannot transition %s -> %s", itemID, from, to)
	}
	return nil
}

// ValidateListTransition returns a typed error naming from/to when illegal.
func ValidateListTransition(listID string, from, to ListStatus) error {
	if !CanListTransition(from, to) {
		return resp.InvalidTransitionf(string(from), "todo list %s cannot transition %s -> %s", listID, from, to)
	}
	return nil
}
