// Package lifecycle maps order status transitions to the counter deltas they imply.
//
// Any status may move to any other status. Counters are stored independently of
// orders, so every transition is expressed relative to the previous status rather
// than as an absolute value.
package lifecycle

import "strings"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Delta is a signed adjustment to a customer's aggregate counters.
type Delta struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
}

func (d Delta) IsZero() bool {
	return d.Total == 0 && d.Pending == 0 && d.Completed == 0
}

// Normalize maps free-form status input onto one of the four known states.
// Matching is by substring, checked in a fixed order; anything unrecognized is pending.
func Normalize(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "cancel"):
		return StatusCancelled
	case strings.Contains(s, "complete"):
		return StatusCompleted
	case strings.Contains(s, "process"):
		return StatusProcessing
	default:
		return StatusPending
	}
}

// IsPendingLike reports 1 for statuses that count toward the pending bucket.
func IsPendingLike(s Status) int {
	switch Normalize(string(s)) {
	case StatusCompleted, StatusCancelled:
		return 0
	default:
		return 1
	}
}

func isCompleted(s Status) int {
	if Normalize(string(s)) == StatusCompleted {
		return 1
	}
	return 0
}

// ComputeDelta returns the counter change for moving an order from old to next.
// Total is never touched by a transition; it is counted once at creation.
func ComputeDelta(old, next Status) Delta {
	return Delta{
		Pending:   IsPendingLike(next) - IsPendingLike(old),
		Completed: isCompleted(next) - isCompleted(old),
	}
}

// InitialDelta returns the counter change for creating an order in status s.
func InitialDelta(s Status) Delta {
	return Delta{
		Total:     1,
		Pending:   IsPendingLike(s),
		Completed: isCompleted(s),
	}
}
