package order

import "fmt"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

// Statuses lists every value accepted by the status filter and ChangeStatus.
var Statuses = []Status{StatusPending, StatusPaid, StatusCancelled}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether a generic status change may move an order
// from s to next. PAID is only reachable through payment confirmation, and
// PAID/CANCELLED are terminal.
func (s Status) CanTransitionTo(next Status) error {
	if s == next {
		return nil
	}
	switch {
	case next == StatusPaid:
		return fmt.Errorf("%w: %s -> %s is applied by payment confirmation only", ErrInvalidStatusTransition, s, next)
	case s == StatusPending && next == StatusCancelled:
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, s, next)
	}
}
