package offer

import "fmt"

type Status string

const (
	StatusPendingDocument Status = "PENDING_DOCUMENT"
	StatusActive          Status = "ACTIVE"
	StatusAccepted        Status = "ACCEPTED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
	StatusWithdrawn       Status = "WITHDRAWN"
)

// OpenStatuses are the states that block a second offer from the same buyer.
var OpenStatuses = []Status{StatusPendingDocument, StatusActive}

// transitions lists the allowed next states. PENDING_DOCUMENT may "transition"
// to itself so a failed scan can still record the uploaded document.
var transitions = map[Status][]Status{
	StatusPendingDocument: {StatusPendingDocument, StatusActive, StatusExpired, StatusRejected, StatusWithdrawn},
	StatusActive:          {StatusAccepted, StatusExpired, StatusRejected, StatusWithdrawn},
}

// IsOpen reports whether the offer still awaits a decision.
func (s Status) IsOpen() bool {
	return s == StatusPendingDocument || s == StatusActive
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok && s.Valid()
}

// CanTransitionTo reports whether next is reachable from s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPendingDocument, StatusActive, StatusAccepted, StatusRejected, StatusExpired, StatusWithdrawn:
		return true
	default:
		return false
	}
}

// ParseStatus validates a status coming from a request.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, raw)
	}
	return s, nil
}
