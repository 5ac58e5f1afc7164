package domain

import "fmt"

// ConnectionStatus is the state of a UserConnection row. It is a closed enum:
// use Respond to compute transitions instead of comparing raw strings.
type ConnectionStatus string

const (
	// StatusPending: request sent, awaiting the addressee's response.
	StatusPending ConnectionStatus = "pending"
	// StatusAccepted: the addressee accepted; the pair may message.
	StatusAccepted ConnectionStatus = "accepted"
	// StatusDeclined: the addressee declined; kept as history.
	StatusDeclined ConnectionStatus = "declined"
	// StatusBlocked: the addressee blocked the requester; kept as history.
	StatusBlocked ConnectionStatus = "blocked"
)

// ResponseAction is what an addressee may do with a pending request.
type ResponseAction string

const (
	ActionAccept  ResponseAction = "accept"
	ActionDecline ResponseAction = "decline"
	ActionBlock   ResponseAction = "block"
)

// Valid reports whether s is one of the known statuses.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusBlocked:
		return true
	}
	return false
}

// Valid reports whether a is a known response action.
func (a ResponseAction) Valid() bool {
	switch a {
	case ActionAccept, ActionDecline, ActionBlock:
		return true
	}
	return false
}

// Respond computes the status transition for action a. Only a pending row
// may transition; every other combination is rejected, which keeps illegal
// transitions out of the store by construction.
func (s ConnectionStatus) Respond(a ResponseAction) (ConnectionStatus, error) {
	if !a.Valid() {
		return s, fmt.Errorf("unknown response action %q", a)
	}
	if s != StatusPending {
		return s, fmt.Errorf("cannot respond to a connection with status %q", s)
	}
	switch a {
	case ActionAccept:
		return StatusAccepted, nil
	case ActionDecline:
		return StatusDeclined, nil
	default:
		return StatusBlocked, nil
	}
}
