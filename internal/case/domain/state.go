package domain

import (
	accessdomain "github.com/integrity-line/platform/internal/access/domain"
	"github.com/integrity-line/platform/internal/shared/errors"
)

// State is the lifecycle state of a case, stored by code.
type State string

const (
	StateNew        State = "NEW"
	StateInProgress State = "IN_PROGRESS"
	StateNeedsInfo  State = "NEEDS_INFO"
	StateResolved   State = "RESOLVED"
	StateClosed     State = "CLOSED"
)

// transitions is the complete edge set. CLOSED has no outgoing edges.
var transitions = map[State][]State{
	StateNew:        {StateInProgress},
	StateInProgress: {StateNeedsInfo, StateResolved, StateClosed},
	StateNeedsInfo:  {StateInProgress},
	StateResolved:   {StateClosed},
	StateClosed:     {},
}

// ParseState maps a code to a State.
func ParseState(code string) (State, bool) {
	s := State(code)
	_, ok := transitions[s]
	return s, ok
}

func (s State) String() string { return string(s) }

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Targets lists the states reachable from s in one step.
func (s State) Targets() []State {
	return append([]State(nil), transitions[s]...)
}

// CanTransition returns an IllegalStateTransition error unless from->to is
// an edge of the graph. Self-transitions are never edges.
func CanTransition(from, to State) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return errors.IllegalStateTransition(string(from), string(to))
}

// RequiredPermission is the permission a staff actor needs to move a case
// into state to.
func RequiredPermission(to State) (accessdomain.Permission, bool) {
	switch to {
	case StateInProgress, StateNeedsInfo:
		return accessdomain.PermCaseTriage, true
	case StateResolved:
		return accessdomain.PermCaseResolve, true
	case StateClosed:
		return accessdomain.PermCaseClose, true
	}
	return "", false
}

// SystemMayTransition reports whether the system actor may take an edge.
// The only automated edge is the return to work after reporter input.
func SystemMayTransition(from, to State) bool {
	return from == StateNeedsInfo && to == StateInProgress
}

// RequiresResolution reports whether entering to needs a recorded resolution.
func RequiresResolution(to State) bool {
	return to == StateClosed
}

// AcceptsReporterInput reports whether a reporter may add material to a
// case in state s.
func AcceptsReporterInput(s State) bool {
	return s == StateNew || s == StateInProgress || s == StateNeedsInfo
}
