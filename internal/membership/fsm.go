// Package membership defines the relationship lifecycle shared by band_members
// and school_teachers: the status enum, the two acting sides and the transition
// table that decides what each side may do from each status.
package membership

import (
	"fmt"

	"github.com/bandyab/bandyab/internal/domain"
)

// Status is the lifecycle state of a membership row
type Status string

const (
	StatusPending   Status = "pending"   // organization invited the individual
	StatusRequested Status = "requested" // individual asked to join the organization
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusLeft      Status = "left"
)

// AllStatuses lists every status in lifecycle order
func AllStatuses() []Status {
	return []Status{StatusPending, StatusRequested, StatusAccepted, StatusRejected, StatusLeft}
}

// ParseStatus converts a raw string into a Status
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown membership status %q: %w", s, domain.Invalid("status", "وضعیت عضویت نامعتبر است."))
	}
	return st, nil
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRequested, StatusAccepted, StatusRejected, StatusLeft:
		return true
	}
	return false
}

// Active reports whether a row in this status occupies the (organization, individual)
// pair. Only one active row may exist per pair.
func (s Status) Active() bool {
	return s.Valid() && s != StatusLeft
}

// Side identifies which end of the relationship is acting
type Side string

const (
	SideOrganization Side = "organization"
	SideIndividual   Side = "individual"
)

// Other returns the counterpart side
func (s Side) Other() Side {
	if s == SideOrganization {
		return SideIndividual
	}
	return SideOrganization
}

// OpeningStatus is the status a new row gets when created by side s.
func OpeningStatus(s Side) Status {
	if s == SideOrganization {
		return StatusPending
	}
	return StatusRequested
}

// Initiator returns the side that opened a row still waiting for an answer.
func Initiator(s Status) (Side, bool) {
	switch s {
	case StatusPending:
		return SideOrganization, true
	case StatusRequested:
		return SideIndividual, true
	}
	return "", false
}

// Action is something a side does to an existing row
type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
	ActionCancel Action = "cancel"
	ActionLeave  Action = "leave"
	ActionRemove Action = "remove"
	ActionDelete Action = "delete"
)

// ParseAction converts a raw string into an Action
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionAccept, ActionReject, ActionCancel, ActionLeave, ActionRemove, ActionDelete:
		return a, nil
	}
	return "", fmt.Errorf("unknown membership action %q: %w", s, domain.Invalid("action", "عملیات عضویت نامعتبر است."))
}

// Effect is the storage operation a transition requires
type Effect int

const (
	EffectNone   Effect = iota // idempotent, nothing to write
	EffectUpdate               // compare-and-swap the status
	EffectDelete               // hard delete, frees the pair
)

// Outcome describes the result of applying an action
type Outcome struct {
	Effect Effect
	To     Status
	// StampRejectedBy is true when rejected_by must be set to the acting profile.
	// Any update that does not stamp it clears it.
	StampRejectedBy bool
}

type transitionKey struct {
	from   Status
	actor  Side
	action Action
}

var (
	org = SideOrganization
	ind = SideIndividual

	toAccepted = Outcome{Effect: EffectUpdate, To: StatusAccepted}
	toRejected = Outcome{Effect: EffectUpdate, To: StatusRejected, StampRejectedBy: true}
	toLeft     = Outcome{Effect: EffectUpdate, To: StatusLeft}
	hardDelete = Outcome{Effect: EffectDelete}
	unchanged  = Outcome{Effect: EffectNone, To: StatusAccepted}
)

var transitions = map[transitionKey]Outcome{
	// Counterpart answers an open invitation or request.
	{StatusPending, ind, ActionAccept}:   toAccepted,
	{StatusPending, ind, ActionReject}:   toRejected,
	{StatusRequested, org, ActionAccept}: toAccepted,
	{StatusRequested, org, ActionReject}: toRejected,

	// Initiator withdraws.
	{StatusPending, org, ActionCancel}:   hardDelete,
	{StatusRequested, ind, ActionCancel}: hardDelete,

	// Ending an accepted relationship.
	{StatusAccepted, ind, ActionLeave}:  toLeft,
	{StatusAccepted, org, ActionRemove}: toLeft,
	{StatusAccepted, ind, ActionAccept}: unchanged,
	{StatusAccepted, org, ActionAccept}: unchanged,

	// Either party may accept a rejected row again or clear it away.
	{StatusRejected, ind, ActionAccept}: toAccepted,
	{StatusRejected, org, ActionAccept}: toAccepted,
	{StatusRejected, ind, ActionDelete}: hardDelete,
	{StatusRejected, org, ActionDelete}: hardDelete,

	{StatusLeft, ind, ActionDelete}: hardDelete,
	{StatusLeft, org, ActionDelete}: hardDelete,
}

// Next looks up the outcome of actor performing action on a row in status from.
func Next(from Status, actor Side, action Action) (Outcome, error) {
	out, ok := transitions[transitionKey{from, actor, action}]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s cannot %s a %s membership", domain.ErrInvalidTransition, actor, action, from)
	}
	return out, nil
}

// Allowed returns the actions side may take on a row in status from, in a stable order.
func Allowed(from Status, side Side) []Action {
	var out []Action
	for _, a := range []Action{ActionAccept, ActionReject, ActionCancel, ActionLeave, ActionRemove, ActionDelete} {
		if o, ok := transitions[transitionKey{from, side, a}]; ok && o.Effect != EffectNone {
			out = append(out, a)
		}
	}
	return out
}
