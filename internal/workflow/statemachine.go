// Package workflow holds the request ticket transition graph. It only decides; callers persist.
package workflow

import (
	"strings"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
)

// Action is a staff action that moves a ticket along the fixed workflow.
type Action string

const (
	ActionBeginProcess   Action = "begin_process"
	ActionSendToDispatch Action = "send_to_dispatch"
	ActionDispatch       Action = "dispatch"
	ActionMarkReceived   Action = "mark_received"
	ActionComplete       Action = "complete"
	ActionCancel         Action = "cancel"
)

type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
	ModePayment   Mode = "payment"
)

// DefaultReasonMinLength is the minimum trimmed length of a manual override reason.
const DefaultReasonMinLength = 3

type edge struct {
	from model.TicketStatus
	to   model.TicketStatus
}

var automatic = map[Action]edge{
	ActionBeginProcess:   {model.TicketStatusPaid, model.TicketStatusInProcess},
	ActionSendToDispatch: {model.TicketStatusInProcess, model.TicketStatusReadyForDispatch},
	ActionDispatch:       {model.TicketStatusReadyForDispatch, model.TicketStatusDispatched},
	ActionMarkReceived:   {model.TicketStatusDispatched, model.TicketStatusReceived},
	ActionComplete:       {model.TicketStatusReceived, model.TicketStatusCompleted},
}

var manual = map[model.TicketStatus][]model.TicketStatus{
	model.TicketStatusInProcess:        {model.TicketStatusReadyForDispatch},
	model.TicketStatusReadyForDispatch: {model.TicketStatusInProcess, model.TicketStatusDispatched},
	model.TicketStatusDispatched:       {model.TicketStatusReceived},
	model.TicketStatusReceived:         {model.TicketStatusDispatched, model.TicketStatusCompleted},
}

// Notification names an automatic message to the requester emitted by a transition.
type Notification string

const (
	NotifyPaymentConfirmed Notification = "payment_confirmed"
	NotifyReadyForPickup   Notification = "ready_for_pickup"
	NotifyDispatched       Notification = "dispatched"
	NotifyCompleted        Notification = "completed"
	NotifyCancelled        Notification = "cancelled"
)

// Decision is an accepted transition and the side effects it implies.
type Decision struct {
	From          model.TicketStatus
	To            model.TicketStatus
	Mode          Mode
	Action        Action
	Reason        string
	Notifications []Notification
}

// Options carries the optional inputs of an automatic action.
type Options struct {
	TrackingNumber string
	Reason         string
}

// Decide validates an automatic staff action against the current status.
func Decide(current model.TicketStatus, action Action) (Decision, error) {
	if action == ActionCancel {
		if current.Terminal() {
			return Decision{}, errs.New(errs.ErrTicketClosed, 0, string(current), "cannot cancel")
		}
		return decision(current, model.TicketStatusCancelled, ModeAutomatic, action), nil
	}
	e, ok := automatic[action]
	if !ok {
		return Decision{}, errs.Invalid("unknown action %q", action)
	}
	if current.Terminal() {
		return Decision{}, errs.New(errs.ErrTicketClosed, 0, string(current), "cannot %s", action)
	}
	if current != e.from {
		return Decision{}, errs.New(errs.ErrInvalidTransition, 0, string(current), "%s requires status %s", action, e.from)
	}
	return decision(current, e.to, ModeAutomatic, action), nil
}

// DecideManual validates a manual override. The target is checked before the reason;
// an unknown target is just another status outside the manual table.
func DecideManual(current, target model.TicketStatus, reason string, minReason int) (Decision, error) {
	if !target.Valid() {
		return Decision{}, errs.New(errs.ErrInvalidTransition, 0, string(current), "unknown status %q", target)
	}
	if !manualAllowed(current, target) {
		return Decision{}, errs.New(errs.ErrInvalidTransition, 0, string(current), "manual change to %s not allowed", target)
	}
	if minReason <= 0 {
		minReason = DefaultReasonMinLength
	}
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) < minReason {
		return Decision{}, errs.New(errs.ErrMissingReason, 0, string(current), "reason must be at least %d characters", minReason)
	}
	d := decision(current, target, ModeManual, "")
	d.Reason = reason
	return d, nil
}

// DecidePayment is the only way into paid. It is not reachable from a staff action.
func DecidePayment(current model.TicketStatus) (Decision, error) {
	if current != model.TicketStatusPendingPayment {
		return Decision{}, errs.New(errs.ErrInvalidTransition, 0, string(current), "payment accepted only while pending_payment")
	}
	return decision(current, model.TicketStatusPaid, ModePayment, ""), nil
}

func decision(from, to model.TicketStatus, mode Mode, action Action) Decision {
	return Decision{From: from, To: to, Mode: mode, Action: action, Notifications: notificationsFor(to)}
}

func notificationsFor(to model.TicketStatus) []Notification {
	switch to {
	case model.TicketStatusPaid:
		return []Notification{NotifyPaymentConfirmed}
	case model.TicketStatusDispatched:
		return []Notification{NotifyDispatched}
	case model.TicketStatusCompleted:
		return []Notification{NotifyCompleted}
	case model.TicketStatusCancelled:
		return []Notification{NotifyCancelled}
	}
	return nil
}

func manualAllowed(current, target model.TicketStatus) bool {
	for _, s := range manual[current] {
		if s == target {
			return true
		}
	}
	return false
}

// Apply writes the decision onto t: status, the status timestamp (first entry only) and
// the action-specific fields. It does not touch updated_at or version.
func (d Decision) Apply(t *model.Ticket, now time.Time, opts Options) {
	t.Status = d.To
	switch d.To {
	case model.TicketStatusPaid:
		stamp(&t.PaidAt, now)
	case model.TicketStatusDispatched:
		stamp(&t.DispatchedAt, now)
		if tn := strings.TrimSpace(opts.TrackingNumber); tn != "" && d.Action == ActionDispatch {
			t.TrackingNumber = tn
		}
	case model.TicketStatusReceived:
		stamp(&t.ReceivedAt, now)
	case model.TicketStatusCompleted:
		stamp(&t.CompletedAt, now)
	case model.TicketStatusCancelled:
		stamp(&t.CancelledAt, now)
		t.CancellationReason = strings.TrimSpace(opts.Reason)
	}
}

func stamp(field **time.Time, now time.Time) {
	if *field != nil {
		return
	}
	v := now
	*field = &v
}

// WithServiceType adds notifications that depend on the ticket's fulfilment.
func (d Decision) WithServiceType(st model.ServiceType) Decision {
	if d.To == model.TicketStatusReadyForDispatch && st == model.ServiceExpress {
		d.Notifications = append(d.Notifications, NotifyReadyForPickup)
	}
	return d
}

// AllowedActions lists the automatic actions valid from status.
func AllowedActions(status model.TicketStatus) []Action {
	if status.Terminal() {
		return nil
	}
	var out []Action
	for _, a := range []Action{ActionBeginProcess, ActionSendToDispatch, ActionDispatch, ActionMarkReceived, ActionComplete} {
		if automatic[a].from == status {
			out = append(out, a)
		}
	}
	return append(out, ActionCancel)
}

// ManualTargets lists the manual override targets valid from status.
func ManualTargets(status model.TicketStatus) []model.TicketStatus {
	return append([]model.TicketStatus(nil), manual[status]...)
}

// ParseAction validates an action name coming from a caller.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.TrimSpace(s))
	if a == ActionCancel {
		return a, true
	}
	_, ok := automatic[a]
	return a, ok
}
