package errs

import (
	"errors"
	"fmt"
)

var (
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrTicketClosed      = errors.New("ticket closed")
	ErrMissingReason     = errors.New("missing reason")
	ErrResponseLocked    = errors.New("response locked")
	ErrResponseMissing   = errors.New("response missing")
	ErrNotSigned         = errors.New("response not signed")
	ErrAlreadyRevoked    = errors.New("response already revoked")
	ErrNotRevoked        = errors.New("response not revoked")
	ErrNoPaymentFound    = errors.New("no payment found")
	ErrUnsupportedKind   = errors.New("unsupported ticket kind")
	ErrTicketNotActive   = errors.New("ticket not active")
	ErrConflict          = errors.New("concurrent modification")
)

var codes = map[error]string{
	ErrTicketNotFound:    "not_found",
	ErrInvalidArgument:   "invalid_argument",
	ErrInvalidTransition: "invalid_transition",
	ErrTicketClosed:      "ticket_closed",
	ErrMissingReason:     "missing_reason",
	ErrResponseLocked:    "response_locked",
	ErrResponseMissing:   "response_missing",
	ErrNotSigned:         "not_signed",
	ErrAlreadyRevoked:    "already_revoked",
	ErrNotRevoked:        "not_revoked",
	ErrNoPaymentFound:    "no_payment_found",
	ErrUnsupportedKind:   "unsupported_kind",
	ErrTicketNotActive:   "ticket_not_active",
	ErrConflict:          "conflict",
}

// TicketError wraps a domain sentinel with the ticket's state at the time of rejection,
// so callers can explain why an action failed.
type TicketError struct {
	Err      error
	TicketID uint64
	Status   string
	Detail   string
}

func (e *TicketError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.TicketID != 0 {
		msg = fmt.Sprintf("ticket %d: %s", e.TicketID, msg)
	}
	if e.Status != "" {
		msg += " (status " + e.Status + ")"
	}
	return msg
}

func (e *TicketError) Unwrap() error { return e.Err }

// New builds a TicketError for a ticket in the given status.
func New(sentinel error, ticketID uint64, status string, format string, args ...any) *TicketError {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &TicketError{Err: sentinel, TicketID: ticketID, Status: status, Detail: detail}
}

// Invalid is shorthand for an ErrInvalidArgument with a message.
func Invalid(format string, args ...any) error {
	return &TicketError{Err: ErrInvalidArgument, Detail: fmt.Sprintf(format, args...)}
}

// Code returns the machine-readable kind of err, or "internal" for errors outside the taxonomy.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for sentinel, code := range codes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "internal"
}

// Known reports whether err belongs to the domain taxonomy (expected, recoverable).
func Known(err error) bool {
	return Code(err) != "internal"
}

// Describe extracts the ticket id and status carried by err, if any.
func Describe(err error) (ticketID uint64, status string) {
	var te *TicketError
	if errors.As(err, &te) {
		return te.TicketID, te.Status
	}
	return 0, ""
}

// WithTicket attaches ticket context to err when it carries none yet.
func WithTicket(err error, ticketID uint64, status string) error {
	var te *TicketError
	if errors.As(err, &te) {
		if te.TicketID == 0 {
			te.TicketID = ticketID
		}
		if te.Status == "" {
			te.Status = status
		}
		return err
	}
	if Known(err) {
		return &TicketError{Err: err, TicketID: ticketID, Status: status}
	}
	return err
}
