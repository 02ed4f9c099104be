package service

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/psds-microservice/certificate-request-service/internal/store"
	"github.com/psds-microservice/certificate-request-service/internal/workflow"
	"gorm.io/datatypes"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// TicketService: создание заявок, чтение и переходы по статусам.
type TicketService struct {
	*core
}

type CreateInput struct {
	Kind            model.TicketKind
	Scope           model.RequestScope
	ServiceType     model.ServiceType
	SubmitterName   string
	SubmitterEmail  string
	SubmitterPhone  string
	DeliveryAddress string
	Details         []model.CertificateDetail
	// PaymentID is for staff-side creation; the public route never sets it.
	PaymentID string
}

func (in *CreateInput) normalize() error {
	if !in.Kind.Valid() {
		return errs.Invalid("unknown kind %q", in.Kind)
	}
	if in.Scope == "" {
		in.Scope = model.ScopeSingle
	}
	if in.ServiceType == "" {
		in.ServiceType = model.ServiceStandard
	}
	switch {
	case in.Scope != model.ScopeSingle && in.Scope != model.ScopeBulk:
		return errs.Invalid("unknown scope %q", in.Scope)
	case in.Scope == model.ScopeBulk && !in.Kind.HasResponse():
		return errs.Invalid("%s requests cannot be bulk", in.Kind)
	case !in.ServiceType.Valid():
		return errs.Invalid("unknown service type %q", in.ServiceType)
	}
	in.SubmitterName = strings.TrimSpace(in.SubmitterName)
	in.SubmitterEmail = strings.TrimSpace(in.SubmitterEmail)
	if in.SubmitterName == "" {
		return errs.Invalid("submitter_name is required")
	}
	if _, err := mail.ParseAddress(in.SubmitterEmail); err != nil {
		return errs.Invalid("submitter_email is not a valid address")
	}
	if len(in.Details) == 0 {
		return errs.Invalid("at least one certificate detail is required")
	}
	if in.Scope == model.ScopeSingle && len(in.Details) != 1 {
		return errs.Invalid("single requests carry exactly one certificate detail, got %d", len(in.Details))
	}
	for i := range in.Details {
		d := &in.Details[i]
		d.StudentName = strings.TrimSpace(d.StudentName)
		d.RegistrationNumber = strings.TrimSpace(d.RegistrationNumber)
		if d.StudentName == "" || d.RegistrationNumber == "" {
			return errs.Invalid("details[%d]: student_name and registration_number are required", i)
		}
	}
	in.PaymentID = strings.TrimSpace(in.PaymentID)
	return nil
}

// NewRequestNumber формирует номер вида CRT-20261014-9F3A12BC. Номер не меняется после создания.
func NewRequestNumber(kind model.TicketKind, now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("%s-%s-%s", kind.Prefix(), now.UTC().Format("20060102"), strings.ToUpper(hex.EncodeToString(id[:4])))
}

// Create registers a new request in pending_payment. Creation is the first status_change entry.
// Priority starts at medium and notes empty: both are staff fields changed by SetPriority/SetNotes.
func (s *TicketService) Create(ctx context.Context, actor string, in CreateInput) (*model.Ticket, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = model.SystemActor
	}
	now := s.now()
	t := &model.Ticket{
		RequestNumber:   NewRequestNumber(in.Kind, now),
		Kind:            in.Kind,
		Scope:           in.Scope,
		Status:          model.TicketStatusPendingPayment,
		Priority:        model.PriorityMedium,
		ServiceType:     in.ServiceType,
		SubmitterName:   in.SubmitterName,
		SubmitterEmail:  in.SubmitterEmail,
		SubmitterPhone:  strings.TrimSpace(in.SubmitterPhone),
		DeliveryAddress: strings.TrimSpace(in.DeliveryAddress),
		Details:         datatypes.JSONSlice[model.CertificateDetail](in.Details),
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	if in.PaymentID != "" {
		pid := in.PaymentID
		t.PaymentID = &pid
	}
	created := entry(actor, model.ActionStatusChange, now, datatypes.JSONMap{
		"from": "",
		"to":   string(model.TicketStatusPendingPayment),
		"mode": "created",
	})
	if err := s.store.Create(ctx, t, created); err != nil {
		if errs.Known(err) {
			return nil, err
		}
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	s.log.Info("ticket created", "ticket_id", t.ID, "request_number", t.RequestNumber, "kind", t.Kind)
	s.committed(ctx, t, []event{{name: "ticket.created"}})
	return t, nil
}

func (s *TicketService) GetByID(ctx context.Context, id uint64) (*model.Ticket, error) {
	return s.store.Get(ctx, id)
}

func (s *TicketService) GetByRequestNumber(ctx context.Context, number string) (*model.Ticket, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == "" {
		return nil, errs.ErrTicketNotFound
	}
	return s.store.GetByRequestNumber(ctx, number)
}

func (s *TicketService) List(ctx context.Context, f store.Filter) ([]model.Ticket, int64, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, errs.Invalid("unknown status %q", f.Status)
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, 0, errs.Invalid("unknown kind %q", f.Kind)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, 0, errs.Invalid("unknown priority %q", f.Priority)
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.List(ctx, f)
}

// Transition applies an automatic staff action.
func (s *TicketService) Transition(ctx context.Context, id uint64, actor string, action workflow.Action, opts workflow.Options) (*model.Ticket, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(t *model.Ticket, now time.Time) (mutation, error) {
		d, err := workflow.Decide(t.Status, action)
		if err != nil {
			return mutation{}, err
		}
		d = d.WithServiceType(t.ServiceType)
		d.Apply(t, now, opts)
		return statusChange(actor, d, t, now), nil
	})
}

// ManualTransition applies a staff override from the manual table. The reason is ledgered.
func (s *TicketService) ManualTransition(ctx context.Context, id uint64, actor string, target model.TicketStatus, reason string) (*model.Ticket, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(t *model.Ticket, now time.Time) (mutation, error) {
		d, err := workflow.DecideManual(t.Status, target, reason, s.opts.ManualReasonMinLength)
		if err != nil {
			return mutation{}, err
		}
		d = d.WithServiceType(t.ServiceType)
		d.Apply(t, now, workflow.Options{})
		return statusChange(actor, d, t, now), nil
	})
}

func (s *TicketService) SetPriority(ctx context.Context, id uint64, actor string, p model.Priority) (*model.Ticket, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return nil, err
	}
	if !p.Valid() {
		return nil, errs.Invalid("unknown priority %q", p)
	}
	return s.mutate(ctx, id, func(t *model.Ticket, now time.Time) (mutation, error) {
		if t.Status.Terminal() {
			return mutation{}, errs.New(errs.ErrTicketClosed, t.ID, string(t.Status), "cannot change priority")
		}
		if t.Priority == p {
			return mutation{noop: true}, nil
		}
		from := t.Priority
		t.Priority = p
		return mutation{
			entries: []model.ActivityEntry{entry(actor, model.ActionPriorityChange, now, datatypes.JSONMap{
				"from": string(from),
				"to":   string(p),
			})},
			events: []event{{name: "ticket.updated"}},
		}, nil
	})
}

// SetNotes overwrites the free-form staff notes. Notes are a current value, not history.
func (s *TicketService) SetNotes(ctx context.Context, id uint64, notes string) (*model.Ticket, error) {
	if len([]rune(notes)) > s.opts.CommentMaxLength {
		return nil, errs.Invalid("notes longer than %d characters", s.opts.CommentMaxLength)
	}
	return s.mutate(ctx, id, func(t *model.Ticket, _ time.Time) (mutation, error) {
		if t.Notes == notes {
			return mutation{noop: true}, nil
		}
		t.Notes = notes
		return mutation{events: []event{{name: "ticket.updated"}}}, nil
	})
}

// LinkPayment associates a payment with a ticket that is still awaiting payment.
func (s *TicketService) LinkPayment(ctx context.Context, id uint64, paymentID string) (*model.Ticket, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, errs.Invalid("payment_id is required")
	}
	return s.mutate(ctx, id, func(t *model.Ticket, _ time.Time) (mutation, error) {
		if t.Status.Terminal() {
			return mutation{}, errs.New(errs.ErrTicketClosed, t.ID, string(t.Status), "cannot link payment")
		}
		if t.Status != model.TicketStatusPendingPayment {
			return mutation{}, errs.New(errs.ErrInvalidTransition, t.ID, string(t.Status), "payment can be linked only while pending_payment")
		}
		if t.PaymentID != nil && *t.PaymentID == paymentID {
			return mutation{noop: true}, nil
		}
		t.PaymentID = &paymentID
		return mutation{events: []event{{name: "ticket.payment_linked", extra: map[string]interface{}{"payment_id": paymentID}}}}, nil
	})
}

// Tracking is the requester-facing view of a ticket: no staff fields, and the response only
// once it is signed and not revoked.
type Tracking struct {
	RequestNumber  string                      `json:"request_number"`
	Kind           model.TicketKind            `json:"kind"`
	Status         model.TicketStatus          `json:"status"`
	ServiceType    model.ServiceType           `json:"service_type"`
	TrackingNumber string                      `json:"tracking_number,omitempty"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
	PaidAt         *time.Time                  `json:"paid_at,omitempty"`
	DispatchedAt   *time.Time                  `json:"dispatched_at,omitempty"`
	CompletedAt    *time.Time                  `json:"completed_at,omitempty"`
	CancelledAt    *time.Time                  `json:"cancelled_at,omitempty"`
	Response       *model.ConfirmationResponse `json:"response,omitempty"`
}

func (s *TicketService) Track(ctx context.Context, number string) (*Tracking, error) {
	t, err := s.GetByRequestNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	view := &Tracking{
		RequestNumber:  t.RequestNumber,
		Kind:           t.Kind,
		Status:         t.Status,
		ServiceType:    t.ServiceType,
		TrackingNumber: t.TrackingNumber,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		PaidAt:         t.PaidAt,
		DispatchedAt:   t.DispatchedAt,
		CompletedAt:    t.CompletedAt,
		CancelledAt:    t.CancelledAt,
	}
	if t.Kind.HasResponse() {
		r, err := s.store.GetResponse(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("tracking response: %w", err)
		}
		if r.Visible() {
			r.CreatedBy, r.SignedBy, r.RevokedBy = "", "", ""
			view.Response = r
		}
	}
	return view, nil
}
