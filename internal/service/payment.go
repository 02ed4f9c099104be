package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/psds-microservice/certificate-request-service/internal/workflow"
)

type Outcome string

const (
	OutcomeReconciled        Outcome = "reconciled"
	OutcomeAlreadyReconciled Outcome = "already_reconciled"
	OutcomeTicketClosed      Outcome = "ticket_closed"
	OutcomePaymentPending    Outcome = "payment_pending"
	OutcomePaymentFailed     Outcome = "payment_failed"
)

type ReconcileResult struct {
	Ticket    *model.Ticket `json:"ticket"`
	PaymentID string        `json:"payment_id"`
	Outcome   Outcome       `json:"outcome"`
}

// PaymentReconciler moves a ticket from pending_payment to paid exactly once per payment.
// Replays of a successful signal are reported, not rejected.
type PaymentReconciler struct {
	*core
	gateway PaymentGateway
}

// Reconcile looks the payment up in payment-service and applies its status.
func (p *PaymentReconciler) Reconcile(ctx context.Context, paymentID string) (*ReconcileResult, error) {
	t, err := p.ticketFor(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	paymentID = *t.PaymentID
	if t.Status != model.TicketStatusPendingPayment {
		return &ReconcileResult{Ticket: t, PaymentID: paymentID, Outcome: settledOutcome(t)}, nil
	}
	if p.gateway == nil {
		return nil, errs.New(errs.ErrNoPaymentFound, t.ID, string(t.Status), "payment service not configured")
	}
	rec, err := p.gateway.Lookup(ctx, paymentID)
	if err != nil {
		return nil, errs.WithTicket(err, t.ID, string(t.Status))
	}
	return p.apply(ctx, t.ID, rec)
}

// HandlePaymentSignal handles a status pushed over HTTP callback or Kafka. The pushed status is
// only a hint: the payment is read back from payment-service and its record alone is applied.
func (p *PaymentReconciler) HandlePaymentSignal(ctx context.Context, s model.PaymentSignal) (*ReconcileResult, error) {
	if !s.Status.Valid() {
		return nil, errs.Invalid("unknown payment status %q", s.Status)
	}
	res, err := p.Reconcile(ctx, s.PaymentID)
	if err != nil {
		return nil, err
	}
	if s.Status == model.PaymentReconciled && (res.Outcome == OutcomePaymentPending || res.Outcome == OutcomePaymentFailed) {
		p.log.Warn("payment signal disagrees with payment service",
			"payment_id", res.PaymentID, "ticket_id", res.Ticket.ID, "signal", s.Status, "outcome", res.Outcome)
	}
	return res, nil
}

func (p *PaymentReconciler) ticketFor(ctx context.Context, paymentID string) (*model.Ticket, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, errs.Invalid("payment_id is required")
	}
	t, err := p.store.GetByPaymentID(ctx, paymentID)
	if errors.Is(err, errs.ErrTicketNotFound) {
		return nil, errs.New(errs.ErrNoPaymentFound, 0, "", "no ticket linked to payment %s", paymentID)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *PaymentReconciler) apply(ctx context.Context, id uint64, rec model.PaymentRecord) (*ReconcileResult, error) {
	var outcome Outcome
	t, err := p.mutate(ctx, id, func(t *model.Ticket, now time.Time) (mutation, error) {
		if t.PaymentID == nil || *t.PaymentID != rec.ID {
			return mutation{}, errs.New(errs.ErrNoPaymentFound, t.ID, string(t.Status), "payment %s is not linked to this ticket", rec.ID)
		}
		if t.Status != model.TicketStatusPendingPayment {
			outcome = settledOutcome(t)
			return mutation{noop: true}, nil
		}
		switch rec.Status {
		case model.PaymentPending:
			outcome = OutcomePaymentPending
			return mutation{noop: true}, nil
		case model.PaymentFailed:
			outcome = OutcomePaymentFailed
			return mutation{noop: true}, nil
		}
		d, err := workflow.DecidePayment(t.Status)
		if err != nil {
			return mutation{}, err
		}
		d.Apply(t, now, workflow.Options{})
		m := statusChange(model.SystemActor, d, t, now)
		m.entries[0].Payload["payment_id"] = rec.ID
		m.entries[0].Payload["amount"] = rec.Amount
		if rec.Currency != "" {
			m.entries[0].Payload["currency"] = rec.Currency
		}
		outcome = OutcomeReconciled
		return m, nil
	})
	if errors.Is(err, errs.ErrConflict) {
		// Проигравший в гонке дубликат: если заявка уже оплачена, это не ошибка.
		fresh, gerr := p.store.Get(ctx, id)
		if gerr == nil && fresh.Status != model.TicketStatusPendingPayment {
			return &ReconcileResult{Ticket: fresh, PaymentID: rec.ID, Outcome: settledOutcome(fresh)}, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if outcome == OutcomeReconciled {
		p.log.Info("payment reconciled", "ticket_id", t.ID, "payment_id", rec.ID, "amount", rec.Amount)
	}
	return &ReconcileResult{Ticket: t, PaymentID: rec.ID, Outcome: outcome}, nil
}

func settledOutcome(t *model.Ticket) Outcome {
	if t.Status == model.TicketStatusCancelled {
		return OutcomeTicketClosed
	}
	return OutcomeAlreadyReconciled
}
