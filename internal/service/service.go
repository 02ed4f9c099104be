// Package service is the request ticket lifecycle engine. Every mutation reads the ticket,
// lets a pure decision change a copy, and commits the copy conditioned on the version read.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/documents"
	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/kafka"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/psds-microservice/certificate-request-service/internal/store"
	"github.com/psds-microservice/certificate-request-service/internal/workflow"
	"gorm.io/datatypes"
)

// Indexer receives every committed ticket state (searchindex.Client).
type Indexer interface {
	IndexTicketAsync(t *model.Ticket)
}

// PaymentGateway reads payment status from payment-service (payment.Client).
type PaymentGateway interface {
	Lookup(ctx context.Context, paymentID string) (model.PaymentRecord, error)
}

type Options struct {
	ManualReasonMinLength int
	CommentMaxLength      int
	BulkMaxItems          int
}

func (o Options) withDefaults() Options {
	if o.ManualReasonMinLength <= 0 {
		o.ManualReasonMinLength = workflow.DefaultReasonMinLength
	}
	if o.CommentMaxLength <= 0 {
		o.CommentMaxLength = 10000
	}
	if o.BulkMaxItems <= 0 {
		o.BulkMaxItems = 500
	}
	return o
}

// Deps: зависимости движка. Store обязателен, остальное опционально.
type Deps struct {
	Store    store.Store
	Events   kafka.TicketEventProducer
	Search   Indexer
	Payments PaymentGateway
	Renderer documents.Renderer
	Storage  documents.Storage
	Log      *slog.Logger
	Clock    func() time.Time
	Options  Options
}

// Engine bundles the components that share one store.
type Engine struct {
	Tickets     *TicketService
	Assignments *AssignmentTracker
	Ledger      *Ledger
	Responses   *ResponseLifecycle
	Payments    *PaymentReconciler
	Bulk        *BulkCoordinator
	Stats       *Statistics
}

func New(d Deps) *Engine {
	c := &core{
		store:  d.Store,
		events: d.Events,
		search: d.Search,
		log:    d.Log,
		clock:  d.Clock,
		opts:   d.Options.withDefaults(),
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	e := &Engine{
		Tickets:     &TicketService{core: c},
		Assignments: &AssignmentTracker{core: c},
		Ledger:      &Ledger{core: c},
		Responses:   &ResponseLifecycle{core: c, renderer: d.Renderer, storage: d.Storage},
		Payments:    &PaymentReconciler{core: c, gateway: d.Payments},
		Stats:       &Statistics{core: c},
	}
	e.Bulk = &BulkCoordinator{core: c, assign: e.Assignments, tickets: e.Tickets, ledger: e.Ledger}
	return e
}

type core struct {
	store  store.Store
	events kafka.TicketEventProducer
	search Indexer
	log    *slog.Logger
	clock  func() time.Time
	opts   Options
}

func (c *core) now() time.Time {
	return c.clock().UTC()
}

type event struct {
	name  string
	extra map[string]interface{}
}

// mutation is what an apply step wants committed next to the changed ticket.
type mutation struct {
	noop     bool
	entries  []model.ActivityEntry
	response *model.ConfirmationResponse
	events   []event
}

// applyFunc changes t in place. It must not have side effects outside t: on a version
// conflict it runs a second time against fresh state to explain the failure.
type applyFunc func(t *model.Ticket, now time.Time) (mutation, error)

func (c *core) mutate(ctx context.Context, id uint64, apply applyFunc) (*model.Ticket, error) {
	cur, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := c.now()
	next := cur.Clone()
	m, err := apply(next, now)
	if err != nil {
		return nil, errs.WithTicket(err, cur.ID, string(cur.Status))
	}
	if m.noop {
		return cur, nil
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	for i := range m.entries {
		m.entries[i].TicketID = id
	}
	err = c.store.Commit(ctx, store.Change{
		Ticket:          next,
		ExpectedVersion: cur.Version,
		Response:        m.response,
		Entries:         m.entries,
	})
	if errors.Is(err, errs.ErrConflict) {
		return nil, c.explainConflict(ctx, id, apply)
	}
	if err != nil {
		if errs.Known(err) {
			return nil, errs.WithTicket(err, cur.ID, string(cur.Status))
		}
		return nil, fmt.Errorf("commit ticket %d: %w", id, err)
	}
	c.committed(ctx, next, m.events)
	return next, nil
}

// explainConflict re-evaluates a lost race against the winner's state. If the action is no
// longer valid the caller gets the domain error; otherwise a retriable conflict.
func (c *core) explainConflict(ctx context.Context, id uint64, apply applyFunc) error {
	fresh, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, aerr := apply(fresh.Clone(), c.now()); aerr != nil {
		return errs.WithTicket(aerr, fresh.ID, string(fresh.Status))
	}
	c.log.Debug("ticket changed concurrently", "ticket_id", id, "version", fresh.Version)
	return errs.New(errs.ErrConflict, fresh.ID, string(fresh.Status), "ticket changed concurrently, retry")
}

// committed публикует события и обновляет поисковый индекс (fire-and-forget).
func (c *core) committed(ctx context.Context, t *model.Ticket, events []event) {
	if c.search != nil {
		c.search.IndexTicketAsync(t)
	}
	if c.events == nil || len(events) == 0 {
		return
	}
	base := EventPayload(t)
	for _, ev := range events {
		payload := make(map[string]interface{}, len(base)+len(ev.extra))
		for k, v := range base {
			payload[k] = v
		}
		for k, v := range ev.extra {
			payload[k] = v
		}
		name := ev.name
		// Событие должно уйти даже при отмене запроса, но с таймаутом.
		go func() {
			eventCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			c.events.ProduceTicketEvent(eventCtx, name, payload)
		}()
	}
}

// EventPayload is the common body of every ticket event.
func EventPayload(t *model.Ticket) map[string]interface{} {
	return map[string]interface{}{
		"ticket_id":       int64(t.ID),
		"request_number":  t.RequestNumber,
		"kind":            string(t.Kind),
		"status":          string(t.Status),
		"priority":        string(t.Priority),
		"assigned_to":     t.AssignedTo,
		"submitter_email": t.SubmitterEmail,
		"version":         t.Version,
	}
}

func entry(actor string, kind model.ActionKind, now time.Time, payload datatypes.JSONMap) model.ActivityEntry {
	return model.ActivityEntry{ActorID: actor, Kind: kind, Payload: payload, CreatedAt: now}
}

// statusChange builds the ledger entry and events for an accepted transition.
func statusChange(actor string, d workflow.Decision, t *model.Ticket, now time.Time) mutation {
	payload := datatypes.JSONMap{
		"from": string(d.From),
		"to":   string(d.To),
		"mode": string(d.Mode),
	}
	if d.Action != "" {
		payload["action"] = string(d.Action)
	}
	if d.Reason != "" {
		payload["reason"] = d.Reason
	}
	if d.To == model.TicketStatusDispatched && t.TrackingNumber != "" {
		payload["tracking_number"] = t.TrackingNumber
	}
	if d.To == model.TicketStatusCancelled && t.CancellationReason != "" {
		payload["reason"] = t.CancellationReason
	}
	kind := model.ActionStatusChange
	if d.Mode == workflow.ModePayment {
		kind = model.ActionReconciliation
	}
	m := mutation{
		entries: []model.ActivityEntry{entry(actor, kind, now, payload)},
		events: []event{{name: "ticket.status_changed", extra: map[string]interface{}{
			"from": string(d.From),
			"mode": string(d.Mode),
		}}},
	}
	for _, n := range d.Notifications {
		m.events = append(m.events, event{name: "ticket.notification", extra: map[string]interface{}{
			"notification": string(n),
		}})
	}
	return m
}

func requireActor(actor string) (string, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "", errs.Invalid("actor id is required")
	}
	return actor, nil
}
