package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/documents"
	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/logger"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/psds-microservice/certificate-request-service/internal/store"
	"github.com/psds-microservice/certificate-request-service/internal/store/memstore"
	"github.com/psds-microservice/certificate-request-service/internal/workflow"
	"github.com/stretchr/testify/require"
)

const staff = "staff-1"

type recordedEvent struct {
	name    string
	payload map[string]interface{}
}

type fakeProducer struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakeProducer) ProduceTicketEvent(_ context.Context, event string, payload map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{name: event, payload: payload})
}

func (p *fakeProducer) has(name, key, value string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.name == name && (key == "" || e.payload[key] == value) {
			return true
		}
	}
	return false
}

type fakeGateway struct {
	mu      sync.Mutex
	records map[string]model.PaymentRecord
	calls   int
}

func (g *fakeGateway) Lookup(_ context.Context, id string) (model.PaymentRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	rec, ok := g.records[id]
	if !ok {
		return model.PaymentRecord{}, errs.New(errs.ErrNoPaymentFound, 0, "", "unknown payment %s", id)
	}
	return rec, nil
}

func (g *fakeGateway) set(id string, st model.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[id] = model.PaymentRecord{ID: id, Status: st, Amount: 2500, Currency: "NGN"}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	*Engine
	store    store.Store
	events   *fakeProducer
	gateway  *fakeGateway
	clock    *testClock
	payments int
}

func newEnv(t *testing.T, opts ...func(*Deps)) *env {
	t.Helper()
	files, err := documents.NewFileStore(t.TempDir())
	require.NoError(t, err)
	e := &env{
		store:   memstore.New(),
		events:  &fakeProducer{},
		gateway: &fakeGateway{records: map[string]model.PaymentRecord{}},
		clock:   &testClock{now: time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)},
	}
	d := Deps{
		Store:    e.store,
		Events:   e.events,
		Payments: e.gateway,
		Renderer: documents.JSONRenderer{Institution: "Faculty of Science"},
		Storage:  files,
		Log:      logger.Discard(),
		Clock:    e.clock.Now,
	}
	for _, o := range opts {
		o(&d)
	}
	e.store = d.Store
	e.Engine = New(d)
	return e
}

func certificateInput(kind model.TicketKind) CreateInput {
	return CreateInput{
		Kind:           kind,
		SubmitterName:  "Ada Obi",
		SubmitterEmail: "ada@example.org",
		Details:        []model.CertificateDetail{{StudentName: "Ada Obi", RegistrationNumber: "2019/1234"}},
	}
}

// create registers a ticket with a linked payment.
func (e *env) create(t *testing.T, kind model.TicketKind) *model.Ticket {
	t.Helper()
	e.payments++
	in := certificateInput(kind)
	in.PaymentID = fmt.Sprintf("pay-%d", e.payments)
	tk, err := e.Tickets.Create(context.Background(), "", in)
	require.NoError(t, err)
	return tk
}

// paid returns a ticket that went through reconciliation.
func (e *env) paid(t *testing.T, kind model.TicketKind) *model.Ticket {
	t.Helper()
	tk := e.create(t, kind)
	e.gateway.set(*tk.PaymentID, model.PaymentReconciled)
	res, err := e.Payments.HandlePaymentSignal(context.Background(), model.PaymentSignal{
		PaymentID: *tk.PaymentID, Status: model.PaymentReconciled, Amount: 2500, Currency: "NGN",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeReconciled, res.Outcome)
	return res.Ticket
}

// at returns a ticket moved along the automatic chain to status.
func (e *env) at(t *testing.T, kind model.TicketKind, status model.TicketStatus) *model.Ticket {
	t.Helper()
	if status == model.TicketStatusPendingPayment {
		return e.create(t, kind)
	}
	tk := e.paid(t, kind)
	chain := []workflow.Action{
		workflow.ActionBeginProcess, workflow.ActionSendToDispatch, workflow.ActionDispatch,
		workflow.ActionMarkReceived, workflow.ActionComplete,
	}
	if status == model.TicketStatusCancelled {
		out, err := e.Tickets.Transition(context.Background(), tk.ID, staff, workflow.ActionCancel, workflow.Options{Reason: "duplicate"})
		require.NoError(t, err)
		return out
	}
	for _, a := range chain {
		if tk.Status == status {
			break
		}
		var err error
		tk, err = e.Tickets.Transition(context.Background(), tk.ID, staff, a, workflow.Options{})
		require.NoError(t, err)
	}
	require.Equal(t, status, tk.Status)
	return tk
}

func (e *env) history(t *testing.T, id uint64) []model.ActivityEntry {
	t.Helper()
	h, err := e.Ledger.History(context.Background(), id)
	require.NoError(t, err)
	return h
}

func countKind(entries []model.ActivityEntry, k model.ActionKind) int {
	n := 0
	for _, e := range entries {
		if e.Kind == k {
			n++
		}
	}
	return n
}
