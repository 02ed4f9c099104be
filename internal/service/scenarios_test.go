package service

import (
	"context"
	"testing"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/psds-microservice/certificate-request-service/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertificateEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tk := e.create(t, model.KindCertificate)
	require.Equal(t, model.TicketStatusPendingPayment, tk.Status)

	e.gateway.set(*tk.PaymentID, model.PaymentReconciled)
	res, err := e.Payments.Reconcile(ctx, *tk.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReconciled, res.Outcome)
	assert.Equal(t, model.TicketStatusPaid, res.Ticket.Status)
	require.NotNil(t, res.Ticket.PaidAt)

	steps := []struct {
		action workflow.Action
		opts   workflow.Options
		want   model.TicketStatus
	}{
		{workflow.ActionBeginProcess, workflow.Options{}, model.TicketStatusInProcess},
		{workflow.ActionSendToDispatch, workflow.Options{}, model.TicketStatusReadyForDispatch},
		{workflow.ActionDispatch, workflow.Options{TrackingNumber: "ABC123"}, model.TicketStatusDispatched},
		{workflow.ActionMarkReceived, workflow.Options{}, model.TicketStatusReceived},
		{workflow.ActionComplete, workflow.Options{}, model.TicketStatusCompleted},
	}
	for _, s := range steps {
		e.clock.Advance(time.Hour)
		tk, err = e.Tickets.Transition(ctx, tk.ID, staff, s.action, s.opts)
		require.NoError(t, err, s.action)
		assert.Equal(t, s.want, tk.Status)
	}
	assert.Equal(t, "ABC123", tk.TrackingNumber)
	assert.NotNil(t, tk.DispatchedAt)
	assert.NotNil(t, tk.ReceivedAt)
	assert.NotNil(t, tk.CompletedAt)
	assert.Nil(t, tk.CancelledAt)

	h := e.history(t, tk.ID)
	assert.Equal(t, 6, countKind(h, model.ActionStatusChange))
	assert.Equal(t, 1, countKind(h, model.ActionReconciliation))
	require.Len(t, h, 7)

	var order []string
	for _, en := range h {
		order = append(order, en.Payload["to"].(string))
	}
	assert.Equal(t, []string{
		"pending_payment", "paid", "in_process", "ready_for_dispatch", "dispatched", "received", "completed",
	}, order)
	assert.Equal(t, "ABC123", h[4].Payload["tracking_number"])
	assert.Equal(t, model.SystemActor, h[1].ActorID)
	assert.Equal(t, *tk.PaymentID, h[1].Payload["payment_id"])
}

func TestManualOverrideScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tk := e.at(t, model.KindAttestation, model.TicketStatusReadyForDispatch)

	tk, err := e.Tickets.ManualTransition(ctx, tk.ID, staff, model.TicketStatusInProcess, "re-open for correction")
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusInProcess, tk.Status)

	_, err = e.Tickets.ManualTransition(ctx, tk.ID, staff, model.TicketStatusCompleted, "x")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
	id, status := errs.Describe(err)
	assert.Equal(t, tk.ID, id)
	assert.Equal(t, "in_process", status)

	h := e.history(t, tk.ID)
	last := h[len(h)-1]
	assert.Equal(t, "manual", last.Payload["mode"])
	assert.Equal(t, "re-open for correction", last.Payload["reason"])
	assert.Equal(t, "in_process", last.Payload["to"])
}

func TestBulkAssignScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	var ids []uint64
	for i := 0; i < 4; i++ {
		ids = append(ids, e.create(t, model.KindCertificate).ID)
	}
	closed := e.at(t, model.KindCertificate, model.TicketStatusCompleted)
	ids = append(ids[:2], append([]uint64{closed.ID}, ids[2:]...)...)

	res, err := e.Bulk.Run(ctx, staff, BulkRequest{Action: BulkAssign, TicketIDs: ids, Params: BulkParams{StaffID: "staff-x"}})
	require.NoError(t, err)
	assert.Equal(t, 4, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	require.Len(t, res.Items, 5)
	for i, item := range res.Items {
		assert.Equal(t, ids[i], item.TicketID, "results keep request order")
	}
	failed := res.Items[2]
	assert.False(t, failed.OK)
	assert.Equal(t, "ticket_closed", failed.Error)
	assert.Equal(t, "completed", failed.Status)

	for _, id := range ids {
		tk, err := e.Tickets.GetByID(ctx, id)
		require.NoError(t, err)
		if id == closed.ID {
			assert.Empty(t, tk.AssignedTo)
			continue
		}
		assert.Equal(t, "staff-x", tk.AssignedTo)
	}
}

func TestConfirmationResponseScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tk := e.at(t, model.KindConfirmation, model.TicketStatusInProcess)

	r, err := e.Responses.Generate(ctx, tk.ID, staff)
	require.NoError(t, err)
	assert.False(t, r.Signed)
	assert.Equal(t, model.ResponseGenerated, r.Source)
	assert.Equal(t, 1, r.Revision)

	r, err = e.Responses.Sign(ctx, tk.ID, "registrar")
	require.NoError(t, err)
	assert.True(t, r.Signed)
	require.NotNil(t, r.SignedAt)
	signedAt := *r.SignedAt

	r, err = e.Responses.Revoke(ctx, tk.ID, "registrar", "error in data")
	require.NoError(t, err)
	assert.True(t, r.Revoked)
	assert.True(t, r.Signed)

	_, err = e.Responses.Generate(ctx, tk.ID, staff)
	assert.ErrorIs(t, err, errs.ErrResponseLocked)

	r, err = e.Responses.Unrevoke(ctx, tk.ID, "registrar")
	require.NoError(t, err)
	assert.False(t, r.Revoked)
	assert.True(t, r.Signed)
	assert.Equal(t, signedAt, *r.SignedAt)

	_, err = e.Responses.Generate(ctx, tk.ID, staff)
	assert.ErrorIs(t, err, errs.ErrResponseLocked, "unrevoke does not reopen editing")

	assert.Equal(t, 4, countKind(e.history(t, tk.ID), model.ActionResponse))
}
