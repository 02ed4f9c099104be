package service

import (
	"context"
	"strings"
	"testing"

	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/psds-microservice/certificate-request-service/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulk_RequestValidation(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.Options.BulkMaxItems = 3 })
	ctx := context.Background()
	cases := map[string]BulkRequest{
		"empty":            {Action: BulkAssign, Params: BulkParams{StaffID: "s"}},
		"over limit":       {Action: BulkAssign, TicketIDs: []uint64{1, 2, 3, 4}, Params: BulkParams{StaffID: "s"}},
		"unknown action":   {Action: "close", TicketIDs: []uint64{1}},
		"assign no staff":  {Action: BulkAssign, TicketIDs: []uint64{1}},
		"bad priority":     {Action: BulkSetPriority, TicketIDs: []uint64{1}, Params: BulkParams{Priority: "p0"}},
		"comment no text":  {Action: BulkAddComment, TicketIDs: []uint64{1}, Params: BulkParams{Text: " "}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.Bulk.Run(ctx, staff, req)
			assert.ErrorIs(t, err, errs.ErrInvalidArgument)
		})
	}
}

func TestBulk_SetPriorityAndComment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	open := e.create(t, model.KindCertificate)
	closed := e.at(t, model.KindCertificate, model.TicketStatusCancelled)
	ids := []uint64{open.ID, closed.ID, 9999}

	res, err := e.Bulk.Run(ctx, staff, BulkRequest{Action: BulkSetPriority, TicketIDs: ids, Params: BulkParams{Priority: model.PriorityHigh}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 2, res.FailureCount)
	assert.Equal(t, "pending_payment", res.Items[0].Status)
	assert.Equal(t, "ticket_closed", res.Items[1].Error)
	assert.Equal(t, "not_found", res.Items[2].Error)

	res, err = e.Bulk.Run(ctx, staff, BulkRequest{Action: BulkAddComment, TicketIDs: ids, Params: BulkParams{Text: "batch reviewed"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount, "comments are accepted on closed tickets")
	assert.Equal(t, "cancelled", res.Items[1].Status)
	assert.Equal(t, "not_found", res.Items[2].Error)
}

func TestBulk_DowngradesStorageErrors(t *testing.T) {
	e := newEnv(t)
	tk := e.create(t, model.KindCertificate)
	broken := newEnv(t, func(d *Deps) { d.Store = failingStore{Store: e.store} })

	res, err := broken.Bulk.Run(context.Background(), staff, BulkRequest{Action: BulkAssign, TicketIDs: []uint64{tk.ID}, Params: BulkParams{StaffID: "s"}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "internal", res.Items[0].Error)
	assert.Equal(t, "internal error", res.Items[0].Message)
	assert.Equal(t, 1, res.FailureCount)
}

func TestBulk_CancelledContext(t *testing.T) {
	e := newEnv(t)
	tk := e.create(t, model.KindCertificate)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Bulk.Run(ctx, staff, BulkRequest{Action: BulkAssign, TicketIDs: []uint64{tk.ID, tk.ID}, Params: BulkParams{StaffID: "s"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.FailureCount)
	assert.True(t, strings.Contains(res.Items[0].Message, "cancelled"))
}

type failingStore struct {
	store.Store
}

func (failingStore) Commit(context.Context, store.Change) error {
	return assert.AnError
}
