package service

import (
	"context"
	"strings"
	"testing"

	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssign_OverwriteAndHistory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tk := e.create(t, model.KindCertificate)

	_, err := e.Assignments.Assign(ctx, tk.ID, staff, "staff-a")
	require.NoError(t, err)
	got, err := e.Assignments.Assign(ctx, tk.ID, staff, "staff-b")
	require.NoError(t, err)
	assert.Equal(t, "staff-b", got.AssignedTo)

	again, err := e.Assignments.Assign(ctx, tk.ID, staff, "staff-b")
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version, "same assignee is a no-op")

	_, err = e.Assignments.Unassign(ctx, tk.ID, staff)
	require.NoError(t, err)

	h, err := e.Assignments.AssignmentHistory(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, h, 3)
	assert.Equal(t, model.ActionAssignment, h[0].Kind)
	assert.Equal(t, "", h[0].Payload["from"])
	assert.Equal(t, "staff-a", h[1].Payload["from"])
	assert.Equal(t, "staff-b", h[1].Payload["to"])
	assert.Equal(t, model.ActionUnassignment, h[2].Kind)

	_, err = e.Assignments.Assign(ctx, tk.ID, staff, "")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = e.Assignments.AssignmentHistory(ctx, 424242)
	assert.ErrorIs(t, err, errs.ErrTicketNotFound)
}

func TestUnassign_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tk := e.create(t, model.KindCertificate)

	first, err := e.Assignments.Unassign(ctx, tk.ID, staff)
	require.NoError(t, err)
	second, err := e.Assignments.Unassign(ctx, tk.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, tk.Version, second.Version)
	assert.Empty(t, second.AssignedTo)

	h, err := e.Assignments.AssignmentHistory(ctx, tk.ID)
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestAssign_ClosedTicket(t *testing.T) {
	e := newEnv(t)
	tk := e.at(t, model.KindCertificate, model.TicketStatusCompleted)
	_, err := e.Assignments.Assign(context.Background(), tk.ID, staff, "staff-a")
	require.ErrorIs(t, err, errs.ErrTicketClosed)
	_, status := errs.Describe(err)
	assert.Equal(t, "completed", status)
	_, err = e.Assignments.Unassign(context.Background(), tk.ID, staff)
	assert.ErrorIs(t, err, errs.ErrTicketClosed)
}

func TestComments(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.Options.CommentMaxLength = 30 })
	ctx := context.Background()
	tk := e.at(t, model.KindCertificate, model.TicketStatusCompleted)

	c, err := e.Ledger.AddComment(ctx, tk.ID, staff, "  posted to wrong address  ")
	require.NoError(t, err)
	assert.Equal(t, "posted to wrong address", c.Payload["text"])
	assert.NotZero(t, c.ID)

	_, err = e.Ledger.AddComment(ctx, tk.ID, staff, "   ")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = e.Ledger.AddComment(ctx, tk.ID, staff, strings.Repeat("ж", 31))
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = e.Ledger.AddComment(ctx, 9999, staff, "hello")
	assert.ErrorIs(t, err, errs.ErrTicketNotFound)

	after, err := e.Tickets.GetByID(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.Status, after.Status)
	assert.Equal(t, tk.Version, after.Version, "comments do not touch the ticket")

	h := e.history(t, tk.ID)
	assert.Equal(t, model.ActionComment, h[len(h)-1].Kind)
	for i := 1; i < len(h); i++ {
		assert.Less(t, h[i-1].ID, h[i].ID)
	}
}
