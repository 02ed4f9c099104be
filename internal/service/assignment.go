package service

import (
	"context"
	"strings"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"gorm.io/datatypes"
)

// AssignmentTracker keeps the single current owner of a ticket.
type AssignmentTracker struct {
	*core
}

// Assign overwrites the current assignee. Assigning the current assignee again is a no-op.
func (a *AssignmentTracker) Assign(ctx context.Context, id uint64, actor, staffID string) (*model.Ticket, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return nil, err
	}
	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return nil, errs.Invalid("staff_id is required")
	}
	return a.mutate(ctx, id, func(t *model.Ticket, now time.Time) (mutation, error) {
		if t.Status.Terminal() {
			return mutation{}, errs.New(errs.ErrTicketClosed, t.ID, string(t.Status), "cannot assign")
		}
		if t.AssignedTo == staffID {
			return mutation{noop: true}, nil
		}
		from := t.AssignedTo
		t.AssignedTo = staffID
		return mutation{
			entries: []model.ActivityEntry{entry(actor, model.ActionAssignment, now, datatypes.JSONMap{
				"from": from,
				"to":   staffID,
			})},
			events: []event{{name: "ticket.assigned", extra: map[string]interface{}{"from": from}}},
		}, nil
	})
}

// Unassign clears the assignee. On an unassigned ticket it succeeds without writing anything.
func (a *AssignmentTracker) Unassign(ctx context.Context, id uint64, actor string) (*model.Ticket, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return nil, err
	}
	return a.mutate(ctx, id, func(t *model.Ticket, now time.Time) (mutation, error) {
		if t.Status.Terminal() {
			return mutation{}, errs.New(errs.ErrTicketClosed, t.ID, string(t.Status), "cannot unassign")
		}
		if !t.Assigned() {
			return mutation{noop: true}, nil
		}
		from := t.AssignedTo
		t.AssignedTo = ""
		return mutation{
			entries: []model.ActivityEntry{entry(actor, model.ActionUnassignment, now, datatypes.JSONMap{
				"from": from,
				"to":   "",
			})},
			events: []event{{name: "ticket.unassigned", extra: map[string]interface{}{"from": from}}},
		}, nil
	})
}

func (a *AssignmentTracker) AssignmentHistory(ctx context.Context, id uint64) ([]model.ActivityEntry, error) {
	if _, err := a.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return a.store.History(ctx, id, model.ActionAssignment, model.ActionUnassignment)
}
