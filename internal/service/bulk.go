package service

import (
	"context"
	"strings"

	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
)

type BulkAction string

const (
	BulkAssign      BulkAction = "assign"
	BulkSetPriority BulkAction = "set_priority"
	BulkAddComment  BulkAction = "add_comment"
)

type BulkParams struct {
	StaffID  string         `json:"staff_id,omitempty"`
	Priority model.Priority `json:"priority,omitempty"`
	Text     string         `json:"text,omitempty"`
}

type BulkRequest struct {
	Action    BulkAction `json:"action"`
	TicketIDs []uint64   `json:"ticket_ids"`
	Params    BulkParams `json:"params"`
}

type BulkItemResult struct {
	TicketID uint64 `json:"ticket_id"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
	Status   string `json:"status,omitempty"`
}

type BulkResult struct {
	Action       BulkAction       `json:"action"`
	Items        []BulkItemResult `json:"items"`
	SuccessCount int              `json:"success_count"`
	FailureCount int              `json:"failure_count"`
}

// BulkCoordinator applies one action to many tickets. Each ticket is its own unit of work:
// there is no transaction across the batch and a failed item does not stop the rest.
type BulkCoordinator struct {
	*core
	assign  *AssignmentTracker
	tickets *TicketService
	ledger  *Ledger
}

func (b *BulkCoordinator) Run(ctx context.Context, actor string, req BulkRequest) (*BulkResult, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return nil, err
	}
	if err := b.validate(&req); err != nil {
		return nil, err
	}
	res := &BulkResult{Action: req.Action, Items: make([]BulkItemResult, 0, len(req.TicketIDs))}
	for _, id := range req.TicketIDs {
		item := BulkItemResult{TicketID: id}
		if cerr := ctx.Err(); cerr != nil {
			item.Error, item.Message = errs.Code(cerr), "request cancelled before this item"
		} else {
			status, err := b.one(ctx, actor, id, req)
			if err != nil {
				item.Error = errs.Code(err)
				item.Message = err.Error()
				_, item.Status = errs.Describe(err)
				if !errs.Known(err) {
					b.log.Error("bulk item failed", "ticket_id", id, "action", req.Action, "error", err)
					item.Message = "internal error"
				}
			} else {
				item.OK = true
				item.Status = status
			}
		}
		if item.OK {
			res.SuccessCount++
		} else {
			res.FailureCount++
		}
		res.Items = append(res.Items, item)
	}
	b.log.Info("bulk finished", "action", req.Action, "items", len(req.TicketIDs), "ok", res.SuccessCount, "failed", res.FailureCount)
	return res, nil
}

func (b *BulkCoordinator) validate(req *BulkRequest) error {
	switch n := len(req.TicketIDs); {
	case n == 0:
		return errs.Invalid("ticket_ids is empty")
	case n > b.opts.BulkMaxItems:
		return errs.Invalid("at most %d tickets per bulk request, got %d", b.opts.BulkMaxItems, n)
	}
	switch req.Action {
	case BulkAssign:
		req.Params.StaffID = strings.TrimSpace(req.Params.StaffID)
		if req.Params.StaffID == "" {
			return errs.Invalid("params.staff_id is required for assign")
		}
	case BulkSetPriority:
		if !req.Params.Priority.Valid() {
			return errs.Invalid("unknown priority %q", req.Params.Priority)
		}
	case BulkAddComment:
		if strings.TrimSpace(req.Params.Text) == "" {
			return errs.Invalid("params.text is required for add_comment")
		}
	default:
		return errs.Invalid("unknown bulk action %q", req.Action)
	}
	return nil
}

func (b *BulkCoordinator) one(ctx context.Context, actor string, id uint64, req BulkRequest) (string, error) {
	var (
		t   *model.Ticket
		err error
	)
	switch req.Action {
	case BulkAssign:
		t, err = b.assign.Assign(ctx, id, actor, req.Params.StaffID)
	case BulkSetPriority:
		t, err = b.tickets.SetPriority(ctx, id, actor, req.Params.Priority)
	case BulkAddComment:
		if _, err = b.ledger.AddComment(ctx, id, actor, req.Params.Text); err == nil {
			t, err = b.store.Get(ctx, id)
		}
	}
	if err != nil {
		return "", err
	}
	return string(t.Status), nil
}
