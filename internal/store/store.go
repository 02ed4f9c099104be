// Package store defines the TicketStore: the only component with persistence access.
package store

import (
	"context"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/model"
)

// Change is one logical unit of work on a single ticket. Commit writes all of it or none of it.
type Change struct {
	// Ticket is the new ticket state; its Version must be ExpectedVersion+1.
	Ticket *model.Ticket
	// ExpectedVersion is the version read before deciding; Commit fails with errs.ErrConflict
	// when the stored version differs.
	ExpectedVersion int64
	// Response, when set, is inserted (ID == 0) or overwritten.
	Response *model.ConfirmationResponse
	Entries  []model.ActivityEntry
}

type Filter struct {
	Status     model.TicketStatus
	Kind       model.TicketKind
	Priority   model.Priority
	AssignedTo string
	Unassigned bool
	// Query matches request numbers by prefix.
	Query  string
	Limit  int
	Offset int
}

type Period string

const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

type StatsFilter struct {
	From   *time.Time
	To     *time.Time
	Period Period
}

type PeriodCount struct {
	Period string `json:"period"`
	Count  int64  `json:"count"`
}

type Stats struct {
	Total          int64                        `json:"total"`
	ByStatus       map[model.TicketStatus]int64 `json:"by_status"`
	ByKind         map[model.TicketKind]int64   `json:"by_kind"`
	ByPriority     map[model.Priority]int64     `json:"by_priority"`
	UnassignedOpen int64                        `json:"unassigned_open"`
	Created        []PeriodCount                `json:"created"`
}

// Store is implemented by gormstore (Postgres) and memstore (in-process).
type Store interface {
	// Create inserts t and its entries; t.ID and timestamps are filled in.
	Create(ctx context.Context, t *model.Ticket, entries ...model.ActivityEntry) error
	Get(ctx context.Context, id uint64) (*model.Ticket, error)
	GetByRequestNumber(ctx context.Context, number string) (*model.Ticket, error)
	GetByPaymentID(ctx context.Context, paymentID string) (*model.Ticket, error)
	List(ctx context.Context, f Filter) ([]model.Ticket, int64, error)
	Commit(ctx context.Context, c Change) error

	AppendEntry(ctx context.Context, e *model.ActivityEntry) error
	History(ctx context.Context, ticketID uint64, kinds ...model.ActionKind) ([]model.ActivityEntry, error)

	// GetResponse returns nil, nil while the ticket has no response yet.
	GetResponse(ctx context.Context, ticketID uint64) (*model.ConfirmationResponse, error)

	Stats(ctx context.Context, f StatsFilter) (*Stats, error)
}

// PeriodLabel formats t the way Stats buckets creation dates.
func PeriodLabel(p Period, t time.Time) string {
	t = t.UTC()
	if p == PeriodMonth {
		return t.Format("2006-01")
	}
	return t.Format("2006-01-02")
}

// NewStats returns an empty Stats with every status, kind and priority present.
func NewStats() *Stats {
	s := &Stats{
		ByStatus:   make(map[model.TicketStatus]int64, len(model.Statuses)),
		ByKind:     make(map[model.TicketKind]int64, len(model.Kinds)),
		ByPriority: make(map[model.Priority]int64, len(model.Priorities)),
		Created:    []PeriodCount{},
	}
	for _, st := range model.Statuses {
		s.ByStatus[st] = 0
	}
	for _, k := range model.Kinds {
		s.ByKind[k] = 0
	}
	for _, p := range model.Priorities {
		s.ByPriority[p] = 0
	}
	return s
}
