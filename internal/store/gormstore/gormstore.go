// Package gormstore is the Postgres Store. Each Commit runs in one transaction and the ticket
// row is written only if its version still matches the one the caller read.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/psds-microservice/certificate-request-service/internal/store"
	"gorm.io/gorm"
)

// ticketMutableColumns are rewritten on every commit. request_number, kind, scope,
// service_type and created_at are written once by Create.
var ticketMutableColumns = []string{
	"status", "priority", "submitter_name", "submitter_email", "submitter_phone", "delivery_address",
	"details", "assigned_to", "payment_id", "tracking_number", "notes", "cancellation_reason",
	"updated_at", "paid_at", "dispatched_at", "received_at", "completed_at", "cancelled_at", "version",
}

type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, t *model.Ticket, entries ...model.ActivityEntry) error {
	if t.Version == 0 {
		t.Version = 1
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return translate(err)
		}
		for i := range entries {
			entries[i].TicketID = t.ID
			if err := tx.Create(&entries[i]).Error; err != nil {
				return fmt.Errorf("append entry: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, id uint64) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *Store) GetByRequestNumber(ctx context.Context, number string) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).Where("request_number = ?", number).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *Store) GetByPaymentID(ctx context.Context, paymentID string) (*model.Ticket, error) {
	var t model.Ticket
	if err := s.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *Store) List(ctx context.Context, f store.Filter) ([]model.Ticket, int64, error) {
	var items []model.Ticket
	var total int64
	tx := s.db.WithContext(ctx).Model(&model.Ticket{})
	if f.Status != "" {
		tx = tx.Where("status = ?", f.Status)
	}
	if f.Kind != "" {
		tx = tx.Where("kind = ?", f.Kind)
	}
	if f.Priority != "" {
		tx = tx.Where("priority = ?", f.Priority)
	}
	if f.AssignedTo != "" {
		tx = tx.Where("assigned_to = ?", f.AssignedTo)
	}
	if f.Unassigned {
		tx = tx.Where("assigned_to = ''")
	}
	if f.Query != "" {
		tx = tx.Where("request_number LIKE ?", strings.ToUpper(f.Query)+"%")
	}
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit > 0 {
		tx = tx.Limit(f.Limit)
	}
	if f.Offset > 0 {
		tx = tx.Offset(f.Offset)
	}
	if err := tx.Order("created_at DESC, id DESC").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Store) Commit(ctx context.Context, c store.Change) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Ticket{}).
			Where("id = ? AND version = ?", c.Ticket.ID, c.ExpectedVersion).
			Select(ticketMutableColumns).
			Updates(c.Ticket)
		if res.Error != nil {
			return translate(res.Error)
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&model.Ticket{}).Where("id = ?", c.Ticket.ID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return errs.ErrTicketNotFound
			}
			return errs.ErrConflict
		}
		if c.Response != nil {
			if err := tx.Save(c.Response).Error; err != nil {
				return fmt.Errorf("save response: %w", translate(err))
			}
		}
		for i := range c.Entries {
			c.Entries[i].TicketID = c.Ticket.ID
			if err := tx.Create(&c.Entries[i]).Error; err != nil {
				return fmt.Errorf("append entry: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) AppendEntry(ctx context.Context, e *model.ActivityEntry) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return errs.ErrTicketNotFound
		}
		return err
	}
	return nil
}

func (s *Store) History(ctx context.Context, ticketID uint64, kinds ...model.ActionKind) ([]model.ActivityEntry, error) {
	entries := []model.ActivityEntry{}
	tx := s.db.WithContext(ctx).Where("ticket_id = ?", ticketID)
	if len(kinds) > 0 {
		tx = tx.Where("kind IN ?", kinds)
	}
	if err := tx.Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetResponse(ctx context.Context, ticketID uint64) (*model.ConfirmationResponse, error) {
	var r model.ConfirmationResponse
	err := s.db.WithContext(ctx).Where("ticket_id = ?", ticketID).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) Stats(ctx context.Context, f store.StatsFilter) (*store.Stats, error) {
	out := store.NewStats()
	base := func() *gorm.DB {
		tx := s.db.WithContext(ctx).Model(&model.Ticket{})
		if f.From != nil {
			tx = tx.Where("created_at >= ?", *f.From)
		}
		if f.To != nil {
			tx = tx.Where("created_at < ?", *f.To)
		}
		return tx
	}
	type row struct {
		Label string
		Count int64
	}
	group := func(column string) ([]row, error) {
		var rows []row
		err := base().Select(column + " AS label, COUNT(*) AS count").Group(column).Scan(&rows).Error
		return rows, err
	}

	rows, err := group("status")
	if err != nil {
		return nil, fmt.Errorf("stats by status: %w", err)
	}
	for _, r := range rows {
		out.ByStatus[model.TicketStatus(r.Label)] = r.Count
		out.Total += r.Count
	}
	if rows, err = group("kind"); err != nil {
		return nil, fmt.Errorf("stats by kind: %w", err)
	}
	for _, r := range rows {
		out.ByKind[model.TicketKind(r.Label)] = r.Count
	}
	if rows, err = group("priority"); err != nil {
		return nil, fmt.Errorf("stats by priority: %w", err)
	}
	for _, r := range rows {
		out.ByPriority[model.Priority(r.Label)] = r.Count
	}
	if err := base().
		Where("assigned_to = '' AND status NOT IN ?", []model.TicketStatus{model.TicketStatusCompleted, model.TicketStatusCancelled}).
		Count(&out.UnassignedOpen).Error; err != nil {
		return nil, fmt.Errorf("stats unassigned: %w", err)
	}

	layout := "YYYY-MM-DD"
	if f.Period == store.PeriodMonth {
		layout = "YYYY-MM"
	}
	bucket := "to_char(created_at AT TIME ZONE 'UTC', '" + layout + "')"
	var periods []store.PeriodCount
	if err := base().
		Select(bucket + " AS period, COUNT(*) AS count").
		Group("period").
		Order("period ASC").
		Scan(&periods).Error; err != nil {
		return nil, fmt.Errorf("stats by period: %w", err)
	}
	if periods != nil {
		out.Created = periods
	}
	return out, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errs.ErrTicketNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &errs.TicketError{Err: errs.ErrInvalidArgument, Detail: "duplicate request number or payment id"}
	}
	return err
}
