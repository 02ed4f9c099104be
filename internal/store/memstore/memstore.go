// Package memstore is an in-process Store used by tests and local runs without Postgres.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/psds-microservice/certificate-request-service/internal/store"
)

type Store struct {
	mu        sync.RWMutex
	tickets   map[uint64]*model.Ticket
	responses map[uint64]*model.ConfirmationResponse
	entries   []model.ActivityEntry
	nextID    uint64
	nextEntry uint64
	nextResp  uint64
	now       func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		tickets:   make(map[uint64]*model.Ticket),
		responses: make(map[uint64]*model.ConfirmationResponse),
		now:       time.Now,
	}
}

func (s *Store) Create(_ context.Context, t *model.Ticket, entries ...model.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tickets {
		if existing.RequestNumber == t.RequestNumber {
			return errs.Invalid("request number %s already exists", t.RequestNumber)
		}
		if t.PaymentID != nil && existing.PaymentID != nil && *existing.PaymentID == *t.PaymentID {
			return errs.Invalid("payment %s already linked", *t.PaymentID)
		}
	}
	s.nextID++
	t.ID = s.nextID
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	if t.Version == 0 {
		t.Version = 1
	}
	s.tickets[t.ID] = t.Clone()
	for i := range entries {
		entries[i].TicketID = t.ID
		s.appendLocked(&entries[i])
	}
	return nil
}

func (s *Store) Get(_ context.Context, id uint64) (*model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, errs.ErrTicketNotFound
	}
	return t.Clone(), nil
}

func (s *Store) GetByRequestNumber(_ context.Context, number string) (*model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tickets {
		if t.RequestNumber == number {
			return t.Clone(), nil
		}
	}
	return nil, errs.ErrTicketNotFound
}

func (s *Store) GetByPaymentID(_ context.Context, paymentID string) (*model.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tickets {
		if t.PaymentID != nil && *t.PaymentID == paymentID {
			return t.Clone(), nil
		}
	}
	return nil, errs.ErrTicketNotFound
}

func (s *Store) List(_ context.Context, f store.Filter) ([]model.Ticket, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []model.Ticket
	for _, t := range s.tickets {
		if matches(t, f) {
			items = append(items, *t.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	total := int64(len(items))
	if f.Offset > 0 {
		if f.Offset >= len(items) {
			return []model.Ticket{}, total, nil
		}
		items = items[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(items) {
		items = items[:f.Limit]
	}
	return items, total, nil
}

func matches(t *model.Ticket, f store.Filter) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
		return false
	}
	if f.Unassigned && t.AssignedTo != "" {
		return false
	}
	if f.Query != "" && !strings.HasPrefix(t.RequestNumber, strings.ToUpper(f.Query)) {
		return false
	}
	return true
}

func (s *Store) Commit(_ context.Context, c store.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tickets[c.Ticket.ID]
	if !ok {
		return errs.ErrTicketNotFound
	}
	if current.Version != c.ExpectedVersion {
		return errs.ErrConflict
	}
	if c.Ticket.PaymentID != nil {
		for id, other := range s.tickets {
			if id != c.Ticket.ID && other.PaymentID != nil && *other.PaymentID == *c.Ticket.PaymentID {
				return errs.Invalid("payment %s already linked", *c.Ticket.PaymentID)
			}
		}
	}
	next := c.Ticket.Clone()
	next.CreatedAt = current.CreatedAt
	next.RequestNumber = current.RequestNumber
	s.tickets[next.ID] = next
	if c.Response != nil {
		r := c.Response.Clone()
		if r.ID == 0 {
			s.nextResp++
			r.ID = s.nextResp
			c.Response.ID = r.ID
		}
		s.responses[r.TicketID] = r
	}
	for i := range c.Entries {
		c.Entries[i].TicketID = next.ID
		s.appendLocked(&c.Entries[i])
	}
	return nil
}

func (s *Store) AppendEntry(_ context.Context, e *model.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[e.TicketID]; !ok {
		return errs.ErrTicketNotFound
	}
	s.appendLocked(e)
	return nil
}

func (s *Store) appendLocked(e *model.ActivityEntry) {
	s.nextEntry++
	e.ID = s.nextEntry
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	cp := *e
	if e.Payload != nil {
		cp.Payload = make(map[string]interface{}, len(e.Payload))
		for k, v := range e.Payload {
			cp.Payload[k] = v
		}
	}
	s.entries = append(s.entries, cp)
}

func (s *Store) History(_ context.Context, ticketID uint64, kinds ...model.ActionKind) ([]model.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.ActivityEntry{}
	for _, e := range s.entries {
		if e.TicketID != ticketID {
			continue
		}
		if len(kinds) > 0 && !hasKind(kinds, e.Kind) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func hasKind(kinds []model.ActionKind, k model.ActionKind) bool {
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}

func (s *Store) GetResponse(_ context.Context, ticketID uint64) (*model.ConfirmationResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responses[ticketID]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (s *Store) Stats(_ context.Context, f store.StatsFilter) (*store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := store.NewStats()
	buckets := map[string]int64{}
	for _, t := range s.tickets {
		if f.From != nil && t.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !t.CreatedAt.Before(*f.To) {
			continue
		}
		out.Total++
		out.ByStatus[t.Status]++
		out.ByKind[t.Kind]++
		out.ByPriority[t.Priority]++
		if !t.Status.Terminal() && t.AssignedTo == "" {
			out.UnassignedOpen++
		}
		buckets[store.PeriodLabel(f.Period, t.CreatedAt)]++
	}
	for label, n := range buckets {
		out.Created = append(out.Created, store.PeriodCount{Period: label, Count: n})
	}
	sort.Slice(out.Created, func(i, j int) bool { return out.Created[i].Period < out.Created[j].Period })
	return out, nil
}
