package service

import (
	"context"
	"fmt"

	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/store"
)

// Statistics is read-only.
type Statistics struct {
	*core
}

func (s *Statistics) Summary(ctx context.Context, f store.StatsFilter) (*store.Stats, error) {
	switch f.Period {
	case "":
		f.Period = store.PeriodDay
	case store.PeriodDay, store.PeriodMonth:
	default:
		return nil, errs.Invalid("unknown period %q", f.Period)
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, errs.Invalid("from must be before to")
	}
	st, err := s.store.Stats(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}
	return st, nil
}
