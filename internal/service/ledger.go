package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"gorm.io/datatypes"
)

// Ledger: журнал действий по заявке, только добавление. Записи о переходах пишутся вместе
// с изменением заявки в store.Commit; здесь комментарии и чтение истории.
type Ledger struct {
	*core
}

// AddComment works on any status, closed tickets included, and never changes the ticket.
func (l *Ledger) AddComment(ctx context.Context, id uint64, actor, text string) (*model.ActivityEntry, error) {
	actor, err := requireActor(actor)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errs.Invalid("comment text is required")
	}
	if n := len([]rune(text)); n > l.opts.CommentMaxLength {
		return nil, errs.Invalid("comment is %d characters, limit is %d", n, l.opts.CommentMaxLength)
	}
	t, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e := entry(actor, model.ActionComment, l.now(), datatypes.JSONMap{"text": text})
	e.TicketID = t.ID
	if err := l.store.AppendEntry(ctx, &e); err != nil {
		if errs.Known(err) {
			return nil, err
		}
		return nil, fmt.Errorf("append comment: %w", err)
	}
	l.committed(ctx, t, []event{{name: "ticket.commented", extra: map[string]interface{}{"actor_id": actor}}})
	return &e, nil
}

// History returns every entry of the ticket, oldest first.
func (l *Ledger) History(ctx context.Context, id uint64) ([]model.ActivityEntry, error) {
	if _, err := l.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return l.store.History(ctx, id)
}
