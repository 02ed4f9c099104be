package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/psds-microservice/certificate-request-service/internal/errs"
	"github.com/psds-microservice/certificate-request-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// PaymentHandlerFunc применяет один сигнал о платеже к заявке.
type PaymentHandlerFunc func(ctx context.Context, s model.PaymentSignal) error

// PaymentConsumer читает сигналы payment-service из топика и передаёт их в реконсилятор.
// Сигналы обрабатываются по одному; offset коммитится после обработки.
type PaymentConsumer struct {
	reader *kafka.Reader
	handle PaymentHandlerFunc
	log    *slog.Logger
}

const maxRetryBackoff = 30 * time.Second

// NewPaymentConsumer возвращает nil, если brokers или topic не заданы.
func NewPaymentConsumer(brokers []string, topic, groupID string, handle PaymentHandlerFunc, log *slog.Logger) *PaymentConsumer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	return &PaymentConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       1 << 20,
			MaxWait:        time.Second,
			CommitInterval: 0,
		}),
		handle: handle,
		log:    log,
	}
}

// Run блокируется до отмены ctx.
func (c *PaymentConsumer) Run(ctx context.Context) error {
	c.log.Info("kafka: payment consumer started", "topic", c.reader.Config().Topic)
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch payment signal: %w", err)
		}
		// Пока сигнал не обработан, offset не коммитится и партиция стоит на месте.
		for backoff := time.Second; !c.process(ctx, m); backoff = min(backoff*2, maxRetryBackoff) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn("kafka: commit payment signal", "offset", m.Offset, "error", err)
		}
	}
}

// process reports whether the message is done with (applied, or rejected for good).
func (c *PaymentConsumer) process(ctx context.Context, m kafka.Message) bool {
	s, err := DecodePaymentSignal(m.Value)
	if err != nil {
		c.log.Warn("kafka: skip malformed payment signal", "offset", m.Offset, "error", err)
		return true
	}
	err = c.handle(ctx, s)
	switch {
	case err == nil:
		return true
	case errs.Known(err):
		// no_payment_found тоже коммитится: в топике есть чужие платежи. Сигнал, пришедший
		// до привязки, восстанавливается через POST /payments/:payment_id/reconcile.
		c.log.Info("kafka: payment signal rejected", "payment_id", s.PaymentID, "code", errs.Code(err), "error", err)
		return !errors.Is(err, errs.ErrConflict)
	default:
		c.log.Error("kafka: payment signal failed", "payment_id", s.PaymentID, "error", err)
		return false
	}
}

func (c *PaymentConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// DecodePaymentSignal разбирает JSON сообщения {"payment_id", "status", "amount", "currency"}.
func DecodePaymentSignal(value []byte) (model.PaymentSignal, error) {
	var s model.PaymentSignal
	if err := json.Unmarshal(value, &s); err != nil {
		return s, fmt.Errorf("decode payment signal: %w", err)
	}
	s.PaymentID = strings.TrimSpace(s.PaymentID)
	if s.PaymentID == "" {
		return s, errs.Invalid("payment_id is required")
	}
	if !s.Status.Valid() {
		return s, errs.Invalid("unknown payment status %q", s.Status)
	}
	return s, nil
}
