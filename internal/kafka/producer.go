package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// TicketEventProducer: интерфейс для отправки событий заявки в Kafka (для подмены моком в тестах).
type TicketEventProducer interface {
	ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{})
}

// Producer пишет события заявок в топик Kafka (best-effort, не блокирует API).
type Producer struct {
	writer *kafka.Writer
	topic  string
	log    *slog.Logger
}

// NewProducer создаёт продюсер. Если brokers или topic пустые, методы ничего не делают.
func NewProducer(brokers []string, topic string, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	if len(brokers) == 0 || topic == "" {
		return &Producer{log: log}
	}
	return &Producer{
		topic: topic,
		log:   log,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Enabled reports whether events actually leave the process.
func (p *Producer) Enabled() bool {
	return p.writer != nil
}

// ProduceTicketEvent отправляет событие в топик. Ключом сообщения служит request_number, чтобы
// события одной заявки попадали в одну партицию и сохраняли порядок.
func (p *Producer) ProduceTicketEvent(ctx context.Context, event string, payload map[string]interface{}) {
	if p.writer == nil {
		return
	}
	msg, err := encodeEvent(event, payload)
	if err != nil {
		p.log.Error("kafka: marshal ticket event", "event", event, "error", err)
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("kafka: write ticket event", "event", event, "topic", p.topic, "error", err)
	}
}

func encodeEvent(event string, payload map[string]interface{}) (kafka.Message, error) {
	body := map[string]interface{}{"event": event}
	for k, v := range payload {
		body[k] = v
	}
	value, err := json.Marshal(body)
	if err != nil {
		return kafka.Message{}, err
	}
	var key []byte
	if rn, ok := payload["request_number"].(string); ok {
		key = []byte(rn)
	}
	return kafka.Message{Key: key, Value: value}, nil
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
