package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"catalogsync/internal/worker/processors"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher queues sync requests on the sync topic.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
}

func NewPublisher(brokers []string, topic string) *Publisher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &Publisher{writer: writer, now: func() time.Time { return time.Now().UTC() }}
}

// PublishSync sends one sync.requested event for skus.
func (p *Publisher) PublishSync(ctx context.Context, skus []string, fullSync bool) error {
	event := Event{
		Type:      processors.EventSyncRequested,
		SKUs:      skus,
		FullSync:  &fullSync,
		Timestamp: p.now(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strings.Join(skus, ",")),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish sync event: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
