package processors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"catalogsync/internal/logger"
	"catalogsync/internal/syncer"
)

// Event types carried on the sync topic.
const (
	EventSyncRequested = "sync.requested"
)

// Event is one message on the sync topic.
type Event struct {
	Type      string    `json:"type"`
	SKUs      []string  `json:"skus"`
	FullSync  *bool     `json:"full_sync,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Pusher runs an already admitted SKU list.
type Pusher interface {
	Process(ctx context.Context, skus []string, fullSync bool) *syncer.PushResponse
}

var ErrUnknownEvent = errors.New("unknown event type")

type EventProcessor struct {
	pusher Pusher
	logger *logger.Logger
}

func NewEventProcessor(pusher Pusher, logger *logger.Logger) *EventProcessor {
	return &EventProcessor{pusher: pusher, logger: logger}
}

// Process dispatches one event. Per-SKU failures are logged, not returned.
func (ep *EventProcessor) Process(ctx context.Context, event Event) error {
	switch event.Type {
	case EventSyncRequested:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event.Type)
	}
	if len(event.SKUs) == 0 {
		ep.logger.Warn("Sync event without SKUs ignored")
		return nil
	}

	full := true
	if event.FullSync != nil {
		full = *event.FullSync
	}

	ep.logger.Debug("Processing %s for %d SKUs", event.Type, len(event.SKUs))
	resp := ep.pusher.Process(ctx, event.SKUs, full)

	failed := 0
	for _, item := range resp.Results {
		if item.StatusCode != http.StatusOK {
			failed++
		}
	}
	ep.logger.Info("Sync event processed: %d SKUs, %d not updated", resp.Processed, failed)
	return nil
}
