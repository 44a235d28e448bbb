package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"firestore-client/internal/shared/logger"

	"github.com/google/uuid"
)

// Event represents a generic event
type Event interface {
	Type() string
	Data() interface{}
	Timestamp() time.Time
	Source() string
}

// Handler defines the event handler function type
type Handler func(ctx context.Context, event Event) error

// SubscriptionID identifies one registered handler.
type SubscriptionID string

// EventBus is an in-memory event bus. Handlers are registered per event type and
// can be removed individually.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	logger   logger.Logger
	config   BusConfig
}

type registration struct {
	id      SubscriptionID
	handler Handler
}

// BusConfig holds configuration for the event bus
type BusConfig struct {
	AsyncProcessing bool
	MaxRetries      int
	RetryDelay      time.Duration
}

// DefaultBusConfig returns default configuration
func DefaultBusConfig() BusConfig {
	return BusConfig{
		AsyncProcessing: false,
		MaxRetries:      3,
		RetryDelay:      100 * time.Millisecond,
	}
}

// NewEventBus creates a new event bus instance
func NewEventBus(log logger.Logger) *EventBus {
	return NewEventBusWithConfig(log, DefaultBusConfig())
}

// NewEventBusWithConfig creates a new event bus with custom configuration
func NewEventBusWithConfig(log logger.Logger, config BusConfig) *EventBus {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &EventBus{
		handlers: make(map[string][]registration),
		logger:   log.WithComponent("eventbus"),
		config:   config,
	}
}

// Subscribe adds a handler for a specific event type
func (eb *EventBus) Subscribe(eventType string, handler Handler) SubscriptionID {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := SubscriptionID(uuid.NewString())
	eb.handlers[eventType] = append(eb.handlers[eventType], registration{id: id, handler: handler})
	eb.logger.Debugf("Subscribed handler %s for event type: %s", id, eventType)
	return id
}

// Unsubscribe removes one handler. Unknown ids are ignored.
func (eb *EventBus) Unsubscribe(eventType string, id SubscriptionID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	regs := eb.handlers[eventType]
	for i, r := range regs {
		if r.id != id {
			continue
		}
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(eb.handlers, eventType)
		} else {
			eb.handlers[eventType] = next
		}
		eb.logger.Debugf("Unsubscribed handler %s for event type: %s", id, eventType)
		return
	}
}

// Publish sends an event to all registered handlers
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	regs := eb.handlers[event.Type()]
	eb.mu.RUnlock()

	if len(regs) == 0 {
		return nil
	}

	if eb.config.AsyncProcessing {
		return eb.publishAsync(ctx, event, regs)
	}
	return eb.publishSync(ctx, event, regs)
}

func (eb *EventBus) publishSync(ctx context.Context, event Event, regs []registration) error {
	for _, r := range regs {
		if err := eb.executeHandler(ctx, event, r); err != nil {
			return err
		}
	}
	return nil
}

func (eb *EventBus) publishAsync(ctx context.Context, event Event, regs []registration) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(regs))

	for _, r := range regs {
		wg.Add(1)
		go func(r registration) {
			defer wg.Done()
			if err := eb.executeHandler(ctx, event, r); err != nil {
				errCh <- err
			}
		}(r)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// executeHandler executes a handler with retry logic
func (eb *EventBus) executeHandler(ctx context.Context, event Event, r registration) error {
	var lastErr error

	for attempt := 0; attempt <= eb.config.MaxRetries; attempt++ {
		if attempt > 0 {
			eb.logger.Warnf("Retrying handler %s for event %s (attempt %d/%d)",
				r.id, event.Type(), attempt+1, eb.config.MaxRetries+1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(eb.config.RetryDelay):
			}
		}

		if err := r.handler(ctx, event); err != nil {
			lastErr = err
			eb.logger.Errorf("Handler %s failed for event %s: %v", r.id, event.Type(), err)
			continue
		}
		return nil
	}

	return fmt.Errorf("handler failed after %d attempts: %w", eb.config.MaxRetries+1, lastErr)
}

// GetSubscriberCount returns the number of handlers for an event type
func (eb *EventBus) GetSubscriberCount(eventType string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}

// BasicEvent implements the Event interface
type BasicEvent struct {
	eventType string
	data      interface{}
	timestamp time.Time
	source    string
}

// NewBasicEvent creates a new basic event
func NewBasicEvent(eventType string, data interface{}, source string) Event {
	return &BasicEvent{
		eventType: eventType,
		data:      data,
		timestamp: time.Now(),
		source:    source,
	}
}

func (e *BasicEvent) Type() string {
	return e.eventType
}

func (e *BasicEvent) Data() interface{} {
	return e.data
}

func (e *BasicEvent) Timestamp() time.Time {
	return e.timestamp
}

func (e *BasicEvent) Source() string {
	return e.source
}

// EventTypeDocumentsChanged is published once per committed batch.
const EventTypeDocumentsChanged = "documents.changed"
