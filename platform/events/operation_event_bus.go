package events

import (
	"sync"
	"time"

	"sprisk/domain/scan"
	"sprisk/logging"
)

// OperationCompletedEvent is published when an operation finishes
// successfully.
type OperationCompletedEvent struct {
	Session  scan.OperationSession
	Duration time.Duration
}

// OperationFailedEvent is published when an operation finishes with an
// error.
type OperationFailedEvent struct {
	Session scan.OperationSession
	Error   string
}

// OperationEventBus provides type-safe event publishing and subscription
// for operation lifecycle events.
type OperationEventBus struct {
	mu     sync.RWMutex
	logger *logging.Logger

	completedHandlers []func(OperationCompletedEvent)
	failedHandlers    []func(OperationFailedEvent)
}

// NewOperationEventBus creates a new typed operation event bus.
func NewOperationEventBus() *OperationEventBus {
	return &OperationEventBus{
		logger:            logging.Default().WithComponent("operation_event_bus"),
		completedHandlers: make([]func(OperationCompletedEvent), 0),
		failedHandlers:    make([]func(OperationFailedEvent), 0),
	}
}

// Subscribe methods for each event type

func (bus *OperationEventBus) OnOperationCompleted(handler func(OperationCompletedEvent)) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.completedHandlers = append(bus.completedHandlers, handler)
}

func (bus *OperationEventBus) OnOperationFailed(handler func(OperationFailedEvent)) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.failedHandlers = append(bus.failedHandlers, handler)
}

// PublishOperationCompleted satisfies the runner's publisher contract.
func (bus *OperationEventBus) PublishOperationCompleted(session scan.OperationSession) {
	event := OperationCompletedEvent{
		Session:  session,
		Duration: time.Since(session.StartedAt),
	}

	bus.mu.RLock()
	handlers := make([]func(OperationCompletedEvent), len(bus.completedHandlers))
	copy(handlers, bus.completedHandlers)
	bus.mu.RUnlock()

	// Execute handlers asynchronously to avoid blocking the publisher
	for _, handler := range handlers {
		go func(h func(OperationCompletedEvent)) {
			defer func() {
				if r := recover(); r != nil {
					bus.logger.Error("Event handler panicked in OperationCompleted",
						"operation_id", event.Session.ID,
						"panic", r)
				}
			}()
			h(event)
		}(handler)
	}
}

// PublishOperationFailed satisfies the runner's publisher contract.
func (bus *OperationEventBus) PublishOperationFailed(session scan.OperationSession, errMsg string) {
	event := OperationFailedEvent{
		Session: session,
		Error:   errMsg,
	}

	bus.mu.RLock()
	handlers := make([]func(OperationFailedEvent), len(bus.failedHandlers))
	copy(handlers, bus.failedHandlers)
	bus.mu.RUnlock()

	for _, handler := range handlers {
		go func(h func(OperationFailedEvent)) {
			defer func() {
				if r := recover(); r != nil {
					bus.logger.Error("Event handler panicked in OperationFailed",
						"operation_id", event.Session.ID,
						"error", event.Error,
						"panic", r)
				}
			}()
			h(event)
		}(handler)
	}
}
