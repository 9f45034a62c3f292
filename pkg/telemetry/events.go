package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event emitted by the agent or the local runtime.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// CycleID is the associated reconciliation cycle, if applicable.
	CycleID string `json:"cycle_id,omitempty"`

	// Step is the associated execution step, if applicable.
	Step string `json:"step,omitempty"`

	// Module is the associated module (name@version or ID), if applicable.
	Module string `json:"module,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeCycleStarted       = "cycle.started"
	EventTypeCycleCompleted     = "cycle.completed"
	EventTypeCycleFailed        = "cycle.failed"
	EventTypeStepCompleted      = "step.completed"
	EventTypeStepFailed         = "step.failed"
	EventTypeModuleStateChanged = "module.state_changed"
	EventTypeModulesRefreshed   = "modules.refreshed"
	EventTypePolicyViolation    = "policy.violation"
	EventTypeError              = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers map[uint64]subscriberEntry
	nextSub     uint64
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make(map[uint64]subscriberEntry),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Enabled reports whether events are delivered at all.
func (ep *EventPublisher) Enabled() bool {
	return ep != nil && ep.config.Enabled
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.Enabled() {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishCycleStarted publishes a cycle started event.
func (ep *EventPublisher) PublishCycleStarted(cycleID string, keys int) error {
	return ep.Publish(Event{
		Type:    EventTypeCycleStarted,
		Source:  "agent",
		CycleID: cycleID,
		Message: fmt.Sprintf("Cycle %s started (%d snapshot keys)", cycleID, keys),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"keys": keys,
		},
	})
}

// PublishCycleCompleted publishes a cycle completed event.
func (ep *EventPublisher) PublishCycleCompleted(cycleID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeCycleCompleted,
		Source:  "agent",
		CycleID: cycleID,
		Message: fmt.Sprintf("Cycle %s completed with status: %s", cycleID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishCycleFailed publishes a cycle failed event.
func (ep *EventPublisher) PublishCycleFailed(cycleID, status, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeCycleFailed,
		Source:  "agent",
		CycleID: cycleID,
		Message: fmt.Sprintf("Cycle %s %s: %s", cycleID, status, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"status": status,
			"reason": reason,
		},
	})
}

// PublishStepCompleted publishes an execution step completed event.
func (ep *EventPublisher) PublishStepCompleted(cycleID, step string, count int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeStepCompleted,
		Source:  "executor",
		CycleID: cycleID,
		Step:    step,
		Message: fmt.Sprintf("Step %s completed (%d modules)", step, count),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"count":    count,
			"duration": duration.Seconds(),
		},
	})
}

// PublishStepFailed publishes an execution step failed event.
func (ep *EventPublisher) PublishStepFailed(cycleID, step, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeStepFailed,
		Source:  "executor",
		CycleID: cycleID,
		Step:    step,
		Message: fmt.Sprintf("Step %s failed: %s", step, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishModuleStateChanged publishes a module lifecycle transition.
func (ep *EventPublisher) PublishModuleStateChanged(module, oldState, newState string) error {
	return ep.Publish(Event{
		Type:    EventTypeModuleStateChanged,
		Source:  "runtime",
		Module:  module,
		Message: fmt.Sprintf("Module %s state changed from %s to %s", module, oldState, newState),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"old_state": oldState,
			"new_state": newState,
		},
	})
}

// PublishModulesRefreshed publishes the completion of a runtime refresh.
func (ep *EventPublisher) PublishModulesRefreshed(ids []int64) error {
	return ep.Publish(Event{
		Type:    EventTypeModulesRefreshed,
		Source:  "runtime",
		Message: fmt.Sprintf("Refreshed %d modules", len(ids)),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"ids": ids,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(module, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy_engine",
		Module:  module,
		Message: fmt.Sprintf("Policy violation on module %s: %s - %s", module, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber and returns a function that removes it.
// Subscribers run in their own goroutine for each event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) (cancel func()) {
	if !ep.Enabled() {
		return func() {}
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	id := ep.nextSub
	ep.nextSub++
	ep.subscribers[id] = subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	}

	return func() {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		delete(ep.subscribers, id)
	}
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	var ticker <-chan time.Time
	if ep.config.FlushInterval > 0 {
		t := time.NewTicker(ep.config.FlushInterval)
		defer t.Stop()
		ticker = t.C
	}

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Drain whatever is already queued so a lone event is not held
			// until the next tick.
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ticker:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.Enabled() {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}
