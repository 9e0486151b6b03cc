// Package bus is the in-process event bus: durable publish, ordered
// per-subscriber fan-out, and deterministic replay.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amperehq/ampere/internal/ids"
	"github.com/amperehq/ampere/internal/persistence"
)

// SourceKind discriminates Event.Source.
type SourceKind string

const (
	SourceAgent  SourceKind = "Agent"
	SourceHuman  SourceKind = "Human"
	SourceSystem SourceKind = "System"
)

// Source is the discriminated union eventSource: Agent{id}, Human{id}, System.
type Source struct {
	Kind SourceKind
	ID   string // empty for SourceSystem
}

// AgentSource builds an Agent{id} source.
func AgentSource(id string) Source { return Source{Kind: SourceAgent, ID: id} }

// HumanSource builds a Human{id} source.
func HumanSource(id string) Source { return Source{Kind: SourceHuman, ID: id} }

// SystemSource is the System source; it carries no id.
var SystemSource = Source{Kind: SourceSystem}

// Urgency is the severity carried on every event.
type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// Event is an immutable published record. Payload is kept as raw JSON so the
// bus never needs to know concrete event-payload types; handlers unmarshal
// into the type their event type implies.
type Event struct {
	EventID        string
	EventType      string
	EventClassType string
	Timestamp      time.Time
	Source         Source
	Urgency        Urgency
	Payload        json.RawMessage
}

// ErrKind tags Error values as either a store failure or a handler
// delivery failure, so callers can tell a durability problem from a
// subscriber bug.
type ErrKind string

const (
	ErrKindPersistence ErrKind = "Persistence"
	ErrKindValidation  ErrKind = "Validation"
)

// Error is BusError: a typed failure from Publish.
type Error struct {
	Kind  ErrKind
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("bus error (%s): %v", e.Kind, e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// Handler processes one delivered event. Panics are recovered and logged;
// a handler never kills the bus or a sibling subscriber.
type Handler func(ctx context.Context, e Event)

// Selector chooses which published events a subscription receives.
type Selector struct {
	kind      selectorKind
	eventType string
	classType string
	agentID   string
}

type selectorKind int

const (
	selectorCatchAll selectorKind = iota
	selectorByType
	selectorByClass
	selectorByAgent
)

// ByType matches events whose EventType equals t exactly.
func ByType(t string) Selector { return Selector{kind: selectorByType, eventType: t} }

// ByClass matches events whose EventClassType equals c exactly.
func ByClass(c string) Selector { return Selector{kind: selectorByClass, classType: c} }

// ByAgent matches events whose Source references agentID (Agent or Human
// source of that id).
func ByAgent(agentID string) Selector { return Selector{kind: selectorByAgent, agentID: agentID} }

// CatchAll matches every event.
func CatchAll() Selector { return Selector{kind: selectorCatchAll} }

func (s Selector) matches(e Event) bool {
	switch s.kind {
	case selectorByType:
		return e.EventType == s.eventType
	case selectorByClass:
		return e.EventClassType == s.classType
	case selectorByAgent:
		return (e.Source.Kind == SourceAgent || e.Source.Kind == SourceHuman) && e.Source.ID == s.agentID
	default:
		return true
	}
}

// Subscription is the cancellable handle returned by Subscribe.
type Subscription struct {
	id       int64
	agentID  string
	selector Selector
	handler  Handler
	logger   *slog.Logger
	pending  *atomic.Int64

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
}

// Cancel stops delivery to this subscription. In-flight handler invocations
// are allowed to finish; no further events are enqueued or delivered.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Subscription) enqueue(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, e)
	s.pending.Add(1)
	s.cond.Signal()
}

// run is the subscription's single worker goroutine: it is the only reader
// of queue, which is what guarantees invocations never overlap.
func (s *Subscription) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.invoke(e)
		s.pending.Add(-1)
	}
}

func (s *Subscription) invoke(e Event) {
	defer func() {
		if r := recover(); r != nil {
			if s.logger != nil {
				s.logger.Error("bus handler panicked",
					"event_type", e.EventType,
					"subscriber_agent_id", s.agentID,
					"panic", fmt.Sprintf("%v", r))
			}
		}
	}()
	s.handler(context.Background(), e)
}

// Bus is the EventBus.
type Bus struct {
	store  *persistence.Store
	clock  ids.Clock
	logger *slog.Logger

	mu              sync.RWMutex
	subs            map[int64]*Subscription
	nextID          int64
	pending         atomic.Int64
	replayBatchSize int
}

// New returns a Bus whose Publish persists through store before fan-out.
func New(store *persistence.Store, clock ids.Clock, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		store:  store,
		clock:  clock,
		logger: logger,
		subs:   make(map[int64]*Subscription),
	}
}

// Subscribe registers handler for events matching selector. agentID
// identifies the subscribing agent for ByAgent selectors elsewhere and for
// log attribution; it is not itself a filter.
func (b *Bus) Subscribe(agentID string, selector Selector, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:       b.nextID,
		agentID:  agentID,
		selector: selector,
		handler:  handler,
		logger:   b.logger,
		pending:  &b.pending,
	}
	sub.cond = sync.NewCond(&sub.mu)
	b.subs[sub.id] = sub
	go sub.run()
	return sub
}

// Unsubscribe cancels and removes sub. Equivalent to sub.Cancel() plus
// releasing the bus's reference to it.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	sub.Cancel()
}

// Publish marshals payload, validates it against the event type's schema (if
// registered), durably persists it, and fans out to matching subscribers in
// publication order. It does not return until persistence succeeds;
// subscriber delivery may continue asynchronously after Publish returns.
func (b *Bus) Publish(ctx context.Context, eventType, eventClassType string, source Source, urgency Urgency, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, &Error{Kind: ErrKindValidation, Cause: fmt.Errorf("marshal payload: %w", err)}
	}
	if err := ValidatePayload(eventType, raw); err != nil {
		return Event{}, &Error{Kind: ErrKindValidation, Cause: err}
	}

	e := Event{
		EventID:        ids.New(),
		EventType:      eventType,
		EventClassType: eventClassType,
		Timestamp:      b.clock.Now(),
		Source:         source,
		Urgency:        urgency,
		Payload:        raw,
	}

	row := persistence.EventRow{
		EventID:        e.EventID,
		EventType:      e.EventType,
		EventClassType: e.EventClassType,
		Timestamp:      e.Timestamp,
		Urgency:        string(e.Urgency),
		SourceKind:     string(e.Source.Kind),
		Payload:        raw,
	}
	if e.Source.Kind != SourceSystem {
		id := e.Source.ID
		row.SourceID = &id
	}
	if err := b.store.AppendEvent(ctx, row); err != nil {
		return Event{}, &Error{Kind: ErrKindPersistence, Cause: err}
	}

	b.fanout(e)
	return e, nil
}

func (b *Bus) fanout(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.selector.matches(e) {
			sub.enqueue(e)
		}
	}
}

// SetReplayBatchSize sets the page size ReplayEvents requests from
// storage per round trip. n <= 0 falls back to the store's default.
func (b *Bus) SetReplayBatchSize(n int) {
	b.replayBatchSize = n
}

// ReplayEvents replays persisted events with since <= timestamp <= untilNow,
// in ascending timestamp order, to handler — synchronously and finitely.
func (b *Bus) ReplayEvents(ctx context.Context, since, untilNow time.Time, selector Selector, handler Handler) error {
	return b.store.ReplayEvents(ctx, since, untilNow, b.replayBatchSize, func(row persistence.EventRow) error {
		e := rowToEvent(row)
		if selector.matches(e) {
			handler(ctx, e)
		}
		return nil
	})
}

// GetPendingEventCount reports the total number of events enqueued to
// subscriber queues but not yet delivered, across all subscriptions.
func (b *Bus) GetPendingEventCount() int64 {
	return b.pending.Load()
}

func rowToEvent(row persistence.EventRow) Event {
	e := Event{
		EventID:        row.EventID,
		EventType:      row.EventType,
		EventClassType: row.EventClassType,
		Timestamp:      row.Timestamp,
		Urgency:        Urgency(row.Urgency),
		Payload:        json.RawMessage(row.Payload),
	}
	e.Source.Kind = SourceKind(row.SourceKind)
	if row.SourceID != nil {
		e.Source.ID = *row.SourceID
	}
	return e
}
