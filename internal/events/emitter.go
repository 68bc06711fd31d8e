// Package events is the per-session event emitter. Each graph session owns
// one; there is no process-wide bus.
package events

import (
	"slices"
	"sync"
	"time"

	"github.com/agentic-research/loom/internal/graph"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeGraphChanged follows every recomputation.
	TypeGraphChanged Type = "graph-changed"
	// TypeExpand carries the expanded frontier.
	TypeExpand Type = "expand"
	// TypeHide carries the hidden nodes.
	TypeHide Type = "hide"
	// TypeRemove carries the removed nodes.
	TypeRemove Type = "remove"
	// TypeCollapse carries the nodes folded away by a collapse.
	TypeCollapse Type = "collapse"
	// TypeLayoutRestart is emitted whenever the layout is started again.
	TypeLayoutRestart Type = "layout-restart"
	// TypeCondense carries the nodes removed by condensation.
	TypeCondense Type = "condense"
	// TypeRefresh carries nodes re-read after a corpus change.
	TypeRefresh Type = "refresh"
)

// Event is one notification.
type Event struct {
	ID        string           `json:"id"`
	Type      Type             `json:"type"`
	SessionID string           `json:"session_id"`
	Timestamp time.Time        `json:"timestamp"`
	Nodes     []graph.Identity `json:"nodes,omitempty"`
}

// Handler processes events. Handlers run synchronously on the emitting
// goroutine.
type Handler func(event *Event)

type subscription struct {
	id      string
	handler Handler
	types   []Type
}

// Emitter broadcasts events to subscribers in subscription order.
type Emitter struct {
	mu         sync.RWMutex
	subs       []*subscription
	buffer     []Event
	bufferSize int
	sessionID  string
	logger     *zap.Logger
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets how many recent events are retained.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) { e.bufferSize = size }
}

// WithLogger sets the logger used for handler panics.
func WithLogger(l *zap.Logger) EmitterOption {
	return func(e *Emitter) { e.logger = l }
}

// NewEmitter creates an emitter stamping sessionID on every event.
func NewEmitter(sessionID string, opts ...EmitterOption) *Emitter {
	e := &Emitter{sessionID: sessionID, bufferSize: 256, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	e.buffer = make([]Event, 0, e.bufferSize)
	return e
}

// SessionID returns the id stamped on events.
func (e *Emitter) SessionID() string { return e.sessionID }

// Subscribe registers handler for the given types (all types if none) and
// returns the subscription id.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub := &subscription{id: uuid.NewString(), handler: handler, types: types}
	e.subs = append(e.subs, sub)
	return sub.id
}

// Unsubscribe removes a subscription. It reports whether id was known.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s.id == id {
			e.subs = slices.Delete(e.subs, i, i+1)
			return true
		}
	}
	return false
}

// Emit broadcasts an event about nodes.
func (e *Emitter) Emit(t Type, nodes ...graph.Identity) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      t,
		SessionID: e.sessionID,
		Timestamp: time.Now(),
		Nodes:     nodes,
	}

	e.mu.Lock()
	if e.bufferSize > 0 {
		if len(e.buffer) >= e.bufferSize {
			e.buffer = e.buffer[1:]
		}
		e.buffer = append(e.buffer, event)
	}
	subs := slices.Clone(e.subs)
	e.mu.Unlock()

	for _, sub := range subs {
		if len(sub.types) > 0 && !slices.Contains(sub.types, t) {
			continue
		}
		e.invoke(sub.handler, &event)
	}
}

func (e *Emitter) invoke(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID),
				zap.Any("panic", r))
		}
	}()
	handler(event)
}

// Recent returns a copy of the retained events, oldest first.
func (e *Emitter) Recent() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.buffer)
}
