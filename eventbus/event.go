// Package eventbus implements the substrate's typed, asynchronous pub/sub
// fabric: every lifecycle and execution transition is announced as an
// Event, observers subscribe by type/ancestor, name pattern, or predicate,
// and dispatch happens on independent goroutines under a cooperative
// single-threaded scheduler.
package eventbus

import (
	"time"

	"github.com/google/uuid"

	"github.com/entityflow/entityflow/entity"
)

// Built-in event taxonomy (spec.md §4.D). Domain code is free to emit any
// other type string; these are simply the ones the substrate itself
// produces.
const (
	TypeCreated          = "entity.created"
	TypeModified         = "entity.modified"
	TypeDeleted          = "entity.deleted"
	TypeIDUpdate         = "entity.id_update"
	TypeAttached         = "entity.attached"
	TypeDetached         = "entity.detached"
	TypeFunctionStarted  = "function.started"
	TypeFunctionCompleted = "function.completed"
	TypeFunctionFailed   = "function.failed"
	TypeHandlerTimeout   = "handler.timeout"
	TypeHandlerFailed    = "handler.failed"
)

// fingerprint identifies one (event type, subject) pair along a causal
// chain, used by the self-recursion guard.
type fingerprint struct {
	eventType string
	subjectID entity.ID
}

// Event is the substrate's event envelope. It never carries a copy of
// entity content; observers fetch current state through the registry using
// SubjectID.
type Event struct {
	ID          uuid.UUID
	Type        string
	SubjectType string
	SubjectID   entity.ID
	ParentID    uuid.UUID
	Timestamp   time.Time
	Metadata    map[string]any

	// ancestry carries the fingerprint of every event on the causal chain
	// leading to this one (its ancestors, not this event's own). It is
	// consulted by the bus's self-recursion guard and is not part of the
	// public event contract.
	ancestry map[fingerprint]bool
}

// Option configures an Event at construction time.
type Option func(*Event)

// WithSubject sets the subject type/id a built-in event carries by
// default; domain emitters use it to tag the entity an event concerns.
func WithSubject(subjectType string, subjectID entity.ID) Option {
	return func(e *Event) {
		e.SubjectType = subjectType
		e.SubjectID = subjectID
	}
}

// WithMetadata attaches one key/value pair to the event's metadata record.
func WithMetadata(key string, value any) Option {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

// WithTimestamp overrides the default time.Now() timestamp, useful in
// tests.
func WithTimestamp(t time.Time) Option {
	return func(e *Event) { e.Timestamp = t }
}

// New constructs a root event: one with no causal parent.
func New(eventType string, opts ...Option) Event {
	e := Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// NewFromParent constructs an event causally descended from parent: its
// ParentID is set, and it inherits parent's full causal ancestry plus
// parent's own fingerprint, which is what lets the bus detect a handler
// re-emitting an event already present in its own causal chain.
func NewFromParent(parent Event, eventType string, opts ...Option) Event {
	e := Event{
		ID:        uuid.New(),
		Type:      eventType,
		ParentID:  parent.ID,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	e.ancestry = make(map[fingerprint]bool, len(parent.ancestry)+1)
	for fp := range parent.ancestry {
		e.ancestry[fp] = true
	}
	e.ancestry[fingerprint{eventType: parent.Type, subjectID: parent.SubjectID}] = true
	return e
}

// isSelfRecursive reports whether e's own (type, subject) fingerprint
// already appears among its ancestors, meaning some event earlier on this
// exact causal chain had the same type and subject.
func (e Event) isSelfRecursive() bool {
	return e.ancestry[fingerprint{eventType: e.Type, subjectID: e.SubjectID}]
}
