package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// Handler processes one delivered event.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt Event) error { return f(ctx, evt) }

// Subscription is the handle returned by On; call Cancel to stop receiving
// events.
type Subscription struct {
	bus *Bus
	id  uint64
}

// Cancel removes this subscription from the bus. Safe to call more than
// once.
func (s *Subscription) Cancel() {
	s.bus.removeSub(s.id)
}

type subscription struct {
	id        uint64
	handler   Handler
	eventType string
	pattern   glob.Glob
	predicate func(Event) bool
	timeout   time.Duration
}

// SubOption configures a subscription registered via On. The three forms
// from spec.md §4.D are composable: a subscription with more than one form
// set matches only events satisfying all of them.
type SubOption func(*subscription)

// ByType matches events of the given type, or any type registered as a
// descendant of it via RegisterAncestor.
func ByType(eventType string) SubOption {
	return func(s *subscription) { s.eventType = eventType }
}

// ByNamePattern matches events whose type matches a wildcard glob pattern
// (e.g. "entity.*").
func ByNamePattern(pattern string) SubOption {
	return func(s *subscription) {
		g, err := glob.Compile(pattern)
		if err != nil {
			// An invalid pattern matches nothing rather than panicking;
			// callers are expected to validate patterns during development.
			g = glob.MustCompile("\x00no-match\x00")
		}
		s.pattern = g
	}
}

// ByPredicate matches events for which pred returns true.
func ByPredicate(pred func(Event) bool) SubOption {
	return func(s *subscription) { s.predicate = pred }
}

// WithHandlerTimeout overrides the bus's default handler deadline for this
// subscription only.
func WithHandlerTimeout(d time.Duration) SubOption {
	return func(s *subscription) { s.timeout = d }
}

// Bus is the substrate's event dispatcher: a cooperative, single-threaded
// scheduler that enqueues emitted events in call order and fans each one
// out to its matching subscriptions as independent goroutines.
type Bus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscription
	next uint64

	ancestorMu sync.RWMutex
	ancestors  map[string]string // child type -> parent type

	queue chan Event

	defaultTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option for NewBus itself (distinct from event.Option).
type BusOption func(*Bus)

// WithDefaultTimeout sets the handler deadline used when a subscription
// does not specify its own.
func WithDefaultTimeout(d time.Duration) BusOption {
	return func(b *Bus) { b.defaultTimeout = d }
}

// WithQueueSize sets the dispatch queue's buffer size.
func WithQueueSize(n int) BusOption {
	return func(b *Bus) { b.queue = make(chan Event, n) }
}

// NewBus constructs a running Bus. Call Close to stop its dispatch loop.
func NewBus(opts ...BusOption) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subs:           make(map[uint64]*subscription),
		ancestors:      make(map[string]string),
		queue:          make(chan Event, 256),
		defaultTimeout: 5 * time.Second,
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// defaultBus is the package-level convenience instance (spec.md §9: the
// bus is an instantiable context with a package-level Default for
// convenience).
var defaultBus = NewBus()

// Default returns the package-level Bus instance.
func Default() *Bus { return defaultBus }

// RegisterAncestor declares that childType is a subtype of parentType, so
// that a subscription ByType(parentType) also matches events of
// childType (and transitively, descendants of childType).
func (b *Bus) RegisterAncestor(childType, parentType string) {
	b.ancestorMu.Lock()
	defer b.ancestorMu.Unlock()
	b.ancestors[childType] = parentType
}

func (b *Bus) isAncestorOrSelf(want, got string) bool {
	if want == got {
		return true
	}
	b.ancestorMu.RLock()
	defer b.ancestorMu.RUnlock()
	seen := map[string]bool{got: true}
	for {
		parent, ok := b.ancestors[got]
		if !ok || seen[parent] {
			return false
		}
		if parent == want {
			return true
		}
		seen[parent] = true
		got = parent
	}
}

// On registers handler to receive events matching every configured form.
// A subscription with no forms set matches every event.
func (b *Bus) On(handler Handler, opts ...SubOption) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	sub := &subscription{id: b.next, handler: handler}
	for _, opt := range opts {
		opt(sub)
	}
	b.subs[sub.id] = sub
	return &Subscription{bus: b, id: sub.id}
}

func (b *Bus) removeSub(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Emit enqueues evt for delivery. It blocks only while the queue is full,
// and drops evt if the bus is closed before there is room. The dispatch
// loop processes the queue in the order Emit was called, matching
// spec.md §4.D's "ordering across different emit calls follows call order".
func (b *Bus) Emit(evt Event) {
	select {
	case b.queue <- evt:
	case <-b.ctx.Done():
	}
}

// Close stops the dispatch loop and waits for in-flight handlers to finish
// or time out.
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Bus) loop() {
	defer b.wg.Done()
	for {
		select {
		case evt := <-b.queue:
			b.dispatch(evt)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bus) dispatch(evt Event) {
	if evt.isSelfRecursive() {
		b.Emit(NewFromParent(evt, TypeHandlerFailed,
			WithSubject(evt.SubjectType, evt.SubjectID),
			WithMetadata("reason", "self-recursion detected"),
			WithMetadata("event_type", evt.Type)))
		return
	}

	matches := b.matchingSubs(evt)
	for _, sub := range matches {
		b.wg.Add(1)
		go b.invoke(sub, evt)
	}
}

func (b *Bus) matchingSubs(evt Event) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*subscription
	for _, sub := range b.subs {
		if sub.eventType != "" && !b.isAncestorOrSelf(sub.eventType, evt.Type) {
			continue
		}
		if sub.pattern != nil && !sub.pattern.Match(evt.Type) {
			continue
		}
		if sub.predicate != nil && !sub.predicate(evt) {
			continue
		}
		out = append(out, sub)
	}
	return out
}

func (b *Bus) invoke(sub *subscription, evt Event) {
	defer b.wg.Done()

	timeout := sub.timeout
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- callHandler(sub.handler, ctx, evt)
	}()

	select {
	case err := <-done:
		if err != nil {
			b.Emit(NewFromParent(evt, TypeHandlerFailed,
				WithSubject(evt.SubjectType, evt.SubjectID),
				WithMetadata("reason", err.Error())))
		}
	case <-ctx.Done():
		b.Emit(NewFromParent(evt, TypeHandlerTimeout,
			WithSubject(evt.SubjectType, evt.SubjectID),
			WithMetadata("timeout", timeout.String())))
	}
}

// callHandler runs handler and converts a panic into an error so one
// misbehaving handler never takes down the dispatch loop or blocks
// delivery to other subscribers.
func callHandler(h Handler, ctx context.Context, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, evt)
}
