// Package serviceobject defines the narrow interface the broker and the
// remote object both require from a "service object" (spec.md §6), plus an
// embeddable Base that implements the event-subscriber registry shared by
// local services and remote stubs (spec.md §3's "Event subscriber
// registry").
package serviceobject

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// CallMode selects how a service object should execute a call.
type CallMode int

const (
	// Direct executes the handler inline, on the caller's goroutine.
	Direct CallMode = iota
	// Queued requires the handler to execute off the caller's goroutine,
	// via a worker pool (spec.md §4.3, §5).
	Queued
)

// Completion is the out-parameter spec.md's glossary calls a "completion
// handle": the caller of MetaCall supplies one, and whoever resolves the
// call invokes exactly one of Success/Fail on it.
type Completion interface {
	Success(payload []byte)
	Fail(err error)
}

// CompletionFuncs adapts two closures into a Completion.
type CompletionFuncs struct {
	OnSuccess func(payload []byte)
	OnFail    func(err error)
}

func (c CompletionFuncs) Success(payload []byte) {
	if c.OnSuccess != nil {
		c.OnSuccess(payload)
	}
}

func (c CompletionFuncs) Fail(err error) {
	if c.OnFail != nil {
		c.OnFail(err)
	}
}

// Subscriber receives event payloads for one subscription.
type Subscriber func(params []byte)

// MethodInfo is what MetaObject returns for one function id, used for
// error messages (spec.md §4.2: "include its signature when resolvable").
type MethodInfo struct {
	Name      string
	Signature string
}

// Object is the interface the broker dispatches onto and the interface a
// remoteobject.Object satisfies on the client side (spec.md §6).
type Object interface {
	// MetaCall invokes function with params and resolves completion
	// exactly once, according to mode.
	MetaCall(ctx context.Context, function uint32, params []byte, completion Completion, mode CallMode)
	// MetaEmit fires an event; no reply is expected.
	MetaEmit(ctx context.Context, function uint32, params []byte)
	// Connect registers subscriber for event, returning a fresh link id.
	Connect(event uint32, subscriber Subscriber) uint32
	// Disconnect removes the subscription named by linkID.
	Disconnect(linkID uint32) bool
	// MetaObject exposes name/signature introspection, best-effort.
	MetaObject() map[uint32]MethodInfo
}

// nextLinkID is process-global so link ids are unique across every Base
// instance in the process, per spec.md §3 ("Local link ids are
// process-unique monotonic integers").
var nextLinkID atomic.Uint32

// Base implements the event-subscriber registry (event id -> link id ->
// subscriber) shared by local service implementations and by
// remoteobject.Object, per spec.md §3 and the Design Note that this
// bookkeeping is "inherited from the generic object base".
type Base struct {
	mu   sync.RWMutex
	subs map[uint32]map[uint32]Subscriber // event -> linkID -> subscriber
}

// Connect registers subscriber for event and returns a fresh link id.
// Two calls with identical arguments produce two distinct link ids
// (spec.md §8's event-idempotence property).
func (b *Base) Connect(event uint32, subscriber Subscriber) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[uint32]map[uint32]Subscriber)
	}
	linkID := nextLinkID.Add(1)
	if b.subs[event] == nil {
		b.subs[event] = make(map[uint32]Subscriber)
	}
	b.subs[event][linkID] = subscriber
	return linkID
}

// Disconnect removes the subscription named by linkID, scanning every
// event (spec.md §4.2: "locate which event id this link belongs to by
// scanning the local event registry"). It reports whether a subscription
// was found and removed.
func (b *Base) Disconnect(linkID uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for event, links := range b.subs {
		if _, ok := links[linkID]; ok {
			delete(links, linkID)
			if len(links) == 0 {
				delete(b.subs, event)
			}
			return true
		}
	}
	return false
}

// EventOf returns the event id linkID belongs to, if any.
func (b *Base) EventOf(linkID uint32) (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for event, links := range b.subs {
		if _, ok := links[linkID]; ok {
			return event, true
		}
	}
	return 0, false
}

// Emit invokes every subscriber currently registered for event with
// params. Subscribers run synchronously on the caller's goroutine;
// callers that need off-path delivery (e.g. the broker forwarding to a
// socket) should not call Emit directly from an I/O callback without
// going through a worker pool.
func (b *Base) Emit(event uint32, params []byte) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subs[event]))
	for _, fn := range b.subs[event] {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(params)
	}
}

// MethodTable is a map-based MetaCall/MetaEmit dispatcher: a Go rewrite's
// replacement for the reflective C++ metaobject system the original
// implementation used (spec.md §9 favors explicit structures over
// reflection). Embed it, or use it to build a MethodTable-backed Object.
type MethodTable struct {
	Base

	methods map[uint32]MethodInfo
	calls   map[uint32]func(ctx context.Context, params []byte) ([]byte, error)
	emits   map[uint32]func(ctx context.Context, params []byte)
}

// NewMethodTable constructs an empty MethodTable.
func NewMethodTable() *MethodTable {
	return &MethodTable{
		methods: make(map[uint32]MethodInfo),
		calls:   make(map[uint32]func(context.Context, []byte) ([]byte, error)),
		emits:   make(map[uint32]func(context.Context, []byte)),
	}
}

// RegisterMethod makes function callable via MetaCall.
func (t *MethodTable) RegisterMethod(function uint32, info MethodInfo, handler func(ctx context.Context, params []byte) ([]byte, error)) {
	t.methods[function] = info
	t.calls[function] = handler
}

// RegisterEventEmitHandler lets a service observe locally-originated
// MetaEmit calls for function (most services don't need this; it exists
// for services that echo or log their own emitted events).
func (t *MethodTable) RegisterEventEmitHandler(function uint32, handler func(ctx context.Context, params []byte)) {
	t.emits[function] = handler
}

// MetaCall implements Object. mode is accepted for interface conformance;
// MethodTable always executes inline (Direct) -- callers that need Queued
// semantics (the broker does) wrap the call in a workerpool.Pool
// themselves, matching spec.md §4.3's "the Queued mode requires the
// invocation to execute off the I/O thread", which is a responsibility of
// the caller of MetaCall, not of every Object implementation.
func (t *MethodTable) MetaCall(ctx context.Context, function uint32, params []byte, completion Completion, mode CallMode) {
	handler, ok := t.calls[function]
	if !ok {
		completion.Fail(fmt.Errorf("method unknown: function id %d", function))
		return
	}
	result, err := handler(ctx, params)
	if err != nil {
		completion.Fail(err)
		return
	}
	completion.Success(result)
}

// MetaEmit implements Object.
func (t *MethodTable) MetaEmit(ctx context.Context, function uint32, params []byte) {
	if handler, ok := t.emits[function]; ok {
		handler(ctx, params)
	}
	t.Base.Emit(function, params)
}

// MetaObject implements Object.
func (t *MethodTable) MetaObject() map[uint32]MethodInfo {
	out := make(map[uint32]MethodInfo, len(t.methods))
	for id, info := range t.methods {
		out[id] = info
	}
	return out
}
