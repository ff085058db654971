// internal/events/dispatcher.go
package events

import (
	"encoding/json"
	"reflect"
	"sync"

	"jobmarket-client/internal/common/logger"
	"jobmarket-client/internal/common/metrics"
)

// Handler consumes the raw payload of one event frame.
type Handler func(payload json.RawMessage)

type registration struct {
	id uintptr
	fn Handler
}

// Dispatcher fans event frames out to subscribed handlers. Registration is
// keyed by callback identity: subscribing the same function twice is a no-op,
// and unsubscribing removes it wherever it was registered.
type Dispatcher struct {
	logger logger.Logger

	mu       sync.Mutex
	handlers map[string][]registration
}

func NewDispatcher(log logger.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   log.WithFields(map[string]interface{}{"component": "dispatcher"}),
		handlers: make(map[string][]registration),
	}
}

func handlerID(fn Handler) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

func (d *Dispatcher) Subscribe(event string, fn Handler) {
	if fn == nil {
		return
	}
	id := handlerID(fn)

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range d.handlers[event] {
		if r.id == id {
			return
		}
	}
	d.handlers[event] = append(d.handlers[event], registration{id: id, fn: fn})
}

func (d *Dispatcher) Unsubscribe(event string, fn Handler) {
	if fn == nil {
		return
	}
	id := handlerID(fn)

	d.mu.Lock()
	defer d.mu.Unlock()

	regs := d.handlers[event]
	for i, r := range regs {
		if r.id == id {
			d.handlers[event] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// HandlerCount reports how many handlers are registered for event.
func (d *Dispatcher) HandlerCount(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[event])
}

// Dispatch invokes every handler registered for event, in registration order.
// The handler list is snapshotted up front, but membership is re-checked
// before each invocation so a handler removed mid-dispatch is skipped. A
// panicking handler is isolated; the remaining handlers still run.
func (d *Dispatcher) Dispatch(event string, payload json.RawMessage) {
	d.mu.Lock()
	snapshot := make([]registration, len(d.handlers[event]))
	copy(snapshot, d.handlers[event])
	d.mu.Unlock()

	for _, r := range snapshot {
		if !d.registered(event, r.id) {
			continue
		}
		d.invoke(event, r, payload)
		metrics.EventsDispatched.WithLabelValues(event).Inc()
	}
}

func (d *Dispatcher) registered(event string, id uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.handlers[event] {
		if r.id == id {
			return true
		}
	}
	return false
}

func (d *Dispatcher) invoke(event string, r registration, payload json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.EventsDropped.WithLabelValues("handler_panic").Inc()
			d.logger.Error("event handler panicked", map[string]interface{}{
				"event": event,
				"panic": rec,
			})
		}
	}()
	r.fn(payload)
}
