// Package pipeline implements the shared, extensible message-processing
// pipeline: a handler registry plus fault-isolated fan-out dispatch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/uzulla/slagg/pkg/logger"
	"github.com/uzulla/slagg/pkg/message"
)

// ErrBadHandler is returned by RegisterHandler when the supplied value
// does not satisfy the full Handler capability set.
var ErrBadHandler = errors.New("pipeline: handler missing handle/name/enabled capability")

// ErrBadArgument is returned when an operation receives a malformed
// argument, such as a non-sequence passed to ProcessMessages.
var ErrBadArgument = errors.New("pipeline: bad argument")

// Handler is the fixed capability contract every pluggable sink satisfies.
type Handler interface {
	Handle(ctx context.Context, m message.Message) error
	Name() string
	Enabled() bool
}

// Pipeline owns the handler registry and dispatches inbound messages to
// every currently-enabled handler, isolating the fault of any one handler
// from the rest of the batch.
type Pipeline struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      *logger.Logger
}

// New returns an empty Pipeline. log may be nil, in which case dispatch
// failures are simply not logged.
func New(log *logger.Logger) *Pipeline {
	return &Pipeline{
		handlers: make(map[string]Handler),
		log:      log,
	}
}

// RegisterHandler stores h under h.Name(), replacing any prior handler
// registered under that name. h must satisfy Handler; callers that already
// hold a Handler value can pass it directly, but the parameter is typed as
// any so the runtime capability check applies uniformly whether the
// caller has a concrete Handler or not.
func (p *Pipeline) RegisterHandler(h any) error {
	handler, ok := h.(Handler)
	if !ok {
		return ErrBadHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[handler.Name()] = handler
	return nil
}

// UnregisterHandler removes the handler registered under name, reporting
// whether one was present.
func (p *Pipeline) UnregisterHandler(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.handlers[name]; !ok {
		return false
	}
	delete(p.handlers, name)
	return true
}

// GetHandler returns the handler registered under name, if any.
func (p *Pipeline) GetHandler(name string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[name]
	return h, ok
}

// GetHandlers returns a defensive copy of all registered handlers.
func (p *Pipeline) GetHandlers() []Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Handler, 0, len(p.handlers))
	for _, h := range p.handlers {
		out = append(out, h)
	}
	return out
}

// GetHandlerCount returns the number of registered handlers.
func (p *Pipeline) GetHandlerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handlers)
}

// GetEnabledHandlerCount returns the number of registered handlers whose
// Enabled() currently reports true.
func (p *Pipeline) GetEnabledHandlerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, h := range p.handlers {
		if h.Enabled() {
			n++
		}
	}
	return n
}

// ClearHandlers removes every registered handler.
func (p *Pipeline) ClearHandlers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = make(map[string]Handler)
}

// ProcessMessage snapshots the currently enabled handlers and invokes
// Handle on each concurrently, awaiting completion of all before
// returning. A handler that fails is logged by name and cause; it never
// aborts the batch or the other handlers.
func (p *Pipeline) ProcessMessage(ctx context.Context, m message.Message) {
	enabled := p.snapshotEnabled()

	var wg sync.WaitGroup
	wg.Add(len(enabled))
	for _, h := range enabled {
		go func(h Handler) {
			defer wg.Done()
			if err := h.Handle(ctx, m); err != nil {
				if p.log != nil {
					p.log.ErrorF("pipeline", "handler failed", map[string]any{
						"handler": h.Name(),
						"error":   err.Error(),
					})
				}
			}
		}(h)
	}
	wg.Wait()
}

func (p *Pipeline) snapshotEnabled() []Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Handler, 0, len(p.handlers))
	for _, h := range p.handlers {
		if h.Enabled() {
			out = append(out, h)
		}
	}
	return out
}

// ProcessMessages sorts list by timestamp and delivers each message to
// ProcessMessage in that order, awaiting each before starting the next.
func (p *Pipeline) ProcessMessages(ctx context.Context, list []message.Message) error {
	if list == nil {
		return fmt.Errorf("%w: expected a message sequence", ErrBadArgument)
	}

	ordered := SortByTimestamp(list)
	for _, m := range ordered {
		p.ProcessMessage(ctx, m)
	}
	return nil
}

// SortByTimestamp returns a new slice ordered by WallTime ascending when
// set, falling back to a numeric parse of PlatformTimestamp. The input
// slice is never mutated.
func SortByTimestamp(list []message.Message) []message.Message {
	out := make([]message.Message, len(list))
	copy(out, list)

	sort.SliceStable(out, func(i, j int) bool {
		return sortKey(out[i]).Before(sortKey(out[j]))
	})
	return out
}

func sortKey(m message.Message) time.Time {
	if !m.WallTime.IsZero() {
		return m.WallTime
	}
	if f, err := strconv.ParseFloat(m.PlatformTimestamp, 64); err == nil {
		return time.Unix(0, int64(f*float64(time.Second)))
	}
	return time.Time{}
}
