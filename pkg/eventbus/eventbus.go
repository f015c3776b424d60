// Package eventbus is a small in-process publish/subscribe bus. Handlers run
// synchronously on the publishing goroutine; a panicking handler is isolated
// and logged, never propagated to the publisher.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

type Handler func(payload map[string]any)

type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
	log  *zap.Logger
}

func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{subs: make(map[string][]Handler), log: log}
}

func (b *Bus) Subscribe(event string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[event] = append(b.subs[event], h)
}

func (b *Bus) Publish(event string, payload map[string]any) {
	b.mu.RLock()
	handlers := b.subs[event]
	b.mu.RUnlock()
	for _, h := range handlers {
		b.dispatch(event, h, payload)
	}
}

func (b *Bus) dispatch(event string, h Handler, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus handler panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	h(payload)
}
