// Package router fans a single bus subscription out to every handler
// registered for that channel, isolating one handler's panic or error from
// the rest.
package router

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/nembal/fullsend-fabric/internal/bus"
	"github.com/nembal/fullsend-fabric/internal/envelope"
)

// Handler processes one envelope received on a channel.
type Handler func(ctx context.Context, env *envelope.Envelope) error

// Router owns the channel->handlers registry and the subscription
// goroutines that feed it.
type Router struct {
	bus bus.Bus

	mu       sync.Mutex
	handlers map[string][]Handler
}

// New builds a Router over the given Bus.
func New(b bus.Bus) *Router {
	return &Router{
		bus:      b,
		handlers: make(map[string][]Handler),
	}
}

// Register adds a handler for channel. Registering before Start subscribes
// lazily when Start is called; registering after Start on a channel that
// Start already subscribed takes effect on the next dispatched message. A
// channel first registered after Start is never subscribed.
func (r *Router) Register(channel string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[channel] = append(r.handlers[channel], h)
}

// Start subscribes to every channel with at least one registered handler
// and begins dispatching. It returns once all subscriptions are
// established; dispatch continues in background goroutines until ctx is
// canceled.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	channels := make([]string, 0, len(r.handlers))
	for ch := range r.handlers {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	for _, channel := range channels {
		stream, err := r.bus.Subscribe(ctx, channel)
		if err != nil {
			return fmt.Errorf("router: subscribe %s: %w", channel, err)
		}
		go r.pump(ctx, channel, stream)
	}
	return nil
}

func (r *Router) pump(ctx context.Context, channel string, stream <-chan *envelope.Envelope) {
	for env := range stream {
		r.dispatch(ctx, channel, env)
	}
}

// dispatch runs every handler registered for channel concurrently and
// waits for all of them, recovering a panic in any single handler so it
// cannot take down the others or the pump goroutine.
func (r *Router) dispatch(ctx context.Context, channel string, env *envelope.Envelope) {
	r.mu.Lock()
	handlers := append([]Handler(nil), r.handlers[channel]...)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("router: handler panic on %s: %v", channel, rec)
				}
			}()
			if err := h(ctx, env); err != nil {
				log.Printf("router: handler error on %s: %v", channel, err)
			}
		}(h)
	}
	wg.Wait()
}
