// Package bus wraps Redis pub/sub as the inter-service message bus: publish
// an envelope to a channel, subscribe to receive a stream of envelopes.
package bus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nembal/fullsend-fabric/internal/envelope"
)

// Bus publishes and subscribes to envelope channels.
type Bus interface {
	Publish(ctx context.Context, channel string, env *envelope.Envelope) error
	Subscribe(ctx context.Context, channel string) (<-chan *envelope.Envelope, error)
	Close() error
}

// RedisBus is the production Bus, backed by a single redis.Client shared
// across publish and subscribe operations.
type RedisBus struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

// New dials addr and pings it once; a failed ping returns a *DegradedBus
// instead of an error, per the bus's degraded-mode contract.
func New(addr, password string, db int) (Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("bus: redis ping failed, running degraded: %v", err)
		_ = client.Close()
		return &DegradedBus{}, nil
	}

	return &RedisBus{
		client: client,
		subs:   make(map[string]*redis.PubSub),
	}, nil
}

// Publish marshals env and publishes it on channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, env *envelope.Envelope) error {
	data, err := env.ToJSON()
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channel, data).Err()
}

// Subscribe returns a channel of envelopes received on the given Redis
// channel. A background goroutine decodes each message and reconnects the
// subscription if the connection drops, mirroring the teacher client's
// messageListener loop.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan *envelope.Envelope, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.subs[channel] = ps
	b.mu.Unlock()

	out := make(chan *envelope.Envelope, 100)
	go b.listen(ctx, channel, ps, out)
	return out, nil
}

func (b *RedisBus) listen(ctx context.Context, channel string, ps *redis.PubSub, out chan *envelope.Envelope) {
	defer close(out)
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				if b.resubscribe(ctx, channel, ps, out) {
					ch = ps.Channel()
					continue
				}
				return
			}
			env, err := envelope.FromJSON([]byte(msg.Payload))
			if err != nil {
				log.Printf("bus: dropping malformed envelope on %s: %v", channel, err)
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}
}

// resubscribe retries the subscription with backoff, grounded on the
// Python bus's reconnect-and-sleep loop.
func (b *RedisBus) resubscribe(ctx context.Context, channel string, ps *redis.PubSub, out chan *envelope.Envelope) bool {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if err := ps.Subscribe(ctx, channel); err != nil {
			log.Printf("bus: resubscribe to %s failed: %v", channel, err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return true
	}
}

// Close tears down every open subscription and the underlying client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ps := range b.subs {
		_ = ps.Close()
	}
	return b.client.Close()
}

// DegradedBus is returned when the initial connection fails. Every
// operation logs and no-ops, so a service stays up (and observable) rather
// than crash-looping against an unreachable Redis.
type DegradedBus struct{}

func (d *DegradedBus) Publish(ctx context.Context, channel string, env *envelope.Envelope) error {
	log.Printf("bus: degraded, dropping publish to %s", channel)
	return nil
}

func (d *DegradedBus) Subscribe(ctx context.Context, channel string) (<-chan *envelope.Envelope, error) {
	log.Printf("bus: degraded, subscribe to %s returns an empty stream", channel)
	out := make(chan *envelope.Envelope)
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func (d *DegradedBus) Close() error { return nil }
