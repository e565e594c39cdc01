// Package eventbus implements the per-tenant publish/subscribe fan-out that
// backs the gateway's SSE streams: one process-wide Bus keyed by API key,
// relayed across process instances over Redis so a subscriber attached to
// any instance sees events regardless of which instance owns the live
// upstream socket.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway/internal/config"
	redisclient "github.com/openclaw/wa-gateway/internal/redis"
)

// ConnectionInfo is the status payload broadcast on publishStatus.
type ConnectionInfo struct {
	ApiKey    string `json:"apiKey"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
}

// Event is the envelope relayed over Redis and re-emitted to subscribers.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Subscriber is a single SSE connection's inbox.
type Subscriber struct {
	ApiKey string
	Events chan Event
	Done   chan struct{}
}

// Bus is the process-wide Event Bus. One instance is shared by every
// handler that serves or publishes to SSE streams.
type Bus struct {
	redis       *redisclient.Client
	subscribers map[string]map[*Subscriber]bool // apiKey -> set of subscribers
	lastQR      map[string]string               // apiKey -> last known QR, cleared on nil publish
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

func New(redisClient *redisclient.Client) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		redis:       redisClient,
		subscribers: make(map[string]map[*Subscriber]bool),
		lastQR:      make(map[string]string),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Subscribe registers a new subscriber for apiKey. On attach it pushes an
// initial status event and, if one is buffered, a qr event carrying the
// last known QR, mirroring spec's "initial?" subscribe contract.
func (b *Bus) Subscribe(apiKey string, initial *ConnectionInfo) *Subscriber {
	sub := &Subscriber{
		ApiKey: apiKey,
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.subscribers[apiKey] == nil {
		b.subscribers[apiKey] = make(map[*Subscriber]bool)
		go b.relayFromRedis(apiKey)
	}
	b.subscribers[apiKey][sub] = true
	qr := b.lastQR[apiKey]
	count := len(b.subscribers[apiKey])
	b.mu.Unlock()

	log.Info().Str("apiKey", apiKey).Int("subscribers", count).Msg("event bus subscriber attached")

	if initial != nil {
		b.enqueue(sub, "status", initial)
	}
	if qr != "" {
		b.enqueue(sub, "qr", map[string]string{"apiKey": apiKey, "qr": qr})
	}

	return sub
}

// Unsubscribe detaches sub and, if it was the last subscriber for its key,
// stops relaying that key's Redis channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subscribers[sub.ApiKey]; ok {
		delete(subs, sub)
		close(sub.Done)

		if len(subs) == 0 {
			delete(b.subscribers, sub.ApiKey)
		}

		log.Info().Str("apiKey", sub.ApiKey).Int("subscribers", len(subs)).Msg("event bus subscriber detached")
	}
}

// PublishQr broadcasts a qr event. A nil qr clears the buffered last-known
// QR so late subscribers no longer see a stale code.
func (b *Bus) PublishQr(ctx context.Context, apiKey string, qr *string) error {
	b.mu.Lock()
	if qr == nil {
		delete(b.lastQR, apiKey)
	} else {
		b.lastQR[apiKey] = *qr
	}
	b.mu.Unlock()

	payload := map[string]any{"apiKey": apiKey}
	if qr != nil {
		payload["qr"] = *qr
	} else {
		payload["qr"] = nil
	}
	return b.publish(ctx, apiKey, "qr", payload)
}

// PublishStatus broadcasts a status event to every subscriber of apiKey.
func (b *Bus) PublishStatus(ctx context.Context, info ConnectionInfo) error {
	return b.publish(ctx, info.ApiKey, "status", info)
}

func (b *Bus) publish(ctx context.Context, apiKey, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	event := Event{Type: eventType, Data: raw}
	encoded, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.EventChannel(apiKey)
	return b.redis.Publish(ctx, channel, encoded).Err()
}

func (b *Bus) relayFromRedis(apiKey string) {
	channel := redisclient.EventChannel(apiKey)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	log.Debug().Str("apiKey", apiKey).Str("channel", channel).Msg("event bus relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("event bus failed to unmarshal relayed event")
				continue
			}

			b.broadcast(apiKey, event)
		}
	}
}

func (b *Bus) broadcast(apiKey string, event Event) {
	b.mu.RLock()
	subs := b.subscribers[apiKey]
	b.mu.RUnlock()

	for sub := range subs {
		select {
		case sub.Events <- event:
		default:
			log.Warn().Str("apiKey", apiKey).Msg("subscriber buffer full, dropping event")
		}
	}
}

func (b *Bus) enqueue(sub *Subscriber, eventType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	select {
	case sub.Events <- Event{Type: eventType, Data: raw}:
	default:
	}
}

// Close tears down every live subscriber and stops all Redis relays.
func (b *Bus) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subscribers {
		for sub := range subs {
			close(sub.Done)
		}
	}
	b.subscribers = make(map[string]map[*Subscriber]bool)
}

// SubscriberCount reports the live subscriber count for apiKey.
func (b *Bus) SubscriberCount(apiKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[apiKey])
}

// HeartbeatInterval is exported so the SSE handler can share the one ticker
// cadence defined in config.
const HeartbeatInterval = config.HeartbeatInterval
