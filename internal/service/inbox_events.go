package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/observability"
)

const (
	inboxEventBufferSize = 16
	remoteSeenWindow     = 256
)

// EventBroker fans inbox change events out to stream subscribers, optionally across nodes.
type EventBroker interface {
	Publish(ctx context.Context, event dto.InboxEvent)
	Subscribe(key, transport string) (<-chan dto.InboxEvent, func())
	Start(ctx context.Context)
}

type eventBroker struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	nodeID       string

	mu          sync.RWMutex
	subscribers map[string]map[chan dto.InboxEvent]struct{}

	seenMu    sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
}

type inboxEnvelope struct {
	ID     string         `json:"id"`
	Source string         `json:"source"`
	Event  dto.InboxEvent `json:"event"`
	SentAt time.Time      `json:"sent_at"`
}

// NewEventBroker constructs a broker. Cross-node fan-out is enabled for whichever of redis and
// nats is configured; with neither, events stay in-process. Each event is published once, on nats
// when available and on redis otherwise.
func NewEventBroker(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) EventBroker {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":inbox"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".inbox"
	}

	return &eventBroker{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "event_broker").Logger(),
		nodeID:       uuid.NewString(),
		subscribers:  make(map[string]map[chan dto.InboxEvent]struct{}),
		seen:         make(map[string]struct{}, remoteSeenWindow),
	}
}

// EventKey returns the subscription key an event is delivered to.
func EventKey(event dto.InboxEvent) string {
	return string(event.UserType) + ":" + event.UserID.String()
}

func (b *eventBroker) Start(ctx context.Context) {
	if b.redis != nil && b.redisChannel != "" {
		go b.consumeRedis(ctx)
	}
	if b.nats != nil && b.natsSubject != "" {
		go b.consumeNATS(ctx)
	}
}

func (b *eventBroker) Publish(ctx context.Context, event dto.InboxEvent) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	b.deliver(event)
	observability.InboxEventsPublished().WithLabelValues(string(event.Kind)).Inc()

	if err := b.forward(ctx, event); err != nil {
		b.logger.Warn().Err(err).Str("kind", string(event.Kind)).Msg("failed to forward inbox event")
	}
}

func (b *eventBroker) Subscribe(key, transport string) (<-chan dto.InboxEvent, func()) {
	channel := make(chan dto.InboxEvent, inboxEventBufferSize)

	b.mu.Lock()
	if _, exists := b.subscribers[key]; !exists {
		b.subscribers[key] = make(map[chan dto.InboxEvent]struct{})
	}
	b.subscribers[key][channel] = struct{}{}
	b.mu.Unlock()
	observability.StreamClientsActive().WithLabelValues(transport).Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.unsubscribe(key, channel)
			observability.StreamClientsActive().WithLabelValues(transport).Dec()
		})
	}
	return channel, cleanup
}

func (b *eventBroker) unsubscribe(key string, ch chan dto.InboxEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[key]; ok {
		if _, present := subscribers[ch]; !present {
			return
		}
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, key)
		}
	}
}

func (b *eventBroker) deliver(event dto.InboxEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[EventKey(event)] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (b *eventBroker) forward(ctx context.Context, event dto.InboxEvent) error {
	useNATS := b.nats != nil && b.natsSubject != ""
	useRedis := b.redis != nil && b.redisChannel != ""
	if !useNATS && !useRedis {
		return nil
	}

	payload, err := json.Marshal(inboxEnvelope{ID: uuid.NewString(), Source: b.nodeID, Event: event, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	if useNATS {
		err := b.nats.Publish(b.natsSubject, payload)
		if err == nil || !useRedis {
			return err
		}
		b.logger.Warn().Err(err).Msg("nats publish failed, falling back to redis")
	}
	return b.redis.Publish(ctx, b.redisChannel, payload).Err()
}

func (b *eventBroker) consumeRedis(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			b.logger.Error().Err(err).Msg("inbox redis subscription closed")
			return
		}
		b.handleRemote([]byte(msg.Payload))
	}
}

func (b *eventBroker) consumeNATS(ctx context.Context) {
	sub, err := b.nats.Subscribe(b.natsSubject, func(msg *nats.Msg) {
		b.handleRemote(msg.Data)
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to subscribe to nats inbox subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to drain inbox nats subscription")
		}
	}()
}

func (b *eventBroker) handleRemote(payload []byte) {
	var envelope inboxEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		b.logger.Warn().Err(err).Msg("invalid inbox event payload")
		return
	}
	if envelope.Source == b.nodeID || !b.firstSighting(envelope.ID) {
		return
	}
	b.deliver(envelope.Event)
}

// firstSighting reports whether a remote event id has not been delivered yet. Only the most recent
// ids are remembered.
func (b *eventBroker) firstSighting(id string) bool {
	if id == "" {
		return true
	}
	b.seenMu.Lock()
	defer b.seenMu.Unlock()

	if _, ok := b.seen[id]; ok {
		return false
	}
	if len(b.seenOrder) >= remoteSeenWindow {
		delete(b.seen, b.seenOrder[0])
		b.seenOrder = b.seenOrder[1:]
	}
	b.seen[id] = struct{}{}
	b.seenOrder = append(b.seenOrder, id)
	return true
}
