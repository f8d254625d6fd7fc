// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DroppedMessages counts in-process deliveries lost to a full subscriber buffer.
var DroppedMessages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kestrel",
		Subsystem: "bus",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped because a subscriber buffer was full.",
	},
	[]string{"topic"},
)

func init() {
	prometheus.MustRegister(DroppedMessages)
}

// ChannelBus is the in-process event bus. Each subscription owns a
// buffered channel drained by its own goroutine, so a slow handler never
// blocks publishers.
type ChannelBus struct {
	bufferSize int

	mu     sync.RWMutex
	topics map[string]map[string][]*channelSubscription // topic -> tenant -> subs
	closed bool
}

type channelSubscription struct {
	bus      *ChannelBus
	id       string
	tenantID string
	topic    string
	handler  domain.MessageHandler
	inbox    chan *domain.Message
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewChannelBus creates an in-process bus. bufferSize is per subscription.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string]map[string][]*channelSubscription),
	}
}

// Publish delivers a message to the tenant's subscribers and to
// AllTenants subscribers. Delivery is non-blocking; a full subscriber
// buffer drops the message with a warning.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" || tenantID == domain.AllTenants {
		return fmt.Errorf("a concrete tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	byTenant := b.topics[topic]
	targets := slices.Concat(byTenant[tenantID], byTenant[domain.AllTenants])
	b.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	msg := newMessage(tenantID, topic, payload, time.Now().UnixNano(), uuid.New().String())
	for _, sub := range targets {
		select {
		case sub.inbox <- msg:
		default:
			DroppedMessages.WithLabelValues(topic).Inc()
			slog.Warn("subscriber buffer full, message dropped",
				"topic", topic,
				"tenant", tenantID,
				"subscription", sub.id,
			)
		}
	}
	return nil
}

// Subscribe registers a handler for a topic. The handler runs until the
// subscription, the bus or ctx ends.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:      b,
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		handler:  handler,
		inbox:    make(chan *domain.Message, b.bufferSize),
		ctx:      subCtx,
		cancel:   cancel,
	}

	byTenant, ok := b.topics[topic]
	if !ok {
		byTenant = make(map[string][]*channelSubscription)
		b.topics[topic] = byTenant
	}
	byTenant[tenantID] = append(byTenant[tenantID], sub)

	go sub.run()
	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", msg.Topic,
					"tenant", msg.TenantID,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Ping reports whether the bus is open.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription. Closing twice is a no-op.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, byTenant := range b.topics {
		for _, subs := range byTenant {
			for _, sub := range subs {
				sub.cancel()
			}
		}
	}
	b.topics = nil
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	byTenant := b.topics[sub.topic]
	if byTenant == nil {
		return
	}
	byTenant[sub.tenantID] = slices.DeleteFunc(byTenant[sub.tenantID], func(s *channelSubscription) bool {
		return s == sub
	})
	if len(byTenant[sub.tenantID]) == 0 {
		delete(byTenant, sub.tenantID)
	}
	if len(byTenant) == 0 {
		delete(b.topics, sub.topic)
	}
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
