package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrInvalidTenantToken is returned for tenant ids that cannot be used as a
// single NATS subject token.
var ErrInvalidTenantToken = errors.New("tenant id is not a valid subject token")

// NATSBus carries Kestrel events over NATS. A message for tenant t on topic
// kestrel.case.filed travels on subject kestrel.case.filed.t, so AllTenants
// subscribers use the single-token wildcard in the last position.
//
// When QueueGroup is set, subscribers join it and each message reaches one
// member of the group. Several Kestrel instances then share pipeline
// requests instead of all running them.
type NATSBus struct {
	conn       *nats.Conn
	queueGroup string

	mu   sync.Mutex
	subs map[string]*natsSubscription
}

type natsSubscription struct {
	bus   *NATSBus
	id    string
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to NATS, retrying the initial dial up to
// NATSMaxReconnects times.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name("kestrel"),
		nats.MaxReconnects(attempts),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS async error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var (
		conn *nats.Conn
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if conn, err = nats.Connect(url, opts...); err == nil {
			break
		}
		slog.Warn("NATS connection attempt failed", "attempt", attempt, "max_attempts", attempts, "error", err)
		if attempt < attempts {
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", attempts, err)
	}

	slog.Info("NATS connected", "url", conn.ConnectedUrl(), "queue_group", cfg.NATSQueueGroup)

	return &NATSBus{
		conn:       conn,
		queueGroup: cfg.NATSQueueGroup,
		subs:       make(map[string]*natsSubscription),
	}, nil
}

// Publish wraps payload in a Message envelope and sends it.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == domain.AllTenants {
		return fmt.Errorf("a concrete tenantID is required")
	}
	subject, err := subjectFor(topic, tenantID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(newMessage(tenantID, topic, payload, time.Now().UnixNano(), uuid.New().String()))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.conn.Publish(subject, data)
}

// Subscribe registers handler for topic. Handlers run on the NATS delivery
// goroutine with the context given here.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	subject, err := subjectFor(topic, tenantID)
	if err != nil {
		return nil, err
	}

	deliver := func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("dropping undecodable NATS message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("handler error", "subject", m.Subject, "message_id", msg.ID, "tenant", msg.TenantID, "error", err)
		}
	}

	var ns *nats.Subscription
	if b.queueGroup != "" {
		ns, err = b.conn.QueueSubscribe(subject, b.queueGroup, deliver)
	} else {
		ns, err = b.conn.Subscribe(subject, deliver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	sub := &natsSubscription{bus: b, id: uuid.New().String(), topic: topic, sub: ns}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected (status %s)", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drops every subscription and the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for id, sub := range b.subs {
		_ = sub.sub.Unsubscribe()
		delete(b.subs, id)
	}
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// subjectFor maps a topic and tenant to a NATS subject.
func subjectFor(topic, tenantID string) (string, error) {
	switch {
	case tenantID == "":
		return "", fmt.Errorf("tenantID is required")
	case tenantID == domain.AllTenants:
		return topic + ".*", nil
	case strings.ContainsAny(tenantID, ".*> \t\r\n"):
		return "", fmt.Errorf("%w: %q", ErrInvalidTenantToken, tenantID)
	}
	return topic + "." + tenantID, nil
}

// Unsubscribe stops delivery and forgets the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
