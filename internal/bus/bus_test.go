package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// collect subscribes and forwards every delivered message.
func collect(t *testing.T, b domain.EventBus, tenantID, topic string) (<-chan *domain.Message, domain.Subscription) {
	t.Helper()
	ch := make(chan *domain.Message, 16)
	sub, err := b.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return ch, sub
}

func receive(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func expectSilence(t *testing.T, ch <-chan *domain.Message) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Errorf("unexpected message for tenant %s on %s", msg.TenantID, msg.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("CaseFiledEnvelope", func(t *testing.T) {
		ch, _ := collect(t, bus, "acme", domain.TopicCaseFiled)

		if err := bus.Publish(ctx, "acme", domain.TopicCaseFiled, []byte(`{"caseId":"c-1"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := receive(t, ch)
		if string(msg.Payload) != `{"caseId":"c-1"}` {
			t.Errorf("payload = %s", msg.Payload)
		}
		if msg.TenantID != "acme" || msg.Topic != domain.TopicCaseFiled {
			t.Errorf("envelope = %s/%s", msg.TenantID, msg.Topic)
		}
		if msg.ID == "" || msg.Timestamp == 0 || msg.Metadata["source"] != "kestrel" {
			t.Errorf("envelope not stamped: %+v", msg)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		acme, _ := collect(t, bus, "acme", domain.TopicCaseUpdated)
		globex, _ := collect(t, bus, "globex", domain.TopicCaseUpdated)

		_ = bus.Publish(ctx, "acme", domain.TopicCaseUpdated, []byte("approved"))

		receive(t, acme)
		expectSilence(t, globex)
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", domain.TopicCaseFiled, nil); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if err := bus.Publish(ctx, domain.AllTenants, domain.TopicCaseFiled, nil); err == nil {
			t.Error("expected error publishing to the wildcard tenant")
		}
		_, err := bus.Subscribe(ctx, "", domain.TopicCaseFiled, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		ch, sub := collect(t, bus, "acme", domain.TopicMetricsComputed)

		_ = bus.Publish(ctx, "acme", domain.TopicMetricsComputed, []byte("1"))
		receive(t, ch)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		_ = bus.Publish(ctx, "acme", domain.TopicMetricsComputed, []byte("2"))
		expectSilence(t, ch)

		if sub.Topic() != domain.TopicMetricsComputed {
			t.Errorf("Topic() = %s", sub.Topic())
		}
	})

	t.Run("FanOut", func(t *testing.T) {
		first, _ := collect(t, bus, "acme", domain.TopicPipelineCompleted)
		second, _ := collect(t, bus, "acme", domain.TopicPipelineCompleted)

		_ = bus.Publish(ctx, "acme", domain.TopicPipelineCompleted, []byte("done"))

		receive(t, first)
		receive(t, second)
	})

	t.Run("HandlerErrorKeepsSubscription", func(t *testing.T) {
		var calls atomic.Int32
		done := make(chan struct{}, 2)
		_, err := bus.Subscribe(ctx, "acme", "kestrel.test.flaky", func(ctx context.Context, msg *domain.Message) error {
			calls.Add(1)
			done <- struct{}{}
			return errors.New("boom")
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		for i := 0; i < 2; i++ {
			_ = bus.Publish(ctx, "acme", "kestrel.test.flaky", nil)
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatalf("delivery %d missing", i+1)
			}
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 calls, got %d", calls.Load())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	collect(t, bus, "acme", domain.TopicCaseFiled)

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, "acme", domain.TopicCaseFiled, nil); err == nil {
		t.Error("expected publish error after close")
	}
	if _, err := bus.Subscribe(ctx, "acme", domain.TopicCaseFiled, func(ctx context.Context, msg *domain.Message) error { return nil }); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("DefaultsToChannel", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("expected *ChannelBus, got %T", b)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusBurst(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n)
	bus.Subscribe(ctx, "acme", domain.TopicPipelineRequested, func(ctx context.Context, msg *domain.Message) error {
		wg.Done()
		return nil
	})

	for i := 0; i < n; i++ {
		_ = bus.Publish(ctx, "acme", domain.TopicPipelineRequested, []byte("{}"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for burst delivery")
	}
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()
	ctx := context.Background()
	topic := "kestrel.test.slow"

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	bus.Subscribe(ctx, "acme", topic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	before := testutil.ToFloat64(DroppedMessages.WithLabelValues(topic))

	_ = bus.Publish(ctx, "acme", topic, []byte("1"))
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}
	_ = bus.Publish(ctx, "acme", topic, []byte("2")) // buffered
	_ = bus.Publish(ctx, "acme", topic, []byte("3")) // dropped
	close(release)

	if got := testutil.ToFloat64(DroppedMessages.WithLabelValues(topic)) - before; got != 1 {
		t.Errorf("expected 1 dropped message, got %v", got)
	}
}

func TestAllTenantsSubscription(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()
	ctx := context.Background()

	ch, _ := collect(t, bus, domain.AllTenants, domain.TopicPipelineRequested)

	_ = bus.Publish(ctx, "tenant-a", domain.TopicPipelineRequested, []byte("{}"))
	_ = bus.Publish(ctx, "tenant-b", domain.TopicPipelineRequested, []byte("{}"))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		seen[receive(t, ch).TenantID] = true
	}
	if !seen["tenant-a"] || !seen["tenant-b"] {
		t.Errorf("expected both tenants, got %v", seen)
	}
}

func TestPublishJSON(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()
	ctx := context.Background()

	ch, _ := collect(t, bus, "acme", domain.TopicPipelineRequested)

	req := domain.PipelineRequest{RunID: "run-1", TenantID: "acme"}
	if err := PublishJSON(ctx, bus, "acme", domain.TopicPipelineRequested, req); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	var got domain.PipelineRequest
	if err := json.Unmarshal(receive(t, ch).Payload, &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got != req {
		t.Errorf("got %+v, want %+v", got, req)
	}

	if err := PublishJSON(ctx, nil, "acme", domain.TopicPipelineRequested, req); err != nil {
		t.Errorf("nil bus should be a no-op, got %v", err)
	}
	if err := PublishJSON(ctx, bus, "acme", domain.TopicPipelineRequested, make(chan int)); err == nil {
		t.Error("expected encode error")
	}
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		name    string
		tenant  string
		want    string
		wantErr error
	}{
		{name: "tenant", tenant: "acme", want: "kestrel.case.filed.acme"},
		{name: "all tenants", tenant: domain.AllTenants, want: "kestrel.case.filed.*"},
		{name: "dotted tenant", tenant: "acme.eu", wantErr: ErrInvalidTenantToken},
		{name: "wildcard in tenant", tenant: "acme>", wantErr: ErrInvalidTenantToken},
		{name: "space in tenant", tenant: "acme corp", wantErr: ErrInvalidTenantToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := subjectFor(domain.TopicCaseFiled, tt.tenant)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("subjectFor failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("subject = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := subjectFor(domain.TopicCaseFiled, ""); err == nil {
		t.Error("expected error for empty tenant")
	}
}
