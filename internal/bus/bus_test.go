package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/siamfx/naga/internal/domain"
)

func TestChannelBus(t *testing.T) {
	ctx := context.Background()
	branchID := "BKK01"

	t.Run("PublishSubscribe", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		received := make(chan *domain.EventMessage, 1)
		sub, err := b.Subscribe(ctx, branchID, domain.TopicReservationCreated, func(ctx context.Context, msg *domain.EventMessage) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		if err := b.Publish(ctx, branchID, domain.TopicReservationCreated, []byte(`{"reservation_no":"AMLO-1-01_BKK01-2026-000042"}`)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case msg := <-received:
			if msg.BranchID != branchID {
				t.Errorf("branchID = %s, want %s", msg.BranchID, branchID)
			}
			if msg.Topic != domain.TopicReservationCreated {
				t.Errorf("topic = %s, want %s", msg.Topic, domain.TopicReservationCreated)
			}
			if string(msg.Payload) != `{"reservation_no":"AMLO-1-01_BKK01-2026-000042"}` {
				t.Errorf("unexpected payload: %s", msg.Payload)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	})

	t.Run("BranchIsolation", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		received := make(chan *domain.EventMessage, 1)
		_, err := b.Subscribe(ctx, "CNX02", domain.TopicReportMaterialized, func(ctx context.Context, msg *domain.EventMessage) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		if err := b.Publish(ctx, branchID, domain.TopicReportMaterialized, []byte("bkk")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case msg := <-received:
			t.Errorf("CNX02 subscriber received BKK01 message: %s", msg.Payload)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var wg sync.WaitGroup
		wg.Add(2)
		for i := 0; i < 2; i++ {
			_, err := b.Subscribe(ctx, branchID, domain.TopicReportEmitted, func(ctx context.Context, msg *domain.EventMessage) error {
				wg.Done()
				return nil
			})
			if err != nil {
				t.Fatalf("Subscribe failed: %v", err)
			}
		}

		if err := b.Publish(ctx, branchID, domain.TopicReportEmitted, []byte("pdf-ready")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("not all subscribers received the message")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		received := make(chan *domain.EventMessage, 1)
		sub, err := b.Subscribe(ctx, branchID, domain.TopicReservationAudited, func(ctx context.Context, msg *domain.EventMessage) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("Unsubscribe failed: %v", err)
		}

		if err := b.Publish(ctx, branchID, domain.TopicReservationAudited, []byte("x")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case <-received:
			t.Error("received message after unsubscribe")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("RequiresBranch", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		if err := b.Publish(ctx, "", domain.TopicReservationCreated, nil); err == nil {
			t.Error("expected error for empty branchID")
		}
		if _, err := b.Subscribe(ctx, "", domain.TopicReservationCreated, nil); err == nil {
			t.Error("expected error for empty branchID")
		}
	})

	t.Run("Close", func(t *testing.T) {
		b := NewChannelBus(10)

		if err := b.Ping(ctx); err != nil {
			t.Fatalf("Ping failed: %v", err)
		}

		if err := b.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := b.Close(); err != nil {
			t.Fatalf("second Close failed: %v", err)
		}

		if err := b.Ping(ctx); err == nil {
			t.Error("expected Ping error after close")
		}
		if err := b.Publish(ctx, branchID, domain.TopicReservationCreated, nil); err == nil {
			t.Error("expected Publish error after close")
		}
		if _, err := b.Subscribe(ctx, branchID, domain.TopicReservationCreated, nil); err == nil {
			t.Error("expected Subscribe error after close")
		}
	})
}

func TestNewFactory(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("expected ChannelBus, got %T", b)
	}

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}
