package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/charter/notify"
)

func TestLocalFanOut(t *testing.T) {
	n := notify.NewLocal()
	ctx := context.Background()

	a, stopA, _ := n.Subscribe(ctx)
	defer stopA()
	b, stopB, _ := n.Subscribe(ctx)
	defer stopB()

	if err := n.Notify(ctx); err != nil {
		t.Fatal(err)
	}

	for name, ch := range map[string]<-chan struct{}{"a": a, "b": b} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Errorf("subscriber %s did not wake", name)
		}
	}
}

func TestLocalCoalesces(t *testing.T) {
	n := notify.NewLocal()
	ctx := context.Background()
	ch, stop, _ := n.Subscribe(ctx)
	defer stop()

	for range 10 {
		_ = n.Notify(ctx)
	}
	if len(ch) != 1 {
		t.Fatalf("pending wake-ups = %d, want 1", len(ch))
	}
	notify.Drain(ch)
	if len(ch) != 0 {
		t.Errorf("Drain left %d wake-ups", len(ch))
	}
}

func TestLocalUnsubscribe(t *testing.T) {
	n := notify.NewLocal()
	ctx := context.Background()
	ch, stop, _ := n.Subscribe(ctx)
	stop()
	stop()

	_ = n.Notify(ctx)
	if len(ch) != 0 {
		t.Error("unsubscribed channel must not receive")
	}
}
