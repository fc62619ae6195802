package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New("redis://"+mr.Addr(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetSetJSONRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}

	if err := c.SetJSON(ctx, "k1", payload{Name: "b0s"}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var got payload
	ok, err := c.GetJSON(ctx, "k1", &got)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if !ok || got.Name != "b0s" {
		t.Fatalf("GetJSON = (%v, %v), want (true, {b0s})", ok, got)
	}
}

func TestGetJSONMiss(t *testing.T) {
	c := newTestClient(t)
	var dst map[string]string
	ok, err := c.GetJSON(context.Background(), "missing", &dst)
	if err != nil || ok {
		t.Fatalf("GetJSON(missing) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestHashIncrementBy(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	n, err := c.HashIncrementBy(ctx, "hist:GET:/jobs", "count", 1)
	if err != nil {
		t.Fatalf("HashIncrementBy: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	n, _ = c.HashIncrementBy(ctx, "hist:GET:/jobs", "count", 1)
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestPublishSubscribe(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs, unsubscribe := c.Subscribe(ctx, "un1ca:build_progress_events")
	defer unsubscribe()

	// miniredis delivers synchronously once a subscriber is registered;
	// give the subscribe goroutine a moment to attach.
	time.Sleep(50 * time.Millisecond)

	if err := c.Publish(ctx, "un1ca:build_progress_events", []byte(`{"job_id":"abc"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case m := <-msgs:
		if string(m) != `{"job_id":"abc"}` {
			t.Fatalf("got %q", m)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for published message")
	}
}

func TestScanPrefix(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	_ = c.SetJSON(ctx, "un1ca:firmware_progress:SM-G990B_EUX", map[string]string{"percent": "10"}, 0)
	_ = c.SetJSON(ctx, "un1ca:firmware_progress:SM-G998B_EUX", map[string]string{"percent": "20"}, 0)
	_ = c.SetJSON(ctx, "other:key", map[string]string{}, 0)

	keys, err := c.ScanPrefix(ctx, "un1ca:firmware_progress:")
	if err != nil {
		t.Fatalf("ScanPrefix: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("len(keys) = %d, want 2", len(keys))
	}
}
