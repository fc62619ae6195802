package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/WINGS-N/unica-wb/internal/kv"
)

func newTestCache(t *testing.T, fresh, retry time.Duration) (*Cache, *kv.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := kv.New("redis://"+mr.Addr(), nil)
	if err != nil {
		t.Fatalf("kv.New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return New(c, "test:", fresh, retry), c
}

func TestCacheServesFreshWithoutRefetch(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, time.Minute)
	calls := 0
	refresh := func(context.Context) (any, error) {
		calls++
		return "value", nil
	}

	base := time.Now()
	v, err := c.Fetch(context.Background(), "k", base, refresh)
	if err != nil || v != "value" {
		t.Fatalf("Fetch = (%v, %v)", v, err)
	}
	v, err = c.Fetch(context.Background(), "k", base.Add(time.Minute), refresh)
	if err != nil || v != "value" {
		t.Fatalf("Fetch(2) = (%v, %v)", v, err)
	}
	if calls != 1 {
		t.Fatalf("refresh called %d times, want 1 (second call should hit the fresh cache)", calls)
	}
}

func TestCacheServesStaleDuringRetryWindowOnFailure(t *testing.T) {
	c, _ := newTestCache(t, time.Second, time.Minute)
	base := time.Now()

	_, err := c.Fetch(context.Background(), "k", base, func(context.Context) (any, error) { return "v1", nil })
	if err != nil {
		t.Fatal(err)
	}

	// Past freshTTL, refresh fails: should still serve the last good value.
	v, err := c.Fetch(context.Background(), "k", base.Add(2*time.Second), func(context.Context) (any, error) {
		return nil, errors.New("network down")
	})
	if err != nil {
		t.Fatalf("expected stale value served, got error %v", err)
	}
	if v != "v1" {
		t.Fatalf("v = %v, want v1 (stale)", v)
	}

	// Still within the retry window: even a would-be-called refresh isn't
	// invoked, stale value still served.
	called := false
	v, err = c.Fetch(context.Background(), "k", base.Add(2500*time.Millisecond), func(context.Context) (any, error) {
		called = true
		return "v2", nil
	})
	if err != nil || v != "v1" || called {
		t.Fatalf("v=%v err=%v called=%v, want v1/nil/false", v, err, called)
	}
}

func TestHistogramQuantile(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := kv.New("redis://"+mr.Addr(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	h := NewHistogram(c)
	ctx := context.Background()
	for _, ms := range []int64{5, 20, 60, 900, 1800} {
		h.Record(ctx, "GET", "/jobs/{id}", 200, time.Duration(ms)*time.Millisecond)
	}

	p50, err := h.Quantile(ctx, "GET", "/jobs/{id}", 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if p50 <= 0 {
		t.Fatalf("p50 = %v, want > 0", p50)
	}
}
