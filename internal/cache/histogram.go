package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/WINGS-N/unica-wb/internal/kv"
)

// latencyBuckets are the fixed upper bounds (ms) the histogram keys its
// per-route counters by; the final bucket is unbounded.
var latencyBuckets = []int{10, 25, 50, 100, 200, 350, 500, 750, 1000, 2000, 5000}

const histogramTTL = 7 * 24 * time.Hour

// Histogram records per-(method,route) latency distributions in the
// shared kv store as a hash, independent of the prometheus client —
// this is the service's own bucket-CDF quantile store, exposed
// alongside (not instead of) the prometheus /metrics endpoint.
type Histogram struct {
	kv kv.Store
}

// NewHistogram binds a Histogram to a kv store.
func NewHistogram(store kv.Store) *Histogram { return &Histogram{kv: store} }

func histogramKey(method, routeTemplate string) string {
	return fmt.Sprintf("un1ca:httpmetrics:%s:%s", method, routeTemplate)
}

// Record folds one request's outcome into its route's histogram.
func (h *Histogram) Record(ctx context.Context, method, routeTemplate string, status int, elapsed time.Duration) {
	key := histogramKey(method, routeTemplate)
	ms := elapsed.Milliseconds()

	_, _ = h.kv.HashIncrementBy(ctx, key, "count", 1)
	_, _ = h.kv.HashIncrementBy(ctx, key, "sum_ms", ms)
	_ = h.kv.HashSet(ctx, key, "last_status", strconv.Itoa(status))
	_ = h.kv.HashSet(ctx, key, "last_ms", strconv.FormatInt(ms, 10))
	if status >= 500 {
		_, _ = h.kv.HashIncrementBy(ctx, key, "err_5xx", 1)
	}

	bucket := bucketFor(ms)
	_, _ = h.kv.HashIncrementBy(ctx, key, "bucket_"+bucket, 1)

	// The store has no native per-field TTL; Record refreshes an
	// expires_at marker field (now + histogramTTL) on the hash. Nothing
	// in this package expires or deletes the hash when the marker passes.
	_ = h.kv.HashSet(ctx, key, "expires_at", strconv.FormatInt(time.Now().Add(histogramTTL).Unix(), 10))
}

func bucketFor(ms int64) string {
	for _, b := range latencyBuckets {
		if ms <= int64(b) {
			return strconv.Itoa(b)
		}
	}
	return "inf"
}

// Quantile computes q (0..1) over a route's bucket CDF: the smallest
// bucket boundary whose cumulative count meets or exceeds q * count.
func (h *Histogram) Quantile(ctx context.Context, method, routeTemplate string, q float64) (float64, error) {
	key := histogramKey(method, routeTemplate)
	fields, err := h.kv.HashGetAll(ctx, key)
	if err != nil {
		return 0, err
	}
	total := atoiOr0(fields["count"])
	if total == 0 {
		return 0, nil
	}

	boundaries := append(append([]int{}, latencyBuckets...))
	sort.Ints(boundaries)

	target := int(q * float64(total))
	cum := 0
	for _, b := range boundaries {
		cum += atoiOr0(fields["bucket_"+strconv.Itoa(b)])
		if cum >= target {
			return float64(b), nil
		}
	}
	return float64(boundaries[len(boundaries)-1]), nil
}

func atoiOr0(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
