// Package broker fans progress events out to subscribers: each stream
// keeps its latest snapshot(s) in the shared kv store and publishes
// deltas on a stream-specific channel, so a client that connects mid-
// build first receives the current state and then only changes.
package broker

import (
	"context"
	"encoding/json"

	"github.com/WINGS-N/unica-wb/internal/kv"
)

const (
	firmwareSnapshotPrefix = "un1ca:firmware_progress:"
	firmwareChannel        = "un1ca:firmware_progress_events"

	buildSnapshotPrefix = "un1ca:build_progress:"
	buildChannel        = "un1ca:build_progress_events"

	repoSnapshotKey = "un1ca:repo_progress"
	repoChannel     = "un1ca:repo_progress_events"
)

// Broker publishes and serves the three progress streams named in the
// specification's external-interfaces section.
type Broker struct {
	kv kv.Store
}

// New binds a Broker to a kv store.
func New(store kv.Store) *Broker { return &Broker{kv: store} }

// PublishFirmware stores key's latest snapshot and publishes the delta.
func (b *Broker) PublishFirmware(ctx context.Context, key string, v any) error {
	if err := b.kv.SetJSON(ctx, firmwareSnapshotPrefix+key, v, 0); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]any{"key": key, "event": v})
	return b.kv.Publish(ctx, firmwareChannel, payload)
}

// RemoveFirmware deletes key's snapshot and publishes a "removed" event.
func (b *Broker) RemoveFirmware(ctx context.Context, key string) error {
	_ = b.kv.Delete(ctx, firmwareSnapshotPrefix+key)
	payload, _ := json.Marshal(map[string]any{"key": key, "removed": true})
	return b.kv.Publish(ctx, firmwareChannel, payload)
}

// FirmwareSnapshot returns every currently live firmware key's snapshot.
func (b *Broker) FirmwareSnapshot(ctx context.Context) (map[string]json.RawMessage, error) {
	keys, err := b.kv.ScanPrefix(ctx, firmwareSnapshotPrefix)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	for _, k := range keys {
		var raw json.RawMessage
		if ok, _ := b.kv.GetJSON(ctx, k, &raw); ok {
			out[k[len(firmwareSnapshotPrefix):]] = raw
		}
	}
	return out, nil
}

// SubscribeFirmware returns the raw delta channel for firmware events.
func (b *Broker) SubscribeFirmware(ctx context.Context) (<-chan []byte, func()) {
	return b.kv.Subscribe(ctx, firmwareChannel)
}

// PublishBuild stores jobID's latest snapshot and publishes the delta.
func (b *Broker) PublishBuild(ctx context.Context, jobID string, v any) error {
	if err := b.kv.SetJSON(ctx, buildSnapshotPrefix+jobID, v, 0); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]any{"job_id": jobID, "event": v})
	return b.kv.Publish(ctx, buildChannel, payload)
}

// RemoveBuild deletes jobID's snapshot and publishes a "removed" event.
func (b *Broker) RemoveBuild(ctx context.Context, jobID string) error {
	_ = b.kv.Delete(ctx, buildSnapshotPrefix+jobID)
	payload, _ := json.Marshal(map[string]any{"job_id": jobID, "removed": true})
	return b.kv.Publish(ctx, buildChannel, payload)
}

// BuildSnapshot returns every currently live build job's snapshot.
func (b *Broker) BuildSnapshot(ctx context.Context) (map[string]json.RawMessage, error) {
	keys, err := b.kv.ScanPrefix(ctx, buildSnapshotPrefix)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	for _, k := range keys {
		var raw json.RawMessage
		if ok, _ := b.kv.GetJSON(ctx, k, &raw); ok {
			out[k[len(buildSnapshotPrefix):]] = raw
		}
	}
	return out, nil
}

// SubscribeBuild returns the raw delta channel for build events.
func (b *Broker) SubscribeBuild(ctx context.Context) (<-chan []byte, func()) {
	return b.kv.Subscribe(ctx, buildChannel)
}

// PublishRepo overwrites the single repo-operation slot and publishes
// the delta; only one repo operation ever runs at a time so there is no
// keying by entity.
func (b *Broker) PublishRepo(ctx context.Context, v any) error {
	if err := b.kv.SetJSON(ctx, repoSnapshotKey, v, 0); err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]any{"event": v})
	return b.kv.Publish(ctx, repoChannel, payload)
}

// RepoSnapshot returns the current repo operation slot, or ok=false if
// none is live.
func (b *Broker) RepoSnapshot(ctx context.Context) (json.RawMessage, bool, error) {
	var raw json.RawMessage
	ok, err := b.kv.GetJSON(ctx, repoSnapshotKey, &raw)
	return raw, ok, err
}

// ClearRepo deletes the repo slot, used at service startup (§3.3's
// "deleted on explicit clear at service startup").
func (b *Broker) ClearRepo(ctx context.Context) error {
	return b.kv.Delete(ctx, repoSnapshotKey)
}

// SubscribeRepo returns the raw delta channel for repo events.
func (b *Broker) SubscribeRepo(ctx context.Context) (<-chan []byte, func()) {
	return b.kv.Subscribe(ctx, repoChannel)
}

// pinger is implemented by kv.Client; asserted here so the broker's
// public surface stays the narrow kv.Store interface everywhere except
// this one health-check path.
type pinger interface {
	Ping(ctx context.Context) error
}

// Ping exercises the underlying broker connection for the readiness
// probe. Returns nil if the concrete store doesn't support pinging
// (e.g. an in-memory test double), since such a store can't be "down".
func (b *Broker) Ping(ctx context.Context) error {
	if p, ok := b.kv.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
