package progress

import (
	"testing"
	"time"
)

func TestRepoTrackerParsesPercentAndSpeed(t *testing.T) {
	start := time.Now().UTC()
	tr := NewRepoTracker("clone", "cloning", start)

	ev := tr.Ingest([]byte("Receiving objects: 42% (4200/10000), 3.5MiB/s"), start.Add(10*time.Second))
	if ev == nil {
		t.Fatal("expected an event for a percent-bearing chunk")
	}
	if ev.Percent != 42 {
		t.Fatalf("Percent = %d, want 42", ev.Percent)
	}
	if ev.Stage != "clone" || ev.Title != "cloning" {
		t.Fatalf("Stage/Title = %q/%q", ev.Stage, ev.Title)
	}
	if ev.SpeedBps == 0 {
		t.Fatal("expected non-zero parsed speed")
	}
	if ev.ElapsedSec != 10 {
		t.Fatalf("ElapsedSec = %d, want 10", ev.ElapsedSec)
	}
}

func TestRepoTrackerIgnoresChunksWithoutPercent(t *testing.T) {
	tr := NewRepoTracker("pull", "pulling", time.Now())
	if ev := tr.Ingest([]byte("remote: Compressing objects"), time.Now()); ev != nil {
		t.Fatalf("expected nil, got %+v", ev)
	}
}

func TestRepoTrackerDerivesETAFromElapsedAndPercent(t *testing.T) {
	start := time.Now().UTC()
	tr := NewRepoTracker("clone", "cloning", start)
	ev := tr.Ingest([]byte("50%"), start.Add(20*time.Second))
	if ev == nil {
		t.Fatal("expected event")
	}
	if ev.ETASec != 20 {
		t.Fatalf("ETASec = %d, want 20 (elapsed * (100-50)/50)", ev.ETASec)
	}
}
