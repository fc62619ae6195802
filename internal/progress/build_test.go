package progress

import (
	"testing"
	"time"
)

func TestBuildTrackerHeartbeatCarriesLastPercent(t *testing.T) {
	tr := NewBuildTracker("job-1")
	now := time.Now().UTC()

	ev := tr.Ingest([]byte("downloading SM-G990B_EUX 40%"), now)
	if ev == nil || ev.Percent != 40 {
		t.Fatalf("Ingest(byte chunk) = %+v, want percent 40", ev)
	}

	hb := tr.Ingest(nil, now.Add(time.Second))
	if hb == nil {
		t.Fatal("expected heartbeat event for nil chunk")
	}
	if hb.Status != "running" || hb.Percent != 40 {
		t.Fatalf("heartbeat = %+v, want status=running percent=40", hb)
	}
}

func TestBuildTrackerIgnoresChunksWithoutProgressTokens(t *testing.T) {
	tr := NewBuildTracker("job-2")
	if ev := tr.Ingest([]byte("compiling frameworks/base\n"), time.Now()); ev != nil {
		t.Fatalf("expected nil for non-progress chunk, got %+v", ev)
	}
}

func TestBuildTrackerFinalizeSuccessAndFailure(t *testing.T) {
	tr := NewBuildTracker("job-3")
	now := time.Now().UTC()
	tr.Ingest([]byte("SM-G990B_EUX 55%"), now)

	ok := tr.Finalize(true, now)
	if ok.Status != "completed" || ok.Percent != 100 {
		t.Fatalf("Finalize(true) = %+v", ok)
	}

	fail := tr.Finalize(false, now)
	if fail.Status != "failed" || fail.Percent != 55 {
		t.Fatalf("Finalize(false) = %+v, want percent 55", fail)
	}
}
