package progress

import (
	"testing"
	"time"
)

func TestFirmwareTrackerParsesSampleLine(t *testing.T) {
	tr := NewFirmwareTracker("job-1", "download")
	tr.currentKey = "SM-G990B_EUX" // single known key, carried implicitly

	now := time.Now()
	ev := tr.Ingest([]byte("15%  3.2MiB/4.1GiB 2.1MiB/s [00:10<05:12]"), now)
	if ev == nil {
		t.Fatal("expected an event")
	}
	if ev.Percent != 15 {
		t.Fatalf("Percent = %d, want 15 (byte ratio: %.0f%%)", ev.Percent, float64(ev.DownloadedBytes)/float64(ev.TotalBytes)*100)
	}
	if ev.DownloadedBytes != 3355443 {
		t.Fatalf("DownloadedBytes = %d, want 3355443", ev.DownloadedBytes)
	}
	if ev.TotalBytes != 4402341478 {
		t.Fatalf("TotalBytes = %d, want 4402341478", ev.TotalBytes)
	}
	if ev.SpeedBps != 2202009 {
		t.Fatalf("SpeedBps = %d, want 2202009", ev.SpeedBps)
	}
	if ev.ElapsedSec != 10 || ev.ETASec != 312 {
		t.Fatalf("Elapsed/ETA = %d/%d, want 10/312", ev.ElapsedSec, ev.ETASec)
	}
}

func TestFirmwareTrackerPercentTokenWinsOverByteRatio(t *testing.T) {
	// A chunk where the literal percent token disagrees with the byte
	// ratio: the token must win, and the byte ratio is only used when no
	// token is present.
	tr := NewFirmwareTracker("job-1", "download")
	tr.currentKey = "SM-G990B_EUX"

	ev := tr.Ingest([]byte("50% 1MiB/4MiB"), time.Now())
	if ev == nil {
		t.Fatal("expected an event")
	}
	if ev.Percent != 50 {
		t.Fatalf("Percent = %d, want 50 (literal token, not the byte ratio of 25%%)", ev.Percent)
	}
}

func TestFirmwareTrackerFallsBackToByteRatioWithoutToken(t *testing.T) {
	tr := NewFirmwareTracker("job-1", "download")
	tr.currentKey = "SM-G990B_EUX"

	ev := tr.Ingest([]byte("1MiB/4MiB"), time.Now())
	if ev == nil {
		t.Fatal("expected an event")
	}
	if ev.Percent != 25 {
		t.Fatalf("Percent = %d, want 25 (byte ratio, no percent token present)", ev.Percent)
	}
}

func TestFirmwareTrackerDeduplicatesWithin900ms(t *testing.T) {
	tr := NewFirmwareTracker("job-1", "download")
	tr.currentKey = "SM-G990B_EUX"

	base := time.Now()
	first := tr.Ingest([]byte("10% 1MiB/10MiB"), base)
	if first == nil {
		t.Fatal("expected first event")
	}
	second := tr.Ingest([]byte("10% 1MiB/10MiB"), base.Add(500*time.Millisecond))
	if second != nil {
		t.Fatal("expected dedup suppression within 900ms at unchanged percent")
	}
	third := tr.Ingest([]byte("10% 1MiB/10MiB"), base.Add(950*time.Millisecond))
	if third == nil {
		t.Fatal("expected event to resume after the dedup window elapses")
	}
}

func TestFirmwareTrackerFinalizeNeverFabricatesOnFailure(t *testing.T) {
	tr := NewFirmwareTracker("job-1", "download")
	tr.currentKey = "SM-G990B_EUX"
	tr.Ingest([]byte("42% 1MiB/2.38MiB"), time.Now())

	ev := tr.Finalize(false, time.Now())
	if ev.Status != "failed" || ev.Percent != 42 {
		t.Fatalf("Finalize(false) = %+v, want status=failed percent=42", ev)
	}

	ev = tr.Finalize(true, time.Now())
	if ev.Status != "completed" || ev.Percent != 100 {
		t.Fatalf("Finalize(true) = %+v, want status=completed percent=100", ev)
	}
}
