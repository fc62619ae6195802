package progress

import (
	"regexp"
	"strconv"
	"sync"
	"time"
)

var (
	cacheKeyRe  = regexp.MustCompile(`SM-[A-Z0-9]+_[A-Z0-9]+`)
	modelCSCRe  = regexp.MustCompile(`SM-[A-Z0-9]+[/_][A-Z0-9]{2,4}`)
	percentRe   = regexp.MustCompile(`(\d{1,3})%`)
	bytesPairRe = regexp.MustCompile(`([\d.]+\s*[KMGTP]?i?B)\s*/\s*([\d.]+\s*[KMGTP]?i?B)`)
	speedRe     = regexp.MustCompile(`([\d.]+\s*[KMGTP]?i?B)/s`)
	etaRe       = regexp.MustCompile(`\[(\d{2}):(\d{2})<(\d{2}):(\d{2})\]`)
)

// FirmwareEvent is one emitted firmware progress snapshot.
type FirmwareEvent struct {
	Key             string
	Status          string // "downloading" | "completed" | "failed"
	Phase           string // "download" | "extract"
	Percent         int
	DownloadedBytes int64
	TotalBytes      int64
	SpeedBps        int64
	ElapsedSec      int
	ETASec          int
	JobID           string
	UpdatedAt       time.Time
}

type lastEmit struct {
	percent int
	at      time.Time
}

// FirmwareTracker parses tqdm-style download lines for one or more
// firmware keys (MODEL_CSC). When only one key is ever observed it is
// carried implicitly so callers needn't pass it on every chunk.
type FirmwareTracker struct {
	JobID string
	Phase string

	mu         sync.Mutex
	currentKey string
	lastEmits  map[string]lastEmit
}

// NewFirmwareTracker creates a tracker for a single job/operation.
func NewFirmwareTracker(jobID, phase string) *FirmwareTracker {
	return &FirmwareTracker{JobID: jobID, Phase: phase, lastEmits: map[string]lastEmit{}}
}

// Ingest parses one output chunk and returns an event if the chunk
// contributed a percent or byte-pair match, nil otherwise. Deduplicates
// identical percent re-emissions within 900ms per key.
func (t *FirmwareTracker) Ingest(chunk []byte, now time.Time) *FirmwareEvent {
	s := string(chunk)

	key := t.currentKey
	if m := cacheKeyRe.FindString(s); m != "" {
		key = m
	} else if m := modelCSCRe.FindString(s); m != "" {
		key = normalizeModelCSC(m)
	}

	percentMatch := percentRe.FindStringSubmatch(s)
	bytesMatch := bytesPairRe.FindStringSubmatch(s)
	if percentMatch == nil && bytesMatch == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if key == "" {
		return nil
	}
	t.currentKey = key

	ev := &FirmwareEvent{Key: key, Status: "downloading", Phase: t.Phase, JobID: t.JobID, UpdatedAt: now}

	var percentFromToken int
	havePercentToken := false
	if percentMatch != nil {
		percentFromToken, _ = strconv.Atoi(percentMatch[1])
		havePercentToken = true
	}

	if bytesMatch != nil {
		downloaded, ok1 := parseByteSize(bytesMatch[1])
		total, ok2 := parseByteSize(bytesMatch[2])
		if ok1 && ok2 {
			ev.DownloadedBytes = downloaded
			ev.TotalBytes = total
		}
	}

	switch {
	case havePercentToken:
		// The percent token wins whenever present; the byte ratio is only
		// a fallback for lines that carry a byte pair but no percent.
		ev.Percent = percentFromToken
	case ev.TotalBytes > 0:
		ev.Percent = int(float64(ev.DownloadedBytes) / float64(ev.TotalBytes) * 100)
	}

	if sm := speedRe.FindStringSubmatch(s); sm != nil {
		if v, ok := parseByteSize(sm[1]); ok {
			ev.SpeedBps = v
		}
	}
	if em := etaRe.FindStringSubmatch(s); em != nil {
		elapsedMin, _ := strconv.Atoi(em[1])
		elapsedSec, _ := strconv.Atoi(em[2])
		etaMin, _ := strconv.Atoi(em[3])
		etaSec, _ := strconv.Atoi(em[4])
		ev.ElapsedSec = elapsedMin*60 + elapsedSec
		ev.ETASec = etaMin*60 + etaSec
	}

	last, seen := t.lastEmits[key]
	if seen && last.percent == ev.Percent && now.Sub(last.at) < 900*time.Millisecond {
		return nil
	}
	t.lastEmits[key] = lastEmit{percent: ev.Percent, at: now}
	return ev
}

// Finalize returns the terminal event for the tracker's current key:
// completed (percent=100) on success, failed with the last observed
// percent on failure (never fabricated).
func (t *FirmwareTracker) Finalize(success bool, now time.Time) *FirmwareEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := t.currentKey
	if key == "" {
		return nil
	}
	ev := &FirmwareEvent{Key: key, Phase: t.Phase, JobID: t.JobID, UpdatedAt: now}
	if success {
		ev.Status = "completed"
		ev.Percent = 100
	} else {
		ev.Status = "failed"
		ev.Percent = t.lastEmits[key].percent
	}
	return ev
}

func normalizeModelCSC(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			out[i] = '_'
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}
