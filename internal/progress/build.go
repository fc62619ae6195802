package progress

import "time"

// BuildEvent is the phase-agnostic build progress snapshot, keyed by
// job id rather than firmware model/CSC.
type BuildEvent struct {
	JobID      string
	Status     string
	Percent    int
	UpdatedAt  time.Time
}

// BuildTracker hosts two firmware sub-trackers (source and target
// firmware download phases detected inside the build log) and
// heartbeats at 1 Hz; the heartbeat itself is driven by the process
// supervisor's nil-chunk ticks, not by this type.
type BuildTracker struct {
	JobID  string
	Source *FirmwareTracker
	Target *FirmwareTracker

	lastPercent int
}

// NewBuildTracker creates a tracker for jobID hosting both firmware
// sub-trackers.
func NewBuildTracker(jobID string) *BuildTracker {
	return &BuildTracker{
		JobID:  jobID,
		Source: NewFirmwareTracker(jobID, "download"),
		Target: NewFirmwareTracker(jobID, "download"),
	}
}

// Ingest feeds chunk to both firmware sub-trackers and folds whichever
// produced an event into a build-level event. A nil chunk (heartbeat)
// still produces an event carrying the last known percent, so
// subscribers see liveness even when the underlying build step emits no
// byte-level progress.
func (t *BuildTracker) Ingest(chunk []byte, now time.Time) *BuildEvent {
	if chunk == nil {
		return &BuildEvent{JobID: t.JobID, Status: "running", Percent: t.lastPercent, UpdatedAt: now}
	}

	if ev := t.Source.Ingest(chunk, now); ev != nil {
		t.lastPercent = ev.Percent
		return &BuildEvent{JobID: t.JobID, Status: "running", Percent: ev.Percent, UpdatedAt: now}
	}
	if ev := t.Target.Ingest(chunk, now); ev != nil {
		t.lastPercent = ev.Percent
		return &BuildEvent{JobID: t.JobID, Status: "running", Percent: ev.Percent, UpdatedAt: now}
	}
	return nil
}

// Finalize returns the terminal build event: completed/percent=100 on
// success, failed with the last observed percent otherwise.
func (t *BuildTracker) Finalize(success bool, now time.Time) *BuildEvent {
	if success {
		return &BuildEvent{JobID: t.JobID, Status: "completed", Percent: 100, UpdatedAt: now}
	}
	return &BuildEvent{JobID: t.JobID, Status: "failed", Percent: t.lastPercent, UpdatedAt: now}
}
