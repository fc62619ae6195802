package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/WINGS-N/unica-wb/internal/broker"
	"github.com/WINGS-N/unica-wb/internal/config"
	"github.com/WINGS-N/unica-wb/internal/model"
	"github.com/WINGS-N/unica-wb/internal/process"
	"github.com/WINGS-N/unica-wb/internal/progress"
	"github.com/WINGS-N/unica-wb/internal/queue"
	"github.com/WINGS-N/unica-wb/internal/store"
)

// ControlRunner services the controls queue: stop requests, firmware
// cache mutations and repo checkout operations. Unlike JobRunner it
// never owns a build-job row of its own kind for the firmware/repo
// operations — those run fire-and-forget against the filesystem and
// report only through the progress broker.
type ControlRunner struct {
	Store      *store.Store
	Broker     *broker.Broker
	Resolver   *config.Resolver
	Supervisor *process.Supervisor
	Un1caRoot  string
	OutDir     string
	Log        *logrus.Entry
}

func (r *ControlRunner) log() *logrus.Entry {
	if r.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return r.Log
}

type stopArgs struct {
	JobID      string `json:"job_id"`
	SignalType string `json:"signal_type"`
}

// HandleStop implements the controls queue's "stop" function: escalate
// SIGTERM (or SIGKILL directly) to the job's process group and record
// the outcome, per §4.6.1's stop protocol.
func (r *ControlRunner) HandleStop(ctx context.Context, item queue.Item) error {
	var args stopArgs
	if err := json.Unmarshal(item.Args, &args); err != nil {
		return err
	}

	job, err := r.Store.GetJob(ctx, args.JobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	sig := process.Signal(args.SignalType)
	if sig != process.SIGKILL {
		sig = process.SIGTERM
	}

	if job.ProcessPID == 0 {
		job.Error = "stop requested by user, but build PID is missing; retry stop or check worker logs"
		return r.Store.UpdateJob(ctx, job)
	}

	alive, err := process.Stop(job.ProcessPID, sig)
	if err != nil {
		return err
	}
	if alive {
		job.Error = fmt.Sprintf("stop requested by user (%s), but process is still running; retry stop if needed", args.SignalType)
		return r.Store.UpdateJob(ctx, job)
	}
	r.log().WithFields(logrus.Fields{"job_id": job.ID, "signal": args.SignalType}).Info("build process group stopped")

	now := time.Now().UTC()
	job.Status = model.StatusCanceled
	job.Error = "build canceled by user"
	job.FinishedAt = &now
	job.ProcessPID = 0
	return r.Store.UpdateJob(ctx, job)
}

type firmwareArgs struct {
	FwType string `json:"fw_type"`
	FwKey  string `json:"fw_key"`
}

// HandleDeleteFirmware removes one cached Odin package or extracted
// firmware directory and publishes the removal so any open firmware
// progress WebSocket reflects it immediately.
func (r *ControlRunner) HandleDeleteFirmware(ctx context.Context, item queue.Item) error {
	var args firmwareArgs
	if err := json.Unmarshal(item.Args, &args); err != nil {
		return err
	}
	dir := filepath.Join(r.OutDir, args.FwType, args.FwKey)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return r.Broker.RemoveFirmware(ctx, args.FwKey)
}

// HandleExtractFirmware extracts a previously downloaded Odin package
// into the fw cache using the checkout's own extraction script,
// streaming its output through a firmware progress tracker exactly as
// the build pipeline does for in-build downloads.
func (r *ControlRunner) HandleExtractFirmware(ctx context.Context, item queue.Item) error {
	var args firmwareArgs
	if err := json.Unmarshal(item.Args, &args); err != nil {
		return err
	}

	root := r.Un1caRoot
	if root == "" {
		var err error
		root, err = r.Resolver.RepoRoot()
		if err != nil {
			return err
		}
	}

	script := "cd " + shellQuote(root) + " && scripts/extract_fw.sh --ignore-source --ignore-target --force " + shellQuote(args.FwKey)
	cmd := exec.CommandContext(ctx, "bash", "-lc", script)

	tracker := progress.NewFirmwareTracker("", "extract")
	consume := func(chunk []byte) {
		ev := tracker.Ingest(chunk, time.Now().UTC())
		if ev != nil {
			_ = r.Broker.PublishFirmware(ctx, args.FwKey, ev)
		}
	}

	result := r.Supervisor.Run(ctx, cmd, nil, consume, nil)
	ok := result.Err == nil && result.ReturnCode == 0
	_ = r.Broker.PublishFirmware(ctx, args.FwKey, tracker.Finalize(ok, time.Now().UTC()))
	if !ok && result.Err != nil {
		return result.Err
	}
	return nil
}

type repoArgs struct {
	Mode string `json:"mode"`
}

// HandleRepoClone/Pull/Submodules run the corresponding checkout script
// and stream its --progress output through the single-slot repo
// tracker; HandleRepoDelete removes the checkout (and optionally
// OutDir) without spawning a child process.

func (r *ControlRunner) HandleRepoClone(ctx context.Context, item queue.Item) error {
	return r.runRepoScript(ctx, "clone", "scripts/clone_repo.sh")
}

func (r *ControlRunner) HandleRepoPull(ctx context.Context, item queue.Item) error {
	return r.runRepoScript(ctx, "pull", "scripts/pull_repo.sh")
}

func (r *ControlRunner) HandleRepoSubmodules(ctx context.Context, item queue.Item) error {
	return r.runRepoScript(ctx, "submodules", "scripts/update_submodules.sh")
}

func (r *ControlRunner) runRepoScript(ctx context.Context, stage, scriptPath string) error {
	root := r.Un1caRoot
	if root == "" {
		root = filepath.Dir(scriptPath) // best-effort: repo not yet checked out for clone
	}

	script := "cd " + shellQuote(root) + " && " + scriptPath + " --progress"
	cmd := exec.CommandContext(ctx, "bash", "-lc", script)

	tracker := progress.NewRepoTracker(stage, stage, time.Now().UTC())
	consume := func(chunk []byte) {
		ev := tracker.Ingest(chunk, time.Now().UTC())
		if ev != nil {
			_ = r.Broker.PublishRepo(ctx, ev)
		}
	}

	result := r.Supervisor.Run(ctx, cmd, nil, consume, nil)
	if result.Err != nil {
		return result.Err
	}
	if result.ReturnCode != 0 {
		return fmt.Errorf("worker: repo %s exited with status %d", stage, result.ReturnCode)
	}
	return nil
}

func (r *ControlRunner) HandleRepoDelete(ctx context.Context, item queue.Item) error {
	var args repoArgs
	if err := json.Unmarshal(item.Args, &args); err != nil {
		return err
	}

	root := r.Un1caRoot
	if root == "" {
		var err error
		root, err = r.Resolver.RepoRoot()
		if err != nil {
			return err
		}
	}
	if err := os.RemoveAll(root); err != nil {
		return err
	}
	if args.Mode == "repo_with_out" {
		if err := os.RemoveAll(r.OutDir); err != nil {
			return err
		}
	}
	return r.Broker.ClearRepo(ctx)
}
