// Package worker drains the builds and controls queues: it runs one
// build job end to end (shell out to the checked-out tree's build
// script, tee output to a log file and the progress broker, detect the
// produced artifact) and services the out-of-band control operations
// (stop, firmware delete/extract, repo clone/pull/submodules/delete).
// Adapted from the upstream e2e runner's job-execution loop, generalized
// from a single test binary invocation to a long shell pipeline with
// its own override/export preamble.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/WINGS-N/unica-wb/internal/archive"
	"github.com/WINGS-N/unica-wb/internal/broker"
	"github.com/WINGS-N/unica-wb/internal/config"
	"github.com/WINGS-N/unica-wb/internal/model"
	"github.com/WINGS-N/unica-wb/internal/process"
	"github.com/WINGS-N/unica-wb/internal/progress"
	"github.com/WINGS-N/unica-wb/internal/queue"
	"github.com/WINGS-N/unica-wb/internal/store"
)

// JobRunner executes build jobs dequeued from the builds queue.
type JobRunner struct {
	Store      *store.Store
	Broker     *broker.Broker
	Resolver   *config.Resolver
	Supervisor *process.Supervisor
	Un1caRoot  string
	OutDir     string
	DataDir    string
	LogsDir    string
	Log        *logrus.Entry
}

type buildArgs struct {
	JobID string `json:"job_id"`
}

// Handle is the queue.Handler bound to the "build" function name.
func (r *JobRunner) Handle(ctx context.Context, item queue.Item) error {
	var args buildArgs
	if err := decodeArgs(item.Args, &args); err != nil {
		return err
	}

	job, err := r.Store.GetJob(ctx, args.JobID)
	if err != nil {
		return fmt.Errorf("worker: load job %s: %w", args.JobID, err)
	}
	if job.Status != model.StatusQueued {
		return nil // already handled (e.g. reused or canceled before dequeue)
	}

	return r.run(ctx, job)
}

func (r *JobRunner) run(ctx context.Context, job *model.Job) error {
	log := r.log(job.ID)

	if err := os.MkdirAll(r.LogsDir, 0o755); err != nil {
		return err
	}
	logPath := filepath.Join(r.LogsDir, fmt.Sprintf("%s-%s.log", safeTargetName(job.Target), job.ID))

	now := time.Now().UTC()
	job.Status = model.StatusRunning
	job.StartedAt = &now
	job.LogPath = logPath
	if err := r.Store.UpdateJob(ctx, job); err != nil {
		return err
	}

	var cleanupDirs []string
	defer func() {
		for _, d := range cleanupDirs {
			_ = os.RemoveAll(d)
		}
	}()

	appliedMods, err := r.stageExtraMods(job, &cleanupDirs)
	if err != nil {
		log.WithError(err).Warn("failed to stage extra mods, continuing without them")
	}
	if len(appliedMods) > 0 {
		log.WithField("count", len(appliedMods)).Info("staged uploaded mod overlays")
	}

	cmd, err := r.buildCommand(ctx, job)
	if err != nil {
		return r.fail(ctx, job, err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer logFile.Close()

	tracker := progress.NewBuildTracker(job.ID)
	consume := func(chunk []byte) {
		ev := tracker.Ingest(chunk, time.Now().UTC())
		if ev != nil {
			_ = r.Broker.PublishBuild(ctx, job.ID, ev)
		}
	}

	result := r.Supervisor.Run(ctx, cmd, logFile, consume, func(pgid int) {
		job.ProcessPID = pgid
		_ = r.Store.UpdateJob(ctx, job)
	})

	finishedAt := time.Now().UTC()
	job.ProcessPID = 0
	job.FinishedAt = &finishedAt

	// The stop handler (controls queue) may have marked this job canceled
	// in the store while the build was still running; re-read its status
	// so a concurrent stop isn't clobbered by this goroutine's stale copy.
	if fresh, err := r.Store.GetJob(ctx, job.ID); err == nil {
		job.Status = fresh.Status
		job.Error = fresh.Error
	}

	if result.Err != nil {
		_ = r.Broker.PublishBuild(ctx, job.ID, tracker.Finalize(false, finishedAt))
		return r.fail(ctx, job, result.Err)
	}

	rc := result.ReturnCode
	job.ReturnCode = &rc

	if job.Status == model.StatusCanceled {
		_ = r.Broker.PublishBuild(ctx, job.ID, tracker.Finalize(false, finishedAt))
		if job.Error == "" {
			job.Error = "build canceled by user"
		}
		return r.Store.UpdateJob(ctx, job)
	}

	if rc == 0 {
		job.Status = model.StatusSucceeded
		if artifact := latestArtifact(r.OutDir); artifact != "" {
			job.ArtifactPath = artifact
		}
		_ = r.Broker.PublishBuild(ctx, job.ID, tracker.Finalize(true, finishedAt))
	} else {
		job.Status = model.StatusFailed
		job.Error = fmt.Sprintf("build script exited with status %d", rc)
		_ = r.Broker.PublishBuild(ctx, job.ID, tracker.Finalize(false, finishedAt))
	}

	return r.Store.UpdateJob(ctx, job)
}

// buildCommand assembles the shell pipeline: cd into the checkout,
// source buildenv.sh for the target, export any per-build overrides,
// then invoke the make_rom wrapper with --force/--no-rom-zip flags.
func (r *JobRunner) buildCommand(ctx context.Context, job *model.Job) (*exec.Cmd, error) {
	root := r.Un1caRoot
	if root == "" {
		var err error
		root, err = r.Resolver.RepoRoot()
		if err != nil {
			return nil, err
		}
	}

	var flags []string
	if job.Force {
		flags = append(flags, "--force")
	}
	if job.NoROMZip {
		flags = append(flags, "--no-rom-zip")
	}

	shortCommit := job.SourceCommit
	if len(shortCommit) > 8 {
		shortCommit = shortCommit[:8]
	}
	if shortCommit == "" {
		shortCommit = "unknown"
	}
	romVersion := fmt.Sprintf("%d.%d.%d-%s", job.VersionMajor, job.VersionMinor, job.VersionPatch, shortCommit)
	if job.VersionSuffix != "" {
		romVersion += "-" + job.VersionSuffix
	}

	var exports []string
	if job.SourceFirmware != "" {
		exports = append(exports, "export SOURCE_FIRMWARE="+shellQuote(job.SourceFirmware))
	}
	if job.TargetFirmware != "" {
		exports = append(exports, "export TARGET_FIRMWARE="+shellQuote(job.TargetFirmware))
	}
	exports = append(exports, "export ROM_VERSION="+shellQuote(romVersion))

	script := "cd " + shellQuote(root) + " && source buildenv.sh " + shellQuote(job.Target)
	if len(exports) > 0 {
		script += " && " + strings.Join(exports, " && ")
	}
	script += " && scripts/make_rom.sh " + strings.Join(quoteAll(flags), " ")

	cmd := exec.CommandContext(ctx, "bash", "-lc", script)
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	return cmd, nil
}

// stageExtraMods copies an uploaded archive's validated module
// directories into the checkout's mods directory under a job-scoped
// .uploaded- prefix, the same temporary-overlay convention the original
// build pipeline uses so cleanup (C12) can find and remove them later.
func (r *JobRunner) stageExtraMods(job *model.Job, cleanupDirs *[]string) ([]string, error) {
	if job.ExtraModsArchivePath == "" {
		return nil, nil
	}
	if _, err := os.Stat(job.ExtraModsArchivePath); err != nil {
		return nil, nil
	}

	extractDir := filepath.Join(r.DataDir, "tmp-extra-mods", job.ID)
	*cleanupDirs = append(*cleanupDirs, extractDir)
	mods, err := archive.Extract(job.ExtraModsArchivePath, extractDir)
	if err != nil {
		return nil, err
	}

	root := r.Un1caRoot
	if root == "" {
		root, err = r.Resolver.RepoRoot()
		if err != nil {
			return nil, err
		}
	}
	targetModsDir := filepath.Join(root, "unica", "mods")
	if err := os.MkdirAll(targetModsDir, 0o755); err != nil {
		return nil, err
	}

	sort.Slice(mods, func(i, j int) bool { return mods[i].Dir < mods[j].Dir })
	var applied []string
	for _, m := range mods {
		dest := filepath.Join(targetModsDir, fmt.Sprintf(".uploaded-%s-%s", job.ID[:8], filepath.Base(m.Dir)))
		_ = os.RemoveAll(dest)
		if err := copyDir(m.Dir, dest); err != nil {
			continue
		}
		applied = append(applied, dest)
	}
	return applied, nil
}

func (r *JobRunner) fail(ctx context.Context, job *model.Job, err error) error {
	now := time.Now().UTC()
	job.Status = model.StatusFailed
	job.Error = err.Error()
	job.FinishedAt = &now
	return r.Store.UpdateJob(ctx, job)
}

func (r *JobRunner) log(jobID string) *logrus.Entry {
	if r.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger()).WithField("job_id", jobID)
	}
	return r.Log.WithField("job_id", jobID)
}

func safeTargetName(target string) string {
	var b strings.Builder
	for _, c := range target {
		if c == '/' || c == ' ' {
			b.WriteByte('-')
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func latestArtifact(outDir string) string {
	matches, err := filepath.Glob(filepath.Join(outDir, "UN1CA_*.zip"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, _ := os.Stat(matches[i])
		fj, _ := os.Stat(matches[j])
		if fi == nil || fj == nil {
			return false
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches[0]
}

// shellQuote wraps s in single quotes, escaping any embedded single
// quote the POSIX way ('"'"'). None of the retrieval pack's examples
// carry a shell-quoting library in their wired dependency graph, and
// this is the one place the service builds a shell command line from
// untrusted-ish values, so it stays a small stdlib helper rather than
// reaching for a new dependency just for this.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func quoteAll(xs []string) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = shellQuote(x)
	}
	return out
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode())
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = out.ReadFrom(in)
		return err
	})
}

func decodeArgs(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
