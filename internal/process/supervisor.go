// Package process supervises a single shell child: it spawns it into a
// fresh process group, streams its merged output in fixed-size chunks
// to a log file and a progress consumer, heartbeats at 1 Hz even when
// the child is silent, and implements the out-of-band SIGTERM→SIGKILL
// stop protocol used by the controls queue. Adapted from the upstream
// e2e test runner's process.Control, generalized from a single
// interruptible test step to a long-running, externally stoppable
// build.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	chunkSize        = 4096
	heartbeatInterval = time.Second
)

// Consumer receives each raw output chunk as it is read, plus a nil
// chunk on every heartbeat tick so progress trackers can emit
// keep-alive events even during silent stretches of build output.
type Consumer func(chunk []byte)

// Supervisor runs one child process end to end.
type Supervisor struct {
	log *logrus.Entry
}

// New returns a Supervisor; log may be nil to use the standard logger.
func New(log *logrus.Entry) *Supervisor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Supervisor{log: log}
}

// Result is what Run reports once the child has exited.
type Result struct {
	Pid        int // process-group leader pid, valid only while running
	ReturnCode int
	Err        error
}

// Run spawns cmd in a fresh process group, tees its merged stdout+stderr
// into logFile (4 KiB chunks, no line buffering) and into consume,
// heartbeating at 1 Hz. onStart is invoked with the process-group
// leader pid as soon as the child is spawned, before any output is
// read, so the caller can record it into the job row first. Run blocks
// until the child exits; canceling ctx neither signals the child nor
// makes Run return early — stopping the child is the stop protocol's
// job via Stop.
func (s *Supervisor) Run(ctx context.Context, cmd *exec.Cmd, logFile io.Writer, consume Consumer, onStart func(pid int)) Result {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Merge stdout+stderr onto a single os.Pipe() so both streams share
	// one 4 KiB-chunked reader, matching the merged-capture contract.
	r, w, err := os.Pipe()
	if err != nil {
		return Result{Err: fmt.Errorf("process: pipe: %w", err)}
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return Result{Err: fmt.Errorf("process: start: %w", err)}
	}
	w.Close()

	pgid := getGroupPid(cmd.Process.Pid)
	if onStart != nil {
		onStart(pgid)
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	readDone := make(chan error, 1)
	go func() {
		readDone <- pumpChunks(r, logFile, consume)
	}()

	heartbeatStop := make(chan struct{})
	go func() {
		for {
			select {
			case <-heartbeat.C:
				consume(nil)
			case <-heartbeatStop:
				return
			}
		}
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-ctx.Done():
		waitErr = <-waitDone
	}
	close(heartbeatStop)
	r.Close()
	<-readDone

	rc := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			rc = exitErr.ExitCode()
		} else {
			return Result{Pid: pgid, Err: fmt.Errorf("process: wait: %w", waitErr)}
		}
	}
	return Result{Pid: pgid, ReturnCode: rc}
}

// pumpChunks reads src in fixed chunkSize reads (no line buffering),
// appending each chunk to dst and handing it to consume, until EOF.
func pumpChunks(src io.Reader, dst io.Writer, consume Consumer) error {
	buf := make([]byte, chunkSize)
	r := bufio.NewReaderSize(src, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if dst != nil {
				if _, werr := dst.Write(chunk); werr != nil {
					return werr
				}
			}
			consume(chunk)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// getGroupPid resolves the process group id for pid, falling back to
// pid itself if the group can't be resolved (the child already exited).
func getGroupPid(pid int) int {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return pid
	}
	return pgid
}
