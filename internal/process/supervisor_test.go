package process

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRunCapturesMergedOutputAndExitCode(t *testing.T) {
	s := New(nil)
	cmd := exec.Command("sh", "-c", "echo out; echo err 1>&2; exit 3")

	var log bytes.Buffer
	var mu sync.Mutex
	var chunks []string
	var startedPid int

	res := s.Run(context.Background(), cmd, &log, func(chunk []byte) {
		if chunk == nil {
			return
		}
		mu.Lock()
		chunks = append(chunks, string(chunk))
		mu.Unlock()
	}, func(pid int) { startedPid = pid })

	if res.ReturnCode != 3 {
		t.Fatalf("ReturnCode = %d, want 3", res.ReturnCode)
	}
	if startedPid == 0 {
		t.Fatal("onStart was never called with a nonzero pid")
	}
	combined := strings.Join(chunks, "")
	if !strings.Contains(combined, "out") || !strings.Contains(combined, "err") {
		t.Fatalf("combined output = %q, want both streams merged", combined)
	}
	if !strings.Contains(log.String(), "out") {
		t.Fatalf("log file missing content: %q", log.String())
	}
}

func TestRunEmitsHeartbeatsDuringSilence(t *testing.T) {
	s := New(nil)
	cmd := exec.Command("sleep", "2.2")

	var mu sync.Mutex
	heartbeats := 0
	res := s.Run(context.Background(), cmd, nil, func(chunk []byte) {
		if chunk == nil {
			mu.Lock()
			heartbeats++
			mu.Unlock()
		}
	}, nil)

	if res.ReturnCode != 0 {
		t.Fatalf("ReturnCode = %d, want 0", res.ReturnCode)
	}
	mu.Lock()
	defer mu.Unlock()
	if heartbeats < 1 {
		t.Fatal("expected at least one heartbeat during a 2s silent sleep")
	}
}

func TestStopSigtermKillsCompliantChild(t *testing.T) {
	s := New(nil)
	cmd := exec.Command("sleep", "30")

	done := make(chan Result, 1)
	var pgid int
	var pgidMu sync.Mutex
	go func() {
		done <- s.Run(context.Background(), cmd, nil, func([]byte) {}, func(pid int) {
			pgidMu.Lock()
			pgid = pid
			pgidMu.Unlock()
		})
	}()

	time.Sleep(100 * time.Millisecond)
	pgidMu.Lock()
	target := pgid
	pgidMu.Unlock()
	if target == 0 {
		t.Fatal("supervisor never reported a pgid")
	}

	alive, err := Stop(target, SIGTERM)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if alive {
		t.Fatal("expected sleep to honor SIGTERM well within its 25s window")
	}

	select {
	case res := <-done:
		if res.ReturnCode == 0 {
			t.Fatalf("expected nonzero exit code from a signaled process, got %d", res.ReturnCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the child was killed")
	}
}
