package hints

import (
	"strings"
	"testing"
)

func TestDetectMatchesKnownSignatures(t *testing.T) {
	cases := []struct {
		name    string
		log     string
		wantID  string
	}{
		{"loop device", "error: failed to setup loop device for system.img", "loop-device"},
		{"git identity", "fatal: unable to auto-detect email address", "git-identity"},
		{"pkg-config", "CMake Error: Could NOT find PkgConfig (missing: PKG_CONFIG_EXECUTABLE)", "pkg-config-missing"},
		{"fmt missing", "Could not find a package configuration file provided by fmt-config.cmake", "fmt-missing"},
		{"patch failed", "patch does not apply cleanly to framework.jar", "patch-failed"},
		{"samloader 400", "samloader: DownloadBinaryInform returned 400", "samloader-400"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			found := Detect(c.log)
			if len(found) != 1 || found[0].ID != c.wantID {
				t.Fatalf("Detect(%q) = %+v, want single hint %q", c.log, found, c.wantID)
			}
		})
	}
}

func TestDetectReturnsNoneForCleanLog(t *testing.T) {
	if got := Detect("BUILD SUCCESSFUL in 42m\n"); len(got) != 0 {
		t.Fatalf("Detect = %v, want empty", got)
	}
}

func TestDetectReturnsMultipleMatches(t *testing.T) {
	log := "patch does not apply\nfailed to setup loop device\n"
	got := Detect(log)
	if len(got) != 2 {
		t.Fatalf("Detect = %v, want 2 hints", got)
	}
}

func TestTailTruncatesToMaxLogBytes(t *testing.T) {
	big := strings.Repeat("x", MaxLogBytes+100)
	tail := Tail(big)
	if len(tail) != MaxLogBytes {
		t.Fatalf("len(Tail) = %d, want %d", len(tail), MaxLogBytes)
	}
}

func TestTailPassesThroughShortLogs(t *testing.T) {
	short := "hello"
	if Tail(short) != short {
		t.Fatalf("Tail(%q) = %q, want unchanged", short, Tail(short))
	}
}
