package cleanup

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunRemovesUploadedOverridesAndTmpExtraMods(t *testing.T) {
	un1caRoot := t.TempDir()
	dataDir := t.TempDir()

	modsDir := filepath.Join(un1caRoot, "unica", "mods")
	mustMkdirAll(t, filepath.Join(modsDir, ".uploaded-abc123"))
	mustMkdirAll(t, filepath.Join(modsDir, ".uploaded-def456"))
	mustMkdirAll(t, filepath.Join(modsDir, "kept-mod")) // not a dotfile-uploaded dir

	extraDir := filepath.Join(dataDir, "tmp-extra-mods")
	mustMkdirAll(t, filepath.Join(extraDir, "leftover-1"))
	mustWriteFile(t, filepath.Join(extraDir, "leftover-2.zip"), "x")

	res := Run(un1caRoot, dataDir)

	if res.UploadedOverrides != 2 {
		t.Fatalf("UploadedOverrides = %d, want 2", res.UploadedOverrides)
	}
	if res.TmpExtraMods != 2 {
		t.Fatalf("TmpExtraMods = %d, want 2", res.TmpExtraMods)
	}
	if _, err := os.Stat(filepath.Join(modsDir, "kept-mod")); err != nil {
		t.Fatalf("kept-mod should survive cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(modsDir, ".uploaded-abc123")); !os.IsNotExist(err) {
		t.Fatalf("expected .uploaded-abc123 removed, err=%v", err)
	}
	entries, err := os.ReadDir(extraDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("tmp-extra-mods should be emptied, has %d entries", len(entries))
	}
}

func TestRunToleratesMissingDirectories(t *testing.T) {
	un1caRoot := t.TempDir()
	dataDir := t.TempDir()

	res := Run(un1caRoot, dataDir)
	if res.UploadedOverrides != 0 || res.TmpExtraMods != 0 {
		t.Fatalf("expected zero removals on empty tree, got %+v", res)
	}
}

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
