package materializer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/WINGS-N/unica-wb/internal/config"
	"github.com/WINGS-N/unica-wb/internal/model"
)

type fakeUploads struct {
	byID map[string]*model.UploadSidecar
}

func (f *fakeUploads) GetUpload(_ context.Context, id string) (*model.UploadSidecar, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return u, nil
}
func (f *fakeUploads) MarkUploadUsed(_ context.Context, id string) error {
	f.byID[id].Used = true
	return nil
}

type fakeJobs struct{ reusable *model.Job }

func (f *fakeJobs) FindReusableJob(_ context.Context, sig string, exists func(string) bool) (*model.Job, error) {
	if f.reusable != nil && f.reusable.BuildSignature == sig && exists(f.reusable.ArtifactPath) {
		return f.reusable, nil
	}
	return nil, nil
}

func setupRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "target", "b0s", "source_firmware.sh"), `SOURCE_FIRMWARE="SM-G990B/EUX/G990BXXXX"`)
	mustWrite(t, filepath.Join(root, "target", "b0s", "target_firmware.sh"), `TARGET_FIRMWARE="SM-G990B/EUX/G990BXXXY"`)
	mustWrite(t, filepath.Join(root, "unica", "configs", "version.sh"), "UNICA_VERSION_MAJOR=1\nUNICA_VERSION_MINOR=2\nUNICA_VERSION_PATCH=3\nUNICA_VERSION_SUFFIX=alpha\n")
	mustWrite(t, filepath.Join(root, "target", "b0s", "floating_feature.defaults"), "SEC_FLOATING_FEATURE_COMMON_CONFIG_WIFI=1\n")
	mustWrite(t, filepath.Join(root, "target", "b0s", "debloat_system.list"), "com.example.bloat\n")
	mustWrite(t, filepath.Join(root, "target", "b0s", "debloat_product.list"), "")
	return root
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestMaterializer(t *testing.T, jobs JobFinder) (*Materializer, string) {
	root := setupRepo(t)
	resolver := config.NewResolver(root)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Materializer{
		Resolver:       resolver,
		Uploads:        &fakeUploads{byID: map[string]*model.UploadSidecar{}},
		Jobs:           jobs,
		ArtifactExists: func(string) bool { return false },
		Now:            func() time.Time { return fixed },
	}, root
}

func TestMaterializeUnknownTarget(t *testing.T) {
	m, _ := newTestMaterializer(t, &fakeJobs{})
	_, err := m.Materialize(context.Background(), model.BuildRequest{Target: "nope"})
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestMaterializeAppliesDefaultsAndQueues(t *testing.T) {
	m, _ := newTestMaterializer(t, &fakeJobs{})
	job, err := m.Materialize(context.Background(), model.BuildRequest{Target: "b0s"})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if job.Status != model.StatusQueued {
		t.Fatalf("status = %s, want queued", job.Status)
	}
	if job.SourceFirmware != "SM-G990B/EUX/G990BXXXX" {
		t.Fatalf("SourceFirmware = %q", job.SourceFirmware)
	}
	if job.VersionMajor != 1 || job.VersionMinor != 2 || job.VersionPatch != 3 {
		t.Fatalf("version = %d.%d.%d", job.VersionMajor, job.VersionMinor, job.VersionPatch)
	}
}

func TestMaterializeRejectsUnknownFloatingFeature(t *testing.T) {
	m, _ := newTestMaterializer(t, &fakeJobs{})
	_, err := m.Materialize(context.Background(), model.BuildRequest{
		Target:      "b0s",
		FFOverrides: map[string]string{"SEC_FLOATING_FEATURE_NOT_REAL": "1"},
	})
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestSignatureIsOrderIndependentOverMapKeys(t *testing.T) {
	a := Signature(SignatureInput{Target: "b0s", FFOverrides: map[string]string{"A": "1", "B": "2"}})
	b := Signature(SignatureInput{Target: "b0s", FFOverrides: map[string]string{"B": "2", "A": "1"}})
	if a != b {
		t.Fatalf("signature differs by map iteration order: %s vs %s", a, b)
	}
}

func TestSignatureIgnoresListOrderForSortedSlices(t *testing.T) {
	// ModsDisabled is sorted internally, so caller-side ordering must not
	// change the signature either.
	a := Signature(SignatureInput{Target: "b0s", ModsDisabled: []string{"x", "y"}})
	b := Signature(SignatureInput{Target: "b0s", ModsDisabled: []string{"y", "x"}})
	if a != b {
		t.Fatalf("signature differs by slice order: %s vs %s", a, b)
	}
}

func TestMaterializeReuseDecision(t *testing.T) {
	reusable := &model.Job{ID: "prev", Status: model.StatusSucceeded, ArtifactPath: "/out/UN1CA_b0s.zip"}
	m, _ := newTestMaterializer(t, &fakeJobs{reusable: reusable})
	m.ArtifactExists = func(p string) bool { return p == "/out/UN1CA_b0s.zip" }

	job, err := m.Materialize(context.Background(), model.BuildRequest{Target: "b0s"})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	reusable.BuildSignature = job.BuildSignature // align fixture with the computed signature

	job2, err := m.Materialize(context.Background(), model.BuildRequest{Target: "b0s"})
	if err != nil {
		t.Fatalf("Materialize (2nd): %v", err)
	}
	if job2.Status != model.StatusReused {
		t.Fatalf("status = %s, want reused", job2.Status)
	}
	if job2.ReusedFromJobID != "prev" {
		t.Fatalf("ReusedFromJobID = %s", job2.ReusedFromJobID)
	}
	if job2.StartedAt == nil || job2.FinishedAt == nil || !job2.StartedAt.Equal(*job2.FinishedAt) {
		t.Fatal("expected started_at == finished_at on reuse")
	}
}
