// Package materializer merges a build request with on-disk defaults,
// validates it against the repository's catalogs, computes its build
// signature and decides whether it can be satisfied by reusing a prior
// artifact.
package materializer

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/WINGS-N/unica-wb/internal/config"
	"github.com/WINGS-N/unica-wb/internal/model"
)

// ValidationError reports a 400-class input problem; it never reaches
// the job table.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// UploadStore is the narrow upload-sidecar slice of store.Store the
// materializer needs, kept as an interface so it can be exercised with
// a fake in tests.
type UploadStore interface {
	GetUpload(ctx context.Context, id string) (*model.UploadSidecar, error)
	MarkUploadUsed(ctx context.Context, id string) error
}

// JobFinder is the narrow job-lookup slice of store.Store the reuse
// decision needs.
type JobFinder interface {
	FindReusableJob(ctx context.Context, signature string, artifactExists func(string) bool) (*model.Job, error)
}

// Materializer turns a BuildRequest into a ready-to-persist Job.
type Materializer struct {
	Resolver    *config.Resolver
	Uploads     UploadStore
	Jobs        JobFinder
	ArtifactExists func(path string) bool
	Now         func() time.Time
}

var ffKeyRe = regexp.MustCompile(`^SEC_FLOATING_FEATURE_[A-Z0-9_]+$`)

// Materialize runs the full §4.4 pipeline: resolve target, apply
// defaults, validate every override list, compute the signature and
// decide reuse vs. queue. On reuse it returns a fully terminal job
// (status=reused) ready for direct insertion; otherwise a queued job
// ready for enqueue.
func (m *Materializer) Materialize(ctx context.Context, req model.BuildRequest) (*model.Job, error) {
	codenames, err := m.Resolver.TargetCodenames()
	if err != nil {
		return nil, err
	}
	if !contains(codenames, req.Target) {
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown target %q", req.Target)}
	}

	defaults, err := m.Resolver.DefaultsFor(req.Target)
	if err != nil {
		return nil, err
	}

	sourceFirmware := req.SourceFirmware
	if sourceFirmware == "" {
		sourceFirmware = defaults.SourceFirmware
	}
	targetFirmware := req.TargetFirmware
	if targetFirmware == "" {
		targetFirmware = defaults.TargetFirmware
	}
	major := valueOr(req.VersionMajor, defaults.VersionMajor)
	minor := valueOr(req.VersionMinor, defaults.VersionMinor)
	patch := valueOr(req.VersionPatch, defaults.VersionPatch)
	suffix := req.VersionSuffix
	if suffix == "" {
		suffix = defaults.VersionSuffix
	}

	var extraModsModules []string
	extraModsArchivePath := ""
	if req.UploadID != "" {
		up, err := m.Uploads.GetUpload(ctx, req.UploadID)
		if err != nil {
			return nil, &ValidationError{Msg: "upload not found"}
		}
		if up.Used {
			return nil, &ValidationError{Msg: "upload already used"}
		}
		if !m.ArtifactExists(up.ArchivePath) {
			return nil, &ValidationError{Msg: "upload archive is gone"}
		}
		if err := m.Uploads.MarkUploadUsed(ctx, req.UploadID); err != nil {
			return nil, err
		}
		extraModsModules = up.Modules
		extraModsArchivePath = up.ArchivePath
	}

	root, err := m.Resolver.RepoRoot()
	if err != nil {
		return nil, err
	}

	modCatalog, err := loadModCatalog(root)
	if err != nil {
		return nil, err
	}
	for _, id := range req.ModsDisabled {
		if !modCatalog[id] {
			return nil, &ValidationError{Msg: fmt.Sprintf("unknown mod id %q", id)}
		}
	}

	debloatSystem, debloatProduct, err := loadDebloatCatalog(root, req.Target)
	if err != nil {
		return nil, err
	}
	debloatKnown := toSet(debloatSystem, debloatProduct)
	for _, id := range req.DebloatDisabled {
		if !debloatKnown[id] {
			return nil, &ValidationError{Msg: fmt.Sprintf("unknown debloat id %q", id)}
		}
	}
	for _, p := range append(append([]string{}, req.DebloatAddSystem...), req.DebloatAddProduct...) {
		if containsNewlineOrQuote(p) {
			return nil, &ValidationError{Msg: fmt.Sprintf("invalid debloat path %q", p)}
		}
	}

	ffDefaults, err := loadFloatingFeatureDefaults(root, req.Target)
	if err != nil {
		return nil, err
	}
	for k := range req.FFOverrides {
		if !ffKeyRe.MatchString(k) {
			return nil, &ValidationError{Msg: fmt.Sprintf("invalid floating feature key %q", k)}
		}
		if _, ok := ffDefaults[k]; !ok {
			return nil, &ValidationError{Msg: fmt.Sprintf("unknown floating feature key %q", k)}
		}
	}

	sig := Signature(SignatureInput{
		Target:            req.Target,
		SourceCommit:      currentSourceCommit(root),
		SourceFirmware:    sourceFirmware,
		TargetFirmware:    targetFirmware,
		VersionMajor:       major,
		VersionMinor:       minor,
		VersionPatch:       patch,
		VersionSuffix:      suffix,
		ExtraModsModules:   extraModsModules,
		ModsDisabled:       req.ModsDisabled,
		DebloatDisabled:    req.DebloatDisabled,
		DebloatAddSystem:   req.DebloatAddSystem,
		DebloatAddProduct:  req.DebloatAddProduct,
		FFOverrides:        req.FFOverrides,
	})

	now := m.now()
	job := &model.Job{
		ID:                    uuid.NewString(),
		Kind:                  model.KindBuild,
		Target:                req.Target,
		SourceCommit:          currentSourceCommit(root),
		SourceFirmware:        sourceFirmware,
		TargetFirmware:        targetFirmware,
		VersionMajor:          major,
		VersionMinor:          minor,
		VersionPatch:          patch,
		VersionSuffix:         suffix,
		BuildSignature:        sig,
		Force:                 req.Force,
		NoROMZip:              req.NoROMZip,
		ExtraModsArchivePath:  extraModsArchivePath,
		ExtraModsModulesJSON:  marshalOrEmpty(extraModsModules),
		ModsDisabledJSON:      marshalOrEmpty(req.ModsDisabled),
		DebloatDisabledJSON:   marshalOrEmpty(req.DebloatDisabled),
		DebloatAddSystemJSON:  marshalOrEmpty(req.DebloatAddSystem),
		DebloatAddProductJSON: marshalOrEmpty(req.DebloatAddProduct),
		FFOverridesJSON:       marshalOrEmpty(req.FFOverrides),
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if !req.Force && !req.NoROMZip {
		reusable, err := m.Jobs.FindReusableJob(ctx, sig, m.ArtifactExists)
		if err != nil {
			return nil, err
		}
		if reusable != nil {
			job.Status = model.StatusReused
			job.ReusedFromJobID = reusable.ID
			job.ArtifactPath = reusable.ArtifactPath
			job.StartedAt = &now
			job.FinishedAt = &now
			if extraModsArchivePath != "" {
				_ = os.Remove(extraModsArchivePath)
			}
			return job, nil
		}
	}

	job.Status = model.StatusQueued
	return job, nil
}

func (m *Materializer) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func toSet(lists ...[]string) map[string]bool {
	out := map[string]bool{}
	for _, l := range lists {
		for _, v := range l {
			out[v] = true
		}
	}
	return out
}

func containsNewlineOrQuote(s string) bool {
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '"' {
			return true
		}
	}
	return false
}

func valueOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}
