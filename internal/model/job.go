// Package model defines the job record and the shared payload shapes
// that cross the HTTP, queue, store and progress boundaries.
package model

import "time"

// Kind distinguishes a ROM build from an operation job (extract, delete,
// repo clone/pull/submodules/delete, stop).
type Kind string

const (
	KindBuild     Kind = "build"
	KindOperation Kind = "operation"
)

// Status is the job lifecycle state. Exactly one terminal status is
// entered from a non-terminal one and never left.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusReused    Status = "reused"
)

// Terminal reports whether s is one of the statuses a job never leaves.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusReused:
		return true
	}
	return false
}

// Job is the persisted record for a build or operation. Field names
// mirror the job table's columns one-to-one.
type Job struct {
	ID             string `json:"id"`
	Kind           Kind   `json:"kind"`
	OperationName  string `json:"operation_name,omitempty"`
	Target         string `json:"target"`
	SourceCommit   string `json:"source_commit"`
	SourceFirmware string `json:"source_firmware"`
	TargetFirmware string `json:"target_firmware"`

	VersionMajor  int    `json:"version_major"`
	VersionMinor  int    `json:"version_minor"`
	VersionPatch  int    `json:"version_patch"`
	VersionSuffix string `json:"version_suffix"`

	BuildSignature string `json:"build_signature"`
	Force          bool   `json:"force"`
	NoROMZip       bool   `json:"no_rom_zip"`

	Status      Status `json:"status"`
	QueueJobID  string `json:"queue_job_id,omitempty"`
	ProcessPID  int    `json:"process_pid,omitempty"`
	ReturnCode  *int   `json:"return_code,omitempty"`
	Error       string `json:"error,omitempty"`
	LogPath     string `json:"log_path,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`

	ReusedFromJobID string `json:"reused_from_job_id,omitempty"`

	ExtraModsArchivePath  string `json:"extra_mods_archive_path,omitempty"`
	ExtraModsModulesJSON  string `json:"extra_mods_modules_json,omitempty"`
	DebloatDisabledJSON   string `json:"debloat_disabled_json,omitempty"`
	DebloatAddSystemJSON  string `json:"debloat_add_system_json,omitempty"`
	DebloatAddProductJSON string `json:"debloat_add_product_json,omitempty"`
	ModsDisabledJSON      string `json:"mods_disabled_json,omitempty"`
	FFOverridesJSON       string `json:"ff_overrides_json,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Running reports whether the job currently owns a live child process.
func (j *Job) Running() bool {
	return j.Status == StatusRunning && j.ProcessPID != 0
}

// BuildRequest is the materializer's input before defaults and
// validation are applied.
type BuildRequest struct {
	Target         string            `json:"target"`
	SourceFirmware string            `json:"source_firmware,omitempty"`
	TargetFirmware string            `json:"target_firmware,omitempty"`
	VersionMajor   *int              `json:"version_major,omitempty"`
	VersionMinor   *int              `json:"version_minor,omitempty"`
	VersionPatch   *int              `json:"version_patch,omitempty"`
	VersionSuffix  string            `json:"version_suffix,omitempty"`
	Force          bool              `json:"force,omitempty"`
	NoROMZip       bool              `json:"no_rom_zip,omitempty"`
	UploadID       string            `json:"upload_id,omitempty"`
	ModsDisabled   []string          `json:"mods_disabled,omitempty"`
	DebloatDisabled []string         `json:"debloat_disabled,omitempty"`
	DebloatAddSystem []string        `json:"debloat_add_system,omitempty"`
	DebloatAddProduct []string       `json:"debloat_add_product,omitempty"`
	FFOverrides    map[string]string `json:"ff_overrides,omitempty"`
}

// StopRequest is the body of POST /jobs/{id}/stop.
type StopRequest struct {
	SignalType string `json:"signal_type"`
}

// Settings is the git-remote/auth key-value row.
type Settings struct {
	GitRemoteURL  string `json:"git_remote_url,omitempty"`
	GitBranch     string `json:"git_branch,omitempty"`
	GitUsername   string `json:"git_username,omitempty"`
	GitToken      string `json:"-"`
	PasswordHash  string `json:"-"`
	PasswordSalt  string `json:"-"`
}

// AuthEnabled reports whether a password has been configured.
func (s Settings) AuthEnabled() bool {
	return s.PasswordHash != ""
}

// UploadSidecar tracks one uploaded mod archive until it is consumed.
type UploadSidecar struct {
	ID          string   `json:"id"`
	ArchivePath string   `json:"archive_path"`
	Modules     []string `json:"modules"`
	Used        bool     `json:"used"`
}
