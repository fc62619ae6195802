package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/WINGS-N/unica-wb/internal/model"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("store: not found")

const jobColumns = `id, kind, operation_name, target, source_commit, source_firmware, target_firmware,
	version_major, version_minor, version_patch, version_suffix,
	build_signature, force, no_rom_zip, status, queue_job_id, process_pid,
	return_code, error, log_path, artifact_path, reused_from_job_id,
	extra_mods_archive_path, extra_mods_modules_json, debloat_disabled_json,
	debloat_add_system_json, debloat_add_product_json, mods_disabled_json,
	ff_overrides_json, created_at, updated_at, started_at, finished_at`

// InsertJob writes a new job row. CreatedAt/UpdatedAt are stamped by the
// caller (the materializer), never defaulted here, so the store stays a
// dumb persistence layer.
func (s *Store) InsertJob(ctx context.Context, j *model.Job) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO build_jobs (`+jobColumns+`) VALUES (
		?,?,?,?,?,?,?, ?,?,?,?, ?,?,?,?,?,?, ?,?,?,?,?, ?,?,?, ?,?,?, ?,?,?,?,?)`,
		j.ID, j.Kind, j.OperationName, j.Target, j.SourceCommit, j.SourceFirmware, j.TargetFirmware,
		j.VersionMajor, j.VersionMinor, j.VersionPatch, j.VersionSuffix,
		j.BuildSignature, j.Force, j.NoROMZip, j.Status, j.QueueJobID, j.ProcessPID,
		nullableInt(j.ReturnCode), j.Error, j.LogPath, j.ArtifactPath, j.ReusedFromJobID,
		j.ExtraModsArchivePath, j.ExtraModsModulesJSON, j.DebloatDisabledJSON,
		j.DebloatAddSystemJSON, j.DebloatAddProductJSON, j.ModsDisabledJSON,
		j.FFOverridesJSON, formatTime(j.CreatedAt), formatTime(j.UpdatedAt),
		formatTimePtr(j.StartedAt), formatTimePtr(j.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("store: insert job %s: %w", j.ID, err)
	}
	return nil
}

// GetJob fetches a single job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM build_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// ListJobs returns the most recent jobs, newest first, capped at limit.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM build_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// FindReusableJob returns the most recent succeeded-or-reused job with
// the given signature whose artifact file still exists, or nil.
func (s *Store) FindReusableJob(ctx context.Context, signature string, artifactExists func(path string) bool) (*model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM build_jobs
		 WHERE build_signature = ? AND status IN ('succeeded', 'reused') AND artifact_path <> ''
		 ORDER BY created_at DESC`, signature)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		if artifactExists(j.ArtifactPath) {
			return j, nil
		}
	}
	return nil, rows.Err()
}

// LatestArtifactJob returns the most recently finished succeeded-or-
// reused job for target whose artifact file still exists, or nil.
func (s *Store) LatestArtifactJob(ctx context.Context, target string, artifactExists func(path string) bool) (*model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM build_jobs
		 WHERE target = ? AND status IN ('succeeded', 'reused') AND artifact_path <> ''
		 ORDER BY finished_at DESC, created_at DESC`, target)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		if artifactExists(j.ArtifactPath) {
			return j, nil
		}
	}
	return nil, rows.Err()
}

// UpdateJob overwrites every mutable column of an existing row.
func (s *Store) UpdateJob(ctx context.Context, j *model.Job) error {
	res, err := s.db.ExecContext(ctx, `UPDATE build_jobs SET
		status = ?, queue_job_id = ?, process_pid = ?, return_code = ?, error = ?,
		log_path = ?, artifact_path = ?, reused_from_job_id = ?, updated_at = ?,
		started_at = ?, finished_at = ?
		WHERE id = ?`,
		j.Status, j.QueueJobID, j.ProcessPID, nullableInt(j.ReturnCode), j.Error,
		j.LogPath, j.ArtifactPath, j.ReusedFromJobID, formatTime(j.UpdatedAt),
		formatTimePtr(j.StartedAt), formatTimePtr(j.FinishedAt), j.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update job %s: %w", j.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var createdAt, updatedAt string
	var startedAt, finishedAt sql.NullString
	var returnCode sql.NullInt64

	err := row.Scan(
		&j.ID, &j.Kind, &j.OperationName, &j.Target, &j.SourceCommit, &j.SourceFirmware, &j.TargetFirmware,
		&j.VersionMajor, &j.VersionMinor, &j.VersionPatch, &j.VersionSuffix,
		&j.BuildSignature, &j.Force, &j.NoROMZip, &j.Status, &j.QueueJobID, &j.ProcessPID,
		&returnCode, &j.Error, &j.LogPath, &j.ArtifactPath, &j.ReusedFromJobID,
		&j.ExtraModsArchivePath, &j.ExtraModsModulesJSON, &j.DebloatDisabledJSON,
		&j.DebloatAddSystemJSON, &j.DebloatAddProductJSON, &j.ModsDisabledJSON,
		&j.FFOverridesJSON, &createdAt, &updatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	if startedAt.Valid && startedAt.String != "" {
		t := parseTime(startedAt.String)
		j.StartedAt = &t
	}
	if finishedAt.Valid && finishedAt.String != "" {
		t := parseTime(finishedAt.String)
		j.FinishedAt = &t
	}
	if returnCode.Valid {
		rc := int(returnCode.Int64)
		j.ReturnCode = &rc
	}
	return &j, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
