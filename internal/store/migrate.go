package store

import (
	"context"
	"fmt"
)

// expectedColumn is one column this service expects build_jobs to carry,
// together with the DDL fragment to add it if missing.
type expectedColumn struct {
	name string
	ddl  string
}

// buildJobsColumns lists every column the current job record needs, in
// the order the table was grown historically. New columns are always
// appended to this list, never inserted earlier or renamed — the whole
// point of forward-only migration is that an older deployment's rows
// never need a backfill beyond their declared default.
var buildJobsColumns = []expectedColumn{
	{"id", "TEXT"},
	{"kind", "TEXT NOT NULL DEFAULT 'build'"},
	{"operation_name", "TEXT NOT NULL DEFAULT ''"},
	{"target", "TEXT NOT NULL DEFAULT ''"},
	{"source_commit", "TEXT NOT NULL DEFAULT ''"},
	{"source_firmware", "TEXT NOT NULL DEFAULT ''"},
	{"target_firmware", "TEXT NOT NULL DEFAULT ''"},
	{"version_major", "INTEGER NOT NULL DEFAULT 0"},
	{"version_minor", "INTEGER NOT NULL DEFAULT 0"},
	{"version_patch", "INTEGER NOT NULL DEFAULT 0"},
	{"version_suffix", "TEXT NOT NULL DEFAULT ''"},
	{"build_signature", "TEXT NOT NULL DEFAULT ''"},
	{"force", "INTEGER NOT NULL DEFAULT 0"},
	{"no_rom_zip", "INTEGER NOT NULL DEFAULT 0"},
	{"status", "TEXT NOT NULL DEFAULT 'queued'"},
	{"queue_job_id", "TEXT NOT NULL DEFAULT ''"},
	{"process_pid", "INTEGER NOT NULL DEFAULT 0"},
	{"return_code", "INTEGER"},
	{"error", "TEXT NOT NULL DEFAULT ''"},
	{"log_path", "TEXT NOT NULL DEFAULT ''"},
	{"artifact_path", "TEXT NOT NULL DEFAULT ''"},
	{"reused_from_job_id", "TEXT NOT NULL DEFAULT ''"},
	{"extra_mods_archive_path", "TEXT NOT NULL DEFAULT ''"},
	{"extra_mods_modules_json", "TEXT NOT NULL DEFAULT ''"},
	{"debloat_disabled_json", "TEXT NOT NULL DEFAULT ''"},
	{"debloat_add_system_json", "TEXT NOT NULL DEFAULT ''"},
	{"debloat_add_product_json", "TEXT NOT NULL DEFAULT ''"},
	{"mods_disabled_json", "TEXT NOT NULL DEFAULT ''"},
	{"ff_overrides_json", "TEXT NOT NULL DEFAULT ''"},
	{"created_at", "TEXT NOT NULL DEFAULT ''"},
	{"updated_at", "TEXT NOT NULL DEFAULT ''"},
	{"started_at", "TEXT"},
	{"finished_at", "TEXT"},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS build_jobs (
			id TEXT PRIMARY KEY
		)`); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS upload_sidecars (
			id           TEXT PRIMARY KEY,
			archive_path TEXT NOT NULL,
			modules_json TEXT NOT NULL DEFAULT '[]',
			used         INTEGER NOT NULL DEFAULT 0
		)`); err != nil {
		return err
	}

	existing, err := s.existingColumns(ctx, "build_jobs")
	if err != nil {
		return err
	}

	signatureColumnIsNew := false
	for _, col := range buildJobsColumns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE build_jobs ADD COLUMN %s %s`, col.name, col.ddl)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", col.name, err)
		}
		if col.name == "build_signature" {
			signatureColumnIsNew = true
		}
	}

	// The index is created only when build_signature is introduced, per
	// the forward-only contract; CREATE INDEX IF NOT EXISTS makes it a
	// no-op on later startups regardless.
	if signatureColumnIsNew {
		if _, err := s.db.ExecContext(ctx,
			`CREATE INDEX IF NOT EXISTS ix_build_jobs_build_signature ON build_jobs(build_signature)`); err != nil {
			return fmt.Errorf("create build_signature index: %w", err)
		}
	}
	return nil
}

func (s *Store) existingColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
