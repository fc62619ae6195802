package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/WINGS-N/unica-wb/internal/model"
)

// InsertUpload records a freshly accepted mod archive upload.
func (s *Store) InsertUpload(ctx context.Context, u *model.UploadSidecar) error {
	modulesJSON, err := json.Marshal(u.Modules)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO upload_sidecars (id, archive_path, modules_json, used) VALUES (?, ?, ?, ?)`,
		u.ID, u.ArchivePath, string(modulesJSON), u.Used)
	return err
}

// GetUpload fetches an upload sidecar by id.
func (s *Store) GetUpload(ctx context.Context, id string) (*model.UploadSidecar, error) {
	var u model.UploadSidecar
	var modulesJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, archive_path, modules_json, used FROM upload_sidecars WHERE id = ?`, id,
	).Scan(&u.ID, &u.ArchivePath, &modulesJSON, &u.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(modulesJSON), &u.Modules); err != nil {
		return nil, err
	}
	return &u, nil
}

// MarkUploadUsed transitions used from false to true. It is a no-op
// (not an error) if already used, consistent with the invariant that
// the flag only ever moves false→true.
func (s *Store) MarkUploadUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE upload_sidecars SET used = 1 WHERE id = ? AND used = 0`, id)
	return err
}
