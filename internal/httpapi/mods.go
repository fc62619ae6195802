package httpapi

import (
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/WINGS-N/unica-wb/internal/archive"
	"github.com/WINGS-N/unica-wb/internal/model"
)

const modsUploadChunkSize = 1 << 20 // 1 MiB

// handleModsUpload accepts a multipart mod archive, streams it to disk
// in fixed-size chunks rather than buffering the whole body, validates
// it by actually extracting and discovering its module layout, and
// records an upload sidecar the next build request can reference by
// id instead of re-uploading.
func (s *Server) handleModsUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("archive")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing archive field")
		return
	}
	defer file.Close()

	id := uuid.NewString()
	uploadDir := filepath.Join(s.deps.DataDir, "tmp-extra-mods", id)
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to prepare upload directory")
		return
	}

	archivePath := filepath.Join(uploadDir, filepath.Base(header.Filename))
	if err := streamToFile(archivePath, file); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	extractDir := filepath.Join(uploadDir, "extracted")
	mods, err := archive.Extract(archivePath, extractDir)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mod archive: "+err.Error())
		return
	}

	names := make([]string, 0, len(mods))
	for _, m := range mods {
		names = append(names, filepath.Base(m.Dir))
	}

	sidecar := &model.UploadSidecar{ID: id, ArchivePath: archivePath, Modules: names}
	if err := s.deps.Uploads.InsertUpload(r.Context(), sidecar); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record upload")
		return
	}

	writeJSON(w, http.StatusCreated, sidecar)
}

// streamToFile copies src to path in fixed-size chunks so an oversized
// upload never has to be held entirely in memory.
func streamToFile(path string, src io.Reader) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, modsUploadChunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
