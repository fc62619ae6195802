package httpapi

import (
	"context"
	"net/http"

	"github.com/WINGS-N/unica-wb/internal/materializer"
)

// currentSourceCommitForAPI mirrors the materializer's own commit
// resolution so the defaults endpoint's cached snapshot always agrees
// with whatever a build just pinned into its signature.
func currentSourceCommitForAPI(un1caRoot string) string {
	return materializer.CurrentSourceCommit(un1caRoot)
}

// handleRepoOp returns a handler that enqueues a named repo operation
// (clone, pull, submodules) onto the controls queue and invalidates
// the cached repo-info and commit snapshots so the next read picks up
// the change instead of serving a stale cache entry.
func (s *Server) handleRepoOp(operation string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.deps.ControlsQueue.Enqueue(r.Context(), "repo_"+operation, map[string]string{}); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to enqueue repo operation")
			return
		}
		s.invalidateRepoCaches(r.Context())
		writeJSON(w, http.StatusAccepted, map[string]string{"status": operation + "_requested"})
	}
}

// handleRepoDelete removes the checked-out source tree. mode=repo_only
// leaves build output intact; mode=repo_with_out also drops OutDir.
func (s *Server) handleRepoDelete(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = "repo_only"
	}
	if mode != "repo_only" && mode != "repo_with_out" {
		writeError(w, http.StatusBadRequest, "mode must be repo_only or repo_with_out")
		return
	}

	if _, err := s.deps.ControlsQueue.Enqueue(r.Context(), "repo_delete", map[string]string{"mode": mode}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue repo delete")
		return
	}
	s.invalidateRepoCaches(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "delete_requested"})
}

func (s *Server) invalidateRepoCaches(ctx context.Context) {
	if s.deps.RepoInfo != nil {
		_ = s.deps.RepoInfo.Invalidate(ctx, "repo")
	}
	if s.deps.CommitSnapshot != nil {
		_ = s.deps.CommitSnapshot.Invalidate(ctx, "repo")
	}
}
