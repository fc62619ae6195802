package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/WINGS-N/unica-wb/internal/hints"
	"github.com/WINGS-N/unica-wb/internal/materializer"
	"github.com/WINGS-N/unica-wb/internal/model"
	"github.com/WINGS-N/unica-wb/internal/store"
)

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.deps.Materializer.Materialize(r.Context(), req)
	if err != nil {
		var verr *materializer.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.log.WithError(err).Error("materialize failed")
		writeError(w, http.StatusInternalServerError, "failed to materialize build request")
		return
	}

	if err := s.deps.Jobs.InsertJob(r.Context(), job); err != nil {
		s.log.WithError(err).Error("insert job failed")
		writeError(w, http.StatusInternalServerError, "failed to persist job")
		return
	}

	if job.Status == model.StatusQueued {
		queueID, err := s.deps.BuildsQueue.Enqueue(r.Context(), "build", map[string]string{"job_id": job.ID})
		if err != nil {
			s.log.WithError(err).Error("enqueue build failed")
			writeError(w, http.StatusInternalServerError, "failed to enqueue build")
			return
		}
		job.QueueJobID = queueID
		if err := s.deps.Jobs.UpdateJob(r.Context(), job); err != nil {
			s.log.WithError(err).Error("update job with queue id failed")
		}
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.JobsTotal.WithLabelValues(string(job.Kind), string(job.Status)).Inc()
	}

	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	jobs, err := s.deps.Jobs.ListJobs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.deps.Jobs.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job.Status.Terminal() {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(job.Status)})
		return
	}

	var req model.StopRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // empty body is valid: default sigterm
	if req.SignalType == "" {
		req.SignalType = "sigterm"
	}
	if req.SignalType != "sigterm" && req.SignalType != "sigkill" {
		writeError(w, http.StatusBadRequest, "signal_type must be sigterm or sigkill")
		return
	}

	if _, err := s.deps.ControlsQueue.Enqueue(r.Context(), "stop", map[string]string{
		"job_id":      id,
		"signal_type": req.SignalType,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue stop")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stop_requested"})
}

func (s *Server) handleJobArtifact(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	serveArtifact(w, r, job.ArtifactPath)
}

func (s *Server) handleLatestArtifact(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	job, err := s.deps.Jobs.LatestArtifactJob(r.Context(), target, artifactExists)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load latest artifact")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "no artifact available for target")
		return
	}
	serveArtifact(w, r, job.ArtifactPath)
}

func artifactExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func serveArtifact(w http.ResponseWriter, r *http.Request, path string) {
	if path == "" {
		writeError(w, http.StatusNotFound, "no artifact recorded")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "artifact file is missing")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	http.ServeFile(w, r, path)
}

func (s *Server) handleJobHints(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job.LogPath == "" {
		writeJSON(w, http.StatusOK, []hints.Hint{})
		return
	}
	raw, err := os.ReadFile(job.LogPath)
	if err != nil {
		writeJSON(w, http.StatusOK, []hints.Hint{})
		return
	}
	writeJSON(w, http.StatusOK, hints.Detect(hints.Tail(string(raw))))
}
