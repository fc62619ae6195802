// Package httpapi is the request-handling front end: HTTP REST
// endpoints, WebSocket progress/log streams and SSE log tails, CORS,
// a latency-recording middleware and bearer-token auth, mounted on a
// chi router the way the upstream handler server wires its routes.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/WINGS-N/unica-wb/internal/broker"
	"github.com/WINGS-N/unica-wb/internal/cache"
	"github.com/WINGS-N/unica-wb/internal/config"
	"github.com/WINGS-N/unica-wb/internal/materializer"
	"github.com/WINGS-N/unica-wb/internal/metrics"
	"github.com/WINGS-N/unica-wb/internal/model"
	"github.com/WINGS-N/unica-wb/internal/queue"
)

// SettingsStore is the narrow settings slice of store.Store the auth
// and repo-credential handlers need.
type SettingsStore interface {
	GetSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// JobStore is the narrow job slice of store.Store the HTTP layer needs.
type JobStore interface {
	InsertJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*model.Job, error)
	UpdateJob(ctx context.Context, j *model.Job) error
	LatestArtifactJob(ctx context.Context, target string, artifactExists func(string) bool) (*model.Job, error)
}

// UploadStore is the narrow upload-sidecar slice of store.Store.
type UploadStore interface {
	InsertUpload(ctx context.Context, u *model.UploadSidecar) error
	GetUpload(ctx context.Context, id string) (*model.UploadSidecar, error)
}

// Deps bundles every collaborator the HTTP surface needs, wired once at
// process start by cmd/unica-wb.
type Deps struct {
	Jobs     JobStore
	Uploads  UploadStore
	Settings SettingsStore
	Pinger   interface{ Ping(ctx context.Context) error } // the store's readiness ping

	Broker       *broker.Broker
	BuildsQueue  *queue.Queue
	ControlsQueue *queue.Queue
	Materializer *materializer.Materializer
	Resolver     *config.Resolver
	Histogram    *cache.Histogram
	Metrics      *metrics.Registry

	FirmwareLatest *cache.Cache
	DirectorySize  *cache.Cache
	RepoInfo       *cache.Cache
	CommitSnapshot *cache.Cache

	OutDir    string
	DataDir   string
	Un1caRoot string

	Log *logrus.Entry
}

// Server holds the router and its dependencies.
type Server struct {
	deps Deps
	log  *logrus.Entry
}

// New builds a Server, ready to have its Router mounted.
func New(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{deps: deps, log: log}
}

// Router assembles the chi mux: CORS, then the latency recorder, then
// bearer-token auth (skipped for health/auth/login and metrics), then
// every route.
func (s *Server) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.latencyMiddleware)
	r.Use(s.authMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/password", s.handleSetPassword)

	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Post("/jobs/{id}/stop", s.handleStopJob)
	r.Get("/jobs/{id}/artifact", s.handleJobArtifact)
	r.Get("/jobs/{id}/hints", s.handleJobHints)
	r.Get("/jobs/{id}/logs", s.handleJobLogsSSE)
	r.Get("/jobs/{id}/ws", s.handleJobWS)

	r.Get("/artifacts/latest/{target}", s.handleLatestArtifact)

	r.Get("/firmware/progress/ws", s.handleFirmwareProgressWS)
	r.Get("/build/progress/ws", s.handleBuildProgressWS)
	r.Get("/repo/progress/ws", s.handleRepoProgressWS)

	r.Get("/defaults", s.handleDefaults)

	r.Get("/firmware/samsung", s.handleFirmwareList)
	r.Delete("/firmware/samsung/{fw_type}/{fw_key}", s.handleFirmwareDelete)
	r.Post("/firmware/samsung/{fw_key}/extract", s.handleFirmwareExtract)

	r.Post("/mods/upload", s.handleModsUpload)

	r.Post("/repo/clone", s.handleRepoOp("clone"))
	r.Post("/repo/pull", s.handleRepoOp("pull"))
	r.Post("/repo/submodules", s.handleRepoOp("submodules"))
	r.Delete("/repo", s.handleRepoDelete)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// nowFunc supplies the current time for token and cache checks; it is a
// variable so tests can replace it.
var nowFunc = func() time.Time { return time.Now().UTC() }
