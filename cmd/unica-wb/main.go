// Command unica-wb is the HTTP front end: it serves the REST and
// WebSocket surface described by internal/httpapi, backed by the
// SQLite job store and the Redis-backed kv/broker/queue layer. The
// builds and controls queues are drained by the separate
// unica-wb-worker binary.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/WINGS-N/unica-wb/internal/broker"
	"github.com/WINGS-N/unica-wb/internal/cache"
	"github.com/WINGS-N/unica-wb/internal/config"
	"github.com/WINGS-N/unica-wb/internal/httpapi"
	"github.com/WINGS-N/unica-wb/internal/kv"
	"github.com/WINGS-N/unica-wb/internal/materializer"
	"github.com/WINGS-N/unica-wb/internal/metrics"
	"github.com/WINGS-N/unica-wb/internal/queue"
	"github.com/WINGS-N/unica-wb/internal/store"
)

func main() {
	flag.Parse()
	logrus.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.WithField("component", "unica-wb")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	log.Info(cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("failed to open job store")
	}
	defer db.Close()

	kvClient, err := kv.New(cfg.RedisURL, log.WithField("component", "kv"))
	if err != nil {
		log.WithError(err).Fatal("failed to configure redis client")
	}
	defer kvClient.Close()

	b := broker.New(kvClient)
	buildsQueue := queue.NewQueue(kvClient.Raw(), queue.BuildsQueue, log.WithField("queue", "builds"))
	controlsQueue := queue.NewQueue(kvClient.Raw(), queue.ControlsQueue, log.WithField("queue", "controls"))

	var resolver *config.Resolver
	if cfg.Un1caRoot != "" {
		resolver = config.NewResolver(cfg.Un1caRoot)
	} else {
		resolver = config.NewResolver()
	}
	mat := &materializer.Materializer{
		Resolver:       resolver,
		Uploads:        db,
		Jobs:           db,
		ArtifactExists: fileExists,
	}

	reg := metrics.New(prometheus.DefaultRegisterer)
	histogram := cache.NewHistogram(kvClient)

	deps := httpapi.Deps{
		Jobs:           db,
		Uploads:        db,
		Settings:       db,
		Pinger:         db,
		Broker:         b,
		BuildsQueue:    buildsQueue,
		ControlsQueue:  controlsQueue,
		Materializer:   mat,
		Resolver:       resolver,
		Histogram:      histogram,
		Metrics:        reg,
		FirmwareLatest: cache.New(kvClient, cache.FirmwareLatestPrefix, cache.FirmwareLatestTTL, cache.FirmwareLatestRetry),
		DirectorySize:  cache.New(kvClient, cache.DirectorySizePrefix, cache.DirectorySizeTTL, 0),
		RepoInfo:       cache.New(kvClient, cache.RepoInfoPrefix, cache.RepoInfoTTL, 0),
		CommitSnapshot: cache.New(kvClient, cache.CommitSnapshotPrefix, cache.CommitSnapshotTTL, 0),
		OutDir:         cfg.OutDir,
		DataDir:        cfg.DataDir,
		Un1caRoot:      cfg.Un1caRoot,
		Log:            log,
	}

	srv := httpapi.New(deps)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen and serve returned")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received, draining in-flight requests")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown did not complete cleanly")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
