// Command unica-wb-worker drains the builds and controls queues: one
// build at a time from builds, up to --controls-concurrency control
// operations (stop, firmware delete/extract, repo clone/pull/submodules
// /delete) at once from controls. It shares its SQLite store and Redis
// connection with the unica-wb HTTP front end but never serves HTTP
// itself.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/WINGS-N/unica-wb/internal/broker"
	"github.com/WINGS-N/unica-wb/internal/cleanup"
	"github.com/WINGS-N/unica-wb/internal/config"
	"github.com/WINGS-N/unica-wb/internal/kv"
	"github.com/WINGS-N/unica-wb/internal/process"
	"github.com/WINGS-N/unica-wb/internal/queue"
	"github.com/WINGS-N/unica-wb/internal/store"
	"github.com/WINGS-N/unica-wb/internal/worker"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.WithField("component", "unica-wb-worker")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	cfg.BindWorkerFlags(flag.CommandLine)
	flag.Parse()
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
	if err := b.ClearRepo(ctx); err != nil {
		log.WithError(err).Warn("failed to clear stale repo progress slot at startup")
	}

	var resolver *config.Resolver
	if cfg.Un1caRoot != "" {
		resolver = config.NewResolver(cfg.Un1caRoot)
	} else {
		resolver = config.NewResolver()
	}
	sup := process.New(log.WithField("component", "process"))

	cleanup.Run(cfg.Un1caRoot, cfg.DataDir)

	jobRunner := &worker.JobRunner{
		Store:      db,
		Broker:     b,
		Resolver:   resolver,
		Supervisor: sup,
		Un1caRoot:  cfg.Un1caRoot,
		OutDir:     cfg.OutDir,
		DataDir:    cfg.DataDir,
		LogsDir:    cfg.LogsDir,
		Log:        log.WithField("component", "build"),
	}
	controlRunner := &worker.ControlRunner{
		Store:      db,
		Broker:     b,
		Resolver:   resolver,
		Supervisor: sup,
		Un1caRoot:  cfg.Un1caRoot,
		OutDir:     cfg.OutDir,
		Log:        log.WithField("component", "control"),
	}

	buildsQueue := queue.NewQueue(kvClient.Raw(), queue.BuildsQueue, log.WithField("queue", "builds"))
	controlsQueue := queue.NewQueue(kvClient.Raw(), queue.ControlsQueue, log.WithField("queue", "controls"))

	buildsDispatcher := queue.NewDispatcher(buildsQueue, cfg.BuildsQueueConcurrency, queue.BuildsTimeout, log.WithField("dispatcher", "builds"))
	buildsDispatcher.Register("build", jobRunner.Handle)

	controlsDispatcher := queue.NewDispatcher(controlsQueue, cfg.ControlsQueueConcurrency, queue.ControlsTimeout, log.WithField("dispatcher", "controls"))
	controlsDispatcher.Register("stop", controlRunner.HandleStop)
	controlsDispatcher.Register("delete_firmware", controlRunner.HandleDeleteFirmware)
	controlsDispatcher.Register("extract_firmware", controlRunner.HandleExtractFirmware)
	controlsDispatcher.Register("repo_clone", controlRunner.HandleRepoClone)
	controlsDispatcher.Register("repo_pull", controlRunner.HandleRepoPull)
	controlsDispatcher.Register("repo_submodules", controlRunner.HandleRepoSubmodules)
	controlsDispatcher.Register("repo_delete", controlRunner.HandleRepoDelete)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); buildsDispatcher.Run(ctx) }()
	go func() { defer wg.Done(); controlsDispatcher.Run(ctx) }()

	log.Info("worker dispatchers running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received, draining in-flight dispatcher items")
	cancel()
	wg.Wait()
}
