package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/omnidocs/docpipe/config"
	"github.com/omnidocs/docpipe/internal/chunker"
	"github.com/omnidocs/docpipe/internal/parser"
	"github.com/omnidocs/docpipe/internal/repository"
	"github.com/omnidocs/docpipe/internal/service/processing"
	"github.com/omnidocs/docpipe/internal/service/resumable"
	"github.com/omnidocs/docpipe/pkg/logger"
	"github.com/omnidocs/docpipe/pkg/queue"
	"github.com/omnidocs/docpipe/pkg/storage"
	"github.com/omnidocs/docpipe/pkg/tokenizer"
	"github.com/omnidocs/docpipe/pkg/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Logging.Level),
		logger.WithEncoding(cfg.Logging.Encoding),
		logger.WithOutputPaths(cfg.Logging.OutputPaths),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	store, err := repository.NewStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal("connect database", logger.Error(err))
	}
	defer store.Close()

	blobs, err := storage.New(cfg.Storage, log)
	if err != nil {
		log.Fatal("init content store", logger.Error(err))
	}

	q, err := queue.New(queue.Config{
		RedisAddr:  cfg.Redis.Addr,
		RedisDB:    cfg.Redis.DB,
		MaxRetries: cfg.Worker.MaxRetries,
		Timeout:    cfg.Worker.ParseTimeout,
	})
	if err != nil {
		log.Fatal("connect queue", logger.Error(err))
	}
	defer q.Close()

	codec, err := tokenizer.NewTiktoken()
	if err != nil {
		log.Fatal("init tokenizer", logger.Error(err))
	}
	ch := chunker.New(chunker.Params{
		TargetTokens:  cfg.Chunking.TargetTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
		MinTokens:     cfg.Chunking.MinTokens,
	}, codec)

	svc := processing.NewService(store, blobs,
		parser.NewRegistry(log.Named("parser")), ch, q,
		log.Named("processing"), processing.Config{
			ParseTimeout: cfg.Worker.ParseTimeout,
		})

	// The session sweeper runs here so API nodes stay stateless. The sweep
	// path never completes sessions, so no ingestor is wired.
	sessionSvc := resumable.NewService(store.Sessions, nil, log.Named("resumable"), resumable.Config{
		StagingDir:   cfg.Upload.StagingDir,
		SessionTTL:   cfg.Upload.SessionTTL,
		MaxSizeBytes: cfg.Upload.MaxSizeBytes,
	})
	sweeper, err := resumable.NewSweeper(sessionSvc, cfg.Upload.SweepInterval, log.Named("sweeper"))
	if err != nil {
		log.Fatal("init session sweeper", logger.Error(err))
	}
	sweeper.Start()
	defer sweeper.Stop()

	w := worker.New(worker.Config{
		RedisAddr:      cfg.Redis.Addr,
		RedisDB:        cfg.Redis.DB,
		Concurrency:    cfg.Worker.Concurrency,
		RetryBaseDelay: cfg.Worker.RetryBaseDelay,
		RetryMaxDelay:  cfg.Worker.RetryMaxDelay,
	}, svc, log.Named("worker"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down worker")
		w.Shutdown()
	case err := <-errCh:
		if err != nil {
			log.Error("worker stopped", logger.Error(err))
		}
	}
}
