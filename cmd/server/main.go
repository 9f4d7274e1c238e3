package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/omnidocs/docpipe/api/handlers"
	"github.com/omnidocs/docpipe/api/routes"
	"github.com/omnidocs/docpipe/config"
	"github.com/omnidocs/docpipe/internal/repository"
	"github.com/omnidocs/docpipe/internal/scanner"
	"github.com/omnidocs/docpipe/internal/service/processing"
	"github.com/omnidocs/docpipe/internal/service/resumable"
	"github.com/omnidocs/docpipe/internal/service/upload"
	"github.com/omnidocs/docpipe/pkg/logger"
	"github.com/omnidocs/docpipe/pkg/queue"
	"github.com/omnidocs/docpipe/pkg/storage"
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

	var scan scanner.Scanner = scanner.Disabled{}
	if cfg.Scanner.Enabled {
		scan = scanner.NewClamd(cfg.Scanner.ClamdAddr)
	}

	uploadSvc := upload.NewService(store, blobs, q, scan, log.Named("upload"), upload.Config{
		MaxSizeBytes:      cfg.Upload.MaxSizeBytes,
		AllowedMimeTypes:  cfg.Upload.AllowedMimeTypes,
		MaxRetries:        cfg.Worker.MaxRetries,
		ScannerFailClosed: cfg.Scanner.FailClosed,
	})
	sessionSvc := resumable.NewService(store.Sessions, uploadSvc, log.Named("resumable"), resumable.Config{
		StagingDir:   cfg.Upload.StagingDir,
		SessionTTL:   cfg.Upload.SessionTTL,
		MaxSizeBytes: cfg.Upload.MaxSizeBytes,
	})
	jobSvc := processing.NewService(store, blobs, nil, nil, q, log.Named("jobs"), processing.Config{
		ParseTimeout: cfg.Worker.ParseTimeout,
	})

	h := &handlers.Handlers{
		Document: handlers.NewDocumentHandler(uploadSvc, log.Named("http")),
		Session:  handlers.NewSessionHandler(sessionSvc, log.Named("http")),
		Job:      handlers.NewJobHandler(jobSvc, log.Named("http")),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	routes.Setup(r, h)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	go func() {
		log.Info("server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", logger.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", logger.Error(err))
	}
}
