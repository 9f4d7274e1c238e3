// Package worker is the asynq consumer side: a server with a bounded pool of
// goroutines pulling parse tasks off Redis.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/omnidocs/docpipe/pkg/logger"
	"github.com/omnidocs/docpipe/pkg/queue"
)

// Handler processes one delivery of a parse task.
type Handler interface {
	HandleParse(ctx context.Context, t *asynq.Task) error
}

// Config carries the consumer settings.
type Config struct {
	RedisAddr      string
	RedisDB        int
	Concurrency    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Worker wraps the asynq server lifecycle.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    logger.Logger
}

// New builds a worker with exponential retry backoff: base doubles per
// attempt and is capped at RetryMaxDelay.
func New(cfg Config, h Handler, log logger.Logger) *Worker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := cfg.RetryBaseDelay << n
				if delay > cfg.RetryMaxDelay || delay <= 0 {
					delay = cfg.RetryMaxDelay
				}
				return delay
			},
			Logger: asynqLogger{log.Named("asynq")},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypeParseDocument, h.HandleParse)

	return &Worker{server: server, mux: mux, log: log}
}

// Run blocks until Shutdown is called or the server fails.
func (w *Worker) Run() error {
	w.log.Info("worker starting")
	return w.server.Run(w.mux)
}

// Shutdown waits for in-flight tasks to finish, then stops the server.
func (w *Worker) Shutdown() {
	w.log.Info("worker stopping")
	w.server.Shutdown()
}

// asynqLogger adapts our logger to asynq's.
type asynqLogger struct {
	log logger.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(format(args)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info(format(args)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(format(args)) }
func (l asynqLogger) Error(args ...any) { l.log.Error(format(args)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Fatal(format(args)) }

func format(args []any) string {
	return fmt.Sprint(args...)
}
