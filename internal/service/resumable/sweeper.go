package resumable

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omnidocs/docpipe/pkg/logger"
)

const sweepBatch = 100

// Sweeper periodically expires overdue sessions. It runs inside the worker
// process so the API nodes stay stateless.
type Sweeper struct {
	cron *cron.Cron
	svc  *Service
	log  logger.Logger
}

func NewSweeper(svc *Service, interval time.Duration, log logger.Logger) (*Sweeper, error) {
	s := &Sweeper{
		cron: cron.New(),
		svc:  svc,
		log:  log,
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.run)
	if err != nil {
		return nil, fmt.Errorf("schedule session sweep: %w", err)
	}
	return s, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for {
		n, err := s.svc.SweepExpired(ctx, sweepBatch)
		if err != nil {
			s.log.Error("session sweep", logger.Error(err))
			return
		}
		if n < sweepBatch {
			return
		}
	}
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
