package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"blogreplay/internal/replay"
)

const replayTickTimeout = 15 * time.Minute

// Scheduler runs the replay engine on a cron cadence in serve mode.
type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	spec   string
	engine *replay.Engine
	log    *slog.Logger
}

func New(ctx context.Context, spec string, engine *replay.Engine, log *slog.Logger) *Scheduler {
	return &Scheduler{
		ctx:    ctx,
		cron:   cron.New(cron.WithLocation(time.UTC)),
		spec:   spec,
		engine: engine,
		log:    log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.replayTick); err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) replayTick() {
	ctx, cancel := context.WithTimeout(s.ctx, replayTickTimeout)
	defer cancel()

	if ctx.Err() != nil {
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())

		return
	}

	if err := s.engine.Run(ctx); err != nil {
		s.log.ErrorContext(ctx, "Replay run finished with failures",
			"error", err)
	}
}
