package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/config"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/repo"
	"github.com/Hang0506/AI-NHAC-VIEC-CHAT-JIRA/internal/services"
)

type service interface {
	Run(ctx context.Context) (services.Summary, error)
}

// lockKey guards against overlapping cycles across instances.
const lockKey int64 = 517293

type Cron struct {
	cfg  config.Config
	log  zerolog.Logger
	svc  service
	repo *repo.Repository
	c    *cron.Cron
}

func NewCron(cfg config.Config, log zerolog.Logger, svc service, r *repo.Repository) *Cron {
	c := cron.New(cron.WithLocation(cfg.Loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, svc: svc, repo: r, c: c}
	_, _ = c.AddFunc(cfg.CronSpec, cr.cycle)
	return cr
}

func (cr *Cron) Start() { cr.c.Start() }
func (cr *Cron) Stop()  { cr.c.Stop() }

func (cr *Cron) cycle() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ok, err := cr.repo.TryAdvisoryLock(ctx, lockKey)
	if err != nil {
		cr.log.Error().Err(err).Msg("cron: lock error")
		return
	}
	if !ok {
		cr.log.Info().Msg("cron: cycle already running elsewhere")
		return
	}
	defer func() { _ = cr.repo.AdvisoryUnlock(context.Background(), lockKey) }()
	cr.log.Info().Msg("cron: reminder cycle")
	if _, err := cr.svc.Run(ctx); err != nil {
		cr.log.Error().Err(err).Msg("cron: cycle failed")
	}
}
