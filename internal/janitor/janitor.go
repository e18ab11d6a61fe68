// Package janitor runs periodic database maintenance: pruning expired
// verification codes and aged-out delivery counters.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// statsRetention is how long daily delivery counters are kept.
const statsRetention = 180 * 24 * time.Hour

// Store is the subset of the database the janitor touches.
type Store interface {
	CleanupExpiredCodes(ctx context.Context) (int64, error)
	PruneDailyStats(ctx context.Context, olderThan time.Time) (int64, error)
}

// Janitor schedules maintenance jobs on a cron.
type Janitor struct {
	cron  *cron.Cron
	store Store
	log   zerolog.Logger
}

func New(store Store, log zerolog.Logger) *Janitor {
	return &Janitor{
		cron:  cron.New(),
		store: store,
		log:   log,
	}
}

// Start registers the jobs and starts the cron. Jobs also run once
// immediately so a bot that is only up briefly still gets maintenance.
func (j *Janitor) Start(ctx context.Context) error {
	if _, err := j.cron.AddFunc("@daily", func() { j.sweep(ctx) }); err != nil {
		return err
	}
	go j.sweep(ctx)
	j.cron.Start()
	return nil
}

// Stop halts the cron and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	codes, err := j.store.CleanupExpiredCodes(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("verification code cleanup failed")
	}

	stats, err := j.store.PruneDailyStats(ctx, time.Now().Add(-statsRetention))
	if err != nil {
		j.log.Error().Err(err).Msg("stats pruning failed")
	}

	if codes > 0 || stats > 0 {
		j.log.Info().Int64("codes", codes).Int64("stat_rows", stats).Msg("maintenance sweep done")
	}
}
