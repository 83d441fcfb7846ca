// Package jobs runs scheduled maintenance tasks.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/PaulBabatuyi/fieldsync/internal/metrics"
)

// SurveyExpirer deactivates surveys whose end date has passed.
type SurveyExpirer interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler returns a scheduler running the survey expiry sweep on
// schedule (standard cron syntax or descriptors such as "@hourly").
func NewScheduler(schedule string, surveys SurveyExpirer) (*Scheduler, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { SweepSurveys(context.Background(), surveys, time.Now().UTC()) }); err != nil {
		return nil, fmt.Errorf("invalid survey expiry schedule %q: %w", schedule, err)
	}
	return &Scheduler{cron: c}, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the scheduler and waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// SweepSurveys runs one expiry pass and returns the number of surveys closed.
func SweepSurveys(ctx context.Context, surveys SurveyExpirer, now time.Time) int64 {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := surveys.DeactivateExpired(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("survey expiry sweep failed")
		return 0
	}
	if n > 0 {
		metrics.SurveysExpired.Add(float64(n))
		log.Info().Int64("count", n).Msg("deactivated expired surveys")
	}
	return n
}
