package worker

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"herald/pkg/logging"
)

// Scheduler fires the repost cycle on a cron schedule, as an alternative to
// external HTTP triggers. Both paths go through the same claim arbitration,
// so they can run side by side.
type Scheduler struct {
	cron   *cron.Cron
	logger logging.Logger
	spec   string
}

// NewScheduler registers run under the given cron spec (standard 5-field
// syntax, plus @every intervals).
func NewScheduler(spec string, run func(), l logging.Logger) (*Scheduler, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, run); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return &Scheduler{cron: c, logger: l, spec: spec}, nil
}

// Start starts the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.logger.WithField("schedule", s.spec).Info("Starting repost scheduler")
	s.cron.Start()
}

// Stop stops the cron loop, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Repost scheduler stopped")
}
