package termsession

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the expiry sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// Sweeper runs Registry.CleanupExpired on a cron schedule. Other periodic
// housekeeping can share its scheduler through Schedule.
type Sweeper struct {
	cron *cron.Cron
}

// StartSweeper schedules the expiry sweep and starts the scheduler.
func StartSweeper(reg *Registry, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Sweeper{cron: cron.New()}
	err := s.Schedule(schedule, func() {
		if n := reg.CleanupExpired(); n > 0 {
			log.Printf("[session-mgr] sweep evicted %d session(s), %d remain", n, reg.Count())
		}
	})
	if err != nil {
		return nil, err
	}
	s.cron.Start()
	return s, nil
}

// Schedule adds another job to the sweeper's scheduler.
func (s *Sweeper) Schedule(spec string, fn func()) error {
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
