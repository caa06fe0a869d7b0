// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartMonitorScheduler runs the timeout sweep on a fixed interval. Singleton
// mode keeps a slow sweep from overlapping the next one.
func (mon *Monitor) StartMonitorScheduler(ctx context.Context, interval time.Duration) (gocron.Scheduler, error) {
	if interval <= 0 {
		interval = DefaultEngineConfig.MonitorInterval
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			sweepCtx, cancel := context.WithTimeout(ctx, interval)
			defer cancel()
			if _, err := mon.Sweep(sweepCtx); err != nil {
				log.Printf("[Scheduler] monitor sweep failed: %v", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("match-timeout-monitor"),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	log.Printf("⏱️  Timeout monitor scheduled every %s", interval)
	return sched, nil
}
