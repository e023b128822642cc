/**
 * @description
 * The weekly settlement scheduler. A cron job fires shortly after the ISO
 * week boundary and closes the round for the week that just ended.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: The cron scheduling library.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/blockquiz/rewards-service/internal/domain"
)

// Scheduler runs the periodic round close.
type Scheduler struct {
	cron     *cron.Cron
	service  *Service
	schedule string
}

// NewScheduler creates a scheduler that closes the previous period on the
// given cron schedule (UTC). The default "5 0 * * 1" fires Monday 00:05,
// five minutes into the new ISO week.
func NewScheduler(service *Service, schedule string) *Scheduler {
	if schedule == "" {
		schedule = "5 0 * * 1"
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		service:  service,
		schedule: schedule,
	}
}

// Start registers the close job and starts the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, s.runWeeklyClose)
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("level=info component=scheduler msg=\"weekly close scheduled\" schedule=%q", s.schedule)
	return nil
}

// Stop stops the cron loop, waiting for a running close to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runWeeklyClose() {
	// The close fires just after the week boundary, so it settles the
	// period that ended, not the one that just began.
	periodID := domain.PreviousPeriodID(time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Printf("level=info component=scheduler op=weekly_close period_id=%d msg=\"starting scheduled round close\"", periodID)
	result, err := s.service.CloseRound(ctx, periodID)
	if err != nil {
		if errors.Is(err, ErrRoundFinalized) {
			log.Printf("level=info component=scheduler op=weekly_close period_id=%d msg=\"round already finalized; nothing to do\"", periodID)
			return
		}
		log.Printf("level=error component=scheduler op=weekly_close period_id=%d msg=\"scheduled round close failed\" err=%v", periodID, err)
		return
	}
	log.Printf("level=info component=scheduler op=weekly_close period_id=%d winners=%d skipped=%t queued=%t", periodID, result.Winners, result.Skipped, result.Queued)
}
