package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/comitanigiacomo/gameless-engine/internal/core/domain"
)

const DefaultCheckInSchedule = "@every 1h"

var ErrWorkerStarted = errors.New("check-in worker already started")

type CheckInService interface {
	CheckIn(ctx context.Context, now time.Time) (*domain.UserState, error)
	Now() time.Time
}

// CheckInWorker periodically runs the daily check-in. Ticks never overlap:
// a tick that fires while the previous one is still running is skipped.
type CheckInWorker struct {
	svc      CheckInService
	schedule string
	cron     *cron.Cron
	job      cron.Job

	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

func NewCheckInWorker(svc CheckInService, schedule string, loc *time.Location) *CheckInWorker {
	if schedule == "" {
		schedule = DefaultCheckInSchedule
	}
	if loc == nil {
		loc = time.Local
	}

	logger := cron.PrintfLogger(log.StandardLogger())

	return &CheckInWorker{
		svc:      svc,
		schedule: schedule,
		cron:     cron.New(cron.WithLocation(loc), cron.WithLogger(logger)),
		done:     make(chan struct{}),
	}
}

// Start schedules the check-in and returns immediately. The worker stops
// when ctx is cancelled or Stop is called.
// A worker can be started once; later calls return ErrWorkerStarted.
func (w *CheckInWorker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrWorkerStarted
	}

	logger := cron.PrintfLogger(log.StandardLogger())
	w.job = cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).
		Then(cron.FuncJob(func() { w.RunOnce(ctx) }))

	if _, err := w.cron.AddJob(w.schedule, w.job); err != nil {
		w.started.Store(false)
		return fmt.Errorf("workers: invalid check-in schedule %q: %w", w.schedule, err)
	}

	w.cron.Start()
	log.Printf("[CHECKIN] Worker started (%s)", w.schedule)

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.done:
		}
	}()

	return nil
}

// Stop halts the schedule and waits for a running check-in to finish.
func (w *CheckInWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		<-w.cron.Stop().Done()
		log.Println("[CHECKIN] Worker stopped")
	})
}

// RunOnce performs a single check-in at the service's current time.
func (w *CheckInWorker) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	state, err := w.svc.CheckIn(ctx, w.svc.Now())
	if err != nil {
		log.WithError(err).Error("[CHECKIN] Check-in failed")
		return
	}

	log.WithFields(log.Fields{
		"streak": state.StreakDays,
		"xp":     state.CurrentXP,
		"rank":   state.Rank,
	}).Debug("[CHECKIN] Check-in done")
}
