// Package sweep expires stale pending jobs on a cron schedule.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/translation-booking/internal/booking"
	"github.com/MimeLyc/translation-booking/pkg/icron"
	"github.com/MimeLyc/translation-booking/pkg/log"
)

// Engine is the slice of the booking engine the sweeper drives. The
// sweeper never writes the store directly; expiration goes through the
// same CAS-guarded transition as every other status change, so a
// concurrent accept and a sweep can race safely.
type Engine interface {
	Expire(ctx context.Context, jobID int64) (*booking.Result, error)
}

type Sweeper struct {
	store  booking.Store
	engine Engine
	policy booking.Policy
	cron   *cron.Cron
	now    func() time.Time

	sf singleflight.Group

	mu       sync.Mutex
	cronExpr string
	entryID  cron.EntryID
}

type Option func(*Sweeper)

// WithClock overrides the sweeper's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

func New(store booking.Store, engine Engine, policy booking.Policy, c *cron.Cron, cronExpr string, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		engine:   engine,
		policy:   policy,
		cron:     c,
		cronExpr: cronExpr,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule registers the sweep on the cron and starts it. Overlapping
// ticks collapse into one run via singleflight.
func (s *Sweeper) Schedule(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runFunc := func() {
		_, _, _ = s.sf.Do("sweep", func() (any, error) {
			expired, err := s.RunOnce(ctx)
			if err != nil {
				log.Error("Sweep failed: %v", err)
				return nil, err
			}
			if expired > 0 {
				log.Info("Sweep expired %d jobs", expired)
			}
			return nil, nil
		})
	}

	entryID, err := s.cron.AddFunc(s.cronExpr, runFunc)
	if err != nil {
		return err
	}
	s.entryID = entryID
	s.cron.Start()
	return nil
}

// Reschedule swaps the cron expression at runtime.
func (s *Sweeper) Reschedule(cronExpr string) error {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cron.Remove(s.entryID)
	entryID, err := s.cron.AddFunc(cronExpr, func() {
		_, _, _ = s.sf.Do("sweep", func() (any, error) {
			_, err := s.RunOnce(context.Background())
			return nil, err
		})
	})
	if err != nil {
		return err
	}
	s.entryID = entryID
	s.cronExpr = cronExpr
	log.Info("Sweep rescheduled to %q", cronExpr)
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	<-s.cron.Stop().Done()
}

// RunOnce scans pending jobs and expires every one past its computed
// deadline. A job accepted between the scan and the transition loses
// the race cleanly: the CAS reports InvalidTransition and the job is
// left alone. Returns how many jobs were expired.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	pending, err := s.store.ListPending(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, job := range pending {
		deadline := s.policy.WillExpireAt(job.DueTime, job.CreatedAt)
		if now.Before(deadline) {
			continue
		}
		if _, err := s.engine.Expire(ctx, job.ID); err != nil {
			if booking.IsErrorType(err, booking.ErrInvalidTransition) {
				// Someone accepted (or a parallel sweep expired) it first.
				continue
			}
			log.Error("Failed to expire job %d: %v", job.ID, err)
			continue
		}
		expired++
	}
	return expired, nil
}

// TriggerInfo reports the previous and next sweep times relative to
// refTime, for the operational status endpoint.
func (s *Sweeper) TriggerInfo(refTime time.Time) (*icron.TriggerInfo, error) {
	s.mu.Lock()
	expr := s.cronExpr
	s.mu.Unlock()
	return icron.GetTriggerInfo(expr, refTime)
}
