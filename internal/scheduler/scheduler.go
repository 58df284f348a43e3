// Package scheduler fires scheduled enable/disable toggles against the
// Config Store at their EnableAt/DisableAt timestamp. Adapted from two
// pack sources: the multi-agent config-service's cronjobs.Scheduler
// (per-job *time.Timer held in a map, mutex-guarded, superseded on
// reschedule, Stop()-cancelled) for the register/cancel/handle contract,
// and the webhook dispatcher's deliverWithRetry exponential-backoff loop
// (time.Duration(math.Pow(2, attempt)) * time.Second) for the bounded
// retry a transient store error gets before the firing is given up on.
package scheduler

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/devrimkaya/flagship/internal/store"
	"github.com/devrimkaya/flagship/internal/telemetry"
)

const maxFireAttempts = 5

// handle identifies one pending scheduled fire: a (project, flag,
// environment, kind) tuple. A flag can have at most one pending enable
// and one pending disable per environment at a time; registering a new
// one for the same handle supersedes whatever was pending.
type handle struct {
	projectKey     string
	flagKey        string
	environmentKey string
	kind           store.ScheduleKind
}

// Scheduler holds one *time.Timer per pending scheduled toggle.
type Scheduler struct {
	store store.ConfigStore

	mu     chan struct{} // binary semaphore; see lock()/unlock()
	timers map[handle]*time.Timer
}

func New(s store.ConfigStore) *Scheduler {
	sch := &Scheduler{
		store:  s,
		mu:     make(chan struct{}, 1),
		timers: make(map[handle]*time.Timer),
	}
	sch.mu <- struct{}{}
	return sch
}

func (s *Scheduler) lock()   { <-s.mu }
func (s *Scheduler) unlock() { s.mu <- struct{}{} }

// Register arms a timer that fires Toggle at "at". Any previously
// registered timer for the same (project, flag, environment, kind) is
// cancelled first, so rescheduling is idempotent.
func (s *Scheduler) Register(projectKey, flagKey, environmentKey string, kind store.ScheduleKind, at time.Time) {
	h := handle{projectKey, flagKey, environmentKey, kind}

	s.lock()
	defer s.unlock()

	if existing, ok := s.timers[h]; ok {
		existing.Stop()
	}

	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.timers[h] = time.AfterFunc(delay, func() {
		s.fire(context.Background(), h)
	})
}

// Cancel stops a pending scheduled fire, if one is registered. Used when
// a manual Toggle or ClearSchedule clears the schedule out from under it.
func (s *Scheduler) Cancel(projectKey, flagKey, environmentKey string, kind store.ScheduleKind) {
	h := handle{projectKey, flagKey, environmentKey, kind}

	s.lock()
	defer s.unlock()

	if existing, ok := s.timers[h]; ok {
		existing.Stop()
		delete(s.timers, h)
	}
}

// Stop cancels every pending timer. Used on shutdown.
func (s *Scheduler) Stop() {
	s.lock()
	defer s.unlock()
	for h, t := range s.timers {
		t.Stop()
		delete(s.timers, h)
	}
}

func (s *Scheduler) fire(ctx context.Context, h handle) {
	s.lock()
	delete(s.timers, h)
	s.unlock()

	enabled := h.kind == store.ScheduleEnable

	for attempt := 0; attempt < maxFireAttempts; attempt++ {
		err := s.store.Toggle(ctx, h.projectKey, h.flagKey, h.environmentKey, enabled)
		if err == nil {
			telemetry.SchedulerFiredTotal.Inc()
			if clearErr := s.store.ClearSchedule(ctx, h.projectKey, h.flagKey, h.environmentKey, h.kind); clearErr != nil {
				log.Printf("[scheduler] clear schedule failed for %s/%s/%s: %v", h.projectKey, h.flagKey, h.environmentKey, clearErr)
			}
			return
		}

		log.Printf("[scheduler] fire attempt %d/%d failed for %s/%s/%s: %v", attempt+1, maxFireAttempts, h.projectKey, h.flagKey, h.environmentKey, err)
		backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		time.Sleep(backoff)
	}
	log.Printf("[scheduler] giving up firing %s/%s/%s after %d attempts", h.projectKey, h.flagKey, h.environmentKey, maxFireAttempts)
}
