package subscribe

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"weatherbot/pkg/logx"
)

// misfireGrace is how far past a one-shot's instant the process may come back
// online and still fire it once. Beyond the window the occurrence is dropped
// without firing and without error.
const misfireGrace = 60 * time.Second

// Scheduler maintains the live set of armed triggers backing the store's
// subscriptions. Trigger callbacks carry only the subscription id; current
// data is re-read from the store at fire time, so edits or removals between
// arm and fire are observed rather than a stale captured copy.
type Scheduler struct {
	log     logx.Logger
	loc     *time.Location
	store   *Store
	deliver Deliverer
	parser  cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]cron.EntryID // recurring: subscription id -> cron entry
	timers  map[string]*time.Timer  // one-shot:  subscription id -> timer
	started bool

	runCtx    context.Context
	runCancel context.CancelFunc

	fireWG sync.WaitGroup
}

func NewScheduler(store *Store, deliver Deliverer, loc *time.Location, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		log:     log,
		loc:     loc,
		store:   store,
		deliver: deliver,
		// Strict five-field specs; descriptors and seconds are not part of
		// the recurrence contract.
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		entries: map[string]cron.EntryID{},
		timers:  map[string]*time.Timer{},
	}
}

// Start begins evaluating armed triggers against wall-clock time in the
// configured zone. Must be called once, before Recover or Arm; a second call
// fails with ErrAlreadyStarted.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()))
	return nil
}

// Recover arms a trigger for every subscription in the store. One-shot
// entries whose instant is more than the misfire grace in the past are
// skipped: not armed, but left in the ledger as inert history.
func (s *Scheduler) Recover() {
	armed, skipped := 0, 0
	for groupKey, subs := range s.store.All() {
		for _, sub := range subs {
			if s.Arm(groupKey, sub) {
				armed++
			} else {
				skipped++
			}
		}
	}
	s.log.Info("recovery complete", logx.Int("armed", armed), logx.Int("skipped", skipped))
}

// Arm creates the live trigger for sub and reports whether one was armed.
// One-shots already past the misfire grace are skipped. A recurrence that the
// engine rejects is logged and skipped (the normalizer at the request
// boundary should have caught it).
func (s *Scheduler) Arm(groupKey string, sub Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.log.Warn("arm requested before start", logx.String("id", sub.ID))
		return false
	}

	id := sub.ID
	if sub.Recurring() {
		eid, err := s.c.AddFunc(sub.Cron, func() { s.fire(id, false) })
		if err != nil {
			s.log.Error("recurrence rejected by engine",
				logx.String("id", id), logx.String("cron", sub.Cron), logx.Err(err))
			return false
		}
		s.entries[id] = eid
		s.log.Debug("trigger armed", logx.String("id", id), logx.String("group", groupKey), logx.String("cron", sub.Cron))
		return true
	}

	at, err := sub.FireTime(s.loc)
	if err != nil {
		s.log.Error("unparseable fire time",
			logx.String("id", id), logx.String("datetime", sub.FireAt), logx.Err(err))
		return false
	}
	delay := time.Until(at)
	if delay < -misfireGrace {
		s.log.Debug("one-shot past misfire grace, skipped",
			logx.String("id", id), logx.Time("at", at))
		return false
	}
	if delay < 0 {
		delay = 0 // within grace: fire once, immediately
	}
	s.timers[id] = time.AfterFunc(delay, func() { s.fire(id, true) })
	s.log.Debug("trigger armed", logx.String("id", id), logx.String("group", groupKey), logx.Time("at", at))
	return true
}

// Disarm removes the live trigger for id. A missing trigger (already fired
// and self-removed) is logged, not an error: the store-level removal must
// still succeed.
func (s *Scheduler) Disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if eid, ok := s.entries[id]; ok {
		if s.c != nil {
			s.c.Remove(eid)
		}
		delete(s.entries, id)
		s.log.Debug("trigger disarmed", logx.String("id", id))
		return
	}
	if t, ok := s.timers[id]; ok {
		_ = t.Stop()
		delete(s.timers, id)
		s.log.Debug("trigger disarmed", logx.String("id", id))
		return
	}
	s.log.Warn("disarm: trigger already absent", logx.String("id", id))
}

// fire runs one due occurrence. Delivery failures are logged and swallowed:
// they never crash the scheduling loop and never cause a retry outside the
// subscription's own recurrence or the misfire window.
func (s *Scheduler) fire(id string, oneShot bool) {
	s.mu.Lock()
	if oneShot {
		// The trigger consumed itself; keep the armed set consistent so a
		// later Disarm logs the absence instead of stopping a dead timer.
		delete(s.timers, id)
	}
	if !s.started {
		s.mu.Unlock()
		return
	}
	ctx := s.runCtx
	// Joining the wait group under the lock keeps Add ordered before
	// Shutdown's Wait: Shutdown clears started first, also under the lock.
	s.fireWG.Add(1)
	s.mu.Unlock()
	defer s.fireWG.Done()

	groupKey, sub, ok := s.store.Get(id)
	if !ok {
		s.log.Warn("due subscription no longer in store", logx.String("id", id))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in delivery",
				logx.String("id", id), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now()
	if err := s.deliver.Deliver(ctx, groupKey, sub); err != nil {
		s.log.Error("delivery failed",
			logx.String("id", id), logx.String("group", groupKey),
			logx.String("city", sub.City), logx.Err(err))
		return
	}
	s.log.Info("delivered",
		logx.String("id", id), logx.String("group", groupKey),
		logx.String("city", sub.City), logx.Duration("took", time.Since(start)))
}

// Shutdown stops evaluating triggers and waits briefly for in-flight
// deliveries. It does not persist; that is the store's responsibility, and
// the caller stops the scheduler first so no trigger fires against a store
// being torn down.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCtx = nil
	s.runCancel = nil
	for id, t := range s.timers {
		_ = t.Stop()
		delete(s.timers, id)
	}
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	// In-flight firings run to completion or failure on their own; the run
	// context is only cancelled after the grace elapses.
	done := make(chan struct{})
	go func() {
		s.fireWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with deliveries in flight")
	}
	if cancel != nil {
		cancel()
	}
}
