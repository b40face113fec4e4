package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/XavierBriggs/Iris/internal/backoff"
	"github.com/XavierBriggs/Iris/internal/monitor"
	"github.com/XavierBriggs/Iris/pkg/contracts"
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/XavierBriggs/Iris/sports/leagues"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var (
	// ErrDisabled is returned when no score provider is configured
	ErrDisabled = eris.New("polling disabled")

	errMissing = eris.New("event missing from upstream response")
)

// Config controls the polling loop and the upstream request budget
type Config struct {
	Tick              time.Duration // how often due events are collected
	RequestsPerSecond float64       // upstream budget; <= 0 means unlimited
	Burst             int
	JitterFraction    float64 // up to this fraction of the interval is added on success
	FetchTimeout      time.Duration
}

// DefaultConfig returns the standard polling configuration
func DefaultConfig() Config {
	return Config{
		Tick:              500 * time.Millisecond,
		RequestsPerSecond: 5,
		Burst:             10,
		FetchTimeout:      15 * time.Second,
	}
}

// UpdateFunc receives candidate updates produced by polling
type UpdateFunc func(models.ScoreUpdate)

// Scheduler owns one logical timer per poll-managed event and batches
// due events into one upstream call per league.
type Scheduler struct {
	cfg        Config
	provider   contracts.ScoreProvider
	classifier *leagues.Classifier
	backoff    *backoff.Calculator
	monitor    *monitor.Monitor
	limiter    *rate.Limiter
	group      singleflight.Group
	onUpdate   UpdateFunc
	now        func() time.Time
	log        *zap.Logger

	mu   sync.Mutex
	subs map[string]*pollSub

	// upstream calls run under fetchCtx so one caller giving up does not
	// cancel a request other callers share
	fetchCtx    context.Context
	cancelFetch context.CancelFunc

	cancel   context.CancelFunc
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a polling scheduler. A nil provider disables polling.
func NewScheduler(
	cfg Config,
	provider contracts.ScoreProvider,
	classifier *leagues.Classifier,
	bo *backoff.Calculator,
	mon *monitor.Monitor,
	onUpdate UpdateFunc,
	now func() time.Time,
) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}
	if classifier == nil {
		classifier = leagues.NewClassifier(nil, nil)
	}
	if bo == nil {
		bo = backoff.New(backoff.DefaultConfig())
	}
	if mon == nil {
		mon = monitor.New(monitor.DefaultConfig(), now)
	}
	if now == nil {
		now = time.Now
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	fetchCtx, cancelFetch := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:         cfg,
		fetchCtx:    fetchCtx,
		cancelFetch: cancelFetch,
		provider:    provider,
		classifier:  classifier,
		backoff:     bo,
		monitor:     mon,
		limiter:     rate.NewLimiter(limit, burst),
		onUpdate:    onUpdate,
		now:         now,
		log:         zap.L().With(zap.String("component", "scheduler")),
		subs:        make(map[string]*pollSub),
		stopChan:    make(chan struct{}),
	}
}

// Enabled reports whether a provider is configured
func (s *Scheduler) Enabled() bool {
	return s.provider != nil
}

// Start runs the tick loop until Stop or ctx cancellation
func (s *Scheduler) Start(ctx context.Context) error {
	if s.provider == nil {
		return ErrDisabled
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()

	s.log.Info("polling scheduler started", zap.Duration("tick", s.cfg.Tick))
	return nil
}

// Stop cancels in-flight fetches, releases every timer and waits for the loop
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)

		s.mu.Lock()
		cancel := s.cancel
		for id, sub := range s.subs {
			sub.state = models.PollStopped
			delete(s.subs, id)
		}
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.cancelFetch()
		s.wg.Wait()
		s.log.Info("polling scheduler stopped")
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Each tick only claims events that are not in flight, so a slow
			// league never blocks the others or doubles up.
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.Tick(ctx)
			}()
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Add schedules an event for an immediate first fetch. Adding an event that
// is already scheduled behaves like Update.
func (s *Scheduler) Add(ev models.TrackedEvent) error {
	if s.provider == nil {
		return ErrDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stopChan:
		return ErrDisabled
	default:
	}

	now := s.now()
	if sub, ok := s.subs[ev.EventID]; ok {
		s.updateLocked(sub, ev, now)
		return nil
	}

	s.subs[ev.EventID] = &pollSub{
		eventID:  ev.EventID,
		event:    ev,
		state:    models.PollScheduled,
		interval: s.classifier.PollInterval(ev, now),
		nextDue:  now,
	}
	return nil
}

// Update recomputes an event's interval. A tighter interval pulls the next
// fetch forward unless the event is in flight or backing off; an in-flight
// fetch is never interrupted and picks up the new interval when it completes.
func (s *Scheduler) Update(ev models.TrackedEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[ev.EventID]
	if !ok {
		return false
	}
	s.updateLocked(sub, ev, s.now())
	return true
}

func (s *Scheduler) updateLocked(sub *pollSub, ev models.TrackedEvent, now time.Time) {
	sub.event = ev
	interval := s.classifier.PollInterval(ev, now)
	if interval == sub.interval {
		return
	}
	sub.interval = interval

	if sub.inFlight || sub.state == models.PollBackoff {
		return
	}
	due := now
	if !sub.lastAttempt.IsZero() {
		due = sub.lastAttempt.Add(interval)
	}
	if due.Before(sub.nextDue) {
		sub.nextDue = due
	}
}

// Remove stops polling an event. Results of a fetch already in flight are
// discarded. Removing an unknown event is a no-op.
func (s *Scheduler) Remove(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[eventID]
	if !ok {
		return false
	}
	sub.state = models.PollStopped
	delete(s.subs, eventID)
	return true
}

// Has reports whether the event is poll-managed
func (s *Scheduler) Has(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[eventID]
	return ok
}

// Count returns the number of poll-managed events
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Info returns the debug view of one poll subscription
func (s *Scheduler) Info(eventID string) (models.SubscriptionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[eventID]
	if !ok {
		return models.SubscriptionInfo{}, false
	}
	return sub.info(s.classifier.TierOf(sub.event.League)), true
}

// Tick fetches every due event, one upstream call per league, and waits for
// the batch to finish
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	batches := make(map[string]*batch)
	for _, sub := range s.subs {
		if sub.inFlight || sub.nextDue.After(now) {
			continue
		}
		sub.claim()
		b := batchFor(batches, sub.event.League)
		b.subs = append(b.subs, sub)
	}
	s.mu.Unlock()

	s.run(ctx, batches)
}

// Refresh fetches every tracked event right away, bucketed by league.
// Events that are backing off keep their backoff. extra lists events
// managed elsewhere (push) whose updates are still wanted.
func (s *Scheduler) Refresh(ctx context.Context, extra []models.TrackedEvent) error {
	if s.provider == nil {
		return ErrDisabled
	}
	now := s.now()

	s.mu.Lock()
	batches := make(map[string]*batch)
	for _, sub := range s.subs {
		if sub.inFlight {
			continue
		}
		if sub.state == models.PollBackoff && sub.nextDue.After(now) {
			continue
		}
		sub.claim()
		b := batchFor(batches, sub.event.League)
		b.subs = append(b.subs, sub)
	}
	for _, ev := range extra {
		if _, polled := s.subs[ev.EventID]; polled {
			continue
		}
		b := batchFor(batches, ev.League)
		b.extra = append(b.extra, ev.EventID)
	}
	s.mu.Unlock()

	s.run(ctx, batches)
	return ctx.Err()
}
