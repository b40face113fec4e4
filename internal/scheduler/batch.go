package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/XavierBriggs/Iris/sports/leagues"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type batch struct {
	league string
	subs   []*pollSub
	extra  []string
}

func batchFor(batches map[string]*batch, league string) *batch {
	b, ok := batches[league]
	if !ok {
		b = &batch{league: league}
		batches[league] = b
	}
	return b
}

// run fetches every batch concurrently and waits for all of them
func (s *Scheduler) run(ctx context.Context, batches map[string]*batch) {
	if len(batches) == 0 {
		return
	}

	var g errgroup.Group
	for _, b := range batches {
		b := b
		g.Go(func() error {
			s.fetchBatch(ctx, b)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) fetchBatch(ctx context.Context, b *batch) {
	if err := s.limiter.Wait(ctx); err != nil {
		// budget wait was cancelled; nothing was sent upstream
		s.releaseAll(b)
		return
	}

	// concurrent callers for one league share a single upstream request
	ch := s.group.DoChan(b.league, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(s.fetchCtx, s.cfg.FetchTimeout)
		defer cancel()

		start := time.Now()
		updates, err := s.provider.FetchEvents(fetchCtx, b.league)
		if s.fetchCtx.Err() == nil {
			s.monitor.RecordFetch(s.classifier.TierOf(b.league), time.Since(start), err)
		}
		return updates, err
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		// the caller gave up; the events were not attempted on its behalf
		s.releaseAll(b)
		return
	}

	v, err := res.Val, res.Err
	if err != nil {
		if ctx.Err() != nil || s.fetchCtx.Err() != nil {
			s.releaseAll(b)
			return
		}
		s.log.Warn("league fetch failed",
			zap.String("league", b.league),
			zap.Int("events", len(b.subs)),
			zap.Error(err))
		for _, sub := range b.subs {
			s.complete(sub, nil, err)
		}
		return
	}

	updates, _ := v.([]models.ScoreUpdate)
	byID := make(map[string]models.ScoreUpdate, len(updates))
	for _, u := range updates {
		if u.League == "" {
			u.League = b.league
		}
		byID[u.EventID] = u
	}

	for _, sub := range b.subs {
		u, ok := byID[sub.eventID]
		if !ok {
			s.complete(sub, nil, errMissing)
			continue
		}
		if err := leagues.ValidateUpdate(u); err != nil {
			s.complete(sub, nil, err)
			continue
		}
		s.complete(sub, &u, nil)
	}

	for _, id := range b.extra {
		u, ok := byID[id]
		if !ok || leagues.ValidateUpdate(u) != nil {
			continue
		}
		s.deliver(stamp(u, s.now()))
	}
}

func (s *Scheduler) releaseAll(b *batch) {
	s.mu.Lock()
	for _, sub := range b.subs {
		sub.release()
	}
	s.mu.Unlock()
}

// complete records the outcome for one event and reschedules it
func (s *Scheduler) complete(sub *pollSub, update *models.ScoreUpdate, err error) {
	now := s.now()

	s.mu.Lock()
	sub.inFlight = false
	sub.lastAttempt = now
	if current, ok := s.subs[sub.eventID]; !ok || current != sub {
		s.mu.Unlock()
		return
	}

	// time alone can move a pre-game event into the lead window
	sub.interval = s.classifier.PollInterval(sub.event, now)

	if err != nil {
		sub.failures++
		sub.state = models.PollBackoff
		delay := sub.interval + s.backoff.Jittered(sub.failures)
		sub.nextDue = s.dueAt(sub.event, now, now.Add(delay))
		eventID, attempt := sub.eventID, sub.failures
		s.mu.Unlock()

		s.log.Debug("event fetch failed",
			zap.String("event_id", eventID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		return
	}

	sub.failures = 0
	sub.state = models.PollScheduled
	sub.lastUpdate = now
	sub.nextDue = s.dueAt(sub.event, now, now.Add(addJitter(sub.interval, s.cfg.JitterFraction)))
	s.mu.Unlock()

	if update != nil {
		s.deliver(stamp(*update, now))
	}
}

// dueAt pulls next forward to the moment a far pre-game event enters its
// lead window
func (s *Scheduler) dueAt(ev models.TrackedEvent, now, next time.Time) time.Time {
	opens := s.classifier.LeadWindowOpens(ev, now)
	if !opens.IsZero() && opens.Before(next) {
		return opens
	}
	return next
}

func (s *Scheduler) deliver(u models.ScoreUpdate) {
	if s.onUpdate != nil {
		s.onUpdate(u)
	}
}

func stamp(u models.ScoreUpdate, now time.Time) models.ScoreUpdate {
	u.Source = models.ProvenancePoll
	if u.Type == "" {
		u.Type = models.UpdateFull
	}
	if u.Quality == "" {
		u.Quality = models.QualityGood
	}
	if u.ReceivedAt.IsZero() {
		u.ReceivedAt = now
	}
	return u
}

// addJitter adds random jitter to prevent synchronization
func addJitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	return d + time.Duration(rand.Float64()*fraction*float64(d))
}
