package engine

import (
	"time"

	"github.com/XavierBriggs/Iris/internal/push"
	"github.com/XavierBriggs/Iris/pkg/models"
	"go.uber.org/zap"
)

// Track declares the current set of events of interest and reconciles
// subscriptions against it. Events in priorityIDs are treated as priority.
func (e *Engine) Track(events []models.TrackedEvent, priorityIDs map[string]bool) {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	prev := make(map[string]models.TrackedEvent, len(e.events))
	for id, t := range e.events {
		prev[id] = t.event
	}

	desired := make([]models.TrackedEvent, 0, len(events))
	for _, ev := range events {
		if _, done := e.quiesced[ev.EventID]; done {
			continue
		}
		ev.Priority = ev.Priority || priorityIDs[ev.EventID] || (e.priorityFn != nil && e.priorityFn(ev))
		if t, ok := e.events[ev.EventID]; ok {
			ev.Phase = mergePhase(t.event.Phase, ev.Phase)
		} else if ent, ok := e.states[ev.EventID]; ok {
			ev.Phase = mergePhase(ent.state.Phase, ev.Phase)
		}
		desired = append(desired, ev)
	}

	for _, c := range Diff(prev, desired) {
		id := c.Event.EventID
		switch c.Action {
		case ActionCreate:
			t := &tracked{event: c.Event, mechanism: models.MechanismNone}
			if c.Event.Phase == models.PhaseFinished {
				t.finishedAt = now
			}
			e.events[id] = t
			if ent, ok := e.states[id]; ok {
				ent.untrackedAt = time.Time{}
			}
			e.reconcileLocked(t, now)

		case ActionUpdate:
			t := e.events[id]
			t.event = c.Event
			if c.Event.Phase == models.PhaseFinished && t.finishedAt.IsZero() {
				t.finishedAt = now
			}
			e.reconcileLocked(t, now)

		case ActionDestroy:
			t := e.events[id]
			e.teardownLocked(t)
			delete(e.events, id)
			if ent, ok := e.states[id]; ok {
				ent.untrackedAt = now
			}
		}
	}

	e.monitor.SetTracked(len(e.events), e.staleLocked(now))
}

// reconcileLocked moves one event onto the mechanism Decide picks
func (e *Engine) reconcileLocked(t *tracked, now time.Time) {
	id := t.event.EventID
	tier := e.classifier.TierOf(t.event.League)

	target := Decide(Input{
		Tracked:       true,
		Phase:         t.event.Phase,
		Priority:      t.event.Priority,
		Tier:          tier,
		GraceExpired:  t.event.Phase == models.PhaseFinished && now.Sub(t.finishedAt) >= e.classifier.Config().GraceWindow,
		PushAvailable: e.push.Enabled() && !e.push.InCooldown(id),
	})

	switch target {
	case models.MechanismNone:
		e.teardownLocked(t)

	case models.MechanismPush:
		// the poll subscription goes first so the event is never held twice
		e.sched.Remove(id)
		unsubscribe, err := e.push.Subscribe(push.Request{
			EventID: id,
			League:  t.event.League,
			Rank:    push.Rank(t.event.Priority, tier),
		}, e.handleUpdate)
		if err == nil {
			t.unsubscribe = unsubscribe
			t.mechanism = models.MechanismPush
			return
		}
		e.log.Debug("push unavailable, polling",
			zap.String("event_id", id),
			zap.Error(err))
		e.ensurePollLocked(t)

	case models.MechanismPoll:
		e.ensurePollLocked(t)
	}
}

func (e *Engine) ensurePollLocked(t *tracked) {
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	if err := e.sched.Add(t.event); err != nil {
		if t.mechanism != models.MechanismNone {
			e.log.Warn("event left untracked", zap.String("event_id", t.event.EventID), zap.Error(err))
		}
		t.mechanism = models.MechanismNone
		return
	}
	t.mechanism = models.MechanismPoll
}

func (e *Engine) teardownLocked(t *tracked) {
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	e.sched.Remove(t.event.EventID)
	t.mechanism = models.MechanismNone
}

// handleFallback re-routes an event whose push subscription ended to polling
func (e *Engine) handleFallback(eventID, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.events[eventID]
	if e.closed || !ok || t.mechanism != models.MechanismPush || e.push.HasConnection(eventID) {
		return
	}
	t.unsubscribe = nil
	e.ensurePollLocked(t)
	e.log.Info("event moved to polling",
		zap.String("event_id", eventID),
		zap.String("reason", reason))
}

// Sweep retires finished events past the grace window, refreshes the stale
// count and drops retained state of events untracked for longer than RetainFor
func (e *Engine) Sweep(now time.Time) {
	var finals []models.ScoreState

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	grace := e.classifier.Config().GraceWindow
	for id, t := range e.events {
		if t.event.Phase != models.PhaseFinished || now.Sub(t.finishedAt) < grace {
			continue
		}
		e.teardownLocked(t)
		delete(e.events, id)
		e.quiesced[id] = now
		if ent, ok := e.states[id]; ok {
			ent.untrackedAt = now
			finals = append(finals, ent.state)
		}
		e.log.Debug("event quiesced", zap.String("event_id", id))
	}

	for id, ent := range e.states {
		if _, live := e.events[id]; live || ent.untrackedAt.IsZero() {
			continue
		}
		if now.Sub(ent.untrackedAt) >= e.cfg.RetainFor {
			delete(e.states, id)
		}
	}
	for id, at := range e.quiesced {
		if now.Sub(at) >= e.cfg.RetainFor {
			delete(e.quiesced, id)
		}
	}

	e.monitor.SetTracked(len(e.events), e.staleLocked(now))
	e.mu.Unlock()

	for _, state := range finals {
		e.captureFinal(state)
	}
}

func (e *Engine) staleLocked(now time.Time) int {
	stale := 0
	for id := range e.events {
		if ent, ok := e.states[id]; ok && e.classifier.IsStale(ent.state, now) {
			stale++
		}
	}
	return stale
}
