package engine

import (
	"context"

	"github.com/XavierBriggs/Iris/internal/delta"
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (e *Engine) handleUpdate(u models.ScoreUpdate) {
	e.Apply(u)
}

// Apply folds a candidate update into the state table. Updates for untracked
// events, or not newer than the stored state, are discarded. A newer update
// carrying an impossible phase keeps its score and period but not its phase.
func (e *Engine) Apply(u models.ScoreUpdate) bool {
	now := e.now()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}

	t, ok := e.events[u.EventID]
	if !ok {
		e.mu.Unlock()
		return false
	}

	ent, had := e.states[u.EventID]
	if had && !u.Timestamp.After(ent.state.UpdatedAt) {
		e.mu.Unlock()
		e.log.Debug("discarding out-of-order update",
			zap.String("event_id", u.EventID),
			zap.String("source", string(u.Source)))
		return false
	}

	base := t.event.Phase
	if had {
		base = ent.state.Phase
	}
	phase := u.Phase
	if !base.CanTransition(phase) {
		e.log.Debug("ignoring phase regression",
			zap.String("event_id", u.EventID),
			zap.String("from", string(base)),
			zap.String("to", string(phase)))
		phase = base
	}

	league := u.League
	if league == "" {
		league = t.event.League
	}
	next := models.ScoreState{
		EventID:    u.EventID,
		League:     league,
		HomeScore:  u.HomeScore,
		AwayScore:  u.AwayScore,
		Period:     u.Period,
		Phase:      phase,
		UpdatedAt:  u.Timestamp,
		Type:       u.Type,
		Provenance: u.Source,
		Quality:    u.Quality,
	}
	next.IsStale = e.classifier.IsStale(next, now)

	var prev models.ScoreState
	if had {
		prev = ent.state
	} else {
		ent = &entry{history: newRing(e.cfg.HistorySize)}
		e.states[u.EventID] = ent
	}
	ent.state = next
	ent.history.push(next)

	if t.event.Phase != phase {
		t.event.Phase = phase
		if phase == models.PhaseFinished && t.finishedAt.IsZero() {
			t.finishedAt = now
		}
		e.reconcileLocked(t, now)
	}

	change := delta.ChangeTypeNew
	if had {
		change = delta.Compare(&prev, next)
	}
	scoreChanged := change == delta.ChangeTypeScore
	onChange := e.onScoreChange
	e.mu.Unlock()

	if scoreChanged {
		if onChange != nil {
			onChange(next.EventID, next.Score())
		}
		e.writeAlert(prev, next)
	}
	e.storeState(next)
	return true
}

func (e *Engine) writeAlert(prev, next models.ScoreState) {
	if e.alerts == nil {
		return
	}

	alert := models.ScoreAlert{
		AlertID:    uuid.NewString(),
		EventID:    next.EventID,
		League:     next.League,
		Previous:   prev.Score(),
		Current:    next.Score(),
		Period:     next.Period,
		Phase:      next.Phase,
		Provenance: next.Provenance,
		ObservedAt: next.UpdatedAt,
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.SinkTimeout)
	defer cancel()
	if err := e.alerts.WriteAlerts(ctx, []models.ScoreAlert{alert}); err != nil {
		e.log.Warn("write score alert", zap.String("event_id", next.EventID), zap.Error(err))
	}
}

func (e *Engine) storeState(state models.ScoreState) {
	if e.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.SinkTimeout)
	defer cancel()
	if err := e.store.Store(ctx, []models.ScoreState{state}); err != nil {
		e.log.Warn("cache score state", zap.String("event_id", state.EventID), zap.Error(err))
	}
}

func (e *Engine) captureFinal(state models.ScoreState) {
	if e.finals == nil {
		return
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.SinkTimeout)
	defer cancel()
	if err := e.finals.CaptureFinal(ctx, state); err != nil {
		e.log.Warn("capture final score", zap.String("event_id", state.EventID), zap.Error(err))
	}
}
