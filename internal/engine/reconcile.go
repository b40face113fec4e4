package engine

import (
	"sort"

	"github.com/XavierBriggs/Iris/pkg/models"
)

// Action is what a reconciliation pass does to one event's subscription
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDestroy Action = "destroy"
)

// Change is one entry of a reconciliation diff
type Change struct {
	Action   Action
	Event    models.TrackedEvent
	Previous models.TrackedEvent
}

// Diff compares the tracked set against the desired set. Duplicate ids in
// next resolve to the last occurrence. Output is ordered by event id.
func Diff(prev map[string]models.TrackedEvent, next []models.TrackedEvent) []Change {
	desired := make(map[string]models.TrackedEvent, len(next))
	for _, ev := range next {
		if ev.EventID == "" {
			continue
		}
		desired[ev.EventID] = ev
	}

	var changes []Change
	for id, ev := range desired {
		old, ok := prev[id]
		switch {
		case !ok:
			changes = append(changes, Change{Action: ActionCreate, Event: ev})
		case changed(old, ev):
			changes = append(changes, Change{Action: ActionUpdate, Event: ev, Previous: old})
		}
	}
	for id, old := range prev {
		if _, ok := desired[id]; !ok {
			changes = append(changes, Change{Action: ActionDestroy, Event: old, Previous: old})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Event.EventID < changes[j].Event.EventID
	})
	return changes
}

func changed(a, b models.TrackedEvent) bool {
	return a.Phase != b.Phase ||
		a.Priority != b.Priority ||
		a.League != b.League ||
		!a.StartTime.Equal(b.StartTime)
}

// Input is everything Decide needs about one event
type Input struct {
	Tracked       bool
	Phase         models.Phase
	Priority      bool
	Tier          models.Tier
	GraceExpired  bool
	PushAvailable bool
}

// Decide picks the mechanism that should track an event right now.
// A push decision may still end in polling if no slot can be won.
func Decide(in Input) models.Mechanism {
	if !in.Tracked || (in.Phase == models.PhaseFinished && in.GraceExpired) {
		return models.MechanismNone
	}
	if in.Phase.InPlay() && (in.Priority || in.Tier == models.Tier1) && in.PushAvailable {
		return models.MechanismPush
	}
	return models.MechanismPoll
}

// mergePhase keeps an engine-observed phase when the caller reports one the
// lifecycle cannot move to
func mergePhase(known, reported models.Phase) models.Phase {
	if known == "" || known.CanTransition(reported) {
		return reported
	}
	return known
}
