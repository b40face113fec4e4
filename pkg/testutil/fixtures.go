package testutil

import (
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
)

// BaseTime is a fixed reference instant for deterministic tests
var BaseTime = time.Date(2026, time.January, 10, 19, 30, 0, 0, time.UTC)

// NewTestEvent creates a tracked event
func NewTestEvent(eventID, league string, phase models.Phase, priority bool) models.TrackedEvent {
	return models.TrackedEvent{
		EventID:  eventID,
		League:   league,
		Phase:    phase,
		Priority: priority,
	}
}

// NewPreGameEvent creates a pre-game event starting after the given offset from now
func NewPreGameEvent(eventID, league string, now time.Time, startsIn time.Duration) models.TrackedEvent {
	return models.TrackedEvent{
		EventID:   eventID,
		League:    league,
		Phase:     models.PhasePre,
		StartTime: now.Add(startsIn),
	}
}

// NewTestUpdate creates a full poll update
func NewTestUpdate(eventID, league string, home, away int, phase models.Phase, ts time.Time) models.ScoreUpdate {
	return models.ScoreUpdate{
		EventID:    eventID,
		League:     league,
		HomeScore:  home,
		AwayScore:  away,
		Phase:      phase,
		Period:     "Q1 10:00",
		Timestamp:  ts,
		Type:       models.UpdateFull,
		Source:     models.ProvenancePoll,
		Quality:    models.QualityGood,
		ReceivedAt: ts,
	}
}

// NewPushUpdate creates an incremental push update
func NewPushUpdate(eventID, league string, home, away int, phase models.Phase, ts time.Time) models.ScoreUpdate {
	u := NewTestUpdate(eventID, league, home, away, phase, ts)
	u.Type = models.UpdateDelta
	u.Source = models.ProvenancePush
	return u
}

// TestLeagues returns one league per tier
func TestLeagues() []models.League {
	return []models.League{
		{Key: "basketball_nba", DisplayName: "NBA", Tier: models.Tier1},
		{Key: "baseball_mlb", DisplayName: "MLB", Tier: models.Tier2},
		{Key: "tennis_atp", DisplayName: "ATP Tennis", Tier: models.Tier3},
	}
}
