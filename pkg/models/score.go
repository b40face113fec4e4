package models

import "time"

// Phase is the lifecycle stage of a tracked event
type Phase string

const (
	PhasePre          Phase = "pre"
	PhaseLive         Phase = "live"
	PhaseIntermission Phase = "intermission"
	PhaseDelayed      Phase = "delayed"
	PhaseFinished     Phase = "finished"
)

// Valid reports whether p is one of the known phases
func (p Phase) Valid() bool {
	switch p {
	case PhasePre, PhaseLive, PhaseIntermission, PhaseDelayed, PhaseFinished:
		return true
	}
	return false
}

// InPlay returns true for phases where the score can move
func (p Phase) InPlay() bool {
	return p == PhaseLive || p == PhaseIntermission || p == PhaseDelayed
}

// CanTransition reports whether moving from p to next respects the forward-only
// lifecycle: pre -> live <-> intermission -> finished, with delayed reachable from
// pre/live/intermission and leaving only to live or finished.
func (p Phase) CanTransition(next Phase) bool {
	if p == next {
		return true
	}
	switch p {
	case PhasePre:
		return next == PhaseLive || next == PhaseIntermission || next == PhaseDelayed || next == PhaseFinished
	case PhaseLive:
		return next == PhaseIntermission || next == PhaseDelayed || next == PhaseFinished
	case PhaseIntermission:
		return next == PhaseLive || next == PhaseDelayed || next == PhaseFinished
	case PhaseDelayed:
		return next == PhaseLive || next == PhaseFinished
	}
	return false
}

// Tier is the urgency class of a league (1 = marquee)
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
)

// TrackedEvent is a fixture the surrounding application wants kept fresh
type TrackedEvent struct {
	EventID   string    `json:"event_id"`
	League    string    `json:"league"`
	Phase     Phase     `json:"phase"`
	StartTime time.Time `json:"start_time,omitempty"` // zero when unknown
	Priority  bool      `json:"priority"`
}

// UpdateType tells consumers whether an update carries the whole state
type UpdateType string

const (
	UpdateFull  UpdateType = "full"
	UpdateDelta UpdateType = "delta"
)

// Provenance records which mechanism delivered a state
type Provenance string

const (
	ProvenancePoll Provenance = "poll"
	ProvenancePush Provenance = "push"
)

// Quality is a coarse connection-quality label
type Quality string

const (
	QualityGood         Quality = "good"
	QualityDegraded     Quality = "degraded"
	QualityDisconnected Quality = "disconnected"
)

// ScoreUpdate is a candidate state proposed by the scheduler or push manager
type ScoreUpdate struct {
	EventID    string     `json:"event_id"`
	League     string     `json:"league"`
	HomeScore  int        `json:"home_score"`
	AwayScore  int        `json:"away_score"`
	Phase      Phase      `json:"phase"`
	Period     string     `json:"period"`
	Timestamp  time.Time  `json:"timestamp"`
	Type       UpdateType `json:"type"`
	Source     Provenance `json:"source"`
	Quality    Quality    `json:"quality"`
	ReceivedAt time.Time  `json:"received_at"`
}

// ScoreState is the latest materialized state for one event
type ScoreState struct {
	EventID    string     `json:"event_id"`
	League     string     `json:"league"`
	HomeScore  int        `json:"home_score"`
	AwayScore  int        `json:"away_score"`
	Period     string     `json:"period"`
	Phase      Phase      `json:"phase"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Type       UpdateType `json:"type"`
	IsStale    bool       `json:"is_stale"`
	Provenance Provenance `json:"provenance"`
	Quality    Quality    `json:"quality"`
}

// Score is the numeric pair passed to score-change callbacks
type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// Score returns the numeric part of the state
func (s ScoreState) Score() Score {
	return Score{Home: s.HomeScore, Away: s.AwayScore}
}

// ScoreAlert is a derived score-change record handed to the persistence sink
type ScoreAlert struct {
	AlertID    string     `json:"alert_id"`
	EventID    string     `json:"event_id"`
	League     string     `json:"league"`
	Previous   Score      `json:"previous"`
	Current    Score      `json:"current"`
	Period     string     `json:"period"`
	Phase      Phase      `json:"phase"`
	Provenance Provenance `json:"provenance"`
	ObservedAt time.Time  `json:"observed_at"`
}
