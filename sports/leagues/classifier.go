package leagues

import (
	"time"

	"github.com/XavierBriggs/Iris/internal/registry"
	"github.com/XavierBriggs/Iris/pkg/models"
)

// Classifier maps leagues to tiers and events to refresh intervals.
// Both the scheduler and the push manager consult the same instance.
type Classifier struct {
	config   *Config
	registry *registry.LeagueRegistry
}

// NewClassifier creates a classifier; a nil config uses DefaultConfig
func NewClassifier(config *Config, reg *registry.LeagueRegistry) *Classifier {
	if config == nil {
		config = DefaultConfig()
	}
	if reg == nil {
		reg = registry.NewLeagueRegistry()
	}
	return &Classifier{config: config, registry: reg}
}

// Config returns the policy in use
func (c *Classifier) Config() *Config {
	return c.config
}

// TierOf returns the tier of a league; unknown leagues are tier 3
func (c *Classifier) TierOf(league string) models.Tier {
	if l, ok := c.registry.Get(league); ok {
		return l.Tier
	}
	return models.Tier3
}

// LiveInterval returns the live refresh interval for a league
func (c *Classifier) LiveInterval(league string) time.Duration {
	if l, ok := c.registry.Get(league); ok && l.LiveInterval > 0 {
		return l.LiveInterval
	}
	return c.config.TierInterval(c.TierOf(league))
}

// IntervalFor returns the base interval for a league in a phase.
// Pre-game returns the far interval; use PollInterval for the lead window.
func (c *Classifier) IntervalFor(league string, phase models.Phase) time.Duration {
	switch phase {
	case models.PhaseLive, models.PhaseIntermission, models.PhaseDelayed:
		return c.LiveInterval(league)
	case models.PhaseFinished:
		return c.config.GraceInterval
	default:
		return c.config.PreGameInterval
	}
}

// PollInterval computes the interval for one event at now
func (c *Classifier) PollInterval(ev models.TrackedEvent, now time.Time) time.Duration {
	switch ev.Phase {
	case models.PhasePre:
		if c.InLeadWindow(ev, now) {
			return c.LiveInterval(ev.League)
		}
		return c.config.PreGameInterval
	case models.PhaseLive:
		interval := c.LiveInterval(ev.League)
		if ev.Priority && c.config.FastLane > 0 && c.config.FastLane < interval {
			return c.config.FastLane
		}
		return interval
	default:
		return c.IntervalFor(ev.League, ev.Phase)
	}
}

// InLeadWindow reports whether a pre-game event starts within the lead window.
// Unknown start times are treated as far away.
func (c *Classifier) InLeadWindow(ev models.TrackedEvent, now time.Time) bool {
	if ev.Phase != models.PhasePre || ev.StartTime.IsZero() {
		return false
	}
	return ev.StartTime.Sub(now) <= c.config.LeadWindow
}

// LeadWindowOpens returns when a far pre-game event enters the lead window.
// The zero time means the interval will not tighten with time alone.
func (c *Classifier) LeadWindowOpens(ev models.TrackedEvent, now time.Time) time.Time {
	if ev.Phase != models.PhasePre || ev.StartTime.IsZero() || c.InLeadWindow(ev, now) {
		return time.Time{}
	}
	return ev.StartTime.Add(-c.config.LeadWindow)
}

// StaleAfter returns the freshness threshold of a phase; zero means never stale
func (c *Classifier) StaleAfter(phase models.Phase) time.Duration {
	return c.config.StaleAfter[phase]
}

// IsStale reports whether a state is older than its phase threshold at now
func (c *Classifier) IsStale(state models.ScoreState, now time.Time) bool {
	threshold := c.StaleAfter(state.Phase)
	if threshold <= 0 || state.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(state.UpdatedAt) > threshold
}
