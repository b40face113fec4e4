package leagues

import (
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
)

// Config contains the refresh policy shared by polling and push
type Config struct {
	// Live refresh interval per tier
	TierIntervals map[models.Tier]time.Duration

	// Interval used for pre-game events far from start
	PreGameInterval time.Duration

	// How long before start pre-game events tighten to the live interval
	LeadWindow time.Duration

	// Hard minimum for priority events while live
	FastLane time.Duration

	// Reduced-rate polling after an event finishes
	GraceWindow   time.Duration
	GraceInterval time.Duration

	// Freshness thresholds per phase; zero means never stale
	StaleAfter map[models.Phase]time.Duration
}

// DefaultConfig returns the standard refresh policy
func DefaultConfig() *Config {
	return &Config{
		TierIntervals: map[models.Tier]time.Duration{
			models.Tier1: 10 * time.Second,
			models.Tier2: 20 * time.Second,
			models.Tier3: 45 * time.Second,
		},
		PreGameInterval: 5 * time.Minute,
		LeadWindow:      15 * time.Minute,
		FastLane:        5 * time.Second,
		GraceWindow:     5 * time.Minute,
		GraceInterval:   60 * time.Second,
		StaleAfter: map[models.Phase]time.Duration{
			models.PhaseLive:         45 * time.Second,
			models.PhaseIntermission: 3 * time.Minute,
			models.PhaseDelayed:      5 * time.Minute,
			models.PhasePre:          15 * time.Minute,
			models.PhaseFinished:     0,
		},
	}
}

// TierInterval returns the live interval configured for a tier,
// falling back to the slowest configured tier
func (c *Config) TierInterval(tier models.Tier) time.Duration {
	if d, ok := c.TierIntervals[tier]; ok && d > 0 {
		return d
	}
	var slowest time.Duration
	for _, d := range c.TierIntervals {
		if d > slowest {
			slowest = d
		}
	}
	if slowest == 0 {
		return 45 * time.Second
	}
	return slowest
}
