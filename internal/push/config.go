package push

import (
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/rotisserie/eris"
)

var (
	// ErrCapacity is returned when every slot is held by an equal or higher rank
	ErrCapacity = eris.New("push capacity exhausted")

	// ErrDisabled is returned when no transport is configured or the manager is closed
	ErrDisabled = eris.New("push disabled")

	// ErrCooldown is returned for events that recently fell back to polling
	ErrCooldown = eris.New("push cooling down")
)

// Config controls admission and reconnect behavior
type Config struct {
	MaxConnections int           // hard cap on concurrent subscriptions
	MaxReconnects  int           // disconnects tolerated before fallback
	StableAfter    time.Duration // uptime after which the disconnect count resets
	Cooldown       time.Duration // time before a fallen-back event may return to push
}

// DefaultConfig returns the standard push policy
func DefaultConfig() Config {
	return Config{
		MaxConnections: 10,
		MaxReconnects:  2,
		StableAfter:    2 * time.Minute,
		Cooldown:       5 * time.Minute,
	}
}

// Request describes one event asking for a push slot
type Request struct {
	EventID string
	League  string
	Rank    int
}

// Rank orders admission: priority events outrank any tier, then lower tiers win
func Rank(priority bool, tier models.Tier) int {
	rank := 4 - int(tier)
	if priority {
		rank += 10
	}
	return rank
}
