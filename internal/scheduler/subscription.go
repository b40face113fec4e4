package scheduler

import (
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
)

// pollSub is the per-event timer state; guarded by Scheduler.mu
type pollSub struct {
	eventID     string // immutable
	event       models.TrackedEvent
	state       models.PollState
	interval    time.Duration
	nextDue     time.Time
	failures    int
	inFlight    bool
	lastAttempt time.Time
	lastUpdate  time.Time
}

func (p *pollSub) claim() {
	p.inFlight = true
	p.state = models.PollFetching
}

// release returns a claimed event to its timer without recording an attempt
func (p *pollSub) release() {
	p.inFlight = false
	if p.failures > 0 {
		p.state = models.PollBackoff
	} else {
		p.state = models.PollScheduled
	}
}

func (p *pollSub) info(tier models.Tier) models.SubscriptionInfo {
	return models.SubscriptionInfo{
		EventID:     p.event.EventID,
		League:      p.event.League,
		Tier:        tier,
		Phase:       p.event.Phase,
		Priority:    p.event.Priority,
		Mechanism:   models.MechanismPoll,
		PollState:   p.state,
		Interval:    p.interval,
		ErrorCount:  p.failures,
		LastAttempt: p.lastAttempt,
		NextDue:     p.nextDue,
		LastUpdate:  p.lastUpdate,
	}
}
