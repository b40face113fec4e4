package push

import (
	"context"
	"sync"
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
)

type subscription struct {
	eventID string
	league  string
	seq     uint64
	ctx     context.Context
	cancel  context.CancelFunc

	fallbackOnce sync.Once

	mu            sync.Mutex
	rank          int
	onUpdate      func(models.ScoreUpdate)
	connected     bool
	attempts      int
	malformed     int
	lastHeartbeat time.Time
	quality       models.Quality
}

func (s *subscription) setHandler(rank int, fn func(models.ScoreUpdate)) {
	s.mu.Lock()
	s.rank = rank
	if fn != nil {
		s.onUpdate = fn
	}
	s.mu.Unlock()
}

func (s *subscription) handler() func(models.ScoreUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onUpdate
}

func (s *subscription) getRank() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rank
}

func (s *subscription) setConnected(connected bool, attempts int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
	s.attempts = attempts
	if connected {
		s.lastHeartbeat = at
	}
	s.quality = qualityOf(connected, attempts, s.malformed)
}

func (s *subscription) setAttempts(attempts int) {
	s.mu.Lock()
	s.attempts = attempts
	s.quality = qualityOf(s.connected, attempts, s.malformed)
	s.mu.Unlock()
}

// recordMalformed bumps the failure counter for a dropped message
func (s *subscription) recordMalformed() {
	s.mu.Lock()
	s.malformed++
	s.quality = qualityOf(s.connected, s.attempts, s.malformed)
	s.mu.Unlock()
}

// recordValid resets the failure counter and reports whether it was set
func (s *subscription) recordValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.malformed == 0 {
		return false
	}
	s.malformed = 0
	s.quality = qualityOf(s.connected, s.attempts, 0)
	return true
}

func (s *subscription) heartbeat(at time.Time) {
	s.mu.Lock()
	s.lastHeartbeat = at
	s.mu.Unlock()
}

func (s *subscription) getQuality() models.Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality
}

func (s *subscription) status() models.PushStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.PushStatus{
		ConnectionType:    models.MechanismPush,
		Connected:         s.connected,
		LastHeartbeat:     s.lastHeartbeat,
		ReconnectAttempts: s.attempts,
		Errors:            s.malformed,
		Quality:           s.quality,
	}
}

func qualityOf(connected bool, attempts, malformed int) models.Quality {
	switch {
	case !connected:
		return models.QualityDisconnected
	case attempts > 0 || malformed > 0:
		return models.QualityDegraded
	default:
		return models.QualityGood
	}
}
