package push

import (
	"sync"

	"github.com/XavierBriggs/Iris/pkg/models"
)

// Status aggregates every subscription into one status record
func (m *Manager) Status() models.PushStatus {
	m.mu.Lock()
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	reconnects := m.reconnects
	m.mu.Unlock()

	status := models.PushStatus{
		ConnectionType:    models.MechanismPoll,
		Quality:           models.QualityDisconnected,
		ReconnectAttempts: reconnects,
		ActiveConnections: len(subs),
		MaxConnections:    m.cfg.MaxConnections,
	}
	if len(subs) == 0 {
		return status
	}

	status.ConnectionType = models.MechanismPush
	connected, degraded := 0, 0
	for _, sub := range subs {
		s := sub.status()
		if s.Connected {
			connected++
		}
		status.Errors += s.Errors
		if s.Quality != models.QualityGood {
			degraded++
		}
		if s.LastHeartbeat.After(status.LastHeartbeat) {
			status.LastHeartbeat = s.LastHeartbeat
		}
	}

	status.Connected = connected > 0
	switch {
	case connected == 0:
		status.Quality = models.QualityDisconnected
	case degraded > 0:
		status.Quality = models.QualityDegraded
	default:
		status.Quality = models.QualityGood
	}
	return status
}

// EventStatus returns the status of one event's subscription
func (m *Manager) EventStatus(eventID string) (models.PushStatus, bool) {
	m.mu.Lock()
	sub, ok := m.subs[eventID]
	active := len(m.subs)
	m.mu.Unlock()
	if !ok {
		return models.PushStatus{}, false
	}

	s := sub.status()
	s.ActiveConnections = active
	s.MaxConnections = m.cfg.MaxConnections
	return s, true
}

// SubscribeStatus registers fn for every status change
func (m *Manager) SubscribeStatus(fn func(models.PushStatus)) (unsubscribe func()) {
	m.statusMu.Lock()
	id := m.nextID
	m.nextID++
	m.statusSubs[id] = fn
	m.statusMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.statusMu.Lock()
			delete(m.statusSubs, id)
			m.statusMu.Unlock()
		})
	}
}

func (m *Manager) publishStatus() {
	status := m.Status()
	m.monitor.SetConnections(status.ActiveConnections, status.MaxConnections)

	m.statusMu.Lock()
	fns := make([]func(models.PushStatus), 0, len(m.statusSubs))
	for _, fn := range m.statusSubs {
		fns = append(fns, fn)
	}
	m.statusMu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}
