package push

import (
	"context"
	"sync"
	"time"

	"github.com/XavierBriggs/Iris/internal/backoff"
	"github.com/XavierBriggs/Iris/internal/monitor"
	"github.com/XavierBriggs/Iris/pkg/contracts"
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/XavierBriggs/Iris/sports/leagues"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FallbackFunc is told when an event lost its push slot and must be polled
type FallbackFunc func(eventID, reason string)

// Manager owns at most MaxConnections push subscriptions keyed by event id.
// Admission and eviction are decided here and nowhere else.
type Manager struct {
	cfg       Config
	transport contracts.PushTransport
	backoff   *backoff.Calculator
	monitor   *monitor.Monitor
	now       func() time.Time
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	subs       map[string]*subscription
	cooldown   map[string]time.Time
	onFallback FallbackFunc
	reconnects int
	seq        uint64
	closed     bool

	statusMu   sync.Mutex
	statusSubs map[int]func(models.PushStatus)
	nextID     int
}

// NewManager creates a push manager. A nil transport disables push.
func NewManager(cfg Config, transport contracts.PushTransport, bo *backoff.Calculator, mon *monitor.Monitor, now func() time.Time) *Manager {
	def := DefaultConfig()
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.MaxReconnects < 0 {
		cfg.MaxReconnects = 0
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = def.StableAfter
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if bo == nil {
		bo = backoff.New(backoff.DefaultConfig())
	}
	if mon == nil {
		mon = monitor.New(monitor.DefaultConfig(), now)
	}
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		transport:  transport,
		backoff:    bo,
		monitor:    mon,
		now:        now,
		log:        zap.L().With(zap.String("component", "push")),
		ctx:        ctx,
		cancel:     cancel,
		subs:       make(map[string]*subscription),
		cooldown:   make(map[string]time.Time),
		statusSubs: make(map[int]func(models.PushStatus)),
	}
	mon.SetConnections(0, cfg.MaxConnections)
	return m
}

// Enabled reports whether the manager can accept subscriptions
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport != nil && !m.closed
}

// OnFallback sets the handler invoked when a subscription is torn down
// because of eviction or an exhausted reconnect budget. The handler runs
// on its own goroutine.
func (m *Manager) OnFallback(fn FallbackFunc) {
	m.mu.Lock()
	m.onFallback = fn
	m.mu.Unlock()
}

// Subscribe admits an event. At capacity the lowest-ranked subscription is
// evicted only when req.Rank is strictly higher; otherwise ErrCapacity.
// Subscribing an already admitted event refreshes its rank and callback.
func (m *Manager) Subscribe(req Request, onUpdate func(models.ScoreUpdate)) (func(), error) {
	m.mu.Lock()
	if m.transport == nil || m.closed {
		m.mu.Unlock()
		return nil, ErrDisabled
	}

	if existing, ok := m.subs[req.EventID]; ok {
		existing.setHandler(req.Rank, onUpdate)
		m.mu.Unlock()
		return func() { m.unsubscribe(existing) }, nil
	}

	now := m.now()
	if until, ok := m.cooldown[req.EventID]; ok {
		if now.Before(until) {
			m.mu.Unlock()
			return nil, ErrCooldown
		}
		delete(m.cooldown, req.EventID)
	}

	var victim *subscription
	if len(m.subs) >= m.cfg.MaxConnections {
		victim = m.lowestLocked()
		if victim == nil || req.Rank <= victim.getRank() {
			m.mu.Unlock()
			return nil, ErrCapacity
		}
		delete(m.subs, victim.eventID)
	}

	m.seq++
	ctx, cancel := context.WithCancel(m.ctx)
	sub := &subscription{
		eventID:  req.EventID,
		league:   req.League,
		rank:     req.Rank,
		seq:      m.seq,
		onUpdate: onUpdate,
		ctx:      ctx,
		cancel:   cancel,
		quality:  models.QualityDisconnected,
	}
	m.subs[req.EventID] = sub
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(sub)

	if victim != nil {
		victim.cancel()
		m.log.Info("evicted push subscription",
			zap.String("event_id", victim.eventID),
			zap.String("by", req.EventID))
		m.fallback(victim, "evicted by higher priority event")
	}

	m.log.Debug("push subscription admitted",
		zap.String("event_id", req.EventID),
		zap.Int("rank", req.Rank))
	m.publishStatus()

	return func() { m.unsubscribe(sub) }, nil
}

// lowestLocked picks the eviction candidate: lowest rank, newest on ties
func (m *Manager) lowestLocked() *subscription {
	var lowest *subscription
	for _, sub := range m.subs {
		if lowest == nil {
			lowest = sub
			continue
		}
		r, lr := sub.getRank(), lowest.getRank()
		if r < lr || (r == lr && sub.seq > lowest.seq) {
			lowest = sub
		}
	}
	return lowest
}

func (m *Manager) unsubscribe(sub *subscription) {
	m.mu.Lock()
	removed := false
	if current, ok := m.subs[sub.eventID]; ok && current == sub {
		delete(m.subs, sub.eventID)
		removed = true
	}
	m.mu.Unlock()

	sub.cancel()
	if removed {
		m.log.Debug("push subscription released", zap.String("event_id", sub.eventID))
		m.publishStatus()
	}
}

// HasConnection reports whether the event currently holds a push slot
func (m *Manager) HasConnection(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[eventID]
	return ok
}

// InCooldown reports whether the event is barred from push at the moment
func (m *Manager) InCooldown(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.cooldown[eventID]
	return ok && m.now().Before(until)
}

// Active returns the number of held slots
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// MaxConnections returns the slot cap
func (m *Manager) MaxConnections() int {
	return m.cfg.MaxConnections
}

// Close tears down every subscription and waits for their goroutines.
// No fallback is signalled for subscriptions closed this way.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.publishStatus()
	m.log.Info("push manager closed")
}

func (m *Manager) fallback(sub *subscription, reason string) {
	sub.fallbackOnce.Do(func() {
		m.monitor.RecordFallback(sub.eventID, reason)

		m.mu.Lock()
		fn := m.onFallback
		closed := m.closed
		m.mu.Unlock()

		if fn != nil && !closed {
			go fn(sub.eventID, reason)
		}
	})
}

// giveUp ends a subscription whose reconnect budget is spent
func (m *Manager) giveUp(sub *subscription, reason string) {
	m.mu.Lock()
	if current, ok := m.subs[sub.eventID]; ok && current == sub {
		delete(m.subs, sub.eventID)
	}
	if m.cfg.Cooldown > 0 {
		m.cooldown[sub.eventID] = m.now().Add(m.cfg.Cooldown)
	}
	m.mu.Unlock()

	sub.cancel()
	m.log.Warn("push subscription gave up",
		zap.String("event_id", sub.eventID),
		zap.String("reason", reason))
	m.fallback(sub, reason)
	m.publishStatus()
}

// run owns the connection lifecycle of one subscription
func (m *Manager) run(sub *subscription) {
	defer m.wg.Done()

	failures := 0
	for {
		if sub.ctx.Err() != nil {
			return
		}

		ch, err := m.transport.Open(sub.ctx, sub.eventID, sub.league)
		if err != nil {
			if sub.ctx.Err() != nil {
				return
			}
			failures++
			m.log.Warn("push connect failed",
				zap.String("event_id", sub.eventID),
				zap.Int("attempt", failures),
				zap.Error(err))
			if !m.retry(sub, failures, "connect failed") {
				return
			}
			continue
		}

		connectedAt := m.now()
		sub.setConnected(true, failures, connectedAt)
		m.publishStatus()

		err = m.pump(sub, ch)
		_ = ch.Close()
		sub.setConnected(false, failures, time.Time{})

		if sub.ctx.Err() != nil {
			return
		}

		if m.now().Sub(connectedAt) >= m.cfg.StableAfter {
			failures = 0
		}
		failures++
		m.log.Warn("push channel dropped",
			zap.String("event_id", sub.eventID),
			zap.Int("disconnects", failures),
			zap.Error(err))

		if !m.retry(sub, failures, "reconnect budget exhausted") {
			return
		}
	}
}

// retry waits out the backoff before the next connect, or gives up
func (m *Manager) retry(sub *subscription, failures int, reason string) bool {
	if failures > m.cfg.MaxReconnects {
		m.giveUp(sub, reason)
		return false
	}

	m.monitor.RecordReconnect()
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
	sub.setAttempts(failures)
	m.publishStatus()

	timer := time.NewTimer(m.backoff.Delay(failures))
	defer timer.Stop()
	select {
	case <-sub.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// pump forwards channel messages until the channel fails or the subscription ends
func (m *Manager) pump(sub *subscription, ch contracts.PushChannel) error {
	for {
		msg, err := ch.Recv(sub.ctx)
		if err != nil {
			return err
		}

		now := m.now()
		sub.heartbeat(now)
		if msg.Kind != contracts.PushUpdate {
			continue
		}

		update := msg.Update
		if update.EventID == "" {
			update.EventID = sub.eventID
		}
		if update.League == "" {
			update.League = sub.league
		}
		update.Source = models.ProvenancePush
		if update.Type == "" {
			update.Type = models.UpdateDelta
		}
		if update.ReceivedAt.IsZero() {
			update.ReceivedAt = now
		}

		err = leagues.ValidateUpdate(update)
		if err == nil && update.EventID != sub.eventID {
			err = eris.Errorf("message for event %s on channel of %s", update.EventID, sub.eventID)
		}
		if err != nil {
			sub.recordMalformed()
			m.monitor.RecordMalformed()
			m.log.Debug("dropping push message", zap.String("event_id", sub.eventID), zap.Error(err))
			m.publishStatus()
			continue
		}

		m.monitor.RecordPushMessage()
		if sub.recordValid() {
			m.publishStatus()
		}
		update.Quality = sub.getQuality()

		if fn := sub.handler(); fn != nil && sub.ctx.Err() == nil {
			fn(update)
		}
	}
}
