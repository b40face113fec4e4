package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
	"go.uber.org/zap"
)

// Config holds monitor cadence and recommendation thresholds
type Config struct {
	Interval           time.Duration // snapshot broadcast cadence
	ErrorRateThreshold float64       // fraction of failed fetches
	StaleRateThreshold float64       // fraction of stale tracked events
	FallbackThreshold  int           // push fallbacks within FallbackWindow
	FallbackWindow     time.Duration
	SlowLatency        time.Duration // average fetch latency per tier
	MinRequests        int64         // requests needed before rate checks apply
}

// DefaultConfig returns the standard monitor thresholds
func DefaultConfig() Config {
	return Config{
		Interval:           time.Second,
		ErrorRateThreshold: 0.20,
		StaleRateThreshold: 0.25,
		FallbackThreshold:  3,
		FallbackWindow:     5 * time.Minute,
		SlowLatency:        2 * time.Second,
		MinRequests:        10,
	}
}

const maxFallbackMarks = 64

// Monitor aggregates fetch and push counters and broadcasts snapshots.
// It holds no business logic; every component reports into it.
type Monitor struct {
	cfg Config
	now func() time.Time
	log *zap.Logger

	mu            sync.Mutex
	started       time.Time
	tiers         map[models.Tier]models.TierStats
	requests      int64
	errors        int64
	pushMessages  int64
	malformed     int64
	reconnects    int64
	fallbacks     int64
	fallbackMarks []time.Time
	active        int
	max           int
	tracked       int
	stale         int

	windowStart    time.Time
	windowRequests int64
	throughput     float64

	subMu  sync.Mutex
	subs   map[int]func(models.MonitoringSnapshot)
	nextID int
}

// New creates a monitor. now may be nil to use time.Now.
func New(cfg Config, now func() time.Time) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = def.ErrorRateThreshold
	}
	if cfg.StaleRateThreshold <= 0 {
		cfg.StaleRateThreshold = def.StaleRateThreshold
	}
	if cfg.FallbackThreshold <= 0 {
		cfg.FallbackThreshold = def.FallbackThreshold
	}
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = def.FallbackWindow
	}
	if cfg.SlowLatency <= 0 {
		cfg.SlowLatency = def.SlowLatency
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = def.MinRequests
	}
	if now == nil {
		now = time.Now
	}

	started := now()
	return &Monitor{
		cfg:         cfg,
		now:         now,
		log:         zap.L().With(zap.String("component", "monitor")),
		started:     started,
		windowStart: started,
		tiers:       make(map[models.Tier]models.TierStats),
		subs:        make(map[int]func(models.MonitoringSnapshot)),
	}
}

// RecordFetch records one upstream fetch attempt for a tier
func (m *Monitor) RecordFetch(tier models.Tier, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.tiers[tier]
	stats.Requests++
	stats.TotalLatency += latency
	m.requests++
	if err != nil {
		stats.Errors++
		m.errors++
	}
	m.tiers[tier] = stats
}

// RecordPushMessage counts one message delivered over a push channel
func (m *Monitor) RecordPushMessage() {
	m.mu.Lock()
	m.pushMessages++
	m.mu.Unlock()
}

// RecordMalformed counts one push message dropped as invalid
func (m *Monitor) RecordMalformed() {
	m.mu.Lock()
	m.malformed++
	m.mu.Unlock()
}

// RecordReconnect counts one push reconnect attempt
func (m *Monitor) RecordReconnect() {
	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
}

// RecordFallback counts an event moving from push back to polling
func (m *Monitor) RecordFallback(eventID, reason string) {
	m.mu.Lock()
	m.fallbacks++
	m.fallbackMarks = append(m.fallbackMarks, m.now())
	if len(m.fallbackMarks) > maxFallbackMarks {
		m.fallbackMarks = m.fallbackMarks[len(m.fallbackMarks)-maxFallbackMarks:]
	}
	m.mu.Unlock()

	m.log.Info("push fallback to polling",
		zap.String("event_id", eventID),
		zap.String("reason", reason))
}

// SetConnections updates active and maximum push connection counts
func (m *Monitor) SetConnections(active, max int) {
	m.mu.Lock()
	m.active = active
	m.max = max
	m.mu.Unlock()
}

// SetTracked updates the tracked and stale event counts
func (m *Monitor) SetTracked(tracked, stale int) {
	m.mu.Lock()
	m.tracked = tracked
	m.stale = stale
	m.mu.Unlock()
}

// Snapshot returns an immutable view of the current counters
func (m *Monitor) Snapshot() models.MonitoringSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.snapshotLocked(m.now())
}

func (m *Monitor) snapshotLocked(now time.Time) models.MonitoringSnapshot {
	tiers := make(map[models.Tier]models.TierStats, len(m.tiers))
	for tier, stats := range m.tiers {
		if stats.Requests > 0 {
			stats.AvgLatency = stats.TotalLatency / time.Duration(stats.Requests)
		}
		tiers[tier] = stats
	}

	snap := models.MonitoringSnapshot{
		GeneratedAt:       now,
		Uptime:            now.Sub(m.started),
		Tiers:             tiers,
		TotalRequests:     m.requests,
		Successes:         m.requests - m.errors,
		Errors:            m.errors,
		Throughput:        m.throughput,
		PushMessages:      m.pushMessages,
		MalformedMessages: m.malformed,
		Reconnects:        m.reconnects,
		Fallbacks:         m.fallbacks,
		ActiveConnections: m.active,
		MaxConnections:    m.max,
		TrackedEvents:     m.tracked,
		StaleEvents:       m.stale,
	}
	if m.requests > 0 {
		snap.SuccessRate = float64(snap.Successes) / float64(m.requests)
	}
	if m.tracked > 0 {
		snap.StaleRate = float64(m.stale) / float64(m.tracked)
	}
	snap.Recommendations = m.recommend(snap, now)
	return snap
}

// Subscribe registers fn to receive every published snapshot
func (m *Monitor) Subscribe(fn func(models.MonitoringSnapshot)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

// Publish regenerates the snapshot and hands it to every subscriber
func (m *Monitor) Publish() models.MonitoringSnapshot {
	m.mu.Lock()
	now := m.now()
	if elapsed := now.Sub(m.windowStart); elapsed > 0 {
		m.throughput = float64(m.requests-m.windowRequests) / elapsed.Seconds()
	}
	m.windowStart = now
	m.windowRequests = m.requests
	snap := m.snapshotLocked(now)
	m.mu.Unlock()

	m.subMu.Lock()
	fns := make([]func(models.MonitoringSnapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
	return snap
}

// Run publishes snapshots on the configured cadence until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Publish()
		}
	}
}
