package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/XavierBriggs/Iris/internal/backoff"
	"github.com/XavierBriggs/Iris/internal/monitor"
	"github.com/XavierBriggs/Iris/internal/push"
	"github.com/XavierBriggs/Iris/internal/scheduler"
	"github.com/XavierBriggs/Iris/pkg/contracts"
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/XavierBriggs/Iris/sports/leagues"
	"go.uber.org/zap"
)

// Config controls the orchestrator
type Config struct {
	Scheduler            scheduler.Config
	RetainFor            time.Duration // how long state of untracked events stays readable
	HistorySize          int           // applied states kept per event
	HousekeepingInterval time.Duration
	SinkTimeout          time.Duration
}

// DefaultConfig returns the standard engine configuration
func DefaultConfig() Config {
	return Config{
		Scheduler:            scheduler.DefaultConfig(),
		RetainFor:            30 * time.Minute,
		HistorySize:          50,
		HousekeepingInterval: 5 * time.Second,
		SinkTimeout:          2 * time.Second,
	}
}

// PriorityFunc marks events relevant to the current viewer
type PriorityFunc func(models.TrackedEvent) bool

// ScoreChangeFunc is told when an event's numeric score moves
type ScoreChangeFunc func(eventID string, score models.Score)

// Deps are the collaborators of the engine. Only Classifier is required;
// a nil Provider disables polling and a nil Push disables push.
type Deps struct {
	Provider   contracts.ScoreProvider
	Push       *push.Manager
	Classifier *leagues.Classifier
	Backoff    *backoff.Calculator
	Monitor    *monitor.Monitor
	Store      contracts.StateStore
	Alerts     contracts.AlertSink
	Finals     contracts.FinalSink
	Now        func() time.Time
}

// Engine decides per event whether push or polling tracks it and is the only
// writer of the score state table
type Engine struct {
	cfg        Config
	classifier *leagues.Classifier
	sched      *scheduler.Scheduler
	push       *push.Manager
	monitor    *monitor.Monitor
	store      contracts.StateStore
	alerts     contracts.AlertSink
	finals     contracts.FinalSink
	now        func() time.Time
	log        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	events        map[string]*tracked
	states        map[string]*entry
	quiesced      map[string]time.Time
	priorityFn    PriorityFunc
	onScoreChange ScoreChangeFunc
	stopRun       context.CancelFunc
	closed        bool
	shutdownOnce  sync.Once
}

type tracked struct {
	event       models.TrackedEvent
	mechanism   models.Mechanism
	unsubscribe func()
	finishedAt  time.Time
}

type entry struct {
	state       models.ScoreState
	history     *ring
	untrackedAt time.Time
}

// New wires the scheduler and push manager into an engine
func New(cfg Config, deps Deps) *Engine {
	def := DefaultConfig()
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = def.RetainFor
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.HousekeepingInterval <= 0 {
		cfg.HousekeepingInterval = def.HousekeepingInterval
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = def.SinkTimeout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Classifier == nil {
		deps.Classifier = leagues.NewClassifier(nil, nil)
	}
	if deps.Monitor == nil {
		deps.Monitor = monitor.New(monitor.DefaultConfig(), deps.Now)
	}
	if deps.Backoff == nil {
		deps.Backoff = backoff.New(backoff.DefaultConfig())
	}
	if deps.Push == nil {
		deps.Push = push.NewManager(push.DefaultConfig(), nil, deps.Backoff, deps.Monitor, deps.Now)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		classifier: deps.Classifier,
		push:       deps.Push,
		monitor:    deps.Monitor,
		store:      deps.Store,
		alerts:     deps.Alerts,
		finals:     deps.Finals,
		now:        deps.Now,
		log:        zap.L().With(zap.String("component", "engine")),
		ctx:        ctx,
		cancel:     cancel,
		events:     make(map[string]*tracked),
		states:     make(map[string]*entry),
		quiesced:   make(map[string]time.Time),
	}
	e.sched = scheduler.NewScheduler(cfg.Scheduler, deps.Provider, deps.Classifier, deps.Backoff, deps.Monitor, e.handleUpdate, deps.Now)
	e.push.OnFallback(e.handleFallback)
	return e
}

// Start runs the polling loop, the monitor broadcaster and housekeeping.
// Missing polling or push is logged and the engine keeps running degraded.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.stopRun = cancel
	e.mu.Unlock()

	if err := e.sched.Start(ctx); err != nil {
		if errors.Is(err, scheduler.ErrDisabled) {
			e.log.Warn("polling disabled, running push only")
		} else {
			e.log.Error("start scheduler", zap.Error(err))
		}
	}
	if !e.push.Enabled() {
		e.log.Warn("push disabled, running poll only")
	}

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.monitor.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.housekeeping(ctx)
	}()
}

func (e *Engine) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.HousekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(e.now())
		}
	}
}

// Shutdown cancels every timer and closes every push connection before
// returning. Calling it again is a no-op.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		stopRun := e.stopRun
		for _, t := range e.events {
			t.unsubscribe = nil
			t.mechanism = models.MechanismNone
		}
		e.mu.Unlock()

		if stopRun != nil {
			stopRun()
		}
		e.sched.Stop()
		e.push.Close()
		e.wg.Wait()
		e.cancel()
		e.log.Info("engine shut down")
	})
}

// SetPriorityFunc installs the predicate consulted on every Track call
func (e *Engine) SetPriorityFunc(fn PriorityFunc) {
	e.mu.Lock()
	e.priorityFn = fn
	e.mu.Unlock()
}

// OnScoreChange installs the score-change callback
func (e *Engine) OnScoreChange(fn ScoreChangeFunc) {
	e.mu.Lock()
	e.onScoreChange = fn
	e.mu.Unlock()
}

// GetState returns the latest state of an event with staleness computed at now
func (e *Engine) GetState(eventID string) (models.ScoreState, bool) {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.states[eventID]
	if !ok {
		return models.ScoreState{}, false
	}
	state := ent.state
	state.IsStale = e.classifier.IsStale(state, now)
	return state, true
}

// States returns a copy of the whole state table
func (e *Engine) States() map[string]models.ScoreState {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]models.ScoreState, len(e.states))
	for id, ent := range e.states {
		state := ent.state
		state.IsStale = e.classifier.IsStale(state, now)
		out[id] = state
	}
	return out
}

// History returns the retained states of an event, oldest first
func (e *Engine) History(eventID string) []models.ScoreState {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.states[eventID]
	if !ok {
		return nil
	}
	return ent.history.items()
}

// Mechanism returns what currently tracks an event
func (e *Engine) Mechanism(eventID string) models.Mechanism {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.events[eventID]; ok {
		return t.mechanism
	}
	return models.MechanismNone
}

// Subscriptions returns the per-event debug view ordered by event id
func (e *Engine) Subscriptions() []models.SubscriptionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos := make([]models.SubscriptionInfo, 0, len(e.events))
	for id, t := range e.events {
		info := models.SubscriptionInfo{
			EventID:   id,
			League:    t.event.League,
			Tier:      e.classifier.TierOf(t.event.League),
			Phase:     t.event.Phase,
			Priority:  t.event.Priority,
			Mechanism: t.mechanism,
		}

		switch t.mechanism {
		case models.MechanismPoll:
			if si, ok := e.sched.Info(id); ok {
				info.PollState = si.PollState
				info.Interval = si.Interval
				info.ErrorCount = si.ErrorCount
				info.LastAttempt = si.LastAttempt
				info.NextDue = si.NextDue
			}
		case models.MechanismPush:
			if ps, ok := e.push.EventStatus(id); ok {
				info.ErrorCount = ps.ReconnectAttempts + ps.Errors
				info.LastAttempt = ps.LastHeartbeat
			}
		}
		if ent, ok := e.states[id]; ok {
			info.LastUpdate = ent.state.UpdatedAt
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].EventID < infos[j].EventID })
	return infos
}

// ForceRefresh fetches every tracked event now, bucketed by league.
// Failing events keep their backoff.
func (e *Engine) ForceRefresh(ctx context.Context) error {
	e.mu.Lock()
	var pushed []models.TrackedEvent
	for _, t := range e.events {
		if t.mechanism == models.MechanismPush {
			pushed = append(pushed, t.event)
		}
	}
	e.mu.Unlock()

	return e.sched.Refresh(ctx, pushed)
}

// Snapshot returns the current monitoring snapshot
func (e *Engine) Snapshot() models.MonitoringSnapshot {
	return e.monitor.Snapshot()
}

// SubscribeMonitoring registers fn for every published snapshot
func (e *Engine) SubscribeMonitoring(fn func(models.MonitoringSnapshot)) (unsubscribe func()) {
	return e.monitor.Subscribe(fn)
}

// PushStatus returns the aggregate push channel status
func (e *Engine) PushStatus() models.PushStatus {
	return e.push.Status()
}

// SubscribePushStatus registers fn for push status changes
func (e *Engine) SubscribePushStatus(fn func(models.PushStatus)) (unsubscribe func()) {
	return e.push.SubscribeStatus(fn)
}

// Seed warms the state table from the configured store for tracked events
func (e *Engine) Seed(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}

	e.mu.Lock()
	ids := make([]string, 0, len(e.events))
	for id := range e.events {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	if len(ids) == 0 {
		return 0, nil
	}

	states, err := e.store.Load(ctx, ids)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	seeded := 0
	for _, s := range states {
		if _, ok := e.events[s.EventID]; !ok {
			continue
		}
		ent, ok := e.states[s.EventID]
		if ok && !s.UpdatedAt.After(ent.state.UpdatedAt) {
			continue
		}
		if !ok {
			ent = &entry{history: newRing(e.cfg.HistorySize)}
			e.states[s.EventID] = ent
		}
		ent.state = s
		ent.history.push(s)
		seeded++
	}
	return seeded, nil
}
