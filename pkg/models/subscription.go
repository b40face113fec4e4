package models

import "time"

// Mechanism identifies what currently tracks an event
type Mechanism string

const (
	MechanismNone Mechanism = "none"
	MechanismPoll Mechanism = "poll"
	MechanismPush Mechanism = "push"
)

// PollState is the per-event polling state machine position
type PollState string

const (
	PollIdle      PollState = "idle"
	PollScheduled PollState = "scheduled"
	PollFetching  PollState = "fetching"
	PollBackoff   PollState = "backoff"
	PollStopped   PollState = "stopped"
)

// SubscriptionInfo is the per-event debug view exposed by the engine
type SubscriptionInfo struct {
	EventID     string        `json:"event_id"`
	League      string        `json:"league"`
	Tier        Tier          `json:"tier"`
	Phase       Phase         `json:"phase"`
	Priority    bool          `json:"priority"`
	Mechanism   Mechanism     `json:"mechanism"`
	PollState   PollState     `json:"poll_state,omitempty"`
	Interval    time.Duration `json:"interval"`
	ErrorCount  int           `json:"error_count"`
	LastAttempt time.Time     `json:"last_attempt,omitempty"`
	NextDue     time.Time     `json:"next_due,omitempty"`
	LastUpdate  time.Time     `json:"last_update,omitempty"`
}

// PushStatus is the status stream payload of the push channel manager
type PushStatus struct {
	ConnectionType    Mechanism `json:"connection_type"`
	Connected         bool      `json:"connected"`
	LastHeartbeat     time.Time `json:"last_heartbeat,omitempty"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	Errors            int       `json:"errors"` // malformed messages since the last valid one
	Quality           Quality   `json:"quality"`
	ActiveConnections int       `json:"active_connections"`
	MaxConnections    int       `json:"max_connections"`
}

// MonitoringSnapshot is an immutable view of aggregate sync counters
type MonitoringSnapshot struct {
	GeneratedAt       time.Time          `json:"generated_at"`
	Uptime            time.Duration      `json:"uptime"`
	Tiers             map[Tier]TierStats `json:"tiers"`
	TotalRequests     int64              `json:"total_requests"`
	Successes         int64              `json:"successes"`
	Errors            int64              `json:"errors"`
	SuccessRate       float64            `json:"success_rate"`
	Throughput        float64            `json:"throughput"` // requests per second over the last window
	PushMessages      int64              `json:"push_messages"`
	MalformedMessages int64              `json:"malformed_messages"`
	Reconnects        int64              `json:"reconnects"`
	Fallbacks         int64              `json:"fallbacks"`
	ActiveConnections int                `json:"active_connections"`
	MaxConnections    int                `json:"max_connections"`
	TrackedEvents     int                `json:"tracked_events"`
	StaleEvents       int                `json:"stale_events"`
	StaleRate         float64            `json:"stale_rate"`
	Recommendations   []string           `json:"recommendations"`
}

// TierStats aggregates fetch counters for one tier
type TierStats struct {
	Requests     int64         `json:"requests"`
	Errors       int64         `json:"errors"`
	AvgLatency   time.Duration `json:"avg_latency"`
	TotalLatency time.Duration `json:"-"`
}
