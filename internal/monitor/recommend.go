package monitor

import (
	"fmt"
	"sort"
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
)

// recommend derives operator-facing hints from a snapshot; caller holds m.mu
func (m *Monitor) recommend(snap models.MonitoringSnapshot, now time.Time) []string {
	recs := []string{}

	if snap.TotalRequests >= m.cfg.MinRequests {
		errorRate := float64(snap.Errors) / float64(snap.TotalRequests)
		if errorRate > m.cfg.ErrorRateThreshold {
			recs = append(recs, fmt.Sprintf(
				"Upstream error rate %.1f%% exceeds %.1f%%; affected events are backing off",
				errorRate*100, m.cfg.ErrorRateThreshold*100))
		}
	}

	if pushed := snap.PushMessages + snap.MalformedMessages; pushed >= m.cfg.MinRequests {
		rate := float64(snap.MalformedMessages) / float64(pushed)
		if rate > m.cfg.ErrorRateThreshold {
			recs = append(recs, fmt.Sprintf(
				"%.1f%% of push messages were malformed; check the push feed payloads",
				rate*100))
		}
	}

	recent := 0
	for _, at := range m.fallbackMarks {
		if now.Sub(at) <= m.cfg.FallbackWindow {
			recent++
		}
	}
	if recent >= m.cfg.FallbackThreshold {
		recs = append(recs, fmt.Sprintf(
			"%d push fallbacks in the last %s; check the push feed or lower push demand",
			recent, m.cfg.FallbackWindow))
	}

	if snap.MaxConnections > 0 && snap.ActiveConnections >= snap.MaxConnections {
		recs = append(recs, fmt.Sprintf(
			"Push capacity saturated (%d/%d); further priority events are polled",
			snap.ActiveConnections, snap.MaxConnections))
	}

	if snap.TrackedEvents > 0 && snap.StaleRate > m.cfg.StaleRateThreshold {
		recs = append(recs, fmt.Sprintf(
			"%d of %d tracked events are stale (%.1f%%)",
			snap.StaleEvents, snap.TrackedEvents, snap.StaleRate*100))
	}

	tiers := make([]models.Tier, 0, len(snap.Tiers))
	for tier := range snap.Tiers {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
	for _, tier := range tiers {
		stats := snap.Tiers[tier]
		if stats.Requests > 0 && stats.AvgLatency > m.cfg.SlowLatency {
			recs = append(recs, fmt.Sprintf(
				"Tier %d upstream latency averages %s; consider widening its interval",
				tier, stats.AvgLatency.Round(time.Millisecond)))
		}
	}

	return recs
}
