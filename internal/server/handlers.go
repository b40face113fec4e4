package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/XavierBriggs/Iris/internal/scheduler"
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// TrackRequest declares the events of interest
type TrackRequest struct {
	Events      []models.TrackedEvent `json:"events"`
	PriorityIDs []string              `json:"priority_ids"`
}

// HealthCheck returns the health status of the service
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	push := s.engine.PushStatus()
	connections, messages := s.hub.Totals()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":                   "healthy",
		"service":                  "iris",
		"timestamp":                s.now().UTC(),
		"uptime_seconds":           int64(s.now().Sub(s.started).Seconds()),
		"tracked_events":           snap.TrackedEvents,
		"push_connected":           push.Connected,
		"push_active":              push.ActiveConnections,
		"stream_clients":           s.hub.ClientCount(),
		"stream_connections_total": connections,
		"stream_messages_total":    messages,
	})
}

// GetScores returns all held states, optionally filtered by league.
// Query params: league, limit
func (s *Server) GetScores(w http.ResponseWriter, r *http.Request) {
	league := r.URL.Query().Get("league")
	limit := parseIntParam(r, "limit", 500)

	states := s.engine.States()
	scores := make([]models.ScoreState, 0, len(states))
	for _, st := range states {
		if league != "" && st.League != league {
			continue
		}
		scores = append(scores, st)
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].EventID < scores[j].EventID })
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"scores": scores,
		"count":  len(scores),
	})
}

// GetScore returns the state of one event and what tracks it
func (s *Server) GetScore(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	state, ok := s.engine.GetState(eventID)
	if !ok {
		respondError(w, http.StatusNotFound, "event not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":     state,
		"mechanism": s.engine.Mechanism(eventID),
	})
}

// GetHistory returns the retained states of one event, oldest first
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	history := s.engine.History(eventID)
	if history == nil {
		respondError(w, http.StatusNotFound, "event not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"event_id": eventID,
		"history":  history,
		"count":    len(history),
	})
}

// GetSubscriptions returns the per-event debug view
func (s *Server) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs := s.engine.Subscriptions()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// Track replaces the set of events of interest
func (s *Server) Track(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	for _, ev := range req.Events {
		if ev.EventID == "" || ev.League == "" {
			respondError(w, http.StatusBadRequest, "event_id and league are required", nil)
			return
		}
		if ev.Phase != "" && !ev.Phase.Valid() {
			respondError(w, http.StatusBadRequest, "unknown phase "+string(ev.Phase), nil)
			return
		}
	}

	priority := make(map[string]bool, len(req.PriorityIDs))
	for _, id := range req.PriorityIDs {
		priority[id] = true
	}

	events := make([]models.TrackedEvent, len(req.Events))
	for i, ev := range req.Events {
		if ev.Phase == "" {
			ev.Phase = models.PhasePre
		}
		events[i] = ev
	}

	s.engine.Track(events, priority)

	// warm newly tracked events from the state cache
	seeded, err := s.engine.Seed(r.Context())
	if err != nil {
		s.log.Warn("seed tracked events", zap.Error(err))
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"tracked": len(events),
		"seeded":  seeded,
	})
}

// Refresh fetches every tracked event now
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ForceRefresh(r.Context()); err != nil {
		if errors.Is(err, scheduler.ErrDisabled) {
			respondError(w, http.StatusServiceUnavailable, "polling is disabled", err)
			return
		}
		respondError(w, http.StatusBadGateway, "refresh failed", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "refreshed",
	})
}

// GetMonitoring returns the current monitoring snapshot
func (s *Server) GetMonitoring(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Snapshot())
}

// GetPushStatus returns the aggregate push channel status
func (s *Server) GetPushStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.PushStatus())
}

func parseIntParam(r *http.Request, key string, defaultValue int) int {
	valueStr := r.URL.Query().Get(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}

	if err != nil {
		zap.L().Debug("request failed", zap.String("message", message), zap.Error(err))
	}

	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		zap.L().Warn("encode error response", zap.Error(err))
	}
}
