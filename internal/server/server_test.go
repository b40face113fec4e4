package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/XavierBriggs/Iris/internal/scheduler"
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/XavierBriggs/Iris/pkg/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu         sync.Mutex
	states     map[string]models.ScoreState
	history    map[string][]models.ScoreState
	tracked    []models.TrackedEvent
	priority   map[string]bool
	refreshErr error
	refreshes  int
	seeds      int
	snapshot   models.MonitoringSnapshot
	monSubs    []func(models.MonitoringSnapshot)
	pushSubs   []func(models.PushStatus)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		states: map[string]models.ScoreState{
			"e1": {EventID: "e1", League: "basketball_nba", HomeScore: 10, AwayScore: 8, Phase: models.PhaseLive, UpdatedAt: testutil.BaseTime},
			"e2": {EventID: "e2", League: "baseball_mlb", HomeScore: 1, AwayScore: 0, Phase: models.PhaseLive, UpdatedAt: testutil.BaseTime},
		},
		history: map[string][]models.ScoreState{
			"e1": {{EventID: "e1", HomeScore: 8, AwayScore: 8}, {EventID: "e1", HomeScore: 10, AwayScore: 8}},
		},
		snapshot: models.MonitoringSnapshot{TrackedEvents: 2, GeneratedAt: testutil.BaseTime},
	}
}

func (f *fakeEngine) Track(events []models.TrackedEvent, priorityIDs map[string]bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = events
	f.priority = priorityIDs
}

func (f *fakeEngine) Seed(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeds++
	return 0, nil
}

func (f *fakeEngine) GetState(eventID string) (models.ScoreState, bool) {
	s, ok := f.states[eventID]
	return s, ok
}

func (f *fakeEngine) States() map[string]models.ScoreState { return f.states }

func (f *fakeEngine) History(eventID string) []models.ScoreState { return f.history[eventID] }

func (f *fakeEngine) Mechanism(eventID string) models.Mechanism {
	if eventID == "e1" {
		return models.MechanismPush
	}
	return models.MechanismPoll
}

func (f *fakeEngine) Subscriptions() []models.SubscriptionInfo {
	return []models.SubscriptionInfo{{EventID: "e1", Mechanism: models.MechanismPush}}
}

func (f *fakeEngine) ForceRefresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeEngine) Snapshot() models.MonitoringSnapshot { return f.snapshot }

func (f *fakeEngine) SubscribeMonitoring(fn func(models.MonitoringSnapshot)) func() {
	f.mu.Lock()
	f.monSubs = append(f.monSubs, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeEngine) PushStatus() models.PushStatus {
	return models.PushStatus{ConnectionType: models.MechanismPush, Connected: true, ActiveConnections: 1, MaxConnections: 10}
}

func (f *fakeEngine) SubscribePushStatus(fn func(models.PushStatus)) func() {
	f.mu.Lock()
	f.pushSubs = append(f.pushSubs, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeEngine) publish(s models.MonitoringSnapshot) {
	f.mu.Lock()
	subs := append([]func(models.MonitoringSnapshot){}, f.monSubs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	srv := New(newFakeEngine(), Options{})
	w := do(t, srv.Router(), http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(2), body["tracked_events"])
	assert.Equal(t, true, body["push_connected"])
	assert.Equal(t, float64(0), body["stream_connections_total"])
	assert.Equal(t, float64(0), body["stream_messages_total"])
}

func TestGetScores(t *testing.T) {
	srv := New(newFakeEngine(), Options{})

	w := do(t, srv.Router(), http.MethodGet, "/api/v1/scores", "")
	require.Equal(t, http.StatusOK, w.Code)
	var all struct {
		Scores []models.ScoreState `json:"scores"`
		Count  int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Equal(t, 2, all.Count)
	assert.Equal(t, "e1", all.Scores[0].EventID)

	w = do(t, srv.Router(), http.MethodGet, "/api/v1/scores?league=baseball_mlb", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Equal(t, 1, all.Count)
	assert.Equal(t, "e2", all.Scores[0].EventID)
}

func TestGetScore(t *testing.T) {
	srv := New(newFakeEngine(), Options{})

	w := do(t, srv.Router(), http.MethodGet, "/api/v1/scores/e1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		State     models.ScoreState `json:"state"`
		Mechanism models.Mechanism  `json:"mechanism"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 10, body.State.HomeScore)
	assert.Equal(t, models.MechanismPush, body.Mechanism)

	w = do(t, srv.Router(), http.MethodGet, "/api/v1/scores/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, http.StatusNotFound, errResp.Code)
}

func TestGetHistory(t *testing.T) {
	srv := New(newFakeEngine(), Options{})

	w := do(t, srv.Router(), http.MethodGet, "/api/v1/scores/e1/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		History []models.ScoreState `json:"history"`
		Count   int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, 8, body.History[0].HomeScore)

	w = do(t, srv.Router(), http.MethodGet, "/api/v1/scores/e9/history", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrack(t *testing.T) {
	eng := newFakeEngine()
	srv := New(eng, Options{})

	body := `{"events":[{"event_id":"e1","league":"basketball_nba","phase":"live"},{"event_id":"e3","league":"tennis_atp"}],"priority_ids":["e3"]}`
	w := do(t, srv.Router(), http.MethodPost, "/api/v1/track", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Len(t, eng.tracked, 2)
	assert.Equal(t, models.PhaseLive, eng.tracked[0].Phase)
	assert.Equal(t, models.PhasePre, eng.tracked[1].Phase)
	assert.True(t, eng.priority["e3"])
	assert.Equal(t, 1, eng.seeds)
}

func TestTrack_Invalid(t *testing.T) {
	srv := New(newFakeEngine(), Options{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"events":`},
		{"missing league", `{"events":[{"event_id":"e1"}]}`},
		{"unknown phase", `{"events":[{"event_id":"e1","league":"basketball_nba","phase":"overtime"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv.Router(), http.MethodPost, "/api/v1/track", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRefresh(t *testing.T) {
	eng := newFakeEngine()
	srv := New(eng, Options{})

	w := do(t, srv.Router(), http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusOK, w.Code)

	eng.refreshErr = scheduler.ErrDisabled
	w = do(t, srv.Router(), http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 2, eng.refreshes)
}

func TestMonitoringAndPushStatus(t *testing.T) {
	srv := New(newFakeEngine(), Options{})

	w := do(t, srv.Router(), http.MethodGet, "/api/v1/monitoring", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap models.MonitoringSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.TrackedEvents)

	w = do(t, srv.Router(), http.MethodGet, "/api/v1/push/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ps models.PushStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ps))
	assert.Equal(t, 10, ps.MaxConnections)

	w = do(t, srv.Router(), http.MethodGet, "/api/v1/subscriptions", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := New(newFakeEngine(), Options{CORSOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/scores", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func readMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestMonitoringStream(t *testing.T) {
	eng := newFakeEngine()
	srv := New(eng, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.Start(ctx)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/monitoring"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// initial snapshot and push status
	assert.Equal(t, MessageTypeMonitoring, readMessage(t, conn).Type)
	assert.Equal(t, MessageTypePushStatus, readMessage(t, conn).Type)

	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	eng.publish(models.MonitoringSnapshot{TrackedEvents: 7, GeneratedAt: testutil.BaseTime})
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeMonitoring, msg.Type)
	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(7), payload["tracked_events"])

	// closing the hub disconnects the client
	cancel()
	require.Eventually(t, func() bool { return srv.Hub().ClientCount() == 0 }, time.Second, 10*time.Millisecond)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := NewHub()
	c := &streamClient{id: "slow", send: make(chan ServerMessage, 1), hub: hub}
	require.True(t, hub.Register(c))

	hub.Broadcast(ServerMessage{Type: MessageTypeMonitoring})
	assert.Equal(t, 1, hub.ClientCount())

	hub.Broadcast(ServerMessage{Type: MessageTypeMonitoring})
	assert.Equal(t, 0, hub.ClientCount())

	hub.Close()
	assert.False(t, hub.Register(&streamClient{id: "late", send: make(chan ServerMessage, 1), hub: hub}))
}

func TestHub_ConcurrentBroadcast(t *testing.T) {
	hub := NewHub()
	c := &streamClient{id: "c1", send: make(chan ServerMessage, 1000), hub: hub}
	require.True(t, hub.Register(c))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 250; j++ {
				hub.Broadcast(ServerMessage{Type: MessageTypeMonitoring})
			}
		}()
	}
	wg.Wait()

	connections, messages := hub.Totals()
	assert.Equal(t, int64(1), connections)
	assert.Equal(t, int64(1000), messages)
	assert.Len(t, c.send, 1000)
	hub.Close()
}
