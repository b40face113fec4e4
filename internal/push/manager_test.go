package push_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/XavierBriggs/Iris/internal/backoff"
	"github.com/XavierBriggs/Iris/internal/monitor"
	"github.com/XavierBriggs/Iris/internal/push"
	"github.com/XavierBriggs/Iris/pkg/contracts"
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/XavierBriggs/Iris/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fallbackRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *fallbackRecorder) record(eventID, _ string) {
	r.mu.Lock()
	r.events = append(r.events, eventID)
	r.mu.Unlock()
}

func (r *fallbackRecorder) count(eventID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.events {
		if id == eventID {
			n++
		}
	}
	return n
}

func newManager(t *testing.T, cfg push.Config) (*push.Manager, *testutil.FakeTransport, *monitor.Monitor, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(testutil.BaseTime)
	mon := monitor.New(monitor.DefaultConfig(), clock.Now)
	transport := testutil.NewFakeTransport()
	bo := backoff.New(backoff.Config{Initial: time.Millisecond, Max: 5 * time.Millisecond})
	m := push.NewManager(cfg, transport, bo, mon, clock.Now)
	t.Cleanup(m.Close)
	return m, transport, mon, clock
}

func TestRank(t *testing.T) {
	assert.Greater(t, push.Rank(false, models.Tier1), push.Rank(false, models.Tier2))
	assert.Greater(t, push.Rank(false, models.Tier2), push.Rank(false, models.Tier3))
	assert.Greater(t, push.Rank(true, models.Tier3), push.Rank(false, models.Tier1))
}

func TestSubscribe_DeliversUpdates(t *testing.T) {
	m, transport, mon, _ := newManager(t, push.DefaultConfig())

	var mu sync.Mutex
	var got []models.ScoreUpdate
	_, err := m.Subscribe(push.Request{EventID: "e1", League: "basketball_nba", Rank: 3}, func(u models.ScoreUpdate) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.True(t, m.HasConnection("e1"))

	require.Eventually(t, func() bool { return transport.Opens("e1") == 1 }, waitFor, tick)
	ch := transport.Latest("e1")
	ch.Send(contracts.PushMessage{Kind: contracts.PushHeartbeat})
	ch.Send(contracts.PushMessage{
		Kind:   contracts.PushUpdate,
		Update: testutil.NewTestUpdate("e1", "basketball_nba", 3, 0, models.PhaseLive, testutil.BaseTime),
	})
	// malformed message is dropped without killing the channel
	ch.Send(contracts.PushMessage{
		Kind:   contracts.PushUpdate,
		Update: models.ScoreUpdate{EventID: "e1", HomeScore: -1, Phase: models.PhaseLive, Timestamp: testutil.BaseTime},
	})
	ch.Send(contracts.PushMessage{
		Kind:   contracts.PushUpdate,
		Update: testutil.NewTestUpdate("e1", "basketball_nba", 3, 2, models.PhaseLive, testutil.BaseTime.Add(time.Second)),
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, waitFor, tick)

	mu.Lock()
	assert.Equal(t, models.ProvenancePush, got[0].Source)
	assert.Equal(t, models.QualityGood, got[0].Quality)
	assert.Equal(t, 2, got[1].AwayScore)
	mu.Unlock()

	snap := mon.Snapshot()
	assert.Equal(t, int64(2), snap.PushMessages)
	assert.Equal(t, int64(1), snap.MalformedMessages)
	status := m.Status()
	assert.Equal(t, 0, status.Errors)
	assert.Equal(t, models.QualityGood, status.Quality)
	assert.Equal(t, models.MechanismPush, status.ConnectionType)
	assert.True(t, status.Connected)
	assert.Equal(t, 1, status.ActiveConnections)
	assert.Equal(t, 10, status.MaxConnections)
	assert.Equal(t, testutil.BaseTime, status.LastHeartbeat)
}

func TestSubscribe_CapacityAndEviction(t *testing.T) {
	m, transport, mon, _ := newManager(t, push.Config{MaxConnections: 2, MaxReconnects: 2})
	rec := &fallbackRecorder{}
	m.OnFallback(rec.record)

	_, err := m.Subscribe(push.Request{EventID: "low", Rank: push.Rank(false, models.Tier2)}, nil)
	require.NoError(t, err)
	_, err = m.Subscribe(push.Request{EventID: "mid", Rank: push.Rank(false, models.Tier1)}, nil)
	require.NoError(t, err)

	// equal rank never evicts
	_, err = m.Subscribe(push.Request{EventID: "peer", Rank: push.Rank(false, models.Tier2)}, nil)
	assert.True(t, errors.Is(err, push.ErrCapacity))
	assert.Equal(t, 2, m.Active())

	_, err = m.Subscribe(push.Request{EventID: "vip", Rank: push.Rank(true, models.Tier3)}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, m.Active())
	assert.False(t, m.HasConnection("low"))
	assert.True(t, m.HasConnection("mid"))
	assert.True(t, m.HasConnection("vip"))

	require.Eventually(t, func() bool { return rec.count("low") == 1 }, waitFor, tick)
	assert.Equal(t, int64(1), mon.Snapshot().Fallbacks)

	require.Eventually(t, func() bool {
		ch := transport.Latest("low")
		return ch != nil && ch.Closed()
	}, waitFor, tick)
	assert.LessOrEqual(t, transport.OpenChannels(), 2)
}

func TestSubscribe_NeverExceedsCap(t *testing.T) {
	m, transport, _, _ := newManager(t, push.Config{MaxConnections: 3})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := push.Request{EventID: string(rune('a' + i)), Rank: i % 5}
			_, _ = m.Subscribe(req, nil)
			assert.LessOrEqual(t, m.Active(), 3)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, m.Active())
	require.Eventually(t, func() bool { return transport.OpenChannels() <= 3 }, waitFor, tick)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	m, transport, _, _ := newManager(t, push.DefaultConfig())

	unsubscribe, err := m.Subscribe(push.Request{EventID: "e1", Rank: 1}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return transport.Opens("e1") == 1 }, waitFor, tick)

	unsubscribe()
	unsubscribe()

	assert.False(t, m.HasConnection("e1"))
	assert.Equal(t, 0, m.Active())
	require.Eventually(t, func() bool { return transport.Latest("e1").Closed() }, waitFor, tick)

	// a stale unsubscribe never releases a newer subscription for the same event
	_, err = m.Subscribe(push.Request{EventID: "e1", Rank: 1}, nil)
	require.NoError(t, err)
	unsubscribe()
	assert.True(t, m.HasConnection("e1"))
}

func TestReconnect_FallbackAfterBudget(t *testing.T) {
	m, transport, mon, _ := newManager(t, push.Config{MaxReconnects: 2, Cooldown: time.Minute})
	rec := &fallbackRecorder{}
	m.OnFallback(rec.record)

	_, err := m.Subscribe(push.Request{EventID: "e3", League: "basketball_nba", Rank: 3}, nil)
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		require.Eventually(t, func() bool {
			ch := transport.Latest("e3")
			return transport.Opens("e3") == attempt && ch != nil
		}, waitFor, tick)
		transport.Latest("e3").Disconnect(nil)
	}

	require.Eventually(t, func() bool { return rec.count("e3") == 1 }, waitFor, tick)
	assert.False(t, m.HasConnection("e3"))
	assert.Equal(t, 3, transport.Opens("e3"))

	snap := mon.Snapshot()
	assert.Equal(t, int64(1), snap.Fallbacks)
	assert.Equal(t, int64(2), snap.Reconnects)

	// fallen-back events cool down before returning to push
	assert.True(t, m.InCooldown("e3"))
	_, err = m.Subscribe(push.Request{EventID: "e3", Rank: 3}, nil)
	assert.True(t, errors.Is(err, push.ErrCooldown))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.count("e3"))
}

func TestReconnect_CooldownExpires(t *testing.T) {
	m, transport, _, clock := newManager(t, push.Config{MaxReconnects: 0, Cooldown: time.Minute})

	_, err := m.Subscribe(push.Request{EventID: "e1", Rank: 3}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return transport.Opens("e1") == 1 }, waitFor, tick)
	transport.Latest("e1").Disconnect(nil)
	require.Eventually(t, func() bool { return !m.HasConnection("e1") }, waitFor, tick)

	clock.Advance(2 * time.Minute)
	assert.False(t, m.InCooldown("e1"))
	_, err = m.Subscribe(push.Request{EventID: "e1", Rank: 3}, nil)
	assert.NoError(t, err)
}

func TestReconnect_ConnectFailures(t *testing.T) {
	m, transport, _, _ := newManager(t, push.Config{MaxReconnects: 1})
	rec := &fallbackRecorder{}
	m.OnFallback(rec.record)
	transport.SetOpenError("e1", errors.New("dial refused"))

	_, err := m.Subscribe(push.Request{EventID: "e1", Rank: 3}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count("e1") == 1 }, waitFor, tick)
	assert.False(t, m.HasConnection("e1"))
}

func TestReconnect_QualityDegraded(t *testing.T) {
	m, transport, _, _ := newManager(t, push.Config{MaxReconnects: 3})

	_, err := m.Subscribe(push.Request{EventID: "e1", Rank: 3}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return transport.Opens("e1") == 1 }, waitFor, tick)
	transport.Latest("e1").Disconnect(nil)

	require.Eventually(t, func() bool {
		s, ok := m.EventStatus("e1")
		return ok && transport.Opens("e1") == 2 && s.Connected
	}, waitFor, tick)

	s, _ := m.EventStatus("e1")
	assert.Equal(t, models.QualityDegraded, s.Quality)
	assert.Equal(t, 1, s.ReconnectAttempts)
	assert.Equal(t, models.QualityDegraded, m.Status().Quality)
}

func TestMalformedMessages_CountAgainstEvent(t *testing.T) {
	m, transport, mon, _ := newManager(t, push.DefaultConfig())

	var mu sync.Mutex
	var got []models.ScoreUpdate
	_, err := m.Subscribe(push.Request{EventID: "e1", League: "basketball_nba", Rank: 3}, func(u models.ScoreUpdate) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return transport.Opens("e1") == 1 }, waitFor, tick)
	ch := transport.Latest("e1")

	bad := []models.ScoreUpdate{
		{EventID: "e1", HomeScore: -3, Phase: models.PhaseLive, Timestamp: testutil.BaseTime},
		{EventID: "e1", Phase: models.Phase("bogus"), Timestamp: testutil.BaseTime},
		{EventID: "e1", Phase: models.PhaseLive},
		testutil.NewTestUpdate("other", "basketball_nba", 1, 0, models.PhaseLive, testutil.BaseTime),
		{EventID: "e1", AwayScore: -1, Phase: models.PhaseLive, Timestamp: testutil.BaseTime},
	}
	for _, u := range bad {
		ch.Send(contracts.PushMessage{Kind: contracts.PushUpdate, Update: u})
	}

	require.Eventually(t, func() bool { return mon.Snapshot().MalformedMessages == 5 }, waitFor, tick)
	s, ok := m.EventStatus("e1")
	require.True(t, ok)
	assert.Equal(t, 5, s.Errors)
	assert.Equal(t, models.QualityDegraded, s.Quality)
	assert.Equal(t, 0, s.ReconnectAttempts)
	assert.Equal(t, models.QualityDegraded, m.Status().Quality)
	assert.Equal(t, int64(0), mon.Snapshot().PushMessages)

	// a valid message clears the counter
	ch.Send(contracts.PushMessage{
		Kind:   contracts.PushUpdate,
		Update: testutil.NewTestUpdate("e1", "basketball_nba", 1, 1, models.PhaseLive, testutil.BaseTime),
	})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, waitFor, tick)

	s, _ = m.EventStatus("e1")
	assert.Equal(t, 0, s.Errors)
	assert.Equal(t, models.QualityGood, s.Quality)
	assert.Equal(t, int64(1), mon.Snapshot().PushMessages)
	mu.Lock()
	assert.Equal(t, models.QualityGood, got[0].Quality)
	mu.Unlock()
}

func TestSubscribeStatus(t *testing.T) {
	m, _, _, _ := newManager(t, push.DefaultConfig())

	var mu sync.Mutex
	var statuses []models.PushStatus
	unsubscribe := m.SubscribeStatus(func(s models.PushStatus) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})
	defer unsubscribe()

	release, err := m.Subscribe(push.Request{EventID: "e1", Rank: 1}, nil)
	require.NoError(t, err)
	release()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) >= 2 && statuses[len(statuses)-1].ActiveConnections == 0
	}, waitFor, tick)
}

func TestDisabled(t *testing.T) {
	m := push.NewManager(push.DefaultConfig(), nil, nil, nil, nil)
	defer m.Close()

	assert.False(t, m.Enabled())
	_, err := m.Subscribe(push.Request{EventID: "e1"}, nil)
	assert.True(t, errors.Is(err, push.ErrDisabled))
}

func TestClose_ReleasesEverything(t *testing.T) {
	m, transport, _, _ := newManager(t, push.DefaultConfig())
	rec := &fallbackRecorder{}
	m.OnFallback(rec.record)

	for _, id := range []string{"a", "b", "c"} {
		_, err := m.Subscribe(push.Request{EventID: id, Rank: 1}, nil)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return transport.OpenChannels() == 3 }, waitFor, tick)

	m.Close()
	m.Close()

	assert.Equal(t, 0, transport.OpenChannels())
	assert.Equal(t, 0, m.Active())
	assert.Equal(t, 0, rec.count("a"))

	_, err := m.Subscribe(push.Request{EventID: "d", Rank: 1}, nil)
	assert.True(t, errors.Is(err, push.ErrDisabled))
}
