package wsfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/XavierBriggs/Iris/pkg/contracts"
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/XavierBriggs/Iris/pkg/testutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// feedServer runs script against every accepted connection after the subscribe frame
func feedServer(t *testing.T, script func(conn *websocket.Conn, sub subscribeRequest)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		script(conn, sub)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func recv(t *testing.T, ch contracts.PushChannel) (contracts.PushMessage, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return ch.Recv(ctx)
}

func TestOpen_ReceivesFrames(t *testing.T) {
	url := feedServer(t, func(conn *websocket.Conn, sub subscribeRequest) {
		assert.Equal(t, "subscribe", sub.Action)
		assert.Equal(t, "e1", sub.EventID)
		assert.Equal(t, "basketball_nba", sub.League)

		_ = conn.WriteJSON(frame{Type: "heartbeat"})
		_ = conn.WriteJSON(frame{
			Type:      "score",
			EventID:   "e1",
			League:    "basketball_nba",
			HomeScore: 21,
			AwayScore: 19,
			Phase:     "live",
			Period:    "Q1 2:10",
			Timestamp: testutil.BaseTime,
		})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		_ = conn.WriteJSON(frame{Type: "error", Message: "subscription revoked"})
		time.Sleep(100 * time.Millisecond)
	})

	tr := NewTransport(Config{URL: url, Token: "secret"})
	ch, err := tr.Open(context.Background(), "e1", "basketball_nba")
	require.NoError(t, err)
	defer ch.Close()

	msg, err := recv(t, ch)
	require.NoError(t, err)
	assert.Equal(t, contracts.PushHeartbeat, msg.Kind)

	msg, err = recv(t, ch)
	require.NoError(t, err)
	require.Equal(t, contracts.PushUpdate, msg.Kind)
	assert.Equal(t, "e1", msg.Update.EventID)
	assert.Equal(t, 21, msg.Update.HomeScore)
	assert.Equal(t, models.PhaseLive, msg.Update.Phase)
	assert.Equal(t, models.UpdateDelta, msg.Update.Type)
	assert.Equal(t, models.ProvenancePush, msg.Update.Source)
	assert.True(t, msg.Update.Timestamp.Equal(testutil.BaseTime))

	// malformed frame is skipped, the error frame fails the channel
	_, err = recv(t, ch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscription revoked")
}

func TestOpen_Unauthorized(t *testing.T) {
	url := feedServer(t, func(conn *websocket.Conn, sub subscribeRequest) {})

	tr := NewTransport(Config{URL: url, Token: "wrong"})
	_, err := tr.Open(context.Background(), "e1", "basketball_nba")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestChannel_ServerDisconnect(t *testing.T) {
	url := feedServer(t, func(conn *websocket.Conn, sub subscribeRequest) {
		// return immediately, dropping the connection
	})

	tr := NewTransport(Config{URL: url, Token: "secret"})
	ch, err := tr.Open(context.Background(), "e1", "basketball_nba")
	require.NoError(t, err)
	defer ch.Close()

	_, err = recv(t, ch)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrClosed)
}

func TestChannel_Close(t *testing.T) {
	release := make(chan struct{})
	url := feedServer(t, func(conn *websocket.Conn, sub subscribeRequest) {
		<-release
	})
	defer close(release)

	tr := NewTransport(Config{URL: url, Token: "secret"})
	ch, err := tr.Open(context.Background(), "e1", "basketball_nba")
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	assert.NoError(t, ch.Close())

	_, err = recv(t, ch)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestChannel_RecvContextCancel(t *testing.T) {
	release := make(chan struct{})
	url := feedServer(t, func(conn *websocket.Conn, sub subscribeRequest) {
		<-release
	})
	defer close(release)

	tr := NewTransport(Config{URL: url, Token: "secret"})
	ch, err := tr.Open(context.Background(), "e1", "basketball_nba")
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ch.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
