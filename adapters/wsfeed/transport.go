package wsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/XavierBriggs/Iris/pkg/contracts"
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/gorilla/websocket"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next message or pong from the peer
	defaultPongWait = 60 * time.Second

	// Maximum frame size accepted from the feed
	maxMessageSize = 64 * 1024

	frameBufferSize = 32
)

// ErrClosed is returned by Recv once the channel has been closed locally
var ErrClosed = eris.New("feed channel closed")

// Config holds the feed endpoint and keep-alive settings
type Config struct {
	URL              string // e.g. "wss://feed.example.com/v1/scores"
	Token            string
	PongWait         time.Duration
	HandshakeTimeout time.Duration
}

// Transport opens one websocket subscription per event
type Transport struct {
	url      string
	token    string
	pongWait time.Duration
	dialer   *websocket.Dialer
	log      *zap.Logger
}

// Ensure Transport implements PushTransport
var _ contracts.PushTransport = (*Transport)(nil)

// NewTransport creates a websocket push transport
func NewTransport(cfg Config) *Transport {
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	return &Transport{
		url:      cfg.URL,
		token:    cfg.Token,
		pongWait: cfg.PongWait,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log: zap.L().With(zap.String("component", "wsfeed")),
	}
}

// subscribeRequest is the first frame sent after the handshake
type subscribeRequest struct {
	Action  string `json:"action"`
	EventID string `json:"event_id"`
	League  string `json:"league"`
}

// frame is a message received from the feed
type frame struct {
	Type      string    `json:"type"` // score, heartbeat, error
	EventID   string    `json:"event_id"`
	League    string    `json:"league"`
	HomeScore int       `json:"home_score"`
	AwayScore int       `json:"away_score"`
	Phase     string    `json:"phase"`
	Period    string    `json:"period"`
	Full      bool      `json:"full"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}

// Open dials the feed and subscribes to one event
func (t *Transport) Open(ctx context.Context, eventID, league string) (contracts.PushChannel, error) {
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		if resp != nil {
			return nil, eris.Wrapf(err, "dial feed for %s (status %d)", eventID, resp.StatusCode)
		}
		return nil, eris.Wrapf(err, "dial feed for %s", eventID)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeRequest{Action: "subscribe", EventID: eventID, League: league}); err != nil {
		conn.Close()
		return nil, eris.Wrapf(err, "subscribe %s", eventID)
	}

	ch := &channel{
		eventID:  eventID,
		conn:     conn,
		pongWait: t.pongWait,
		frames:   make(chan contracts.PushMessage, frameBufferSize),
		errc:     make(chan error, 1),
		done:     make(chan struct{}),
		log:      t.log.With(zap.String("event_id", eventID)),
	}
	go ch.readPump()
	go ch.pingPump()

	return ch, nil
}

// channel is one live subscription
type channel struct {
	eventID  string
	conn     *websocket.Conn
	pongWait time.Duration
	log      *zap.Logger

	frames chan contracts.PushMessage
	errc   chan error
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Recv blocks until the next frame, a feed failure, Close, or ctx is done
func (c *channel) Recv(ctx context.Context) (contracts.PushMessage, error) {
	select {
	case <-c.done:
		return contracts.PushMessage{}, ErrClosed
	default:
	}

	select {
	case msg := <-c.frames:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.frames:
		return msg, nil
	case err := <-c.errc:
		return contracts.PushMessage{}, err
	case <-c.done:
		return contracts.PushMessage{}, ErrClosed
	case <-ctx.Done():
		return contracts.PushMessage{}, ctx.Err()
	}
}

// Close unsubscribes and releases the connection
func (c *channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *channel) fail(err error) {
	select {
	case c.errc <- err:
	default:
	}
}

func (c *channel) deliver(msg contracts.PushMessage) bool {
	select {
	case c.frames <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *channel) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
		// a pong counts as a heartbeat; drop it if the reader is behind
		select {
		case c.frames <- contracts.PushMessage{Kind: contracts.PushHeartbeat}:
		default:
		}
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(eris.Wrap(err, "read feed"))
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Debug("skipping malformed frame", zap.Error(err))
			continue
		}

		switch f.Type {
		case "heartbeat":
			if !c.deliver(contracts.PushMessage{Kind: contracts.PushHeartbeat}) {
				return
			}
		case "score":
			if !c.deliver(contracts.PushMessage{Kind: contracts.PushUpdate, Update: f.toUpdate()}) {
				return
			}
		case "error":
			c.fail(eris.Errorf("feed error for %s: %s", c.eventID, f.Message))
			return
		default:
			c.log.Debug("skipping unknown frame", zap.String("type", f.Type))
		}
	}
}

func (c *channel) pingPump() {
	ticker := time.NewTicker((c.pongWait * 9) / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.fail(eris.Wrap(err, "ping feed"))
				return
			}
		case <-c.done:
			return
		}
	}
}

func (f frame) toUpdate() models.ScoreUpdate {
	updateType := models.UpdateDelta
	if f.Full {
		updateType = models.UpdateFull
	}
	return models.ScoreUpdate{
		EventID:   f.EventID,
		League:    f.League,
		HomeScore: f.HomeScore,
		AwayScore: f.AwayScore,
		Phase:     models.Phase(f.Phase),
		Period:    f.Period,
		Timestamp: f.Timestamp,
		Type:      updateType,
		Source:    models.ProvenancePush,
	}
}
