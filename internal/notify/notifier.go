// Package notify forwards score changes to an outbound webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Config holds configuration for the webhook notifier
type Config struct {
	WebhookURL string // e.g. "http://localhost:5008/hooks/scores"
	Timeout    time.Duration
	QueueSize  int
}

// ScoreChange is the JSON body posted for each score change
type ScoreChange struct {
	EventID   string    `json:"event_id"`
	HomeScore int       `json:"home_score"`
	AwayScore int       `json:"away_score"`
	ChangedAt time.Time `json:"changed_at"`
}

// Notifier queues score changes and posts them from a single worker.
// Changes arriving while the queue is full are dropped.
type Notifier struct {
	url        string
	httpClient *http.Client
	log        *zap.Logger
	now        func() time.Time

	queue chan ScoreChange

	mu      sync.Mutex
	dropped int64
	sent    int64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a webhook notifier
func New(cfg Config) *Notifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}

	return &Notifier{
		url: cfg.WebhookURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log:      zap.L().With(zap.String("component", "notifier")),
		now:      time.Now,
		queue:    make(chan ScoreChange, size),
		stopChan: make(chan struct{}),
	}
}

// IsEnabled returns whether a webhook is configured
func (n *Notifier) IsEnabled() bool {
	return n.url != ""
}

// Notify enqueues a change without blocking. Its signature matches the
// engine's score-change callback.
func (n *Notifier) Notify(eventID string, score models.Score) {
	if !n.IsEnabled() {
		return
	}

	change := ScoreChange{
		EventID:   eventID,
		HomeScore: score.Home,
		AwayScore: score.Away,
		ChangedAt: n.now().UTC(),
	}

	select {
	case n.queue <- change:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		n.log.Warn("notify queue full, dropping score change", zap.String("event_id", eventID))
	}
}

// Start runs the delivery worker until Stop or ctx is done
func (n *Notifier) Start(ctx context.Context) {
	if !n.IsEnabled() {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case change := <-n.queue:
				if err := n.send(ctx, change); err != nil {
					n.log.Warn("webhook delivery failed",
						zap.String("event_id", change.EventID),
						zap.Error(err),
					)
				}
			case <-n.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the worker; queued changes are discarded
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopChan)
		n.wg.Wait()
	})
}

// Stats returns delivered and dropped counts
func (n *Notifier) Stats() (sent, dropped int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent, n.dropped
}

func (n *Notifier) send(ctx context.Context, change ScoreChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return eris.Wrap(err, "marshal score change")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "request failed")
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return eris.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.mu.Lock()
	n.sent++
	n.mu.Unlock()
	return nil
}
