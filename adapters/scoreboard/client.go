package scoreboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/XavierBriggs/Iris/internal/backoff"
	"github.com/XavierBriggs/Iris/pkg/contracts"
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	apiVersion        = "v1"
	userAgent         = "Iris/1.0 (Live Score Sync)"
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
)

// Config holds configuration for the scoreboard client
type Config struct {
	BaseURL    string // e.g. "https://scores.example.com"
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// RateLimits is the vendor quota reported in response headers
type RateLimits struct {
	RequestsRemaining int
	RequestsUsed      int
}

// Client fetches league scoreboards over HTTP
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	httpClient *http.Client
	retry      *backoff.Calculator
	log        *zap.Logger
	now        func() time.Time

	rateLimits RateLimits
	mu         sync.RWMutex
}

// Ensure Client implements ScoreProvider
var _ contracts.ScoreProvider = (*Client)(nil)

// NewClient creates a new scoreboard client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retry: backoff.New(backoff.Config{
			Initial:    cfg.RetryDelay,
			Max:        cfg.RetryDelay * 8,
			Multiplier: 2,
		}),
		log: zap.L().With(zap.String("component", "scoreboard")),
		now: time.Now,
		rateLimits: RateLimits{
			RequestsRemaining: -1, // unknown until the first response
		},
	}
}

// FetchEvents returns the current state of every event on a league's scoreboard
func (c *Client) FetchEvents(ctx context.Context, league string) ([]models.ScoreUpdate, error) {
	endpoint := fmt.Sprintf("%s/%s/leagues/%s/scoreboard", c.baseURL, apiVersion, url.PathEscape(league))

	body, err := c.doRequestWithRetry(ctx, endpoint)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch scoreboard %s", league)
	}

	var resp scoreboardResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrapf(err, "parse scoreboard %s", league)
	}

	return c.parseScoreboard(league, resp, c.now()), nil
}

// GetRateLimits returns current rate limit information
func (c *Client) GetRateLimits() RateLimits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLimits
}

// doRequestWithRetry performs HTTP request with retry logic
func (c *Client) doRequestWithRetry(ctx context.Context, fullURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retry.Delay(attempt)):
			}
		}

		body, err := c.doRequest(ctx, fullURL)
		if err == nil {
			return body, nil
		}

		lastErr = err

		// Don't retry on client errors (4xx except 429)
		var httpErr *httpError
		if errors.As(err, &httpErr) {
			if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests {
				return nil, err
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		c.log.Debug("scoreboard request failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return nil, eris.Wrap(lastErr, "max retries exceeded")
}

// doRequest performs a single HTTP request
func (c *Client) doRequest(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	// Update rate limits from headers
	c.updateRateLimits(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &httpError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	return body, nil
}

// updateRateLimits extracts rate limit info from response headers
func (c *Client) updateRateLimits(headers http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remaining := headers.Get("x-requests-remaining"); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimits.RequestsRemaining = val
		}
	}

	if used := headers.Get("x-requests-used"); used != "" {
		if val, err := strconv.Atoi(used); err == nil {
			c.rateLimits.RequestsUsed = val
		}
	}
}

// parseScoreboard converts the vendor payload into full-state updates.
// Events whose scores cannot be read are left out.
func (c *Client) parseScoreboard(league string, resp scoreboardResponse, receivedAt time.Time) []models.ScoreUpdate {
	updates := make([]models.ScoreUpdate, 0, len(resp.Events))

	for _, evt := range resp.Events {
		home, errHome := parseScore(evt.HomeScore)
		away, errAway := parseScore(evt.AwayScore)
		if errHome != nil || errAway != nil {
			c.log.Debug("skipping event with unreadable score",
				zap.String("event_id", evt.ID),
				zap.String("league", league),
			)
			continue
		}

		ts, err := time.Parse(time.RFC3339, evt.LastUpdated)
		if err != nil {
			ts = receivedAt // Fallback
		}

		updates = append(updates, models.ScoreUpdate{
			EventID:    evt.ID,
			League:     league,
			HomeScore:  home,
			AwayScore:  away,
			Phase:      mapStatus(evt.Status),
			Period:     evt.Status.Detail,
			Timestamp:  ts,
			Type:       models.UpdateFull,
			Source:     models.ProvenancePoll,
			Quality:    models.QualityGood,
			ReceivedAt: receivedAt,
		})
	}

	return updates
}

func parseScore(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// mapStatus maps the vendor's status block onto a lifecycle phase
func mapStatus(s eventStatus) models.Phase {
	switch s.Type {
	case "STATUS_SCHEDULED":
		return models.PhasePre
	case "STATUS_IN_PROGRESS", "STATUS_FIRST_HALF", "STATUS_SECOND_HALF", "STATUS_OVERTIME":
		return models.PhaseLive
	case "STATUS_HALFTIME", "STATUS_END_PERIOD":
		return models.PhaseIntermission
	case "STATUS_DELAYED", "STATUS_RAIN_DELAY", "STATUS_SUSPENDED":
		return models.PhaseDelayed
	case "STATUS_FINAL", "STATUS_FULL_TIME", "STATUS_FINAL_OT":
		return models.PhaseFinished
	}

	switch s.State {
	case "pre":
		return models.PhasePre
	case "in":
		return models.PhaseLive
	case "post":
		return models.PhaseFinished
	}
	return models.Phase(s.State)
}

// httpError represents an HTTP error with status code
type httpError struct {
	StatusCode int
	Message    string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// API response structures matching the scoreboard JSON format

type scoreboardResponse struct {
	League string          `json:"league"`
	Events []eventResponse `json:"events"`
}

type eventResponse struct {
	ID          string      `json:"id"`
	HomeTeam    string      `json:"home_team"`
	AwayTeam    string      `json:"away_team"`
	HomeScore   string      `json:"home_score"`
	AwayScore   string      `json:"away_score"`
	Status      eventStatus `json:"status"`
	LastUpdated string      `json:"last_updated"`
}

type eventStatus struct {
	Type   string `json:"type"`
	State  string `json:"state"` // pre, in, post
	Period int    `json:"period"`
	Clock  string `json:"display_clock"`
	Detail string `json:"detail"`
}
