package writer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 2 * time.Second
	streamKeyFormat      = "scores.alerts.%s" // scores.alerts.basketball_nba
	dedupTTL             = 10 * time.Minute
	dedupMax             = 50000
)

// Writer batches score alerts into Postgres and publishes them to Redis
// Streams. Either backend may be nil.
type Writer struct {
	db    *sql.DB
	redis *redis.Client
	log   *zap.Logger

	batchSize     int
	flushInterval time.Duration

	buffer []models.ScoreAlert
	mu     sync.Mutex

	// replays after a mechanism switch carry the same transition
	seen *SeenSet

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// StreamMessage represents a message published to Redis Stream
type StreamMessage struct {
	AlertID    string    `json:"alert_id"`
	EventID    string    `json:"event_id"`
	League     string    `json:"league"`
	PrevHome   int       `json:"prev_home"`
	PrevAway   int       `json:"prev_away"`
	HomeScore  int       `json:"home_score"`
	AwayScore  int       `json:"away_score"`
	Period     string    `json:"period"`
	Phase      string    `json:"phase"`
	Provenance string    `json:"provenance"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewWriter creates a new batching alert writer
func NewWriter(db *sql.DB, redisClient *redis.Client) *Writer {
	return &Writer{
		db:            db,
		redis:         redisClient,
		log:           zap.L().With(zap.String("component", "alert_writer")),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		buffer:        make([]models.ScoreAlert, 0, defaultBatchSize),
		seen:          NewSeenSet(dedupTTL, dedupMax, nil),
		stopChan:      make(chan struct{}),
	}
}

// Start begins the background flush ticker
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := w.Flush(ctx); err != nil {
					w.log.Error("flush alerts", zap.Error(err))
				}
			case <-w.stopChan:
				return
			case <-ctx.Done():
				w.finalFlush()
				return
			}
		}
	}()
}

func (w *Writer) finalFlush() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Flush(flushCtx); err != nil {
		w.log.Error("final flush", zap.Error(err))
	}
}

// Stop flushes what is buffered and stops the ticker
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
		// Final flush on shutdown
		w.finalFlush()
	})
}

// WriteAlerts implements contracts.AlertSink. Alerts repeating a transition
// already written recently are dropped.
func (w *Writer) WriteAlerts(ctx context.Context, alerts []models.ScoreAlert) error {
	fresh := make([]models.ScoreAlert, 0, len(alerts))
	for _, alert := range alerts {
		if w.seen.Add(dedupKey(alert)) {
			fresh = append(fresh, alert)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	w.mu.Lock()
	w.buffer = append(w.buffer, fresh...)
	shouldFlush := len(w.buffer) >= w.batchSize
	w.mu.Unlock()

	if shouldFlush {
		return w.Flush(ctx)
	}
	return nil
}

// Pending returns the number of buffered alerts
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Flush writes buffered alerts to Postgres and publishes them to Redis Streams
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	alerts := w.buffer
	w.buffer = make([]models.ScoreAlert, 0, w.batchSize)
	w.mu.Unlock()

	if w.db != nil {
		if err := w.insertAlerts(ctx, alerts); err != nil {
			// the batch is dropped; let a replay of these transitions through
			keys := make([]string, len(alerts))
			for i, alert := range alerts {
				keys[i] = dedupKey(alert)
			}
			w.seen.Forget(keys...)
			return eris.Wrapf(err, "insert %d alerts", len(alerts))
		}
	}

	// Publish after the DB write; the DB is the source of truth
	if w.redis != nil {
		if err := w.publishToStream(ctx, alerts); err != nil {
			w.log.Warn("publish alerts to stream", zap.Error(err))
		}
	}

	w.log.Debug("flushed alerts", zap.Int("count", len(alerts)))
	return nil
}

// insertAlerts inserts alert rows in one UNNEST statement
func (w *Writer) insertAlerts(ctx context.Context, alerts []models.ScoreAlert) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO score_alerts (
			alert_id, event_id, league, prev_home, prev_away,
			home_score, away_score, period, phase, provenance, observed_at
		)
		SELECT * FROM UNNEST(
			$1::text[], $2::text[], $3::text[], $4::int[], $5::int[],
			$6::int[], $7::int[], $8::text[], $9::text[], $10::text[], $11::timestamptz[]
		)
		ON CONFLICT (alert_id) DO NOTHING
	`

	n := len(alerts)
	alertIDs := make([]string, n)
	eventIDs := make([]string, n)
	leagueKeys := make([]string, n)
	prevHomes := make([]int, n)
	prevAways := make([]int, n)
	homes := make([]int, n)
	aways := make([]int, n)
	periods := make([]string, n)
	phases := make([]string, n)
	provenances := make([]string, n)
	observedAts := make([]time.Time, n)

	for i, a := range alerts {
		alertIDs[i] = a.AlertID
		eventIDs[i] = a.EventID
		leagueKeys[i] = a.League
		prevHomes[i] = a.Previous.Home
		prevAways[i] = a.Previous.Away
		homes[i] = a.Current.Home
		aways[i] = a.Current.Away
		periods[i] = a.Period
		phases[i] = string(a.Phase)
		provenances[i] = string(a.Provenance)
		observedAts[i] = a.ObservedAt
	}

	if _, err := tx.ExecContext(ctx, query,
		pq.Array(alertIDs), pq.Array(eventIDs), pq.Array(leagueKeys), pq.Array(prevHomes), pq.Array(prevAways),
		pq.Array(homes), pq.Array(aways), pq.Array(periods), pq.Array(phases), pq.Array(provenances), pq.Array(observedAts),
	); err != nil {
		return eris.Wrap(err, "exec insert")
	}

	return tx.Commit()
}

// publishToStream publishes alerts to one Redis Stream per league
func (w *Writer) publishToStream(ctx context.Context, alerts []models.ScoreAlert) error {
	byLeague := make(map[string][]models.ScoreAlert)
	for _, a := range alerts {
		byLeague[a.League] = append(byLeague[a.League], a)
	}

	for league, leagueAlerts := range byLeague {
		streamKey := fmt.Sprintf(streamKeyFormat, league)
		pipe := w.redis.Pipeline()

		for _, a := range leagueAlerts {
			msg := toStreamMessage(a)
			msgJSON, err := json.Marshal(msg)
			if err != nil {
				return eris.Wrap(err, "marshal stream message")
			}

			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: streamKey,
				Values: map[string]interface{}{
					"data": msgJSON,
				},
			})
		}

		if _, err := pipe.Exec(ctx); err != nil {
			return eris.Wrapf(err, "redis pipeline exec for %s", streamKey)
		}
	}
	return nil
}

func toStreamMessage(a models.ScoreAlert) StreamMessage {
	return StreamMessage{
		AlertID:    a.AlertID,
		EventID:    a.EventID,
		League:     a.League,
		PrevHome:   a.Previous.Home,
		PrevAway:   a.Previous.Away,
		HomeScore:  a.Current.Home,
		AwayScore:  a.Current.Away,
		Period:     a.Period,
		Phase:      string(a.Phase),
		Provenance: string(a.Provenance),
		ObservedAt: a.ObservedAt,
	}
}

func dedupKey(a models.ScoreAlert) string {
	return fmt.Sprintf("%s:%d-%d>%d-%d", a.EventID, a.Previous.Home, a.Previous.Away, a.Current.Home, a.Current.Away)
}
