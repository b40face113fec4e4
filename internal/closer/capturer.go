package closer

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const finalStream = "scores.final"

// ErrMissingEventID is returned for states that cannot be keyed
var ErrMissingEventID = eris.New("final state has no event id")

// Capturer records the last known state of events that went quiet
type Capturer struct {
	db          *sql.DB
	redisClient *redis.Client
	log         *zap.Logger
	now         func() time.Time
}

// NewCapturer creates a final score capturer; either backend may be nil
func NewCapturer(db *sql.DB, redisClient *redis.Client) *Capturer {
	return &Capturer{
		db:          db,
		redisClient: redisClient,
		log:         zap.L().With(zap.String("component", "final_capturer")),
		now:         time.Now,
	}
}

// CaptureFinal implements contracts.FinalSink
func (c *Capturer) CaptureFinal(ctx context.Context, state models.ScoreState) error {
	if state.EventID == "" {
		return ErrMissingEventID
	}

	capturedAt := c.now().UTC()

	if c.db != nil {
		if err := c.upsertFinal(ctx, state, capturedAt); err != nil {
			return err
		}
	}

	if c.redisClient != nil {
		if err := c.publishFinal(ctx, state, capturedAt); err != nil {
			// Row is captured; the stream is best effort
			c.log.Warn("publish final score", zap.String("event_id", state.EventID), zap.Error(err))
		}
	}

	c.log.Info("captured final score",
		zap.String("event_id", state.EventID),
		zap.Int("home", state.HomeScore),
		zap.Int("away", state.AwayScore),
	)
	return nil
}

func (c *Capturer) upsertFinal(ctx context.Context, state models.ScoreState, capturedAt time.Time) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	query := `
		INSERT INTO final_scores (event_id, league, home_score, away_score, period, phase, provenance, updated_at, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO UPDATE SET
			home_score = EXCLUDED.home_score,
			away_score = EXCLUDED.away_score,
			period = EXCLUDED.period,
			phase = EXCLUDED.phase,
			provenance = EXCLUDED.provenance,
			updated_at = EXCLUDED.updated_at,
			captured_at = EXCLUDED.captured_at
		WHERE final_scores.updated_at <= EXCLUDED.updated_at
	`

	if _, err := tx.ExecContext(ctx, query,
		state.EventID, state.League, state.HomeScore, state.AwayScore,
		state.Period, string(state.Phase), string(state.Provenance), state.UpdatedAt, capturedAt,
	); err != nil {
		return eris.Wrapf(err, "upsert final score %s", state.EventID)
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "commit transaction")
	}
	return nil
}

func (c *Capturer) publishFinal(ctx context.Context, state models.ScoreState, capturedAt time.Time) error {
	data, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "marshal final state")
	}

	_, err = c.redisClient.XAdd(ctx, &redis.XAddArgs{
		Stream: finalStream,
		Values: map[string]interface{}{
			"event_id":    state.EventID,
			"league":      state.League,
			"data":        data,
			"captured_at": capturedAt.Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		return eris.Wrap(err, "xadd to stream")
	}
	return nil
}
