package closer

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// PrunerConfig controls how long alert rows are kept
type PrunerConfig struct {
	Retention time.Duration
	Interval  time.Duration
}

// DefaultPrunerConfig keeps a week of alerts and prunes hourly
func DefaultPrunerConfig() PrunerConfig {
	return PrunerConfig{
		Retention: 7 * 24 * time.Hour,
		Interval:  time.Hour,
	}
}

// Pruner deletes score alerts older than the retention window
type Pruner struct {
	db       *sql.DB
	cfg      PrunerConfig
	log      *zap.Logger
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewPruner creates a new alert pruner
func NewPruner(db *sql.DB, cfg PrunerConfig) *Pruner {
	def := DefaultPrunerConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Pruner{
		db:       db,
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "alert_pruner")),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Cutoff returns the oldest observed_at that survives a prune at now
func (p *Pruner) Cutoff(now time.Time) time.Time {
	return now.Add(-p.cfg.Retention)
}

// Start runs the prune loop until Stop or ctx is done
func (p *Pruner) Start(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Info("alert pruner started", zap.Duration("retention", p.cfg.Retention))

	if _, err := p.Prune(ctx); err != nil {
		p.log.Error("initial prune", zap.Error(err))
	}

	for {
		select {
		case <-ticker.C:
			if _, err := p.Prune(ctx); err != nil {
				p.log.Error("prune", zap.Error(err))
			}
		case <-p.stopChan:
			p.log.Info("alert pruner stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop gracefully stops the pruner
func (p *Pruner) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
}

// Prune deletes expired alert rows and returns how many went
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	result, err := p.db.ExecContext(ctx,
		`DELETE FROM score_alerts WHERE observed_at < $1`,
		p.Cutoff(p.now().UTC()),
	)
	if err != nil {
		return 0, eris.Wrap(err, "delete expired alerts")
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		p.log.Info("pruned score alerts", zap.Int64("count", count))
	}
	return count, nil
}
