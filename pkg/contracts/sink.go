package contracts

import (
	"context"

	"github.com/XavierBriggs/Iris/pkg/models"
)

// StateStore persists the latest ScoreState outside the process (write-through cache)
type StateStore interface {
	Store(ctx context.Context, states []models.ScoreState) error
	Load(ctx context.Context, eventIDs []string) ([]models.ScoreState, error)
}

// AlertSink receives derived score-change alerts
type AlertSink interface {
	WriteAlerts(ctx context.Context, alerts []models.ScoreAlert) error
}

// FinalSink receives the last known state of an event once it goes quiet
type FinalSink interface {
	CaptureFinal(ctx context.Context, state models.ScoreState) error
}
