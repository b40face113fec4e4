package leagues

import (
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/rotisserie/eris"
)

// ErrInvalidUpdate marks an upstream payload that cannot be applied
var ErrInvalidUpdate = eris.New("invalid score update")

// ValidateUpdate checks an upstream update before it reaches the engine
func ValidateUpdate(update models.ScoreUpdate) error {
	if update.EventID == "" {
		return eris.Wrap(ErrInvalidUpdate, "event id cannot be empty")
	}

	if update.HomeScore < 0 || update.AwayScore < 0 {
		return eris.Wrapf(ErrInvalidUpdate, "negative score %d-%d for %s", update.HomeScore, update.AwayScore, update.EventID)
	}

	if !update.Phase.Valid() {
		return eris.Wrapf(ErrInvalidUpdate, "unknown phase %q for %s", update.Phase, update.EventID)
	}

	if update.Timestamp.IsZero() {
		return eris.Wrapf(ErrInvalidUpdate, "missing timestamp for %s", update.EventID)
	}

	return nil
}
