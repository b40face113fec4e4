package delta

import "github.com/XavierBriggs/Iris/pkg/models"

// ChangeType indicates the type of change detected between two states
type ChangeType string

const (
	ChangeTypeNew    ChangeType = "new"
	ChangeTypeScore  ChangeType = "score"
	ChangeTypePeriod ChangeType = "period"
	ChangeTypePhase  ChangeType = "phase"
	ChangeTypeNone   ChangeType = "none"
)

// Compare classifies next against the previous state of the same event.
// Score wins over phase, phase over period. A nil prev is a new event.
func Compare(prev *models.ScoreState, next models.ScoreState) ChangeType {
	if prev == nil {
		return ChangeTypeNew
	}

	switch {
	case prev.Score() != next.Score():
		return ChangeTypeScore
	case prev.Phase != next.Phase:
		return ChangeTypePhase
	case prev.Period != next.Period:
		return ChangeTypePeriod
	default:
		return ChangeTypeNone
	}
}
