package engine

import (
	"testing"

	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestRing(t *testing.T) {
	r := newRing(3)
	assert.Empty(t, r.items())

	for i := 1; i <= 5; i++ {
		r.push(models.ScoreState{HomeScore: i})
	}

	items := r.items()
	assert.Len(t, items, 3)
	assert.Equal(t, 3, items[0].HomeScore)
	assert.Equal(t, 5, items[2].HomeScore)
}

func TestMergePhase(t *testing.T) {
	assert.Equal(t, models.PhaseLive, mergePhase("", models.PhaseLive))
	assert.Equal(t, models.PhaseLive, mergePhase(models.PhasePre, models.PhaseLive))
	assert.Equal(t, models.PhaseLive, mergePhase(models.PhaseLive, models.PhasePre))
	assert.Equal(t, models.PhaseFinished, mergePhase(models.PhaseFinished, models.PhaseLive))
}
