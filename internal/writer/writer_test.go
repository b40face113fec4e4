package writer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/XavierBriggs/Iris/internal/writer"
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/XavierBriggs/Iris/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alert(id string, prev, cur models.Score) models.ScoreAlert {
	return models.ScoreAlert{
		AlertID:    id,
		EventID:    "e1",
		League:     "basketball_nba",
		Previous:   prev,
		Current:    cur,
		Phase:      models.PhaseLive,
		Provenance: models.ProvenancePoll,
		ObservedAt: testutil.BaseTime,
	}
}

func TestWriteAlerts_Dedup(t *testing.T) {
	w := writer.NewWriter(nil, nil)
	ctx := context.Background()

	require.NoError(t, w.WriteAlerts(ctx, []models.ScoreAlert{
		alert("a1", models.Score{Home: 0, Away: 0}, models.Score{Home: 2, Away: 0}),
	}))
	// the same transition arriving again over the other mechanism
	require.NoError(t, w.WriteAlerts(ctx, []models.ScoreAlert{
		alert("a2", models.Score{Home: 0, Away: 0}, models.Score{Home: 2, Away: 0}),
		alert("a3", models.Score{Home: 2, Away: 0}, models.Score{Home: 2, Away: 3}),
	}))

	assert.Equal(t, 2, w.Pending())

	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, 0, w.Pending())
}

func TestWriter_StopFlushes(t *testing.T) {
	w := writer.NewWriter(nil, nil)
	w.Start(context.Background())

	require.NoError(t, w.WriteAlerts(context.Background(), []models.ScoreAlert{
		alert("a1", models.Score{}, models.Score{Home: 1}),
	}))
	w.Stop()
	w.Stop()

	assert.Equal(t, 0, w.Pending())
}

func TestFlush_InsertsBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := writer.NewWriter(db, nil)
	ctx := context.Background()

	require.NoError(t, w.WriteAlerts(ctx, []models.ScoreAlert{
		alert("a1", models.Score{}, models.Score{Home: 3}),
		alert("a2", models.Score{Home: 3}, models.Score{Home: 3, Away: 2}),
	}))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO score_alerts`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, w.Flush(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, 0, w.Pending())
}

func TestFlush_InsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	w := writer.NewWriter(db, nil)
	ctx := context.Background()

	require.NoError(t, w.WriteAlerts(ctx, []models.ScoreAlert{
		alert("a1", models.Score{}, models.Score{Away: 1}),
	}))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO score_alerts`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = w.Flush(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())

	// the failed transition can be written again
	require.NoError(t, w.WriteAlerts(ctx, []models.ScoreAlert{
		alert("a1-retry", models.Score{}, models.Score{Away: 1}),
	}))
	assert.Equal(t, 1, w.Pending())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO score_alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, w.Flush(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}
