package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/resident-gate/internal/model"
)

func TestPresenceRepoAppend_AssignsSeqInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPresenceRepo(db, zap.NewNop())

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO presence_events`).WithArgs(uint64(1), "ONLINE", at).WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectExec(`INSERT INTO presence_events`).WithArgs(uint64(2), "OFFLINE", at).WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectCommit()

	events := []model.PresenceEvent{
		{ResidentID: 1, Status: model.PresenceOnline, At: at},
		{ResidentID: 2, Status: model.PresenceOffline, At: at},
	}
	require.NoError(t, repo.Append(context.Background(), events))
	assert.Equal(t, uint64(10), events[0].Seq)
	assert.Equal(t, uint64(11), events[1].Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryPresenceRepo_RangeAndLatest(t *testing.T) {
	repo := NewMemoryPresenceRepo()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, []model.PresenceEvent{
		{ResidentID: 1, Status: model.PresenceOnline, At: base},
		{ResidentID: 2, Status: model.PresenceOnline, At: base},
	}))
	require.NoError(t, repo.Append(ctx, []model.PresenceEvent{
		{ResidentID: 1, Status: model.PresenceOffline, At: base.Add(time.Hour)},
	}))

	evs, err := repo.Range(ctx, 1, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, model.PresenceOnline, evs[0].Status)
	assert.Equal(t, model.PresenceOffline, evs[1].Status)

	// upper bound is exclusive
	evs, err = repo.Range(ctx, 1, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, evs, 1)

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, model.PresenceOffline, latest[0].Status)
	assert.Equal(t, model.PresenceOnline, latest[1].Status)
}
