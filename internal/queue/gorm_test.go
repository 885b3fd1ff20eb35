package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ifuryst/ripplecast/internal/models"
	"github.com/ifuryst/ripplecast/internal/poll"
)

func newMockQueue(t *testing.T) (*GormQueue, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormQueue(gdb, poll.NewManualClock(time.Unix(1000, 0))), mock
}

func TestGormQueue_EnqueueCreates(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`INSERT INTO "publication_jobs" .* ON CONFLICT \("idempotency_key"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, created, err := q.Enqueue(context.Background(), job("p1"), 10*time.Second)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, time.Unix(1010, 0).UTC(), got.RunAt)
	assert.NotEmpty(t, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormQueue_EnqueueDuplicateReturnsExisting(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`INSERT INTO "publication_jobs"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"id", "idempotency_key", "publication_id", "platform", "attempt"}).
		AddRow("job-1", "instagram:p1", "p1", "instagram", 0)
	mock.ExpectQuery(`SELECT \* FROM "publication_jobs" WHERE idempotency_key = \$1`).
		WithArgs("instagram:p1").
		WillReturnRows(rows)

	got, created, err := q.Enqueue(context.Background(), job("p1"), 0)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "job-1", got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormQueue_ClaimDeletesInsideLockingTransaction(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"id", "idempotency_key", "publication_id", "platform", "attempt"}).
		AddRow("job-1", "instagram:p1", "p1", "instagram", 1)
	mock.ExpectQuery(`SELECT \* FROM "publication_jobs" WHERE platform = \$1 AND run_at <= \$2 ORDER BY run_at .*FOR UPDATE SKIP LOCKED`).
		WillReturnRows(rows)
	mock.ExpectExec(`DELETE FROM "publication_jobs" WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := q.Claim(context.Background(), models.PlatformInstagram, time.Unix(2000, 0))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "p1", got.PublicationID)
	assert.Equal(t, 1, got.Attempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormQueue_ClaimEmpty(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "publication_jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	got, err := q.Claim(context.Background(), models.PlatformInstagram, time.Unix(2000, 0))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormQueue_ClaimLostRaceReturnsNothing(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "publication_jobs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "publication_id"}).AddRow("job-1", "p1"))
	mock.ExpectExec(`DELETE FROM "publication_jobs"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	got, err := q.Claim(context.Background(), models.PlatformInstagram, time.Unix(2000, 0))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGormQueue_Cancel(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectExec(`DELETE FROM "publication_jobs" WHERE idempotency_key = \$1`).
		WithArgs("instagram:p1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	removed, err := q.Cancel(context.Background(), "instagram:p1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormQueue_Reschedule(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "publication_jobs" WHERE idempotency_key = \$1`).
		WithArgs("instagram:p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "publication_jobs"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, q.Reschedule(context.Background(), job("p1"), time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}
