package store

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
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return gdb, mock
}

func TestGormPublications_TransitionIsCompareAndSet(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormPublications(gdb)

	mock.ExpectExec(`UPDATE "publications" SET .*"status"=.* WHERE \(id = \$\d+ AND status IN \(\$\d+,\$\d+\)\) AND "publications"."deleted_at" IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE "publications"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claim := Transition{
		From:         []models.PublicationStatus{models.StatusPending, models.StatusQueued},
		To:           models.StatusPublishing,
		CountAttempt: true,
	}
	ok, err := repo.Transition(context.Background(), "pub-1", claim)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Transition(context.Background(), "pub-1", claim)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must observe the row already moved")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormPublications_ClaimRechecksSchedule(t *testing.T) {
	gdb, mock := newMockDB(t)
	repo := NewGormPublications(gdb)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE "publications" SET .* WHERE \(id = \$\d+ AND status IN \(\$\d+,\$\d+\)\) AND \(scheduled_at IS NULL OR scheduled_at <= \$\d+\) AND "publications"."deleted_at" IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Transition(context.Background(), "pub-1", Transition{
		From:         []models.PublicationStatus{models.StatusPending, models.StatusQueued},
		To:           models.StatusPublishing,
		CountAttempt: true,
		DueBy:        &now,
	})
	require.NoError(t, err)
	assert.False(t, ok, "a row rescheduled past now must not be claimed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormPublications_TransitionNeedsSource(t *testing.T) {
	gdb, _ := newMockDB(t)
	_, err := NewGormPublications(gdb).Transition(context.Background(), "pub-1", Transition{To: models.StatusSkipped})
	assert.Error(t, err)
}

func TestGormPublications_GetMissing(t *testing.T) {
	gdb, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT \* FROM "publications" WHERE id = \$1 AND "publications"."deleted_at" IS NULL`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := NewGormPublications(gdb).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGormPublications_CreateReturnsExisting(t *testing.T) {
	gdb, mock := newMockDB(t)

	mock.ExpectExec(`INSERT INTO "publications" .* ON CONFLICT \("content_id","social_account_id"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT \* FROM "publications" WHERE \(content_id = \$1 AND social_account_id = \$2\) AND "publications"."deleted_at" IS NULL`).
		WithArgs("c1", "acc1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "content_id", "social_account_id", "platform", "status"}).
			AddRow("pub-first", "c1", "acc1", "x", "QUEUED"))

	got, created, err := NewGormPublications(gdb).Create(context.Background(), &models.Publication{
		ContentID: "c1", SocialAccountID: "acc1", Platform: models.PlatformX,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "pub-first", got.ID)
	assert.Equal(t, models.StatusQueued, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryPublications_Transitions(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPublications()
	p, created, err := repo.Create(ctx, &models.Publication{ContentID: "c1", SocialAccountID: "a1", Platform: models.PlatformX})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, models.StatusPending, p.Status)

	again, created, err := repo.Create(ctx, &models.Publication{ContentID: "c1", SocialAccountID: "a1", Platform: models.PlatformX})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.ID, again.ID)

	ok, _ := repo.Transition(ctx, p.ID, Transition{
		From: []models.PublicationStatus{models.StatusPending, models.StatusQueued},
		To:   models.StatusPublishing, CountAttempt: true,
	})
	require.True(t, ok)

	ok, _ = repo.Transition(ctx, p.ID, Transition{
		From: []models.PublicationStatus{models.StatusPending, models.StatusQueued},
		To:   models.StatusPublishing,
	})
	assert.False(t, ok)

	now := time.Now()
	ok, _ = repo.Transition(ctx, p.ID, Transition{
		From: []models.PublicationStatus{models.StatusPublishing}, To: models.StatusSuccess,
		PublishedAt: &now, PlatformPostID: "123", Payload: models.JSONMap{"verified": true},
	})
	require.True(t, ok)

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, got.Status)
	assert.Equal(t, "123", got.PlatformPostID)
	assert.Equal(t, 1, got.Attempts)
	assert.Empty(t, got.ErrorCode)

	later := now.Add(time.Hour)
	ok, _ = repo.Transition(ctx, p.ID, Transition{
		From: []models.PublicationStatus{models.StatusSuccess}, To: models.StatusPending,
		Schedule: true, ScheduledAt: &later,
	})
	require.True(t, ok)
	got, _ = repo.Get(ctx, p.ID)
	assert.Empty(t, got.PlatformPostID)
	assert.Nil(t, got.PublishedAt)
	assert.Equal(t, later, *got.ScheduledAt)
	assert.Zero(t, got.Attempts)
}

func TestMemoryPublications_ClaimRechecksSchedule(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPublications()
	now := time.Now()
	later := now.Add(24 * time.Hour)
	repo.Put(&models.Publication{ID: "p", ContentID: "c", Status: models.StatusQueued, ScheduledAt: &later})

	claim := Transition{
		From:  []models.PublicationStatus{models.StatusPending, models.StatusQueued},
		To:    models.StatusPublishing,
		DueBy: &now,
	}
	ok, err := repo.Transition(ctx, "p", claim)
	require.NoError(t, err)
	assert.False(t, ok)
	got, _ := repo.Get(ctx, "p")
	assert.Equal(t, models.StatusQueued, got.Status)

	claim.DueBy = &later
	ok, _ = repo.Transition(ctx, "p", claim)
	assert.True(t, ok)
}

func TestMemoryPublications_ListDueAndCounts(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryPublications()
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Minute)

	repo.Put(&models.Publication{ID: "a", ContentID: "c", Status: models.StatusPending, ScheduledAt: &past})
	repo.Put(&models.Publication{ID: "b", ContentID: "c", Status: models.StatusQueued, ScheduledAt: &future})
	repo.Put(&models.Publication{ID: "c", ContentID: "c", Status: models.StatusQueued})
	repo.Put(&models.Publication{ID: "d", ContentID: "c", Status: models.StatusSuccess})

	due, err := repo.ListDue(ctx, []models.PublicationStatus{models.StatusPending, models.StatusQueued}, now, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].ID)
	assert.Equal(t, "c", due[1].ID)

	counts, err := repo.StatusCounts(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusPending])
	assert.Equal(t, 2, counts[models.StatusQueued])
	assert.Equal(t, 1, counts[models.StatusSuccess])
}

func TestMemoryAccounts(t *testing.T) {
	repo := NewMemoryAccounts(&models.SocialAccount{ID: "a1", Platform: models.PlatformX})
	a, err := repo.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, models.PlatformX, a.Platform)

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
