package data

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (ImageModel, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return ImageModel{DB: db}, mock
}

func TestImageInsertMapsUniqueViolation(t *testing.T) {
	m, mock := newMock(t)

	mock.ExpectQuery(`INSERT INTO images`).
		WillReturnError(&pq.Error{Code: "23505"})

	img := &Image{
		CameraID:    uuid.New(),
		Filename:    "WUH09_0001.JPG",
		CapturedAt:  time.Now().UTC(),
		StoragePath: "raw/x",
	}
	err := m.Insert(context.Background(), img)
	require.ErrorIs(t, err, ErrDuplicateImage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImageInsertAssignsID(t *testing.T) {
	m, mock := newMock(t)

	ingested := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO images`).
		WillReturnRows(sqlmock.NewRows([]string{"ingested_at"}).AddRow(ingested))

	img := &Image{CameraID: uuid.New(), Filename: "a.jpg", CapturedAt: time.Now().UTC()}
	require.NoError(t, m.Insert(context.Background(), img))
	require.NotEqual(t, uuid.Nil, img.ID)
	require.Equal(t, ImageStatusPending, img.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusConditionalTransition(t *testing.T) {
	m, mock := newMock(t)
	id := uuid.New()

	// The guarded form must include the from-state in the WHERE clause.
	mock.ExpectExec(`UPDATE images SET status = \$1 WHERE id = \$2 AND status = \$3`).
		WithArgs(ImageStatusProcessing, id, ImageStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, m.SetStatus(context.Background(), id, ImageStatusPending, ImageStatusProcessing))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusStaleRetryDoesNotRegress(t *testing.T) {
	m, mock := newMock(t)
	id := uuid.New()

	// Row already moved on: zero rows affected surfaces as not-found.
	mock.ExpectExec(`UPDATE images SET status`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := m.SetStatus(context.Background(), id, ImageStatusPending, ImageStatusProcessing)
	require.ErrorIs(t, err, ErrRecordNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExistsNearWindowsAroundCapture(t *testing.T) {
	m, mock := newMock(t)
	camID := uuid.New()
	capturedAt := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(camID, "a.jpg", capturedAt.Add(-time.Second), capturedAt.Add(time.Second)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := m.ExistsNear(context.Background(), camID, "a.jpg", capturedAt, time.Second)
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}
