package engine

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YeonwooSung/ticketing-system/internal/lock"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
)

func newTestSweeper(t *testing.T) (*Sweeper, sqlmock.Sqlmock, redismock.ClientMock) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rdb, redisMock := redismock.NewClientMock()
	locks := lock.NewManager(rdb, 30*time.Second, time.Millisecond, time.Second)
	sweeper := NewSweeper(db, locks,
		repository.NewEventRepo(db), repository.NewSeatRepo(db), repository.NewReservationRepo(db),
		30*time.Second, 100)
	return sweeper, dbMock, redisMock
}

func TestSweepReleasesExpiredHold(t *testing.T) {
	sweeper, dbMock, redisMock := newTestSweeper(t)
	now := time.Now().UTC()
	holder := "u1"
	lapsed := now.Add(-time.Minute)

	dbMock.ExpectQuery(`SELECT (.+) FROM reservations\s+WHERE status = 'ACTIVE' AND expires_at <= \?`).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(11, 7, 1, "u1", lapsed, "ACTIVE", now.Add(-time.Hour)))

	expectSeatLock(redisMock, "7")

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`SELECT (.+) FROM seats WHERE seat_id IN (.+) FOR UPDATE`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows(seatCols).
			AddRow(7, 1, "A7", nil, nil, "REGULAR", 2500, "RESERVED", 5, holder, lapsed, nil, now))
	dbMock.ExpectExec(`UPDATE seats\s+SET status = 'AVAILABLE'`).
		WithArgs(7, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectQuery(`SELECT (.+) FROM events WHERE event_id = \? FOR UPDATE`).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow(1, "Concert", nil, now.Add(24*time.Hour), 5, 2, "ON_SALE", nil, now))
	dbMock.ExpectExec(`UPDATE events SET available_seats = \?, status = \?`).
		WithArgs(3, "ON_SALE", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec(`UPDATE reservations SET status = \?`).
		WithArgs("EXPIRED", 11).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectCommit()

	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestSweepLeavesBookedSeatAlone(t *testing.T) {
	sweeper, dbMock, redisMock := newTestSweeper(t)
	now := time.Now().UTC()
	lapsed := now.Add(-time.Minute)

	dbMock.ExpectQuery(`SELECT (.+) FROM reservations\s+WHERE status = 'ACTIVE' AND expires_at <= \?`).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(11, 7, 1, "u1", lapsed, "ACTIVE", now.Add(-time.Hour)))

	expectSeatLock(redisMock, "7")

	holder := "u1"
	bookingID := int64(99)
	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`SELECT (.+) FROM seats WHERE seat_id IN (.+) FOR UPDATE`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows(seatCols).
			AddRow(7, 1, "A7", nil, nil, "REGULAR", 2500, "BOOKED", 6, holder, nil, bookingID, now))
	dbMock.ExpectCommit()

	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestSweepIsolatesFailures(t *testing.T) {
	sweeper, dbMock, redisMock := newTestSweeper(t)
	now := time.Now().UTC()
	lapsed := now.Add(-time.Minute)
	holder := "u2"

	dbMock.ExpectQuery(`SELECT (.+) FROM reservations\s+WHERE status = 'ACTIVE' AND expires_at <= \?`).
		WithArgs(sqlmock.AnyArg(), 100).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(11, 7, 1, "u1", lapsed, "ACTIVE", now.Add(-time.Hour)).
			AddRow(12, 8, 1, "u2", lapsed, "ACTIVE", now.Add(-time.Hour)))

	// First reservation fails at the seat read; the second must still
	// be swept.
	expectSeatLock(redisMock, "7")
	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`SELECT (.+) FROM seats WHERE seat_id IN (.+) FOR UPDATE`).
		WithArgs(7).
		WillReturnError(assertableError("seat read failed"))
	dbMock.ExpectRollback()

	expectSeatLock(redisMock, "8")
	dbMock.ExpectBegin()
	dbMock.ExpectQuery(`SELECT (.+) FROM seats WHERE seat_id IN (.+) FOR UPDATE`).
		WithArgs(8).
		WillReturnRows(sqlmock.NewRows(seatCols).
			AddRow(8, 1, "A8", nil, nil, "REGULAR", 2500, "RESERVED", 2, holder, lapsed, nil, now))
	dbMock.ExpectExec(`UPDATE seats\s+SET status = 'AVAILABLE'`).
		WithArgs(8, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectQuery(`SELECT (.+) FROM events WHERE event_id = \? FOR UPDATE`).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(eventCols).
			AddRow(1, "Concert", nil, now.Add(24*time.Hour), 5, 0, "SOLD_OUT", nil, now))
	dbMock.ExpectExec(`UPDATE events SET available_seats = \?, status = \?`).
		WithArgs(1, "ON_SALE", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec(`UPDATE reservations SET status = \?`).
		WithArgs("EXPIRED", 12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectCommit()

	n, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

type assertableError string

func (e assertableError) Error() string { return string(e) }
