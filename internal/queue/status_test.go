package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YeonwooSung/ticketing-system/internal/model"
)

func testRequest() *model.QueuedRequest {
	return &model.QueuedRequest{
		ID:         "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		EventID:    1,
		SeatIDs:    []uint64{7, 8},
		UserID:     "u1",
		Priority:   model.PriorityNormal,
		EnqueuedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStatusPutAndGet(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewStore(rdb, time.Hour)
	rec := NewStatusRecord(testRequest())

	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	mock.ExpectSet("req:"+rec.RequestID, payload, time.Hour).SetVal("OK")
	require.NoError(t, store.Put(context.Background(), rec))

	mock.ExpectGet("req:" + rec.RequestID).SetVal(string(payload))
	got, err := store.Get(context.Background(), rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, got.State)
	assert.Equal(t, []uint64{7, 8}, got.SeatIDs)
	assert.Equal(t, "u1", got.UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusGetNotFound(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewStore(rdb, time.Hour)

	mock.ExpectGet("req:missing").RedisNil()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrStatusNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkProcessingSetsStartedAt(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewStore(rdb, time.Hour)
	rec := NewStatusRecord(testRequest())
	payload, _ := json.Marshal(rec)

	mock.ExpectGet("req:" + rec.RequestID).SetVal(string(payload))
	mock.Regexp().ExpectSet("req:"+rec.RequestID, `.*"state":"processing".*`, time.Hour).SetVal("OK")

	got, err := store.MarkProcessing(context.Background(), rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestProcessing, got.State)
	assert.NotNil(t, got.StartedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTerminalStateNeverTransitions(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewStore(rdb, time.Hour)
	rec := NewStatusRecord(testRequest())
	rec.State = model.RequestCompleted
	payload, _ := json.Marshal(rec)

	// Only the read is expected; no write may follow.
	mock.ExpectGet("req:" + rec.RequestID).SetVal(string(payload))
	_, err := store.Fail(context.Background(), rec.RequestID, model.ErrorInfo{Kind: "SeatUnavailable"})
	assert.ErrorIs(t, err, ErrTerminalState)

	mock.ExpectGet("req:" + rec.RequestID).SetVal(string(payload))
	_, err = store.MarkProcessing(context.Background(), rec.RequestID)
	assert.ErrorIs(t, err, ErrTerminalState)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteAttachesResult(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewStore(rdb, time.Hour)
	rec := NewStatusRecord(testRequest())
	rec.State = model.RequestProcessing
	payload, _ := json.Marshal(rec)

	mock.ExpectGet("req:" + rec.RequestID).SetVal(string(payload))
	mock.Regexp().ExpectSet("req:"+rec.RequestID, `.*"state":"completed".*"reservation_ids":\[42\].*`, time.Hour).SetVal("OK")

	got, err := store.Complete(context.Background(), rec.RequestID, &model.ReservationResult{
		ReservationIDs:   []uint64{42},
		SeatIDs:          []uint64{7, 8},
		TotalAmountCents: 5000,
		ExpiresAt:        time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, model.RequestCompleted, got.State)
	assert.NotNil(t, got.FinishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelIfPending(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	store := NewStore(rdb, time.Hour)

	mock.Regexp().ExpectEvalSha(cancelScript.Hash(), []string{"req:r1"}, `.+`).SetVal(int64(1))
	ok, err := store.CancelIfPending(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Already picked up by a worker: the script declines.
	mock.Regexp().ExpectEvalSha(cancelScript.Hash(), []string{"req:r1"}, `.+`).SetVal(int64(0))
	ok, err = store.CancelIfPending(context.Background(), "r1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
