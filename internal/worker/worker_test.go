package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YeonwooSung/ticketing-system/internal/engine"
	"github.com/YeonwooSung/ticketing-system/internal/hub"
	"github.com/YeonwooSung/ticketing-system/internal/model"
	"github.com/YeonwooSung/ticketing-system/internal/queue"
)

// stubEngine satisfies Reserver with canned outcomes.
type stubEngine struct {
	result        *model.ReservationResult
	err           error
	recoverResult *model.ReservationResult
	recoverHeld   bool
	reserveCalls  int
}

func (s *stubEngine) Reserve(context.Context, uint64, []uint64, string) (*model.ReservationResult, error) {
	s.reserveCalls++
	return s.result, s.err
}

func (s *stubEngine) Recover(context.Context, []uint64, string) (*model.ReservationResult, bool, error) {
	return s.recoverResult, s.recoverHeld, nil
}

func newTestWorker(eng Reserver) (*Worker, redismock.ClientMock) {
	rdb, mock := redismock.NewClientMock()
	store := queue.NewStore(rdb, time.Hour)
	q := queue.New(rdb, store, 5*time.Second, time.Minute, 3)
	w := New(q, store, eng, hub.NewNotifier(rdb), nil)
	return w, mock
}

func testMessage() *queue.Message {
	m := &queue.Message{StreamID: "1-0", Priority: model.PriorityNormal}
	m.Request = model.QueuedRequest{
		ID:         "r1",
		EventID:    1,
		SeatIDs:    []uint64{7},
		UserID:     "u1",
		Priority:   model.PriorityNormal,
		EnqueuedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	return m
}

func recordJSON(t *testing.T, state model.RequestState) string {
	t.Helper()
	rec := &queue.StatusRecord{
		RequestID:  "r1",
		State:      state,
		Priority:   model.PriorityNormal,
		EventID:    1,
		SeatIDs:    []uint64{7},
		UserID:     "u1",
		EnqueuedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	return string(payload)
}

func expectNotify(mock redismock.ClientMock) {
	mock.Regexp().ExpectPublish("notify:request:r1", `.+`).SetVal(1)
	mock.Regexp().ExpectPublish("notify:user:u1", `.+`).SetVal(1)
}

func TestProcessCompletesRequest(t *testing.T) {
	eng := &stubEngine{result: &model.ReservationResult{
		ReservationIDs:   []uint64{42},
		SeatIDs:          []uint64{7},
		TotalAmountCents: 2500,
		ExpiresAt:        time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC),
	}}
	w, mock := newTestWorker(eng)

	mock.ExpectGet("req:r1").SetVal(recordJSON(t, model.RequestPending))
	// pending → processing
	mock.ExpectGet("req:r1").SetVal(recordJSON(t, model.RequestPending))
	mock.Regexp().ExpectSet("req:r1", `.*"state":"processing".*`, time.Hour).SetVal("OK")
	expectNotify(mock)
	// processing → completed
	mock.ExpectGet("req:r1").SetVal(recordJSON(t, model.RequestProcessing))
	mock.Regexp().ExpectSet("req:r1", `.*"state":"completed".*`, time.Hour).SetVal("OK")
	expectNotify(mock)
	mock.ExpectXAck("queue:1:normal", queue.Group, "1-0").SetVal(1)
	// throughput EWMA
	mock.ExpectGet("queue:1:rate").RedisNil()
	mock.Regexp().ExpectSet("queue:1:rate", `.+`, 10*time.Minute).SetVal("OK")

	w.process(context.Background(), testMessage())
	assert.Equal(t, 1, eng.reserveCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessSkipsCancelledWithoutReserving(t *testing.T) {
	eng := &stubEngine{}
	w, mock := newTestWorker(eng)

	mock.ExpectGet("req:r1").SetVal(recordJSON(t, model.RequestCancelled))
	mock.ExpectXAck("queue:1:normal", queue.Group, "1-0").SetVal(1)
	expectNotify(mock)

	w.process(context.Background(), testMessage())
	assert.Zero(t, eng.reserveCalls, "engine must not be invoked for cancelled requests")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessAcksDomainFailure(t *testing.T) {
	eng := &stubEngine{err: &engine.SeatUnavailableError{SeatID: 7}}
	w, mock := newTestWorker(eng)

	mock.ExpectGet("req:r1").SetVal(recordJSON(t, model.RequestPending))
	mock.ExpectGet("req:r1").SetVal(recordJSON(t, model.RequestPending))
	mock.Regexp().ExpectSet("req:r1", `.*"state":"processing".*`, time.Hour).SetVal("OK")
	expectNotify(mock)
	mock.ExpectGet("req:r1").SetVal(recordJSON(t, model.RequestProcessing))
	mock.Regexp().ExpectSet("req:r1", `.*"state":"failed".*"kind":"SeatUnavailable".*`, time.Hour).SetVal("OK")
	expectNotify(mock)
	mock.ExpectXAck("queue:1:normal", queue.Group, "1-0").SetVal(1)

	w.process(context.Background(), testMessage())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessLeavesTransientFailureUnacked(t *testing.T) {
	eng := &stubEngine{err: errors.New("dial tcp: connection refused")}
	w, mock := newTestWorker(eng)

	mock.ExpectGet("req:r1").SetVal(recordJSON(t, model.RequestPending))
	mock.ExpectGet("req:r1").SetVal(recordJSON(t, model.RequestPending))
	mock.Regexp().ExpectSet("req:r1", `.*"state":"processing".*`, time.Hour).SetVal("OK")
	expectNotify(mock)
	// No ack and no terminal write: the message stays pending for
	// redelivery through PEL reclaim.

	w.process(context.Background(), testMessage())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessAcksWhenStatusExpired(t *testing.T) {
	eng := &stubEngine{}
	w, mock := newTestWorker(eng)

	mock.ExpectGet("req:r1").RedisNil()
	mock.ExpectXAck("queue:1:normal", queue.Group, "1-0").SetVal(1)

	w.process(context.Background(), testMessage())
	assert.Zero(t, eng.reserveCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessRecoversCommittedReserveAfterCrash(t *testing.T) {
	eng := &stubEngine{
		recoverHeld: true,
		recoverResult: &model.ReservationResult{
			ReservationIDs:   []uint64{42},
			SeatIDs:          []uint64{7},
			TotalAmountCents: 2500,
			ExpiresAt:        time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC),
		},
	}
	w, mock := newTestWorker(eng)

	mock.ExpectGet("req:r1").SetVal(recordJSON(t, model.RequestProcessing))
	mock.ExpectGet("req:r1").SetVal(recordJSON(t, model.RequestProcessing))
	mock.Regexp().ExpectSet("req:r1", `.*"state":"completed".*`, time.Hour).SetVal("OK")
	expectNotify(mock)
	mock.ExpectXAck("queue:1:normal", queue.Group, "1-0").SetVal(1)

	w.process(context.Background(), testMessage())
	assert.Zero(t, eng.reserveCalls, "a recovered reserve must not run again")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessAcksAlreadyTerminalRequest(t *testing.T) {
	eng := &stubEngine{}
	w, mock := newTestWorker(eng)

	mock.ExpectGet("req:r1").SetVal(recordJSON(t, model.RequestCompleted))
	mock.ExpectXAck("queue:1:normal", queue.Group, "1-0").SetVal(1)

	w.process(context.Background(), testMessage())
	assert.Zero(t, eng.reserveCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}
