package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YeonwooSung/ticketing-system/internal/model"
)

func newTestQueue() (*Queue, redismock.ClientMock) {
	rdb, mock := redismock.NewClientMock()
	store := NewStore(rdb, time.Hour)
	q := New(rdb, store, 5*time.Second, time.Minute, 3)
	return q, mock
}

func TestStreamKeys(t *testing.T) {
	assert.Equal(t, "queue:42:high", streamKey(42, model.PriorityHigh))
	assert.Equal(t, "queue:42:low", streamKey(42, model.PriorityLow))
	assert.Equal(t, "queue:42:dead", deadStreamKey(42))
	assert.Equal(t, model.PriorityNormal, priorityFromStream("queue:42:normal"))
}

func TestParseMessageRoundTrip(t *testing.T) {
	raw := redis.XMessage{
		ID: "1-0",
		Values: map[string]interface{}{
			"request_id":  "01ARZ3NDEKTSV4RRFFQ69G5FAV",
			"event_id":    "42",
			"user_id":     "u1",
			"seat_ids":    "[7,8]",
			"priority":    "high",
			"enqueued_at": "2025-06-01T12:00:00Z",
		},
	}
	msg, err := parseMessage(model.PriorityHigh, raw)
	require.NoError(t, err)
	assert.Equal(t, "1-0", msg.StreamID)
	assert.Equal(t, uint64(42), msg.Request.EventID)
	assert.Equal(t, []uint64{7, 8}, msg.Request.SeatIDs)
	assert.Equal(t, model.PriorityHigh, msg.Request.Priority)
	assert.Equal(t, "u1", msg.Request.UserID)
}

func TestParseMessageRejectsMalformed(t *testing.T) {
	raw := redis.XMessage{
		ID: "1-0",
		Values: map[string]interface{}{
			"request_id": "r1",
			"event_id":   "nope",
			"user_id":    "u1",
			"seat_ids":   "[7]",
		},
	}
	_, err := parseMessage(model.PriorityLow, raw)
	assert.Error(t, err)

	delete(raw.Values, "event_id")
	_, err = parseMessage(model.PriorityLow, raw)
	assert.Error(t, err)
}

func TestEnqueueWritesStatusBeforeStream(t *testing.T) {
	q, mock := newTestQueue()
	req := testRequest()
	stream := "queue:1:normal"

	mock.ExpectXGroupCreateMkStream("queue:1:high", Group, "0").SetVal("OK")
	mock.ExpectXGroupCreateMkStream("queue:1:normal", Group, "0").SetVal("OK")
	mock.ExpectXGroupCreateMkStream("queue:1:low", Group, "0").SetVal("OK")
	// Ordered expectations: the pending status record must be written
	// before the stream append.
	mock.Regexp().ExpectSet("req:"+req.ID, `.*"state":"pending".*`, time.Hour).SetVal("OK")
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: stream,
		Values: []interface{}{
			"request_id", req.ID,
			"event_id", "1",
			"user_id", "u1",
			"seat_ids", "[7,8]",
			"priority", "normal",
			"enqueued_at", "2025-06-01T12:00:00Z",
		},
	}).SetVal("1-0")
	mock.ExpectXLen(stream).SetVal(3)

	position, err := q.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(3), position)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDequeueDrainsHighBeforeNormal(t *testing.T) {
	q, mock := newTestQueue()

	entry := func(id, reqID, priority string) redis.XMessage {
		return redis.XMessage{
			ID: id,
			Values: map[string]interface{}{
				"request_id":  reqID,
				"event_id":    "1",
				"user_id":     "u1",
				"seat_ids":    "[7]",
				"priority":    priority,
				"enqueued_at": "2025-06-01T12:00:00Z",
			},
		}
	}

	mock.ExpectXReadGroup(&redis.XReadGroupArgs{
		Group: Group, Consumer: "c1",
		Streams: []string{"queue:1:high", ">"},
		Count:   10, Block: -1,
	}).SetVal([]redis.XStream{{Stream: "queue:1:high", Messages: []redis.XMessage{entry("1-0", "rh", "high")}}})
	mock.ExpectXReadGroup(&redis.XReadGroupArgs{
		Group: Group, Consumer: "c1",
		Streams: []string{"queue:1:normal", ">"},
		Count:   3, Block: -1,
	}).SetVal([]redis.XStream{{Stream: "queue:1:normal", Messages: []redis.XMessage{entry("2-0", "rn", "normal")}}})
	mock.ExpectXReadGroup(&redis.XReadGroupArgs{
		Group: Group, Consumer: "c1",
		Streams: []string{"queue:1:low", ">"},
		Count:   1, Block: -1,
	}).RedisNil()

	msgs, err := q.Dequeue(context.Background(), "c1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "rh", msgs[0].Request.ID)
	assert.Equal(t, "rn", msgs[1].Request.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDequeueBlocksAcrossAllStreamsWhenIdle(t *testing.T) {
	q, mock := newTestQueue()

	for _, p := range []struct {
		stream string
		count  int64
	}{{"queue:1:high", 10}, {"queue:1:normal", 3}, {"queue:1:low", 1}} {
		mock.ExpectXReadGroup(&redis.XReadGroupArgs{
			Group: Group, Consumer: "c1",
			Streams: []string{p.stream, ">"},
			Count:   p.count, Block: -1,
		}).RedisNil()
	}
	mock.ExpectXReadGroup(&redis.XReadGroupArgs{
		Group: Group, Consumer: "c1",
		Streams: []string{"queue:1:high", "queue:1:normal", "queue:1:low", ">", ">", ">"},
		Count:   1, Block: 5 * time.Second,
	}).SetVal([]redis.XStream{{Stream: "queue:1:low", Messages: []redis.XMessage{{
		ID: "3-0",
		Values: map[string]interface{}{
			"request_id":  "rl",
			"event_id":    "1",
			"user_id":     "u1",
			"seat_ids":    "[9]",
			"priority":    "low",
			"enqueued_at": "2025-06-01T12:00:00Z",
		},
	}}}})

	msgs, err := q.Dequeue(context.Background(), "c1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "rl", msgs[0].Request.ID)
	assert.Equal(t, model.PriorityLow, msgs[0].Priority)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAck(t *testing.T) {
	q, mock := newTestQueue()
	m := &Message{StreamID: "1-0", Priority: model.PriorityHigh}
	m.Request.EventID = 1
	m.Request.ID = "r1"

	mock.ExpectXAck("queue:1:high", Group, "1-0").SetVal(1)
	require.NoError(t, q.Ack(context.Background(), 1, m))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeadLetterCopiesEntryAndAcks(t *testing.T) {
	q, mock := newTestQueue()
	m := &Message{StreamID: "1-0", Priority: model.PriorityNormal}
	m.Request = model.QueuedRequest{
		ID: "r1", EventID: 1, SeatIDs: []uint64{7}, UserID: "u1", Priority: model.PriorityNormal,
	}

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "queue:1:dead",
		Values: []interface{}{
			"request_id", "r1",
			"event_id", "1",
			"user_id", "u1",
			"seat_ids", "[7]",
			"priority", "normal",
			"error", "exceeded retries",
		},
	}).SetVal("9-0")
	mock.ExpectXAck("queue:1:normal", Group, "1-0").SetVal(1)

	require.NoError(t, q.DeadLetter(context.Background(), m, "exceeded retries"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsAggregatesPendingAndLag(t *testing.T) {
	q, mock := newTestQueue()

	groups := func(pending, lag int64) []redis.XInfoGroup {
		return []redis.XInfoGroup{{Name: Group, Pending: pending, Lag: lag}}
	}
	mock.ExpectXInfoGroups("queue:1:high").SetVal(groups(1, 2))
	mock.ExpectXInfoGroups("queue:1:normal").SetVal(groups(0, 4))
	mock.ExpectXInfoGroups("queue:1:low").SetVal(groups(0, 1))
	mock.ExpectGet("queue:1:rate").SetVal("2")

	stats, err := q.Stats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.PendingByPriority[model.PriorityHigh])
	assert.Equal(t, int64(4), stats.PendingByPriority[model.PriorityNormal])
	assert.Equal(t, int64(1), stats.PendingByPriority[model.PriorityLow])
	assert.Equal(t, int64(8), stats.TotalPending)
	assert.InDelta(t, 4.0, stats.EstimatedWaitSeconds, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthReportsGroupPerPriority(t *testing.T) {
	q, mock := newTestQueue()

	mock.ExpectXInfoGroups("queue:1:high").SetVal([]redis.XInfoGroup{
		{Name: Group, Consumers: 2, Pending: 1, Lag: 3},
	})
	mock.ExpectXInfoGroups("queue:1:normal").SetVal([]redis.XInfoGroup{
		{Name: "other-group", Consumers: 1},
	})
	mock.ExpectXInfoGroups("queue:1:low").SetErr(errors.New("ERR no such key"))

	health := q.Health(context.Background(), 1)
	require.Len(t, health, 3)

	assert.Equal(t, model.PriorityHigh, health[0].Priority)
	assert.True(t, health[0].Exists)
	assert.Equal(t, int64(2), health[0].Consumers)
	assert.Equal(t, int64(1), health[0].Pending)
	assert.Equal(t, int64(3), health[0].Lag)

	// A stream whose group is missing, or that was never created, is
	// reported dead instead of failing the whole check.
	assert.False(t, health[1].Exists)
	assert.False(t, health[2].Exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsFallbackWithoutThroughput(t *testing.T) {
	q, mock := newTestQueue()

	mock.ExpectXInfoGroups("queue:1:high").SetVal([]redis.XInfoGroup{{Name: Group, Pending: 0, Lag: 5}})
	mock.ExpectXInfoGroups("queue:1:normal").SetVal(nil)
	mock.ExpectXInfoGroups("queue:1:low").SetVal(nil)
	mock.ExpectGet("queue:1:rate").RedisNil()

	stats, err := q.Stats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.TotalPending)
	assert.InDelta(t, 5.0, stats.EstimatedWaitSeconds, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}
