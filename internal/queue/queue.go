// Package queue implements the per-event priority streams and the
// request-status store behind the asynchronous reservation path.  Each
// event owns three append-only streams (high/normal/low) drained by the
// reservation_workers consumer group; delivery is at-least-once with
// idle-entry reclaim and a dead-letter stream for messages that exhaust
// their delivery budget.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/YeonwooSung/ticketing-system/internal/model"
)

// Group is the consumer group shared by all queue workers.
const Group = "reservation_workers"

// drainWeights caps how many messages of each priority one scheduling
// round may take. High outweighs normal outweighs low, but every round
// offers all three so nothing starves.
var drainWeights = map[model.Priority]int64{
	model.PriorityHigh:   10,
	model.PriorityNormal: 3,
	model.PriorityLow:    1,
}

// Queue wraps the Redis streams of all events.
type Queue struct {
	rdb           *redis.Client
	status        *Store
	block         time.Duration
	reclaimIdle   time.Duration
	maxDeliveries int
}

// New constructs a Queue. block is the blocking-read window of an idle
// consumer, reclaimIdle the idle threshold before a pending entry is
// taken over, and maxDeliveries the delivery budget before a message is
// dead-lettered.
func New(rdb *redis.Client, status *Store, block, reclaimIdle time.Duration, maxDeliveries int) *Queue {
	return &Queue{
		rdb:           rdb,
		status:        status,
		block:         block,
		reclaimIdle:   reclaimIdle,
		maxDeliveries: maxDeliveries,
	}
}

// NewRequestID returns a fresh time-ordered request id; lexicographic
// order of ids equals enqueue order.
func NewRequestID() string { return ulid.Make().String() }

func streamKey(eventID uint64, p model.Priority) string {
	return fmt.Sprintf("queue:%d:%s", eventID, p)
}

func deadStreamKey(eventID uint64) string {
	return fmt.Sprintf("queue:%d:dead", eventID)
}

// EnsureGroups creates the consumer group on every priority stream of
// the event, creating the streams as needed. Existing groups are fine.
func (q *Queue) EnsureGroups(ctx context.Context, eventID uint64) error {
	for _, p := range model.Priorities {
		err := q.rdb.XGroupCreateMkStream(ctx, streamKey(eventID, p), Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return err
		}
	}
	return nil
}

// Enqueue admits a request: it writes the initial pending status record
// first (so a poll immediately after the 202 always finds it), then
// appends to the stream of the request's priority. It does not wait for
// a worker and returns the approximate queue position.
func (q *Queue) Enqueue(ctx context.Context, req *model.QueuedRequest) (int64, error) {
	if err := q.EnsureGroups(ctx, req.EventID); err != nil {
		return 0, err
	}

	stream := streamKey(req.EventID, req.Priority)
	seatIDs, err := json.Marshal(req.SeatIDs)
	if err != nil {
		return 0, err
	}

	rec := NewStatusRecord(req)
	if err := q.status.Put(ctx, rec); err != nil {
		return 0, err
	}

	err = q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: []interface{}{
			"request_id", req.ID,
			"event_id", strconv.FormatUint(req.EventID, 10),
			"user_id", req.UserID,
			"seat_ids", string(seatIDs),
			"priority", string(req.Priority),
			"enqueued_at", req.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return 0, err
	}
	// The position is advisory; losing it does not fail the enqueue.
	position, err := q.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, nil
	}
	return position, nil
}

// Message is one delivered queue entry.
type Message struct {
	StreamID string
	Priority model.Priority
	Request  model.QueuedRequest
}

// Dequeue reads the next batch for a consumer. Each round first drains
// the priorities non-blocking with weighted budgets (high before normal
// before low); an empty round falls back to a single blocking read that
// covers all three streams so an idle worker suspends instead of
// spinning and no priority is starved.
func (q *Queue) Dequeue(ctx context.Context, consumer string, eventID uint64) ([]Message, error) {
	var out []Message
	for _, p := range model.Priorities {
		res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    Group,
			Consumer: consumer,
			Streams:  []string{streamKey(eventID, p), ">"},
			Count:    drainWeights[p],
			Block:    -1,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if strings.Contains(err.Error(), "NOGROUP") {
				if err := q.EnsureGroups(ctx, eventID); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}
		out = q.appendParsed(ctx, out, eventID, res)
	}
	if len(out) > 0 {
		return out, nil
	}

	// Idle: one blocking read across all three priorities.
	streams := make([]string, 0, 6)
	for _, p := range model.Priorities {
		streams = append(streams, streamKey(eventID, p))
	}
	for range model.Priorities {
		streams = append(streams, ">")
	}
	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    Group,
		Consumer: consumer,
		Streams:  streams,
		Count:    1,
		Block:    q.block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return q.appendParsed(ctx, out, eventID, res), nil
}

// appendParsed converts raw stream entries, acknowledging and
// dead-lettering entries that cannot be decoded so they never wedge the
// pending-entries list.
func (q *Queue) appendParsed(ctx context.Context, out []Message, eventID uint64, res []redis.XStream) []Message {
	for _, stream := range res {
		priority := priorityFromStream(stream.Stream)
		for _, raw := range stream.Messages {
			msg, err := parseMessage(priority, raw)
			if err != nil {
				log.Printf("queue: malformed entry %s on %s: %v", raw.ID, stream.Stream, err)
				_ = q.rdb.XAdd(ctx, &redis.XAddArgs{
					Stream: deadStreamKey(eventID),
					Values: []interface{}{"stream_id", raw.ID, "error", err.Error()},
				}).Err()
				_ = q.rdb.XAck(ctx, stream.Stream, Group, raw.ID).Err()
				continue
			}
			out = append(out, *msg)
		}
	}
	return out
}

func priorityFromStream(stream string) model.Priority {
	idx := strings.LastIndexByte(stream, ':')
	return model.Priority(stream[idx+1:])
}

func parseMessage(priority model.Priority, raw redis.XMessage) (*Message, error) {
	get := func(field string) (string, error) {
		v, ok := raw.Values[field]
		if !ok {
			return "", fmt.Errorf("missing field %q", field)
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("field %q is not a string", field)
		}
		return s, nil
	}

	var msg Message
	msg.StreamID = raw.ID
	msg.Priority = priority
	msg.Request.Priority = priority

	var err error
	if msg.Request.ID, err = get("request_id"); err != nil {
		return nil, err
	}
	eventID, err := get("event_id")
	if err != nil {
		return nil, err
	}
	if msg.Request.EventID, err = strconv.ParseUint(eventID, 10, 64); err != nil {
		return nil, fmt.Errorf("event_id: %w", err)
	}
	if msg.Request.UserID, err = get("user_id"); err != nil {
		return nil, err
	}
	seatIDs, err := get("seat_ids")
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(seatIDs), &msg.Request.SeatIDs); err != nil {
		return nil, fmt.Errorf("seat_ids: %w", err)
	}
	if enq, err := get("enqueued_at"); err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, enq); perr == nil {
			msg.Request.EnqueuedAt = t
		}
	}
	return &msg, nil
}

// Ack acknowledges a processed message.
func (q *Queue) Ack(ctx context.Context, eventID uint64, m *Message) error {
	return q.rdb.XAck(ctx, streamKey(eventID, m.Priority), Group, m.StreamID).Err()
}

// DeadLetter copies a message to the event's dead-letter stream with
// the failure reason and acknowledges the original so it is never
// redelivered.
func (q *Queue) DeadLetter(ctx context.Context, m *Message, reason string) error {
	seatIDs, _ := json.Marshal(m.Request.SeatIDs)
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: deadStreamKey(m.Request.EventID),
		Values: []interface{}{
			"request_id", m.Request.ID,
			"event_id", strconv.FormatUint(m.Request.EventID, 10),
			"user_id", m.Request.UserID,
			"seat_ids", string(seatIDs),
			"priority", string(m.Priority),
			"error", reason,
		},
	}).Err()
	if err != nil {
		return err
	}
	return q.Ack(ctx, m.Request.EventID, m)
}

// Reclaim scans the pending-entries lists of the event for messages
// whose owner went quiet. Entries under the delivery budget are claimed
// for consumer and returned for processing; the rest are dead-lettered
// and their requests marked failed. The second result lists the
// requests that were dead-lettered.
func (q *Queue) Reclaim(ctx context.Context, consumer string, eventID uint64) ([]Message, []Message, error) {
	var reclaimed, dead []Message
	for _, p := range model.Priorities {
		stream := streamKey(eventID, p)
		pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  Group,
			Idle:   q.reclaimIdle,
			Start:  "-",
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil {
			if err == redis.Nil || strings.Contains(err.Error(), "NOGROUP") {
				continue
			}
			return nil, nil, err
		}
		if len(pending) == 0 {
			continue
		}

		ids := make([]string, 0, len(pending))
		retries := make(map[string]int64, len(pending))
		for _, entry := range pending {
			ids = append(ids, entry.ID)
			retries[entry.ID] = entry.RetryCount
		}
		claimed, err := q.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    Group,
			Consumer: consumer,
			MinIdle:  q.reclaimIdle,
			Messages: ids,
		}).Result()
		if err != nil && err != redis.Nil {
			return nil, nil, err
		}

		for _, raw := range claimed {
			msg, perr := parseMessage(p, raw)
			if perr != nil {
				log.Printf("queue: reclaimed malformed entry %s: %v", raw.ID, perr)
				_ = q.rdb.XAck(ctx, stream, Group, raw.ID).Err()
				continue
			}
			if retries[raw.ID] >= int64(q.maxDeliveries) {
				if err := q.DeadLetter(ctx, msg, "exceeded retries"); err != nil {
					return nil, nil, err
				}
				if _, err := q.status.Fail(ctx, msg.Request.ID, model.ErrorInfo{
					Kind:    "ExceededRetries",
					Message: fmt.Sprintf("gave up after %d deliveries", q.maxDeliveries),
				}); err != nil {
					log.Printf("queue: marking %s failed: %v", msg.Request.ID, err)
				}
				dead = append(dead, *msg)
				continue
			}
			reclaimed = append(reclaimed, *msg)
		}
	}
	return reclaimed, dead, nil
}

// Stats summarizes queue depth and the wait a newly admitted request
// should expect.
type Stats struct {
	EventID              uint64                   `json:"event_id"`
	PendingByPriority    map[model.Priority]int64 `json:"pending_by_priority"`
	TotalPending         int64                    `json:"total_pending"`
	EstimatedWaitSeconds float64                  `json:"estimated_wait_seconds"`
}

func rateKey(eventID uint64) string { return fmt.Sprintf("queue:%d:rate", eventID) }

// ewmaAlpha weights the latest observation in the throughput estimate.
const ewmaAlpha = 0.2

// RecordProcessed folds one observed processing duration into the
// event's throughput EWMA. The read-modify-write is not atomic across
// workers; the estimate only feeds wait-time hints.
func (q *Queue) RecordProcessed(ctx context.Context, eventID uint64, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	instant := 1.0 / elapsed.Seconds()
	rate := instant
	if prev, err := q.rdb.Get(ctx, rateKey(eventID)).Float64(); err == nil && prev > 0 {
		rate = ewmaAlpha*instant + (1-ewmaAlpha)*prev
	}
	if err := q.rdb.Set(ctx, rateKey(eventID), rate, 10*time.Minute).Err(); err != nil {
		log.Printf("queue: recording throughput: %v", err)
	}
}

// Stats reports per-priority pending counts (delivered-but-unacked plus
// not-yet-delivered) and an EWMA-based wait estimate.
func (q *Queue) Stats(ctx context.Context, eventID uint64) (*Stats, error) {
	s := &Stats{
		EventID:           eventID,
		PendingByPriority: make(map[model.Priority]int64, len(model.Priorities)),
	}
	for _, p := range model.Priorities {
		stream := streamKey(eventID, p)
		groups, err := q.rdb.XInfoGroups(ctx, stream).Result()
		if err != nil {
			// Stream not created yet: nothing has been enqueued.
			s.PendingByPriority[p] = 0
			continue
		}
		var pending int64
		for _, g := range groups {
			if g.Name == Group {
				pending = g.Pending + g.Lag
				break
			}
		}
		s.PendingByPriority[p] = pending
		s.TotalPending += pending
	}

	if s.TotalPending > 0 {
		if rate, err := q.rdb.Get(ctx, rateKey(eventID)).Float64(); err == nil && rate > 0 {
			s.EstimatedWaitSeconds = float64(s.TotalPending) / rate
		} else {
			// No throughput observed yet; assume one request per second.
			s.EstimatedWaitSeconds = float64(s.TotalPending)
		}
	}
	return s, nil
}

// Ping verifies connectivity with the queue store.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// GroupHealth describes consumer-group liveness of one priority stream.
type GroupHealth struct {
	Priority  model.Priority `json:"priority"`
	Exists    bool           `json:"exists"`
	Consumers int64          `json:"consumers"`
	Pending   int64          `json:"pending"`
	Lag       int64          `json:"lag"`
}

// Health reports the reservation_workers group on every priority stream
// of an event. A stream that was never written to (or has no group yet)
// reports Exists false rather than an error.
func (q *Queue) Health(ctx context.Context, eventID uint64) []GroupHealth {
	out := make([]GroupHealth, 0, len(model.Priorities))
	for _, p := range model.Priorities {
		gh := GroupHealth{Priority: p}
		groups, err := q.rdb.XInfoGroups(ctx, streamKey(eventID, p)).Result()
		if err == nil {
			for _, g := range groups {
				if g.Name == Group {
					gh.Exists = true
					gh.Consumers = g.Consumers
					gh.Pending = g.Pending
					gh.Lag = g.Lag
					break
				}
			}
		}
		out = append(out, gh)
	}
	return out
}
