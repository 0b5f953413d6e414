package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/YeonwooSung/ticketing-system/internal/model"
)

// ErrStatusNotFound is returned when no status record exists for a
// request id, either because it never existed or because its TTL
// lapsed. Handlers report the latter as an expired request.
var ErrStatusNotFound = errors.New("request status not found")

// ErrTerminalState is returned when a transition is attempted on a
// record already in a terminal state.
var ErrTerminalState = errors.New("request already in terminal state")

// StatusRecord is the keyed lifecycle record of one queued request.
// Every transition is written as a single SET so readers always see a
// complete snapshot.
type StatusRecord struct {
	RequestID     string                   `json:"request_id"`
	State         model.RequestState       `json:"state"`
	Priority      model.Priority           `json:"priority"`
	EventID       uint64                   `json:"event_id"`
	SeatIDs       []uint64                 `json:"seat_ids"`
	UserID        string                   `json:"user_id"`
	QueuePosition int64                    `json:"queue_position,omitempty"`
	EnqueuedAt    time.Time                `json:"enqueued_at"`
	StartedAt     *time.Time               `json:"started_at,omitempty"`
	FinishedAt    *time.Time               `json:"finished_at,omitempty"`
	Result        *model.ReservationResult `json:"result,omitempty"`
	Error         *model.ErrorInfo         `json:"error,omitempty"`
}

// NewStatusRecord builds the initial pending record for a request.
func NewStatusRecord(req *model.QueuedRequest) *StatusRecord {
	return &StatusRecord{
		RequestID:  req.ID,
		State:      model.RequestPending,
		Priority:   req.Priority,
		EventID:    req.EventID,
		SeatIDs:    req.SeatIDs,
		UserID:     req.UserID,
		EnqueuedAt: req.EnqueuedAt.UTC(),
	}
}

// cancelScript flips a record to cancelled only while it is still
// pending. Decode, compare and rewrite run as one unit on the server so
// a cancel can never race a worker's processing transition.
var cancelScript = redis.NewScript(`
local v = redis.call("get", KEYS[1])
if not v then
    return 0
end
local r = cjson.decode(v)
if r.state ~= "pending" then
    return 0
end
r.state = "cancelled"
r.finished_at = ARGV[1]
r.error = { kind = "Cancelled", message = "cancelled by user" }
redis.call("set", KEYS[1], cjson.encode(r), "KEEPTTL")
return 1
`)

// Store reads and writes req:{id} records with a fixed TTL.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore constructs a Store.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func statusKey(requestID string) string { return "req:" + requestID }

// Put writes the record atomically and refreshes its TTL.
func (s *Store) Put(ctx context.Context, rec *StatusRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, statusKey(rec.RequestID), payload, s.ttl).Err()
}

// Get returns the current snapshot of a request.
func (s *Store) Get(ctx context.Context, requestID string) (*StatusRecord, error) {
	payload, err := s.rdb.Get(ctx, statusKey(requestID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrStatusNotFound
		}
		return nil, err
	}
	var rec StatusRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkProcessing transitions pending → processing. Only the worker that
// owns the delivered message calls this, so a read-modify-write is safe.
func (s *Store) MarkProcessing(ctx context.Context, requestID string) (*StatusRecord, error) {
	rec, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rec.State.Terminal() {
		return rec, ErrTerminalState
	}
	now := time.Now().UTC()
	rec.State = model.RequestProcessing
	rec.StartedAt = &now
	if err := s.Put(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Complete transitions a request to completed with its result payload.
func (s *Store) Complete(ctx context.Context, requestID string, result *model.ReservationResult) (*StatusRecord, error) {
	return s.finish(ctx, requestID, model.RequestCompleted, result, nil)
}

// Fail transitions a request to failed with a typed error descriptor.
func (s *Store) Fail(ctx context.Context, requestID string, info model.ErrorInfo) (*StatusRecord, error) {
	return s.finish(ctx, requestID, model.RequestFailed, nil, &info)
}

func (s *Store) finish(ctx context.Context, requestID string, state model.RequestState, result *model.ReservationResult, info *model.ErrorInfo) (*StatusRecord, error) {
	rec, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rec.State.Terminal() {
		return rec, ErrTerminalState
	}
	now := time.Now().UTC()
	rec.State = state
	rec.FinishedAt = &now
	rec.Result = result
	rec.Error = info
	if err := s.Put(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CancelIfPending cancels a request that has not started processing.
// It reports false when the request was already picked up or finished.
func (s *Store) CancelIfPending(ctx context.Context, requestID string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := cancelScript.Run(ctx, s.rdb, []string{statusKey(requestID)}, now).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
