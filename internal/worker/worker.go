// Package worker implements the long-running queue consumers of the
// asynchronous reservation path.  Every worker instance joins the
// reservation_workers consumer group under a stable consumer name,
// drains the priority streams of each on-sale event, invokes the
// reservation engine, publishes the outcome through the status store
// and the notification channels, and acknowledges or dead-letters.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YeonwooSung/ticketing-system/internal/engine"
	"github.com/YeonwooSung/ticketing-system/internal/hub"
	"github.com/YeonwooSung/ticketing-system/internal/metrics"
	"github.com/YeonwooSung/ticketing-system/internal/model"
	"github.com/YeonwooSung/ticketing-system/internal/queue"
)

// Reserver is the slice of the reservation engine a worker needs.
type Reserver interface {
	Reserve(ctx context.Context, eventID uint64, seatIDs []uint64, user string) (*model.ReservationResult, error)
	Recover(ctx context.Context, seatIDs []uint64, user string) (*model.ReservationResult, bool, error)
}

// EventLister discovers which events have live queues.
type EventLister interface {
	ListOnSaleIDs(ctx context.Context) ([]uint64, error)
}

// refreshInterval is how often the on-sale event list is re-read;
// reclaimInterval how often each event's pending entries are scanned.
const (
	refreshInterval = 30 * time.Second
	reclaimInterval = 15 * time.Second
)

// Worker drains the priority queues of all on-sale events.
type Worker struct {
	queue    *queue.Queue
	status   *queue.Store
	engine   Reserver
	notifier *hub.Notifier
	events   EventLister
	consumer string
}

// New constructs a Worker with a stable, unique consumer name.
func New(q *queue.Queue, status *queue.Store, eng Reserver, notifier *hub.Notifier, events EventLister) *Worker {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return &Worker{
		queue:    q,
		status:   status,
		engine:   eng,
		notifier: notifier,
		events:   events,
		consumer: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
	}
}

// Run discovers on-sale events and keeps one drain loop per event until
// the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("worker: %s starting", w.consumer)

	var wg sync.WaitGroup
	running := make(map[uint64]context.CancelFunc)
	defer func() {
		for _, cancel := range running {
			cancel()
		}
		wg.Wait()
		log.Printf("worker: %s stopped", w.consumer)
	}()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		ids, err := w.events.ListOnSaleIDs(ctx)
		if err != nil {
			log.Printf("worker: listing on-sale events: %v", err)
		} else {
			live := make(map[uint64]struct{}, len(ids))
			for _, id := range ids {
				live[id] = struct{}{}
				if _, ok := running[id]; ok {
					continue
				}
				eventCtx, cancel := context.WithCancel(ctx)
				running[id] = cancel
				wg.Add(2)
				go func(id uint64) {
					defer wg.Done()
					w.drainEvent(eventCtx, id)
				}(id)
				go func(id uint64) {
					defer wg.Done()
					w.reclaimEvent(eventCtx, id)
				}(id)
			}
			for id, cancel := range running {
				if _, ok := live[id]; !ok {
					cancel()
					delete(running, id)
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drainEvent reads and processes messages for one event until the
// context is cancelled. The blocking read suspends an idle consumer.
func (w *Worker) drainEvent(ctx context.Context, eventID uint64) {
	if err := w.queue.EnsureGroups(ctx, eventID); err != nil {
		log.Printf("worker: event %d: creating consumer groups: %v", eventID, err)
	}
	log.Printf("worker: %s draining event %d", w.consumer, eventID)
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := w.queue.Dequeue(ctx, w.consumer, eventID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("worker: event %d: dequeue: %v", eventID, err)
			time.Sleep(time.Second)
			continue
		}
		for i := range msgs {
			w.process(ctx, &msgs[i])
		}
	}
}

// reclaimEvent periodically takes over pending entries whose consumer
// went quiet and processes them; entries beyond the delivery budget
// were already dead-lettered by the queue and only need a notification.
func (w *Worker) reclaimEvent(ctx context.Context, eventID uint64) {
	ticker := time.NewTicker(reclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		reclaimed, dead, err := w.queue.Reclaim(ctx, w.consumer, eventID)
		if err != nil {
			log.Printf("worker: event %d: reclaim: %v", eventID, err)
			continue
		}
		for i := range dead {
			metrics.QueueDeadLettered.Inc()
			if rec, err := w.status.Get(ctx, dead[i].Request.ID); err == nil {
				w.notify(ctx, hub.TypeReservationFailed, rec)
			}
		}
		for i := range reclaimed {
			w.process(ctx, &reclaimed[i])
		}
	}
}

// process handles one delivered message end to end.
func (w *Worker) process(ctx context.Context, m *queue.Message) {
	req := &m.Request
	rec, err := w.status.Get(ctx, req.ID)
	if err != nil {
		if err == queue.ErrStatusNotFound {
			// Status TTL lapsed while queued; nothing left to serve.
			w.ack(ctx, m)
			return
		}
		// Transient store failure: leave unacknowledged for redelivery.
		log.Printf("worker: %s: loading status: %v", req.ID, err)
		return
	}

	switch rec.State {
	case model.RequestCancelled:
		// Cancelled while queued: acknowledge without touching seats.
		w.ack(ctx, m)
		w.notify(ctx, hub.TypeReservationCancelled, rec)
		return
	case model.RequestCompleted, model.RequestFailed, model.RequestExpired:
		w.ack(ctx, m)
		return
	case model.RequestProcessing:
		// Redelivered after a crash. If the reserve committed before
		// the status write was lost, finish idempotently.
		if result, held, err := w.engine.Recover(ctx, req.SeatIDs, req.UserID); err == nil && held {
			if rec, err = w.status.Complete(ctx, req.ID, result); err == nil {
				w.notify(ctx, hub.TypeReservationComplete, rec)
			}
			w.ack(ctx, m)
			metrics.QueueProcessed.WithLabelValues("recovered").Inc()
			return
		}
	default:
	}

	rec, err = w.status.MarkProcessing(ctx, req.ID)
	if err != nil {
		log.Printf("worker: %s: marking processing: %v", req.ID, err)
		return
	}
	w.notify(ctx, hub.TypeStatusUpdate, rec)

	start := time.Now()
	result, err := w.engine.Reserve(ctx, req.EventID, req.SeatIDs, req.UserID)
	switch {
	case err == nil:
		if rec, err = w.status.Complete(ctx, req.ID, result); err != nil {
			// The reserve is committed; leave the message pending so a
			// redelivery retries the (idempotent) status write.
			log.Printf("worker: %s: completing status: %v", req.ID, err)
			return
		}
		w.notify(ctx, hub.TypeReservationComplete, rec)
		w.ack(ctx, m)
		w.queue.RecordProcessed(ctx, req.EventID, time.Since(start))
		metrics.QueueProcessed.WithLabelValues("completed").Inc()
		metrics.ReservationRequests.WithLabelValues("queue", "ok").Inc()

	case engine.IsDomain(err):
		// Domain outcomes are terminal; retrying cannot succeed.
		if rec, err2 := w.status.Fail(ctx, req.ID, engine.ErrorDescriptor(err)); err2 == nil {
			w.notify(ctx, hub.TypeReservationFailed, rec)
		} else {
			log.Printf("worker: %s: failing status: %v", req.ID, err2)
		}
		w.ack(ctx, m)
		metrics.QueueProcessed.WithLabelValues("failed").Inc()
		metrics.ReservationRequests.WithLabelValues("queue", "domain_error").Inc()

	default:
		// Transient failure (database, lock store): do not acknowledge
		// so the message is redelivered through PEL reclaim.
		log.Printf("worker: %s: transient failure: %v", req.ID, err)
		metrics.ReservationRequests.WithLabelValues("queue", "error").Inc()
	}
}

func (w *Worker) ack(ctx context.Context, m *queue.Message) {
	if err := w.queue.Ack(ctx, m.Request.EventID, m); err != nil {
		log.Printf("worker: %s: ack: %v", m.Request.ID, err)
	}
}

// notify publishes a status snapshot on the request and user channels.
func (w *Worker) notify(ctx context.Context, msgType string, rec *queue.StatusRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		log.Printf("worker: %s: encoding notification: %v", rec.RequestID, err)
		return
	}
	err = w.notifier.Publish(ctx, hub.Message{
		Type:      msgType,
		RequestID: rec.RequestID,
		UserID:    rec.UserID,
		Data:      data,
	})
	if err != nil {
		log.Printf("worker: %s: publishing notification: %v", rec.RequestID, err)
	}
}
