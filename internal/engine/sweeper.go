package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/YeonwooSung/ticketing-system/internal/lock"
	"github.com/YeonwooSung/ticketing-system/internal/metrics"
	"github.com/YeonwooSung/ticketing-system/internal/model"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
)

// Sweeper periodically releases seats whose hold has timed out and
// marks the owning reservations expired.  Each reservation is handled
// in its own lock + transaction so one failure never halts the sweep.
type Sweeper struct {
	db           *sql.DB
	locks        *lock.Manager
	events       *repository.EventRepo
	seats        *repository.SeatRepo
	reservations *repository.ReservationRepo
	interval     time.Duration
	batchSize    int
}

// NewSweeper constructs a Sweeper. batchSize bounds the work done per
// cycle so a huge backlog cannot produce long transactions.
func NewSweeper(db *sql.DB, locks *lock.Manager, events *repository.EventRepo,
	seats *repository.SeatRepo, reservations *repository.ReservationRepo,
	interval time.Duration, batchSize int) *Sweeper {
	return &Sweeper{
		db:           db,
		locks:        locks,
		events:       events,
		seats:        seats,
		reservations: reservations,
		interval:     interval,
		batchSize:    batchSize,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("sweeper: running every %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("sweeper: stopped")
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				log.Printf("sweeper: cycle failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("sweeper: expired %d reservations", n)
			}
		}
	}
}

// Sweep runs one cycle and returns how many reservations it expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	expired, err := s.reservations.ListExpired(ctx, now, s.batchSize)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range expired {
		res := &expired[i]
		swept, err := s.sweepOne(ctx, res, now)
		if err != nil {
			log.Printf("sweeper: reservation %d: %v", res.ID, err)
			continue
		}
		if swept {
			count++
			metrics.ReservationsExpired.Inc()
		}
	}
	return count, nil
}

// sweepOne expires a single reservation under its seat's lock and
// reports whether it did.  A seat promoted to BOOKED between selection
// and lock acquisition is left alone: its reservation follows the
// confirmed path.
func (s *Sweeper) sweepOne(ctx context.Context, res *model.Reservation, now time.Time) (bool, error) {
	l, err := s.locks.Acquire(ctx, fmt.Sprintf("seat:%d", res.SeatID))
	if err != nil {
		return false, err
	}
	defer func() {
		if _, err := l.Release(ctx); err != nil {
			log.Printf("sweeper: releasing %s: %v", l.Key(), err)
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	seats, err := s.seats.GetByIDsForUpdateTx(ctx, tx, []uint64{res.SeatID})
	if err != nil {
		return false, err
	}
	if len(seats) != 1 {
		return false, repository.ErrSeatNotFound
	}
	seat := &seats[0]

	if seat.Status == model.SeatBooked {
		// Booked while the sweep was underway; nothing to release.
		committed = true
		return false, tx.Commit()
	}
	if seat.Status == model.SeatReserved {
		if seat.ReservedBy == nil || *seat.ReservedBy != res.UserID || !seat.HoldExpired(now) {
			// Held by someone else or the hold was extended.
			committed = true
			return false, tx.Commit()
		}
		ok, err := s.seats.ReleaseTx(ctx, tx, seat.ID, seat.Version)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("seat %d: %w", seat.ID, ErrOptimisticConflict)
		}
		event, err := s.events.GetForUpdateTx(ctx, tx, res.EventID)
		if err != nil {
			return false, err
		}
		if err := adjustAvailability(ctx, tx, s.events, event, 1); err != nil {
			return false, err
		}
	}
	if err := s.reservations.UpdateStatusTx(ctx, tx, res.ID, model.ReservationExpired); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return true, nil
}
