package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/YeonwooSung/ticketing-system/internal/config"
	"github.com/YeonwooSung/ticketing-system/internal/database"
	"github.com/YeonwooSung/ticketing-system/internal/engine"
	"github.com/YeonwooSung/ticketing-system/internal/hub"
	"github.com/YeonwooSung/ticketing-system/internal/lock"
	"github.com/YeonwooSung/ticketing-system/internal/queue"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
	"github.com/YeonwooSung/ticketing-system/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Printf("worker: %v", err)
		os.Exit(2)
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Printf("worker: opening database: %v", err)
		os.Exit(1)
	}
	rdb, err := config.NewRedisClient()
	if err != nil {
		log.Printf("worker: connecting to redis: %v", err)
		os.Exit(1)
	}

	events := repository.NewEventRepo(db)
	seats := repository.NewSeatRepo(db)
	reservations := repository.NewReservationRepo(db)

	locks := lock.NewManager(rdb, cfg.LockTimeout, cfg.LockRetryDelay, cfg.LockMaxWait)
	eng := engine.New(db, locks, events, seats, reservations, cfg.ReservationTimeout, cfg.MaxSeatsPerBooking)

	statusStore := queue.NewStore(rdb, cfg.RequestStatusTTL)
	q := queue.New(rdb, statusStore, cfg.QueueBlockTime, cfg.PELReclaimIdle, cfg.MaxDeliveries)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := worker.New(q, statusStore, eng, hub.NewNotifier(rdb), events)
	w.Run(ctx)
}
