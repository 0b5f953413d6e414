package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/YeonwooSung/ticketing-system/internal/audit"
	"github.com/YeonwooSung/ticketing-system/internal/config"
	"github.com/YeonwooSung/ticketing-system/internal/database"
	"github.com/YeonwooSung/ticketing-system/internal/engine"
	"github.com/YeonwooSung/ticketing-system/internal/handler"
	"github.com/YeonwooSung/ticketing-system/internal/hub"
	"github.com/YeonwooSung/ticketing-system/internal/lock"
	"github.com/YeonwooSung/ticketing-system/internal/middleware"
	"github.com/YeonwooSung/ticketing-system/internal/queue"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
	"github.com/YeonwooSung/ticketing-system/internal/router"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Printf("server: %v", err)
		os.Exit(2)
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Printf("server: opening database: %v", err)
		os.Exit(1)
	}
	rdb, err := config.NewRedisClient()
	if err != nil {
		log.Printf("server: connecting to redis: %v", err)
		os.Exit(1)
	}

	events := repository.NewEventRepo(db)
	seats := repository.NewSeatRepo(db)
	reservations := repository.NewReservationRepo(db)
	bookings := repository.NewBookingRepo(db)

	locks := lock.NewManager(rdb, cfg.LockTimeout, cfg.LockRetryDelay, cfg.LockMaxWait)
	eng := engine.New(db, locks, events, seats, reservations, cfg.ReservationTimeout, cfg.MaxSeatsPerBooking)
	finalizer := engine.NewFinalizer(db, locks, events, seats, reservations, bookings)
	sweeper := engine.NewSweeper(db, locks, events, seats, reservations, cfg.SweeperInterval, cfg.SweeperBatchSize)

	statusStore := queue.NewStore(rdb, cfg.RequestStatusTTL)
	q := queue.New(rdb, statusStore, cfg.QueueBlockTime, cfg.PELReclaimIdle, cfg.MaxDeliveries)
	notifier := hub.NewNotifier(rdb)
	notificationHub := hub.New(rdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := notificationHub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("server: notification hub stopped: %v", err)
		}
	}()
	go sweeper.Run(ctx)
	go func() {
		if err := audit.NewConsumer(cfg.RabbitURL).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("server: audit consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	router.Register(e, router.Handlers{
		Events:       handler.NewEventHandler(events, seats),
		Reservations: handler.NewReservationHandler(eng),
		Bookings:     handler.NewBookingHandler(finalizer, audit.NewPublisher(cfg.RabbitURL)),
		Queue:        handler.NewQueueHandler(q, statusStore, notifier, events, cfg.MaxSeatsPerBooking),
		WS:           handler.NewWSHandler(notificationHub, statusStore, cfg.ConnectionIdleTimeout),
	}, middleware.NewTokenBucket(cfg.RateLimit, rdb))

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Printf("server: listening on %s", addr)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server: %v", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("server: shutdown: %v", err)
	}
	log.Printf("server: bye")
}
