package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/trip-seat-reservation/internal/cache"
	"github.com/iliyamo/trip-seat-reservation/internal/config"
	"github.com/iliyamo/trip-seat-reservation/internal/database"
	"github.com/iliyamo/trip-seat-reservation/internal/handler"
	"github.com/iliyamo/trip-seat-reservation/internal/middleware"
	"github.com/iliyamo/trip-seat-reservation/internal/model"
	"github.com/iliyamo/trip-seat-reservation/internal/queue"
	"github.com/iliyamo/trip-seat-reservation/internal/repository"
	"github.com/iliyamo/trip-seat-reservation/internal/repository/memstore"
	"github.com/iliyamo/trip-seat-reservation/internal/router"
	"github.com/iliyamo/trip-seat-reservation/internal/service"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}

type stores struct {
	holds     service.HoldStore
	tickets   service.TicketStore
	catalog   service.TripCatalog
	blacklist service.Blacklist
	ready     map[string]handler.Pinger
	close     func()
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (*stores, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using the in-memory store; state is lost on exit and not shared between instances")
		return &stores{
			holds:     memstore.NewHolds(),
			tickets:   memstore.NewTickets(),
			catalog:   memstore.NewCatalog(demoTrip()),
			blacklist: memstore.NewBlacklist(),
			close:     func() {},
		}, nil
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, database.Options{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := database.Migrate(mctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &stores{
		holds:     repository.NewSeatHoldRepo(db),
		tickets:   repository.NewTicketRepo(db),
		catalog:   repository.NewTripRepo(db),
		blacklist: repository.NewBlacklistRepo(db),
		ready:     map[string]handler.Pinger{"mysql": db},
		close:     func() { _ = db.Close() },
	}, nil
}

// demoTrip seeds the memory store so the API can be tried locally.
func demoTrip() model.Trip {
	var seats []string
	for row := 1; row <= 10; row++ {
		for _, col := range "ABCD" {
			seats = append(seats, fmt.Sprintf("%d%c", row, col))
		}
	}
	return model.Trip{
		ID:         "DEMO",
		SeatLabels: seats,
		Departure: model.DepartureInfo{
			Origin:      "Tehran",
			Destination: "Isfahan",
			DepartsAt:   time.Now().UTC().Add(72 * time.Hour).Truncate(time.Hour),
		},
		PassengerSchema: model.PassengerSchema{Version: 1, Fields: []model.PassengerField{
			{Key: "full_name", Label: "Full name", Required: true, Role: model.RoleName},
			{Key: "national_id", Label: "National ID", Required: true, Role: model.RoleIdentity},
			{Key: "phone", Label: "Phone", Role: model.RoleContact},
		}},
	}
}

func run(parent context.Context, cfg config.Config, log *slog.Logger) error {
	ctx, cancelWorkers := context.WithCancel(parent)
	defer cancelWorkers()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	rdb, err := config.NewRedisClient(ctx)
	if err != nil {
		log.Warn("redis unavailable, running without availability cache and rate limits", "err", err)
	} else {
		defer rdb.Close()
	}

	var cacheClient *redis.Client
	cacheCfg := config.LoadAvailabilityCacheConfig()
	if cacheCfg.Enabled {
		cacheClient = rdb
	}
	avail := cache.NewAvailability(cacheClient, cacheCfg.TTL, cacheCfg.Prefix, log)

	var publisher service.EventPublisher
	if cfg.RabbitMQURL != "" {
		p := queue.NewPublisher(cfg.RabbitMQURL, log)
		defer p.Close()
		publisher = p
	} else {
		log.Warn("RABBITMQ_URL not set, notifications are disabled")
	}

	opts := []service.Option{
		service.WithHoldTTL(cfg.HoldTTL),
		service.WithStoreTimeout(cfg.StoreTimeout),
		service.WithIssueOnProcessing(cfg.IssueOnProcessing),
		service.WithLogger(log),
	}
	issuer := service.NewTicketService(st.holds, st.tickets, st.catalog, opts...)
	engine := service.NewReservationService(service.ReservationDeps{
		Holds:     st.holds,
		Catalog:   st.catalog,
		Blacklist: st.blacklist,
		Cache:     avail,
		Publisher: publisher,
		Tickets:   issuer,
	}, opts...)
	gate := service.NewValidationService(st.tickets, publisher, opts...)
	sweeper := service.NewSweeper(st.holds, st.tickets, avail, service.SweeperConfig{
		Interval:    cfg.SweepInterval,
		BatchSize:   cfg.SweepBatch,
		TicketGrace: cfg.TicketExpiryGrace,
	}, opts...)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	if cfg.RabbitMQURL != "" {
		consumer := queue.NewConsumer(cfg.RabbitMQURL, engine, log, cfg.StoreTimeout*3)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("order consumer stopped", "err", err)
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	rh := handler.NewReservationHandler(engine, log)
	router.RegisterRoutes(e, handler.Ready(st.ready), rh)
	router.RegisterCustomer(e, rh, cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(config.ReserveBucket), rdb))
	router.RegisterOrderService(e, handler.NewOrderHandler(engine, issuer, log), cfg.JWTSecret)
	router.RegisterGate(e, handler.NewTicketHandler(gate, log), cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(config.RedeemBucket), rdb))
	router.RegisterOperator(e, handler.NewAdminHandler(engine, sweeper, cfg.PurgeRetention, log), cfg.JWTSecret)

	addr := ":" + cfg.Port
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr, "env", cfg.Env, "store", cfg.StoreDriver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	cancelWorkers()
	wg.Wait()
	return nil
}
