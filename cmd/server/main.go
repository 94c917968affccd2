package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/muranga-mess/api/internal/clock"
	"github.com/muranga-mess/api/internal/config"
	"github.com/muranga-mess/api/internal/database"
	"github.com/muranga-mess/api/internal/mealtime"
	"github.com/muranga-mess/api/internal/mpesa"
	"github.com/muranga-mess/api/internal/router"
	"github.com/muranga-mess/api/internal/service"
	"github.com/muranga-mess/api/internal/ws"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	tokens, closeTokens, err := tokenCache(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer closeTokens()

	gateway := mpesa.NewClient(mpesa.Config{
		BaseURL:        mpesa.BaseURLFor(cfg.Mpesa.Environment),
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		ShortCode:      cfg.Mpesa.ShortCode,
		Passkey:        cfg.Mpesa.Passkey,
		CallbackURL:    cfg.Mpesa.CallbackURL,
		Timeout:        cfg.Mpesa.Timeout,
		Location:       loc,
	}, tokens)

	clk := clock.NewSystem()
	gate := mealtime.NewGatekeeper(loc)
	ledger := service.NewLedger(gate)
	hub := ws.NewHub(cfg.CORSOrigins...)
	notify := service.WithNotifier(hub)

	payments := service.NewPaymentService(pool, service.PaymentStoreFor, ledger, gateway, clk, notify)
	orders := service.NewOrderService(pool, service.OrderStoreFor, ledger, gate, payments, clk, notify)
	menus := service.NewMenuService(pool, service.MenuStoreFor, gate, clk)
	expiry := service.NewExpiryService(pool, service.OrderStoreFor, ledger, clk, notify)

	r := router.New(cfg, router.Services{
		Auth:     database.New(pool),
		Orders:   orders,
		Payments: payments,
		Menus:    menus,
		Location: loc,
	}, hub)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		expiry.Run(gctx, cfg.SweepInterval)
		return nil
	})
	g.Go(func() error {
		log.Printf("Starting server on :%s (mpesa %s, tz %s)", cfg.Port, cfg.Mpesa.Environment, cfg.Timezone)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// tokenCache picks Redis when REDIS_URL is set so replicas share one gateway
// token, and an in-process cache otherwise.
func tokenCache(ctx context.Context, url string) (mpesa.TokenCache, func(), error) {
	if url == "" {
		log.Println("REDIS_URL not set, caching gateway tokens in memory")
		return mpesa.NewMemoryTokenCache(nil), func() {}, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return mpesa.NewRedisTokenCache(client), func() { client.Close() }, nil
}
