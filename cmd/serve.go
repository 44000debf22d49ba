package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/handler"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/metrics"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/service"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/stats"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(c *cli) *cobra.Command {
	var migrate, seed bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx, migrate, seed)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8080)")
	_ = c.v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")
	cmd.Flags().BoolVar(&seed, "seed", false, "insert demo data before serving")
	return cmd
}

func (c *cli) serve(ctx context.Context, migrate, seed bool) error {
	cfg := c.cfg
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (set ENROLL_AUTH_JWT_SECRET)")
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	store, err := c.openStore(ctx, migrate)
	if err != nil {
		return err
	}
	defer store.Close()

	auth := handler.NewAuthenticator(cfg.Auth.JWTSecret)
	if seed {
		if err := seedDemo(ctx, store, auth, os.Stdout, c.log); err != nil {
			return err
		}
	}

	// ── 2. Outcome recorders ─────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}
	recorders := service.Recorders{m}

	var offeringStats handler.OfferingStats
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		rs := stats.New(rdb, c.log, stats.WithPrefix(cfg.Redis.Prefix), stats.WithTTL(cfg.Redis.TTL))
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rs.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("redis stats ping: %w", err)
		}
		recorders = append(recorders, rs)
		offeringStats = rs
		c.log.Info("redis stats enabled", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.Prefix)
	}

	// ── 3. Wire up layers ────────────────────────────────────────────────
	catalog := service.NewCatalogService(store, c.log)
	enrollments := service.NewEnrollmentService(store, catalog, c.log,
		service.WithRecorder(recorders),
		service.WithMaxBatch(cfg.Batch.MaxItems),
	)
	h := handler.New(catalog, enrollments, offeringStats, c.log)

	router := handler.NewRouter(h, handler.RouterConfig{
		Auth:           auth,
		Log:            c.log,
		Observer:       m,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		CORSOrigins:    cfg.HTTP.CORSOrigins,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
	})

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.log.Info("server listening", "addr", cfg.HTTP.Addr, "driver", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		c.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		c.log.Info("server stopped")
		return nil
	})
	return g.Wait()
}
