package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/exchange/lob/internal/api"
	"github.com/exchange/lob/internal/config"
	"github.com/exchange/lob/internal/engine"
	"github.com/exchange/lob/internal/generator"
	"github.com/exchange/lob/internal/handler"
	"github.com/exchange/lob/internal/jobs"
	"github.com/exchange/lob/internal/metrics"
	"github.com/exchange/lob/internal/orderbook"
	"github.com/exchange/lob/internal/report"
	"github.com/exchange/lob/internal/sequence"
	"github.com/exchange/lob/internal/sim"
	"github.com/exchange/lob/internal/store"
	"github.com/exchange/lob/internal/ws"
	"github.com/exchange/lob/pkg/health"
	"github.com/exchange/lob/pkg/logger"
	"github.com/exchange/lob/pkg/response"
	"github.com/exchange/lob/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.ServiceName, os.Stdout).SetLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("invalid config")
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("service failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Infof("starting", map[string]interface{}{"symbol": cfg.Symbol, "tickSize": cfg.TickSize.String()})

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.JaegerEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pricer := report.NewPricer(cfg.TickSize)
	ids := sequence.NewCounter(0)
	checks := health.New()

	var bookOpts []orderbook.Option
	if cfg.FullChecks {
		bookOpts = append(bookOpts, orderbook.WithFullChecks())
	}
	eng := engine.New(orderbook.New(cfg.Symbol, bookOpts...), engine.Config{
		CommandBuffer: cfg.CommandBuffer,
		EventBuffer:   cfg.EventBuffer,
	}, log)
	eng.Start()
	checks.Register(health.NewLoopChecker("engine", eng.Monitor(), 30*time.Second))

	hub := ws.NewHub(cfg.WSMaxConnections)
	sinks := []engine.Sink{hub}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = connectRedis(ctx, cfg)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		h := handler.New(redisClient, eng, ids, handler.Config{
			OrderStream: cfg.OrderStream,
			EventStream: cfg.EventStream,
			Group:       cfg.ConsumerGroup,
			Consumer:    cfg.ConsumerName,
			Logger:      log,
		})
		if err := h.Start(ctx); err != nil {
			return fmt.Errorf("start stream handler: %w", err)
		}
		sinks = append(sinks, h)
		checks.Register(health.NewPingChecker("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
		checks.Register(health.NewLoopChecker("orderStreamConsumer", h.Monitor(), 45*time.Second))
		log.Infof("consuming order stream", map[string]interface{}{"stream": cfg.OrderStream, "redis": cfg.RedisAddr})
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)

		audit := store.New(db)
		if err := audit.Migrate(ctx); err != nil {
			return err
		}
		sinks = append(sinks, audit)
		checks.Register(health.NewPostgresChecker(db))
		log.Info("postgres audit enabled")
	}

	go engine.Fanout(ctx, eng.Events(), log, sinks...)

	scheduler := jobs.NewScheduler(log)
	if err := scheduler.Add("sweep", cfg.SweepSchedule, jobs.Sweep(eng, log)); err != nil {
		return err
	}
	if err := scheduler.Add("depth", cfg.DepthSchedule, jobs.RefreshDepth(eng, cfg.DepthLevels)); err != nil {
		return err
	}
	scheduler.Start()

	apiOpts := []api.Option{api.WithLogger(log)}
	if cfg.SimEnabled {
		simulator, err := newSimulator(cfg, eng, ids, pricer, log)
		if err != nil {
			return err
		}
		go simulator.Run(ctx)
		apiOpts = append(apiOpts, api.WithSimulator(simulator))
		checks.Register(health.NewLoopChecker("simulator", simulator.Monitor(), max(30*time.Second, 3*cfg.SimInterval)))
	}
	position := report.NewPosition(cfg.StartingCash, pricer)
	apiServer := api.NewServer(eng, ids, pricer, position, apiOpts...)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", checks.LiveHandler())
	mux.HandleFunc("/ready", checks.ReadyHandler())
	mux.Handle("/metrics", metricsHandler(cfg.MetricsToken))
	mux.HandleFunc("/ws", ws.Handler(hub, cfg.WSAllowedOrigins, log))
	apiServer.Register(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           response.RequestIDMiddleware(tracing.HTTPMiddleware(response.RecoveryMiddleware(log, mux))),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("http server listening", map[string]interface{}{"port": cfg.HTTPPort})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	checks.SetReady(true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err = <-errCh:
		log.WithError(err).Error("http server error")
	}

	checks.SetReady(false)
	cancel()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.WithError(serr).Warn("http shutdown error")
	}
	hub.CloseAll()
	eng.Stop()
	if terr := shutdownTracing(shutdownCtx); terr != nil {
		log.WithError(terr).Warn("tracing shutdown error")
	}
	log.Info("shutdown complete")
	return err
}

func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	return client, nil
}

func newSimulator(cfg *config.Config, eng *engine.Engine, ids *sequence.Counter, pricer report.Pricer, log *logger.Logger) (*sim.Simulator, error) {
	base, err := pricer.Ticks(cfg.SimBasePrice)
	if err != nil {
		return nil, fmt.Errorf("simulator base price: %w", err)
	}
	gen, err := generator.New(cfg.Generator(), uint64(cfg.SimSeed), ids)
	if err != nil {
		return nil, err
	}
	return sim.New(eng, gen, sim.Config{
		Interval:  cfg.SimInterval,
		BatchSize: cfg.SimBatchSize,
		BasePrice: base,
		AnchorMid: cfg.SimAnchorMid,
		Paused:    cfg.SimPaused,
	}, log)
}

func metricsHandler(token string) http.Handler {
	if token == "" {
		return metrics.Handler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !metricsAuthorized(r, token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		metrics.Handler().ServeHTTP(w, r)
	})
}

func metricsAuthorized(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	if strings.TrimSpace(r.Header.Get("X-Metrics-Token")) == token {
		return true
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) == token
}
