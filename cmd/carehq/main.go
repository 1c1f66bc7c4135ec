package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"carehq/internal/api"
	"carehq/internal/config"
	"carehq/internal/events"
	"carehq/internal/metrics"
	"carehq/internal/push"
	"carehq/internal/scanner"
	"carehq/internal/scheduler"
	"carehq/internal/shell"
	"carehq/internal/shellcache"
	"carehq/internal/store"
	"carehq/internal/subscriptions"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CAREHQ_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.Push.VAPIDPublicKey == "" || cfg.Push.VAPIDPrivateKey == "" {
		logger.Fatal().Msg("set push.vapid_public_key and push.vapid_private_key (hit /api/gen-keys once to create a pair)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()

	documents, err := store.New(cfg.Database.Path, bus, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer documents.Close()

	registry, err := subscriptions.New(documents.DB())
	if err != nil {
		logger.Fatal().Err(err).Msg("subscription registry error")
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	metrics.Register()

	sender, err := push.NewWebPushSender(push.VAPIDConfig{
		PublicKey:  cfg.Push.VAPIDPublicKey,
		PrivateKey: cfg.Push.VAPIDPrivateKey,
		Subject:    cfg.Push.Subject,
		TTLSeconds: cfg.Push.TTLSeconds,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("webpush sender error")
	}

	pushMetrics := push.NewMetrics("carehq")
	dispatcher := push.NewDispatcher(registry, sender, push.Config{
		RatePerSecond: cfg.Push.RatePerSecond,
		Burst:         cfg.Push.Burst,
		PruneGone:     true,
	}, pushMetrics, &logger)

	// Due-item scanner: re-notify on every document mutation through
	// the user's own push subscription.
	scan := scanner.New(documents, pushNotifier{dispatcher}, &logger)
	scan.Bind(bus)

	// Shell cache: install the current generation, purge stale ones.
	var cacheStore shellcache.CacheStore = shellcache.NewMemoryStore()
	if rdb != nil {
		cacheStore = shellcache.NewRedisStore(rdb)
	}
	origin, err := shell.NewEmbeddedOrigin()
	if err != nil {
		logger.Fatal().Err(err).Msg("shell assets error")
	}
	cache := shellcache.New(cacheStore, origin, cfg.Shell.CacheVersion, cfg.Shell.OriginHost, &logger)
	if err := cache.Install(ctx, append(shell.Assets(), "/sw.js")); err != nil {
		logger.Fatal().Err(err).Msg("shell cache install failed")
	}
	if err := cache.Activate(ctx); err != nil {
		logger.Error().Err(err).Msg("shell cache activate failed")
	}

	daily, err := scheduler.New(scheduler.Config{
		Timezone:      cfg.Daily.Timezone,
		DailyHour:     cfg.Daily.Hour,
		DailyMinute:   cfg.Daily.Minute,
		CheckInterval: cfg.DailyCheckInterval(),
	}, func(ctx context.Context) {
		start := time.Now()
		result, err := dispatcher.Broadcast(ctx, push.DailyMessage(time.Now()))
		if err != nil {
			logger.Error().Err(err).Msg("daily broadcast failed")
			return
		}
		pushMetrics.ObserveBroadcast(time.Since(start).Seconds())
		logger.Info().Int("sent", result.Attempted).Int("failed", result.Failed()).Msg("daily broadcast done")
	}, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler error")
	}
	go daily.Start(ctx)

	mux := http.NewServeMux()
	api.NewHTTPServer(documents, registry, dispatcher, cfg.Push.VAPIDPublicKey, &logger).Register(mux)
	shell.NewHandler(cache, &logger).Register(mux)

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, documents, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	srv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("Care HQ started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}
}

// pushNotifier routes scanner notifications through the user's own
// push subscription. Scanner ignores delivery failures.
type pushNotifier struct {
	dispatcher *push.Dispatcher
}

func (n pushNotifier) Notify(ctx context.Context, userID string, notif scanner.Notification) error {
	return n.dispatcher.SendToUser(ctx, userID, push.Message{Title: notif.Title, Body: notif.Body})
}

func startHealthServer(ctx context.Context, port int, documents *store.Store, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := documents.DB().PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
