package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/localmesh/relay/internal/alerts"
	"github.com/localmesh/relay/internal/auth"
	"github.com/localmesh/relay/internal/chat"
	"github.com/localmesh/relay/internal/config"
	"github.com/localmesh/relay/internal/data"
	"github.com/localmesh/relay/internal/hub"
	"github.com/localmesh/relay/internal/metrics"
	"github.com/localmesh/relay/internal/middleware"
	"github.com/localmesh/relay/internal/notify"
	"github.com/localmesh/relay/internal/presence"
	"github.com/localmesh/relay/internal/relay"
	"github.com/localmesh/relay/internal/signaling"
	"github.com/localmesh/relay/internal/store"
	"github.com/localmesh/relay/internal/ws"
)

func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx := context.Background()
	kv, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("store initialization failed", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer kv.Close(context.Background())
	log.Info("store ready", "backend", cfg.StoreBackend)

	verifier := auth.NewJWTVerifierFromKeys(cfg.JWTKeys, cfg.JWTActiveKid, cfg.TokenTTL)

	registry := hub.New()
	router := hub.NewRouter(registry, log)
	msgs := data.NewMessagesStore(kv)
	prefs := data.NewPreferencesStore(kv)

	var pusher notify.Pusher
	if cfg.PushWebhookURL != "" {
		pusher = notify.NewWebhookPusher(cfg.PushWebhookURL)
		log.Info("push webhook configured", "url", cfg.PushWebhookURL)
	} else {
		log.Warn("no push webhook configured; offline notifications will be dropped")
	}
	dispatcher := notify.NewDispatcher(prefs, pusher, log)

	signaler := presence.NewSignaler(registry, router, data.NewPresenceStore(kv), log)
	engine := chat.NewEngine(msgs, registry, router, dispatcher, cfg.EchoAllDevices, log)

	// The alerting bus is optional; without it acknowledgements are
	// logged locally and alerts only arrive over the internal API.
	svc := relay.NewService(registry, router, signaler, engine, dispatcher, nil, log)
	if cfg.NATSURL != "" {
		nc, err := alerts.Connect(cfg.NATSURL, "localmesh-relay", log)
		if err != nil {
			log.Error("alerting bus unavailable", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		bridge := alerts.NewBridge(nc, svc, log)
		if err := bridge.Start(); err != nil {
			log.Error("alert subscription failed", "error", err)
			os.Exit(1)
		}
		defer bridge.Stop()
		svc.SetReporter(bridge)
	}

	limiter := middleware.NewLimiterStore(cfg.RateLimitRPM, cfg.RateLimitBurst, time.Minute)
	defer limiter.Stop()

	wsHandler := ws.NewHandler(ws.Deps{
		Verifier: verifier,
		Registry: registry,
		Router:   router,
		Signaler: signaler,
		Engine:   engine,
		Signals:  signaling.NewRelay(router),
		Prefs:    prefs,
		Service:  svc,
		Limiter:  limiter,
		Log:      log,
	})

	r := mux.NewRouter()
	r.Handle("/ws", wsHandler)
	r.Handle("/metrics", metrics.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	relay.NewAPI(svc).Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("relay listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server exit", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func openStore(ctx context.Context, cfg config.Config) (store.KV, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		return store.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case config.StoreMongo:
		return store.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return store.NewMemory(), nil
	}
}
