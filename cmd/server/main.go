package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agnox/callcore/internal/agentpool"
	"github.com/agnox/callcore/internal/api"
	"github.com/agnox/callcore/internal/auth"
	"github.com/agnox/callcore/internal/callback"
	"github.com/agnox/callcore/internal/config"
	"github.com/agnox/callcore/internal/customer"
	"github.com/agnox/callcore/internal/dashboard"
	"github.com/agnox/callcore/internal/engine"
	"github.com/agnox/callcore/internal/metrics"
	"github.com/agnox/callcore/internal/notify"
	"github.com/agnox/callcore/internal/queue"
	"github.com/agnox/callcore/internal/storage"
	"github.com/agnox/callcore/internal/store"
	"github.com/agnox/callcore/internal/telephony"
	"github.com/agnox/callcore/internal/types"
	"github.com/agnox/callcore/internal/websocket"
	"github.com/agnox/callcore/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Msg("starting callcore server")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable storage (DynamoDB, Postgres, or disabled)
	durable, err := storage.NewStore(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize durable storage")
	}

	// Core state
	sessions := store.NewSessionStore(log.Logger)
	estimator := queue.NewWaitEstimator(cfg.WaitWindowSize, cfg.DefaultWaitEst)
	slTracker := queue.NewSLTracker(cfg.SLThreshold)
	callQueue := queue.NewManager(estimator, slTracker, log.Logger)
	pool := agentpool.NewPool(log.Logger)
	customers := customer.NewRegistry(log.Logger)
	callbacks := callback.NewScheduler(log.Logger)
	notifier := notify.NewNotifier(log.Logger)

	// Telephony adapters
	dialer := telephony.NewLogDialer(log.Logger)
	conversation := telephony.NewLogConversation(log.Logger)

	// Call engine
	svc := engine.NewService(engine.Deps{
		Config:    cfg,
		Sessions:  sessions,
		Queue:     callQueue,
		Pool:      pool,
		Customers: customers,
		Callbacks: callbacks,
		Notifier:  notifier,
		Dialer:    dialer,
		Conv:      conversation,
		Durable:   durable,
		Logger:    log.Logger,
	})

	// Dashboard WebSocket hub
	hub := websocket.NewHub(log.Logger)
	go hub.Run()

	// Agent console WebSocket hub; the hub kicks routing when an agent
	// comes online, the engine pushes assignments back through it
	agentHub := websocket.NewAgentHub(pool, svc.KickRouting, log.Logger)
	go agentHub.Run()
	svc.SetSender(agentHub)

	// Event fan-out: metrics counters and live dashboard feed
	notifier.Subscribe(notify.SubscriberFunc(func(ev types.Event) {
		metrics.Get().RecordEvent(ev)
	}))
	notifier.Subscribe(notify.SubscriberFunc(func(ev types.Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("type", string(ev.Type)).Msg("failed to marshal event")
			return
		}
		hub.Broadcast(data)
	}))

	var kafkaSink *notify.KafkaSink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink = notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, log.Logger)
		notifier.Subscribe(kafkaSink)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("kafka event sink enabled")
	}

	// Periodic dashboard snapshots
	broadcaster := dashboard.NewBroadcaster(sessions, callQueue, pool, hub, time.Second, log.Logger)
	go broadcaster.Start(ctx)

	// Restore durable state before accepting traffic
	if err := svc.Resume(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to resume engine state")
	}
	svc.Start(ctx)

	// HTTP handlers
	wsHandler := websocket.NewHandler(hub, cfg, log.Logger)
	agentWSHandler := websocket.NewAgentHandler(agentHub, log.Logger)
	webhooks := api.NewWebhookHandler(svc, log.Logger)
	agentsH := api.NewAgentsHandler(pool, svc, log.Logger)
	queueH := api.NewQueueHandler(callQueue, svc, log.Logger)
	sessionsH := api.NewSessionsHandler(sessions, svc, durable, log.Logger)
	callbacksH := api.NewCallbacksHandler(callbacks, svc, log.Logger)
	customersH := api.NewCustomersHandler(customers, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Get().Handler())

	// Telephony webhooks (authenticated by the upstream media gateway)
	r.Route("/webhooks/calls", func(r chi.Router) {
		r.Post("/arrived", webhooks.CallArrived)
		r.Post("/{sessionId}/answered", webhooks.CallAnswered)
		r.Post("/{sessionId}/ended", webhooks.CallEnded)
		r.Post("/{sessionId}/transcript", webhooks.Transcript)
		r.Post("/{sessionId}/handoff", webhooks.Handoff)
		r.Post("/{sessionId}/transfer/accepted", webhooks.TransferAccepted)
		r.Post("/{sessionId}/transfer/rejected", webhooks.TransferRejected)
	})

	// Add auth middleware for protected routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Get("/ws", wsHandler.ServeHTTP)
		r.Get("/ws/agents", agentWSHandler.ServeHTTP)

		r.Route("/api", func(r chi.Router) {
			r.Post("/agents", agentsH.Register)
			r.Get("/agents", agentsH.List)
			r.Get("/agents/{agentId}", agentsH.Get)
			r.Put("/agents/{agentId}/status", agentsH.SetStatus)

			r.Get("/queue/stats", queueH.Stats)
			r.Get("/queue/position/{sessionId}", queueH.Position)

			r.Get("/sessions", sessionsH.ListActive)
			r.Get("/sessions/history", sessionsH.History)
			r.Get("/sessions/{sessionId}", sessionsH.Get)
			r.Get("/sessions/{sessionId}/transcript", sessionsH.Transcript)
			r.Get("/sessions/{sessionId}/transfers", sessionsH.Transfers)
			r.Post("/sessions/{sessionId}/transfer", sessionsH.RequestTransfer)
			r.Post("/calls/outbound", sessionsH.StartOutbound)

			r.Post("/callbacks", callbacksH.Schedule)
			r.Get("/callbacks/{callbackId}", callbacksH.Get)
			r.Delete("/callbacks/{callbackId}", callbacksH.Cancel)

			r.Get("/customers", customersH.Lookup)
			r.Get("/customers/{customerId}", customersH.Get)
			r.Put("/customers/{customerId}", customersH.UpdateProfile)
			r.Get("/customers/{customerId}/callbacks", callbacksH.ForCustomer)
		})
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop routing, sweep, and snapshot loops
	cancel()

	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close kafka sink")
		}
	}

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"callcore"}`)
}
