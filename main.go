package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fleetup/fleetup/internal/config"
	"github.com/fleetup/fleetup/internal/database"
	"github.com/fleetup/fleetup/internal/handlers"
	"github.com/fleetup/fleetup/internal/health"
	"github.com/fleetup/fleetup/internal/logging"
	"github.com/fleetup/fleetup/internal/notify"
	"github.com/fleetup/fleetup/internal/registry"
	"github.com/fleetup/fleetup/internal/scheduler"
	"github.com/fleetup/fleetup/internal/sshexec"
	"github.com/fleetup/fleetup/internal/workflow"
)

func main() {
	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	log.Printf("Config: service=%s repo=%s listen=%s", config.Cfg.ServiceName, config.Cfg.ImageRepo, config.Cfg.ListenAddr)

	// Notifications: always log, additionally POST to a webhook when one is
	// configured.
	notifier := notify.Multi{notify.LogNotifier{}}
	if config.Cfg.WebhookURL != "" {
		notifier = append(notifier, notify.NewWebhookNotifier(config.Cfg.WebhookURL))
		log.Printf("Webhook notifications enabled")
	}

	reg := registry.NewClient(config.Cfg.ImageRepo)
	reg.BaseURL = config.Cfg.RegistryURL
	reg.ReleaseRepo = config.Cfg.ReleaseRepo
	reg.ReleaseTagPrefix = config.Cfg.ReleaseTagPrefix

	engine := workflow.NewEngine(sshexec.NewChannel, notifier)
	checker := health.NewChecker(sshexec.NewChannel, config.Cfg.ServiceName, config.Cfg.VersionCommand)
	monitor := health.NewMonitor(checker, notifier, config.Cfg.FailureThreshold)
	sched := scheduler.New(monitor, engine, reg, notifier)

	handlers.Engine = engine
	handlers.Monitor = monitor
	handlers.Sched = sched
	handlers.Registry = reg
	handlers.Events = handlers.NewEventBroker()

	if err := sched.Start(); err != nil {
		log.Fatalf("Scheduler init: %v", err)
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Targets
		r.Get("/targets", handlers.ListTargets)
		r.Post("/targets", handlers.CreateTarget)
		r.Get("/targets/{id}", handlers.GetTarget)
		r.Put("/targets/{id}", handlers.UpdateTarget)
		r.Delete("/targets/{id}", handlers.DeleteTarget)
		r.Get("/targets/{id}/ssh-test", handlers.SSHConnectionTest)
		r.Get("/targets/{id}/status", handlers.GetTargetStatus)
		r.Post("/targets/{id}/update", handlers.StartUpdate)
		r.Post("/targets/{id}/rollback", handlers.StartRollback)
		r.Get("/targets/{id}/snapshots", handlers.ListTargetSnapshots)

		// Fleet status and history
		r.Get("/status", handlers.GetFleetStatus)
		r.Get("/history", handlers.ListHistory)

		// Versions and release notes
		r.Get("/version/latest", handlers.GetLatestVersion)
		r.Get("/version/list", handlers.ListVersions)
		r.Get("/version/changelog/{version}", handlers.GetChangelog)

		// Scheduled updates
		r.Get("/schedule", handlers.ListSchedules)
		r.Post("/schedule", handlers.CreateSchedule)
		r.Delete("/schedule/{jobId}", handlers.CancelSchedule)

		// Settings and logs
		r.Get("/settings", handlers.GetSettings)
		r.Put("/settings", handlers.UpdateSettings)
		r.Get("/logs", handlers.GetServerLogs)

		// Progress events
		r.Get("/events", handlers.EventsWS)
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
