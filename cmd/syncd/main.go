// Package main provides the FixSync daemon: the offline-first sync
// engine fronted by a local HTTP API and a WebSocket event stream.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/opsdeck/fixsync/internal/config"
	"github.com/opsdeck/fixsync/internal/connectivity"
	"github.com/opsdeck/fixsync/internal/db"
	"github.com/opsdeck/fixsync/internal/events"
	"github.com/opsdeck/fixsync/internal/logging"
	"github.com/opsdeck/fixsync/internal/models"
	syncpkg "github.com/opsdeck/fixsync/internal/sync"
	"github.com/opsdeck/fixsync/internal/sync/conflict"
	"github.com/opsdeck/fixsync/internal/sync/queue"
	"github.com/opsdeck/fixsync/internal/sync/remote"
	"github.com/opsdeck/fixsync/internal/sync/scheduler"
	"github.com/opsdeck/fixsync/internal/uuid"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.Init(os.Stdout, logging.LogLevel(cfg.LogLevel))

	// A client identity survives restarts only when configured; otherwise
	// each daemon run is a fresh client.
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = uuid.New()
	}

	// Initialize storage
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Up(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	repo := db.NewRepository(database.DB)

	// Wire the engine
	bus := events.NewBus()
	monitor := connectivity.NewMonitor(bus, connectivity.Status{Online: false})
	resolver := conflict.NewResolver(models.Strategy(cfg.DefaultStrategy))
	queueManager := queue.NewManager(repo)
	remoteClient := remote.NewHTTPClient(cfg.RemoteURL)
	engine := syncpkg.NewEngine(repo, queueManager, resolver, remoteClient, monitor, bus, clientID)

	// Background loops: connectivity probing and scheduled sync
	prober := connectivity.NewHTTPProber(cfg.ProbeURL)
	go monitor.Run(ctx, prober, cfg.ProbeInterval)

	sched := scheduler.New(engine, bus, &scheduler.Config{SyncInterval: cfg.SyncInterval})
	sched.Start(ctx)
	defer sched.Stop()

	// Event stream
	hub := NewWSHub()
	bridgeBusToHub(bus, hub)

	// HTTP API
	api := &apiServer{engine: engine, monitor: monitor, scheduler: sched}

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	router.Get("/ws", HandleWebSocket(hub))

	router.Route("/api", func(r chi.Router) {
		r.Get("/status", api.handleStatus)
		r.Post("/sync", api.handleSync)
		r.Get("/pending", api.handlePending)

		r.Route("/tables/{table}/records", func(r chi.Router) {
			r.Get("/", api.handleListRecords)
			r.Put("/{id}", api.handleStoreRecord)
			r.Get("/{id}", api.handleGetRecord)
			r.Delete("/{id}", api.handleDeleteRecord)
			r.Post("/{id}/requeue", api.handleRequeue)
		})

		r.Route("/conflicts", func(r chi.Router) {
			r.Get("/", api.handleListConflicts)
			r.Post("/{id}/resolve", api.handleResolveConflict)
		})
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("Starting fixsync daemon on port %s", cfg.ServerPort)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server stopped gracefully")
}

// bridgeBusToHub re-broadcasts engine events onto the WebSocket stream.
func bridgeBusToHub(bus *events.Bus, hub *WSHub) {
	for _, eventType := range []string{
		events.TypeNetwork,
		events.TypeConnection,
		events.TypeDataStored,
		events.TypeSyncComplete,
	} {
		et := eventType
		bus.Subscribe(et, func(e events.Event) {
			hub.Broadcast(et, e.Data)
		})
	}
}
