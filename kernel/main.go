package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewindlabs/rewind/kernel/buffer"
	"github.com/rewindlabs/rewind/kernel/energy"
	"github.com/rewindlabs/rewind/kernel/ghostworker"
	"github.com/rewindlabs/rewind/kernel/middleware"
	"github.com/rewindlabs/rewind/kernel/profiler"
	"github.com/rewindlabs/rewind/kernel/sentinel"
	"github.com/rewindlabs/rewind/kernel/store"
	"github.com/rewindlabs/rewind/kernel/streaming"
)

func main() {
	ctx := context.Background()

	// Substrate connection. The kernel needs Redis for persistence and
	// for the pub/sub channels between agents.
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	var s store.Store
	redisStore, err := store.NewRedisStore(redisAddr, "", 0)
	if err != nil {
		log.Fatalf("Failed to connect to Redis at %s: %v", redisAddr, err)
	}
	s = redisStore
	log.Printf("Connected to Redis at %s", redisAddr)

	// Optional relational archive for completion history and daily goals.
	var history *store.HistoryStore
	if pgURL := os.Getenv("POSTGRES_URL"); pgURL != "" {
		history, err = store.NewHistoryStore(ctx, pgURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		if err := history.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate history tables: %v", err)
		}
		defer history.Close()
		log.Println("Connected to Postgres for completion history")
	} else {
		log.Println("POSTGRES_URL not set; completion history disabled")
	}

	publisher := streaming.NewSubstratePublisher(s)

	// Polling cadence: tight in dev for fast demos, relaxed in production.
	pollInterval := 5 * time.Second
	if os.Getenv("PRODUCTION_MODE") == "true" {
		pollInterval = 30 * time.Second
	}
	if raw := os.Getenv("SENTINEL_POLL_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			log.Fatalf("Invalid SENTINEL_POLL_INTERVAL %q: %v", raw, err)
		}
		pollInterval = d
	}
	log.Printf("[CONFIG] Sentinel poll interval: %v (PRODUCTION_MODE=%s)",
		pollInterval, os.Getenv("PRODUCTION_MODE"))

	buf := buffer.New(s)
	monitor := energy.NewMonitor(s)
	prof := profiler.New(s)
	hub := NewClientHub()

	orch := NewOrchestrator(OrchestratorDeps{
		Store:     s,
		History:   history,
		Buffer:    buf,
		Monitor:   monitor,
		Profiler:  prof,
		Hub:       hub,
		Publisher: publisher,
	})

	worker := ghostworker.New(s, ghostworker.LogGenerator{}, ghostworker.LogExecutor{},
		orch.Delegations(), orch.Completions())

	sent := sentinel.New(s, buf, orch.ContextEvents(), pollInterval)
	sent.AddCalendar(sentinel.NewStoreCalendarSource(s, "calendar"))
	sent.AddMail(sentinel.NewStoreMailSource(s, "mail"))
	sent.AddChat(sentinel.NewStoreChatSource(s, "chat"))

	reminders := NewReminderWorker(s, buf)
	profiles := NewProfileWorker(s, history, prof, monitor, hub)

	if os.Getenv("DEMO_SEED") == "true" {
		if err := SeedDemoDay(ctx, s, buf); err != nil {
			log.Fatalf("Failed to seed demo data: %v", err)
		}
		log.Println("Seeded demo day")
	}

	go hub.Run(ctx)
	go orch.Run(ctx)
	go worker.Run(ctx)
	go monitor.Run(ctx)
	go reminders.Run(ctx)
	go profiles.Run(ctx)
	sent.Run(ctx)

	api := NewAPI(s, orch, buf, monitor, prof, worker, profiles, hub)

	mux := http.NewServeMux()
	api.registerRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	fmt.Println("==================================================")
	fmt.Println("REWIND KERNEL")
	fmt.Println("==================================================")
	fmt.Printf("Substrate:       %s\n", redisAddr)
	fmt.Printf("History:         %v\n", history != nil)
	fmt.Printf("Poll Interval:   %v\n", pollInterval)
	fmt.Printf("Listen:          %s\n", httpAddr)
	fmt.Println("==================================================")

	log.Printf("Rewind kernel listening on %s", httpAddr)

	// Wrap all routes with CORS middleware for frontend access
	handler := middleware.CORSMiddleware(mux)

	log.Fatal(http.ListenAndServe(httpAddr, handler))
}
