// Command orchestrator is the core's process entrypoint, generalized
// from the teacher's control_plane/main.go: assemble the store backend
// from the environment, wire the orchestrator façade around it, start the
// swarm, and serve the observability surface (Prometheus /metrics, JSON
// status, WebSocket metrics feed) until signalled to stop.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swarmlayer/corerun/internal/config"
	"github.com/swarmlayer/corerun/internal/dashboard"
	"github.com/swarmlayer/corerun/internal/events"
	"github.com/swarmlayer/corerun/internal/orchestrator"
	"github.com/swarmlayer/corerun/internal/store"
	"github.com/swarmlayer/corerun/internal/timeline"
)

func main() {
	shardIndex := envInt("POD_INDEX", 0)
	nodeID := config.NodeID(shardIndex)
	cfg := config.Load(nodeID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, coord, epochs, closeStore := buildStore(ctx, cfg)
	defer closeStore()

	tl := timeline.NewStore(50000)
	bus := events.New(events.NewLogSink(), timeline.NewEventSink(tl))

	orch := orchestrator.New(cfg, adapter, coord, epochs, bus)

	if err := orch.Start(ctx); err != nil {
		log.Fatalf("orchestrator: failed to start: %v", err)
	}
	log.Printf("orchestrator: node=%s shard=%d/%d topology=%s min=%d max=%d",
		nodeID, cfg.ShardIndex, cfg.ShardCount, cfg.Topology, cfg.MinAgents, cfg.MaxAgents)

	var srv *http.Server
	if cfg.DashboardAddr != "" {
		srv = serveDashboard(ctx, cfg.DashboardAddr, orch)
	}

	<-ctx.Done()
	log.Printf("orchestrator: shutdown signal received")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}
	orch.Stop()
}

// buildStore selects the backing store per §6: Redis for the shared
// Adapter+Coordinator (messages, registry, locks/leases), Postgres for
// the durable fencing-epoch counter if configured, falling back to the
// in-memory adapter for every role when no external service is
// configured -- spec Non-goals require no durable store of its own, so
// this fallback must be fully sufficient for single-process operation.
func buildStore(ctx context.Context, cfg config.Config) (store.Adapter, store.Coordinator, store.DurableEpochStore, func()) {
	if cfg.RedisAddr == "" {
		mem := store.NewMemoryAdapter()
		return mem, mem, mem, func() {}
	}

	redisAdapter, err := store.NewRedisAdapter(cfg.RedisAddr, "", 0)
	if err != nil {
		log.Printf("orchestrator: redis unavailable (%v), falling back to in-memory store", err)
		mem := store.NewMemoryAdapter()
		return mem, mem, mem, func() {}
	}
	log.Printf("orchestrator: connected to redis at %s", cfg.RedisAddr)

	// Redis implements Adapter+Coordinator but not the separately-durable
	// epoch counter (§4.3): without Postgres configured, fencing epochs
	// fall back to an in-process counter, which is correct for a single
	// node but not shared across a process's siblings.
	var epochs store.DurableEpochStore = store.NewMemoryAdapter()
	closeFns := []func(){func() { redisAdapter.Close() }}

	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgresEpochStore(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Printf("orchestrator: postgres unavailable (%v), using in-process epoch fencing", err)
		} else {
			epochs = pg
			log.Printf("orchestrator: durable fencing epoch backed by postgres")
		}
	}

	return redisAdapter, redisAdapter, epochs, func() {
		for _, fn := range closeFns {
			fn()
		}
	}
}

// serveDashboard starts the JSON status + WebSocket metrics hub described
// in SPEC_FULL.md §4 ("Live metrics dashboard"), generalized from the
// teacher's control_plane/ws_hub.go and api_dashboard.go.
func serveDashboard(ctx context.Context, addr string, orch *orchestrator.Orchestrator) *http.Server {
	collect := dashboard.NewCollector(orch.Scheduler(), orch.Coordinator())
	hub := dashboard.NewHub(collect, time.Second)
	go hub.Run(ctx)

	handler := dashboard.NewHandler(hub, collect)

	mux := http.NewServeMux()
	mux.HandleFunc("/status", handler.ServeStatus)
	mux.HandleFunc("/ws", handler.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("orchestrator: dashboard server error: %v", err)
		}
	}()
	log.Printf("orchestrator: dashboard listening on %s", addr)
	return srv
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}
