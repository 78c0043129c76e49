// Command swarmcored is the administrative entrypoint: it loads a
// deployment configuration, wires up the coordination core, and serves
// the administrative HTTP surface and observer WebSocket transport,
// grounded on cmd/cliaimonitor/main.go's flag-parsing and
// graceful-shutdown shape.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/agentswarm/core/internal/config"
	"github.com/agentswarm/core/internal/core"
	"github.com/agentswarm/core/internal/eventbus"
	"github.com/agentswarm/core/internal/httpapi"
	"github.com/agentswarm/core/internal/metricssurface"
	"github.com/agentswarm/core/internal/persistence"
	"github.com/agentswarm/core/internal/transport"
)

// Exit codes per the administrative entrypoint contract: 0 normal
// shutdown, 1 initialization failure, 2 transport bind failure.
const (
	exitOK            = 0
	exitInitFailure   = 1
	exitTransportBind = 2
)

func main() {
	configPath := flag.String("config", "configs/swarm.yaml", "Swarm deployment configuration file")
	httpAddr := flag.String("http-addr", "", "Administrative HTTP bind address (overrides config)")
	natsURL := flag.String("nats-url", "", "Agent-facing NATS URL (overrides config); empty keeps the config value")
	auditPath := flag.String("audit-db", "", "Intervention audit SQLite path (overrides config); empty keeps the config value")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg = config.DefaultSwarmConfig()
		} else {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(exitInitFailure)
		}
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *natsURL != "" {
		cfg.NATSURL = *natsURL
	}
	if *auditPath != "" {
		cfg.AuditDBPath = *auditPath
	}

	var natsClient *transport.Client
	if cfg.NATSURL != "" {
		natsClient, err = transport.NewClient(cfg.NATSURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to agent transport %s: %v\n", cfg.NATSURL, err)
			os.Exit(exitTransportBind)
		}
		defer natsClient.Close()
	}

	var auditLog *persistence.AuditLog
	if cfg.AuditDBPath != "" {
		db, err := sql.Open("sqlite3", cfg.AuditDBPath+"?_journal_mode=WAL&_busy_timeout=5000")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open audit database: %v\n", err)
			os.Exit(exitInitFailure)
		}
		defer db.Close()

		auditLog, err = persistence.NewAuditLog(db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize audit database: %v\n", err)
			os.Exit(exitInitFailure)
		}
	}

	c, err := core.New(cfg, natsClient, auditLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to construct coordination core: %v\n", err)
		os.Exit(exitInitFailure)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start coordination core: %v\n", err)
		os.Exit(exitInitFailure)
	}

	gauges := func() metricssurface.LiveGauges {
		healthy, degraded, failed := c.Registry.CountByHealth()
		return metricssurface.LiveGauges{
			TotalAgentsManaged:      c.Registry.Count(),
			ActiveCoordinationNodes: c.Tree.NodeCount(),
			HealthyAgents:           healthy,
			DegradedAgents:          degraded,
			FailedAgents:            failed,
			GlobalQueueSize:         c.Balancer.GlobalQueue().Len(),
		}
	}

	api := httpapi.New(c.Dispatcher, c.Interventions, c.Metrics, gauges)
	hub := eventbus.NewSessionHub(c.Bus)
	hub.AllowedOrigins = cfg.EventBus.AllowedOrigins
	if cfg.EventBus.RateLimitPerMinute > 0 {
		hub.RateLimitPerWindow = cfg.EventBus.RateLimitPerMinute
	}
	if cfg.EventBus.RateLimitWindow > 0 {
		hub.RateLimitWindow = cfg.EventBus.RateLimitWindow
	}
	hub.Interventions = c.Interventions
	hub.Status = c
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     hub.CheckOrigin,
	}

	router := mux.NewRouter()
	api.RegisterRoutes(router)
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.ListenAndServe()
	}()

	fmt.Printf("swarmcored: administrative API listening on %s\n", cfg.HTTPAddr)
	if natsClient != nil {
		fmt.Printf("swarmcored: agent transport connected to %s\n", cfg.NATSURL)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "administrative HTTP server failed: %v\n", err)
			os.Exit(exitTransportBind)
		}
	case <-shutdown:
		fmt.Println("swarmcored: shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	cancel()
	if err := c.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist final state: %v\n", err)
	}

	os.Exit(exitOK)
}
