// Callbridge - call lifecycle and signaling service
//
// Callbridge manages voice and video call sessions for chat rooms: it owns
// the persisted call state machine and relays WebRTC signaling between the
// connected devices of room members.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hivechat/callbridge/pkg/api"
	"github.com/hivechat/callbridge/pkg/call"
	"github.com/hivechat/callbridge/pkg/config"
	"github.com/hivechat/callbridge/pkg/ice"
	"github.com/hivechat/callbridge/pkg/logger"
	"github.com/hivechat/callbridge/pkg/relay"
	"github.com/hivechat/callbridge/pkg/rooms"
	"github.com/hivechat/callbridge/pkg/store"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

type cliConfig struct {
	configPath string
	listenAddr string
	dbPath     string
	logLevel   string
	version    bool
}

func main() {
	cliCfg := parseFlags()

	if cliCfg.version {
		fmt.Printf("callbridge v%s (built %s)\n", version, buildTime)
		return
	}

	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Apply CLI flag overrides
	if cliCfg.listenAddr != "" {
		cfg.Server.ListenAddr = cliCfg.listenAddr
	}
	if cliCfg.dbPath != "" {
		cfg.Database.Path = cliCfg.dbPath
	}
	if cliCfg.logLevel != "" {
		cfg.Logging.Level = cliCfg.logLevel
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logger.Initialize(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		Component: "main",
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	mainLog := logger.Global()

	mainLog.Info("starting callbridge", "version", version, "listen_addr", cfg.Server.ListenAddr)

	st, err := store.New(context.Background(), store.Config{
		DBPath:         cfg.Database.Path,
		EnableWAL:      cfg.Database.EnableWAL,
		ConnectionPool: cfg.Database.ConnectionPool,
	})
	if err != nil {
		log.Fatalf("Failed to open call store: %v", err)
	}
	defer st.Close()
	mainLog.Info("call store ready", "path", cfg.Database.Path)

	iceProvider := ice.NewProvider(ice.Config{
		STUNServers: cfg.ICE.STUNServers,
		TURN: ice.TURNConfig{
			Enabled:       cfg.ICE.TURNEnabled,
			Host:          cfg.ICE.TURNHost,
			Port:          cfg.ICE.TURNPort,
			Protocol:      cfg.ICE.TURNProtocol,
			Secret:        cfg.ICE.TURNSecret,
			CredentialTTL: time.Duration(cfg.ICE.TURNCredentialTTLSeconds) * time.Second,
		},
	})

	roomsClient, err := rooms.NewClient(rooms.Config{
		BaseURL:      cfg.Rooms.BaseURL,
		ServiceToken: cfg.Rooms.ServiceToken,
		Timeout:      time.Duration(cfg.Rooms.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to build rooms client: %v", err)
	}

	rly := relay.New(relay.Config{
		PendingTTL: cfg.RingWindow(),
		QueueSize:  cfg.Calls.RelayQueueSize,
	}, st, roomsClient, roomsClient, iceProvider, logger.Global())
	go rly.Run()
	defer rly.Stop()

	controller := call.NewController(call.Config{
		RingWindow: cfg.RingWindow(),
	}, st, rly, roomsClient, iceProvider, logger.Global())

	sweeper := call.NewSweeper(call.Config{RingWindow: cfg.RingWindow()}, st, rly, logger.Global())
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start ring-timeout sweeper: %v", err)
	}
	defer sweeper.Stop()

	handler := api.NewHandler(api.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsEnabled: cfg.Metrics.Enabled,
	}, controller, rly, st, logger.Global())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		mainLog.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		mainLog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Fatalf("HTTP server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		mainLog.Error("http shutdown failed", "error", err)
	}

	mainLog.Info("callbridge stopped")
}

func parseFlags() cliConfig {
	var cfg cliConfig

	flag.StringVar(&cfg.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&cfg.listenAddr, "listen", "", "Listen address override")
	flag.StringVar(&cfg.dbPath, "db", "", "Database path override")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	flag.BoolVar(&cfg.version, "version", false, "Print version and exit")
	flag.Parse()

	return cfg
}
