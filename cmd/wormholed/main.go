// Command wormholed is the wormhole daemon: it owns the driver
// processes, the Subscription Hub, and the two network surfaces a
// client or the wormhole CLI talk to (the public WebSocket and the
// local control socket).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wormhole-dev/wormhole/internal/config"
	"github.com/wormhole-dev/wormhole/internal/controlsocket"
	"github.com/wormhole-dev/wormhole/internal/discovery"
	"github.com/wormhole-dev/wormhole/internal/driver"
	"github.com/wormhole-dev/wormhole/internal/hub"
	"github.com/wormhole-dev/wormhole/internal/permission"
	"github.com/wormhole-dev/wormhole/internal/registry"
	"github.com/wormhole-dev/wormhole/internal/wsapi"
)

// serverVersion is the daemon's self-reported version, surfaced in the
// WebSocket welcome frame and the control socket's status RPC.
const serverVersion = "0.1.0"

func main() {
	logger := log.New(os.Stdout, "wormholed ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)

	configPath := os.Getenv("WORMHOLE_CONFIG_PATH")
	if configPath == "" {
		resolved, err := config.DefaultPath()
		if err != nil {
			logger.Fatalf("resolve default config path: %v", err)
		}
		configPath = resolved
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	broker := permission.New()

	// Hub and the Client Endpoint are mutually referential: the Hub
	// calls back into the endpoint to close a backpressured client's
	// transport, and the endpoint holds the Hub to fan input through
	// it. wsServer is filled in once New returns, before either side
	// can actually be exercised by a connection.
	var wsServer *wsapi.Server
	h := hub.New(cfg.HighWaterMark, logger, func(clientID string) {
		if wsServer != nil {
			wsServer.CloseConn(clientID)
		}
	})

	reg := registry.New(registry.Config{
		Broker:       broker,
		Hub:          h,
		Logger:       logger,
		RingCapacity: cfg.RingCapacity,
		NewDriver: func(name, directory string) (driver.Driver, error) {
			return driver.NewPTYDriver(cfg.DriverCommand, logger), nil
		},
		ServerVersion: serverVersion,
		MachineName:   cfg.MachineName,
	})

	wsServer = wsapi.New(wsapi.Config{
		Logger:        logger,
		Registry:      reg,
		Hub:           h,
		Broker:        broker,
		ServerVersion: serverVersion,
		MachineName:   cfg.MachineName,
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           wsServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctrlSrv := controlsocket.New(controlsocket.Config{
		Path:     cfg.ControlSocketPath,
		Registry: reg,
		Logger:   logger,
		Port:     cfg.Port,
	})
	if err := ctrlSrv.Listen(); err != nil {
		logger.Fatalf("listen on control socket: %v", err)
	}

	advertiser := discovery.New(logger)
	if cfg.DiscoveryEnabled {
		if err := advertiser.Start(instanceName(cfg.MachineName), cfg.Port); err != nil {
			logger.Printf("discovery: %v (continuing without advertisement)", err)
		}
	}

	go func() {
		logger.Printf("control socket listening on %s", cfg.ControlSocketPath)
		if err := ctrlSrv.Serve(); err != nil {
			logger.Printf("control socket server stopped: %v", err)
		}
	}()
	go func() {
		logger.Printf("listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server crashed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Printf("shutting down")

	advertiser.Stop()
	if err := ctrlSrv.Close(); err != nil {
		logger.Printf("control socket close error: %v", err)
	}
	reg.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Printf("http server shutdown error: %v", err)
	}
}

// instanceName derives the mDNS instance name advertised for this
// daemon, falling back to "wormhole" if the configured
// machine name is somehow a bare path component that would confuse a
// DNS-SD browser.
func instanceName(machineName string) string {
	name := filepath.Base(machineName)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "wormhole"
	}
	return name
}
