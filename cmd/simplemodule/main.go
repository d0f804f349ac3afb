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

	"github.com/tkn-tub/module-simple/internal/agent"
	"github.com/tkn-tub/module-simple/internal/audit"
	"github.com/tkn-tub/module-simple/internal/auth"
	"github.com/tkn-tub/module-simple/internal/commands"
	"github.com/tkn-tub/module-simple/internal/config"
	"github.com/tkn-tub/module-simple/internal/controller"
	"github.com/tkn-tub/module-simple/internal/device"
	"github.com/tkn-tub/module-simple/internal/jsonrpc"
	"github.com/tkn-tub/module-simple/internal/logging"
	"github.com/tkn-tub/module-simple/internal/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, logCloser, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()

	logger.Info("Starting simple Wi-Fi module",
		logging.F("mac", cfg.MyMAC),
		logging.F("mode", cfg.Simulation.Mode),
		logging.F("clients", len(cfg.Clients)))

	hub := telemetry.NewHub(cfg.Telemetry, logger)
	module := device.New(cfg, hub.DeviceSink(cfg.MyMAC), logger)

	a := agent.New(module, logger, agent.DefaultOptions())
	if err := a.Start(context.Background()); err != nil {
		logger.Error("Module start failed", logging.F("error", err))
		os.Exit(1)
	}

	var auditor commands.Auditor
	auditLog := audit.NewFromConfig(cfg.Audit, cfg.MyMAC)
	if auditLog != nil {
		auditor = auditLog
		defer auditLog.Close()
	}
	dispatcher := commands.NewDispatcher(commands.NewModuleRegistry(module), a, auditor, logger)

	var verifier *auth.Verifier
	if cfg.Auth.Enabled {
		verifier, err = auth.NewVerifier(cfg.Auth.SecretKey)
		if err != nil {
			logger.Error("Invalid auth configuration", logging.F("error", err))
			os.Exit(1)
		}
	}

	// Create JSON-RPC HTTP server
	rpcServer := jsonrpc.NewServer(dispatcher, hub, auth.NewMiddleware(verifier), logger)

	// Determine HTTP port based on dev mode
	httpPort := cfg.Network.HTTP.Port
	if cfg.Network.HTTP.DevMode {
		httpPort = 8080
		logger.Info("Development mode: using port 8080")
	}

	// WriteTimeout stays unset so SSE streams are not cut off
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           rpcServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Create controller TCP server
	controllerServer, err := controller.NewServer(cfg.Network.Controller, dispatcher, a, logger)
	if err != nil {
		logger.Error("Invalid controller configuration", logging.F("error", err))
		os.Exit(1)
	}

	errChan := make(chan error, 2)

	// Start HTTP server
	go func() {
		logger.Info("Starting HTTP server", logging.F("port", httpPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	// Start controller TCP server
	go func() {
		logger.Info("Starting controller TCP server", logging.F("port", cfg.Network.Controller.Port))
		if err := controllerServer.ListenAndServe(); err != nil {
			errChan <- fmt.Errorf("controller server failed: %w", err)
		}
	}()

	// Wait for interrupt signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Received signal", logging.F("signal", sig.String()))
	case err := <-errChan:
		logger.Error("Server error", logging.F("error", err))
	}

	logger.Info("Shutting down servers...")

	// Telemetry first so open SSE streams let the HTTP server drain
	hub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown error", logging.F("error", err))
	}

	if err := controllerServer.Close(); err != nil {
		logger.Warn("Controller server shutdown error", logging.F("error", err))
	}

	// Runs the module's exit hook
	if err := a.Close(); err != nil {
		logger.Warn("Agent shutdown error", logging.F("error", err))
	}

	logger.Info("Servers stopped")
}
