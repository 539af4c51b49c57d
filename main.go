package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaymesh/grelay/internal/adapter/dns"
	"github.com/relaymesh/grelay/internal/app/httpapi"
	"github.com/relaymesh/grelay/internal/app/manager"
	"github.com/relaymesh/grelay/internal/app/persist"
	"github.com/relaymesh/grelay/internal/app/services"
	"github.com/relaymesh/grelay/internal/config"
	"github.com/relaymesh/grelay/internal/logger"
	"github.com/relaymesh/grelay/internal/version"
	"github.com/relaymesh/grelay/pkg/format"
)

const (
	envAPIKey        = "RELAY_API_KEY"
	envInstanceStore = "RELAY_INSTANCE_STORE"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	}
	version.PrintVersionInfo(false, vlog)

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithStyled(&logger.Config{
		Level:      cfg.Log.Level,
		FileOutput: cfg.Log.FileOutput,
		LogDir:     cfg.Log.Dir,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("initialising", "version", version.Version, "pid", os.Getpid())

	resolver := dns.NewWithTTL(cfg.DNS.CacheTTL)

	instanceFile := os.Getenv(envInstanceStore)
	if instanceFile == "" {
		instanceFile = "./instances.json"
	}
	persistMgr := persist.NewSelfManaged(instanceFile, persist.FormatFromPath(instanceFile), cfg)

	mgr := manager.New(persistMgr, cfg.Network, resolver, styledLogger)
	apiServer := httpapi.NewServer(mgr, styledLogger)

	sm := services.NewServiceManager(*styledLogger)
	if err := sm.Register(newRelayService(mgr)); err != nil {
		logger.FatalWithLogger(logInstance, "failed to register relay manager service", "error", err)
	}
	if err := sm.Register(newHTTPService(apiServer, cfg.API.Listen, os.Getenv(envAPIKey))); err != nil {
		logger.FatalWithLogger(logInstance, "failed to register http control plane service", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	if err := sm.Start(ctx); err != nil {
		logger.FatalWithLogger(logInstance, "failed to start services", "error", err)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := sm.Stop(stopCtx); err != nil {
		styledLogger.Error("error during shutdown", "error", err)
	}

	styledLogger.Info("grelay has shutdown", "uptime", format.Duration(time.Since(startTime)))
}
