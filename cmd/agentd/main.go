// Command agentd runs the LAN command agent: it discovers endpoint manifests,
// seeds the built-in set on first boot, and serves the authenticated dispatch
// API until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lanops/lanagent/internal/dispatch"
	"github.com/lanops/lanagent/internal/executor"
	"github.com/lanops/lanagent/internal/handlers"
	"github.com/lanops/lanagent/internal/history"
	"github.com/lanops/lanagent/internal/registry"
	"github.com/lanops/lanagent/internal/server"
	"github.com/lanops/lanagent/internal/session"
	"github.com/lanops/lanagent/internal/sysinfo"
	"github.com/lanops/lanagent/pkg/config"
	"github.com/lanops/lanagent/pkg/logger"
	"github.com/lanops/lanagent/pkg/shutdown"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	getenv := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}

	configPath := flag.String("config", getenv("LANAGENT_CONFIG", "agent.yaml"), "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}

	exec := executor.New(filepath.Join(cfg.LogsDir, "processes"), cfg.AllowedCommands)
	sys := sysinfo.NewProvider(cfg.Name)

	teardown := shutdown.NewManager()

	sessions := session.NewManager(cfg.Auth.Username, cfg.Auth.Password, cfg.Auth.SessionTTL)
	sessions.StartSweeper(time.Minute)
	teardown.Register("sessions", func(context.Context) error {
		sessions.Close()
		return nil
	})

	var recorder dispatch.Recorder
	var hist *history.Store
	if cfg.HistoryDB != "" && cfg.HistoryDB != "off" {
		hist, err = history.Open(cfg.HistoryDB)
		if err != nil {
			log.Fatalf("open history store failed: %v", err)
		}
		teardown.Register("history", func(context.Context) error {
			return hist.Close()
		})
		recorder = hist
	}

	deps := handlers.Deps{
		Exec:              exec,
		Sys:               sys,
		Hist:              hist,
		AgentLogFile:      logger.CurrentLogFile,
		ShutdownCommand:   cfg.ShutdownCommand,
		ScreenshotCommand: cfg.ScreenshotCommand,
	}

	if err := registry.Seed(cfg.EndpointsDir, handlers.DefaultSeed()); err != nil {
		log.Fatalf("seed endpoint manifests failed: %v", err)
	}
	reg, err := registry.Discover(cfg.EndpointsDir, handlers.Table(deps))
	if err != nil {
		log.Fatalf("endpoint discovery failed: %v", err)
	}
	logger.Infof("discovered %d endpoint(s) under %s", reg.Len(), cfg.EndpointsDir)

	d := dispatch.New(reg, sessions, recorder)
	srv := server.New(cfg, reg, d, sessions, sys)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	teardown.Register("http", httpSrv.Shutdown)

	// Drop finished process records periodically.
	reapCtx, reapCancel := context.WithCancel(context.Background())
	teardown.Register("reaper", func(context.Context) error {
		reapCancel()
		return nil
	})
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-reapCtx.Done():
				return
			case <-ticker.C:
				if n := exec.Reap(time.Hour); n > 0 {
					logger.Infof("reaped %d finished process record(s)", n)
				}
			}
		}
	}()

	go func() {
		logger.Infof("agent listening on %s", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server error: %v", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	teardown.Shutdown(ctx)

	logger.Info("agent stopped")
}
