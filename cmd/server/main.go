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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Clark-Hu/fanrank/internal/app"
	"github.com/Clark-Hu/fanrank/internal/config"
	httpserver "github.com/Clark-Hu/fanrank/internal/http"
	"github.com/Clark-Hu/fanrank/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	components, err := app.Build(ctx, cfg, lg, reg)
	if err != nil {
		lg.Fatal("startup failed", "error", err)
	}
	defer components.Close()

	var health httpserver.HealthChecker
	if components.DB != nil {
		health = components.DB
	}
	server := httpserver.New(cfg, components.Service, health, reg, lg)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			lg.Error("server error", "error", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Error("graceful shutdown error", "error", err)
	}
}
