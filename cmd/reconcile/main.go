// Command reconcile recomputes athlete aggregates from their stored ratings.
// With -athlete it repairs a single athlete, otherwise it sweeps all of them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Clark-Hu/fanrank/internal/app"
	"github.com/Clark-Hu/fanrank/internal/config"
	"github.com/Clark-Hu/fanrank/internal/logger"
)

func main() {
	cfg, err := config.LoadTool()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.Store != config.StorePostgres {
		log.Fatalf("reconcile needs STORE=%s", config.StorePostgres)
	}

	athleteID := flag.String("athlete", "", "reconcile only this athlete id")
	concurrency := flag.Int("concurrency", cfg.ReconcileConcurrency, "athletes reconciled in parallel during a sweep")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync()

	if err := run(ctx, cfg, lg, *athleteID, *concurrency); err != nil {
		lg.Error("reconcile failed", "error", err)
		lg.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, lg *logger.Logger, athleteID string, concurrency int) error {
	components, err := app.Build(ctx, cfg, lg, nil)
	if err != nil {
		return err
	}
	defer components.Close()

	if athleteID != "" {
		athlete, err := components.Service.Reconcile(ctx, athleteID)
		if err != nil {
			return fmt.Errorf("athlete %s: %w", athleteID, err)
		}
		fmt.Printf("%s\tcount=%d\trank=%s\tsummary=%v\n", athlete.ID, athlete.RatingCount, athlete.Rank, athlete.Summary)
		return nil
	}

	n, err := components.Service.ReconcileAll(ctx, concurrency)
	if err != nil {
		return fmt.Errorf("sweep stopped after %d athletes: %w", n, err)
	}
	fmt.Printf("reconciled %d athletes\n", n)
	return nil
}
