package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"fulfillment-reconciler/internal/config"
	"fulfillment-reconciler/internal/core"
	"fulfillment-reconciler/internal/db"
	"fulfillment-reconciler/internal/worker"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type app struct {
	logger *zap.Logger
	pool   *pgxpool.Pool
	stock  core.StockService
	jobs   map[string]worker.Job
}

func main() {
	root := &cobra.Command{
		Use:           "reconciler",
		Short:         "Unattended order/inventory/shipment reconciliation worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), onceCmd(), stockCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context) (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	catalogs := core.NewCatalogService(pool)
	demand := core.NewDemandService(pool, logger, cfg.Jobs.PageSize, cfg.Jobs.MaxPages)
	stock := core.NewStockService(pool, logger)
	alerts := core.NewAlertService(pool, demand, stock, logger)
	deduct := core.NewDeductService(pool, logger, cfg.Jobs.DeductLookback, cfg.Jobs.PageSize, cfg.Jobs.MaxPages)
	merge := core.NewMergeService(pool,
		[]core.ShipmentSource{core.NewShipStationSource(pool), core.NewShipEngineSource(pool)},
		logger, cfg.Jobs.MergeLookback, cfg.Jobs.PageSize, cfg.Jobs.MaxPages)
	backfill := core.NewBackfillService(pool, logger, cfg.Jobs.PageSize, cfg.Jobs.MaxPages)

	a := &app{logger: logger, pool: pool, stock: stock}
	a.jobs = map[string]worker.Job{
		"alerts": {
			Name:     "alerts",
			Interval: cfg.Jobs.AlertsInterval,
			Run: func(ctx context.Context) error {
				catalog, err := catalogs.Load(ctx)
				if err != nil {
					return err
				}
				return alerts.Reconcile(ctx, catalog)
			},
		},
		"deduct": {
			Name:     "deduct",
			Interval: cfg.Jobs.DeductInterval,
			Run: func(ctx context.Context) error {
				catalog, err := catalogs.Load(ctx)
				if err != nil {
					return err
				}
				return deduct.Reconcile(ctx, catalog)
			},
		},
		"merge": {
			Name:     "merge",
			Interval: cfg.Jobs.MergeInterval,
			Run:      merge.Reconcile,
		},
		"backfill": {
			Name:     "backfill",
			Interval: cfg.Jobs.BackfillInterval,
			Run:      backfill.Reconcile,
		},
	}
	return a, nil
}

func (a *app) close() {
	a.pool.Close()
	_ = a.logger.Sync()
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid RECON_LOG_LEVEL %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run all reconciliation jobs on their configured intervals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			jobs := make([]worker.Job, 0, len(a.jobs))
			for _, job := range a.jobs {
				jobs = append(jobs, job)
			}
			worker.NewScheduler(jobs, a.logger).Start(ctx)
			a.logger.Info("worker stopped")
			return nil
		},
	}
}

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "once <job>",
		Short:     "Run a single pass of one job (alerts | deduct | merge | backfill)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"alerts", "deduct", "merge", "backfill"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			job, ok := a.jobs[args[0]]
			if !ok {
				return fmt.Errorf("unknown job %q", args[0])
			}
			return job.Run(cmd.Context())
		},
	}
}

func stockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stock",
		Short: "Print the per-SKU supply view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			supply, err := a.stock.SupplyBySKU(cmd.Context())
			if err != nil {
				return err
			}

			skus := make([]string, 0, len(supply))
			for sku := range supply {
				skus = append(skus, sku)
			}
			sort.Strings(skus)

			fmt.Printf("%-30s %12s %12s %12s\n", "SKU", "PICKABLE", "BACKSTOCK", "TOTAL")
			for _, sku := range skus {
				v := supply[sku]
				fmt.Printf("%-30s %12s %12s %12s\n",
					sku, v.PickableAvailable.String(), v.Backstock.String(), v.Total.String())
			}
			return nil
		},
	}
}
