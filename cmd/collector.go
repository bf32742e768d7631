package cmd

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tiberiusferreira/tracer-sub000/collector"
	"github.com/tiberiusferreira/tracer-sub000/storage"
	"github.com/tiberiusferreira/tracer-sub000/wire"
)

func getServeCmd(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the collector server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(gs)
		},
	}
}

func getMigrateCmd(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the collector's database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(gs)
		},
	}
}

func runMigrate(gs *globalState) error {
	store, err := storage.NewPostgres(gs.ctx, gs.flags.databaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	gs.logger.Info("running migrations")
	return storage.Migrate(gs.ctx, store.Pool())
}

// runServe wires every collector component (F-L) over a live Postgres
// adapter and blocks serving HTTP until gs.ctx is canceled.
func runServe(gs *globalState) error {
	store, err := storage.NewPostgres(gs.ctx, gs.flags.databaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := collector.NewRegistry()
	budgets := collector.NewBudgets()

	ingest := collector.NewIngest(registry, budgets, store, gs.logger)
	connect := collector.NewConnectHandler(registry, store, gs.logger)
	ui := collector.NewUI(registry, store, gs.logger)

	metricsReg := prometheus.NewRegistry()
	metrics := collector.NewMetrics(metricsReg, registry)
	ingest.WithMetrics(metrics)

	alertEvaluator := collector.NewAlertEvaluator(registry, store, gs.logger).WithMetrics(metrics)
	dispatcher := collector.NewDispatcher(store, gs.logger).WithMetrics(metrics)
	janitor := collector.NewJanitor(registry, store, gs.logger).WithMetrics(metrics)

	runBackgroundTasks(gs.ctx, alertEvaluator, dispatcher, janitor)

	handler := collector.NewHandler(ingest, connect, ui, metricsReg, gs.logger)
	server := &http.Server{Addr: gs.flags.listenAddress, Handler: handler}

	go func() {
		<-gs.ctx.Done()
		_ = server.Close()
	}()

	gs.logger.WithField("address", gs.flags.listenAddress).Info("collector listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// runBackgroundTasks launches the Alert Evaluator and Janitor loops, with
// the evaluator handing each service's payload to the Dispatcher for
// that service alone, so a channel configured for one service never
// receives another service's alert lines.
func runBackgroundTasks(ctx context.Context, alertEvaluator *collector.AlertEvaluator, dispatcher *collector.Dispatcher, janitor *collector.Janitor) {
	go alertEvaluator.Run(ctx, func(svc wire.ServiceId, payload string) {
		dispatcher.Dispatch(ctx, svc, payload)
	})
	go janitor.Run(ctx)
}
