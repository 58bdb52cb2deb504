// Command labcore opens the configured persistent store and attachment store,
// reports collection counts, and optionally serves Prometheus metrics.
//
// Configuration comes from the environment (a local .env file is honored):
//
//	LABCORE_STORAGE_DRIVER, LABCORE_SQLITE_PATH, LABCORE_POSTGRES_DSN
//	LABCORE_BLOB_DRIVER, LABCORE_BLOB_FS_ROOT, LABCORE_BLOB_S3_*
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labcore/internal/blob"
	"labcore/internal/core"
)

func main() {
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address (e.g. :9090)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(context.Background(), logger, *metricsAddr); err != nil {
		logger.Error("labcore failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, metricsAddr string) error {
	if err := godotenv.Load(); err == nil {
		logger.Info("loaded .env")
	}

	store, err := core.OpenPersistentStore()
	if err != nil {
		return fmt.Errorf("open persistent store: %w", err)
	}

	attachments, err := blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open attachment store: %w", err)
	}
	logger.Info("stores ready",
		"storage_driver", os.Getenv("LABCORE_STORAGE_DRIVER"),
		"blob_driver", attachments.Driver(),
	)

	opts := []core.ServiceOption{core.WithLogger(logger)}
	if metricsAddr != "" {
		rec, err := core.NewPrometheusMetricsRecorder(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		opts = append(opts, core.WithMetricsRecorder(rec))
	}
	svc := core.NewService(store, opts...)

	fmt.Printf("consumables:   %d\n", len(svc.Consumables().List()))
	fmt.Printf("orders:        %d\n", len(svc.Orders().List()))
	fmt.Printf("equipment:     %d\n", len(svc.Equipment().List()))
	fmt.Printf("bookings:      %d\n", len(svc.Bookings().List()))
	fmt.Printf("chat rooms:    %d\n", len(svc.ChatRooms().List()))
	fmt.Printf("chat messages: %d\n", len(svc.ChatMessages().List()))
	fmt.Printf("lab rules:     %d\n", len(svc.LabRules().List()))
	fmt.Printf("gas cylinders: %d\n", len(svc.GasCylinders().List()))

	if metricsAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("serving metrics", "addr", metricsAddr)
	return server.ListenAndServe()
}
