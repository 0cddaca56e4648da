package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MarginHealth/internal/ingestion"
	"MarginHealth/internal/observability"
	"MarginHealth/internal/oracle"
	"MarginHealth/internal/persistence"
	"MarginHealth/internal/server"
	"MarginHealth/internal/service"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: MarginHealth starting...")

	if err := LoadEnvFile(); err != nil {
		log.Fatalf("FATAL: load env file: %v", err)
	}
	cfg, err := DefaultConfig()
	if err != nil {
		log.Fatalf("FATAL: config: %v", err)
	}
	level := observability.ParseLogLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker("postgres", "nats", "records")

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	healthChecker.SetDependency("postgres", true)
	log.Println("INFO: Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLoggerWithLevel("migrator", level))
	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Println("INFO: migrations applied")

	// --- Records + price book ---
	book := oracle.NewBook()
	healthSvc := service.NewHealthService(
		cfg.GroupID,
		persistence.NewLoader(db),
		book,
		metrics,
		observability.NewLoggerWithLevel("health", level),
	)
	if err := healthSvc.Refresh(ctx); err != nil {
		log.Fatalf("FATAL: load group %s: %v", cfg.GroupID, err)
	}
	healthChecker.SetDependency("records", true)
	log.Printf("INFO: group %s loaded", cfg.GroupID)

	// --- NATS ---
	natsLogger := observability.NewLoggerWithLevel("nats", level)
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
		log.Fatalf("FATAL: ensure NATS streams: %v", err)
	}
	healthChecker.SetDependency("nats", true)
	log.Println("INFO: NATS connected")

	priceChan := make(chan ingestion.RawEvent, cfg.PriceChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, priceChan, natsLogger)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects(cfg.Instance)); err != nil {
		log.Fatalf("FATAL: nats subscribe: %v", err)
	}

	applier := ingestion.NewPriceApplier(book, priceChan, metrics, observability.NewLoggerWithLevel("prices", level))
	alerts := ingestion.NewAlertPublisher(
		ingestion.JetStreamSink{JS: js},
		cfg.AlertQueueSize,
		metrics,
		observability.NewLoggerWithLevel("alerts", level),
	)

	// --- Sweep + reports ---
	reportChan := make(chan persistence.HealthReport, cfg.ReportChanSize)
	reportWriter := persistence.NewReportWriter(db)
	reportWorker := persistence.NewReportWorker(
		reportWriter,
		reportChan,
		cfg.ReportBatchSize,
		cfg.ReportFlushTimeout,
		metrics,
		observability.NewLoggerWithLevel("reports", level),
	)
	sweeper := service.NewSweeper(healthSvc, reportChan, alerts)

	// --- gRPC + HTTP gateway ---
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Health:        healthSvc,
		Reports:       reportWriter,
		Metrics:       metrics,
		HealthChecker: healthChecker,
	})

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	// 1. Price applier
	go func() {
		errChan <- applier.Run(ctx)
	}()

	// 2. Alert publisher
	go func() {
		errChan <- alerts.Run(ctx)
	}()

	// 3. Report worker; drains reportChan after the sweeper stops
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- reportWorker.Run(context.Background())
	}()

	// 4. Sweeper
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		if err := sweeper.Run(ctx, cfg.SweepInterval); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("sweeper: %w", err)
		}
	}()

	// 5. gRPC server
	go func() {
		errChan <- grpcServer.StartGRPC(ctx)
	}()

	// 6. HTTP gateway
	go func() {
		errChan <- grpcServer.StartHTTPGateway(ctx)
	}()

	// 7. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: Metrics server listening on %s/metrics", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	grpcServer.SetServing(true)
	log.Printf("INFO: MarginHealth ready (group=%s, sweep=%s, grpc=%s, http=%s, metrics=%s)",
		cfg.GroupID, cfg.SweepInterval, cfg.GRPCAddr, cfg.HTTPAddr, cfg.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	// --- Graceful shutdown ---
	grpcServer.SetServing(false)
	cancel()
	subscriber.Stop()

	<-sweepDone
	close(reportChan)

	select {
	case err := <-workerDone:
		if err != nil {
			log.Printf("ERROR: report worker: %v", err)
		}
	case <-time.After(30 * time.Second):
		log.Println("WARN: report worker did not finish in time")
	}

	log.Println("INFO: MarginHealth shutdown complete")
}
