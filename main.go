package main

import (
	"context"
	"embed"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/chainbill/invoicenode/pkg/log"
	"github.com/chainbill/invoicenode/pkg/sign"
)

//go:embed config/migrations/*/*.sql
var embedMigrations embed.FS

// Version is set at build time.
var Version = "dev"

func main() {
	logger := NewLogger("root")
	if len(os.Args) > 1 {
		// If a CLI command is provided, run it and exit
		runCli(logger, os.Args[1])
		return
	}

	config, err := LoadConfig(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}

	// Spans are not exported. They give every request log line a trace id.
	tracerProvider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tracerProvider)

	db, err := ConnectToDB(config.dbConf, logger)
	if err != nil {
		logger.Fatal("failed to setup database", "error", err)
	}

	signer, err := sign.NewEthereumSigner(config.nodeKeyHex)
	if err != nil {
		logger.Fatal("failed to initialise signer", "error", err)
	}
	logger.Info("node signer initialized", "address", signer.Address().Hex())

	adminSigner, err := config.AdminSigner()
	if err != nil {
		logger.Fatal("failed to initialise admin signer", "error", err)
	}

	metrics := NewMetrics()

	rpcNode, err := NewRPCNode(signer, metrics, logger)
	if err != nil {
		logger.Fatal("failed to initialise RPC node", "error", err)
	}
	wsNotifier := NewWSNotifier(rpcNode.Notify, logger)

	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	stack, err := NewLedgerStack(ctx, db, adminSigner.Address(), config.ledgerConf, wsNotifier, logger)
	if err != nil {
		logger.Fatal("failed to initialise ledger", "error", err)
	}
	logger.Info("ledger ready", "admin", stack.Admin.Hex(), "contract", stack.Contract.Hex())

	rpcStore := NewRPCStore(stack.Host)
	NewRPCRouter(rpcNode, config, signer, stack, metrics, rpcStore, logger)

	rpcListenAddr := ":8000"
	rpcListenEndpoint := "/ws"
	rpcMux := http.NewServeMux()
	rpcMux.Handle(rpcListenEndpoint, rpcNode)

	rpcServer := &http.Server{
		Addr:    rpcListenAddr,
		Handler: rpcMux,
	}

	metricsListenAddr := ":4242"
	metricsEndpoint := "/metrics"
	metricsMux := http.NewServeMux()
	metricsMux.Handle(metricsEndpoint, promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    metricsListenAddr,
		Handler: metricsMux,
	}

	go metrics.RecordMetricsPeriodically(ctx, stack.Ledger, logger)

	go func() {
		logger.Info("Prometheus metrics available", "listenAddr", metricsListenAddr, "endpoint", metricsEndpoint)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failure", "error", err)
		}
	}()

	go func() {
		logger.Info("RPC server available", "listenAddr", rpcListenAddr, "endpoint", rpcListenEndpoint)
		if err := rpcServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("RPC server failure", "error", err)
		}
	}()

	// Wait for shutdown signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down metrics server", "error", err)
	}

	shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down RPC server", "error", err)
	}

	if err := tracerProvider.Shutdown(context.Background()); err != nil {
		logger.Error("failed to shut down tracer provider", "error", err)
	}

	logger.Info("shutdown complete")
}

func runCli(logger log.Logger, name string) {
	switch name {
	case "export-invoices":
		runExportInvoicesCli(logger)
	case "list-invoices":
		runListInvoicesCli(logger)
	case "withdraw-fees":
		runWithdrawFeesCli(logger)
	default:
		logger.Fatal("Unknown CLI command", "name", name)
	}
}
