package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/chainbill/invoicenode/ledger"
	"github.com/chainbill/invoicenode/pkg/log"
	"github.com/chainbill/invoicenode/pkg/rpc"
)

// Metrics contains all Prometheus metrics for the application
type Metrics struct {
	// WebSocket connection metrics
	ConnectedClients prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	Subscriptions    prometheus.Counter
	MessageReceived  prometheus.Counter
	MessageSent      prometheus.Counter

	// RPC method metrics
	RPCRequests *prometheus.CounterVec

	// Ledger metrics
	LedgerOperations    *prometheus.CounterVec
	Invoices            *prometheus.GaugeVec
	ContractBalance     prometheus.Gauge
	EscrowedDisputeFees prometheus.Gauge
	Paused              prometheus.Gauge
}

// NewMetrics initializes and registers Prometheus metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes and registers Prometheus metrics with a custom registry
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	metrics := &Metrics{
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "invoicenode_connected_clients",
			Help: "The current number of connected clients",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "invoicenode_connections_total",
			Help: "The total number of WebSocket connections made since server start",
		}),
		Subscriptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "invoicenode_subscriptions_total",
			Help: "The total number of connections bound to an address",
		}),
		MessageReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "invoicenode_ws_messages_received_total",
			Help: "The total number of WebSocket messages received",
		}),
		MessageSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "invoicenode_ws_messages_sent_total",
			Help: "The total number of WebSocket messages sent",
		}),
		RPCRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicenode_rpc_requests_total",
				Help: "The total number of RPC requests by method",
			},
			[]string{"method", "status"},
		),
		LedgerOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "invoicenode_ledger_operations_total",
				Help: "The total number of state-changing ledger calls by outcome",
			},
			[]string{"operation", "result"},
		),
		Invoices: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "invoicenode_invoices",
			Help: "The number of invoices",
		},
			[]string{"status"},
		),
		ContractBalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "invoicenode_contract_balance",
			Help: "Native coin held by the ledger contract, in the smallest unit",
		}),
		EscrowedDisputeFees: factory.NewGauge(prometheus.GaugeOpts{
			Name: "invoicenode_escrowed_dispute_fees",
			Help: "Dispute fees held for open disputes, in the smallest unit",
		}),
		Paused: factory.NewGauge(prometheus.GaugeOpts{
			Name: "invoicenode_ledger_paused",
			Help: "1 while the ledger is paused",
		}),
	}

	return metrics
}

func (m *Metrics) HandleConnect(send rpc.SendResponseFunc) {
	m.ConnectionsTotal.Inc()
	m.ConnectedClients.Inc()
}

func (m *Metrics) HandleDisconnect(userID string) {
	m.ConnectedClients.Dec()
}

func (m *Metrics) HandleMessageSent([]byte) {
	m.MessageSent.Inc()
}

// ObserveLedgerOperation counts a ledger call. Rejections are labelled with
// their error kind.
func (m *Metrics) ObserveLedgerOperation(op string, err error) {
	result := "success"
	if err != nil {
		result = ledger.KindOf(err).String()
	}
	m.LedgerOperations.WithLabelValues(op, result).Inc()
}

// RecordMetricsPeriodically refreshes the ledger gauges until ctx is done.
func (m *Metrics) RecordMetricsPeriodically(ctx context.Context, l *ledger.InvoiceLedger, logger log.Logger) {
	logger = logger.WithName("metrics")
	ctx = log.SetContextLogger(ctx, logger)

	dbTicker := time.NewTicker(15 * time.Second)
	defer dbTicker.Stop()

	balanceTicker := time.NewTicker(30 * time.Second)
	defer balanceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-dbTicker.C:
			m.UpdateInvoiceMetrics(ctx, l)
		case <-balanceTicker.C:
			m.UpdateContractMetrics(ctx, l)
		}
	}
}

func (m *Metrics) UpdateInvoiceMetrics(ctx context.Context, l *ledger.InvoiceLedger) {
	counts, err := l.CountByStatus(ctx)
	if err != nil {
		log.FromContext(ctx).Error("failed to count invoices", "error", err)
		return
	}

	m.Invoices.Reset()
	for status, count := range counts {
		m.Invoices.WithLabelValues(status.String()).Set(float64(count))
	}
}

func (m *Metrics) UpdateContractMetrics(ctx context.Context, l *ledger.InvoiceLedger) {
	logger := log.FromContext(ctx)

	balance, err := l.ContractBalance(ctx)
	if err != nil {
		logger.Error("failed to read contract balance", "error", err)
		return
	}
	m.ContractBalance.Set(balance.InexactFloat64())

	params, err := l.Params(ctx)
	if err != nil {
		logger.Error("failed to read ledger params", "error", err)
		return
	}
	m.EscrowedDisputeFees.Set(params.EscrowedDisputeFees.InexactFloat64())
	if params.Paused {
		m.Paused.Set(1)
	} else {
		m.Paused.Set(0)
	}
}
