// Package metrics instruments the simulation harness itself: events
// dispatched per engine, fills and rejects emitted by the matcher,
// delay-bus backlog, scheduler time-regression aborts, and account
// equity/position gauges. This is observability of the backtest runner,
// not a strategy performance calculator (out of scope per spec.md).
//
// The events-dispatched, dispatch-queue-length and delay-bus-backlog
// instruments are registered and exported, but nothing in this module
// updates them, so they always read zero. Observer updates the fill,
// reject and account instruments; cmd/backtest increments
// TimeRegressions.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the registry and the status/metrics HTTP server into the
// fx composition root.
var Module = fx.Options(
	fx.Provide(NewRegistry),
	fx.Provide(New),
	fx.Invoke(registerHTTPServer),
)

// Metrics holds every operational instrument the harness exposes.
type Metrics struct {
	EventsDispatched *prometheus.CounterVec
	DispatchQueueLen *prometheus.GaugeVec
	FillsEmitted     *prometheus.CounterVec
	OrdersRejected   *prometheus.CounterVec
	DelayBusBacklog  *prometheus.GaugeVec
	TimeRegressions  prometheus.Counter
	AccountEquity    *prometheus.GaugeVec
	AccountPosition  *prometheus.GaugeVec
}

// NewRegistry creates a fresh, isolated Prometheus registry (never the
// global default registry, so multiple runs in the same process don't
// collide).
func NewRegistry() *prometheus.Registry { return prometheus.NewRegistry() }

// New registers every instrument against reg and returns the bundle.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		EventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backtest",
			Name:      "events_dispatched_total",
			Help:      "Events dispatched per engine.",
		}, []string{"engine"}),
		DispatchQueueLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "backtest",
			Name:      "dispatch_queue_length",
			Help:      "Current FIFO queue depth per engine.",
		}, []string{"engine"}),
		FillsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backtest",
			Name:      "fills_emitted_total",
			Help:      "FILLED order events emitted by the matcher, by symbol.",
		}, []string{"symbol"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "backtest",
			Name:      "orders_rejected_total",
			Help:      "Orders rejected before RECEIVED, by reason.",
		}, []string{"reason"}),
		DelayBusBacklog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "backtest",
			Name:      "delay_bus_backlog",
			Help:      "Pending entries in a delay bus's heap.",
		}, []string{"bus"}),
		TimeRegressions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "backtest",
			Name:      "scheduler_time_regressions_total",
			Help:      "Fatal time-regression aborts raised by the scheduler.",
		}),
		AccountEquity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "backtest",
			Name:      "account_equity",
			Help:      "Current account equity, by side (server/client).",
		}, []string{"side"}),
		AccountPosition: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "backtest",
			Name:      "account_position",
			Help:      "Current position quantity, by side and symbol.",
		}, []string{"side", "symbol"}),
	}

	reg.MustRegister(
		m.EventsDispatched, m.DispatchQueueLen, m.FillsEmitted,
		m.OrdersRejected, m.DelayBusBacklog, m.TimeRegressions,
		m.AccountEquity, m.AccountPosition,
	)
	return m
}

// registerHTTPServer builds the small operator status/metrics server
// (/health, /status, /metrics), mirroring the teacher's cmd/tradsys
// health/ready/metrics endpoints but on gin rather than its full API
// router — this server is operator tooling, never part of the simulated
// exchange/strategy path (spec.md Non-goals: no network I/O in the
// simulation itself).
func registerHTTPServer(lc fx.Lifecycle, reg *prometheus.Registry, logger *zap.Logger, addr Addr) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "running", "time": time.Now().UTC()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	server := &http.Server{Addr: string(addr), Handler: router}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting status/metrics server", zap.String("addr", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("status/metrics server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping status/metrics server")
			return server.Shutdown(ctx)
		},
	})
}

// Addr is the fx-provided listen address for the status/metrics server,
// sourced from config.Config.Monitoring.HTTPAddr.
type Addr string
