// Command relaymqd runs one broker node: config load, structured logging,
// the consensus engine, the Node Facade, the Prometheus /metrics endpoint,
// and (optionally) a messaging gateway ingress bridging an in-process
// memory transport into SendMessage.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	durmemory "github.com/chris-alexander-pop/relaymq/pkg/broker/durability/adapters/memory"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/gateway"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/metrics"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/node"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/topic"
	"github.com/chris-alexander-pop/relaymq/pkg/config"
	single "github.com/chris-alexander-pop/relaymq/pkg/consensus/adapters/single"
	"github.com/chris-alexander-pop/relaymq/pkg/logger"
	msgmemory "github.com/chris-alexander-pop/relaymq/pkg/messaging/adapters/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NodeConfig is this process's environment-sourced configuration, loaded
// through pkg/config the same way every pkg/config consumer in this
// module does.
type NodeConfig struct {
	Logger       logger.Config
	MetricsAddr  string        `env:"METRICS_ADDR" env-default:":9090"`
	BootstrapTop string        `env:"BOOTSTRAP_TOPIC" env-default:""`
	ShutdownWait time.Duration `env:"SHUTDOWN_WAIT" env-default:"5s"`
}

func main() {
	var cfg NodeConfig
	if err := config.Load(&cfg); err != nil {
		panic(err)
	}

	logger.Init(cfg.Logger)
	log := logger.L()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New()
	m.MustRegister(reg)

	dur := durmemory.New()
	engine := single.New()

	n := node.New(broker.NewNodeId(), engine, dur, m, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.BootstrapTop != "" {
		if _, err := n.LoadTopic(ctx, broker.TopicCode(cfg.BootstrapTop), topic.Config{}); err != nil {
			log.Error("relaymqd: bootstrap topic load failed", "topic", cfg.BootstrapTop, "error", err)
		} else {
			log.Info("relaymqd: bootstrap topic loaded", "topic", cfg.BootstrapTop)
		}
	}

	stopGateway := startLoopbackGateway(ctx, n, broker.TopicCode(cfg.BootstrapTop))
	defer stopGateway()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		log.Info("relaymqd: metrics server listening", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("relaymqd: metrics server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("relaymqd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownWait)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// startLoopbackGateway wires an in-memory messaging transport as this
// node's ingress through gateway.Ingress. The transport is created here and
// no producer handle to it leaves this function, so nothing outside it
// publishes into the gateway. A deployment that takes messages from other
// processes points gateway.NewIngress at a Kafka or NATS consumer instead
// (see pkg/messaging/adapters).
func startLoopbackGateway(ctx context.Context, n *node.Node, topicCode broker.TopicCode) func() {
	if topicCode == "" {
		return func() {}
	}
	transport := msgmemory.New(msgmemory.Config{BufferSize: 256})
	consumer, err := transport.Consumer(string(topicCode), "relaymqd")
	if err != nil {
		logger.L().Error("relaymqd: gateway consumer setup failed", "error", err)
		return func() {}
	}
	ingress := gateway.NewIngress(n, consumer, gateway.Config{
		Topic:      topicCode,
		TargetKind: broker.TargetDurable,
		AckKind:    broker.AckSent,
	})

	gctx, cancel := context.WithCancel(ctx)
	go func() {
		if err := ingress.Run(gctx); err != nil && gctx.Err() == nil {
			logger.L().Error("relaymqd: gateway ingress stopped", "error", err)
		}
	}()
	return cancel
}
