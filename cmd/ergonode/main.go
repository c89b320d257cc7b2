package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"

	"github.com/ergo-services/erldist/lib"
	"github.com/ergo-services/erldist/node"
)

func main() {
	var (
		config      string
		name        string
		cookie      string
		port        uint16
		epmdHost    string
		hidden      bool
		useHostname bool
		connect     []string
		metricsAddr string
		verbose     bool
	)
	flags := pflag.NewFlagSet("ergonode", pflag.ExitOnError)
	flags.StringVarP(&config, "config", "c", "", "YAML file with the node options")
	flags.StringVarP(&name, "name", "n", "", "Node name (name or name@host)")
	flags.StringVar(&cookie, "cookie", "", "Cluster cookie, ~/.erlang.cookie is used if empty")
	flags.Uint16VarP(&port, "port", "p", 0, "Listening port, a free one if 0")
	flags.StringVar(&epmdHost, "epmd", "", "Host of the name service")
	flags.BoolVar(&hidden, "hidden", false, "Start as a hidden node")
	flags.BoolVar(&useHostname, "use-hostname", false, "Use the host name instead of the IP address in the node name")
	flags.StringSliceVar(&connect, "connect", nil, "Peers to connect to on start")
	flags.StringVar(&metricsAddr, "metrics", "", "Address to serve the prometheus metrics on")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log debug messages")
	flags.Parse(os.Args[1:])

	log, err := newLogger(verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	options := node.DefaultOptions()
	if config != "" {
		if options, err = node.LoadConfig(config); err != nil {
			log.Fatal("Can't load config", zap.Error(err))
		}
	}
	if flags.Changed("name") {
		options.Name = name
	}
	if useHostname && options.Name != "" && !strings.Contains(options.Name, "@") {
		options.Name += "@" + lib.Hostname()
	}
	if flags.Changed("cookie") {
		options.Cookie = cookie
	}
	if flags.Changed("port") {
		options.Port = port
	}
	if flags.Changed("epmd") {
		options.EPMDHost = epmdHost
	}
	if flags.Changed("hidden") {
		options.Hidden = hidden
	}

	registry := prometheus.NewRegistry()
	options.Metrics = node.NewMetricsWithRegisterer(node.DefaultNamespace, registry)

	ctx, cancel := signal.NotifyContext(logger.WithLogger(context.Background(), log), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("node", parallel.Fail, func(ctx context.Context) error {
			return run(ctx, options, connect)
		})
		if metricsAddr != "" {
			spawn("metrics", parallel.Fail, func(ctx context.Context) error {
				return serveMetrics(ctx, metricsAddr, registry)
			})
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Node failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, options node.Options, peers []string) error {
	n, err := node.Start(ctx, options)
	if err != nil {
		return err
	}

	log := logger.Get(ctx).With(zap.String("node", n.Name()))
	for _, peer := range peers {
		if err := n.Connect(ctx, peer); err != nil {
			log.Warn("Can't connect", zap.String("peer", peer), zap.Error(err))
		}
	}

	<-ctx.Done()
	if err := n.Stop(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return errors.WithStack(ctx.Err())
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		server.Close()
	})
	defer stop()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WithStack(err)
	}
	return errors.WithStack(ctx.Err())
}

func newLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return config.Build()
}
