package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/outofforest/logger"

	"github.com/ergo-services/erldist/epmd"
)

func main() {
	var (
		listen  uint16
		names   bool
		host    string
		port    uint16
		verbose bool
	)
	flags := pflag.NewFlagSet("epmd", pflag.ExitOnError)
	flags.Uint16Var(&listen, "listen", epmd.DefaultPort, "Let epmd listen to another port than default 4369")
	flags.BoolVar(&names, "names", false, "List names registered with the currently running epmd")
	flags.StringVar(&host, "epmd", "127.0.0.1", "(for commands) Hostname with running epmd server")
	flags.Uint16Var(&port, "port", epmd.DefaultPort, "(for commands) Port with running epmd server")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log debug messages")
	flags.Parse(os.Args[1:])

	log, err := newLogger(verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(logger.WithLogger(context.Background(), log), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if names {
		err = printNames(ctx, host, port)
	} else {
		err = serve(ctx, listen)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("epmd failed", zap.Error(err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, port uint16) error {
	ls, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(int(port))))
	if err != nil {
		return errors.WithStack(err)
	}
	return epmd.NewServer().Serve(ctx, ls)
}

func printNames(ctx context.Context, host string, port uint16) error {
	epmdPort, names, err := epmd.NewClient(host, port).Names(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("epmd: up and running on port %d with data:\n", epmdPort)
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.DisableStacktrace = true
	if !verbose {
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return config.Build()
}
