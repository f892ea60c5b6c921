// Command tracker runs the fabric's UDP directory server.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dannyzb/p2pfabric/config"
	"github.com/dannyzb/p2pfabric/tracker"
)

type args struct {
	Addr        string `arg:"--addr" help:"UDP listen address"`
	MetricsAddr string `arg:"--metrics-addr" help:"address to serve Prometheus metrics on, empty disables"`
	Debug       bool   `arg:"--debug" help:"enable debug logging"`
}

func (args) Version() string {
	return "p2pfabric-tracker"
}

func main() {
	defer envpprof.Stop()

	a := args{Addr: net.JoinHostPort("", strconv.Itoa(config.TrackerPort))}
	arg.MustParse(&a)

	logger := log.Default.WithNames("tracker")
	if a.Debug {
		logger = logger.WithDefaultLevel(log.Debug)
	}

	reg := prometheus.NewRegistry()
	s, err := tracker.NewServer(a.Addr, logger, reg)
	if err != nil {
		logger.Levelf(log.Critical, "start tracker: %v", err)
		os.Exit(1)
	}

	if a.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(a.MetricsAddr, mux); err != nil {
				logger.Levelf(log.Error, "metrics server: %v", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Levelf(log.Info, "tracker listening on %s", s.Addr())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Levelf(log.Error, "serve: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		logger.Levelf(log.Error, "close: %v", err)
	}
}
