// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package culvert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/zap"

	"github.com/xmidt-org/culvert/internal/buffer"
	"github.com/xmidt-org/culvert/internal/client"
	"github.com/xmidt-org/culvert/internal/handler"
	"github.com/xmidt-org/culvert/internal/metrics"
	"github.com/xmidt-org/culvert/internal/mirror"
	"github.com/xmidt-org/culvert/internal/resolver"
	"github.com/xmidt-org/culvert/internal/sink"
)

const applicationName = "culvert"

// Run is the driver function for the culvert service.  It performs everything
// main() would do, except for obtaining the command line arguments (which are
// passed to it).
func Run(arguments []string) int {
	var (
		f          = pflag.NewFlagSet(applicationName, pflag.ContinueOnError)
		configFile = f.StringP("file", "f", "", "configuration file to use")
		dev        = f.BoolP("dev", "d", false, "run in development mode")
	)
	if err := f.Parse(arguments); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Unable to parse arguments: %s\n", err)
		return 1
	}

	v := viper.New()
	applyDefaults(v)
	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName(applicationName)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/" + applicationName)
	}
	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read configuration: %s\n", err)
		return 1
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to unmarshal configuration data into struct: %s\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %s\n", err)
		return 1
	}

	logger, err := provideLogger(*dev, cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to create logger: %s\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("configuration loaded", zap.String("file", v.ConfigFileUsed()))

	registry := prometheus.NewRegistry()
	tf := touchstone.NewFactory(cfg.Prometheus, logger, registry)
	m, err := metrics.New(tf)
	if err != nil {
		logger.Error("unable to register metrics", zap.Error(err))
		return 1
	}

	wrapper, err := client.NewMetricWrapper(time.Now, m.QueryLatency)
	if err != nil {
		logger.Error("unable to create client instrumentation", zap.Error(err))
		return 1
	}
	doer := wrapper.RoundTripper(client.New(cfg.Sink.Client))

	pool := resolver.New(cfg.Sink.HostResolveTTL(), logger,
		resolver.WithFailureCounter(m.ResolveErrors))

	var engineOpts []sink.Option
	if cfg.Mirror.Enabled {
		kc, err := mirror.NewClient(cfg.Mirror, logger)
		if err != nil {
			logger.Error("unable to create stream mirror client", zap.Error(err))
			return 1
		}
		mir, err := mirror.New(cfg.Mirror, kc, logger, m.MirrorFailures)
		if err != nil {
			logger.Error("unable to create stream mirror", zap.Error(err))
			return 1
		}
		engineOpts = append(engineOpts, sink.WithMirror(mir))
	}

	engine, err := sink.New(cfg.Sink, doer, pool, logger, m, engineOpts...)
	if err != nil {
		logger.Error("unable to create delivery engine", zap.Error(err))
		return 1
	}

	buf := buffer.New(cfg.Sink.FlushSize, cfg.Sink.IdleFlush(), engine, m, logger)
	buf.Start()

	sh := handler.New(buf, m, cfg.MaxOutstanding)

	servers := []*http.Server{
		{Addr: cfg.Servers.Primary.Address, Handler: newPrimaryRouter(logger, sh)},
		{Addr: cfg.Servers.Metrics.Address, Handler: newMetricsRouter(cfg.Servers.Metrics.Path, registry)},
		{Addr: cfg.Servers.Health.Address, Handler: newHealthRouter(cfg.Servers.Health.Path)},
	}

	serverErrors := make(chan error, len(servers))
	for _, s := range servers {
		go func(s *http.Server) {
			logger.Info("server listening", zap.String("address", s.Addr))
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- err
			}
		}(s)
	}

	logger.Info("culvert is up and running")

	exitCode := 0
	signals := make(chan os.Signal, 10)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-signals:
		logger.Info("exiting due to signal", zap.Any("signal", s))
	case err := <-serverErrors:
		logger.Error("server exited", zap.Error(err))
		exitCode = 1
	}

	// stop accepting requests, then flush queued events and wait for the
	// in-flight deliveries before exiting
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", zap.Error(err))
		}
	}

	buf.Stop()
	if !engine.Drain(cfg.Sink.Drain()) {
		logger.Warn("drain timeout elapsed with deliveries still in flight",
			zap.Duration("timeout", cfg.Sink.Drain()))
	}

	return exitCode
}
