package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cometbft/cometbft/abci/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"plinkochain/internal/app"
	"plinkochain/internal/config"
	"plinkochain/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	var (
		home        = flag.String("home", cfg.Home, "app home directory (state will be stored under <home>/app)")
		addr        = flag.String("addr", cfg.ListenAddr, "ABCI listen address")
		transport   = flag.String("transport", cfg.Transport, "ABCI transport (socket|grpc)")
		metricsAddr = flag.String("metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (empty to disable)")
		logLevel    = flag.String("log-level", cfg.LogLevel, "log level (trace|debug|info|warn|error)")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "plinkod").Logger()

	metrics.Init()
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	a, err := app.New(*home, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init app")
	}

	srv, err := server.NewServer(*addr, *transport, a)
	if err != nil {
		log.Fatal().Err(err).Msg("create abci server")
	}

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("start abci server")
	}
	defer func() { _ = srv.Stop() }()

	log.Info().Str("addr", *addr).Str("transport", *transport).Msg("abci server listening")

	// Wait for signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")
}
