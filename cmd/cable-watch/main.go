// cable-watch runs a set of GraphQL operations over a cable endpoint and logs
// every result until interrupted.
//
// Usage:
//
//	CABLE_TOKEN=... go run ./cmd/cable-watch -config watch.yaml
//
// SIGHUP rebuilds the connection with a freshly read token. With a retry
// section configured, dropped or failed connections are rebuilt with
// exponential backoff. SIGINT and SIGTERM shut down.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	cablelink "github.com/andepants/daybreak-health-frontend-sub002"
)

func main() {
	configPath := flag.String("config", "cable-watch.yaml", "path to config file")
	flag.Parse()

	cfg, err := loadWatchConfig(*configPath)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	logger, err := newLogger(cfg.Logging, os.Stdout)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("configure logging")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("cable-watch failed")
	}
}

func run(cfg watchConfig, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics, err := cablelink.NewPrometheusCollector(reg)
	if err != nil {
		return err
	}

	client, err := cablelink.NewClient(cfg.Cable,
		cablelink.WithLogger(logger),
		cablelink.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	unwatch := client.OnStateChange(func(s cablelink.ConnectionState) {
		logger.Info().Str("state", s.String()).Msg("connection state")
	})
	defer unwatch()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Retry.enabled() {
		r := newRetrier(client, cfg.Retry, logger)
		unretry := client.OnStateChange(r.observe)
		defer unretry()
		g.Go(func() error { return r.run(ctx) })
	}

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				logger.Info().Msg("reconnect requested")
				if err := client.Reconnect(); err != nil {
					logger.Error().Err(err).Msg("reconnect failed")
				}
			}
		}
	})

	for _, opCfg := range cfg.Operations {
		opCfg := opCfg
		g.Go(func() error {
			return watch(ctx, client, opCfg, logger)
		})
	}

	return g.Wait()
}

// watch runs one operation until it ends or ctx is cancelled. A stream error
// is logged and does not stop the other operations.
func watch(ctx context.Context, client *cablelink.Client, opCfg operationConfig, logger zerolog.Logger) error {
	log := logger.With().Str("operation", opCfg.Name).Logger()
	done := make(chan struct{})

	sub := client.Execute(opCfg.operation()).Subscribe(cablelink.Observer{
		Next: func(r *cablelink.Result) {
			ev := log.Info().RawJSON("data", nonNull(r.Data))
			if len(r.Errors) > 0 {
				ev = ev.Int("errors", len(r.Errors)).Str("first_error", r.Errors[0].Message)
			}
			ev.Msg("result")
		},
		Error: func(err error) {
			log.Error().Err(err).Msg("operation failed")
			close(done)
		},
		Complete: func() {
			log.Info().Msg("operation complete")
			close(done)
		},
	})
	defer sub.Unsubscribe()

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

func nonNull(data []byte) []byte {
	if len(data) == 0 {
		return []byte("null")
	}
	return data
}
