// Copyright (c) 2026 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/pitaya-cluster/discovery/internal/config"
	"github.com/pitaya-cluster/discovery/internal/discovery"
	"github.com/pitaya-cluster/discovery/internal/lease"
	"github.com/pitaya-cluster/discovery/internal/membership"
	"github.com/pitaya-cluster/discovery/internal/metrics"
	"github.com/pitaya-cluster/discovery/internal/pathutil"
	"github.com/pitaya-cluster/discovery/internal/store"
	"github.com/pitaya-cluster/discovery/internal/tlsconfig"
)

// setupLogger sets the global logger with the provided logLevel, following
// cmd/maas-agent/main.go's setupLogger. If logLevel is unrecognized, INFO is
// used.
func setupLogger(logLevel string) {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true}
	consoleWriter.PartsOrder = []string{
		zerolog.LevelFieldName,
		zerolog.CallerFieldName,
		zerolog.MessageFieldName,
	}
	log.Logger = zerolog.New(consoleWriter).With().Timestamp().Logger()

	ll, err := zerolog.ParseLevel(logLevel)
	if err != nil || ll == zerolog.NoLevel {
		ll = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(ll)

	log.Info().Msgf("logger configured with log level %q", ll.String())
}

// setupMetrics wires a Prometheus exporter behind an OpenTelemetry meter
// provider and registers its scrape handler on mux, following
// cmd/maas-agent/main.go's setupMetrics.
func setupMetrics(mux *http.ServeMux) (metric.Meter, error) {
	exporter, err := otelprometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName("discoveryd")))
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	mux.Handle("/metrics", promhttp.Handler())

	return provider.Meter("discoveryd"), nil
}

// serveHTTP serves mux over a unix socket in the runtime directory, the same
// socket-activated shape cmd/maas-agent/main.go's setupHTTP uses for its
// agent-http.sock. The listener error (including a clean Shutdown) is sent
// on fatal.
func serveHTTP(mux *http.ServeMux, fatal chan<- error) {
	if err := os.MkdirAll(pathutil.RunDir(), 0o755); err != nil {
		fatal <- fmt.Errorf("creating run dir: %w", err)
		return
	}

	socketPath := path.Join(pathutil.RunDir(), "discoveryd-http.sock")

	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		fatal <- fmt.Errorf("removing stale socket: %w", err)
		return
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		fatal <- fmt.Errorf("listening on %s: %w", socketPath, err)
		return
	}

	//nolint:gosec // metrics socket, group-readable is intentional
	if err := os.Chmod(socketPath, 0o660); err != nil {
		fatal <- fmt.Errorf("chmod socket: %w", err)
		return
	}

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 60 * time.Second}

	fatal <- server.Serve(listener)
}

func startCmd(ctx context.Context) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "start",
		Short:        "Start the discovery daemon.",
		Example:      "discoveryd start --config /etc/discoveryd/discoveryd.yaml",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(ctx, configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", pathutil.ConfigPath("discoveryd.yaml"),
		"path to the discoveryd YAML configuration file")

	return cmd
}

// runStart loads configuration, dials the coordination store, starts the
// discovery engine, and blocks until either a background task dies or the
// process receives SIGTERM/SIGINT, mirroring
// cmd/maas-agent/main.go's Run's fatal-channel-or-signal select.
func runStart(ctx context.Context, configPath string) error {
	osFs := afero.NewOsFs()

	cfg, err := config.Load(osFs, configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	setupLogger(cfg.Observability.Logging.Level)

	fatal := make(chan error, 4)

	mux := http.NewServeMux()

	var meter metric.Meter

	if cfg.Observability.Metrics.Enabled {
		meter, err = setupMetrics(mux)
		if err != nil {
			return fmt.Errorf("setting up metrics: %w", err)
		}

		go serveHTTP(mux, fatal)
	}

	tlsCfg, err := tlsconfig.Build(osFs, tlsconfig.Config{
		CertFile: cfg.TLS.CertFile,
		KeyFile:  cfg.TLS.KeyFile,
		CAFile:   cfg.TLS.CAFile,
	})
	if err != nil {
		return fmt.Errorf("building TLS config: %w", err)
	}

	storeOpts := []store.EtcdOption{store.WithDialTimeout(5 * time.Second)}
	if tlsCfg != nil {
		storeOpts = append(storeOpts, store.WithTLS(tlsCfg))
	}

	var s store.Store

	dialBackoff := backoff.NewExponentialBackOff()
	dialBackoff.MaxElapsedTime = 60 * time.Second

	err = backoff.Retry(func() error {
		s, err = store.NewEtcdStore(cfg.Endpoints, storeOpts...)
		return err
	}, dialBackoff)
	if err != nil {
		return fmt.Errorf("dialing coordination store: %w", err)
	}

	defer s.Close()

	leaseStatePath := pathutil.DataPath("lease-id")

	if err := os.MkdirAll(pathutil.DataDir(), 0o755); err != nil {
		log.Warn().Err(err).Msg("failed to create data dir for lease state")
	}

	if err := lease.RecoverAndRevoke(ctx, s, osFs, leaseStatePath); err != nil {
		log.Warn().Err(err).Msg("failed to recover and revoke stale lease")
	}

	opts := []discovery.Option{
		discovery.WithSelf(membership.Server{
			ID:       membership.ServerId(cfg.Self.ID),
			Kind:     membership.ServerKind(cfg.Self.Kind),
			Hostname: cfg.Self.Hostname,
			Frontend: cfg.Self.Frontend,
			Metadata: cfg.Self.Metadata,
		}),
		discovery.WithLeaseStatePersistence(osFs, leaseStatePath),
	}

	var recorder *metrics.Recorder

	if meter != nil {
		recorder, err = metrics.NewRecorder(meter)
		if err != nil {
			return fmt.Errorf("setting up metrics recorder: %w", err)
		}

		opts = append(opts, discovery.WithMetrics(recorder))
	}

	f := discovery.New(s, cfg.Prefix, cfg.LeaseTTL, opts...)

	if recorder != nil {
		if err := recorder.ObserveMembership(meter, f.Counts); err != nil {
			return fmt.Errorf("registering membership gauge: %w", err)
		}
	}

	return runEngine(ctx, f, fatal)
}

// runEngine starts f and blocks until a background task dies or the process
// receives SIGTERM/SIGINT, then stops f cleanly.
func runEngine(ctx context.Context, f *discovery.Facade, fatal chan error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := f.Start(runCtx, fatal); err != nil {
		return fmt.Errorf("starting discovery engine: %w", err)
	}

	log.Info().Msg("discoveryd started")

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	var runErr error

	select {
	case err := <-fatal:
		log.Err(err).Msg("service failure")
		runErr = err
	case <-sigs:
		log.Info().Msg("received shutdown signal")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	f.Stop(stopCtx)

	return runErr
}
