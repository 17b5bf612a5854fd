package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cablabs/mpic-coordinator/internal/caachecker"
	"github.com/cablabs/mpic-coordinator/internal/config"
	"github.com/cablabs/mpic-coordinator/internal/coordinator"
	"github.com/cablabs/mpic-coordinator/internal/httpapi"
	"github.com/cablabs/mpic-coordinator/internal/logging"
	"github.com/cablabs/mpic-coordinator/internal/metrics"
	"github.com/cablabs/mpic-coordinator/internal/mpictypes"
	"github.com/cablabs/mpic-coordinator/internal/remoteperspective"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Args:  cobra.NoArgs,
	Short: "Run the coordinator's HTTP server",
	Long:  `Loads the coordinator configuration and serves POST /mpic, GET /healthz, and GET /metrics.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := logging.LogLevel(cfg.Logging.Level)
	if verbose {
		logLevel = logging.LogLevelDebug
	}
	logger := logging.NewLogger(logging.LoggerConfig{
		Level:  logLevel,
		Format: logging.LogFormat(cfg.Logging.Format),
		Output: os.Stdout,
	})
	logger.Info("mpic-coordinator starting", "version", version)

	registerer := prometheus.NewRegistry()
	metricSet := metrics.NewSet(registerer)

	remoteClient := remoteperspective.NewClient(cfg.Perspectives.Endpoints)
	localChecker := caachecker.NewChecker(
		caachecker.NewDNSResolver(cfg.CAA.DNSServers, cfg.CAA.DNSTimeout.Duration()),
		cfg.CAA.DefaultCAADomains,
	)

	caller := buildRemoteCaller(cfg, remoteClient, localChecker, logger)

	coordCfg := coordinator.Config{
		KnownPerspectives:       cfg.Perspectives.KnownPerspectives,
		DefaultPerspectiveCount: cfg.Orchestration.DefaultPerspectiveCount,
		EnforceDistinctRIR:      cfg.Orchestration.EnforceDistinctRIR,
		GlobalMaxAttempts:       cfg.Orchestration.GlobalMaxAttempts,
		HashSecret:              []byte(cfg.Orchestration.HashSecret),
		Logger:                  logger,
	}

	coord, err := coordinator.New(caller, coordCfg, metricSet)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	server := httpapi.New(coord, logger, promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}))

	logger.Info("listening", "addr", cfg.Server.ListenAddr)
	return http.ListenAndServe(cfg.Server.ListenAddr, server)
}

// buildRemoteCaller dispatches to a remote HTTP perspective when one is
// configured in perspectives.endpoints, and otherwise falls back to the
// coordinator process's own local CAA checker -- useful for a single-node
// deployment where this process also plays one or more perspectives.
func buildRemoteCaller(cfg *config.Config, remote *remoteperspective.Client, local *caachecker.Checker, logger *logging.Logger) func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
	return func(ctx context.Context, perspectiveCode string, checkType mpictypes.CheckType, req mpictypes.CheckRequest) (mpictypes.CheckResponse, error) {
		if _, configured := cfg.Perspectives.Endpoints[perspectiveCode]; configured {
			return remote.Call(ctx, perspectiveCode, checkType, req)
		}
		if checkType == mpictypes.CheckTypeCAA {
			return local.Check(ctx, req, time.Now().UnixNano(), perspectiveCode), nil
		}
		logger.WithPerspective(perspectiveCode).Warn("no endpoint configured for perspective and check type is not CAA", "check_type", checkType)
		return mpictypes.CheckResponse{}, fmt.Errorf("no endpoint configured for perspective %q", perspectiveCode)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
