// Package main is the entry point for the decisiond binary: the policy
// decision engine daemon plus a what-if CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aegisgov/decision-engine/internal/resilience"
	"github.com/aegisgov/decision-engine/pkg/audit"
	"github.com/aegisgov/decision-engine/pkg/cache"
	"github.com/aegisgov/decision-engine/pkg/config"
	"github.com/aegisgov/decision-engine/pkg/domain"
	"github.com/aegisgov/decision-engine/pkg/engine"
	"github.com/aegisgov/decision-engine/pkg/httpapi"
	"github.com/aegisgov/decision-engine/pkg/logging"
	"github.com/aegisgov/decision-engine/pkg/policy"
	"github.com/aegisgov/decision-engine/pkg/repository"
	"github.com/aegisgov/decision-engine/pkg/resolver"
	"github.com/aegisgov/decision-engine/pkg/scoring"
	"github.com/aegisgov/decision-engine/pkg/telemetry"
)

const (
	defaultConfigPath        = "config.yaml"
	telemetryShutdownTimeout = 5 * time.Second
	gracefulShutdownTimeout  = 10 * time.Second
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "decisiond",
		Short: "Real-time policy decision engine",
		Long: `decisiond evaluates access requests against the active governance
policy set and returns an auditable ALLOW, DENY, or REVIEW decision with a
full explainability trace.`,
	}
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to configuration file")
	rootCmd.AddCommand(newServeCmd(), newSimulateCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the decision API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	return cmd
}

func newSimulateCmd() *cobra.Command {
	var requestPath, policiesPath string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Evaluate one request against a candidate policy file without caching or auditing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runSimulate(cmd.Context(), cfg, requestPath, policiesPath)
		},
	}
	cmd.Flags().StringVarP(&requestPath, "request", "r", "", "Path to an evaluation request JSON file")
	cmd.Flags().StringVarP(&policiesPath, "policies", "p", "", "Path to a candidate policy YAML file (defaults to the configured file)")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logging.New(logging.Config{Level: cfg.Logging.Level, Pretty: cfg.Logging.Pretty})
	log.Info().Str("policy_file", cfg.Policies.File).Str("fail_mode", cfg.Engine.FailMode).Msg("starting decisiond")

	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "decisiond",
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	repo, err := repository.NewFileRepository(ctx, cfg.Policies.File, log)
	if err != nil {
		return fmt.Errorf("policy repository initialization failed: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Error().Err(err).Msg("policy repository close failed")
		}
	}()

	eng, auditWriter, err := buildEngine(cfg, repo, log)
	if err != nil {
		return err
	}
	defer auditWriter.Close()

	handler := httpapi.NewHandler(eng, log)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", otelhttp.NewHandler(handler.Routes(), "decision-api"))

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("decision API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runSimulate(ctx context.Context, cfg *config.Config, requestPath, policiesPath string) error {
	log := logging.New(logging.Config{Level: "warn", Pretty: true})

	// #nosec G304 -- request path comes from the operator's command line
	data, err := os.ReadFile(requestPath)
	if err != nil {
		return fmt.Errorf("read request file: %w", err)
	}
	var req domain.EvaluationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parse request file: %w", err)
	}

	if policiesPath == "" {
		policiesPath = cfg.Policies.File
	}
	repo, err := repository.NewFileRepository(ctx, policiesPath, log)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	candidate, _, err := repo.ActivePolicies(ctx, domain.ScopeHint{})
	if err != nil {
		return err
	}

	eng, auditWriter, err := buildEngine(cfg, repo, log)
	if err != nil {
		return err
	}
	defer auditWriter.Close()

	decision, err := eng.Simulate(ctx, req, candidate)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func buildEngine(cfg *config.Config, repo domain.PolicyRepository, log zerolog.Logger) (*engine.Engine, *audit.Writer, error) {
	evaluator, err := policy.NewEvaluator(policy.EvaluatorConfig{
		DefaultDecision:   cfg.DefaultDecision(),
		PredicateTimeout:  cfg.Engine.PredicateTimeout.Std(),
		ScorerTimeout:     cfg.Engine.ScorerTimeout.Std(),
		DefaultTTLSeconds: cfg.Engine.DefaultTTLSeconds,
	}, scoring.NewWeightedScorer())
	if err != nil {
		return nil, nil, err
	}

	failStrategy, err := engine.NewFailStrategy(cfg.Engine.FailMode)
	if err != nil {
		return nil, nil, err
	}

	auditWriter := audit.NewWriter(audit.LogSink{Log: log}, audit.WriterConfig{}, log)

	eng, err := engine.New(engine.Config{
		RequestTimeout:           cfg.Engine.RequestTimeout.Std(),
		BatchConcurrency:         cfg.Engine.BatchConcurrency,
		FingerprintContextFields: cfg.Engine.FingerprintContextFields,
		CacheReviewDecisions:     cfg.Engine.CacheReviewDecisions,
		Retry:                    resilience.DefaultRetryConfig(),
	}, engine.Options{
		Repository:   repo,
		Resolver:     resolver.New(nil, resolver.Config{ProviderTimeout: cfg.Engine.ProviderTimeout.Std(), Ceiling: cfg.Engine.ResolveCeiling.Std()}, log),
		Evaluator:    evaluator,
		Cache:        cache.New(cfg.Engine.CacheEntries),
		Audit:        auditWriter,
		FailStrategy: failStrategy,
		Breaker:      resilience.NewBreaker(resilience.DefaultBreakerConfig()),
		Log:          log,
	})
	if err != nil {
		return nil, nil, err
	}
	return eng, auditWriter, nil
}
