package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainhook/pipeline/pkg/config"
	"github.com/chainhook/pipeline/pkg/configcache"
	"github.com/chainhook/pipeline/pkg/deadletter"
	"github.com/chainhook/pipeline/pkg/delivery"
	"github.com/chainhook/pipeline/pkg/log"
	"github.com/chainhook/pipeline/pkg/metrics"
	"github.com/chainhook/pipeline/pkg/security"
	"github.com/chainhook/pipeline/pkg/supervisor"
	"github.com/chainhook/pipeline/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Multi-chain blockchain-event webhook pipeline",
	Long: `pipeline subscribes to EVM-compatible chains, deduplicates and
matches freshly mined log events against user-configured webhook
subscriptions, and delivers signed HTTP payloads with bounded retry,
rate limiting and circuit breaking.`,
	Version: Version,
	RunE:    runPipeline,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("pipeline version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("chains-file", "./chains.yaml", "Path to the static chain list")
	rootCmd.PersistentFlags().String("http-listen-addr", ":9090", "Address for the metrics/health HTTP surface")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}

func runPipeline(cmd *cobra.Command, args []string) error {
	chainsFile, _ := cmd.Flags().GetString("chains-file")
	httpAddr, _ := cmd.Flags().GetString("http-listen-addr")

	cfg := config.LoadFromEnv(config.Default())
	cfg.ChainsFile = chainsFile
	cfg.HTTPListenAddr = httpAddr
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	chains, err := config.LoadChains(cfg.ChainsFile)
	if err != nil {
		return fmt.Errorf("failed to load chains: %w", err)
	}
	if len(chains) == 0 {
		return fmt.Errorf("chains file %q defines no chains", cfg.ChainsFile)
	}

	secrets, err := security.NewSecretsManager([]byte(cfg.EncryptionKey))
	if err != nil {
		return fmt.Errorf("failed to initialize secrets manager: %w", err)
	}

	cacheStore, err := configcache.NewStore(cfg.PostgresDSN, secrets)
	if err != nil {
		return fmt.Errorf("failed to connect to configuration store: %w", err)
	}
	defer cacheStore.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	dlq, err := deadletter.Open(cfg.DeadLetterDir)
	if err != nil {
		return fmt.Errorf("failed to open dead-letter store: %w", err)
	}
	defer dlq.Close()

	audit := func(a types.DeliveryAttempt) {
		log.WithEvent(a.EventID).Info().
			Str("endpoint_id", a.EndpointID).
			Int("attempt", a.Attempt).
			Str("outcome", string(a.Outcome)).
			Int("http_status", a.HTTPStatus).
			Dur("duration", a.Duration).
			Msg("delivery attempt")
	}

	sup := supervisor.New(cfg, chains, redisClient, cacheStore, dlq, delivery.AuditFunc(audit))

	metrics.SetVersion(Version)
	metrics.RegisterComponent("postgres", true, "connected")

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(cfg.HTTPListenAddr, mux); err != nil {
			log.WithComponent("http").Error().Err(err).Msg("metrics server stopped")
		}
	}()
	log.WithComponent("pipeline").Info().
		Str("listen_addr", cfg.HTTPListenAddr).
		Int("chains", len(chains)).
		Msg("pipeline starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.WithComponent("pipeline").Info().Msg("received shutdown signal")
		cancel()
	}()

	return sup.Run(ctx)
}
