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

	"github.com/Sternrassler/adfetch/pkg/blob"
	"github.com/Sternrassler/adfetch/pkg/client"
	"github.com/Sternrassler/adfetch/pkg/fetchstate"
	"github.com/Sternrassler/adfetch/pkg/ingest"
	"github.com/Sternrassler/adfetch/pkg/logging"
	"github.com/Sternrassler/adfetch/pkg/metrics"
	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// config is read from the environment.
type config struct {
	Vendor  string `env:"VENDOR,required,notEmpty"`
	BaseURL string `env:"BASE_URL,required,notEmpty"`
	Token   string `env:"TOKEN"`

	UserAgent string `env:"USER_AGENT" envDefault:"adfetch/0.1.0"`
	RedisURL  string `env:"REDIS_URL" envDefault:"localhost:6379"`
	Port      string `env:"PORT" envDefault:"8080"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	// Workflow is "paging" or "async".
	Workflow         string `env:"WORKFLOW" envDefault:"paging"`
	WorkItemsFile    string `env:"WORK_ITEMS_FILE,required"`
	VendorConfigFile string `env:"VENDOR_CONFIG_FILE,required"`

	MaxDOP             int           `env:"MAX_DOP" envDefault:"4"`
	PermittedPerWindow int           `env:"PERMITTED_PER_WINDOW" envDefault:"0"`
	Window             time.Duration `env:"WINDOW" envDefault:"1s"`
	MaxRuntime         time.Duration `env:"MAX_RUNTIME" envDefault:"0s"`

	RetryMaxAttempts  int      `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryHeaders      []string `env:"RETRY_HEADERS" envSeparator:"," envDefault:"Retry-After"`
	RetryClientErrors bool     `env:"RETRY_CLIENT_ERRORS" envDefault:"false"`

	UsageHeader      string        `env:"USAGE_HEADER"`
	UsageFields      []string      `env:"USAGE_FIELDS" envSeparator:","`
	ResetHeader      string        `env:"RESET_HEADER"`
	ResetField       string        `env:"RESET_FIELD"`
	UsageDefaultWait time.Duration `env:"USAGE_DEFAULT_WAIT" envDefault:"0s"`
	UsageMaxAge      time.Duration `env:"USAGE_MAX_AGE" envDefault:"0s"`

	PollMaxAttempts int           `env:"POLL_MAX_ATTEMPTS" envDefault:"0"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"0s"`

	StateRetention time.Duration `env:"STATE_RETENTION" envDefault:"720h"`
	BlobTTL        time.Duration `env:"BLOB_TTL" envDefault:"0s"`
}

func parseEnv() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Workflow != "paging" && cfg.Workflow != "async" {
		return config{}, fmt.Errorf("parse env: WORKFLOW must be paging or async (got %q)", cfg.Workflow)
	}
	return cfg, nil
}

func main() {
	cfg, err := parseEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger := logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.LogLevel),
		Pretty:  cfg.LogPretty,
		Output:  os.Stderr,
		Service: "ingest-runner",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("redis", cfg.RedisURL).Msg("Failed to connect to Redis")
	}
	logger.Info().Str("redis", cfg.RedisURL).Msg("Connected to Redis")

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newMux(redisClient),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Starting health and metrics server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Server failed")
		}
	}()

	runErr := run(ctx, cfg, redisClient, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Server shutdown failed")
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("Ingestion run failed")
		os.Exit(1)
	}
	logger.Info().Msg("Ingestion run complete")
}

// run wires the engine and processes every work item once.
func run(ctx context.Context, cfg config, redisClient *redis.Client, logger zerolog.Logger) error {
	vendorCfg, err := loadVendorConfig(cfg)
	if err != nil {
		return err
	}
	items, err := loadWorkItems(cfg.WorkItemsFile)
	if err != nil {
		return err
	}

	blobs := blob.NewRedisStore(redisClient, cfg.BlobTTL)
	state, err := fetchstate.NewStore(fetchstate.Config{
		Snapshots: blobs.Open(blob.StatePath(cfg.Vendor, "snapshots.json")),
		Vault:     blobs.Open(blob.StatePath(cfg.Vendor, "idvault.json")),
		Retention: cfg.StateRetention,
	}, logger)
	if err != nil {
		return fmt.Errorf("create fetch state: %w", err)
	}

	vendorClient, err := client.New(clientConfig(cfg, redisClient), logger)
	if err != nil {
		return fmt.Errorf("create vendor client: %w", err)
	}

	workflow, err := newWorkflow(cfg.Workflow, vendorCfg, vendorClient, state, blobs, logger)
	if err != nil {
		return err
	}

	return ingest.NewOrchestrator(vendorCfg, workflow, state, blobs, nil, logger).Run(ctx, items)
}

func clientConfig(cfg config, redisClient *redis.Client) client.Config {
	cc := client.DefaultConfig(cfg.Vendor, cfg.BaseURL)
	cc.UserAgent = cfg.UserAgent
	cc.Retry.MaxAttempts = cfg.RetryMaxAttempts
	cc.RetryHeaders = cfg.RetryHeaders
	cc.RetryClientErrors = cfg.RetryClientErrors
	cc.Telemetry.UsageHeader = cfg.UsageHeader
	cc.Telemetry.UsageFields = cfg.UsageFields
	cc.Telemetry.ResetHeader = cfg.ResetHeader
	cc.Telemetry.ResetField = cfg.ResetField
	cc.Telemetry.DefaultWait = cfg.UsageDefaultWait
	cc.Telemetry.MaxStateAge = cfg.UsageMaxAge
	cc.Redis = redisClient
	return cc
}

func newWorkflow(name string, cfg ingest.VendorConfig, doer *client.Client, state *fetchstate.Store, blobs blob.Store, logger zerolog.Logger) (ingest.Workflow, error) {
	switch name {
	case "paging":
		wf, err := ingest.NewPagingWorkflow(cfg, doer, state, blobs, logger)
		if err != nil {
			return nil, fmt.Errorf("paging workflow: %w", err)
		}
		return wf, nil
	case "async":
		wf, err := ingest.NewAsyncReportWorkflow(cfg, doer, state, blobs, logger)
		if err != nil {
			return nil, fmt.Errorf("async workflow: %w", err)
		}
		return wf, nil
	default:
		return nil, fmt.Errorf("unknown workflow %q", name)
	}
}

// loadVendorConfig reads the vendor's report layout from its JSON file and
// applies the limits and credentials from the environment.
func loadVendorConfig(cfg config) (ingest.VendorConfig, error) {
	data, err := os.ReadFile(cfg.VendorConfigFile)
	if err != nil {
		return ingest.VendorConfig{}, fmt.Errorf("read vendor config: %w", err)
	}

	var vc ingest.VendorConfig
	if err := json.Unmarshal(data, &vc); err != nil {
		return ingest.VendorConfig{}, fmt.Errorf("parse vendor config: %w", err)
	}

	vc.Name = cfg.Vendor
	vc.Token = cfg.Token
	vc.MaxDegreeOfParallelism = cfg.MaxDOP
	vc.PermittedPerWindow = cfg.PermittedPerWindow
	vc.Window = cfg.Window
	vc.MaxRuntime = cfg.MaxRuntime

	if cfg.PollMaxAttempts > 0 || cfg.PollInterval > 0 {
		vc.Async.Poll = ingest.DefaultPollPolicy()
		if cfg.PollMaxAttempts > 0 {
			vc.Async.Poll.MaxAttempts = cfg.PollMaxAttempts
		}
		if cfg.PollInterval > 0 {
			vc.Async.Poll.InitialInterval = cfg.PollInterval
		}
	}

	if err := vc.Validate(); err != nil {
		return ingest.VendorConfig{}, fmt.Errorf("vendor config: %w", err)
	}
	return vc, nil
}

// loadWorkItems reads the work items of this run from a JSON array.
func loadWorkItems(path string) ([]ingest.WorkItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read work items: %w", err)
	}

	var items []*ingest.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse work items: %w", err)
	}

	out := make([]ingest.WorkItem, 0, len(items))
	for i, it := range items {
		if it == nil {
			return nil, fmt.Errorf("work item %d: null entry", i)
		}
		if err := it.Validate(); err != nil {
			return nil, fmt.Errorf("work item %d: %w", i, err)
		}
		out = append(out, it)
	}
	return out, nil
}

func newMux(redisClient *redis.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}
