// PersonaChat server - the study backend and participant UI
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/personachat/personachat/internal/api"
	"github.com/personachat/personachat/internal/config"
	"github.com/personachat/personachat/internal/identity"
	"github.com/personachat/personachat/internal/ledger"
	"github.com/personachat/personachat/internal/llm"
	"github.com/personachat/personachat/internal/logging"
	"github.com/personachat/personachat/internal/scheduler"
	"github.com/personachat/personachat/internal/session"
	"github.com/personachat/personachat/internal/storage"
	"github.com/personachat/personachat/internal/vectors"
)

var (
	configPath string
	dataDir    string
	port       int
	envFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "personachat",
		Short:        "PersonaChat - system prompt study server",
		RunE:         runServer,
		SilenceUsage: true,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Config file (default <data-dir>/config.json)")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "", "Data directory")
	rootCmd.Flags().IntVar(&port, "port", 0, "HTTP server port")
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before the environment is read")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	// A missing .env is normal in production
	if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logCloser, err := logging.Configure(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("Starting PersonaChat for study %q", cfg.Study.ID)

	// Open database
	db, err := storage.Open(storage.Config{Path: cfg.DatabasePath()})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	ledgerStore := ledger.NewStore(db.Conn())
	if err := ledgerStore.VerifyChain(ctx, cfg.Study.ID); err != nil {
		// Keep serving; researchers see the break in /ledger/verify
		logging.Error("ledger chain check failed: %v", err)
	}

	completer := newCompleter(cfg)

	var rater api.Rater
	ratingClient := llm.NewRatingClient(llm.RatingConfig{
		URL:     cfg.Rating.URL,
		APIKey:  cfg.Rating.APIKey,
		Timeout: time.Duration(cfg.Rating.TimeoutSec) * time.Second,
	})
	if ratingClient.IsConfigured() {
		rater = ratingClient
		logging.Info("Persona rating service configured")
	} else {
		logging.Warn("PERSONA_RATING_URL not set - persona checks disabled")
	}

	var pseudonyms *identity.Pseudonymizer
	if cfg.Identity.Secret != "" {
		pseudonyms, err = identity.NewPseudonymizer(cfg.Identity.Secret, cfg.Study.ID, identity.DefaultParams)
		if err != nil {
			return err
		}
	}

	index, closeIndex := openIndex(ctx, cfg)
	defer closeIndex()

	if cfg.Server.ResearcherToken == "" {
		logging.Warn("PERSONACHAT_RESEARCHER_TOKEN not set - ledger and monitor routes disabled")
	}

	sessions := session.NewManager(cfg.StudySettings(), storage.NewSessionStore(db))

	server := api.New(api.Config{
		Addr:              cfg.Addr(),
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		Sessions:          sessions,
		DB:                db,
		Ledger:            ledgerStore,
		Completer:         completer,
		Rater:             rater,
		Index:             index,
		Pseudonymizer:     pseudonyms,
		MaxTokens:         cfg.LLM.MaxTokens,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		Burst:             cfg.Server.Burst,
		ResearcherToken:   cfg.Server.ResearcherToken,
		TrustProxy:        cfg.Server.TrustProxy,
	})

	jobs := maintenance(cfg, sessions, ledgerStore, server)
	go jobs.Run(ctx)

	logging.Info("Open http://%s in your browser", cfg.Addr())
	err = server.Run(ctx)
	logging.Info("Shut down")
	return err
}

const (
	sessionIdle       = 2 * time.Hour
	evictEvery        = 5 * time.Minute
	chainVerifyPeriod = 15 * time.Minute
	limiterIdle       = 10 * time.Minute
)

// maintenance registers the background jobs: idle session eviction, rate
// limiter pruning and a periodic ledger chain check.
func maintenance(cfg *config.Config, sessions *session.Manager, store *ledger.Store, server *api.Server) *scheduler.Scheduler {
	jobs := scheduler.New()
	jobs.Register(scheduler.Every("session-evict", evictEvery, func(ctx context.Context) error {
		if n := sessions.EvictIdle(sessionIdle); n > 0 {
			logging.Info("evicted %d idle sessions", n)
		}
		return nil
	}))
	jobs.Register(scheduler.Every("limiter-prune", evictEvery, func(ctx context.Context) error {
		server.PruneLimiters(limiterIdle)
		return nil
	}))
	jobs.Register(scheduler.Every("ledger-verify", chainVerifyPeriod, func(ctx context.Context) error {
		return store.VerifyChain(ctx, cfg.Study.ID)
	}))
	return jobs
}

func newCompleter(cfg *config.Config) *llm.Router {
	anthropic := llm.NewClient(llm.Config{
		APIKey:  cfg.LLM.Anthropic.APIKey,
		BaseURL: cfg.LLM.Anthropic.BaseURL,
		Model:   cfg.LLM.Anthropic.Model,
	})
	openai := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.LLM.OpenAI.APIKey,
		BaseURL: cfg.LLM.OpenAI.BaseURL,
		Model:   cfg.LLM.OpenAI.Model,
	})

	router := llm.NewRouter(llm.RouterConfig{
		Anthropic:    anthropic,
		OpenAI:       openai,
		DefaultModel: cfg.LLM.DefaultModel,
	})
	for provider, ok := range router.HealthCheck() {
		if ok {
			logging.Info("%s configured", provider)
		} else {
			logging.Warn("%s API key not set", provider)
		}
	}
	return router
}

// openIndex connects the optional persona vector index. A nil index turns
// similarity search off.
func openIndex(ctx context.Context, cfg *config.Config) (api.PersonaIndex, func()) {
	if !cfg.Qdrant.Enabled {
		return nil, func() {}
	}
	store, err := vectors.NewStore(vectors.Config{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		UseTLS: cfg.Qdrant.UseTLS,
		APIKey: cfg.Qdrant.APIKey,
	})
	if err != nil {
		logging.Warn("Qdrant not available: %v", err)
		return nil, func() {}
	}

	index := vectors.NewPersonaIndex(store, cfg.Qdrant.Collection, cfg.Study.ID)
	if err := index.EnsureCollection(ctx); err != nil {
		logging.Warn("Qdrant collection unavailable, similarity search disabled: %v", err)
		store.Close()
		return nil, func() {}
	}
	logging.Info("Qdrant connected")
	return index, func() { store.Close() }
}
