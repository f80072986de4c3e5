// Package app wires configuration into a running matching service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/knoguchi/peermatch/internal/auth"
	"github.com/knoguchi/peermatch/internal/breaker"
	"github.com/knoguchi/peermatch/internal/config"
	"github.com/knoguchi/peermatch/internal/dialogue"
	"github.com/knoguchi/peermatch/internal/embedder"
	"github.com/knoguchi/peermatch/internal/llm"
	"github.com/knoguchi/peermatch/internal/memory"
	"github.com/knoguchi/peermatch/internal/repository"
	repomem "github.com/knoguchi/peermatch/internal/repository/memory"
	"github.com/knoguchi/peermatch/internal/repository/mongo"
	"github.com/knoguchi/peermatch/internal/repository/postgres"
	"github.com/knoguchi/peermatch/internal/repository/qdrant"
	"github.com/knoguchi/peermatch/internal/reranker"
	"github.com/knoguchi/peermatch/internal/server"
	"github.com/knoguchi/peermatch/internal/service"
	"github.com/knoguchi/peermatch/internal/telephony"
	"github.com/knoguchi/peermatch/internal/tts"
)

const (
	warmupTimeout = 30 * time.Second
	clipCacheSize = 256
	clipTTL       = 10 * time.Minute
)

// App holds the shared components. Close releases them in reverse order.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Repo          repository.PersonRepository
	Embedder      embedder.Embedder
	Reranker      reranker.Reranker
	People        *service.PersonService
	Matcher       *service.MatchService
	Conversations memory.ConversationStore
	Agent         *dialogue.Agent

	// Speech, Clips and Calls are nil when not configured.
	Speech tts.Synthesizer
	Clips  *tts.ClipCache
	Calls  *telephony.Client

	closers []func() error
}

// Build connects the directory and models and assembles the services. The embedding model
// is probed once and a failure is fatal.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	repo, err := OpenDirectory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Repo = repo
	a.closers = append(a.closers, repo.Close)
	logger.Info("connected to person directory", "backend", cfg.DirectoryBackend)

	a.Embedder = embedder.NewGuarded(newEmbedder(cfg), newBreaker("embedder", cfg))
	warmCtx, cancel := context.WithTimeout(ctx, warmupTimeout)
	err = embedder.Warmup(warmCtx, a.Embedder)
	cancel()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("embedding model not ready: %w", err)
	}
	logger.Info("embedding model ready", "provider", cfg.EmbeddingProvider, "model", a.Embedder.ModelName(), "dimension", a.Embedder.Dimension())

	a.Reranker = reranker.NewGuarded(newReranker(cfg), newBreaker("reranker", cfg))
	logger.Info("initialized reranker", "provider", cfg.RerankerProvider, "model", a.Reranker.ModelName())

	a.People = service.NewPersonService(repo, a.Embedder, service.WithLogger(logger))
	a.Matcher = service.NewMatchService(repo, a.Embedder, a.Reranker, logger)

	store, err := openConversations(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Conversations = store
	a.closers = append(a.closers, store.Close)

	chat := llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	a.Agent = dialogue.NewAgent(chat, a.Matcher, store,
		dialogue.WithName(cfg.AgentName),
		dialogue.WithChatOptions(llm.ChatOptions{
			Model:       cfg.LLMModel,
			Temperature: cfg.LLMTemperature,
			MaxTokens:   cfg.LLMMaxTokens,
			TopP:        cfg.LLMTopP,
		}),
		dialogue.WithLogger(logger),
	)
	logger.Info("initialized dialogue agent", "model", cfg.LLMModel, "name", cfg.AgentName)

	if cfg.SpeechEnabled() {
		a.Speech = tts.NewElevenLabs(tts.Config{
			APIKey:  cfg.ElevenLabsAPIKey,
			VoiceID: cfg.ElevenLabsVoiceID,
			Model:   cfg.ElevenLabsModel,
			Breaker: newBreaker("tts", cfg),
		})
		a.Clips = tts.NewClipCache(a.Speech, clipCacheSize, clipTTL)
		logger.Info("text-to-speech enabled", "voice", cfg.ElevenLabsVoiceID)
	}

	if cfg.TelephonyEnabled() {
		key, err := telephony.LoadPrivateKey(cfg.VonagePrivateKeyPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Calls, err = telephony.NewClient(telephony.Config{
			ApplicationID: cfg.VonageApplicationID,
			PrivateKey:    key,
			FromNumber:    cfg.VonageNumber,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("telephony enabled", "application_id", cfg.VonageApplicationID)
	}

	return a, nil
}

// OpenDirectory connects the configured person directory backend.
func OpenDirectory(ctx context.Context, cfg *config.Config) (repository.PersonRepository, error) {
	switch cfg.DirectoryBackend {
	case config.DirectoryPostgres:
		db, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return postgres.NewPersonRepo(db), nil
	case config.DirectoryMongo:
		repo, err := mongo.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		return repo, nil
	case config.DirectoryQdrant:
		dim := embedder.DimensionFor(cfg.EmbeddingModel, cfg.EmbeddingDimension)
		repo, err := qdrant.New(ctx, cfg.QdrantGRPCURL, cfg.QdrantAPIKey, cfg.QdrantCollection, dim)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		return repo, nil
	case config.DirectoryMemory:
		return repomem.NewPersonRepo(), nil
	default:
		return nil, fmt.Errorf("unknown directory backend %q", cfg.DirectoryBackend)
	}
}

func newEmbedder(cfg *config.Config) embedder.Embedder {
	if cfg.EmbeddingProvider == config.EmbeddingOpenAI {
		return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			BaseURL:   cfg.EmbeddingBaseURL,
			APIKey:    cfg.EmbeddingAPIKey,
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		})
	}
	return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL:   cfg.OllamaURL,
		Model:     cfg.EmbeddingModel,
		Dimension: embedder.DimensionFor(cfg.EmbeddingModel, cfg.EmbeddingDimension),
	})
}

func newReranker(cfg *config.Config) reranker.Reranker {
	if cfg.RerankerProvider == config.RerankerLLM {
		client := llm.NewOllamaClient(llm.WithBaseURL(cfg.OllamaURL), llm.WithModel(cfg.RerankerLLMModel))
		return reranker.NewLLMReranker(client, reranker.WithModel(cfg.RerankerLLMModel))
	}
	return reranker.NewCrossEncoderClient(cfg.RerankerURL, cfg.RerankerModel)
}

func openConversations(cfg *config.Config) (memory.ConversationStore, error) {
	if cfg.ConversationBackend == config.ConversationBadger {
		store, err := memory.OpenBadgerStore(cfg.ConversationDir, cfg.ConversationTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to open conversation store: %w", err)
		}
		return store, nil
	}
	return memory.NewStore(cfg.ConversationTTL), nil
}

func newBreaker(name string, cfg *config.Config) *breaker.Breaker {
	return breaker.New(name, breaker.Config{
		MaxFailures: cfg.BreakerMaxFailures,
		Timeout:     cfg.BreakerTimeout,
	})
}

// HTTPConfig returns the HTTP surface for the app.
func (a *App) HTTPConfig() server.HTTPServerConfig {
	cfg := a.Config
	verifier := auth.NewWebhookVerifier(cfg.VonageSignatureSecret)
	if !verifier.Enabled() {
		a.Logger.Warn("VONAGE_SIGNATURE_SECRET not set, voice webhooks are unsigned")
	}

	vonage := server.VonageConfig{
		Agent:          a.Agent,
		Clips:          a.Clips,
		PublicURL:      cfg.PublicURL,
		IntroAudioPath: cfg.IntroAudioPath,
		Logger:         a.Logger,
	}
	// A nil *telephony.Client must not become a non-nil interface.
	if a.Calls != nil {
		vonage.Calls = a.Calls
	}

	return server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         a.Logger,
		AllowedOrigins: []string{"*"},
		People:         server.NewPersonHandler(a.People, a.Matcher, a.Logger),
		Vonage:         server.NewVonageHandler(vonage),
		Chat:           server.NewChatHandler(a.Agent, nil, a.Logger),
		Admin:          auth.NewAdminKey(cfg.AdminAPIKey).Middleware,
		Signed:         verifier.Middleware,
		Limiter:        server.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Ready:          a.People,
	}
}

// Close releases every component opened by Build.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
