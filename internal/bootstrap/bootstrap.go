package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/docintake/internal/config"
	"github.com/kirillkom/docintake/internal/core/domain"
	"github.com/kirillkom/docintake/internal/core/ports"
	"github.com/kirillkom/docintake/internal/core/usecase"
	"github.com/kirillkom/docintake/internal/infrastructure/dedup"
	"github.com/kirillkom/docintake/internal/infrastructure/extractor"
	"github.com/kirillkom/docintake/internal/infrastructure/llm"
	"github.com/kirillkom/docintake/internal/infrastructure/llm/gemini"
	"github.com/kirillkom/docintake/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/docintake/internal/infrastructure/llm/openai"
	"github.com/kirillkom/docintake/internal/infrastructure/queue/inproc"
	"github.com/kirillkom/docintake/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docintake/internal/infrastructure/repository/memory"
	"github.com/kirillkom/docintake/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docintake/internal/infrastructure/resilience"
	"github.com/kirillkom/docintake/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/docintake/internal/infrastructure/watcher/chat"
	"github.com/kirillkom/docintake/internal/infrastructure/watcher/email"
	"github.com/kirillkom/docintake/internal/infrastructure/whatsapp"
)

type App struct {
	Config config.Config

	Queue       ports.MessageQueue
	Documents   ports.DocumentReader
	IngestUC    *usecase.IngestDocumentUseCase
	ProcessUC   ports.DocumentProcessor
	TaskUC      ports.TaskService
	Coordinator *usecase.IngestionCoordinator

	closers []func()
}

type storeSet struct {
	documents ports.DocumentRepository
	tasks     ports.TaskStore
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, pipeline ports.PipelineMetrics) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg}

	stores, err := app.openStores(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := app.openQueue(cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	completer, err := newCompleter(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	modelExecutor := resilience.NewExecutorWithLogger(
		resilience.ModelCallConfig(cfg.LLMBreakerEnabled, cfg.LLMBreakerOpenTimeout),
		logger.With("component", "llm"),
	)
	guarded := llm.NewGuardedCompleter(completer, modelExecutor)

	dedupFilter, err := app.openDedup(cfg, logger)
	if err != nil {
		app.Close()
		return nil, err
	}

	summarizer := usecase.NewSummarizeUseCase(guarded, pipeline, logger, usecase.SummarizerConfig{
		OrganizationContext: cfg.OrganizationContext,
		Timeout:             cfg.LLMTimeout,
		MaxPromptChars:      cfg.SummaryMaxPromptChars,
	})
	taskUC := usecase.NewTaskUseCase(stores.tasks, pipeline)
	ingestUC := usecase.NewIngestDocumentUseCase(stores.documents, storage, queue, cfg.UploadMaxBytes)
	processUC := usecase.NewProcessDocumentUseCase(stores.documents, storage, extractor.NewRegistry(), summarizer, taskUC)

	coordinator := usecase.NewIngestionCoordinator(
		watcherFactories(cfg, storage, logger),
		ingestUC,
		usecase.CoordinatorOptions{
			NotificationLimit: cfg.NotificationLimit,
			Dedup:             dedupFilter,
			Metrics:           pipeline,
			Logger:            logger,
		},
	)
	// Watchers must stop before the stores and queue close.
	app.closers = append([]func(){coordinator.Close}, app.closers...)

	app.Queue = queue
	app.Documents = stores.documents
	app.IngestUC = ingestUC
	app.ProcessUC = processUC
	app.TaskUC = taskUC
	app.Coordinator = coordinator
	return app, nil
}

func (a *App) openStores(ctx context.Context, cfg config.Config) (storeSet, error) {
	switch cfg.RepositoryBackend {
	case config.BackendPostgres:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return storeSet{}, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return storeSet{}, fmt.Errorf("ensure schema: %w", err)
		}
		return postgresStores(db), nil
	default:
		store := memory.NewStore()
		return storeSet{documents: store, tasks: store}, nil
	}
}

func postgresStores(db *sql.DB) storeSet {
	return storeSet{
		documents: postgres.NewDocumentRepository(db),
		tasks:     postgres.NewTaskRepository(db),
	}
}

func (a *App) openQueue(cfg config.Config, logger *slog.Logger) (ports.MessageQueue, error) {
	switch cfg.QueueBackend {
	case config.BackendNATS:
		queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutorWithLogger(resilience.DefaultConfig(), logger.With("component", "nats")),
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		a.closers = append(a.closers, queue.Close)
		return queue, nil
	default:
		return inproc.New(cfg.QueueCapacity, cfg.QueueWorkers, logger), nil
	}
}

func (a *App) openDedup(cfg config.Config, logger *slog.Logger) (ports.DedupFilter, error) {
	switch cfg.DedupBackend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		executor := resilience.NewExecutorWithLogger(resilience.DefaultConfig(), logger.With("component", "redis"))
		return dedup.NewRedisFilter(rdb, cfg.DedupTTL).WithExecutor(executor), nil
	default:
		return dedup.NewMemoryFilter(cfg.DedupTTL), nil
	}
}

func newCompleter(ctx context.Context, cfg config.Config) (ports.TextCompleter, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		client, err := gemini.New(ctx, gemini.Config{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderOpenAI:
		client, err := openai.New(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.LLMTimeout), nil
	}
}

// watcherFactories builds a fresh watcher per start. Email credentials are
// validated on each start so a missing setting surfaces as a start error.
func watcherFactories(cfg config.Config, storage ports.ObjectStorage, logger *slog.Logger) map[domain.Channel]ports.WatcherFactory {
	factories := map[domain.Channel]ports.WatcherFactory{
		domain.ChannelEmail: func() (ports.ChannelWatcher, error) {
			dial, err := email.NewIMAPDialer(email.IMAPConfig{
				Host:               cfg.IMAPHost,
				Port:               cfg.IMAPPort,
				Username:           cfg.IMAPUsername,
				Password:           cfg.IMAPPassword,
				Folder:             cfg.IMAPFolder,
				InsecureSkipVerify: cfg.IMAPInsecureSkipVerify,
			})
			if err != nil {
				return nil, err
			}
			return email.New(dial, storage, email.Options{
				PollInterval:   cfg.EmailPollInterval,
				ReconnectDelay: cfg.EmailReconnectDelay,
				Logger:         logger.With("channel", string(domain.ChannelEmail)),
			}), nil
		},
	}
	if cfg.WhatsAppEnabled {
		sessions := whatsapp.NewSessionFactory(whatsapp.Config{
			StorePath: cfg.WhatsAppStorePath,
			Logger:    logger.With("component", "whatsmeow"),
		})
		factories[domain.ChannelChat] = func() (ports.ChannelWatcher, error) {
			return chat.New(sessions, storage, chat.Options{
				Logger: logger.With("channel", string(domain.ChannelChat)),
			}), nil
		}
	}
	return factories
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
