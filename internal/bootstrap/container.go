package bootstrap

import (
	"context"
	"log"
	"time"

	"biblestudy-be/internal/config"
	"biblestudy-be/internal/controller"
	"biblestudy-be/internal/handler"
	"biblestudy-be/internal/pkg/logger"
	"biblestudy-be/internal/repository/contract"
	"biblestudy-be/internal/repository/implementation"
	"biblestudy-be/internal/repository/memory"
	"biblestudy-be/internal/repository/redisstore"
	"biblestudy-be/internal/repository/unitofwork"
	"biblestudy-be/internal/service"
	embeddingFactory "biblestudy-be/pkg/embedding/factory"
	"biblestudy-be/pkg/events"
	"biblestudy-be/pkg/llm/factory"
	"biblestudy-be/pkg/moderation"
	"biblestudy-be/pkg/moderation/openai"
	pktNats "biblestudy-be/pkg/nats"
	"biblestudy-be/pkg/rag/budget"
	"biblestudy-be/pkg/rag/citation"
	"biblestudy-be/pkg/rag/executor"
	"biblestudy-be/pkg/rag/grounding"
	"biblestudy-be/pkg/rag/response"
	"biblestudy-be/pkg/rag/safety"
	"biblestudy-be/pkg/rag/search"
	"biblestudy-be/pkg/rag/window"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	ChatbotController controller.IChatbotController
	CorpusController  controller.ICorpusController

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService
	AuditHandler    *handler.ConversationAuditHandler
	Subscriber      *pktNats.Subscriber

	Logger  logger.ILogger
	closers []func()
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	c := &Container{Logger: sysLogger}

	// 2. Indexing queue
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermill.NewStdLogger(false, false),
	)
	c.closers = append(c.closers, func() { _ = pubSub.Close() })

	// 3. AI providers
	embeddingProvider, err := embeddingFactory.NewEmbeddingProvider(
		cfg.Ai.EmbeddingProvider,
		cfg.Ai.OllamaBaseURL,
		cfg.Ai.EmbeddingModel,
		cfg.Ai.EmbeddingApiKey,
	)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize Embedding Provider: %v", err)
	}

	llmBaseURL := cfg.Ai.LLMBaseURL
	if llmBaseURL == "" && cfg.Ai.LLMProvider == "ollama" {
		llmBaseURL = cfg.Ai.OllamaBaseURL
	}
	llmProvider, err := factory.NewLLMProvider(cfg.Ai.LLMProvider, cfg.Ai.LLMModel, llmBaseURL, cfg.Ai.LLMApiKey)
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
	}
	sysLogger.Info("BOOTSTRAP", "AI providers ready", map[string]interface{}{
		"llm":       cfg.Ai.LLMProvider,
		"model":     cfg.Ai.LLMModel,
		"embedding": cfg.Ai.EmbeddingProvider,
	})

	var moderator moderation.Moderator = moderation.NoopModerator{}
	if cfg.Moderation.Provider == "openai" {
		moderator = openai.NewClient(cfg.Moderation.BaseURL, cfg.Moderation.ApiKey, cfg.Moderation.Model)
	} else {
		sysLogger.Warn("BOOTSTRAP", "Moderation disabled", map[string]interface{}{
			"provider": cfg.Moderation.Provider,
		})
	}

	// 4. Infrastructure
	// NATS
	var eventSink events.Sink
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL, sysLogger)
	if err != nil {
		sysLogger.Warn("BOOTSTRAP", "NATS publisher unavailable, events disabled", map[string]interface{}{"error": err})
	} else {
		eventSink = natsPub
		c.closers = append(c.closers, natsPub.Close)
	}
	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL, sysLogger)
	if err != nil {
		sysLogger.Warn("BOOTSTRAP", "NATS subscriber unavailable, audit disabled", map[string]interface{}{"error": err})
	} else {
		c.Subscriber = natsSub
		c.AuditHandler = handler.NewConversationAuditHandler(sysLogger)
		c.closers = append(c.closers, natsSub.Close)
	}

	violationStore, budgetStore := newStateStores(cfg, sysLogger, c)

	var threads contract.ThreadRepository
	if cfg.App.ThreadBackend == "memory" {
		threads = memory.NewThreadRepository(24 * time.Hour)
	} else {
		threads = implementation.NewThreadRepository(db)
	}

	// 5. Pipeline
	summaryModel := cfg.Ai.SummaryModel
	if summaryModel == "" {
		summaryModel = cfg.Ai.LLMModel
	}

	vectorBackend := search.NewVectorBackend(
		embeddingProvider,
		implementation.NewPassageEmbeddingRepository(db),
		search.DefaultConfig(),
		sysLogger,
	)

	tracker := safety.NewViolationTracker(violationStore, cfg.Guard.ViolationThreshold, cfg.Guard.Cooldown, sysLogger)
	gate := safety.NewGate(safety.Config{
		MinInputLength:    cfg.Guard.MinInputLength,
		MaxInputLength:    cfg.Guard.MaxInputLength,
		RequestsPerMinute: cfg.Guard.RequestsPerMinute,
		RequestBurst:      cfg.Guard.RequestBurst,
		ModerationTimeout: cfg.Timeouts.Moderation,
	}, moderator, tracker, sysLogger)

	pipeline := executor.NewPipelineExecutor(executor.Dependencies{
		Gate: gate,
		Window: window.NewEngine(window.Config{
			SummaryThreshold:  cfg.Window.SummaryThreshold,
			MaxWindowMessages: cfg.Window.MaxWindowMessages,
			TokenCeiling:      cfg.Window.TokenCeiling,
		}, sysLogger),
		Summarizer: window.NewSummarizer(llmProvider, summaryModel, cfg.Timeouts.Summary, sysLogger),
		Budget:     budget.NewTracker(budgetStore, cfg.Budget.DailyTokenCeiling, sysLogger),
		Retriever: grounding.NewRetriever(vectorBackend, grounding.Config{
			Limit:          cfg.Retrieval.Limit,
			MinQueryLength: cfg.Retrieval.MinQueryLength,
			CorpusID:       cfg.Retrieval.CorpusId,
			Timeout:        cfg.Timeouts.Retrieval,
		}, sysLogger),
		Validator:  citation.NewValidator(sysLogger),
		Completion: response.NewGenerator(llmProvider, cfg.Timeouts.Completion, sysLogger),
		Threads:    threads,
		Events:     events.NewConversationPublisher(eventSink, sysLogger),
	}, sysLogger)

	// 6. Services
	publisherService := service.NewPublisherService(cfg.App.IndexTopic, pubSub)
	c.ConsumerService = service.NewConsumerService(
		pubSub,
		cfg.App.IndexTopic,
		uowFactory,
		embeddingProvider,
		sysLogger,
	)
	chatbotService := service.NewChatbotService(pipeline, threads, sysLogger)
	corpusService := service.NewCorpusService(uowFactory, publisherService, cfg.Retrieval.CorpusId, sysLogger)

	// 7. Controllers
	c.ChatbotController = controller.NewChatbotController(chatbotService, nil)
	c.CorpusController = controller.NewCorpusController(corpusService, nil)
	return c
}

// newStateStores picks redis for ViolationState and BudgetState, falling back
// to process memory when redis is not configured or unreachable.
func newStateStores(cfg *config.Config, log logger.ILogger, c *Container) (contract.ViolationStore, contract.BudgetStore) {
	if cfg.App.StateBackend != "redis" {
		return memory.NewViolationStore(), memory.NewBudgetStore()
	}

	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Warn("BOOTSTRAP", "Failed to parse Redis URL, using direct Addr", map[string]interface{}{"error": err})
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("BOOTSTRAP", "Redis unreachable, guard state kept in memory", map[string]interface{}{"error": err})
		_ = rdb.Close()
		return memory.NewViolationStore(), memory.NewBudgetStore()
	}

	c.closers = append(c.closers, func() { _ = rdb.Close() })
	return redisstore.NewViolationStore(rdb), redisstore.NewBudgetStore(rdb)
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	_ = c.Logger.Sync()
}
