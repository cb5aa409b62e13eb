package bootstrap

import (
	"context"
	"log"
	"time"

	"ai-context-pipeline/internal/config"
	"ai-context-pipeline/internal/pkg/logger"
	"ai-context-pipeline/internal/repository/memory"
	"ai-context-pipeline/internal/repository/unitofwork"
	"ai-context-pipeline/internal/service"
	"ai-context-pipeline/pkg/llm"
	"ai-context-pipeline/pkg/llm/factory"
	pktNats "ai-context-pipeline/pkg/nats"
	"ai-context-pipeline/pkg/rag/citation"
	"ai-context-pipeline/pkg/rag/confidence"
	"ai-context-pipeline/pkg/rag/coreference"
	"ai-context-pipeline/pkg/rag/ctxmgr"
	"ai-context-pipeline/pkg/rag/domain"
	"ai-context-pipeline/pkg/rag/output"
	"ai-context-pipeline/pkg/rag/preference"
	"ai-context-pipeline/pkg/rag/quality"
	"ai-context-pipeline/pkg/rag/retry"
	"ai-context-pipeline/pkg/rag/session"
	"ai-context-pipeline/pkg/rag/task"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// DurableIndexConsumer names the JetStream consumer that bridges document
// index requests into the local queue.
const DurableIndexConsumer = "context-pipeline-indexer"

type Container struct {
	Logger logger.ILogger

	// Pipeline
	Sessions *session.Manager
	Domain   *domain.Service
	Resolver *coreference.Resolver
	Context  *ctxmgr.Manager
	Quality  *quality.Pipeline
	Failures *retry.Tracker

	// Background Services (Exposed for main.go to run)
	ConsumerService  service.IConsumerService
	PublisherService service.IPublisherService
	Sweeper          *service.SessionSweeper

	// Optional infrastructure; nil when unreachable at startup.
	NatsPublisher  *pktNats.Publisher
	NatsSubscriber *pktNats.Subscriber
	Redis          *redis.Client

	pubSub *gochannel.GoChannel
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	indexingLogger := logger.NewIsolatedLogger(cfg.App.IndexingLogFilePath)

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 3. LLM (optional: coreference falls back to heuristics without it)
	var llmProvider llm.LLMProvider
	provider, err := factory.NewLLMProvider(providerConfig(cfg.Ai))
	if err != nil {
		log.Printf("[WARN] LLM provider unavailable, coreference runs heuristics only: %v", err)
	} else {
		llmProvider = provider
		log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)
	}

	// 4. Infrastructure
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL, sysLogger)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	}
	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL, sysLogger)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
	}
	rdb := newRedisClient(cfg.App.RedisURL)

	// 5. Pipeline services
	sessions := session.NewManager(uowFactory, memory.NewSessionCache(), sysLogger)
	domainService := domain.NewService(uowFactory, sysLogger)
	resolver := coreference.NewResolver(llmProvider, sysLogger,
		coreference.WithCacheSize(cfg.Pipeline.CoreferenceCacheSize),
	)

	deps := ctxmgr.Dependencies{
		Coreference: resolver,
		Sessions:    sessions,
		Domain:      domainService,
	}
	if rdb != nil {
		var events preference.EventPublisher
		if natsPub != nil {
			events = natsPub
		}
		store := preference.NewRedisStore(rdb)
		deps.Preferences = store
		deps.Learner = preference.NewLearner(store, events, sysLogger)
		deps.Tasks = task.NewRedisTracker(rdb)
	}
	contextManager := ctxmgr.NewManager(deps, ctxmgr.Options{
		Degrade: cfg.Pipeline.DegradeOnContextFailure,
	}, sysLogger)

	qualityPipeline := newQualityPipeline(cfg.Pipeline, sysLogger)

	// 6. Indexing queue
	failures := retry.NewTracker(indexingLogger, retry.WithMaxRetries(cfg.Pipeline.DocumentMaxRetries))
	publisherService := service.NewPublisherService(cfg.App.IndexingTopic, pubSub)
	consumerService := service.NewConsumerService(
		pubSub,
		cfg.App.IndexingTopic,
		service.NewConceptIndexer(domainService, indexingLogger),
		failures,
		indexingLogger,
	)

	sweeper := service.NewSessionSweeper(sessions, failures, service.SweeperConfig{
		Interval:       time.Duration(cfg.App.SessionSweepInterval) * time.Minute,
		MaxIdleMinutes: cfg.App.SessionMaxIdleMinutes,
		FailureTTL:     time.Duration(cfg.Pipeline.DocumentFailureTTLHours) * time.Hour,
	}, sysLogger)

	return &Container{
		Logger:           sysLogger,
		Sessions:         sessions,
		Domain:           domainService,
		Resolver:         resolver,
		Context:          contextManager,
		Quality:          qualityPipeline,
		Failures:         failures,
		ConsumerService:  consumerService,
		PublisherService: publisherService,
		Sweeper:          sweeper,
		NatsPublisher:    natsPub,
		NatsSubscriber:   natsSub,
		Redis:            rdb,
		pubSub:           pubSub,
	}
}

// Start runs the background services until ctx is cancelled.
func (c *Container) Start(ctx context.Context) error {
	if err := c.ConsumerService.Consume(ctx); err != nil {
		return err
	}
	if c.NatsSubscriber != nil {
		handler := service.NewIndexRequestHandler(c.PublisherService)
		if err := c.NatsSubscriber.Subscribe(ctx, service.TypeDocumentIndexRequested, DurableIndexConsumer, handler); err != nil {
			c.Logger.Warn("BOOTSTRAP", "Index request bridge disabled", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	go c.Sweeper.Run(ctx)
	return nil
}

func (c *Container) Close() {
	if c.NatsSubscriber != nil {
		c.NatsSubscriber.Close()
	}
	if c.NatsPublisher != nil {
		c.NatsPublisher.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	_ = c.pubSub.Close()
}

func providerConfig(ai config.AIConfig) factory.ProviderConfig {
	cfg := factory.ProviderConfig{
		Provider: ai.LLMProvider,
		Model:    ai.LLMModel,
		BaseURL:  ai.OllamaBaseURL,
		Timeout:  time.Duration(ai.LLMTimeoutSeconds) * time.Second,
	}
	if ai.LLMProvider == "huggingface" {
		cfg.BaseURL = ai.HuggingFaceBaseURL
		cfg.APIKey = ai.HuggingFaceAPIKey
	}
	return cfg
}

// newRedisClient returns nil when Redis cannot be reached, which switches
// off preference learning and task tracking.
func newRedisClient(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: url,
		}
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}

func newQualityPipeline(cfg config.PipelineConfig, log logger.ILogger) *quality.Pipeline {
	opts := quality.DefaultOptions()
	opts.Citation.RemoveInvalid = cfg.CitationRemoveInvalid
	opts.Citation.MaxOrphanCitations = cfg.CitationMaxOrphans
	opts.Output.MinLength = cfg.OutputMinLength
	opts.Output.MaxLength = cfg.OutputMaxLength
	opts.Output.Strict = cfg.OutputStrict
	opts.Confidence.EnableBlocking = cfg.ConfidenceBlockingEnabled

	return quality.NewPipeline(
		citation.NewValidator(log),
		output.NewValidator(log),
		confidence.NewHandler(confidence.Thresholds{
			Block:      cfg.ConfidenceBlockThreshold,
			Warn:       cfg.ConfidenceWarnThreshold,
			Disclaimer: cfg.ConfidenceDisclaimerThreshold,
		}, log),
		opts,
		log,
	)
}
