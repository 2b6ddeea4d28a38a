package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/boilerplate"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/classifier"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/crawlworker"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/dedup"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/embedding"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/embeddingpipeline"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/entityextractor"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/extractionpipeline"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/llm"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/llmbroker"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/orchestrator"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/ratelimit"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/scheduler"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/scrapeworker"
	"github.com/TKontu/knowledge-extraction-sub001/internal/storage/badger"
	"github.com/TKontu/knowledge-extraction-sub001/internal/storage/sqlite"
)

var (
	configFiles configPaths
	showVersion = flag.Bool("version", false, "Print version information")
)

type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("orchestrator version %s\n", common.GetVersion())
		os.Exit(0)
	}

	path := ""
	if len(configFiles) > 0 {
		path = configFiles[len(configFiles)-1]
	}

	config, err := common.LoadFromFile(nil, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := common.SetupLogger(config)
	common.InitLogger(logger)
	defer common.Stop()

	if err := run(config, logger); err != nil {
		logger.Error().Err(err).Msg("orchestrator exited with error")
		os.Exit(1)
	}
}

func run(config *common.Config, logger arbor.ILogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	badgerMgr, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to open badger storage: %w", err)
	}
	defer badgerMgr.Close()

	// Reload config now that KV-backed secret overrides are available.
	config, err = common.LoadFromFile(badgerMgr.KeyValueStorage(), configFiles.last())
	if err != nil {
		return fmt.Errorf("failed to reload config with KV overrides: %w", err)
	}

	sqliteMgr, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	if err != nil {
		return fmt.Errorf("failed to open sqlite storage: %w", err)
	}
	defer sqliteMgr.Close()

	common.PrintBanner(config, logger)

	lmEndpoint, err := llm.NewEndpoint(ctx, &config.LM, badgerMgr.KeyValueStorage(), logger)
	if err != nil {
		return fmt.Errorf("failed to build LM endpoint: %w", err)
	}

	embeddingAPIKey, err := common.ResolveAPIKey(ctx, badgerMgr.KeyValueStorage(), "embedding_api_key", config.Embedding.APIKey)
	if err != nil {
		return fmt.Errorf("failed to resolve embedding API key: %w", err)
	}
	embeddingSvc, err := embedding.New(ctx, &config.Embedding, embeddingAPIKey, logger)
	if err != nil {
		return fmt.Errorf("failed to build embedding service: %w", err)
	}

	dim := config.Embedding.Dim
	if dim <= 0 {
		dim = embeddingSvc.Dimension()
	}
	if err := sqliteMgr.VectorRepo().InitCollection(ctx, "extractions", dim); err != nil {
		return fmt.Errorf("failed to initialize vector collection: %w", err)
	}

	broker := llmbroker.NewBroker(badgerMgr.RequestStream(), badgerMgr.ResponseBucket(), &config.Broker, logger)

	workerCount := config.Broker.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		group := fmt.Sprintf("worker-%d", i)
		w := llmbroker.NewWorker(group, badgerMgr.RequestStream(), badgerMgr.ResponseBucket(), badgerMgr.DLQ(), lmEndpoint, &config.Broker, &config.LM, logger)
		go w.Run(ctx)
	}

	boilerplateEngine := boilerplate.NewEngine(sqliteMgr.DomainBoilerplateRepo(), &config.Boilerplate, logger)
	cls := classifier.New(embeddingSvc, &config.Extraction, logger)
	orch := orchestrator.New(broker, cls, &config.Extraction, logger)
	dd := dedup.New(embeddingSvc, sqliteMgr.VectorRepo(), &config.Dedup, logger)
	embPipeline := embeddingpipeline.New(embeddingSvc, sqliteMgr.VectorRepo(), sqliteMgr.ExtractionRepo(), logger)
	entityExtractor := entityextractor.New(sqliteMgr.EntityRepo(), broker, logger)

	extractPipeline := extractionpipeline.New(
		sqliteMgr.ProjectRepo(), sqliteMgr.SourceRepo(), sqliteMgr.ExtractionRepo(),
		boilerplateEngine, orch, dd, embPipeline, entityExtractor,
		&config.Boilerplate, logger,
	)

	limiter := ratelimit.New(badgerMgr.RateLimitCounter(), ratelimit.Config{
		DelayMinMS:             config.Scrape.DelayMinMS,
		DelayMaxMS:             config.Scrape.DelayMaxMS,
		MaxConcurrentPerDomain: config.Scrape.MaxConcurrentPerDomain,
		DailyLimit:             config.Scrape.DailyLimit,
	})

	sched := scheduler.New(sqliteMgr.JobStore(), &config.Scheduler, logger)

	sched.Register(models.JobTypeExtract, extractJobHandler(extractPipeline, sqliteMgr.JobStore()))

	// Fetcher (the browser/rendering layer) is external and opaque per the
	// system's scope: no concrete adapter ships in this build, so scrape and
	// crawl jobs are only dispatched when one has been wired in.
	var fetcher interfaces.Fetcher
	if fetcher != nil {
		scrapeWorker := scrapeworker.New(fetcher, sqliteMgr.SourceRepo(), limiter, &config.Scrape, logger)
		sched.Register(models.JobTypeScrape, scrapeJobHandler(scrapeWorker))

		crawlWorker := crawlworker.New(fetcher, sqliteMgr.SourceRepo(), sqliteMgr.JobStore(), limiter, &config.Crawl, logger)
		sched.Register(models.JobTypeCrawl, crawlJobHandler(crawlWorker, sqliteMgr.JobStore()))
	} else {
		logger.Warn().Msg("no Fetcher configured; scrape and crawl jobs will not be dispatched")
	}

	sched.Start(ctx)

	recoverOrphanEmbeddings(ctx, embPipeline, logger)

	orphanCron := cron.New()
	if _, err := orphanCron.AddFunc("@every 15m", func() { recoverOrphanEmbeddings(ctx, embPipeline, logger) }); err != nil {
		logger.Warn().Err(err).Msg("failed to schedule orphan-recovery sweep")
	} else {
		orphanCron.Start()
		defer orphanCron.Stop()
	}

	logger.Info().Msg("orchestrator running; waiting for shutdown signal")
	<-ctx.Done()

	common.PrintShutdownBanner(logger)
	sched.Wait()
	return nil
}

func (c configPaths) last() string {
	if len(c) == 0 {
		return ""
	}
	return c[len(c)-1]
}

// recoverOrphanEmbeddings sweeps orphaned embeddings left behind by a failed
// upsert or a crashed prior run (spec §4.11). It runs once at startup, right
// after the scheduler has started, and then from the periodic cron job.
func recoverOrphanEmbeddings(ctx context.Context, embPipeline *embeddingpipeline.Pipeline, logger arbor.ILogger) {
	const batchSize = 100
	n, err := embPipeline.RecoverOrphans(ctx, batchSize)
	if err != nil {
		logger.Warn().Err(err).Msg("startup orphan-embedding recovery failed")
		return
	}
	if n > 0 {
		logger.Info().Int("count", n).Msg("recovered orphan embeddings on startup")
	}
}

func extractJobHandler(pipeline *extractionpipeline.Pipeline, jobs interfaces.JobStore) scheduler.HandlerFunc {
	return func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		sourceID, _ := job.Payload["source_id"].(string)
		if sourceID == "" {
			return nil, fmt.Errorf("extract job %s missing source_id payload", job.ID)
		}
		isCancelled := func(ctx context.Context) bool {
			cancelled, err := jobs.IsCancelRequested(ctx, job.ID)
			return err == nil && cancelled
		}
		stats, err := pipeline.Run(ctx, sourceID, isCancelled)
		if err != nil {
			return nil, err
		}
		return &models.JobResult{
			SourcesProcessed:   stats.SourcesProcessed,
			ExtractionsCreated: stats.ExtractionsCreated,
			ChunksProcessed:    stats.ChunksProcessed,
		}, nil
	}
}

func scrapeJobHandler(w *scrapeworker.Worker) scheduler.HandlerFunc {
	return func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		var payload scrapeworker.Payload
		if err := decodePayload(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode scrape payload: %w", err)
		}
		if err := w.Run(ctx, payload); err != nil {
			return nil, err
		}
		return &models.JobResult{SourcesProcessed: 1}, nil
	}
}

func crawlJobHandler(w *crawlworker.Worker, jobs interfaces.JobStore) scheduler.HandlerFunc {
	return func(ctx context.Context, job *models.Job) (*models.JobResult, error) {
		var payload crawlworker.Payload
		if err := decodePayload(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode crawl payload: %w", err)
		}
		isCancelled := func(ctx context.Context) (bool, error) {
			return jobs.IsCancelRequested(ctx, job.ID)
		}
		return w.Run(ctx, job.ID, payload, isCancelled)
	}
}

func decodePayload(payload map[string]interface{}, out interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
