package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AntoineDubuc/theodore/internal/aggregator"
	"github.com/AntoineDubuc/theodore/internal/coordinator"
	"github.com/AntoineDubuc/theodore/internal/embedding"
	"github.com/AntoineDubuc/theodore/internal/extractor"
	"github.com/AntoineDubuc/theodore/internal/fetcher"
	"github.com/AntoineDubuc/theodore/internal/linkdiscovery"
	"github.com/AntoineDubuc/theodore/internal/llmgateway"
	"github.com/AntoineDubuc/theodore/internal/model"
	"github.com/AntoineDubuc/theodore/internal/progress"
	"github.com/AntoineDubuc/theodore/internal/resilience"
	"github.com/AntoineDubuc/theodore/internal/selector"
	"github.com/AntoineDubuc/theodore/internal/store"
	"github.com/AntoineDubuc/theodore/pkg/anthropic"
	"github.com/AntoineDubuc/theodore/pkg/embeddings"
	"github.com/AntoineDubuc/theodore/pkg/firecrawl"
	"github.com/AntoineDubuc/theodore/pkg/jina"
)

var (
	researchMaxDepth    int
	researchMaxPages    int
	researchConcurrency int
	researchLLMRPM      int
	researchSSLVerify   bool
	researchJobID       string
	researchJSON        bool
)

var researchCmd = &cobra.Command{
	Use:   "research <company-name> <seed-url>",
	Short: "Research one company and persist its intelligence record",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runResearch(cmd.Context(), args[0], args[1]))
	},
}

func init() {
	researchCmd.Flags().IntVar(&researchMaxDepth, "max-depth", 0, "discovery recursion depth (default from config)")
	researchCmd.Flags().IntVar(&researchMaxPages, "max-pages", 0, "cap on pages extracted (default from config)")
	researchCmd.Flags().IntVar(&researchConcurrency, "concurrency", 0, "parallel page fetches (default from config)")
	researchCmd.Flags().IntVar(&researchLLMRPM, "llm-rpm", 0, "LLM requests per minute (default from config)")
	researchCmd.Flags().BoolVar(&researchSSLVerify, "ssl-verify", true, "verify TLS certificates")
	researchCmd.Flags().StringVar(&researchJobID, "job-id", "", "externally-supplied job id")
	researchCmd.Flags().BoolVar(&researchJSON, "json", false, "print the full record as JSON")
	rootCmd.AddCommand(researchCmd)
}

func runResearch(ctx context.Context, companyName, seedURL string) int {
	applyResearchOverrides()

	if err := cfg.Validate("research"); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDeps(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}
	defer cleanup()

	coord, err := coordinator.New(deps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}

	record, err := coord.Research(ctx, companyName, seedURL, coordinator.Options{
		MaxPages:           cfg.Extraction.MaxPages,
		Concurrency:        cfg.Extraction.Concurrency,
		JobID:              researchJobID,
		DiscoveryTimeout:   cfg.Timeouts.Discovery(),
		SelectionTimeout:   cfg.Timeouts.Selection(),
		ExtractionTimeout:  cfg.Timeouts.Extraction(),
		AggregationTimeout: cfg.Timeouts.Aggregation(),
		PersistenceTimeout: cfg.Timeouts.Persistence(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "research error: %v\n", err)
		return exitFailed
	}

	printRecord(record)
	if record.ScrapeStatus == model.ScrapeFailed {
		return exitFailed
	}
	return exitOK
}

func applyResearchOverrides() {
	if researchMaxDepth > 0 {
		cfg.Discovery.MaxDepth = researchMaxDepth
	}
	if researchMaxPages > 0 {
		cfg.Extraction.MaxPages = researchMaxPages
	}
	if researchConcurrency > 0 {
		cfg.Extraction.Concurrency = researchConcurrency
	}
	if researchLLMRPM > 0 {
		cfg.LLM.RequestsPerMinute = researchLLMRPM
	}
	if !researchSSLVerify {
		cfg.Extraction.SSLVerify = false
	}
}

// buildDeps wires every pipeline component from configuration. The
// returned cleanup releases the browser session, the store pool, and the
// progress bus.
func buildDeps(ctx context.Context) (coordinator.Deps, func(), error) {
	noop := func() {}

	retryCfg := resilience.FromRetryConfig(
		cfg.Resilience.RetryMaxAttempts,
		cfg.Resilience.RetryInitialBackoffMs,
		cfg.Resilience.RetryMaxBackoffMs,
		cfg.Resilience.RetryMultiplier,
		cfg.Resilience.RetryJitter,
	)
	circuitCfg := resilience.FromCircuitConfig(
		cfg.Resilience.CircuitFailureThreshold,
		cfg.Resilience.CircuitResetTimeoutSecs,
	)

	static := fetcher.NewStaticFetcher(cfg.Extraction.SSLVerify).WithCircuitConfig(circuitCfg)
	rendered := fetcher.NewRenderedFetcher()

	renderedBackends := []fetcher.Fetcher{rendered}
	if cfg.Firecrawl.Key != "" {
		renderedBackends = append(renderedBackends,
			fetcher.NewFirecrawlFetcher(firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))))
	}
	if cfg.Jina.Key != "" {
		renderedBackends = append(renderedBackends,
			fetcher.NewJinaFetcher(jina.NewClient(cfg.Jina.Key, jina.WithBaseURL(cfg.Jina.BaseURL))))
	}
	chain := fetcher.NewChain(static, renderedBackends...)

	limits := linkdiscovery.DefaultLimits()
	limits.MaxDepth = cfg.Discovery.MaxDepth
	limits.MaxLinksPerPage = cfg.Discovery.MaxLinksPerPage
	limits.MaxVisitedURLs = cfg.Discovery.MaxVisitedURLs
	limits.MaxWallTime = time.Duration(cfg.Discovery.WallTimeSecs) * time.Second
	limits.ExcludePatterns = cfg.Discovery.ExcludePaths
	discoverer := linkdiscovery.NewDiscoverer(chain, limits)

	anthClient := anthropic.NewClient(cfg.LLM.AnthropicKey)
	primary := llmgateway.NewAnthropicProvider(anthClient, cfg.LLM.PrimaryModel, "anthropic-primary")
	fallback := llmgateway.NewAnthropicProvider(anthClient, cfg.LLM.FallbackModel, "anthropic-fallback")
	gateway := llmgateway.NewGateway(primary, fallback, cfg.LLM.RequestsPerMinute, cfg.Timeouts.Aggregation()).
		WithBreakerConfig(circuitCfg)

	sel := selector.NewSelector(gateway).WithTimeout(cfg.Timeouts.Selection())
	ext := extractor.NewExtractor(chain)
	agg := aggregator.NewAggregator(gateway).
		WithTimeout(cfg.Timeouts.Aggregation()).
		WithCorpusBudget(cfg.Extraction.CorpusBudget)

	var embedder coordinator.Embedder
	if cfg.Embedding.Key != "" {
		client := embeddings.NewHTTPClient(cfg.Embedding.Key, cfg.Embedding.BaseURL, cfg.Embedding.Model).
			WithRetryConfig(retryCfg)
		embedder = embedding.NewService(client, cfg.Embedding.Dimension)
	} else {
		zap.L().Warn("no embedding key configured, records will be stored without vectors")
	}

	pool, err := store.NewPool(ctx, cfg.Storage.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Storage.MaxConns,
		MinConns: cfg.Storage.MinConns,
	})
	if err != nil {
		_ = rendered.Close()
		return coordinator.Deps{}, noop, err
	}

	docs := store.NewPostgresDocumentStore(pool).WithRetryConfig(retryCfg)
	index := store.NewPostgresVectorIndex(pool, cfg.Embedding.Dimension).WithRetryConfig(retryCfg)
	dlq := store.NewDLQStore(pool)
	for _, migrate := range []func(context.Context) error{docs.Migrate, index.Migrate, dlq.Migrate} {
		if err := migrate(ctx); err != nil {
			pool.Close()
			_ = rendered.Close()
			return coordinator.Deps{}, noop, err
		}
	}
	hybrid := store.NewHybrid(docs, index, cfg.Storage.MetadataBudget, cfg.Storage.SummaryPrefixLen)

	bus, err := progress.NewBus(progress.Options{
		SnapshotPath: cfg.Progress.SnapshotPath,
		DatabasePath: cfg.Progress.DatabasePath,
		TailLogPath:  cfg.Progress.TailLogPath,
		MaxJobs:      cfg.Progress.MaxJobs,
		StaleAfter:   time.Duration(cfg.Progress.StaleJobMins) * time.Minute,
	})
	if err != nil {
		pool.Close()
		_ = rendered.Close()
		return coordinator.Deps{}, noop, err
	}

	cleanup := func() {
		_ = bus.Close()
		pool.Close()
		_ = rendered.Close()
	}

	return coordinator.Deps{
		Discoverer: discoverer,
		Selector:   sel,
		Extractor:  ext,
		Aggregator: agg,
		Embedder:   embedder,
		Store:      hybrid,
		Bus:        bus,
		DLQ:        dlq,
	}, cleanup, nil
}

func printRecord(record *model.CompanyRecord) {
	if researchJSON {
		raw, err := json.MarshalIndent(record, "", "  ")
		if err == nil {
			fmt.Println(string(raw))
			return
		}
	}

	fmt.Printf("company:   %s\n", record.Name)
	fmt.Printf("website:   %s\n", record.Website)
	fmt.Printf("status:    %s\n", record.ScrapeStatus)
	if record.ScrapeError != "" {
		fmt.Printf("error:     %s\n", record.ScrapeError)
	}
	if record.Industry != "" {
		fmt.Printf("industry:  %s\n", record.Industry)
	}
	fmt.Printf("pages:     %d\n", len(record.PagesCrawled))
	fmt.Printf("duration:  %dms\n", record.CrawlDurationMS)
	if record.AISummary != "" {
		fmt.Printf("summary:   %s\n", record.AISummary)
	}
}
