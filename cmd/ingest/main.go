package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ad/docs-qa/internal/cache"
	"github.com/ad/docs-qa/internal/config"
	"github.com/ad/docs-qa/internal/ingest"
	"github.com/ad/docs-qa/internal/llm"
	"github.com/ad/docs-qa/internal/logger"
	"github.com/ad/docs-qa/internal/parser"
	"github.com/ad/docs-qa/internal/scraper"
	"github.com/ad/docs-qa/internal/types"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	urlsFile := flag.String("urls", "", "file with one documentation URL per line (default: built-in LangSmith pages)")
	sitemap := flag.String("sitemap", "", "sitemap.xml to take page URLs from")
	prefix := flag.String("prefix", "", "only sitemap URLs starting with this prefix")
	docsDir := flag.String("dir", "", "index markdown files from this directory instead of fetching pages")
	savePages := flag.String("save-pages", "", "also write fetched pages as markdown into this directory")
	noCache := flag.Bool("no-cache", false, "do not read or write the embedding cache")
	condense := flag.Bool("condense", false, "rewrite each page into its essential text with the chat model before indexing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	if err := cfg.RequireCredential(); err != nil {
		log.Fatal().Err(err).Msg("missing credential")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, err := llm.NewProvider(cfg.Provider, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create provider")
	}

	var docs []types.Document
	if *docsDir != "" {
		docs, err = parser.NewMarkdownParser(log).ParseDirectory(*docsDir)
	} else {
		docs, err = fetchPages(ctx, cfg, log, *urlsFile, *sitemap, *prefix, *savePages)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load documentation")
	}
	log.Info().Int("documents", len(docs)).Msg("documentation loaded")

	if *condense {
		docs, err = ingest.NewCondenser(provider, cfg.Provider.ChatModel, cfg.Ingest.Concurrency, log).Condense(ctx, docs)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to condense documentation")
		}
	}

	var embeddingCache *cache.EmbeddingCache
	if !*noCache && cfg.Index.CachePath != "" {
		embeddingCache, err = cache.Open(cfg.Index.CachePath, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open embedding cache")
		}
		defer embeddingCache.Close()
	}

	indexer := ingest.NewIndexer(provider, embeddingCache, ingest.Options{
		ChunkSize:    cfg.Chunker.ChunkSize,
		ChunkOverlap: cfg.Chunker.ChunkOverlap,
		BatchSize:    cfg.Provider.EmbedBatchSize,
		Concurrency:  cfg.Ingest.Concurrency,
	}, log)

	store, stats, err := indexer.Build(ctx, docs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build index")
	}
	if err := store.Save(cfg.Index.Path, indexer.Manifest()); err != nil {
		log.Fatal().Err(err).Msg("failed to save index")
	}

	if embeddingCache != nil {
		if cs, err := embeddingCache.Stats(); err == nil {
			log.Info().Int("entries", cs.Entries).Int64("hits", cs.Hits).Int64("misses", cs.Misses).Msg("embedding cache")
		}
	}

	fmt.Printf("Indexed %d pages into %d chunks (%d from cache, %d embedded)\n",
		stats.Documents, stats.Chunks, stats.CacheHits, stats.Embedded)
	fmt.Printf("Index saved to %s\n", cfg.Index.Path)
}

func fetchPages(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger, urlsFile, sitemap, prefix, savePages string) ([]types.Document, error) {
	s := scraper.New(scraper.Config{
		AllowedDomain:   cfg.Ingest.AllowedDomain,
		ContentSelector: cfg.Ingest.ContentQuery,
		RequestDelay:    cfg.Ingest.RequestDelay,
	}, log)

	urls := cfg.Ingest.URLs
	switch {
	case urlsFile != "":
		var err error
		if urls, err = readURLs(urlsFile); err != nil {
			return nil, err
		}
	case sitemap != "":
		var err error
		if urls, err = s.SitemapURLs(ctx, sitemap, prefix); err != nil {
			return nil, err
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no URLs to fetch")
	}

	docs, err := s.Fetch(ctx, urls)
	if err != nil {
		return nil, err
	}

	if savePages != "" {
		if err := scraper.WritePages(savePages, docs); err != nil {
			return nil, err
		}
		log.Info().Str("dir", savePages).Msg("pages saved")
	}
	return docs, nil
}

func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
