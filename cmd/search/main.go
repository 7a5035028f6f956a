package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ad/docs-qa/internal/app"
)

var defaultQueries = []string{
	"how to set up tracing",
	"online vs offline evaluation",
	"prompt hub",
	"annotation queues",
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	k := flag.Int("k", 3, "results per query")
	flag.Parse()

	ctx := context.Background()
	rt, err := app.Bootstrap(ctx, *configPath, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	queries := flag.Args()
	if len(queries) == 0 {
		queries = defaultQueries
	}

	fmt.Printf("Chunks in index: %d (dimension %d)\n", rt.Index.Count(), rt.Index.Dimension())
	for _, query := range queries {
		fmt.Printf("\n--- Query: %q ---\n", query)

		results, err := rt.Retrieval.FindRelevantChunks(ctx, query, *k)
		if err != nil {
			rt.Log.Error().Err(err).Str("query", query).Msg("search failed")
			continue
		}

		fmt.Printf("Results: %d\n", len(results))
		for i, result := range results {
			fmt.Printf("%d. %s (score %.4f)\n", i+1, result.Chunk.ID, result.Score)
			fmt.Printf("   source: %s\n", result.Chunk.Source)
			fmt.Printf("   text:   %s\n", truncate(strings.Join(strings.Fields(result.Chunk.Text), " "), 120))
		}
	}
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}
