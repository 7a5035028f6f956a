package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ad/docs-qa/internal/llm"
	"github.com/ad/docs-qa/internal/types"
)

const condensePrompt = `Extract only the meaningful content from the documentation page below: facts, definitions, instructions and key conclusions.
Do not add introductions, explanations or commentary.
Return plain text without markdown or HTML markup.`

// Condenser rewrites fetched pages into their essential text with a completion model before indexing.
type Condenser struct {
	completer   llm.Completer
	model       string
	concurrency int
	log         zerolog.Logger
}

func NewCondenser(completer llm.Completer, model string, concurrency int, log zerolog.Logger) *Condenser {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Condenser{
		completer:   completer,
		model:       model,
		concurrency: concurrency,
		log:         log.With().Str("component", "condense").Logger(),
	}
}

// Condense returns a copy of docs with rewritten content. A page whose rewrite fails or comes back
// empty keeps its original content.
func (c *Condenser) Condense(ctx context.Context, docs []types.Document) ([]types.Document, error) {
	out := make([]types.Document, len(docs))
	copy(out, docs)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := range out {
		if strings.TrimSpace(out[i].Content) == "" {
			continue
		}
		g.Go(func() error {
			text, err := c.completer.Complete(ctx, llm.CompletionRequest{
				Model:       c.model,
				Temperature: 0,
				Messages: []llm.Message{
					{Role: llm.RoleSystem, Content: condensePrompt},
					{Role: llm.RoleUser, Content: fmt.Sprintf("# %s\n\n%s", out[i].Title, out[i].Content)},
				},
			})
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				c.log.Warn().Err(err).Str("document", out[i].ID).Msg("condense failed, keeping original text")
				return nil
			}
			if text = strings.TrimSpace(text); text != "" {
				out[i].Content = text
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
