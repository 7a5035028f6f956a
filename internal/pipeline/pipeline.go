package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ad/docs-qa/internal/llm"
)

// Node names, as reported to stream consumers and metrics.
const (
	NodeRetrieve = "retrieve"
	NodeGenerate = "generate"
	NodeFormat   = "format"
)

// Run outcomes reported to the Observer.
const (
	OutcomeSuccess         = "success"
	OutcomeEmptyQuestion   = "empty_question"
	OutcomeRetrievalError  = "retrieval_error"
	OutcomeGenerationError = "generation_error"
	OutcomeAborted         = "aborted"
)

// Retriever returns the retrieved documentation text for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) (string, error)
}

// Observer receives stage and run timings.
type Observer interface {
	ObserveStage(node string, d time.Duration, err error)
	ObserveRun(outcome string, d time.Duration)
}

// Event is emitted after each stage completes.
type Event struct {
	Node   string
	Update Update
	State  State
}

// Delta holds only the field the stage added, keyed by its wire name.
func (e Event) Delta() map[string]string {
	name := map[Stage]string{
		StageRetrieved: "documents",
		StageGenerated: "answer",
		StageFormatted: "formatted_output",
	}[e.Update.Stage]
	return map[string]string{name: e.Update.Value}
}

type Options struct {
	Model       string
	Temperature float32
	// Title is the banner of the formatted output; DefaultTitle when empty.
	Title    string
	Observer Observer
}

// Pipeline runs retrieve, generate and format in that order for each question.
// It holds no per-invocation state and is safe for concurrent use.
type Pipeline struct {
	retriever Retriever
	generator *Generator
	title     string
	observer  Observer
	log       zerolog.Logger
}

func New(retriever Retriever, completer llm.Completer, opts Options, log zerolog.Logger) *Pipeline {
	log = log.With().Str("component", "pipeline").Logger()
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	return &Pipeline{
		retriever: retriever,
		generator: NewGenerator(completer, opts.Model, opts.Temperature, log),
		title:     opts.Title,
		observer:  opts.Observer,
		log:       log,
	}
}

// Run answers one question. On failure the returned state holds only the stages that completed.
func (p *Pipeline) Run(ctx context.Context, question string) (State, error) {
	return p.Stream(ctx, question, nil)
}

// Stream is Run with emit called after every stage. An emit error aborts the run.
func (p *Pipeline) Stream(ctx context.Context, question string, emit func(Event) error) (State, error) {
	state := NewState(question)
	started := time.Now()

	if strings.TrimSpace(question) == "" {
		p.observeRun(OutcomeEmptyQuestion, started)
		return state, ErrEmptyQuestion
	}

	steps := []struct {
		node  string
		stage Stage
		run   func(ctx context.Context, s State) (string, error)
	}{
		{NodeRetrieve, StageRetrieved, p.retrieve},
		{NodeGenerate, StageGenerated, func(ctx context.Context, s State) (string, error) {
			return p.generator.Generate(ctx, s.Question, s.Documents)
		}},
		{NodeFormat, StageFormatted, func(_ context.Context, s State) (string, error) {
			return Format(p.title, s.Question, s.Answer), nil
		}},
	}

	for _, step := range steps {
		stepStarted := time.Now()
		value, err := step.run(ctx, state)
		if p.observer != nil {
			p.observer.ObserveStage(step.node, time.Since(stepStarted), err)
		}
		if err != nil {
			p.log.Warn().Err(err).Str("node", step.node).Msg("stage failed")
			p.observeRun(outcomeOf(err), started)
			return state, err
		}

		update := Update{Stage: step.stage, Value: value}
		if err := state.apply(update); err != nil {
			return state, err
		}
		p.log.Debug().Str("node", step.node).Int("len", len(value)).Dur("took", time.Since(stepStarted)).Msg("stage complete")

		if emit != nil {
			if err := emit(Event{Node: step.node, Update: update, State: state}); err != nil {
				p.observeRun(OutcomeAborted, started)
				return state, err
			}
		}
	}

	p.log.Info().Int("answer_len", len(state.Answer)).Dur("took", time.Since(started)).Msg("question answered")
	p.observeRun(OutcomeSuccess, started)
	return state, nil
}

func (p *Pipeline) retrieve(ctx context.Context, s State) (string, error) {
	documents, err := p.retriever.Retrieve(ctx, s.Question)
	if err != nil {
		var re *RetrievalError
		if !errors.As(err, &re) {
			err = &RetrievalError{Err: err}
		}
		return "", err
	}
	return documents, nil
}

func (p *Pipeline) observeRun(outcome string, started time.Time) {
	if p.observer != nil {
		p.observer.ObserveRun(outcome, time.Since(started))
	}
}

func outcomeOf(err error) string {
	var (
		re *RetrievalError
		ge *GenerationError
	)
	switch {
	case errors.As(err, &re):
		return OutcomeRetrievalError
	case errors.As(err, &ge):
		return OutcomeGenerationError
	default:
		return OutcomeAborted
	}
}
