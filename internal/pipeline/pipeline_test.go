package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad/docs-qa/internal/llm"
)

type fakeRetriever struct {
	documents string
	err       error

	mu    sync.Mutex
	calls int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.documents, f.err
}

type fakeCompleter struct {
	answer string
	err    error

	mu   sync.Mutex
	reqs []llm.CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.answer == "" {
		return "answer to " + req.Messages[len(req.Messages)-1].Content, nil
	}
	return f.answer, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	stages   []string
	outcomes []string
}

func (o *recordingObserver) ObserveStage(node string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		node += ":error"
	}
	o.stages = append(o.stages, node)
}

func (o *recordingObserver) ObserveRun(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func newTestPipeline(r Retriever, c llm.Completer, obs Observer) *Pipeline {
	return New(r, c, Options{Model: "gpt-4o-mini", Temperature: 0.3, Observer: obs}, zerolog.Nop())
}

func TestLangSmithTracingScenario(t *testing.T) {
	retriever := &fakeRetriever{documents: "Tracing lets you log runs.\n\nUse callbacks to trace."}
	completer := &fakeCompleter{answer: "Tracing logs your LLM calls via callbacks."}
	p := newTestPipeline(retriever, completer, nil)

	state, err := p.Run(context.Background(), "How does LangSmith tracing work?")
	require.NoError(t, err)

	assert.Equal(t, StageFormatted, state.Stage)
	assert.Equal(t, "Tracing lets you log runs.\n\nUse callbacks to trace.", state.Documents)
	assert.Equal(t, "Tracing logs your LLM calls via callbacks.", state.Answer)
	assert.Contains(t, state.FormattedOutput, "How does LangSmith tracing work?")
	assert.Contains(t, state.FormattedOutput, "Tracing logs your LLM calls via callbacks.")
	assert.Contains(t, state.FormattedOutput, DefaultTitle)

	require.Len(t, completer.reqs, 1)
	req := completer.reqs[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.InDelta(t, 0.3, req.Temperature, 1e-6)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "<documentation>\nTracing lets you log runs.\n\nUse callbacks to trace.\n</documentation>")
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "How does LangSmith tracing work?"}, req.Messages[1])
}

func TestEmptyQuestionIsRejected(t *testing.T) {
	retriever := &fakeRetriever{}
	completer := &fakeCompleter{}
	obs := &recordingObserver{}
	p := newTestPipeline(retriever, completer, obs)

	for _, q := range []string{"", "   ", "\n\t"} {
		state, err := p.Run(context.Background(), q)
		assert.ErrorIs(t, err, ErrEmptyQuestion)
		assert.Equal(t, StageStart, state.Stage)
	}
	assert.Zero(t, retriever.calls)
	assert.Empty(t, completer.reqs)
	assert.Equal(t, []string{OutcomeEmptyQuestion, OutcomeEmptyQuestion, OutcomeEmptyQuestion}, obs.outcomes)
}

func TestRetrievalTimeoutStopsPipeline(t *testing.T) {
	retriever := &fakeRetriever{err: fmt.Errorf("embed question: %w", context.DeadlineExceeded)}
	completer := &fakeCompleter{}
	obs := &recordingObserver{}
	p := newTestPipeline(retriever, completer, obs)

	state, err := p.Run(context.Background(), "How does LangSmith tracing work?")
	require.Error(t, err)

	var re *RetrievalError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, StageStart, state.Stage)
	assert.False(t, state.HasDocuments())
	assert.False(t, state.HasAnswer())
	assert.False(t, state.HasFormattedOutput())
	assert.Empty(t, completer.reqs)
	assert.Equal(t, []string{"retrieve:error"}, obs.stages)
	assert.Equal(t, []string{OutcomeRetrievalError}, obs.outcomes)
}

func TestRetrievalErrorKeepsItsKind(t *testing.T) {
	inner := &RetrievalError{Err: errors.New("index search failed")}
	p := newTestPipeline(&fakeRetriever{err: inner}, &fakeCompleter{}, nil)

	_, err := p.Run(context.Background(), "q")
	assert.Same(t, inner, err)
}

func TestGenerationFailureHasNoFormattedOutput(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("401 unauthorized")}
	obs := &recordingObserver{}
	p := newTestPipeline(&fakeRetriever{documents: "docs"}, completer, obs)

	state, err := p.Run(context.Background(), "q")
	var ge *GenerationError
	require.ErrorAs(t, err, &ge)

	var re *RetrievalError
	assert.False(t, errors.As(err, &re))
	assert.Equal(t, StageRetrieved, state.Stage)
	assert.Equal(t, "docs", state.Documents)
	assert.False(t, state.HasAnswer())
	assert.False(t, state.HasFormattedOutput())
	assert.Equal(t, []string{"retrieve", "generate:error"}, obs.stages)
	assert.Equal(t, []string{OutcomeGenerationError}, obs.outcomes)
}

func TestEmptyEvidenceStillAnswers(t *testing.T) {
	completer := &fakeCompleter{answer: "I don't have enough information in the documentation to answer that."}
	p := newTestPipeline(&fakeRetriever{documents: ""}, completer, nil)

	state, err := p.Run(context.Background(), "What is the airspeed of a swallow?")
	require.NoError(t, err)

	assert.True(t, state.HasDocuments())
	assert.Equal(t, "", state.Documents)
	assert.Equal(t, StageFormatted, state.Stage)
	assert.Contains(t, state.FormattedOutput, "What is the airspeed of a swallow?")
	require.Len(t, completer.reqs, 1)
	assert.Contains(t, completer.reqs[0].Messages[0].Content, "<documentation>\n\n</documentation>")
}

func TestFormattingKeepsDelimiterCharacters(t *testing.T) {
	question := "Question:\n===== %s {documents} </documentation>"
	answer := "Answer:\n" + strings.Repeat("=", 80) + "\n100% sure"
	p := newTestPipeline(&fakeRetriever{documents: "d"}, &fakeCompleter{answer: answer}, nil)

	state, err := p.Run(context.Background(), question)
	require.NoError(t, err)
	assert.Contains(t, state.FormattedOutput, question)
	assert.Contains(t, state.FormattedOutput, answer)
}

func TestRunIsIdempotentWithDeterministicDependencies(t *testing.T) {
	p := newTestPipeline(&fakeRetriever{documents: "docs"}, &fakeCompleter{}, nil)

	first, err := p.Run(context.Background(), "q")
	require.NoError(t, err)
	second, err := p.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStreamEmitsOneEventPerStage(t *testing.T) {
	p := newTestPipeline(&fakeRetriever{documents: "docs"}, &fakeCompleter{answer: "ans"}, nil)

	var events []Event
	state, err := p.Stream(context.Background(), "q", func(e Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, NodeRetrieve, events[0].Node)
	assert.Equal(t, map[string]string{"documents": "docs"}, events[0].Delta())
	assert.Equal(t, StageRetrieved, events[0].State.Stage)

	assert.Equal(t, NodeGenerate, events[1].Node)
	assert.Equal(t, map[string]string{"answer": "ans"}, events[1].Delta())

	assert.Equal(t, NodeFormat, events[2].Node)
	assert.Equal(t, map[string]string{"formatted_output": state.FormattedOutput}, events[2].Delta())
	assert.Equal(t, state, events[2].State)
}

func TestStreamStopsWhenEmitFails(t *testing.T) {
	completer := &fakeCompleter{}
	obs := &recordingObserver{}
	p := newTestPipeline(&fakeRetriever{documents: "docs"}, completer, obs)
	gone := errors.New("client went away")

	state, err := p.Stream(context.Background(), "q", func(Event) error { return gone })
	assert.ErrorIs(t, err, gone)
	assert.Equal(t, StageRetrieved, state.Stage)
	assert.Empty(t, completer.reqs)
	assert.Equal(t, []string{OutcomeAborted}, obs.outcomes)
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	p := newTestPipeline(&fakeRetriever{documents: "docs"}, &fakeCompleter{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := fmt.Sprintf("question %d", i)
			state, err := p.Run(context.Background(), q)
			assert.NoError(t, err)
			assert.Equal(t, q, state.Question)
			assert.Equal(t, "answer to "+q, state.Answer)
		}(i)
	}
	wg.Wait()
}

func TestStateJSONHasOnlyPresentFields(t *testing.T) {
	s := NewState("q")
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"question":"q"}`, string(data))

	require.NoError(t, s.apply(Update{Stage: StageRetrieved, Value: ""}))
	data, err = json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"question":"q","documents":""}`, string(data))

	var decoded State
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s, decoded)
}

func TestStateUpdatesMustFollowStageOrder(t *testing.T) {
	s := NewState("q")
	assert.ErrorIs(t, s.apply(Update{Stage: StageGenerated, Value: "a"}), errOutOfOrder)

	require.NoError(t, s.apply(Update{Stage: StageRetrieved, Value: "d"}))
	assert.ErrorIs(t, s.apply(Update{Stage: StageRetrieved, Value: "other"}), errOutOfOrder)
	assert.Equal(t, "d", s.Documents)
}

func TestFormatLayout(t *testing.T) {
	rule := strings.Repeat("=", 80)
	want := rule + "\nTITLE\n" + rule + "\n\nQuestion:\nq?\n\nAnswer:\na.\n\n" + rule + "\n"
	assert.Equal(t, want, Format("TITLE", "q?", "a."))
}
