package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStageAndRun(t *testing.T) {
	m := New()

	m.ObserveStage("retrieve", 20*time.Millisecond, nil)
	m.ObserveStage("generate", time.Second, errors.New("boom"))
	m.ObserveRun("success", time.Second)
	m.ObserveRun("generation_error", time.Second)
	m.ObserveRun("success", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("generation_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageErrors.WithLabelValues("generate")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.stageErrors.WithLabelValues("retrieve")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SetIndexChunks(42)
	m.ObserveHTTP("/agent/invoke", 200)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "docsqa_index_chunks 42")
	assert.Contains(t, string(body), `docsqa_http_requests_total{code="200",route="/agent/invoke"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
