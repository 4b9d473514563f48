package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLibraryOp(t *testing.T) {
	m := New()
	m.RecordLibraryOp("add_track", time.Now(), nil)
	m.RecordLibraryOp("add_track", time.Now(), errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LibraryOps.WithLabelValues("add_track", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LibraryOps.WithLabelValues("add_track", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLibraryOp("x", time.Now(), nil)
		m.RecordPluginCall("p", "track", time.Second, nil)
		m.RecordBatch(time.Second, 0, nil)
		m.RecordSignalCache(true)
		m.RecordHTTPRequest("GET", "/", 200)
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	m := New()
	m.RecordBatch(time.Second, 3*time.Second, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nendo_batch_eta_seconds 3")
}
