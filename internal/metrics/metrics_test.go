package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(Writes.WithLabelValues("bets", "put", "ok"))
	Writes.WithLabelValues("bets", "put", "ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Writes.WithLabelValues("bets", "put", "ok")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	SnapshotsApplied.WithLabelValues("tasks").Inc()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "strategy_feed_snapshots_applied_total")
}
