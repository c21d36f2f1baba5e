package monitoring

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	FramesTotal.WithLabelValues("running").Inc()
	FramesOverBudget.Inc()

	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `vrtrack_frames_total{state="running"}`))
	assert.True(t, strings.Contains(string(body), "vrtrack_frames_over_budget_total"))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(HapticCommands.WithLabelValues("dropped"))
	HapticCommands.WithLabelValues("dropped").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(HapticCommands.WithLabelValues("dropped")))
}
