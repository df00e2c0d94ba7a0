package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.PollTick("job_status")
	c.PollTick("job_status")
	c.PollError("job_status")
	c.LoopStarted("job_status")
	c.LoopStarted("job_logs")
	c.LoopStopped("job_logs")
	c.UploadBytes(2048)
	c.UploadBytes(-1)
	c.ChatRequest("stream", OutcomeFailed)
	c.PlayerTransition("playing")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.pollTicks.WithLabelValues("job_status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollErrors.WithLabelValues("job_status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.loopsActive))
	assert.Equal(t, 2048.0, testutil.ToFloat64(c.uploadBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chat.WithLabelValues("stream", OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.player.WithLabelValues("playing")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.PollTick("x")
		c.PollError("x")
		c.LoopStarted("x")
		c.LoopStopped("x")
		c.UploadBytes(1)
		c.ChatRequest("job", OutcomeOK)
		c.PlayerTransition("error")
	})
}

func TestHandlerExposesSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.PollTick("stream_logs")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `vidsight_poll_ticks_total{loop="stream_logs"} 1`)
}
