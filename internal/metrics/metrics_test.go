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

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.CommandSubmitted()
		c.RecordApplied(1, nil)
		c.BrokenSequence(true)
		c.EngineStopped()
		c.BatchWritten(3, time.Millisecond, nil)
		c.RecordReplayed()
		c.SubscriberPanicked()
	})
}

func TestCollector_Records(t *testing.T) {
	c := NewCollector("test")

	c.CommandSubmitted()
	c.CommandSubmitted()
	c.RecordApplied(7, nil)
	c.RecordApplied(8, errors.New("command failed"))
	c.BrokenSequence(false)
	c.EngineStopped()
	c.BatchWritten(4, time.Millisecond, nil)
	c.BatchWritten(2, time.Millisecond, errors.New("io"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.commandsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsApplied.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commandsApplied.WithLabelValues("error")))
	assert.Equal(t, 8.0, testutil.ToFloat64(c.lastRecord))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.brokenSequences.WithLabelValues("stopped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.engineStopped))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.recordsWritten))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("")
	c.CommandSubmitted()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "memstate_engine_commands_submitted_total 1")
}
