package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(WebhookEvents.WithLabelValues("slack", "stored"))
	WebhookEvents.WithLabelValues("slack", "stored").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(WebhookEvents.WithLabelValues("slack", "stored")))
}
