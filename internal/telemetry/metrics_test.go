package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpersAreNilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		IncCounter(nil)
		IncVec(nil, "x")
		SetGauge(nil, 1)
		SetGaugeVec(nil, 1, "x")
	})
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := MessagesTotal
	Init()
	require.NotNil(t, first)
	assert.Same(t, first, MessagesTotal)

	before := testutil.ToFloat64(MessagesTotal.WithLabelValues("twitch"))
	IncVec(MessagesTotal, "twitch")
	assert.Equal(t, before+1, testutil.ToFloat64(MessagesTotal.WithLabelValues("twitch")))

	SetGaugeVec(ConnectionState, 2, "kick")
	assert.Equal(t, 2.0, testutil.ToFloat64(ConnectionState.WithLabelValues("kick")))
}
