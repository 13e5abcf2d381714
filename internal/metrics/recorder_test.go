package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveTierDuration("tier2", time.Second)
	r.IncTierResult("tier2", ResultSuccess)
	r.IncNotification()
	r.IncCancellation()
	r.SetStage("ready")
}

func TestPrometheusRecorderRegisters(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.ObserveTierDuration("tier2", 2*time.Second)
	pr.IncTierResult("tier2", ResultSuccess)
	pr.IncNotification()
	pr.IncCancellation()
	pr.IncSnapshotDeduped()
	pr.SetStage("precomputing_tier2")
	pr.ObserveStabilityWait(600 * time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["statewatch_tier_duration_seconds"])
	assert.True(t, names["statewatch_notifications_total"])
	assert.True(t, names["statewatch_scheduler_stage"])
}

func TestNilRecorderMethodsAreSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncNotification()
	pr.SetStage("idle")
}
