package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	Register(reg)

	// a second registration of the same collectors is a programming error
	assert.Panics(t, func() { Register(reg) })

	ArchivesFinishedTotal.WithLabelValues("completed").Inc()
	QueuedBytes.Set(450)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	var queued float64
	for _, f := range families {
		names[f.GetName()] = true
		if f.GetName() == "nzbleecher_queued_bytes" {
			queued = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.True(t, names["nzbleecher_archives_finished_total"])
	assert.Equal(t, float64(450), queued)
}
