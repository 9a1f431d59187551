package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", base, ExitFailure},
		{"coded", WithCode(ExitUsage, base), ExitUsage},
		{"wrapped", fmt.Errorf("outer: %w", WithCode(ExitAPI, base)), ExitAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestWithCodeKeepsCause(t *testing.T) {
	base := errors.New("boom")
	err := WithCode(ExitValidation, base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "boom", err.Error())
	assert.NoError(t, WithCode(ExitValidation, nil))
}

func TestMigrationMetricsCount(t *testing.T) {
	m := NewMigrationMetrics(prometheus.NewRegistry())
	m.EntitiesCreated.WithLabelValues("story").Add(3)
	m.EntitiesFailed.WithLabelValues("story").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.EntitiesCreated.WithLabelValues("story")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntitiesFailed.WithLabelValues("story")))
}

func TestWriteMetricsFile(t *testing.T) {
	require.NoError(t, WriteMetricsFile(""))

	Metrics().EntitiesCreated.WithLabelValues("label").Inc()
	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, WriteMetricsFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pivotal_import_entities_created_total")
}
