package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := parseHeaders(" api-key = abc ,broken, =skip,x=1")
	require.Equal(t, map[string]string{"api-key": "abc", "x": "1"}, headers)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "")
	cfg := FromEnv("riskd", "dev")
	require.False(t, cfg.Exporting())
	require.True(t, cfg.Insecure)
	require.Equal(t, 1.0, cfg.SampleRatio)

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "k=v")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	cfg = FromEnv("riskd", "prod")
	require.True(t, cfg.Exporting())
	require.False(t, cfg.Insecure)
	require.Equal(t, "v", cfg.Headers["k"])
	require.Equal(t, 0.25, cfg.SampleRatio)

	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "2")
	require.Equal(t, 1.0, FromEnv("riskd", "prod").SampleRatio)
}

func TestInitWithoutCollector(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)

	shutdown, err := Init(context.Background(), Config{ServiceName: "riskd", SampleRatio: 1})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
