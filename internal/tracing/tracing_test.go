package tracing

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), DefaultConfig())
	require.NoError(t, err)
	require.False(t, p.Enabled())
	_, span := p.Tracer().Start(context.Background(), "x")
	require.False(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestStdoutExporterWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Writer = &buf

	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	_, span := p.Tracer().Start(context.Background(), "graph.rebuild")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
	require.Contains(t, buf.String(), "graph.rebuild")
}

func TestFileExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "spans.json")
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "file"
	cfg.FilePath = path

	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	_, span := p.Tracer().Start(context.Background(), "scan.run")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "scan.run")
}

func TestConfigErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Exporter = "file"
	_, err := NewProvider(context.Background(), cfg)
	require.Error(t, err)

	cfg.Exporter = "carrier-pigeon"
	_, err = NewProvider(context.Background(), cfg)
	require.ErrorContains(t, err, "unsupported exporter")
}
