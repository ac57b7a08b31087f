package sigindex_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/sigindex"
)

func TestStore_Spans(t *testing.T) {
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	f := newFixture(t, sigindex.WithTracerProvider(tp))
	f.commitN(t, "FOO", 10)

	_, err := f.store.Load(ctx, "FOO")
	require.NoError(t, err)
	_, err = f.store.Load(ctx, "BAR")
	require.ErrorIs(t, err, sigindex.ErrNotBuilt)
	_, err = f.store.Liveness(ctx, "FOO")
	require.NoError(t, err)
	_, err = f.store.Disable(ctx, "FOO")
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 5)

	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name
	}
	assert.Equal(t, []string{
		"sigindex.Commit",
		"sigindex.Load",
		"sigindex.Load",
		"sigindex.Liveness",
		"sigindex.Disable",
	}, names)

	assert.Contains(t, spans[0].Attributes, attribute.String("signal_type", "FOO"))
	assert.Contains(t, spans[0].Attributes, attribute.Int64("checkpoint.total_hash_count", 10))
	assert.Equal(t, codes.Unset, spans[1].Status.Code)
	assert.Equal(t, codes.Error, spans[2].Status.Code)
	assert.Contains(t, spans[3].Attributes, attribute.Bool("blob.live", true))
}
