package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "ingestx-test", "", true)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, shutdown(context.Background()))
	assert.NoError(t, shutdown(context.Background()))
}
