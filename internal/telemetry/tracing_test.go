package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init("", nil, "dev", nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_Unknown(t *testing.T) {
	_, err := Init("zipkin", nil, "dev", nil)
	assert.Error(t, err)
}

func TestInit_Stdout(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Init("stdout", &buf, "dev", nil)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "assessment.next")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name": "assessment.next"`)
	assert.Contains(t, buf.String(), "adaptiq")
}
