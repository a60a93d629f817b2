package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func TestAgentTurnRecordsOutcomeAttributes(t *testing.T) {
	recorder := withRecorder(t)

	_, turn := StartAgentTurn(context.Background(), AgentTurnRequest{
		SessionID: "s1",
		Iteration: 2,
		Prompt:    "fix the failing test",
	})
	turn.RecordToolAction("bash", true)
	turn.End("stop", 3, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "agent.turn", span.Name())
	assert.Equal(t, codes.Ok, span.Status().Code)

	attrs := map[string]string{}
	files := -1
	for _, attr := range span.Attributes() {
		switch string(attr.Key) {
		case "session_id", "finish_reason", "prompt_hash":
			attrs[string(attr.Key)] = attr.Value.AsString()
		case "files_changed":
			files = int(attr.Value.AsInt64())
		}
	}
	assert.Equal(t, "s1", attrs["session_id"])
	assert.Equal(t, "stop", attrs["finish_reason"])
	assert.NotEmpty(t, attrs["prompt_hash"], "prompt hash must be recorded")
	assert.Equal(t, 3, files)

	events := span.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "agent.tool_action", events[0].Name)
}

func TestAgentTurnEndRedactsSecretsFromErrors(t *testing.T) {
	recorder := withRecorder(t)

	_, turn := StartAgentTurn(context.Background(), AgentTurnRequest{SessionID: "s1"})
	turn.End("", 0, errors.New("request failed: authorization: Basic cGlsb3Q6c2VjcmV0"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	status := spans[0].Status()
	assert.Equal(t, codes.Error, status.Code)
	assert.NotContains(t, status.Description, "cGlsb3Q6c2VjcmV0", "status leaked credentials")
	assert.Contains(t, status.Description, "<redacted>")
}

func TestRedactSecretsBoundsMessageLength(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", maxErrorMessageBytes*2)
	redacted := redactSecrets(long)
	assert.LessOrEqual(t, len(redacted), maxErrorMessageBytes)
	assert.True(t, strings.HasSuffix(redacted, "...[truncated]"), "long message must be marked truncated")
}
