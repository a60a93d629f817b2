package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorMessageBytes = 512

var (
	sensitiveInlinePattern = regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret|authorization)\s*[:=]\s*([^\s,;]+)`)
	basicAuthPattern       = regexp.MustCompile(`(?i)\bbasic\s+[a-z0-9+/=._\-]+`)
)

// AgentTurnRequest defines telemetry metadata for one agent iteration.
type AgentTurnRequest struct {
	SessionID string
	Iteration int
	Prompt    string
}

// AgentTurn tracks one agent.turn span lifecycle.
type AgentTurn struct {
	span      trace.Span
	startedAt time.Time
}

// StartAgentTurn starts an agent.turn span for one loop iteration.
func StartAgentTurn(ctx context.Context, req AgentTurnRequest) (context.Context, *AgentTurn) {
	if ctx == nil {
		ctx = context.Background()
	}

	spanCtx, span := otel.Tracer("ocp/telemetry/agent").Start(
		ctx,
		"agent.turn",
		trace.WithAttributes(
			attribute.String("session_id", normalizeOrUnknown(req.SessionID)),
			attribute.Int("iteration", req.Iteration),
			attribute.String("prompt_hash", hashPrompt(req.Prompt)),
		),
	)

	return spanCtx, &AgentTurn{span: span, startedAt: time.Now()}
}

// RecordToolAction adds a tool invocation event to the active span.
func (t *AgentTurn) RecordToolAction(toolName string, hasError bool) {
	if t == nil || t.span == nil {
		return
	}
	t.span.AddEvent(
		"agent.tool_action",
		trace.WithAttributes(
			attribute.String("tool_name", normalizeOrUnknown(toolName)),
			attribute.Bool("has_error", hasError),
		),
	)
}

// End finalizes the span with turn outcome attributes.
func (t *AgentTurn) End(finishReason string, filesChanged int, err error) {
	if t == nil || t.span == nil {
		return
	}

	durationMS := time.Since(t.startedAt).Milliseconds()
	if durationMS < 0 {
		durationMS = 0
	}
	t.span.SetAttributes(
		attribute.Int64("latency_ms", durationMS),
		attribute.String("finish_reason", normalizeOrUnknown(finishReason)),
		attribute.Int("files_changed", filesChanged),
	)

	if err != nil {
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, redactSecrets(err.Error()))
	} else {
		t.span.SetStatus(codes.Ok, "agent turn completed")
	}
	t.span.End()
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(redactSecrets(prompt)))
	return hex.EncodeToString(sum[:])
}

func redactSecrets(input string) string {
	redacted := strings.TrimSpace(input)
	if redacted == "" {
		return ""
	}
	redacted = basicAuthPattern.ReplaceAllString(redacted, "basic <redacted>")
	redacted = sensitiveInlinePattern.ReplaceAllString(redacted, "$1=<redacted>")
	if len(redacted) > maxErrorMessageBytes {
		return redacted[:maxErrorMessageBytes-len("...[truncated]")] + "...[truncated]"
	}
	return redacted
}

func normalizeOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
