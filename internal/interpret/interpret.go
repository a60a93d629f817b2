// Package interpret provides pure projections over one agent response:
// text extraction, tool-action extraction, and failure detection.
//
// Failure detection reads exit codes only. Matching output text against
// error-shaped strings is deliberately not implemented anywhere in this
// package: legitimate content routinely contains the word "Error".
package interpret

import (
	"strings"

	"github.com/opencode-pilot/ocp/internal/opencode"
)

// OutputLimit bounds stored tool output. This is a storage cap for logs and
// reports, never a detection signal.
const OutputLimit = 500

var writeTools = map[string]struct{}{
	"write": {},
	"edit":  {},
	"patch": {},
}

// ToolAction is one agent action taken during a turn, with the structured
// fields the engine needs for classification and reporting.
type ToolAction struct {
	Tool     string
	Status   string
	ExitCode *int
	FilePath string
	Command  string
	Output   string
	HasError bool
}

// Text concatenates all text parts of a response, newline-joined.
func Text(response *opencode.MessageResponse) string {
	if response == nil {
		return ""
	}

	segments := make([]string, 0, len(response.Parts))
	for _, part := range response.Parts {
		if part.Type != opencode.PartTypeText {
			continue
		}
		if part.Text == "" {
			continue
		}
		segments = append(segments, part.Text)
	}
	return strings.Join(segments, "\n")
}

// ToolActions produces one ToolAction per tool part with captured state.
// Absent or malformed optional fields are treated as "no information".
func ToolActions(response *opencode.MessageResponse) []ToolAction {
	if response == nil {
		return nil
	}

	actions := make([]ToolAction, 0, len(response.Parts))
	for _, part := range response.Parts {
		if part.Type != opencode.PartTypeTool || part.State == nil {
			continue
		}

		action := ToolAction{
			Tool:     strings.TrimSpace(part.Tool),
			Status:   strings.TrimSpace(part.State.Status),
			FilePath: part.State.Input.FilePath,
			Command:  part.State.Input.Command,
			Output:   truncate(part.State.Output, OutputLimit),
		}
		if exit := part.State.Metadata.Exit; exit != nil {
			code := *exit
			action.ExitCode = &code
			action.HasError = code != 0
		}
		actions = append(actions, action)
	}
	return actions
}

// FirstError returns the first action with a non-zero exit code, or nil.
func FirstError(actions []ToolAction) *ToolAction {
	for i := range actions {
		if actions[i].HasError {
			return &actions[i]
		}
	}
	return nil
}

// HasWriteActions reports whether any action used a write- or edit-class
// tool. Callers use this to tailor corrective prompts, never to decide
// success or failure.
func HasWriteActions(actions []ToolAction) bool {
	for _, action := range actions {
		if _, ok := writeTools[strings.ToLower(action.Tool)]; ok {
			return true
		}
	}
	return false
}

func truncate(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit] + "... [truncated]"
}
