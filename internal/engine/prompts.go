package engine

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/opencode-pilot/ocp/internal/interpret"
)

//go:embed prompts/*.tmpl
var promptTemplatesFS embed.FS

var promptTemplates = template.Must(template.ParseFS(promptTemplatesFS, "prompts/*.tmpl"))

// BuildInitialPrompt renders the first prompt of a task session.
func BuildInitialPrompt(task, workingDirectory string) (string, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return "", errors.New("task description is required")
	}

	workingDirectory = strings.TrimSpace(workingDirectory)
	if workingDirectory == "" {
		workingDirectory = "(server default)"
	}

	return renderTemplate("initial.tmpl", struct {
		Task             string
		WorkingDirectory string
	}{Task: task, WorkingDirectory: workingDirectory})
}

// BuildToolErrorPrompt renders the corrective prompt for one failed tool
// invocation, quoting the failing command, output, and exit code.
func BuildToolErrorPrompt(action interpret.ToolAction) (string, error) {
	exitCode := "unknown"
	if action.ExitCode != nil {
		exitCode = fmt.Sprintf("%d", *action.ExitCode)
	}

	return renderTemplate("tool_error.tmpl", struct {
		Tool     string
		Command  string
		FilePath string
		ExitCode string
		Output   string
	}{
		Tool:     nonEmpty(action.Tool, "unknown"),
		Command:  strings.TrimSpace(action.Command),
		FilePath: strings.TrimSpace(action.FilePath),
		ExitCode: exitCode,
		Output:   strings.TrimSpace(action.Output),
	})
}

// BuildVerifyEditsPrompt asks the agent to re-apply edits that produced no
// recorded file changes.
func BuildVerifyEditsPrompt(task string) (string, error) {
	return renderTemplate("verify_edits.tmpl", struct{ Task string }{Task: strings.TrimSpace(task)})
}

// BuildUseWriteToolsPrompt instructs an agent that has only been reading to
// start making changes.
func BuildUseWriteToolsPrompt(task string) (string, error) {
	return renderTemplate("use_write_tools.tmpl", struct{ Task string }{Task: strings.TrimSpace(task)})
}

// BuildContinuationPrompt renders the generic continuation prompt used after
// transport retries and non-stop finish reasons.
func BuildContinuationPrompt() (string, error) {
	return renderTemplate("continue.tmpl", struct{}{})
}

func renderTemplate(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render prompt template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

func nonEmpty(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
