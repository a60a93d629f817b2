// Package report renders a task execution result as Markdown for human
// consumption. Everything it prints is presentation only; classification
// happened upstream and is never re-derived here.
package report

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/opencode-pilot/ocp/internal/engine"
)

const outputPreviewLimit = 2000

var statusHeadlines = map[engine.Status]string{
	engine.StatusCompleted:          "Task completed",
	engine.StatusCompletedNoChanges: "Task completed without file changes",
	engine.StatusMaxIterations:      "Iteration budget exhausted",
	engine.StatusFailed:             "Task failed",
}

// Render produces the full Markdown report for one task result.
func Render(result *engine.TaskResult) string {
	if result == nil {
		return ""
	}

	var b strings.Builder

	headline := statusHeadlines[result.Status]
	if headline == "" {
		headline = "Task finished"
	}
	fmt.Fprintf(&b, "# %s\n\n", headline)

	writeSummary(&b, result)
	writeDiffs(&b, result)
	writeActions(&b, result)
	writeOutput(&b, result)
	writeLog(&b, result)

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeSummary(b *strings.Builder, result *engine.TaskResult) {
	fmt.Fprintf(b, "- Status: `%s`\n", result.Status)
	fmt.Fprintf(b, "- Session: `%s`\n", result.SessionID)
	fmt.Fprintf(b, "- Iterations: %d\n", result.Iterations)
	fmt.Fprintf(b, "- Files changed: %s (+%s / -%s lines)\n",
		humanize.Comma(int64(result.FilesChanged)),
		humanize.Comma(int64(result.Additions)),
		humanize.Comma(int64(result.Deletions)),
	)
	if result.ErrorMessage != "" {
		fmt.Fprintf(b, "- Error: %s\n", result.ErrorMessage)
	}
	b.WriteString("\n")
}

func writeDiffs(b *strings.Builder, result *engine.TaskResult) {
	if len(result.Diffs) == 0 {
		return
	}

	b.WriteString("## Changed files\n\n")
	b.WriteString("| File | Added | Removed |\n")
	b.WriteString("| --- | ---: | ---: |\n")
	for _, diff := range result.Diffs {
		fmt.Fprintf(b, "| `%s` | %s | %s |\n",
			diff.Path,
			humanize.Comma(int64(diff.Additions)),
			humanize.Comma(int64(diff.Deletions)),
		)
	}
	b.WriteString("\n")
}

func writeActions(b *strings.Builder, result *engine.TaskResult) {
	if len(result.Actions) == 0 {
		return
	}

	b.WriteString("## Tool activity\n\n")
	for _, action := range result.Actions {
		marker := "ok"
		if action.HasError {
			marker = "failed"
		}
		target := action.Command
		if target == "" {
			target = action.FilePath
		}
		if target != "" {
			fmt.Fprintf(b, "- **%s** (%s): `%s`\n", action.Tool, marker, target)
		} else {
			fmt.Fprintf(b, "- **%s** (%s)\n", action.Tool, marker)
		}
	}
	b.WriteString("\n")
}

func writeOutput(b *strings.Builder, result *engine.TaskResult) {
	output := strings.TrimSpace(result.Output)
	if output == "" {
		return
	}
	if len(output) > outputPreviewLimit {
		output = output[:outputPreviewLimit] + "\n... [truncated]"
	}

	b.WriteString("## Agent summary\n\n")
	b.WriteString(output)
	b.WriteString("\n\n")
}

func writeLog(b *strings.Builder, result *engine.TaskResult) {
	if len(result.Log) == 0 {
		return
	}

	b.WriteString("## Execution log\n\n")
	for _, line := range result.Log {
		fmt.Fprintf(b, "- %s\n", line)
	}
	b.WriteString("\n")
}
