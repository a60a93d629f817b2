package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	input := `
tasks:
  - name: fix-login
    task: Fix the login redirect loop
    directory: /srv/app
    max_iterations: 5
    continue_on_error: true
  - task: Add a health endpoint
`
	m, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(m.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(m.Tasks))
	}

	first := m.Tasks[0]
	if first.Name != "fix-login" || first.Directory != "/srv/app" {
		t.Errorf("first task = %+v", first)
	}
	if first.MaxIterations != 5 || !first.ContinueOnError {
		t.Errorf("first task overrides = %+v", first)
	}

	if m.Tasks[1].Name != "task-2" {
		t.Errorf("unnamed task = %q, want generated name task-2", m.Tasks[1].Name)
	}
	if m.Tasks[1].MaxIterations != 0 {
		t.Errorf("second task should defer max_iterations to config, got %d", m.Tasks[1].MaxIterations)
	}
}

func TestParseRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty document", input: "", want: "empty"},
		{name: "no tasks", input: "tasks: []", want: "no tasks"},
		{name: "missing description", input: "tasks:\n  - name: broken", want: "description is required"},
		{name: "negative iterations", input: "tasks:\n  - task: x\n    max_iterations: -1", want: "must not be negative"},
		{name: "duplicate names", input: "tasks:\n  - name: a\n    task: x\n  - name: a\n    task: y", want: "duplicate task name"},
		{name: "unknown field", input: "tasks:\n  - task: x\n    retries: 3", want: "field retries not found"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse(strings.NewReader(tc.input))
			if err == nil {
				t.Fatal("Parse should fail")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tasks.yaml")
	content := "tasks:\n  - task: Fix the bug\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(m.Tasks) != 1 || m.Tasks[0].Task != "Fix the bug" {
		t.Errorf("manifest = %+v", m)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load should fail for a missing file")
	}
}
