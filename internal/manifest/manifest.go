// Package manifest loads YAML task manifests so a batch of tasks can run
// back to back from one file.
package manifest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Task is one task entry in a manifest. Zero values defer to the runtime
// configuration.
type Task struct {
	Name            string `yaml:"name"`
	Task            string `yaml:"task"`
	Directory       string `yaml:"directory"`
	MaxIterations   int    `yaml:"max_iterations"`
	ContinueOnError bool   `yaml:"continue_on_error"`
}

// Manifest is an ordered list of tasks to execute sequentially.
type Manifest struct {
	Tasks []Task `yaml:"tasks"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	// #nosec G304 -- the path is an operator-supplied CLI argument.
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()

	m, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates manifest YAML. Unknown fields are rejected so
// typos do not silently drop settings.
func Parse(r io.Reader) (*Manifest, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var m Manifest
	if err := decoder.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest is empty")
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if len(m.Tasks) == 0 {
		return errors.New("manifest declares no tasks")
	}

	seen := make(map[string]struct{}, len(m.Tasks))
	for i := range m.Tasks {
		task := &m.Tasks[i]
		if strings.TrimSpace(task.Task) == "" {
			return fmt.Errorf("task %d: description is required", i+1)
		}
		if task.MaxIterations < 0 {
			return fmt.Errorf("task %d: max_iterations must not be negative", i+1)
		}

		task.Name = strings.TrimSpace(task.Name)
		if task.Name == "" {
			task.Name = fmt.Sprintf("task-%d", i+1)
		}
		if _, dup := seen[task.Name]; dup {
			return fmt.Errorf("duplicate task name %q", task.Name)
		}
		seen[task.Name] = struct{}{}
	}
	return nil
}
