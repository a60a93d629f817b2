package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/opencode-pilot/ocp/internal/config"
	"github.com/opencode-pilot/ocp/internal/engine"
	"github.com/opencode-pilot/ocp/internal/events"
	"github.com/opencode-pilot/ocp/internal/logging"
	"github.com/opencode-pilot/ocp/internal/manifest"
	"github.com/opencode-pilot/ocp/internal/opencode"
	"github.com/opencode-pilot/ocp/internal/report"
)

const renderWordWrap = 100

var (
	progressStyle = lipgloss.NewStyle().Faint(true)
	failureStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

type runOptions struct {
	task            string
	directory       string
	maxIterations   int
	continueOnError bool
	manifestPath    string
	plain           bool
}

func newRunCommand(cfg *config.Config, runtimeLogger *logging.RuntimeLogger) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a task, or a manifest of tasks, against the agent server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.task == "" && opts.manifestPath == "" {
				return errors.New("either --task or --manifest is required")
			}
			if opts.task != "" && opts.manifestPath != "" {
				return errors.New("--task and --manifest are mutually exclusive")
			}
			return runTasks(cmd.Context(), cmd.OutOrStdout(), cfg, runtimeLogger, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.task, "task", "t", "", "task description to send to the agent")
	cmd.Flags().StringVarP(&opts.directory, "dir", "d", "", "working directory for the session")
	cmd.Flags().IntVar(&opts.maxIterations, "max-iterations", 0, "iteration budget override")
	cmd.Flags().BoolVar(&opts.continueOnError, "continue-on-error", false, "retry after tool and transport failures")
	cmd.Flags().StringVar(&opts.manifestPath, "manifest", "", "YAML manifest of tasks to run sequentially")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "print raw Markdown without terminal styling")

	return cmd
}

func runTasks(
	ctx context.Context,
	out io.Writer,
	cfg *config.Config,
	runtimeLogger *logging.RuntimeLogger,
	opts *runOptions,
) error {
	tasks, err := resolveTasks(opts)
	if err != nil {
		return err
	}

	credentials, err := config.LoadCredentials(cfg.CredentialsPath)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	client, err := opencode.NewClient(opencode.ClientConfig{
		BaseURL:     cfg.ServerURL,
		Credentials: credentials,
		Timeout:     cfg.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}

	bus := events.New(events.WithLogger(logger(runtimeLogger)))
	bus.SubscribeAll(progressPrinter(os.Stderr, opts.plain))

	taskEngine, err := engine.New(client,
		engine.Config{
			MaxIterations:   cfg.MaxIterations,
			NoProgressLimit: cfg.NoProgressLimit,
			RetryBackoff:    cfg.RetryBackoff,
		},
		engine.WithLogger(logger(runtimeLogger)),
		engine.WithBus(bus),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	var unsuccessful bool
	for i, task := range tasks {
		if len(tasks) > 1 {
			fmt.Fprintf(os.Stderr, "%s\n", progressStyle.Render(
				fmt.Sprintf("[%d/%d] %s", i+1, len(tasks), task.Name)))
		}

		result, err := taskEngine.Execute(ctx, engine.TaskRequest{
			Task:             task.Task,
			WorkingDirectory: task.Directory,
			MaxIterations:    task.MaxIterations,
			ContinueOnError:  task.ContinueOnError,
		})
		if err != nil {
			return fmt.Errorf("task %s: %w", task.Name, err)
		}

		if err := printReport(out, result, opts.plain); err != nil {
			return err
		}
		if result.Status == engine.StatusFailed || result.Status == engine.StatusMaxIterations {
			unsuccessful = true
			fmt.Fprintf(os.Stderr, "%s\n", failureStyle.Render(
				fmt.Sprintf("task %s finished with status %s", task.Name, result.Status)))
		}
	}

	if unsuccessful {
		return errUnsuccessful
	}
	return nil
}

// resolveTasks flattens the single-task flags and the manifest file into one
// task list. CLI flags act as defaults for manifest entries that leave the
// corresponding fields unset.
func resolveTasks(opts *runOptions) ([]manifest.Task, error) {
	if opts.manifestPath == "" {
		return []manifest.Task{{
			Name:            "task",
			Task:            opts.task,
			Directory:       opts.directory,
			MaxIterations:   opts.maxIterations,
			ContinueOnError: opts.continueOnError,
		}}, nil
	}

	m, err := manifest.Load(opts.manifestPath)
	if err != nil {
		return nil, err
	}

	tasks := m.Tasks
	for i := range tasks {
		if tasks[i].Directory == "" {
			tasks[i].Directory = opts.directory
		}
		if tasks[i].MaxIterations == 0 {
			tasks[i].MaxIterations = opts.maxIterations
		}
		if opts.continueOnError {
			tasks[i].ContinueOnError = true
		}
	}
	return tasks, nil
}

func printReport(out io.Writer, result *engine.TaskResult, plain bool) error {
	markdown := report.Render(result)

	if plain || !isTerminal(out) {
		_, err := io.WriteString(out, markdown)
		return err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(renderWordWrap),
	)
	if err != nil {
		_, writeErr := io.WriteString(out, markdown)
		return writeErr
	}

	styled, err := renderer.Render(markdown)
	if err != nil {
		_, writeErr := io.WriteString(out, markdown)
		return writeErr
	}
	_, err = io.WriteString(out, styled)
	return err
}

func progressPrinter(out io.Writer, plain bool) events.Handler {
	return func(event events.Event) {
		line := fmt.Sprintf("[%s] %s", event.Type, event.Message)
		if event.Iteration > 0 {
			line = fmt.Sprintf("[%s] iteration %d: %s", event.Type, event.Iteration, event.Message)
		}
		if !plain {
			line = progressStyle.Render(line)
		}
		fmt.Fprintln(out, line)
	}
}

func isTerminal(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}
