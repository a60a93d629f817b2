package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/opencode-pilot/ocp/internal/config"
	"github.com/opencode-pilot/ocp/internal/doctor"
)

var statusStyles = map[string]lipgloss.Style{
	doctor.StatusOK:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
	doctor.StatusWarn: lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
	doctor.StatusFail: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
}

func newDoctorCommand(cfg *config.Config) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, credentials, and server reachability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := doctor.New(cfg)
			if err != nil {
				return err
			}
			report := d.Run(cmd.Context())
			printDoctorReport(cmd.OutOrStdout(), report, plain)
			if !report.Healthy() {
				return errors.New("environment checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "print without terminal styling")
	return cmd
}

func printDoctorReport(out io.Writer, report *doctor.Report, plain bool) {
	for _, result := range report.Results {
		status := result.Status
		if !plain {
			if style, ok := statusStyles[status]; ok {
				status = style.Render(status)
			}
		}
		fmt.Fprintf(out, "%-14s %-6s %s\n", result.Name, status, result.Detail)
	}
}
