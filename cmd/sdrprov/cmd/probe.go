package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sdrwatch/sdrprov/internal/provision"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Report host readiness without changing anything",
	Long:  "Check the rtl-sdr toolchain, required host tools and Python imports. Does not require root.",
	RunE:  runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, _ []string) error {
	plan, err := loadPlan()
	if err != nil {
		return fmt.Errorf("sdrprov probe: %w", err)
	}
	logger := setupLogger(plan.LogLevel, os.Stderr)

	sys := provision.NewHostSystem(logger, 0, plan.Python.Interpreter)
	d := provision.Diagnose(cmd.Context(), sys, *plan, nil)

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Host:      %s\n", d.Host)
	fmt.Fprintf(w, "Root:      %t\n", d.Root)
	fmt.Fprintf(w, "Toolchain: %s (%s)\n", d.ToolchainState(), strings.Join(d.ProbeCommand, " "))

	fmt.Fprintln(w, "\nHost tools:")
	for _, tool := range d.Tools {
		fmt.Fprintf(w, "  %-10s %s\n", tool.Name, okMissing(tool.Available))
	}

	fmt.Fprintf(w, "\nPython modules (%s):\n", d.VenvDir)
	for _, c := range d.Capabilities {
		fmt.Fprintf(w, "  %-10s %s\n", c.Module, okMissing(c.Available))
	}
	return nil
}

func okMissing(ok bool) string {
	if ok {
		return "ok"
	}
	return "missing"
}
