package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sdrwatch/sdrprov/internal/fsutil"
	"github.com/sdrwatch/sdrprov/internal/packaging"
	"github.com/sdrwatch/sdrprov/internal/provision"
)

var renderOut string

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the env file and service units without installing them",
	Long: "Resolve the service configuration from defaults and SDRWATCH_* variables and\n" +
		"print the resulting files, or write them into --out. Nothing is installed.",
	RunE: runRender,
}

func init() {
	renderCmd.Flags().StringVar(&renderOut, "out", "", "directory to write the rendered files into (default: stdout)")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, _ []string) error {
	plan, err := loadPlan()
	if err != nil {
		return fmt.Errorf("sdrprov render: %w", err)
	}
	logger := setupLogger(plan.LogLevel, os.Stderr)

	sys := provision.NewHostSystem(logger, 0, plan.Python.Interpreter)
	orch := provision.New(sys, provision.Options{Plan: *plan}, logger)
	rendered, err := orch.RenderServices()
	if err != nil {
		return fmt.Errorf("sdrprov render: %w", err)
	}

	files := []packaging.RenderedFile{rendered.EnvFile}
	for _, u := range rendered.Units {
		files = append(files, u.RenderedFile)
	}

	w := cmd.OutOrStdout()
	for _, f := range files {
		if renderOut == "" {
			fmt.Fprintf(w, "# %s\n%s\n", f.Path, f.Content)
			continue
		}
		dst := filepath.Join(renderOut, filepath.Base(f.Path))
		if err := fsutil.WriteFileAtomic(dst, f.Content, f.Mode); err != nil {
			return fmt.Errorf("sdrprov render: write %s: %w", dst, err)
		}
		fmt.Fprintln(w, dst)
	}
	return nil
}
