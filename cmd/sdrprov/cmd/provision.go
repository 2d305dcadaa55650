package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sdrwatch/sdrprov/internal/collect"
	"github.com/sdrwatch/sdrprov/internal/journal"
	"github.com/sdrwatch/sdrprov/internal/provision"
)

var (
	provisionYes          bool
	provisionSkipServices bool
	provisionNoJournal    bool
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision this host for SDRWatch",
	Long: "Run every provisioning step in order. Must run as root.\n\n" +
		"Configuration values are prompted for on stdin. Set SDRWATCH_AUTO_YES=1\n" +
		"or pass --yes to accept defaults and SDRWATCH_* overrides without prompting.",
	RunE: runProvision,
}

func init() {
	provisionCmd.Flags().BoolVarP(&provisionYes, "yes", "y", false, "accept defaults without prompting")
	provisionCmd.Flags().BoolVar(&provisionSkipServices, "skip-services", false, "do not install the systemd services")
	provisionCmd.Flags().BoolVar(&provisionNoJournal, "no-journal", false, "do not record the run in the journal")
	rootCmd.AddCommand(provisionCmd)
}

func runProvision(cmd *cobra.Command, _ []string) error {
	// 1. Load plan.
	plan, err := loadPlan()
	if err != nil {
		return fmt.Errorf("sdrprov provision: %w", err)
	}

	// 2. Set up structured logger.
	logger := setupLogger(plan.LogLevel, os.Stderr)
	logger.Info("starting sdrprov", "version", buildVersion)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 3. Wire host adapters.
	sys := provision.NewHostSystem(logger, 0, plan.Python.Interpreter)
	orch := provision.New(sys, provision.Options{
		Plan:         *plan,
		SkipServices: provisionSkipServices,
		In:           cmd.InOrStdin(),
		Out:          cmd.OutOrStdout(),
		AutoYes:      collect.AutoYesFromEnv(os.LookupEnv, provisionYes),
	}, logger)

	// 4. Open the run journal. It needs root, which Run checks first.
	if !provisionNoJournal && sys.Root.IsRoot() {
		store, err := journal.Open(plan.JournalPath)
		if err != nil {
			logger.Warn("run journal unavailable", "path", plan.JournalPath, "error", err)
		} else {
			defer store.Close()
			orch.SetJournal(store)
		}
	}

	// 5. Run.
	report, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("sdrprov provision: %w", err)
	}
	provision.WriteSummary(cmd.OutOrStdout(), report)
	return nil
}
