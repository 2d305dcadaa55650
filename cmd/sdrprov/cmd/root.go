// Package cmd implements the sdrprov CLI commands.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdrwatch/sdrprov/internal/provision"
)

var (
	cfgFile  string
	logLevel string
)

// Build info set from main.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

// SetVersionInfo sets the version info from build-time ldflags.
func SetVersionInfo(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("sdrprov version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

var rootCmd = &cobra.Command{
	Use:   "sdrprov",
	Short: "sdrprov provisions a Raspberry Pi as an SDRWatch scanner",
	Long: "sdrprov turns a Debian-family host with an RTL-SDR dongle into an SDRWatch node.\n" +
		"It installs OS packages, verifies or builds the rtl-sdr toolchain, blacklists\n" +
		"the conflicting DVB-T driver, prepares the Python environment, and installs\n" +
		"the control and web services. Every step is safe to rerun.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML plan file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error; overrides plan)")

	rootCmd.Version = buildVersion
	rootCmd.SetVersionTemplate(fmt.Sprintf("sdrprov version {{.Version}}\ncommit: %s\nbuilt: %s\n", buildCommit, buildDate))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadPlan reads --config when set, otherwise the defaults, and applies
// the --log-level override.
func loadPlan() (*provision.Plan, error) {
	var p *provision.Plan
	if cfgFile != "" {
		loaded, err := provision.LoadPlan(cfgFile)
		if err != nil {
			return nil, err
		}
		p = loaded
	} else {
		d := provision.DefaultPlan()
		p = &d
	}
	if logLevel != "" {
		p.LogLevel = logLevel
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
