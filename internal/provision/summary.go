package provision

import (
	"fmt"
	"io"
	"strings"
)

// WriteSummary prints the post-run summary for the operator.
func WriteSummary(w io.Writer, r *Report) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SDRWatch provisioning complete")
	fmt.Fprintln(w, strings.Repeat("=", 30))
	if r.Host.Hostname != "" {
		fmt.Fprintf(w, "Host:      %s\n", r.Host)
	}
	fmt.Fprintf(w, "Changes:   %d\n", len(r.Actions))
	fmt.Fprintf(w, "Toolchain: %s\n", r.Toolchain.State)

	if r.Services != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Dashboard:   %s\n", r.Services.WebURL)
		fmt.Fprintf(w, "Control API: %s\n", r.Services.ControlURL)
		fmt.Fprintf(w, "Tokens are stored in %s\n", r.Services.EnvFile)
	}

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Warnings:")
		for _, warning := range r.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	if r.RebootRecommended {
		fmt.Fprintln(w, "  - Reboot so the kernel driver blacklist takes effect: sudo reboot")
	}
	if r.Services != nil {
		for _, u := range r.Services.Units {
			fmt.Fprintf(w, "  - Follow logs: journalctl -u %s -f\n", u)
		}
	} else {
		fmt.Fprintln(w, "  - Services were not installed; rerun with SDRWATCH_INSTALL_SERVICES=yes to add them")
	}
	fmt.Fprintln(w, "  - Check the dongle: rtl_test -t")
}
