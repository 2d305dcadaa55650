// Package pkgmgr applies OS package install requests through the host package manager.
package pkgmgr

import (
	"errors"
	"fmt"
	"strings"
)

// ManagerAPT is the only package manager supported today.
const ManagerAPT = "apt"

// DefaultPackages is the OS layer SDRWatch relies on: driver toolchain build
// dependencies plus the heavy numeric Python stack, which comes from the
// distribution rather than the virtual environment.
var DefaultPackages = []string{
	"git",
	"cmake",
	"build-essential",
	"pkg-config",
	"libusb-1.0-0-dev",
	"rtl-sdr",
	"librtlsdr-dev",
	"python3",
	"python3-venv",
	"python3-pip",
	"python3-numpy",
	"python3-scipy",
	"python3-soapysdr",
	"soapysdr-tools",
	"soapysdr-module-rtlsdr",
	"sqlite3",
}

// Request is an ordered set of package names for one package manager,
// applied as a single batch.
type Request struct {
	Manager  string
	Packages []string
}

// NewRequest builds a Request, dropping blanks and duplicates while keeping
// first-seen order.
func NewRequest(manager string, packages ...string) Request {
	seen := make(map[string]struct{}, len(packages))
	out := make([]string, 0, len(packages))
	for _, p := range packages {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if manager == "" {
		manager = ManagerAPT
	}
	return Request{Manager: manager, Packages: out}
}

// Validate checks the request can be handed to the package manager verbatim.
func (r Request) Validate() error {
	if r.Manager != ManagerAPT {
		return fmt.Errorf("pkgmgr: unsupported package manager %q", r.Manager)
	}
	if len(r.Packages) == 0 {
		return errors.New("pkgmgr: request has no packages")
	}
	for _, p := range r.Packages {
		if strings.HasPrefix(p, "-") {
			return fmt.Errorf("pkgmgr: invalid package name %q", p)
		}
		if strings.ContainsAny(p, " \t\n") {
			return fmt.Errorf("pkgmgr: invalid package name %q", p)
		}
	}
	return nil
}
