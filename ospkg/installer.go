// Package ospkg builds the package install commands for the distributions
// we know how to bootstrap. The commands run on the newly created machine,
// not here, so installers return command lines instead of executing them.
package ospkg

import (
	"go.science.ru.nl/log"
)

// Installer represents the OS package installation tool of a distribution.
type Installer interface {
	// Install returns the command line that installs pkg, or "" when
	// there is nothing to run.
	Install(pkg string) string
}

// New returns an Installer suited for the system identified by id, the ID
// field of its os-release file. The NoopInstaller is returned when none match.
func New(id string) Installer {
	switch id {
	case "debian", "ubuntu":
		return new(DebianInstaller)
	case "arch":
		return new(ArchLinuxInstaller)
	}
	log.Warningf("Returning Noop package installer for %q", id)
	return new(NoopInstaller)
}
