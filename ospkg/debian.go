package ospkg

import (
	"fmt"
)

// DebianInstaller installs packages on Debian/Ubuntu.
type DebianInstaller struct{}

var _ Installer = (*DebianInstaller)(nil)

const (
	aptGetCommand = "/usr/bin/apt-get"
	dpkgCommand   = "/usr/bin/dpkg"
)

func (p *DebianInstaller) Install(pkg string) string {
	return fmt.Sprintf("%s -s %s >/dev/null 2>&1 || %s -qq --assume-yes --no-install-recommends install %s",
		dpkgCommand, pkg, aptGetCommand, pkg)
}
