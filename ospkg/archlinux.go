package ospkg

import (
	"fmt"
)

// ArchLinuxInstaller installs packages on Arch Linux.
type ArchLinuxInstaller struct{}

var _ Installer = (*ArchLinuxInstaller)(nil)

const pacmanCommand = "/usr/bin/pacman"

func (p *ArchLinuxInstaller) Install(pkg string) string {
	return fmt.Sprintf("%s -Qi %s >/dev/null 2>&1 || %s -S --noconfirm %s", pacmanCommand, pkg, pacmanCommand, pkg)
}
