// Package osutil has a few functions to poke at mine and other systems.
package osutil

import (
	"os"
	"strings"
)

// Hostname returns the hostname of the current machine.
func Hostname() string {
	h, _ := os.Hostname()
	return h
}

// ID returns the ID of the system whose os-release file is in doc, "debian"
// and the like. Machines we bootstrap hand us their os-release over SSH.
func ID(doc []byte) string {
	for _, line := range strings.Split(string(doc), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "ID=") {
			continue
		}
		// Some attributes are quoted, some are not. Cover both.
		return strings.Trim(strings.TrimPrefix(line, "ID="), `"`)
	}
	return ""
}
