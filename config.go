package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds the cloudopper config file.
type Config struct {
	Global    Global
	Providers []Provider
	Profiles  []Profile
}

// Global holds defaults that apply daemon wide.
type Global struct {
	Interval  string    // How often to poll each cluster, a duration like "60s".
	Pubkeys   string    // Path of the file with public keys allowed on the control port.
	Bootstrap Bootstrap // Bootstrap defaults, merged into every profile.
}

// Provider is a single Proxmox cluster to track.
type Provider struct {
	Name      string // Identifier for this cluster - used in the control commands.
	URL       string // The URL of the API endpoint, https://host:8006 usually.
	User      string // The API token user, root@pam and the like.
	TokenID   string // The name of the API token.
	Token     string // The token secret. Mutually exclusive with TokenFile.
	TokenFile string // File to read the token secret from.
	Insecure  bool   // Skip TLS verification, for self signed cluster certificates.
	Storage   string // The storage searched for images (defaults to 'local').
	Machine   string // When set only this machine tracks the provider.
}

// Profile describes how to create a VM.
type Profile struct {
	Name      string            // Identifier for this profile - used in the create command.
	Provider  string            // Which provider to create the VM on.
	Image     string            // Name of the template VM to clone.
	Full      bool              // Make a full clone instead of a linked one.
	Storage   string            // Target storage for a full clone.
	Pool      string            // Resource pool for the new VM.
	Config    map[string]string // Extra config set on the new VM, cores, memory, etc.
	Bootstrap Bootstrap         // How to provision the new VM.
}

// Bootstrap describes how to reach and provision a new VM over SSH. With an
// empty User provisioning is skipped entirely.
type Bootstrap struct {
	User     string   // Log in as this user.
	Keyfile  string   // Private key to log in with.
	Port     int      // SSH port on the new VM (defaults to 22).
	Packages []string // Packages to install.
	Run      []string // Commands to run after the packages are in.
}

// parseConfig parses the TOML document in doc. Unknown directives are an error.
func parseConfig(doc []byte) (Config, error) {
	c := Config{}
	dec := toml.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	err := dec.Decode(&c)
	return c, err
}

// Valid checks the config in c and returns nil if all mandatory fields have been set.
func (c Config) Valid() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}
	if c.Global.Interval != "" {
		if _, err := time.ParseDuration(c.Global.Interval); err != nil {
			return fmt.Errorf("global interval: %s", err)
		}
	}
	providers := map[string]bool{}
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider without a name")
		}
		if providers[p.Name] {
			return fmt.Errorf("provider %q defined more than once", p.Name)
		}
		providers[p.Name] = true
		if p.URL == "" {
			return fmt.Errorf("provider %q: url is mandatory", p.Name)
		}
		if p.User == "" || p.TokenID == "" {
			return fmt.Errorf("provider %q: user and tokenid are mandatory", p.Name)
		}
		if p.Token == "" && p.TokenFile == "" {
			return fmt.Errorf("provider %q: one of token or tokenfile is mandatory", p.Name)
		}
	}
	profiles := map[string]bool{}
	for _, pr := range c.Profiles {
		if pr.Name == "" {
			return fmt.Errorf("profile without a name")
		}
		if profiles[pr.Name] {
			return fmt.Errorf("profile %q defined more than once", pr.Name)
		}
		profiles[pr.Name] = true
		if !providers[pr.Provider] {
			return fmt.Errorf("profile %q: unknown provider %q", pr.Name, pr.Provider)
		}
		if pr.Image == "" {
			return fmt.Errorf("profile %q: image is mandatory", pr.Name)
		}
	}
	return nil
}

// interval returns the poll interval, 60 seconds when not configured and
// never less than 5.
func (g Global) interval() time.Duration {
	if g.Interval == "" {
		return 60 * time.Second
	}
	d, _ := time.ParseDuration(g.Interval)
	if d < 5*time.Second {
		return 5 * time.Second
	}
	return d
}

// token returns the API token secret, inline or read from the token file.
func (p Provider) token() (string, error) {
	if p.Token != "" {
		return p.Token, nil
	}
	buf, err := os.ReadFile(p.TokenFile)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(buf)), nil
}

// forMe compares the hostnames with the provider machine name, an empty
// machine name matches every machine.
func (p Provider) forMe(hostnames []string) bool {
	if p.Machine == "" {
		return true
	}
	for _, h := range hostnames {
		if h == p.Machine {
			return true
		}
	}
	return false
}

// merge merges anything defined in global into p when p doesn't specify it and returns the new Profile.
func (p Profile) merge(global Global) Profile {
	if p.Bootstrap.User == "" {
		p.Bootstrap.User = global.Bootstrap.User
	}
	if p.Bootstrap.Keyfile == "" {
		p.Bootstrap.Keyfile = global.Bootstrap.Keyfile
	}
	if p.Bootstrap.Port == 0 {
		p.Bootstrap.Port = global.Bootstrap.Port
	}
	if p.Bootstrap.Port == 0 {
		p.Bootstrap.Port = 22
	}
	if len(p.Bootstrap.Packages) == 0 {
		p.Bootstrap.Packages = global.Bootstrap.Packages
	}
	if len(p.Bootstrap.Run) == 0 {
		p.Bootstrap.Run = global.Bootstrap.Run
	}
	return p
}
