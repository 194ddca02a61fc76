package proxmox

import (
	"net/netip"
	"sort"
	"strings"

	"go.science.ru.nl/log"
)

// ParsePairs parses a comma separated key=value list as found in the
// network entries of a VM configuration, "virtio=AA:BB,bridge=vmbr0,ip=dhcp"
// and the like. Elements without = are skipped.
func ParsePairs(s string) map[string]string {
	pairs := map[string]string{}
	for _, elem := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(elem, "=")
		if !ok {
			continue
		}
		pairs[k] = v
	}
	return pairs
}

// IPs returns the addresses statically configured on the network entries of
// c, split in private and public ones. Containers carry them on netX keys,
// qemu VMs on ipconfigX (cloud-init). Entries without an ip and entries set
// to dhcp say nothing about the address and are skipped.
func (c VMConfig) IPs(vmtype string) (private, public []string) {
	prefix := "ipconfig"
	if vmtype == "lxc" {
		prefix = "net"
	}
	keys := make([]string, 0, len(c))
	for k := range c {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		ip := ParsePairs(c[k])["ip"]
		if ip == "" || ip == "dhcp" {
			continue
		}
		addr, err := parseAddr(ip)
		if err != nil {
			log.Errorf("Invalid address %q in %s: %s", ip, k, err)
			continue
		}
		if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
			private = append(private, addr.String())
			continue
		}
		public = append(public, addr.String())
	}
	return private, public
}

// parseAddr parses an address with or without prefix length.
func parseAddr(s string) (netip.Addr, error) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Addr(), nil
	}
	return netip.ParseAddr(s)
}
