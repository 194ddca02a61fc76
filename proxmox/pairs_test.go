package proxmox

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.science.ru.nl/log"
)

func TestParsePairs(t *testing.T) {
	for _, test := range []struct {
		in  string
		out map[string]string
	}{
		{
			in:  "virtio=AA:BB:CC:DD:EE:FF,bridge=vmbr0,ip=dhcp",
			out: map[string]string{"virtio": "AA:BB:CC:DD:EE:FF", "bridge": "vmbr0", "ip": "dhcp"},
		},
		{
			in:  "name=eth0,ip=10.0.0.5/24,gw=10.0.0.1",
			out: map[string]string{"name": "eth0", "ip": "10.0.0.5/24", "gw": "10.0.0.1"},
		},
		{
			// malformed elements are skipped
			in:  "local-lvm,size=32G",
			out: map[string]string{"size": "32G"},
		},
		{
			in:  "",
			out: map[string]string{},
		},
	} {
		got := ParsePairs(test.in)
		if diff := cmp.Diff(test.out, got); diff != "" {
			t.Errorf("ParsePairs(%q) wrong:\n%s", test.in, diff)
		}
	}
}

func TestConfigIPs(t *testing.T) {
	log.Discard()
	for _, test := range []struct {
		vmtype  string
		cfg     VMConfig
		private []string
		public  []string
	}{
		{
			vmtype: "lxc",
			cfg: VMConfig{
				"net0":  "name=eth0,ip=10.0.0.5/24,gw=10.0.0.1",
				"net1":  "name=eth1,ip=192.0.2.7/24",
				"cores": "2",
			},
			private: []string{"10.0.0.5"},
			public:  []string{"192.0.2.7"},
		},
		{
			vmtype: "qemu",
			cfg: VMConfig{
				"ipconfig0": "ip=192.0.2.8/24,gw=192.0.2.1",
				"net0":      "virtio=AA:BB:CC:DD:EE:FF,bridge=vmbr0",
			},
			public: []string{"192.0.2.8"},
		},
		{
			// dhcp tells us nothing
			vmtype: "lxc",
			cfg:    VMConfig{"net0": "name=eth0,ip=dhcp"},
		},
		{
			// garbage addresses are logged and skipped
			vmtype: "lxc",
			cfg:    VMConfig{"net0": "name=eth0,ip=not-an-address"},
		},
	} {
		private, public := test.cfg.IPs(test.vmtype)
		if diff := cmp.Diff(test.private, private); diff != "" {
			t.Errorf("IPs(%q) private wrong:\n%s", test.vmtype, diff)
		}
		if diff := cmp.Diff(test.public, public); diff != "" {
			t.Errorf("IPs(%q) public wrong:\n%s", test.vmtype, diff)
		}
	}
}
