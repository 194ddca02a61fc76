package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"encoding/pem"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/cloudopper/cloudopper/proxmox"
	"github.com/gliderlabs/ssh"
	"go.science.ru.nl/log"
	gossh "golang.org/x/crypto/ssh"
)

// fakePVE is a tiny in memory Proxmox cluster. Just enough API to list,
// create, start, stop and destroy VMs against.
type fakePVE struct {
	mu      sync.Mutex
	vms     map[int64]*fakeVM
	nextid  int64
	cloned  url.Values // parameters of the last clone POST
	updated url.Values // parameters of the last config PUT
	agentIP string     // address the guest agent reports, "" means no agent
}

type fakeVM struct {
	id     int64
	name   string
	node   string
	typ    string
	status string
	config map[string]string
}

// vm returns a copy of the VM with the given id, nil when it is gone.
func (p *fakePVE) vm(id int64) *fakeVM {
	p.mu.Lock()
	defer p.mu.Unlock()
	vm, ok := p.vms[id]
	if !ok {
		return nil
	}
	snapshot := *vm
	return &snapshot
}

// setAgentIP brings the guest agent up, reporting ip.
func (p *fakePVE) setAgentIP(ip string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agentIP = ip
}

func (p *fakePVE) cloneParams() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cloned
}

func (p *fakePVE) updateParams() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updated
}

func (p *fakePVE) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		defer p.mu.Unlock()

		path := strings.TrimPrefix(r.URL.Path, "/api2/json/")
		parts := strings.Split(path, "/")
		switch {
		case path == "cluster/resources":
			list := []map[string]interface{}{}
			for _, vm := range p.vms {
				list = append(list, map[string]interface{}{
					"vmid": vm.id, "name": vm.name, "node": vm.node, "type": vm.typ, "status": vm.status,
				})
			}
			writeList(w, list)
		case path == "cluster/nextid":
			writeData(w, strconv.Quote(strconv.FormatInt(p.nextid, 10)))
		case path == "nodes":
			writeData(w, `[{"node": "pve1", "status": "online"}, {"node": "pve2", "status": "offline"}]`)
		case len(parts) == 5 && parts[0] == "nodes" && parts[2] == "storage":
			writeData(w, `[{"volid": "local:vztmpl/debian-12.tar.zst", "content": "vztmpl", "format": "tzst", "size": 130000000}]`)
		case len(parts) == 5 && parts[0] == "nodes" && parts[4] == "clone":
			src := p.vms[vmidOf(parts)]
			if src == nil {
				http.Error(w, "no such VM", http.StatusNotFound)
				return
			}
			r.ParseForm()
			p.cloned = r.PostForm
			newid, _ := strconv.ParseInt(r.PostForm.Get("newid"), 10, 64)
			name := r.PostForm.Get("name")
			nameKey := "name"
			if src.typ == "lxc" {
				name = r.PostForm.Get("hostname")
				nameKey = "hostname"
			}
			config := map[string]string{}
			for k, v := range src.config {
				config[k] = v
			}
			config[nameKey] = name
			p.vms[newid] = &fakeVM{id: newid, name: name, node: src.node, typ: src.typ, status: "stopped", config: config}
			writeData(w, `"UPID:pve1:0001"`)
		case len(parts) == 6 && parts[0] == "nodes" && parts[4] == "status" && parts[5] == "current":
			vm := p.vms[vmidOf(parts)]
			if vm == nil {
				http.Error(w, "no such VM", http.StatusNotFound)
				return
			}
			writeData(w, `{"status": "`+vm.status+`"}`)
		case len(parts) == 6 && parts[0] == "nodes" && parts[4] == "status":
			vm := p.vms[vmidOf(parts)]
			if vm == nil {
				http.Error(w, "no such VM", http.StatusNotFound)
				return
			}
			switch parts[5] {
			case "start":
				vm.status = "running"
			case "stop", "shutdown":
				vm.status = "stopped"
			default:
				http.Error(w, "no such action", http.StatusNotImplemented)
				return
			}
			writeData(w, `"UPID:pve1:0002"`)
		case len(parts) == 5 && parts[0] == "nodes" && parts[4] == "config":
			vm := p.vms[vmidOf(parts)]
			if vm == nil {
				http.Error(w, "no such VM", http.StatusNotFound)
				return
			}
			if r.Method == http.MethodPut {
				r.ParseForm()
				p.updated = r.PostForm
				for k := range r.PostForm {
					vm.config[k] = r.PostForm.Get(k)
				}
				writeData(w, `null`)
				return
			}
			data, _ := json.Marshal(vm.config)
			writeData(w, string(data))
		case len(parts) == 6 && parts[0] == "nodes" && parts[4] == "agent":
			if p.agentIP == "" {
				http.Error(w, "QEMU guest agent is not running", http.StatusInternalServerError)
				return
			}
			writeData(w, `{"result": [
				{"name": "lo", "hardware-address": "00:00:00:00:00:00", "ip-addresses": [{"ip-address-type": "ipv4", "ip-address": "127.0.0.1", "prefix": 8}]},
				{"name": "eth0", "hardware-address": "aa:bb:cc:dd:ee:ff", "ip-addresses": [{"ip-address-type": "ipv4", "ip-address": "`+p.agentIP+`", "prefix": 24}]}
			]}`)
		case len(parts) == 4 && parts[0] == "nodes" && r.Method == http.MethodDelete:
			if p.vms[vmidOf(parts)] == nil {
				http.Error(w, "no such VM", http.StatusNotFound)
				return
			}
			delete(p.vms, vmidOf(parts))
			writeData(w, `"UPID:pve1:0003"`)
		default:
			http.Error(w, "unhandled path "+r.URL.Path, http.StatusNotImplemented)
		}
	}
}

func vmidOf(parts []string) int64 {
	id, _ := strconv.ParseInt(parts[3], 10, 64)
	return id
}

func writeData(w http.ResponseWriter, data string) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"data":`+data+`}`)
}

func writeList(w http.ResponseWriter, list []map[string]interface{}) {
	data, _ := json.Marshal(list)
	writeData(w, string(data))
}

// newTestFleet starts a fakePVE and returns it with a fleet talking to it.
func newTestFleet(t *testing.T) (*fakePVE, *Fleet) {
	t.Helper()
	log.Discard()
	pve := &fakePVE{
		vms: map[int64]*fakeVM{
			100: {id: 100, name: "template-debian", node: "pve1", typ: "qemu", status: "stopped",
				config: map[string]string{"name": "template-debian", "template": "1"}},
			101: {id: 101, name: "web1", node: "pve1", typ: "qemu", status: "running",
				config: map[string]string{"name": "web1", "ipconfig0": "ip=192.0.2.7/24,gw=192.0.2.1"}},
			102: {id: 102, name: "ct1", node: "pve2", typ: "lxc", status: "running",
				config: map[string]string{"hostname": "ct1", "net0": "name=eth0,ip=10.0.0.5/24,gw=10.0.0.1"}},
			103: {id: 103, name: "", node: "pve1", typ: "qemu", status: "stopped",
				config: map[string]string{}},
			104: {id: 104, name: "template-alpine", node: "pve1", typ: "lxc", status: "stopped",
				config: map[string]string{"hostname": "template-alpine", "net0": "name=eth0,ip=10.0.0.9/24,gw=10.0.0.1"}},
		},
		nextid: 105,
	}
	srv := httptest.NewServer(pve.handler())
	t.Cleanup(srv.Close)
	client := proxmox.New(srv.URL, "root@pam", "test", "secret", false)
	f := newFleet(Provider{Name: "pve", URL: srv.URL, User: "root@pam", TokenID: "test", Token: "secret"}, client)
	return pve, f
}

// testSSHServer plays the machine we just created: it takes any key,
// answers os-release reads with a Debian one and records every command.
type testSSHServer struct {
	port    int
	keyfile string

	mu   sync.Mutex
	cmds []string
}

func (t *testSSHServer) commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.cmds...)
}

func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()
	srv := &testSSHServer{}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %s", err)
	}
	block, err := gossh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("Failed to marshal key: %s", err)
	}
	srv.keyfile = filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(srv.keyfile, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("Failed to write keyfile: %s", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %s", err)
	}
	srv.port = ln.Addr().(*net.TCPAddr).Port

	server := &ssh.Server{
		Handler: func(s ssh.Session) {
			cmd := s.RawCommand()
			srv.mu.Lock()
			srv.cmds = append(srv.cmds, cmd)
			srv.mu.Unlock()
			if strings.Contains(cmd, "os-release") {
				io.WriteString(s, "PRETTY_NAME=\"Debian GNU/Linux 12 (bookworm)\"\nID=debian\n")
			}
		},
		PublicKeyHandler: func(ctx ssh.Context, key ssh.PublicKey) bool { return true },
	}
	go server.Serve(ln)
	t.Cleanup(func() { server.Close() })
	return srv
}
