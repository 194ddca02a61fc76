package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudopper/cloudopper/proto"
	"github.com/gliderlabs/ssh"
	"github.com/phayes/freeport"
	gossh "golang.org/x/crypto/ssh"
)

// newTestRouter starts a control server for the given cloud and returns its
// address and a signer whose key is authorized on it.
func newTestRouter(t *testing.T, cloud *Cloud) (string, gossh.Signer) {
	t.Helper()
	port, err := freeport.GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %s", err)
	}
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %s", err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("Failed to make signer: %s", err)
	}

	router := newSSHRouter(cloud, addr, []ssh.PublicKey{signer.PublicKey()})
	go router.ListenAndServe()
	t.Cleanup(func() { router.Close() })
	if err := waitForPort(context.TODO(), addr, 5*time.Second); err != nil {
		t.Fatalf("Control server never came up: %s", err)
	}
	return addr, signer
}

func sshClient(t *testing.T, addr string, signer gossh.Signer) *gossh.Client {
	t.Helper()
	config := &gossh.ClientConfig{
		User:            "tester",
		Auth:            []gossh.AuthMethod{gossh.PublicKeys(signer)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
	}
	client, err := gossh.Dial("tcp", addr, config)
	if err != nil {
		t.Fatalf("Failed to dial control server: %s", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func sshQuery(t *testing.T, client *gossh.Client, command string) []byte {
	t.Helper()
	ss, err := client.NewSession()
	if err != nil {
		t.Fatalf("Failed to open session: %s", err)
	}
	defer ss.Close()
	out, err := ss.Output(command)
	if err != nil {
		t.Fatalf("Failed to run %q: %s", command, err)
	}
	return out
}

func TestSSHRouter(t *testing.T) {
	_, f := newTestFleet(t)
	f.refresh(context.TODO())
	cloud := &Cloud{
		Fleets:   map[string]*Fleet{"pve": f},
		Profiles: map[string]Profile{"small": {Name: "small", Provider: "pve", Image: "template-debian"}},
	}
	addr, signer := newTestRouter(t, cloud)
	client := sshClient(t, addr, signer)

	out := sshQuery(t, client, "/list/profiles")
	lp := proto.ListProfiles{}
	if err := json.Unmarshal(out, &lp); err != nil {
		t.Fatalf("Failed to unmarshal profiles: %s", err)
	}
	if len(lp.ListProfiles) != 1 || lp.ListProfiles[0].Profile != "small" {
		t.Fatalf("Expected the small profile, got %v", lp.ListProfiles)
	}

	out = sshQuery(t, client, "/list/providers")
	lpr := proto.ListProviders{}
	if err := json.Unmarshal(out, &lpr); err != nil {
		t.Fatalf("Failed to unmarshal providers: %s", err)
	}
	if len(lpr.ListProviders) != 1 || lpr.ListProviders[0].State != "OK" {
		t.Fatalf("Expected one OK provider, got %v", lpr.ListProviders)
	}

	out = sshQuery(t, client, "/list/vms")
	lv := proto.ListVMs{}
	if err := json.Unmarshal(out, &lv); err != nil {
		t.Fatalf("Failed to unmarshal VMs: %s", err)
	}
	if len(lv.ListVMs) != 4 {
		t.Fatalf("Expected 4 VMs, got %d", len(lv.ListVMs))
	}

	out = sshQuery(t, client, "/show/vm web1")
	sv := proto.ShowVM{}
	if err := json.Unmarshal(out, &sv); err != nil {
		t.Fatalf("Failed to unmarshal VM: %s", err)
	}
	if sv.ID != 101 || sv.Config["ipconfig0"] == "" {
		t.Fatalf("Expected web1 with config, got %v", sv)
	}

	// unknown routes must 404
	ss, err := client.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	defer ss.Close()
	err = ss.Run("/nonsense")
	var exitErr *gossh.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitStatus() != http.StatusNotFound {
		t.Errorf("Expected exit status 404, got %v", err)
	}
}

func TestSSHRouterCreate(t *testing.T) {
	pve, f := newTestFleet(t)
	pve.setAgentIP("127.0.0.1")
	cloud := &Cloud{
		Fleets:   map[string]*Fleet{"pve": f},
		Profiles: map[string]Profile{"small": {Name: "small", Provider: "pve", Image: "template-debian"}},
	}
	addr, signer := newTestRouter(t, cloud)
	client := sshClient(t, addr, signer)

	out := sshQuery(t, client, "/vm/create web2 small")
	res := proto.Result{}
	if err := json.Unmarshal(out, &res); err != nil {
		t.Fatalf("Failed to unmarshal result: %s", err)
	}
	if !res.Success || res.Address != "127.0.0.1" {
		t.Fatalf("Expected a success with an address, got %+v", res)
	}
	if pve.vm(105) == nil {
		t.Fatal("Expected VM 105 to exist")
	}

	// creating from an unknown profile must 404
	ss, err := client.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	defer ss.Close()
	err = ss.Run("/vm/create web3 nonexistent")
	var exitErr *gossh.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitStatus() != http.StatusNotFound {
		t.Errorf("Expected exit status 404, got %v", err)
	}
}

func TestSSHRouterDeniesUnknownKeys(t *testing.T) {
	_, f := newTestFleet(t)
	cloud := &Cloud{Fleets: map[string]*Fleet{"pve": f}}
	addr, _ := newTestRouter(t, cloud)

	_, wrong, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := gossh.NewSignerFromKey(wrong)
	if err != nil {
		t.Fatal(err)
	}
	config := &gossh.ClientConfig{
		User:            "tester",
		Auth:            []gossh.AuthMethod{gossh.PublicKeys(signer)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
	}
	if _, err := gossh.Dial("tcp", addr, config); err == nil {
		t.Fatal("Expected the dial to be refused")
	}
}

func TestLoadAuthorizedKeys(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	line := gossh.MarshalAuthorizedKey(signer.PublicKey())

	path := filepath.Join(t.TempDir(), "keys")
	doc := append(append([]byte{}, line...), line...)
	if err := os.WriteFile(path, doc, 0600); err != nil {
		t.Fatal(err)
	}

	keys, err := loadAuthorizedKeys(path)
	if err != nil {
		t.Fatalf("Failed to load keys: %s", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Expected 2 keys, got %d", len(keys))
	}

	// comment lines may sit anywhere, even after the last key
	doc = []byte("# cluster admins\n")
	doc = append(doc, line...)
	doc = append(doc, "# disabled: old laptop key\n"...)
	doc = append(doc, line...)
	doc = append(doc, "# decommissioned\n"...)
	if err := os.WriteFile(path, doc, 0600); err != nil {
		t.Fatal(err)
	}
	keys, err = loadAuthorizedKeys(path)
	if err != nil {
		t.Fatalf("Failed to load commented keys: %s", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Expected 2 keys, got %d", len(keys))
	}

	if err := os.WriteFile(path, []byte("not a key\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadAuthorizedKeys(path); err == nil {
		t.Fatal("Expected an error for garbage keys")
	}
}
