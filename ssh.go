package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/cloudopper/cloudopper/proto"
	"github.com/cloudopper/cloudopper/proxmox"
	"github.com/gliderlabs/ssh"
	"go.science.ru.nl/log"
	gossh "golang.org/x/crypto/ssh"
)

var sshRoutes = map[string]func(*Cloud, ssh.Session){
	"/list/providers": ListProviders,
	"/list/nodes":     ListNodes,
	"/list/vms":       ListVMs,
	"/list/images":    ListImages,
	"/list/profiles":  ListProfiles,
	"/show/vm":        ShowVM,
	"/vm/create":      CreateVM,
	"/vm/destroy":     DestroyVM,
	"/vm/start":       StartVM,
	"/vm/stop":        StopVM,
	"/vm/shutdown":    ShutdownVM,
	"/vm/reconfigure": ReconfigureVM,
	"/vm/clone":       CloneVM,
}

// newSSHRouter returns an SSH server on addr that routes command paths to
// the handler with the matching prefix. Only the given keys get in.
func newSSHRouter(cloud *Cloud, addr string, authorized []ssh.PublicKey) *ssh.Server {
	server := &ssh.Server{Addr: addr}
	server.Handle(func(s ssh.Session) {
		if len(s.Command()) == 0 {
			// exit code
			return
		}
		for prefix, f := range sshRoutes {
			if strings.HasPrefix(s.Command()[0], prefix) {
				f(cloud, s)
				return
			}
		}
		io.WriteString(s, http.StatusText(http.StatusNotFound))
		s.Exit(http.StatusNotFound)
	})
	server.PublicKeyHandler = func(ctx ssh.Context, key ssh.PublicKey) bool {
		for _, k := range authorized {
			if ssh.KeysEqual(key, k) {
				return true
			}
		}
		log.Warningf("Denying access for user %q from %s", ctx.User(), ctx.RemoteAddr())
		return false
	}
	return server
}

// loadAuthorizedKeys reads an authorized_keys style file. Comment lines are
// skipped, as sshd(8) allows them anywhere in the file.
func loadAuthorizedKeys(path string) ([]ssh.PublicKey, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	keys := []ssh.PublicKey{}
	for {
		buf = bytes.TrimSpace(buf)
		if len(buf) == 0 {
			break
		}
		if buf[0] == '#' {
			i := bytes.IndexByte(buf, '\n')
			if i < 0 {
				break
			}
			buf = buf[i+1:]
			continue
		}
		key, _, _, rest, err := gossh.ParseAuthorizedKey(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %q: %s", path, err)
		}
		keys = append(keys, key)
		buf = rest
	}
	return keys, nil
}

// arg returns argument i of the session command line, "" when absent.
func arg(s ssh.Session, i int) string {
	if len(s.Command()) <= i {
		return ""
	}
	return s.Command()[i]
}

// reply marshals v and writes it to the client.
func reply(s ssh.Session, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		io.WriteString(s, http.StatusText(http.StatusInternalServerError))
		s.Exit(http.StatusInternalServerError)
		return
	}
	s.Write(data)
}

// fail writes err back to the client with an exit status resembling HTTP.
func fail(s ssh.Session, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, proxmox.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, proxmox.ErrTimeout):
		code = http.StatusGatewayTimeout
	}
	io.WriteString(s, http.StatusText(code)+": "+err.Error())
	s.Exit(code)
}

// usage tells the client how the command should have been called.
func usage(s ssh.Session, text string) {
	io.WriteString(s, http.StatusText(http.StatusNotAcceptable)+", "+text)
	s.Exit(http.StatusNotAcceptable)
}

func ListProviders(c *Cloud, s ssh.Session) {
	reply(s, c.providerList())
}

func ListNodes(c *Cloud, s ssh.Session) {
	ln, err := c.nodeList(s.Context(), arg(s, 1))
	if err != nil {
		fail(s, err)
		return
	}
	reply(s, ln)
}

func ListVMs(c *Cloud, s ssh.Session) {
	lv, err := c.vmList(s.Context(), arg(s, 1))
	if err != nil {
		fail(s, err)
		return
	}
	reply(s, lv)
}

func ListImages(c *Cloud, s ssh.Session) {
	li, err := c.imageList(s.Context(), arg(s, 1))
	if err != nil {
		fail(s, err)
		return
	}
	reply(s, li)
}

func ListProfiles(c *Cloud, s ssh.Session) {
	reply(s, c.profileList())
}

func ShowVM(c *Cloud, s ssh.Session) {
	name := arg(s, 1)
	if name == "" {
		usage(s, "need <name>")
		return
	}
	f, _, err := c.findVM(s.Context(), name)
	if err != nil {
		fail(s, err)
		return
	}
	detail, err := f.Detail(s.Context(), name)
	if err != nil {
		fail(s, err)
		return
	}
	reply(s, detail)
}

func CreateVM(c *Cloud, s ssh.Session) {
	name, profname := arg(s, 1), arg(s, 2)
	if name == "" || profname == "" {
		usage(s, "need <name> <profile>")
		return
	}
	prof, err := c.profile(profname)
	if err != nil {
		fail(s, err)
		return
	}
	f, err := c.fleet(prof.Provider)
	if err != nil {
		fail(s, err)
		return
	}
	addr, err := f.Create(s.Context(), name, prof)
	if err != nil {
		fail(s, err)
		return
	}
	reply(s, proto.Result{Success: true, Action: "create", Name: name, State: "running", Address: addr})
}

func DestroyVM(c *Cloud, s ssh.Session) {
	name := arg(s, 1)
	if name == "" {
		usage(s, "need <name>")
		return
	}
	f, _, err := c.findVM(s.Context(), name)
	if err != nil {
		fail(s, err)
		return
	}
	if err := f.Destroy(s.Context(), name); err != nil {
		fail(s, err)
		return
	}
	reply(s, proto.Result{Success: true, Action: "destroy", Name: name})
}

func StartVM(c *Cloud, s ssh.Session) {
	name := arg(s, 1)
	if name == "" {
		usage(s, "need <name>")
		return
	}
	f, _, err := c.findVM(s.Context(), name)
	if err != nil {
		fail(s, err)
		return
	}
	if err := f.Start(s.Context(), name); err != nil {
		fail(s, err)
		return
	}
	reply(s, proto.Result{Success: true, Action: "start", Name: name, State: "running"})
}

func StopVM(c *Cloud, s ssh.Session) {
	name := arg(s, 1)
	if name == "" {
		usage(s, "need <name>")
		return
	}
	f, _, err := c.findVM(s.Context(), name)
	if err != nil {
		fail(s, err)
		return
	}
	if err := f.Stop(s.Context(), name); err != nil {
		fail(s, err)
		return
	}
	reply(s, proto.Result{Success: true, Action: "stop", Name: name, State: "stopped"})
}

func ShutdownVM(c *Cloud, s ssh.Session) {
	name := arg(s, 1)
	if name == "" {
		usage(s, "need <name>")
		return
	}
	f, _, err := c.findVM(s.Context(), name)
	if err != nil {
		fail(s, err)
		return
	}
	if err := f.Shutdown(s.Context(), name); err != nil {
		fail(s, err)
		return
	}
	reply(s, proto.Result{Success: true, Action: "shutdown", Name: name, State: "stopped"})
}

func ReconfigureVM(c *Cloud, s ssh.Session) {
	name := arg(s, 1)
	if name == "" || len(s.Command()) < 3 {
		usage(s, "need <name> <key>=<value>...")
		return
	}
	pairs := map[string]string{}
	for _, kv := range s.Command()[2:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			usage(s, "not a key=value pair: "+kv)
			return
		}
		pairs[k] = v
	}
	f, _, err := c.findVM(s.Context(), name)
	if err != nil {
		fail(s, err)
		return
	}
	if err := f.Reconfigure(s.Context(), name, pairs); err != nil {
		fail(s, err)
		return
	}
	reply(s, proto.Result{Success: true, Action: "reconfigure", Name: name})
}

func CloneVM(c *Cloud, s ssh.Session) {
	vmid, err1 := strconv.ParseInt(arg(s, 1), 10, 64)
	newid, err2 := strconv.ParseInt(arg(s, 2), 10, 64)
	if err1 != nil || err2 != nil {
		usage(s, "need <vmid> <newid> [name]")
		return
	}
	name := arg(s, 3)
	f, _, err := c.findVMByID(s.Context(), vmid)
	if err != nil {
		fail(s, err)
		return
	}
	if err := f.CloneVM(s.Context(), vmid, newid, name); err != nil {
		fail(s, err)
		return
	}
	reply(s, proto.Result{Success: true, Action: "clone", Name: name, Info: fmt.Sprintf("vmid %d", newid)})
}
