package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudopper/cloudopper/ospkg"
	"github.com/cloudopper/cloudopper/osutil"
	"go.science.ru.nl/log"
	"golang.org/x/crypto/ssh"
)

// bootstrap logs in on addr over SSH and makes the machine usable: find out
// what it runs, install the wanted packages and run the configured commands.
func bootstrap(ctx context.Context, b Bootstrap, addr string) error {
	key, err := os.ReadFile(b.Keyfile)
	if err != nil {
		return err
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return err
	}
	config := &ssh.ClientConfig{
		User:            b.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	client, err := dialSSH(ctx, addr, config)
	if err != nil {
		return err
	}
	defer client.Close()

	out, err := runRemote(client, osReleaseCmd)
	if err != nil {
		return fmt.Errorf("failed to read os-release on %s: %s", addr, err)
	}
	id := osutil.ID(out)
	log.Infof("Machine %s runs %q", addr, id)

	installer := ospkg.New(id)
	for _, pkg := range b.Packages {
		cmd := installer.Install(pkg)
		if cmd == "" {
			continue
		}
		if out, err := runRemote(client, cmd); err != nil {
			return fmt.Errorf("failed to install %q: %s: %s", pkg, err, strings.TrimSpace(string(out)))
		}
	}

	for _, cmd := range b.Run {
		log.Infof("Machine %s, running %q", addr, cmd)
		if out, err := runRemote(client, cmd); err != nil {
			return fmt.Errorf("failed to run %q: %s: %s", cmd, err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

// dialSSH connects to addr. Right after boot sshd may still be sorting
// itself out, a refused connection is retried a few times.
func dialSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	var (
		client *ssh.Client
		err    error
	)
	for i := 0; i < 10; i++ {
		client, err = ssh.Dial("tcp", addr, config)
		if err == nil {
			return client, nil
		}
		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, err
}

// runRemote runs command in a fresh session on client.
func runRemote(client *ssh.Client, command string) ([]byte, error) {
	ss, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	defer ss.Close()
	return ss.CombinedOutput(command)
}
