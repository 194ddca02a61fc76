package main

import (
	"bytes"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/ssh"
)

// querySSH runs command with args on the daemon at machine at and returns
// its standard output. Errors the daemon writes back are folded into the
// returned error.
func querySSH(ctx *cli.Context, at, command string, args ...string) ([]byte, error) {
	ident := ctx.String("i")
	if ident == "" {
		return nil, fmt.Errorf("identity file not given, -i flag")
	}
	port := ctx.String("p")
	if port == "" {
		port = "2322"
	}
	at = at + ":" + port

	key, err := os.ReadFile(ident)
	if err != nil {
		return nil, err
	}

	// Create the Signer for this private key.
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, err
	}

	user, err := user.Current()
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            user.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	client, err := ssh.Dial("tcp", at, config)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	ss, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	defer ss.Close()

	stdoutBuf := &bytes.Buffer{}
	ss.Stdout = stdoutBuf

	cmdline := command
	if len(args) > 0 {
		cmdline += " " + strings.Join(args, " ")
	}
	if err := ss.Run(cmdline); err != nil {
		if out := strings.TrimSpace(stdoutBuf.String()); out != "" {
			return nil, fmt.Errorf("%s", out)
		}
		return nil, err
	}
	return stdoutBuf.Bytes(), nil
}
