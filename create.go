package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cloudopper/cloudopper/proxmox"
)

// Create builds a new VM called name from the given profile and returns the
// address it is reachable on. This is the long way round: clone the image,
// wait for the clone to settle, apply the profile config, boot, find the
// address and provision the machine over SSH.
func (f *Fleet) Create(ctx context.Context, name string, prof Profile) (string, error) {
	event(name, "creating")

	tmpl, err := f.Client.VMByName(ctx, prof.Image)
	if err != nil {
		return "", fmt.Errorf("image %q: %w", prof.Image, err)
	}

	// vmid allocation and clone in one critical section, two concurrent
	// creates would otherwise race for the same vmid.
	f.createMu.Lock()
	newid, err := f.Client.NextID(ctx)
	if err == nil {
		opts := proxmox.CloneOptions{
			NewID:   newid,
			Name:    name,
			Full:    prof.Full,
			Storage: prof.Storage,
			Pool:    prof.Pool,
		}
		err = f.Client.Clone(ctx, tmpl, opts)
	}
	f.createMu.Unlock()
	if err != nil {
		return "", err
	}

	vm, err := f.Client.WaitForVM(ctx, name, cloneTimeout, pollInterval)
	if err != nil {
		return "", err
	}
	if err := f.Client.WaitForUnlock(ctx, vm, cloneTimeout, pollInterval); err != nil {
		return "", err
	}

	if len(prof.Config) > 0 {
		if err := f.Client.UpdateConfig(ctx, vm, prof.Config); err != nil {
			return "", err
		}
	}

	if err := f.Client.SetStatus(ctx, vm, "start"); err != nil {
		return "", err
	}
	if err := f.Client.WaitForStatus(ctx, vm, "running", startTimeout, pollInterval); err != nil {
		return "", err
	}

	addr, err := f.address(ctx, vm)
	if err != nil {
		return "", err
	}

	if b := prof.Bootstrap; b.User != "" {
		target := net.JoinHostPort(addr, strconv.Itoa(b.Port))
		if err := waitForPort(ctx, target, portTimeout); err != nil {
			return "", err
		}
		if err := bootstrap(ctx, b, target); err != nil {
			return "", err
		}
	}

	event(name, "created")
	f.signalPollNow()
	return addr, nil
}

// address finds the address to reach vm on. Containers carry theirs in
// their config. Qemu VMs are asked through the guest agent, which can take
// a while to come up after boot.
func (f *Fleet) address(ctx context.Context, vm proxmox.VM) (string, error) {
	if vm.Type == "lxc" {
		cfg, err := f.Client.Config(ctx, vm)
		if err != nil {
			return "", err
		}
		private, public := cfg.IPs(vm.Type)
		if len(public) > 0 {
			return public[0], nil
		}
		if len(private) > 0 {
			return private[0], nil
		}
		return "", fmt.Errorf("no address in config of VM %q: %w", vm.Name, proxmox.ErrNotFound)
	}

	ifs, err := f.Client.WaitForAgent(ctx, vm, agentTimeout, agentInterval)
	if err != nil {
		return "", err
	}
	addr := pickAddress(ifs)
	if addr == "" {
		return "", fmt.Errorf("no address from guest agent of VM %q: %w", vm.Name, proxmox.ErrNotFound)
	}
	return addr, nil
}

// pickAddress returns the first ipv4 address on a real interface. Loopbacks
// report an all zero hardware address and are skipped.
func pickAddress(ifs []proxmox.AgentInterface) string {
	for _, iface := range ifs {
		if iface.HardwareAddress == "00:00:00:00:00:00" {
			continue
		}
		for _, ip := range iface.IPAddresses {
			if ip.Type == "ipv4" {
				return ip.Address
			}
		}
	}
	return ""
}

// waitForPort waits for something to listen on addr, a freshly booted
// machine needs a moment before sshd is up.
func waitForPort(ctx context.Context, addr string, timeout time.Duration) error {
	dialer := &net.Dialer{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("waiting for %s: %w", addr, proxmox.ErrTimeout)
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
