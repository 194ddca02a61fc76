package proxmox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// WaitForStatus polls vm until its status equals want, checking every
// interval. A wrapped ErrTimeout is returned when timeout passes first.
func (c *Client) WaitForStatus(ctx context.Context, vm VM, want string, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		status, err := c.Status(ctx, vm)
		if err != nil {
			return err
		}
		if status == want {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("waiting for VM %d to become %s: %w", vm.VMID, want, ErrTimeout)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitForVM polls the cluster until a VM named name shows up in the
// resource listing and returns it.
func (c *Client) WaitForVM(ctx context.Context, name string, timeout, interval time.Duration) (VM, error) {
	deadline := time.Now().Add(timeout)
	for {
		vm, err := c.VMByName(ctx, name)
		if err == nil {
			return vm, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return VM{}, err
		}
		if time.Now().After(deadline) {
			return VM{}, fmt.Errorf("waiting for VM %q to appear: %w", name, ErrTimeout)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return VM{}, ctx.Err()
		}
	}
}

// WaitForAgent polls the guest agent of vm until it reports its network
// interfaces. The API replies with an internal server error while the agent
// is still starting up, those are retried.
func (c *Client) WaitForAgent(ctx context.Context, vm VM, timeout, interval time.Duration) ([]AgentInterface, error) {
	deadline := time.Now().Add(timeout)
	for {
		ifs, err := c.AgentInterfaces(ctx, vm)
		if err == nil {
			return ifs, nil
		}
		var apierr *APIError
		if !errors.As(err, &apierr) || apierr.StatusCode != http.StatusInternalServerError {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("waiting for guest agent of VM %d: %w", vm.VMID, ErrTimeout)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WaitForUnlock polls the configuration of vm until the lock a long running
// operation holds on it is released.
func (c *Client) WaitForUnlock(ctx context.Context, vm VM, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		cfg, err := c.Config(ctx, vm)
		if err != nil {
			return err
		}
		if _, locked := cfg["lock"]; !locked {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("waiting for VM %d to unlock: %w", vm.VMID, ErrTimeout)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
