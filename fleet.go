package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cloudopper/cloudopper/proto"
	"github.com/cloudopper/cloudopper/proxmox"
	"github.com/prometheus/client_golang/prometheus"
	"go.science.ru.nl/log"
)

// Fleet contains the VMs of a single provider. The daemon polls the cluster
// every so often and keeps the last listing around, anything that acts on a
// specific VM asks the cluster directly.
type Fleet struct {
	Provider // The provider this fleet was built from.
	Client   *proxmox.Client

	pollNow  chan struct{} // do an on demand poll
	createMu sync.Mutex    // serializes vmid allocation between creates

	mu         sync.RWMutex
	state      State
	stateInfo  string                // Extra info some states carry.
	stateStamp time.Time             // When did state change (UTC).
	vms        map[string]proxmox.VM // VMs seen on the last poll, by name.
}

// Current State of a provider.
type State int

const (
	StateUnknown State = iota // No poll has completed yet.
	StateOK                   // The provider answers our API calls.
	StateBroken               // The provider can't be reached or errors out.
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "UNKNOWN"
	case StateOK:
		return "OK"
	case StateBroken:
		return "BROKEN"
	}
	return ""
}

func newFleet(p Provider, client *proxmox.Client) *Fleet {
	return &Fleet{
		Provider: p,
		Client:   client,
		pollNow:  make(chan struct{}, 1),
		vms:      map[string]proxmox.VM{},
	}
}

func (f *Fleet) State() (State, string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state, f.stateInfo
}

func (f *Fleet) SetState(st State, info string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st != f.state {
		log.Infof("Provider %q, setting state: %s", f.Name, st)
	}
	f.stateStamp = time.Now().UTC()
	f.state = st
	f.stateInfo = info

	metricProviderState.WithLabelValues(f.Name).Set(float64(f.state))
	metricProviderTimestamp.WithLabelValues(f.Name).Set(float64(f.stateStamp.Unix()))
}

func (f *Fleet) Change() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stateStamp
}

// signalPollNow asks the tracking routine for an extra poll. It never blocks,
// a poll that is already pending is good enough.
func (f *Fleet) signalPollNow() {
	select {
	case f.pollNow <- struct{}{}:
	default:
	}
}

// track polls the cluster every interval and keeps the VM listing current.
func (f *Fleet) track(ctx context.Context, interval time.Duration) {
	log.Infof("Launched tracking routine for provider %q", f.Name)
	f.refresh(ctx)

	for {
		select {
		case <-time.After(jitter(interval)):
		case <-f.pollNow:
		case <-ctx.Done():
			return
		}
		f.refresh(ctx)
	}
}

// refresh pulls the VM listing of the cluster and rebuilds the name index.
// VMs without a name can't be addressed by us and are skipped.
func (f *Fleet) refresh(ctx context.Context) {
	vms, err := f.Client.VMs(ctx)
	if err != nil {
		log.Warningf("Provider %q, error listing VMs: %s", f.Name, err)
		f.SetState(StateBroken, fmt.Sprintf("error listing VMs: %s", err))
		return
	}

	byName := make(map[string]proxmox.VM, len(vms))
	count := map[string]int{}
	for _, vm := range vms {
		count[vm.Status]++
		if vm.Name == "" {
			log.Debugf("Provider %q, skipping nameless VM %d", f.Name, vm.VMID)
			continue
		}
		byName[vm.Name] = vm
	}

	f.mu.Lock()
	f.vms = byName
	f.mu.Unlock()

	metricVMs.DeletePartialMatch(prometheus.Labels{"provider": f.Name})
	for status, n := range count {
		metricVMs.WithLabelValues(f.Name, status).Set(float64(n))
	}
	f.SetState(StateOK, "")
}

// Inventory returns the VMs seen on the last poll, sorted by name.
func (f *Fleet) Inventory() []proxmox.VM {
	f.mu.RLock()
	defer f.mu.RUnlock()
	vms := make([]proxmox.VM, 0, len(f.vms))
	for _, vm := range f.vms {
		vms = append(vms, vm)
	}
	sort.Slice(vms, func(i, j int) bool { return vms[i].Name < vms[j].Name })
	return vms
}

// Locations returns the nodes of the cluster that are online. Offline nodes
// are logged and left out, nothing can be placed there.
func (f *Fleet) Locations(ctx context.Context) ([]proxmox.Node, error) {
	nodes, err := f.Client.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	online := make([]proxmox.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Status != "online" {
			log.Warningf("Provider %q, node %q is %s", f.Name, n.Node, n.Status)
			continue
		}
		online = append(online, n)
	}
	return online, nil
}

// Images returns the volumes on the image storage of every online node of
// the cluster, keyed by node name.
func (f *Fleet) Images(ctx context.Context) (map[string][]proxmox.StorageItem, error) {
	nodes, err := f.Locations(ctx)
	if err != nil {
		return nil, err
	}
	storage := f.Storage
	if storage == "" {
		storage = defaultStorage
	}
	images := map[string][]proxmox.StorageItem{}
	for _, n := range nodes {
		items, err := f.Client.StorageContent(ctx, n.Node, storage)
		if err != nil {
			return nil, err
		}
		images[n.Node] = items
	}
	return images, nil
}

// VMInfos returns a fresh VM listing with the addresses of each VM pulled
// from its configuration.
func (f *Fleet) VMInfos(ctx context.Context) ([]proto.ListVM, error) {
	vms, err := f.Client.VMs(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]proto.ListVM, 0, len(vms))
	for _, vm := range vms {
		if vm.Name == "" {
			log.Debugf("Provider %q, skipping nameless VM %d", f.Name, vm.VMID)
			continue
		}
		cfg, err := f.Client.Config(ctx, vm)
		if err != nil {
			return nil, err
		}
		private, public := cfg.IPs(vm.Type)
		infos = append(infos, proto.ListVM{
			Provider:   f.Name,
			Name:       vm.Name,
			ID:         vm.VMID,
			Node:       vm.Node,
			Type:       vm.Type,
			State:      vm.Status,
			PrivateIPs: private,
			PublicIPs:  public,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Detail returns a single VM with its full configuration.
func (f *Fleet) Detail(ctx context.Context, name string) (proto.ShowVM, error) {
	vm, err := f.Client.VMByName(ctx, name)
	if err != nil {
		return proto.ShowVM{}, err
	}
	cfg, err := f.Client.Config(ctx, vm)
	if err != nil {
		return proto.ShowVM{}, err
	}
	private, public := cfg.IPs(vm.Type)
	return proto.ShowVM{
		ListVM: proto.ListVM{
			Provider:   f.Name,
			Name:       vm.Name,
			ID:         vm.VMID,
			Node:       vm.Node,
			Type:       vm.Type,
			State:      vm.Status,
			PrivateIPs: private,
			PublicIPs:  public,
		},
		Config: map[string]string(cfg),
	}, nil
}

// Start starts the named VM and waits for it to run.
func (f *Fleet) Start(ctx context.Context, name string) error {
	vm, err := f.Client.VMByName(ctx, name)
	if err != nil {
		return err
	}
	if err := f.Client.SetStatus(ctx, vm, "start"); err != nil {
		return err
	}
	if err := f.Client.WaitForStatus(ctx, vm, "running", startTimeout, pollInterval); err != nil {
		return err
	}
	event(name, "started")
	f.signalPollNow()
	return nil
}

// Stop pulls the plug on the named VM. It doesn't wait, the cluster kills
// the VM rather than asking it nicely.
func (f *Fleet) Stop(ctx context.Context, name string) error {
	vm, err := f.Client.VMByName(ctx, name)
	if err != nil {
		return err
	}
	if err := f.Client.SetStatus(ctx, vm, "stop"); err != nil {
		return err
	}
	event(name, "stopped")
	f.signalPollNow()
	return nil
}

// Shutdown cleanly shuts down the named VM and waits for it to stop.
func (f *Fleet) Shutdown(ctx context.Context, name string) error {
	vm, err := f.Client.VMByName(ctx, name)
	if err != nil {
		return err
	}
	if err := f.Client.SetStatus(ctx, vm, "shutdown"); err != nil {
		return err
	}
	if err := f.Client.WaitForStatus(ctx, vm, "stopped", startTimeout, pollInterval); err != nil {
		return err
	}
	event(name, "shutdown")
	f.signalPollNow()
	return nil
}

// Reconfigure applies the given config pairs to the named VM.
func (f *Fleet) Reconfigure(ctx context.Context, name string, pairs map[string]string) error {
	vm, err := f.Client.VMByName(ctx, name)
	if err != nil {
		return err
	}
	if err := f.Client.UpdateConfig(ctx, vm, pairs); err != nil {
		return err
	}
	event(name, "reconfigured")
	return nil
}

// Destroy stops the named VM when it runs and removes it from the cluster.
func (f *Fleet) Destroy(ctx context.Context, name string) error {
	vm, err := f.Client.VMByName(ctx, name)
	if err != nil {
		return err
	}
	event(name, "destroying")
	status, err := f.Client.Status(ctx, vm)
	if err != nil {
		return err
	}
	if status != "stopped" {
		if err := f.Client.SetStatus(ctx, vm, "stop"); err != nil {
			return err
		}
		if err := f.Client.WaitForStatus(ctx, vm, "stopped", stopTimeout, pollInterval); err != nil {
			return err
		}
	}
	if err := f.Client.Delete(ctx, vm); err != nil {
		return err
	}
	event(name, "destroyed")
	f.signalPollNow()
	return nil
}

// CloneVM clones the VM with the given vmid into newid. With a name given
// the clone is named and waited for, without one this returns as soon as
// the cluster accepted the clone.
func (f *Fleet) CloneVM(ctx context.Context, vmid, newid int64, name string) error {
	vm, err := f.Client.VMByID(ctx, vmid)
	if err != nil {
		return err
	}
	opts := proxmox.CloneOptions{NewID: newid, Name: name}
	if err := f.Client.Clone(ctx, vm, opts); err != nil {
		return err
	}
	if name != "" {
		if _, err := f.Client.WaitForVM(ctx, name, cloneTimeout, pollInterval); err != nil {
			return err
		}
	}
	event(strconv.FormatInt(newid, 10), "cloned")
	f.signalPollNow()
	return nil
}

// Cloud bundles the fleets and the profiles this daemon serves.
type Cloud struct {
	Config   Config
	Fleets   map[string]*Fleet
	Profiles map[string]Profile
}

// fleets returns all fleets sorted by provider name.
func (c *Cloud) fleets() []*Fleet {
	names := make([]string, 0, len(c.Fleets))
	for name := range c.Fleets {
		names = append(names, name)
	}
	sort.Strings(names)
	fleets := make([]*Fleet, 0, len(names))
	for _, name := range names {
		fleets = append(fleets, c.Fleets[name])
	}
	return fleets
}

// fleet returns the fleet of the named provider. With a single provider
// configured the name may be left empty.
func (c *Cloud) fleet(name string) (*Fleet, error) {
	if name == "" && len(c.Fleets) == 1 {
		for _, f := range c.Fleets {
			return f, nil
		}
	}
	f, ok := c.Fleets[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, proxmox.ErrNotFound)
	}
	return f, nil
}

// selectFleets returns the named fleet, or every fleet when name is empty.
func (c *Cloud) selectFleets(name string) ([]*Fleet, error) {
	if name == "" {
		return c.fleets(), nil
	}
	f, ok := c.Fleets[name]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, proxmox.ErrNotFound)
	}
	return []*Fleet{f}, nil
}

// profile returns the named profile.
func (c *Cloud) profile(name string) (Profile, error) {
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q: %w", name, proxmox.ErrNotFound)
	}
	return p, nil
}

// findVM searches all fleets for a VM named name. Broken providers are
// skipped with a warning, the VM might well live there.
func (c *Cloud) findVM(ctx context.Context, name string) (*Fleet, proxmox.VM, error) {
	for _, f := range c.fleets() {
		if state, _ := f.State(); state == StateBroken {
			log.Warningf("Provider %q is broken, not searching it for %q", f.Name, name)
			continue
		}
		vm, err := f.Client.VMByName(ctx, name)
		if err == nil {
			return f, vm, nil
		}
		if !errors.Is(err, proxmox.ErrNotFound) {
			return nil, proxmox.VM{}, err
		}
	}
	return nil, proxmox.VM{}, fmt.Errorf("VM %q: %w", name, proxmox.ErrNotFound)
}

// findVMByID searches all fleets for a VM with the given vmid.
func (c *Cloud) findVMByID(ctx context.Context, vmid int64) (*Fleet, proxmox.VM, error) {
	for _, f := range c.fleets() {
		if state, _ := f.State(); state == StateBroken {
			log.Warningf("Provider %q is broken, not searching it for %d", f.Name, vmid)
			continue
		}
		vm, err := f.Client.VMByID(ctx, vmid)
		if err == nil {
			return f, vm, nil
		}
		if !errors.Is(err, proxmox.ErrNotFound) {
			return nil, proxmox.VM{}, err
		}
	}
	return nil, proxmox.VM{}, fmt.Errorf("VM %d: %w", vmid, proxmox.ErrNotFound)
}

// jitter will add a random amount of jitter [0, d/2] to d.
func jitter(d time.Duration) time.Duration {
	rand.Seed(time.Now().UnixNano())
	max := d / 2
	return d + time.Duration(rand.Int63n(int64(max)))
}
