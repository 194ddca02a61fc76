package proxmox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Node is a node of the cluster as returned by the nodes listing.
type Node struct {
	Node   string `json:"node"`
	Status string `json:"status"`
}

// VM is a cluster resource of type vm: a qemu virtual machine or an lxc
// container. Type holds which of the two it is.
type VM struct {
	VMID   int64  `json:"vmid"`
	Name   string `json:"name"`
	Node   string `json:"node"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// path returns the API path prefix for this VM.
func (v VM) path() string { return fmt.Sprintf("nodes/%s/%s/%d", v.Node, v.Type, v.VMID) }

// StorageItem is a single volume on a storage, images and container
// templates among them.
type StorageItem struct {
	VolID   string `json:"volid"`
	Content string `json:"content"`
	Format  string `json:"format"`
	Size    int64  `json:"size"`
}

// AgentInterface is a network interface as reported by the qemu guest agent.
type AgentInterface struct {
	Name            string           `json:"name"`
	HardwareAddress string           `json:"hardware-address"`
	IPAddresses     []AgentIPAddress `json:"ip-addresses"`
}

// AgentIPAddress is an address on an AgentInterface. Type is "ipv4" or "ipv6".
type AgentIPAddress struct {
	Type    string `json:"ip-address-type"`
	Address string `json:"ip-address"`
	Prefix  int    `json:"prefix"`
}

// VMConfig holds the configuration of a VM. The API returns a mix of
// strings, numbers and booleans, all values are flattened to strings here.
type VMConfig map[string]string

// UnmarshalJSON implements json.Unmarshaler.
func (c *VMConfig) UnmarshalJSON(data []byte) error {
	raw := map[string]interface{}{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m := make(VMConfig, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case string:
			m[k] = x
		case float64:
			m[k] = strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			if x {
				m[k] = "1"
			} else {
				m[k] = "0"
			}
		}
	}
	*c = m
	return nil
}

// CloneOptions are the parameters for cloning a VM. NewID is mandatory, the
// zero value of everything else means "let Proxmox pick the default".
type CloneOptions struct {
	NewID       int64
	Name        string
	Full        bool
	Description string
	Pool        string
	SnapName    string
	Storage     string
	Target      string
	Format      string
	BWLimit     int64 // in KiB/s
}

// values converts o to form values. Containers name their clone with
// hostname instead of name.
func (o CloneOptions) values(vmtype string) url.Values {
	v := url.Values{}
	v.Set("newid", strconv.FormatInt(o.NewID, 10))
	if o.Name != "" {
		if vmtype == "lxc" {
			v.Set("hostname", o.Name)
		} else {
			v.Set("name", o.Name)
		}
	}
	if o.Full {
		v.Set("full", "1")
	}
	if o.Description != "" {
		v.Set("description", o.Description)
	}
	if o.Pool != "" {
		v.Set("pool", o.Pool)
	}
	if o.SnapName != "" {
		v.Set("snapname", o.SnapName)
	}
	if o.Storage != "" {
		v.Set("storage", o.Storage)
	}
	if o.Target != "" {
		v.Set("target", o.Target)
	}
	if o.Format != "" {
		v.Set("format", o.Format)
	}
	if o.BWLimit > 0 {
		v.Set("bwlimit", strconv.FormatInt(o.BWLimit, 10))
	}
	return v
}

// Nodes returns all nodes of the cluster, online or not.
func (c *Client) Nodes(ctx context.Context) ([]Node, error) {
	data, err := c.query(ctx, http.MethodGet, "nodes", nil)
	if err != nil {
		return nil, err
	}
	var nodes []Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// VMs returns all VMs and containers of the cluster.
func (c *Client) VMs(ctx context.Context) ([]VM, error) {
	data, err := c.query(ctx, http.MethodGet, "cluster/resources?type=vm", nil)
	if err != nil {
		return nil, err
	}
	var vms []VM
	if err := json.Unmarshal(data, &vms); err != nil {
		return nil, err
	}
	return vms, nil
}

// VMByName returns the VM named name. The first occurrence wins when
// multiple VMs share a name. A wrapped ErrNotFound is returned when there is
// none.
func (c *Client) VMByName(ctx context.Context, name string) (VM, error) {
	vms, err := c.VMs(ctx)
	if err != nil {
		return VM{}, err
	}
	for _, vm := range vms {
		if vm.Name == name {
			return vm, nil
		}
	}
	return VM{}, fmt.Errorf("VM with name %q: %w", name, ErrNotFound)
}

// VMByID returns the VM with the given vmid.
func (c *Client) VMByID(ctx context.Context, vmid int64) (VM, error) {
	vms, err := c.VMs(ctx)
	if err != nil {
		return VM{}, err
	}
	for _, vm := range vms {
		if vm.VMID == vmid {
			return vm, nil
		}
	}
	return VM{}, fmt.Errorf("VM with vmid %d: %w", vmid, ErrNotFound)
}

// NextID returns a free vmid for a new VM. When the cluster endpoint for
// this is unavailable the highest vmid in use plus one is returned.
func (c *Client) NextID(ctx context.Context) (int64, error) {
	data, qerr := c.query(ctx, http.MethodGet, "cluster/nextid", nil)
	if qerr == nil {
		id, err := parseID(data)
		if err == nil {
			return id, nil
		}
	}
	vms, err := c.VMs(ctx)
	if err != nil {
		return 0, err
	}
	max := int64(99) // vmids start at 100
	for _, vm := range vms {
		if vm.VMID > max {
			max = vm.VMID
		}
	}
	return max + 1, nil
}

// parseID parses a vmid, the API returns them both as numbers and as quoted
// strings.
func parseID(data json.RawMessage) (int64, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return strconv.ParseInt(s, 10, 64)
	}
	var i int64
	if err := json.Unmarshal(data, &i); err != nil {
		return 0, err
	}
	return i, nil
}

// Clone clones vm into a new VM described by opts.
func (c *Client) Clone(ctx context.Context, vm VM, opts CloneOptions) error {
	_, err := c.query(ctx, http.MethodPost, vm.path()+"/clone", opts.values(vm.Type))
	return err
}

// Delete removes vm from the cluster. The VM must be stopped.
func (c *Client) Delete(ctx context.Context, vm VM) error {
	_, err := c.query(ctx, http.MethodDelete, vm.path(), nil)
	return err
}

// Status returns the current status of vm, "running" or "stopped" mostly.
func (c *Client) Status(ctx context.Context, vm VM) (string, error) {
	data, err := c.query(ctx, http.MethodGet, vm.path()+"/status/current", nil)
	if err != nil {
		return "", err
	}
	st := struct {
		Status string `json:"status"`
	}{}
	if err := json.Unmarshal(data, &st); err != nil {
		return "", err
	}
	return st.Status, nil
}

// SetStatus asks vm to change its status, action is one of start, stop or
// shutdown. This returns as soon as the cluster accepted the request, use
// WaitForStatus to see it through.
func (c *Client) SetStatus(ctx context.Context, vm VM, action string) error {
	_, err := c.query(ctx, http.MethodPost, vm.path()+"/status/"+action, nil)
	return err
}

// Config returns the configuration of vm.
func (c *Client) Config(ctx context.Context, vm VM) (VMConfig, error) {
	data, err := c.query(ctx, http.MethodGet, vm.path()+"/config", nil)
	if err != nil {
		return nil, err
	}
	var cfg VMConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpdateConfig sets the given configuration pairs on vm.
func (c *Client) UpdateConfig(ctx context.Context, vm VM, pairs map[string]string) error {
	v := url.Values{}
	for k, val := range pairs {
		v.Set(k, val)
	}
	_, err := c.query(ctx, http.MethodPut, vm.path()+"/config", v)
	return err
}

// StorageContent lists the volumes on a storage of a node.
func (c *Client) StorageContent(ctx context.Context, node, storage string) ([]StorageItem, error) {
	data, err := c.query(ctx, http.MethodGet, "nodes/"+node+"/storage/"+storage+"/content", nil)
	if err != nil {
		return nil, err
	}
	var items []StorageItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// AgentInterfaces returns the network interfaces the qemu guest agent of vm
// reports. Proxmox answers with status 500 for as long as the agent isn't
// up, callers that want to wait for it should use WaitForAgent.
func (c *Client) AgentInterfaces(ctx context.Context, vm VM) ([]AgentInterface, error) {
	data, err := c.query(ctx, http.MethodGet, vm.path()+"/agent/network-get-interfaces", nil)
	if err != nil {
		return nil, err
	}
	ret := struct {
		Result []AgentInterface `json:"result"`
	}{}
	if err := json.Unmarshal(data, &ret); err != nil {
		return nil, err
	}
	return ret.Result, nil
}
