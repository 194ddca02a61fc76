package main

import (
	"context"
	"sort"
	"time"

	"github.com/cloudopper/cloudopper/proto"
)

// The listings served over both the SSH and the HTTP interface.

func (c *Cloud) providerList() proto.ListProviders {
	lp := proto.ListProviders{}
	for _, f := range c.fleets() {
		state, info := f.State()
		lp.ListProviders = append(lp.ListProviders, proto.ListProvider{
			Provider: f.Name,
			URL:      f.URL,
			State:    state.String(),
			Info:     info,
			Since:    f.Change().Format(time.RFC1123),
			VMs:      len(f.Inventory()),
		})
	}
	return lp
}

// nodeList returns the nodes of the named provider, or of every provider
// when the name is empty.
func (c *Cloud) nodeList(ctx context.Context, provider string) (proto.ListNodes, error) {
	fleets, err := c.selectFleets(provider)
	if err != nil {
		return proto.ListNodes{}, err
	}
	ln := proto.ListNodes{}
	for _, f := range fleets {
		nodes, err := f.Client.Nodes(ctx)
		if err != nil {
			return proto.ListNodes{}, err
		}
		for _, n := range nodes {
			ln.ListNodes = append(ln.ListNodes, proto.ListNode{Provider: f.Name, Node: n.Node, Status: n.Status})
		}
	}
	return ln, nil
}

func (c *Cloud) vmList(ctx context.Context, provider string) (proto.ListVMs, error) {
	fleets, err := c.selectFleets(provider)
	if err != nil {
		return proto.ListVMs{}, err
	}
	lv := proto.ListVMs{}
	for _, f := range fleets {
		infos, err := f.VMInfos(ctx)
		if err != nil {
			return proto.ListVMs{}, err
		}
		lv.ListVMs = append(lv.ListVMs, infos...)
	}
	return lv, nil
}

func (c *Cloud) imageList(ctx context.Context, provider string) (proto.ListImages, error) {
	fleets, err := c.selectFleets(provider)
	if err != nil {
		return proto.ListImages{}, err
	}
	li := proto.ListImages{}
	for _, f := range fleets {
		images, err := f.Images(ctx)
		if err != nil {
			return proto.ListImages{}, err
		}
		nodes := make([]string, 0, len(images))
		for node := range images {
			nodes = append(nodes, node)
		}
		sort.Strings(nodes)
		for _, node := range nodes {
			for _, item := range images[node] {
				li.ListImages = append(li.ListImages, proto.ListImage{
					Provider: f.Name,
					Node:     node,
					VolID:    item.VolID,
					Content:  item.Content,
					Format:   item.Format,
					Size:     item.Size,
				})
			}
		}
	}
	return li, nil
}

func (c *Cloud) profileList() proto.ListProfiles {
	lp := proto.ListProfiles{}
	for _, name := range sortedProfiles(c.Profiles) {
		p := c.Profiles[name]
		lp.ListProfiles = append(lp.ListProfiles, proto.ListProfile{
			Profile:  p.Name,
			Provider: p.Provider,
			Image:    p.Image,
			Full:     p.Full,
		})
	}
	return lp
}

// sortedProfiles returns the profile names in order.
func sortedProfiles(profiles map[string]Profile) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
