package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cloudopper/cloudopper/proto"
	"github.com/rodaine/table"
	"github.com/urfave/cli/v2"
	"go.science.ru.nl/log"
)

func atMachine(ctx *cli.Context) (string, error) {
	at := ctx.Args().First()
	if at == "" {
		return "", fmt.Errorf("expected @<machine>")
	}
	if !strings.HasPrefix(at, "@") {
		return "", fmt.Errorf("expected @<machine>")
	}
	return at[1:], nil
}

func main() {
	app := &cli.App{
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "i", Usage: "identity file to authenticate with"},
			&cli.StringFlag{Name: "p", Value: "2322", Usage: "control port of the daemon"},
		},
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls", "l"},
				Usage:   "list providers, nodes, vms, images or profiles",
				Subcommands: []*cli.Command{
					{
						Name:    "providers",
						Aliases: []string{"pr"},
						Usage:   "list providers @machine",
						Action: func(ctx *cli.Context) error {
							at, err := atMachine(ctx)
							if err != nil {
								return err
							}
							body, err := querySSH(ctx, at, "/list/providers")
							if err != nil {
								return err
							}
							lp := proto.ListProviders{}
							if err := json.Unmarshal(body, &lp); err != nil {
								return err
							}
							tbl := table.New("#", "PROVIDER", "URL", "STATE", "INFO", "SINCE", "VMS")
							for i, p := range lp.ListProviders {
								tbl.AddRow(i, p.Provider, p.URL, p.State, p.Info, p.Since, p.VMs)
							}
							tbl.Print()
							return nil
						},
					},
					{
						Name:    "nodes",
						Aliases: []string{"n"},
						Usage:   "list nodes @machine [provider]",
						Action: func(ctx *cli.Context) error {
							at, err := atMachine(ctx)
							if err != nil {
								return err
							}
							body, err := querySSH(ctx, at, "/list/nodes", ctx.Args().Tail()...)
							if err != nil {
								return err
							}
							ln := proto.ListNodes{}
							if err := json.Unmarshal(body, &ln); err != nil {
								return err
							}
							tbl := table.New("#", "PROVIDER", "NODE", "STATUS")
							for i, n := range ln.ListNodes {
								tbl.AddRow(i, n.Provider, n.Node, n.Status)
							}
							tbl.Print()
							return nil
						},
					},
					{
						Name:    "vms",
						Aliases: []string{"v"},
						Usage:   "list vms @machine [provider]",
						Action: func(ctx *cli.Context) error {
							at, err := atMachine(ctx)
							if err != nil {
								return err
							}
							body, err := querySSH(ctx, at, "/list/vms", ctx.Args().Tail()...)
							if err != nil {
								return err
							}
							lv := proto.ListVMs{}
							if err := json.Unmarshal(body, &lv); err != nil {
								return err
							}
							tbl := table.New("#", "PROVIDER", "NAME", "ID", "NODE", "TYPE", "STATE", "PRIVATE", "PUBLIC")
							for i, vm := range lv.ListVMs {
								tbl.AddRow(i, vm.Provider, vm.Name, vm.ID, vm.Node, vm.Type, vm.State,
									strings.Join(vm.PrivateIPs, ","), strings.Join(vm.PublicIPs, ","))
							}
							tbl.Print()
							return nil
						},
					},
					{
						Name:    "images",
						Aliases: []string{"im"},
						Usage:   "list images @machine [provider]",
						Action: func(ctx *cli.Context) error {
							at, err := atMachine(ctx)
							if err != nil {
								return err
							}
							body, err := querySSH(ctx, at, "/list/images", ctx.Args().Tail()...)
							if err != nil {
								return err
							}
							li := proto.ListImages{}
							if err := json.Unmarshal(body, &li); err != nil {
								return err
							}
							tbl := table.New("#", "PROVIDER", "NODE", "VOLID", "CONTENT", "FORMAT", "SIZE")
							for i, im := range li.ListImages {
								tbl.AddRow(i, im.Provider, im.Node, im.VolID, im.Content, im.Format, im.Size)
							}
							tbl.Print()
							return nil
						},
					},
					{
						Name:    "profiles",
						Aliases: []string{"p"},
						Usage:   "list profiles @machine",
						Action: func(ctx *cli.Context) error {
							at, err := atMachine(ctx)
							if err != nil {
								return err
							}
							body, err := querySSH(ctx, at, "/list/profiles")
							if err != nil {
								return err
							}
							lp := proto.ListProfiles{}
							if err := json.Unmarshal(body, &lp); err != nil {
								return err
							}
							tbl := table.New("#", "PROFILE", "PROVIDER", "IMAGE", "FULL")
							for i, p := range lp.ListProfiles {
								tbl.AddRow(i, p.Profile, p.Provider, p.Image, p.Full)
							}
							tbl.Print()
							return nil
						},
					},
				},
			},
			{
				Name:    "show",
				Aliases: []string{"sh"},
				Usage:   "show a single vm in detail",
				Subcommands: []*cli.Command{
					{
						Name:  "vm",
						Usage: "show vm @machine <name>",
						Action: func(ctx *cli.Context) error {
							at, err := atMachine(ctx)
							if err != nil {
								return err
							}
							name := ctx.Args().Get(1)
							if name == "" {
								return fmt.Errorf("need vm name")
							}
							body, err := querySSH(ctx, at, "/show/vm", name)
							if err != nil {
								return err
							}
							dst := &bytes.Buffer{}
							if err := json.Indent(dst, body, "", "  "); err != nil {
								return err
							}
							fmt.Println(dst.String())
							return nil
						},
					},
				},
			},
			{
				Name:  "vm",
				Usage: "create, destroy or control vms",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "vm create @machine <name> <profile>",
						Action: func(ctx *cli.Context) error {
							at, err := atMachine(ctx)
							if err != nil {
								return err
							}
							name := ctx.Args().Get(1)
							profile := ctx.Args().Get(2)
							if name == "" || profile == "" {
								return fmt.Errorf("need vm name and profile")
							}
							body, err := querySSH(ctx, at, "/vm/create", name, profile)
							if err != nil {
								return err
							}
							res := proto.Result{}
							if err := json.Unmarshal(body, &res); err != nil {
								return err
							}
							tbl := table.New("NAME", "STATE", "ADDRESS")
							tbl.AddRow(res.Name, res.State, res.Address)
							tbl.Print()
							return nil
						},
					},
					{
						Name:  "destroy",
						Usage: "vm destroy @machine <name>",
						Action: func(ctx *cli.Context) error {
							return vmAction(ctx, "/vm/destroy")
						},
					},
					{
						Name:  "start",
						Usage: "vm start @machine <name>",
						Action: func(ctx *cli.Context) error {
							return vmAction(ctx, "/vm/start")
						},
					},
					{
						Name:  "stop",
						Usage: "vm stop @machine <name>",
						Action: func(ctx *cli.Context) error {
							return vmAction(ctx, "/vm/stop")
						},
					},
					{
						Name:  "shutdown",
						Usage: "vm shutdown @machine <name>",
						Action: func(ctx *cli.Context) error {
							return vmAction(ctx, "/vm/shutdown")
						},
					},
					{
						Name:  "reconfigure",
						Usage: "vm reconfigure @machine <name> <key>=<value>...",
						Action: func(ctx *cli.Context) error {
							at, err := atMachine(ctx)
							if err != nil {
								return err
							}
							args := ctx.Args().Tail()
							if len(args) < 2 {
								return fmt.Errorf("need vm name and at least one key=value pair")
							}
							_, err = querySSH(ctx, at, "/vm/reconfigure", args...)
							return err
						},
					},
					{
						Name:  "clone",
						Usage: "vm clone @machine <vmid> <newid> [name]",
						Action: func(ctx *cli.Context) error {
							at, err := atMachine(ctx)
							if err != nil {
								return err
							}
							args := ctx.Args().Tail()
							if len(args) < 2 {
								return fmt.Errorf("need vmid and newid")
							}
							_, err = querySSH(ctx, at, "/vm/clone", args...)
							return err
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// vmAction runs a single command taking just a vm name against the daemon.
func vmAction(ctx *cli.Context, route string) error {
	at, err := atMachine(ctx)
	if err != nil {
		return err
	}
	name := ctx.Args().Get(1)
	if name == "" {
		return fmt.Errorf("need vm name")
	}
	_, err = querySSH(ctx, at, route, name)
	return err
}
