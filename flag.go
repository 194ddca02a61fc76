package main

import (
	flag "github.com/spf13/pflag"
)

// ExecContext holds the flags for this run.
type ExecContext struct {
	Hosts        []string
	ConfigSource string
	SAddr        string
	MAddr        string
	Debug        bool
}

// RegisterFlags registers the flags for exec in fs.
func (exec *ExecContext) RegisterFlags(fs *flag.FlagSet) {
	fs.StringSliceVarP(&exec.Hosts, "hosts", "h", nil, "hosts to impersonate, $HOSTNAME is included by default")
	fs.StringVarP(&exec.ConfigSource, "config", "c", "", "config file to read")
	fs.StringVarP(&exec.SAddr, "ssh", "s", ":2322", "ssh address to listen on")
	fs.StringVarP(&exec.MAddr, "metrics", "m", ":9322", "web address to listen on, serves /metrics and the listings")
	fs.BoolVarP(&exec.Debug, "debug", "d", false, "enable debug logging")
}
