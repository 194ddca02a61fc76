package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cloudopper/cloudopper/osutil"
	"github.com/cloudopper/cloudopper/proxmox"
	flag "github.com/spf13/pflag"
	"go.science.ru.nl/log"
)

// ErrNoConfig is returned when no config file was given.
var ErrNoConfig = errors.New("-c flag is mandatory")

func main() {
	exec := new(ExecContext)
	exec.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if err := run(exec); err != nil {
		log.Fatal(err)
	}
}

func run(exec *ExecContext) error {
	if exec.Debug {
		log.D.Set()
	}
	if exec.ConfigSource == "" {
		return ErrNoConfig
	}
	doc, err := os.ReadFile(exec.ConfigSource)
	if err != nil {
		return err
	}
	c, err := parseConfig(doc)
	if err != nil {
		return err
	}
	if err := c.Valid(); err != nil {
		return fmt.Errorf("the configuration is not valid: %s", err)
	}
	interval := c.Global.interval()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hosts := append(exec.Hosts, osutil.Hostname())

	cloud := &Cloud{Config: c, Fleets: map[string]*Fleet{}, Profiles: map[string]Profile{}}
	var wg sync.WaitGroup
	for _, p := range c.Providers {
		if !p.forMe(hosts) {
			continue
		}
		secret, err := p.token()
		if err != nil {
			return fmt.Errorf("provider %q: %s", p.Name, err)
		}
		f := newFleet(p, proxmox.New(p.URL, p.User, p.TokenID, secret, p.Insecure))
		cloud.Fleets[p.Name] = f
		log.Infof("Provider %q %q", p.Name, p.URL)
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.track(ctx, interval)
		}()
	}
	for _, prof := range c.Profiles {
		cloud.Profiles[prof.Name] = prof.merge(c.Global)
	}

	if c.Global.Pubkeys == "" {
		log.Warningf("No pubkeys configured, not starting the control server")
	} else {
		keys, err := loadAuthorizedKeys(c.Global.Pubkeys)
		if err != nil {
			return err
		}
		router := newSSHRouter(cloud, exec.SAddr, keys)
		go func() {
			if err := router.ListenAndServe(); err != nil {
				log.Fatal(err)
			}
		}()
		log.Infof("Launched control server on %s, tracking %d providers", exec.SAddr, len(cloud.Fleets))
	}

	router := newRouter(cloud)
	go func() {
		if err := http.ListenAndServe(exec.MAddr, router); err != nil {
			log.Fatal(err)
		}
	}()
	log.Infof("Launched web server on %s", exec.MAddr)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	wg.Wait()
	return nil
}
