package main

import "time"

const (
	// osReleaseCmd is run on a freshly booted machine to see what it is.
	osReleaseCmd = "cat /etc/os-release"

	// defaultStorage is searched for images when a provider doesn't name one.
	defaultStorage = "local"
)

const (
	cloneTimeout = 5 * time.Minute
	startTimeout = 5 * time.Minute
	agentTimeout = 5 * time.Minute
	portTimeout  = 5 * time.Minute
	stopTimeout  = 20 * time.Second

	pollInterval  = 2 * time.Second
	agentInterval = 5 * time.Second
)
