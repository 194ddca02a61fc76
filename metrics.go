package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.science.ru.nl/log"
)

const namespace = "cloudopper"

var (
	metricProviderState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "state",
		Help:      "Current state of this provider",
	}, []string{"provider"})

	metricProviderTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "change_timestamp_seconds",
		Help:      "Unix timestamp of the last state change of this provider",
	}, []string{"provider"})

	metricVMs = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "vms",
		Help:      "Number of VMs on this provider by status",
	}, []string{"provider", "status"})

	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vm",
		Name:      "events_total",
		Help:      "Total number of VM lifecycle events",
	}, []string{"event"})
)

// event records a lifecycle event of a VM, it shows up in the log and in the
// event counter.
func event(name, what string) {
	metricEvents.WithLabelValues(what).Inc()
	log.Infof("VM %q: %s", name, what)
}
