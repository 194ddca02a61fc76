package proxmox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAPIFail = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloudopper",
		Subsystem: "proxmox",
		Name:      "api_error_total",
		Help:      "Total number of API requests that failed.",
	})

	metricAPIOps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloudopper",
		Subsystem: "proxmox",
		Name:      "api_ops_total",
		Help:      "Total number of API requests.",
	})
)
