// Package metrics exposes Prometheus collectors for vision server clients.
// Nothing is registered until Register is called.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Launch outcomes used as the "outcome" label of LaunchesTotal.
const (
	LaunchReady         = "ready"
	LaunchPortAllocated = "port_allocated"
	LaunchFailed        = "failed"
	LaunchCanceled      = "canceled"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visionsdk",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Total number of requests sent to the vision server",
		},
		[]string{"endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "visionsdk",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Duration of requests to the vision server in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	LaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visionsdk",
			Subsystem: "launcher",
			Name:      "launches_total",
			Help:      "Server launches by outcome",
		},
		[]string{"outcome"},
	)

	PortRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "visionsdk",
			Subsystem: "launcher",
			Name:      "port_retries_total",
			Help:      "Respawns caused by an ephemeral port already being in use",
		},
	)

	SharedMemoryAllocations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "visionsdk",
			Subsystem: "client",
			Name:      "shm_allocations_total",
			Help:      "Shared memory segments allocated for pixel transfer",
		},
	)
)

// Collectors returns every collector of the package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{RequestsTotal, RequestDuration, LaunchesTotal, PortRetriesTotal, SharedMemoryAllocations}
}

// Register adds the collectors to r. Registering them with the same r again
// is not an error; a different collector under one of the names is.
func Register(r prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) && are.ExistingCollector == c {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRequest records one request. status is the HTTP status code, or 0
// when the request failed before a response arrived.
func ObserveRequest(endpoint string, status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	RequestsTotal.WithLabelValues(endpoint, label).Inc()
	RequestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveLaunch records a launch outcome.
func ObserveLaunch(outcome string) {
	if outcome == "" {
		outcome = LaunchFailed
	}
	LaunchesTotal.WithLabelValues(outcome).Inc()
}
