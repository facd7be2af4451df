// Package metrics exposes prometheus collectors for the broker's job lifecycle.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu  sync.RWMutex
	reg *prometheus.Registry

	jobsCreated   *prometheus.CounterVec
	jobsClaimed   prometheus.Counter
	jobsRequeued  prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	claimEmpty    prometheus.Counter
)

func init() {
	resetLocked()
}

// Reset clears and reinitializes all collectors. Primarily used by tests.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resetLocked()
}

func resetLocked() {
	reg = prometheus.NewRegistry()

	jobsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_jobs_created_total",
		Help: "Jobs accepted by POST /jobs, by command.",
	}, []string{"command"})
	jobsClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_jobs_claimed_total",
		Help: "Successful atomic claims.",
	})
	jobsRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_jobs_requeued_total",
		Help: "Stale running jobs reset to queued during claims.",
	})
	jobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_jobs_completed_total",
		Help: "Jobs transitioned to done.",
	})
	jobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_jobs_failed_total",
		Help: "Jobs transitioned to failed.",
	})
	claimEmpty = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_claims_empty_total",
		Help: "Claim requests that returned no job.",
	})

	reg.MustRegister(jobsCreated, jobsClaimed, jobsRequeued, jobsCompleted, jobsFailed, claimEmpty)
}

// Handler returns an HTTP handler exposing the registry in Prometheus format.
func Handler() http.Handler {
	mu.RLock()
	registry := reg
	mu.RUnlock()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveJobCreated records an accepted job.
func ObserveJobCreated(command string) {
	mu.RLock()
	defer mu.RUnlock()
	jobsCreated.WithLabelValues(command).Inc()
}

// ObserveClaim records a claim outcome.
func ObserveClaim(claimed bool) {
	mu.RLock()
	defer mu.RUnlock()
	if claimed {
		jobsClaimed.Inc()
	} else {
		claimEmpty.Inc()
	}
}

// ObserveRequeued records n stale jobs returned to the queue.
func ObserveRequeued(n int) {
	mu.RLock()
	defer mu.RUnlock()
	jobsRequeued.Add(float64(n))
}

// ObserveTerminal records a terminal transition.
func ObserveTerminal(failed bool) {
	mu.RLock()
	defer mu.RUnlock()
	if failed {
		jobsFailed.Inc()
	} else {
		jobsCompleted.Inc()
	}
}
