// SPDX-License-Identifier: MPL-2.0

package timing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/invowk/cougar/pkg/operation"
)

// Prometheus exports execution latency and outcome counts.
type Prometheus struct {
	latency  *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	p := &Prometheus{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "execution_seconds",
			Help:      "Time from executable start to result delivery.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "executions_total",
			Help:      "Finished executions by outcome.",
		}, []string{"operation", "outcome"}),
	}

	for _, c := range []prometheus.Collector{p.latency, p.outcomes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Record observes one execution.
func (p *Prometheus) Record(key operation.Key, outcome Outcome, elapsed time.Duration) {
	op := key.String()
	p.latency.WithLabelValues(op).Observe(elapsed.Seconds())
	p.outcomes.WithLabelValues(op, string(outcome)).Inc()
}
