// Prometheus metrics for call lifecycle transitions
package call

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "callbridge_call_transitions_total",
	Help: "Total number of call session state transitions",
}, []string{"status"})
