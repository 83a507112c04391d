package vision

import (
	"github.com/prometheus/client_golang/prometheus"

	"visionsdk/internal/metrics"
)

// RegisterMetrics registers the client and launcher collectors with r,
// for example prometheus.DefaultRegisterer. The collectors count from
// process start whether or not they are registered. Calling it again with
// the same registerer is a no-op.
func RegisterMetrics(r prometheus.Registerer) error {
	return metrics.Register(r)
}
