package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	enabled  atomic.Bool
	regOnce  sync.Once
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection and installs reg as the registry
// concrete implementations construct their collectors against. Calling it
// more than once keeps the first registry. Safe to never call: IsEnabled
// then reports false and every constructor in this module's prometheus
// subpackage returns nil.
func InitRegistry(reg *prometheus.Registry) {
	regOnce.Do(func() {
		registry = reg
		enabled.Store(true)
	})
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return enabled.Load()
}

// GetRegistry returns the registry installed by InitRegistry, or nil if
// metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}
