package client

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts refresh activity. A nil *Metrics records nothing.
type Metrics struct {
	refreshTotal      *prometheus.CounterVec
	retryTotal        prometheus.Counter
	forcedLogoutTotal prometheus.Counter
}

// NewMetrics creates the client counters and registers them with reg when it
// is non-nil. Collectors already registered on reg are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portalgate_refresh_total",
			Help: "Access token refresh attempts by result.",
		}, []string{"result"}),
		retryTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portalgate_retry_total",
			Help: "Requests resent after an access token refresh.",
		}),
		forcedLogoutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portalgate_forced_logout_total",
			Help: "Sessions ended because the refresh token was rejected.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.refreshTotal, err = register(reg, m.refreshTotal); err != nil {
		return nil, err
	}
	if m.retryTotal, err = register(reg, m.retryTotal); err != nil {
		return nil, err
	}
	if m.forcedLogoutTotal, err = register(reg, m.forcedLogoutTotal); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func (m *Metrics) refreshed(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.refreshTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) retried() {
	if m == nil {
		return
	}
	m.retryTotal.Inc()
}

func (m *Metrics) forcedLogout() {
	if m == nil {
		return
	}
	m.forcedLogoutTotal.Inc()
}
