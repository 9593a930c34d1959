package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink implementa domain.MetricsSink com um registry próprio
type PrometheusSink struct {
	registry *prometheus.Registry

	rateLimitDenied *prometheus.CounterVec
	quotaExceeded   *prometheus.CounterVec
	storeDegraded   *prometheus.CounterVec
	captchaRequired prometheus.Counter
	accountLocked   prometheus.Counter
}

// NewPrometheusSink registra os contadores num registry novo
func NewPrometheusSink(withRuntimeCollectors bool) *PrometheusSink {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	if withRuntimeCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &PrometheusSink{
		registry: registry,
		rateLimitDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_rate_limit_denied_total",
				Help: "Requests denied by the rate limiter",
			},
			[]string{"scope"},
		),
		quotaExceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_counter_store_quota_exceeded_total",
				Help: "Quota errors reported by the counter store itself",
			},
			[]string{"store"},
		),
		storeDegraded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefront_counter_store_degraded_total",
				Help: "Failovers from the distributed store to memory",
			},
			[]string{"store"},
		),
		captchaRequired: factory.NewCounter(prometheus.CounterOpts{
			Name: "storefront_login_captcha_required_total",
			Help: "Login failures that reached the CAPTCHA threshold",
		}),
		accountLocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "storefront_login_account_locked_total",
			Help: "Identifiers that reached the lockout threshold",
		}),
	}
}

func (p *PrometheusSink) RateLimitDenied(scope string) {
	p.rateLimitDenied.WithLabelValues(scope).Inc()
}

func (p *PrometheusSink) StoreQuotaExceeded(store string) {
	p.quotaExceeded.WithLabelValues(store).Inc()
}

func (p *PrometheusSink) StoreDegraded(store string) {
	p.storeDegraded.WithLabelValues(store).Inc()
}

func (p *PrometheusSink) CaptchaRequired() {
	p.captchaRequired.Inc()
}

func (p *PrometheusSink) AccountLocked() {
	p.accountLocked.Inc()
}

// Handler expõe o registry no formato de texto do Prometheus
func (p *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry retorna o registry usado pelo sink
func (p *PrometheusSink) Registry() *prometheus.Registry {
	return p.registry
}
