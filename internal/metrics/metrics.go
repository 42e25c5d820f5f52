// Package metrics exposes the process-wide Prometheus counters, gauges, and
// histograms that every proxy and toxic reports into, plus a per-proxy
// scoped handle that adapts them to the internal/toxic.Recorder interface
// used by the data path.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rom8726/faultproxy/internal/forward"
	"github.com/rom8726/faultproxy/internal/toxic"
)

// latencyBuckets are the fixed histogram boundaries, in seconds, for
// toxic_latency_seconds.
var latencyBuckets = []float64{
	0.001, 0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.000, 2.500, 5.000,
}

// Registry owns the full metric family set for one process. Unlike the
// package-level globals common to single-purpose services, Registry is a
// value so tests can spin up an isolated instance per case instead of
// sharing mutable global state across the test binary.
type Registry struct {
	reg *prometheus.Registry

	bytesTotal       *prometheus.CounterVec
	activeConns      *prometheus.GaugeVec
	toxicActivations *prometheus.CounterVec
	toxicLatency     *prometheus.HistogramVec
	corruptions      *prometheus.CounterVec
	connectErrors    *prometheus.CounterVec
}

// New builds a Registry with all six metric families registered against a
// private prometheus.Registry (never the global DefaultRegisterer, so that
// multiple Registries — e.g. one per test — never collide on re-registration).
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.bytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bytes_total",
		Help: "Bytes forwarded through a proxy, by direction.",
	}, []string{"proxy", "direction"})

	r.activeConns = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "active_connections",
		Help: "Currently open client connections for a proxy.",
	}, []string{"proxy"})

	r.toxicActivations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "toxic_activations_total",
		Help: "Times a toxic actually altered or delayed a chunk, by toxic type.",
	}, []string{"proxy", "toxic_type"})

	r.toxicLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toxic_latency_seconds",
		Help:    "Observed sleep duration of Latency toxic activations.",
		Buckets: latencyBuckets,
	}, []string{"proxy"})

	r.corruptions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "corruptions_total",
		Help: "Chunks whose first byte was rewritten by a Corrupt toxic.",
	}, []string{"proxy"})

	r.connectErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_connect_errors_total",
		Help: "Upstream dial failures encountered by a proxy's forwarders.",
	}, []string{"proxy"})

	r.reg.MustRegister(
		r.bytesTotal, r.activeConns, r.toxicActivations,
		r.toxicLatency, r.corruptions, r.connectErrors,
	)

	return r
}

// Handler returns the /metrics exposition handler bound to this Registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// AddBytes increments bytes_total{proxy,direction} by n.
func (r *Registry) AddBytes(proxy string, dir toxic.Direction, n int) {
	if n <= 0 {
		return
	}
	r.bytesTotal.WithLabelValues(proxy, string(dir)).Add(float64(n))
}

// ConnectionOpened increments active_connections{proxy}.
func (r *Registry) ConnectionOpened(proxy string) {
	r.activeConns.WithLabelValues(proxy).Inc()
}

// ConnectionClosed decrements active_connections{proxy}.
func (r *Registry) ConnectionClosed(proxy string) {
	r.activeConns.WithLabelValues(proxy).Dec()
}

// ConnectError increments proxy_connect_errors_total{proxy}.
func (r *Registry) ConnectError(proxy string) {
	r.connectErrors.WithLabelValues(proxy).Inc()
}

// DeleteProxy removes every series labelled with proxy, so deleted proxies
// stop appearing in /metrics exposition.
func (r *Registry) DeleteProxy(proxy string) {
	r.activeConns.DeleteLabelValues(proxy)
	r.bytesTotal.DeletePartialMatch(prometheus.Labels{"proxy": proxy})
	r.toxicActivations.DeletePartialMatch(prometheus.Labels{"proxy": proxy})
	r.toxicLatency.DeletePartialMatch(prometheus.Labels{"proxy": proxy})
	r.corruptions.DeleteLabelValues(proxy)
	r.connectErrors.DeleteLabelValues(proxy)
}

// ForProxy returns a *ProxyRecorder, as a forward.Metrics, scoped to one
// proxy name, for use by that proxy's forwarders and pipelines.
func (r *Registry) ForProxy(name string) forward.Metrics {
	return &ProxyRecorder{reg: r, proxy: name}
}

// ProxyRecorder adapts Registry to toxic.Recorder for a single proxy name,
// so the data path never needs to thread a proxy name through every call.
type ProxyRecorder struct {
	reg   *Registry
	proxy string
}

func (p *ProxyRecorder) RecordActivation(toxicType string) {
	p.reg.toxicActivations.WithLabelValues(p.proxy, toxicType).Inc()
}

func (p *ProxyRecorder) ObserveLatency(d time.Duration) {
	p.reg.toxicLatency.WithLabelValues(p.proxy).Observe(d.Seconds())
}

func (p *ProxyRecorder) RecordCorruption() {
	p.reg.corruptions.WithLabelValues(p.proxy).Inc()
}

// AddBytes, ConnectionOpened, ConnectionClosed, and ConnectError round out
// forward.Metrics so a ProxyRecorder can be handed to a Forwarder directly,
// with the proxy name already baked in.

func (p *ProxyRecorder) AddBytes(_ string, dir toxic.Direction, n int) {
	p.reg.AddBytes(p.proxy, dir, n)
}

func (p *ProxyRecorder) ConnectionOpened(_ string) {
	p.reg.ConnectionOpened(p.proxy)
}

func (p *ProxyRecorder) ConnectionClosed(_ string) {
	p.reg.ConnectionClosed(p.proxy)
}

func (p *ProxyRecorder) ConnectError(_ string) {
	p.reg.ConnectError(p.proxy)
}

var _ toxic.Recorder = (*ProxyRecorder)(nil)
