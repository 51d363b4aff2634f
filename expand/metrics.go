package expand

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts halo refresh traffic and plan cache behaviour. One Metrics
// may be shared by every node of a process; series carry a node label.
// A nil *Metrics records nothing.
type Metrics struct {
	refreshes   *prometheus.CounterVec
	sendBytes   *prometheus.CounterVec
	recvBytes   *prometheus.CounterVec
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	planBuild   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "halo_refresh_total",
			Help: "Halo refreshes completed, by exchange path.",
		}, []string{"node", "path"}),
		sendBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "halo_refresh_send_bytes_total",
			Help: "Payload bytes sent by halo refreshes.",
		}, []string{"node"}),
		recvBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "halo_refresh_recv_bytes_total",
			Help: "Payload bytes received by halo refreshes.",
		}, []string{"node"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "halo_plan_cache_hits_total",
			Help: "Communication plan lookups served from the cache.",
		}, []string{"node"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "halo_plan_cache_misses_total",
			Help: "Communication plan lookups that ran the negotiation.",
		}, []string{"node"}),
		planBuild: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "halo_plan_build_seconds",
			Help:    "Wall time of plan negotiation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node"}),
	}
	reg.MustRegister(m.refreshes, m.sendBytes, m.recvBytes, m.cacheHits, m.cacheMisses, m.planBuild)
	return m
}

func (m *Metrics) recordRefresh(node int, path string, sendBytes, recvBytes int) {
	if m == nil {
		return
	}
	label := strconv.Itoa(node)
	m.refreshes.WithLabelValues(label, path).Inc()
	m.sendBytes.WithLabelValues(label).Add(float64(sendBytes))
	m.recvBytes.WithLabelValues(label).Add(float64(recvBytes))
}

func (m *Metrics) recordLookup(node int, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.WithLabelValues(strconv.Itoa(node)).Inc()
	} else {
		m.cacheMisses.WithLabelValues(strconv.Itoa(node)).Inc()
	}
}

func (m *Metrics) recordBuild(node int, d time.Duration) {
	if m == nil {
		return
	}
	m.planBuild.WithLabelValues(strconv.Itoa(node)).Observe(d.Seconds())
}
