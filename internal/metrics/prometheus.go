package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var eventsDesc = prometheus.NewDesc(
	"aero_camera_webrtc_relay_events_total",
	"Internal event counters.",
	[]string{"event"},
	nil,
)

// collector exports every counter as one sample of a single family labeled by
// event name.
type collector struct {
	m *Metrics
}

func (c collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- eventsDesc
}

func (c collector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range c.m.Snapshot() {
		ch <- prometheus.MustNewConstMetric(eventsDesc, prometheus.CounterValue, float64(v), name)
	}
}

// PrometheusHandler exposes m together with the Go runtime and process
// collectors.
func PrometheusHandler(m *Metrics) http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collector{m: m},
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
