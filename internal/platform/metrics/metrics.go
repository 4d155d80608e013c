package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ehr/patientdesk/internal/platform/fhirclient"
)

// DeskMetrics exposes counters/histograms for remote FHIR calls and
// latest-encounter resolutions.
type DeskMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	resolutionTotal *prometheus.CounterVec
}

func NewDeskMetrics(reg prometheus.Registerer) *DeskMetrics {
	m := &DeskMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientdesk",
			Subsystem: "fhir",
			Name:      "requests_total",
			Help:      "Total FHIR requests by interaction and response status",
		}, []string{"interaction", "resource_type", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "patientdesk",
			Subsystem: "fhir",
			Name:      "request_duration_seconds",
			Help:      "Latency of FHIR requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"interaction"}),
		resolutionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientdesk",
			Subsystem: "encounter",
			Name:      "resolutions_total",
			Help:      "Latest-encounter resolutions by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.requestLatency, m.resolutionTotal)
	return m
}

// ObserveInteraction implements fhirclient.Observer.
func (m *DeskMetrics) ObserveInteraction(_ context.Context, e fhirclient.Interaction) {
	if m == nil {
		return
	}
	status := "error"
	if e.StatusCode > 0 {
		status = strconv.Itoa(e.StatusCode)
	}
	m.requestsTotal.WithLabelValues(e.Kind, e.ResourceType, status).Inc()
	m.requestLatency.WithLabelValues(e.Kind).Observe(e.Duration.Seconds())
}

// ObserveResolution counts one latest-encounter resolution outcome.
func (m *DeskMetrics) ObserveResolution(outcome string) {
	if m == nil {
		return
	}
	m.resolutionTotal.WithLabelValues(outcome).Inc()
}
