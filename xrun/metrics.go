package xrun

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xpdacq/acq/runengine"
)

// Metrics are the prometheus collectors updated by the dispatcher
type Metrics struct {
	Dispatched prometheus.Counter
	Failed     prometheus.Counter
	Darks      prometheus.Counter
	Documents  *prometheus.CounterVec
	Exposure   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.  A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xpdacq_runs_dispatched_total",
			Help: "plans handed to the run engine",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xpdacq_runs_failed_total",
			Help: "dispatches that returned an error",
		}),
		Darks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "xpdacq_dark_runs_total",
			Help: "dark runs inserted ahead of a light run",
		}),
		Documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "xpdacq_documents_total",
			Help: "documents emitted, by document name",
		}, []string{"name"}),
		Exposure: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "xpdacq_computed_exposure_seconds",
			Help:    "computed exposure of each run that reports one",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.Dispatched, m.Failed, m.Darks, m.Documents, m.Exposure} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Callback is a runengine.Callback counting documents and observing the
// exposure of every run start carrying sp_computed_exposure
func (m *Metrics) Callback(name string, doc runengine.Document) error {
	m.Documents.WithLabelValues(name).Inc()
	if name == runengine.DocStart {
		if e, ok := doc["sp_computed_exposure"].(float64); ok {
			m.Exposure.Observe(e)
		}
	}
	return nil
}
