package graphicscore

import "github.com/prometheus/client_golang/prometheus"

// deviceMetrics wires the runtime's internal counters into prometheus client_golang so an
// operator can watch deferred-destroy backlog, bindless table pressure, and async-copy
// progress from outside the process. None of these gauges gate any frame-graph invariant
// in spec.md §8 — this is a pure observability add-on layered beside the hot path, not a
// second implementation of it.
type deviceMetrics struct {
	deferredDestroyPending prometheus.Gauge
	bindlessRegisteredSRVs prometheus.Gauge
	bindlessRegisteredUAVs prometheus.Gauge
	asyncCopyFenceValue    prometheus.Gauge
	framePassDuration      *prometheus.HistogramVec
	pipelineCompileTotal   *prometheus.CounterVec
}

func newDeviceMetrics(reg prometheus.Registerer) *deviceMetrics {
	m := &deviceMetrics{
		deferredDestroyPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphics",
			Name:      "deferred_destroy_pending",
			Help:      "Resources queued for deferred destruction, awaiting frame drain.",
		}),
		bindlessRegisteredSRVs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphics",
			Subsystem: "bindless",
			Name:      "registered_srvs",
			Help:      "Distinct (resource, subresource) SRV slots registered in the current bindless set.",
		}),
		bindlessRegisteredUAVs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphics",
			Subsystem: "bindless",
			Name:      "registered_uavs",
			Help:      "Distinct (resource, subresource) UAV slots registered in the current bindless set.",
		}),
		asyncCopyFenceValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphics",
			Subsystem: "async_copy",
			Name:      "fence_value",
			Help:      "Last timeline value signaled by the async copy queue.",
		}),
		framePassDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graphics",
			Subsystem: "framegraph",
			Name:      "pass_duration_seconds",
			Help:      "Wall time spent inside a frame-graph pass record callback.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pass"}),
		pipelineCompileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphics",
			Subsystem: "pipeline_factory",
			Name:      "compiles_total",
			Help:      "Pipeline compilations that succeeded, partitioned by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.deferredDestroyPending, m.bindlessRegisteredSRVs, m.bindlessRegisteredUAVs,
			m.asyncCopyFenceValue, m.framePassDuration, m.pipelineCompileTotal)
	}
	return m
}
