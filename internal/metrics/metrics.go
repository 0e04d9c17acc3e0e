package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EndpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "endpoint_responses_total",
		Help: "The total number of endpoint responses",
	}, []string{"endpoint", "status_code"})

	// Stream kernel metrics
	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stream_kernel_duration_seconds",
		Help:    "Duration of a single stream kernel invocation in seconds",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 14), // 1us to ~67s
	}, []string{"kernel"})

	KernelBandwidth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stream_kernel_bandwidth_bytes_per_second",
		Help: "Best bandwidth of each kernel in the last run, in bytes per second",
	}, []string{"kernel"})

	ArraySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stream_array_size",
		Help: "Number of elements per array in the last run",
	})

	ValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_validation_failures_total",
		Help: "Total number of runs whose results failed verification",
	})

	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_runs_total",
		Help: "Total number of benchmark runs by backend",
	}, []string{"backend"})

	TuneBandwidth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stream_tune_bandwidth_bytes_per_second",
		Help: "Best bandwidth of each kernel per launch configuration during tuning",
	}, []string{"kernel", "block_size", "dot_blocks", "workers"})

	// Device metrics
	DeviceMemoryUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stream_device_memory_used_bytes",
		Help: "Device memory held by the stream arrays and dot scratch buffer in bytes",
	})
)
