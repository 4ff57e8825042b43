package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalTokens atomic.Int64

var (
	InferenceTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inference_tokens_total",
		Help: "The total number of tokens processed by the forward pipeline",
	})

	InferenceDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "inference_duration_seconds",
		Help: "Duration of single-token forward steps",
	})

	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kernel_duration_seconds",
		Help:    "Histogram of compute kernel execution times",
		Buckets: prometheus.DefBuckets,
	}, []string{"kernel"})

	ContextLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "context_length_tokens",
		Help:    "Distribution of context lengths processed",
		Buckets: []float64{16, 64, 256, 512, 1024, 2048, 4096, 8192},
	})

	KVCacheCapacityBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_capacity_bytes",
		Help: "Total capacity of the KV cache in bytes",
	})

	KVCacheUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_used_bytes",
		Help: "Current bytes used in the KV cache",
	})

	KVCacheOverwrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kv_cache_overwrite_total",
		Help: "Count of rejected writes to an already-populated KV cache cell",
	})

	KVCacheOutOfBounds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kv_cache_oob_total",
		Help: "Count of KV cache writes past the context window",
	})

	SamplingTemperature = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sampling_temperature",
		Help:    "Temperature values used in sampling",
		Buckets: []float64{0, 0.1, 0.3, 0.5, 0.7, 1.0, 1.5, 2.0},
	})

	SamplingTopP = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sampling_top_p",
		Help:    "Top-P values used in sampling",
		Buckets: []float64{0.1, 0.3, 0.5, 0.7, 0.9, 0.95, 1.0},
	})

	NucleusSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sampling_nucleus_size",
		Help:    "Number of candidates retained by nucleus truncation",
		Buckets: []float64{1, 2, 5, 10, 50, 100, 1000, 10000},
	})

	QuantGroupMaxError = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quant_group_max_error",
		Help:    "Maximum absolute round-trip error observed while quantizing",
		Buckets: []float64{0, 0.0001, 0.001, 0.01, 0.1, 1.0},
	})

	TokenizerEncodeLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tokenizer_encode_length",
		Help:    "Token counts produced by Encode",
		Buckets: []float64{1, 8, 32, 128, 512, 2048},
	})

	FlightPublishTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flight_publish_total",
		Help: "Number of hidden-state batches published over Arrow Flight",
	})

	FlightPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flight_publish_errors_total",
		Help: "Number of failed Arrow Flight publishes",
	})
)

// RecordInference records one forward step.
func RecordInference(tokens int, duration time.Duration) {
	InferenceTokensTotal.Add(float64(tokens))
	InferenceDuration.Observe(duration.Seconds())
	totalTokens.Add(int64(tokens))
}

// TotalTokens returns the number of tokens processed since start.
func TotalTokens() int64 {
	return totalTokens.Load()
}

// RecordKernelDuration records one kernel invocation.
func RecordKernelDuration(name string, duration time.Duration) {
	KernelDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordContextLength records the context length of a completed step.
func RecordContextLength(tokens int) {
	ContextLengthHistogram.Observe(float64(tokens))
}

// RecordKVCacheStats updates the cache capacity/usage gauges.
func RecordKVCacheStats(capacity, used int64) {
	KVCacheCapacityBytes.Set(float64(capacity))
	KVCacheUsedBytes.Set(float64(used))
}

// RecordSampling records the sampler configuration used for one draw.
func RecordSampling(temperature, topP float64) {
	SamplingTemperature.Observe(temperature)
	SamplingTopP.Observe(topP)
}

// RecordQuantError records the max absolute error of one quantized tensor.
func RecordQuantError(maxErr float64) {
	QuantGroupMaxError.Observe(maxErr)
}

// RecordTokenizerEncode records the length of one Encode result.
func RecordTokenizerEncode(length int) {
	TokenizerEncodeLength.Observe(float64(length))
}
