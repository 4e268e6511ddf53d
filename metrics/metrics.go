package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnstrail_ticks_total",
		Help: "Counter for tracking extractor ticks",
	})

	skippedTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnstrail_skipped_ticks_total",
		Help: "Counter for tracking ticks dropped because the tick queue was full",
	})

	sourceErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnstrail_source_errors_total",
		Help: "Counter for tracking event source query failures",
	})

	extractedRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnstrail_extracted_records_total",
		Help: "Counter for tracking records accepted by the watermark",
	})

	sentRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnstrail_sent_records_total",
		Help: "Counter for tracking records written to the collector",
	})

	sendFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnstrail_send_failures_total",
		Help: "Counter for tracking records dropped on transport failure",
	})

	watermarkSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dnstrail_watermark_seconds",
		Help: "Gauge for the extractor watermark as unix time",
	})

	receivedChunksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnstrail_received_chunks_total",
		Help: "Counter for tracking chunks read by the listener",
	})

	malformedChunksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnstrail_malformed_chunks_total",
		Help: "Counter for tracking chunks rejected by the decoder",
	})

	storedRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnstrail_stored_records_total",
		Help: "Counter for tracking records inserted into the store",
	})

	storeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dnstrail_store_failures_total",
		Help: "Counter for tracking records dropped on store failure",
	})
)

func init() {
	prometheus.MustRegister(
		ticksTotal,
		skippedTicksTotal,
		sourceErrorsTotal,
		extractedRecordsTotal,
		sentRecordsTotal,
		sendFailuresTotal,
		watermarkSeconds,
		receivedChunksTotal,
		malformedChunksTotal,
		storedRecordsTotal,
		storeFailuresTotal,
	)
}

func IncTicks() {
	ticksTotal.Inc()
}

func IncSkippedTicks() {
	skippedTicksTotal.Inc()
}

func IncSourceErrors() {
	sourceErrorsTotal.Inc()
}

func IncExtractedRecords(count int) {
	extractedRecordsTotal.Add(float64(count))
}

func IncSentRecords() {
	sentRecordsTotal.Inc()
}

func IncSendFailures() {
	sendFailuresTotal.Inc()
}

func SetWatermark(unixSeconds float64) {
	watermarkSeconds.Set(unixSeconds)
}

func IncReceivedChunks() {
	receivedChunksTotal.Inc()
}

func IncMalformedChunks() {
	malformedChunksTotal.Inc()
}

func IncStoredRecords() {
	storedRecordsTotal.Inc()
}

func IncStoreFailures() {
	storeFailuresTotal.Inc()
}
