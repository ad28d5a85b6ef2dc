package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/mezonai/mmn-plasma/logx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type TxRejectedReason string

var (
	TxInvalidSignature    TxRejectedReason = "invalid_signature"
	TxSenderNotExist      TxRejectedReason = "sender_not_exist"
	TxInvalidNonce        TxRejectedReason = "invalid_nonce"
	TxTooManyPending      TxRejectedReason = "too_many_pending"
	TxInsufficientBalance TxRejectedReason = "insufficient_balance"
	TxInvalidTransfer     TxRejectedReason = "invalid_transfer"
	TxTransportFailure    TxRejectedReason = "transport"
	TxRejectedUnknown     TxRejectedReason = "other"
)

type clientPromMetrics struct {
	clientUpUnixSeconds prometheus.Gauge
	signedTxCount       prometheus.Counter
	encodeFailureCount  *prometheus.CounterVec
	allocatedNonceCount prometheus.Counter
	submittedTxCount    prometheus.Counter
	rejectedTxCount     *prometheus.CounterVec
	submitLatency       prometheus.Histogram
	inFlight            prometheus.Gauge
	batchCount          *prometheus.CounterVec
	panicCount          prometheus.Counter
	operatorTxCount     *prometheus.CounterVec
}

func newClientPromMetrics(reg prometheus.Registerer) *clientPromMetrics {
	factory := promauto.With(reg)
	return &clientPromMetrics{
		clientUpUnixSeconds: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "plasma_client_up_timestamp_unix_seconds",
				Help: "Unix timestamp of the client start",
			},
		),
		signedTxCount: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "plasma_client_signed_tx_count",
				Help: "The total number of signed transfers",
			},
		),
		encodeFailureCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plasma_client_encode_failure_count",
				Help: "Transfers that could not be encoded or signed, by error code",
			},
			[]string{"code"},
		),
		allocatedNonceCount: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "plasma_client_allocated_nonce_count",
				Help: "The total number of nonces handed out by the sequencer",
			},
		),
		submittedTxCount: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "plasma_client_submitted_tx_count",
				Help: "Transfers acknowledged by the operator",
			},
		),
		rejectedTxCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plasma_client_rejected_tx_count",
				Help: "Transfers rejected by the operator or lost in transport",
			},
			[]string{"reason"},
		),
		submitLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name: "plasma_client_submit_latency_seconds",
				Help: "Latency of one submission to the operator",
			},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "plasma_client_in_flight_tx",
				Help: "Submissions waiting for the operator answer",
			},
		),
		batchCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plasma_client_batch_count",
				Help: "Finished batches by final status",
			},
			[]string{"status"},
		),
		panicCount: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "plasma_client_panic_count",
				Help: "Recovered goroutine panics",
			},
		),
		operatorTxCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "plasma_devnet_operator_tx_count",
				Help: "Transfers handled by the development operator, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

var (
	clientMetrics *clientPromMetrics
	initOnce      sync.Once
)

// InitMetrics registers the client metrics with the default registry. Safe to
// call more than once; the recording helpers call it on first use.
func InitMetrics() {
	initOnce.Do(func() {
		clientMetrics = newClientPromMetrics(prometheus.DefaultRegisterer)
		clientMetrics.clientUpUnixSeconds.SetToCurrentTime()
	})
}

func metrics() *clientPromMetrics {
	InitMetrics()
	return clientMetrics
}

func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("MONITORING", "Registering prometheus metrics")
	InitMetrics()
	mux.Handle("/metrics", promhttp.Handler())
}

func IncreaseSignedTxCount() {
	metrics().signedTxCount.Inc()
}

func RecordEncodeFailure(code string) {
	if code == "" {
		code = "unknown"
	}
	metrics().encodeFailureCount.With(prometheus.Labels{"code": code}).Inc()
}

func IncreaseAllocatedNonces(n int) {
	metrics().allocatedNonceCount.Add(float64(n))
}

func IncreaseSubmittedTxCount() {
	metrics().submittedTxCount.Inc()
}

func RecordRejectedTx(reason TxRejectedReason) {
	metrics().rejectedTxCount.With(prometheus.Labels{
		"reason": string(reason),
	}).Inc()
}

func RecordSubmitLatency(duration time.Duration) {
	metrics().submitLatency.Observe(duration.Seconds())
}

func AddInFlight(delta int) {
	metrics().inFlight.Add(float64(delta))
}

func RecordBatch(status string) {
	metrics().batchCount.With(prometheus.Labels{"status": status}).Inc()
}

func IncreasePanicCount() {
	metrics().panicCount.Inc()
}

func RecordOperatorTx(outcome string) {
	metrics().operatorTxCount.With(prometheus.Labels{"outcome": outcome}).Inc()
}
