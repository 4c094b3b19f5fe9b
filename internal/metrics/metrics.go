// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package metrics

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/touchstone"
)

// Metric names.
const (
	IncomingEventCounter     = "incoming_event_count"
	ErrorRequestBodyCounter  = "error_request_body_count"
	EmptyRequestBodyCounter  = "empty_request_body_count"
	DropsDueToInvalidPayload = "drops_due_to_invalid_payload"
	BufferDepthGauge         = "buffer_depth"
	FlushCounter             = "flush_count"
	DeliveryCounter          = "delivery_count"
	DeliveryRetryCounter     = "delivery_retry_count"
	DeadLetterCounter        = "dead_letter_count"
	InFlightGauge            = "outbound_in_flight"
	ResolveErrorCounter      = "resolve_error_count"
	MirrorFailureCounter     = "mirror_failure_count"
	QueryDurationHistogram   = "query_duration_histogram_seconds"
)

// Metric labels.
const (
	CodeLabel    = "code"
	ReasonLabel  = "reason"
	TableLabel   = "table"
	TriggerLabel = "trigger"
	UrlLabel     = "url"
)

// Reasons used with ReasonLabel.
const (
	NoErrReason     = "no_err"
	GenericDoReason = "do_error"
	NetworkError    = "network_err"

	deadlineExceededReason                = "context_deadline_exceeded"
	contextCanceledReason                 = "context_canceled"
	addressErrReason                      = "address_error"
	parseAddrErrReason                    = "parse_address_error"
	invalidAddrReason                     = "invalid_address"
	dnsErrReason                          = "dns_error"
	hostNotFoundReason                    = "host_not_found"
	connClosedReason                      = "connection_closed"
	opErrReason                           = "op_error"
	networkErrReason                      = "unknown_network_err"
	connectionUnexpectedlyClosedEOFReason = "connection_unexpectedly_closed_eof"

	// terminal failure reasons
	ConnectionsExhaustedReason = "connections_exhausted"
	ToleranceExhaustedReason   = "tolerance_exhausted"
)

// Metrics is the set of instruments shared by the handler, buffer, and
// delivery engine.
type Metrics struct {
	IncomingEvents     prometheus.Counter
	ErrorRequestBodies prometheus.Counter
	EmptyRequestBodies prometheus.Counter
	InvalidPayloads    prometheus.Counter
	BufferDepth        prometheus.Gauge
	Flushes            *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	DeliveryRetries    *prometheus.CounterVec
	DeadLetters        *prometheus.CounterVec
	InFlight           prometheus.Gauge
	ResolveErrors      *prometheus.CounterVec
	MirrorFailures     prometheus.Counter
	QueryLatency       prometheus.ObserverVec
}

// New registers the culvert metric set with the supplied touchstone factory.
func New(tf *touchstone.Factory) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.IncomingEvents, err = tf.NewCounter(prometheus.CounterOpts{
		Name: IncomingEventCounter,
		Help: "Count of events accepted by the ingest handler.",
	}); err != nil {
		return nil, err
	}

	if m.ErrorRequestBodies, err = tf.NewCounter(prometheus.CounterOpts{
		Name: ErrorRequestBodyCounter,
		Help: "Count of the number of errors encountered reading a request body.",
	}); err != nil {
		return nil, err
	}

	if m.EmptyRequestBodies, err = tf.NewCounter(prometheus.CounterOpts{
		Name: EmptyRequestBodyCounter,
		Help: "Count of the number of times a request had an empty body.",
	}); err != nil {
		return nil, err
	}

	if m.InvalidPayloads, err = tf.NewCounter(prometheus.CounterOpts{
		Name: DropsDueToInvalidPayload,
		Help: "Count of dropped requests due to an invalid payload.",
	}); err != nil {
		return nil, err
	}

	if m.BufferDepth, err = tf.NewGauge(prometheus.GaugeOpts{
		Name: BufferDepthGauge,
		Help: "Number of events waiting in the batch buffer.",
	}); err != nil {
		return nil, err
	}

	if m.Flushes, err = tf.NewCounterVec(prometheus.CounterOpts{
		Name: FlushCounter,
		Help: "Count of batch flushes by trigger.",
	}, TriggerLabel); err != nil {
		return nil, err
	}

	if m.Deliveries, err = tf.NewCounterVec(prometheus.CounterOpts{
		Name: DeliveryCounter,
		Help: "Count of delivered batches by status code.",
	}, TableLabel, CodeLabel); err != nil {
		return nil, err
	}

	if m.DeliveryRetries, err = tf.NewCounterVec(prometheus.CounterOpts{
		Name: DeliveryRetryCounter,
		Help: "Number of delivery retries made.",
	}, TableLabel, ReasonLabel); err != nil {
		return nil, err
	}

	if m.DeadLetters, err = tf.NewCounterVec(prometheus.CounterOpts{
		Name: DeadLetterCounter,
		Help: "Count of batches handed to the dead letter writer.",
	}, TableLabel, ReasonLabel); err != nil {
		return nil, err
	}

	if m.InFlight, err = tf.NewGauge(prometheus.GaugeOpts{
		Name: InFlightGauge,
		Help: "Number of outstanding delivery requests.",
	}); err != nil {
		return nil, err
	}

	if m.ResolveErrors, err = tf.NewCounterVec(prometheus.CounterOpts{
		Name: ResolveErrorCounter,
		Help: "Count of hostname resolution failures.",
	}, ReasonLabel); err != nil {
		return nil, err
	}

	if m.MirrorFailures, err = tf.NewCounter(prometheus.CounterOpts{
		Name: MirrorFailureCounter,
		Help: "Count of batches the stream mirror failed to write.",
	}); err != nil {
		return nil, err
	}

	if m.QueryLatency, err = tf.NewHistogramVec(prometheus.HistogramOpts{
		Name:    QueryDurationHistogram,
		Help:    "A histogram of latencies for backend queries.",
		Buckets: []float64{0.0625, 0.125, .25, .5, 1, 5, 10, 20, 40, 80, 160},
	}, UrlLabel, CodeLabel, ReasonLabel); err != nil {
		return nil, err
	}

	return &m, nil
}

// GetDoErrReason maps a client.Do error onto a low cardinality label value.
func GetDoErrReason(err error) string {
	var d *net.DNSError
	if err == nil {
		return NoErrReason
	} else if errors.Is(err, context.DeadlineExceeded) {
		return deadlineExceededReason
	} else if errors.Is(err, context.Canceled) {
		return contextCanceledReason
	} else if errors.Is(err, &net.AddrError{}) {
		return addressErrReason
	} else if errors.Is(err, &net.ParseError{}) {
		return parseAddrErrReason
	} else if errors.Is(err, net.InvalidAddrError("")) {
		return invalidAddrReason
	} else if errors.As(err, &d) {
		if d.IsNotFound {
			return hostNotFoundReason
		}
		return dnsErrReason
	} else if errors.Is(err, net.ErrClosed) {
		return connClosedReason
	} else if errors.Is(err, &net.OpError{}) {
		return opErrReason
	} else if errors.Is(err, net.UnknownNetworkError("")) {
		return networkErrReason
	}

	// nolint: errorlint
	if err, ok := err.(*url.Error); ok {
		if strings.TrimSpace(strings.ToLower(err.Unwrap().Error())) == "eof" {
			return connectionUnexpectedlyClosedEOFReason
		}
	}

	return GenericDoReason
}
