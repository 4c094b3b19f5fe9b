// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package sink

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/webpa-common/v2/semaphore"
	"go.uber.org/zap"

	"github.com/xmidt-org/culvert/internal/client"
	"github.com/xmidt-org/culvert/internal/deadletter"
	"github.com/xmidt-org/culvert/internal/event"
	"github.com/xmidt-org/culvert/internal/metrics"
	"github.com/xmidt-org/culvert/internal/resolver"
	"github.com/xmidt-org/culvert/internal/transform"
)

// Mirror receives a copy of every accepted batch before delivery is
// attempted.  Implementations must not block the caller.
type Mirror interface {
	Mirror(records []event.Record)
}

// Engine delivers batches of events to the configured backend hosts, with a
// bounded request pool, per-host connection retries, host failover, and dead
// letter persistence once every option is exhausted.
type Engine struct {
	config     Config
	queryPath  string
	headers    map[string]string
	client     client.Client
	resolver   *resolver.Pool
	mutator    *transform.Mutator
	deadletter *deadletter.Writer
	mirror     Mirror
	tokens     semaphore.Interface
	inflight   sync.WaitGroup
	logger     *zap.Logger
	metrics    *metrics.Metrics

	randLock sync.Mutex
	rand     *rand.Rand
	sleep    func(time.Duration)
}

// Option modifies an Engine under construction.
type Option func(*Engine)

// WithMirror attaches a secondary destination that receives each accepted
// batch.
func WithMirror(m Mirror) Option {
	return func(e *Engine) {
		e.mirror = m
	}
}

// WithSleep replaces the backoff sleep function.  Used by tests.
func WithSleep(f func(time.Duration)) Option {
	return func(e *Engine) {
		e.sleep = f
	}
}

// New assembles the delivery engine.  The configuration must already be
// validated.
func New(cfg Config, c client.Client, r *resolver.Pool, logger *zap.Logger, m *metrics.Metrics, opts ...Option) (*Engine, error) {
	mut, err := transform.New(cfg.Mutations)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Content-Type": "application/json",
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.Compress {
		headers["Content-Encoding"] = "gzip"
	}

	e := &Engine{
		config:    cfg,
		queryPath: "/?query=" + url.QueryEscape("INSERT INTO "+cfg.Table+" FORMAT JSONEachRow"),
		headers:   headers,
		client:    c,
		resolver:  r,
		mutator:   mut,
		tokens:    semaphore.New(cfg.PoolMax),
		logger:    logger,
		metrics:   m,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:     time.Sleep,
	}
	if cfg.SaveOnFailure {
		e.deadletter = deadletter.NewWriter(cfg.SaveDir, cfg.SaveFile, logger)
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// delivery tracks the retry state of one batch.
type delivery struct {
	document []byte
	plain    []byte

	remainingHosts []string
	currentHost    string

	connectionAttempt int
	requestAttempt    int
	attempt           int

	correlationID string
	events        int
}

// Submit accepts a batch, applies the configured mutations, serializes it,
// and dispatches delivery.  Submit blocks while all pool tokens are held,
// which propagates backpressure into the flush path.
func (e *Engine) Submit(records []event.Record) {
	if len(records) == 0 {
		return
	}

	out := make([]event.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, e.mutator.Apply(rec))
	}

	plain, err := event.MarshalLines(out)
	if err != nil {
		e.logger.Error("failed to serialize batch", zap.Error(err),
			zap.Int("events", len(records)))
		e.metrics.InvalidPayloads.Add(float64(len(records)))
		return
	}

	document := plain
	if e.config.Compress {
		document, err = compress(plain)
		if err != nil {
			e.logger.Error("failed to compress batch", zap.Error(err))
			document = plain
		}
	}

	// spread load and failover order across instances
	hosts := e.resolver.Addresses(context.Background(), e.config.HTTPHosts)
	e.randLock.Lock()
	e.rand.Shuffle(len(hosts), func(i, j int) { hosts[i], hosts[j] = hosts[j], hosts[i] })
	e.randLock.Unlock()

	d := &delivery{
		document:       document,
		plain:          plain,
		remainingHosts: hosts,
		correlationID:  uuid.NewString(),
		events:         len(records),
	}

	if e.mirror != nil {
		go e.mirror.Mirror(records)
	}

	e.acquireToken()
	e.inflight.Add(1)
	go e.deliver(d, true)
}

// Drain waits for all in-flight deliveries to finish, up to timeout.  It
// reports whether the drain completed.
func (e *Engine) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (e *Engine) acquireToken() {
	e.tokens.Acquire()
	e.metrics.InFlight.Add(1)
}

func (e *Engine) releaseToken() {
	e.metrics.InFlight.Add(-1)
	e.tokens.Release()
}

// deliver runs the retry loop for one batch.  tokenHeld indicates the caller
// already acquired a pool token for the first attempt.
func (e *Engine) deliver(d *delivery, tokenHeld bool) {
	defer e.inflight.Done()

	for {
		if d.currentHost == "" {
			if len(d.remainingHosts) == 0 {
				if tokenHeld {
					e.releaseToken()
					tokenHeld = false
				}
				e.terminal(d, metrics.ConnectionsExhaustedReason, 0, nil)
				return
			}
			d.currentHost = d.remainingHosts[0]
			d.remainingHosts = d.remainingHosts[1:]
		}

		if !tokenHeld {
			e.acquireToken()
		}
		tokenHeld = false

		d.attempt++
		out := e.attempt(d)

		if out.err != nil {
			d.connectionAttempt++
			if d.connectionAttempt >= e.config.AutomaticRetries {
				if len(d.remainingHosts) == 0 {
					e.terminal(d, metrics.ConnectionsExhaustedReason, 0, out.err)
					return
				}
				e.logger.Warn("failing over to next host",
					zap.String("host", d.currentHost),
					zap.String("correlation_id", d.correlationID),
					zap.Error(out.err))
				d.currentHost = ""
				d.connectionAttempt = 0
				if e.config.ResetToleranceOnFailover {
					d.requestAttempt = 0
				}
			}
			e.metrics.DeliveryRetries.With(prometheus.Labels{
				metrics.TableLabel:  e.config.Table,
				metrics.ReasonLabel: metrics.GetDoErrReason(out.err),
			}).Add(1)
			e.sleep(e.nextBackoff(d.attempt))
			continue
		}

		if out.status == http.StatusOK {
			e.metrics.Deliveries.With(prometheus.Labels{
				metrics.TableLabel: e.config.Table,
				metrics.CodeLabel:  strconv.Itoa(out.status),
			}).Add(1)
			e.logger.Debug("batch delivered",
				zap.String("host", d.currentHost),
				zap.String("correlation_id", d.correlationID),
				zap.Int("events", d.events),
				zap.Int("attempts", d.attempt))
			return
		}

		d.requestAttempt++
		if d.requestAttempt >= e.config.RequestTolerance {
			e.terminal(d, metrics.ToleranceExhaustedReason, out.status, nil)
			return
		}
		e.metrics.DeliveryRetries.With(prometheus.Labels{
			metrics.TableLabel:  e.config.Table,
			metrics.ReasonLabel: strconv.Itoa(out.status),
		}).Add(1)
		e.sleep(e.nextBackoff(d.attempt))
	}
}

// outcome is the result of one send attempt.
type outcome struct {
	status int
	err    error
}

func (e *Engine) attempt(d *delivery) outcome {
	defer e.releaseToken()

	req, err := http.NewRequest(http.MethodPost, d.currentHost+e.queryPath,
		bytes.NewReader(d.document))
	if err != nil {
		e.logger.Warn("failed to build request",
			zap.String("host", d.currentHost),
			zap.String("correlation_id", d.correlationID),
			zap.Error(err))
		return outcome{err: err}
	}
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return outcome{err: err}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return outcome{status: resp.StatusCode}
}

// terminal gives up on a batch: log it, count it, and persist it if dead
// letter persistence is enabled.
func (e *Engine) terminal(d *delivery, reason string, status int, err error) {
	e.logger.Error("giving up on batch",
		zap.String("host", d.currentHost),
		zap.String("reason", reason),
		zap.Int("status", status),
		zap.Error(err),
		zap.String("correlation_id", d.correlationID),
		zap.Int("events", d.events),
		zap.Int("bytes", len(d.plain)),
		zap.Int("attempts", d.attempt))
	e.metrics.DeadLetters.With(prometheus.Labels{
		metrics.TableLabel:  e.config.Table,
		metrics.ReasonLabel: reason,
	}).Add(1)
	if e.deadletter != nil {
		e.deadletter.Persist(e.config.Table, d.plain)
	}
}

func (e *Engine) nextBackoff(attempt int) time.Duration {
	return backoffFor(e.config.Backoff(), attempt, func() float64 {
		e.randLock.Lock()
		defer e.randLock.Unlock()
		return e.rand.Float64()
	})
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
