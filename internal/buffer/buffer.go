// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package buffer

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/culvert/internal/batch"
	"github.com/xmidt-org/culvert/internal/event"
	"github.com/xmidt-org/culvert/internal/metrics"
	"go.uber.org/zap"
)

// Flush trigger label values.
const (
	TriggerSize     = "size"
	TriggerIdle     = "idle"
	TriggerShutdown = "shutdown"
)

// Buffer decouples the rate of incoming events from the rate of outbound
// batches.  It flushes when the pending sequence reaches the flush size, when
// the idle timer fires with events pending, or on shutdown.
//
// A flush atomically swaps the pending sequence for a fresh one, so receives
// arriving during a flush land in the new sequence and are never lost or
// duplicated.
type Buffer struct {
	mutex     sync.Mutex
	pending   []event.Record
	lastFlush time.Time

	flushSize int
	idle      time.Duration
	submitter batch.Submitter
	logger    *zap.Logger
	depth     prometheus.Gauge
	flushes   *prometheus.CounterVec

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

func New(flushSize int, idle time.Duration, submitter batch.Submitter, m *metrics.Metrics, logger *zap.Logger) *Buffer {
	return &Buffer{
		flushSize: flushSize,
		idle:      idle,
		submitter: submitter,
		logger:    logger,
		depth:     m.BufferDepth,
		flushes:   m.Flushes,
		shutdown:  make(chan struct{}),
		now:       time.Now,
		lastFlush: time.Now(),
	}
}

// Start launches the idle flush timer.
func (b *Buffer) Start() {
	b.wg.Add(1)
	go b.idleLoop()
}

// Stop shuts the idle timer down and performs the final flush of anything
// still pending.  Safe to call more than once.
func (b *Buffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.shutdown)
		b.wg.Wait()
		b.Flush(true)
	})
}

// Receive appends one event to the pending sequence, flushing if the flush
// size has been reached.  The call blocks while a flush it triggered is
// being handed downstream; that is the backpressure path.
func (b *Buffer) Receive(rec event.Record) {
	b.ReceiveAll([]event.Record{rec})
}

// ReceiveAll appends a group of events, preserving their order.
func (b *Buffer) ReceiveAll(recs []event.Record) {
	if len(recs) == 0 {
		return
	}

	b.mutex.Lock()
	b.pending = append(b.pending, recs...)
	depth := len(b.pending)
	b.depth.Set(float64(depth))
	b.mutex.Unlock()

	if depth >= b.flushSize {
		b.flush(TriggerSize)
	}
}

// Flush hands everything pending downstream.  final marks the shutdown
// flush.
func (b *Buffer) Flush(final bool) {
	trigger := TriggerIdle
	if final {
		trigger = TriggerShutdown
	}
	b.flush(trigger)
}

func (b *Buffer) flush(trigger string) {
	b.mutex.Lock()
	taken := b.pending
	b.pending = nil
	b.lastFlush = b.now()
	b.depth.Set(0)
	b.mutex.Unlock()

	if len(taken) == 0 {
		return
	}

	for _, records := range batch.GetBatches(b.flushSize, taken) {
		b.flushes.With(prometheus.Labels{metrics.TriggerLabel: trigger}).Add(1.0)
		b.logger.Debug("flushing batch",
			zap.Int("events", len(records)),
			zap.String("trigger", trigger))
		b.submitter.Submit(records)
	}
}

func (b *Buffer) idleLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.mutex.Lock()
			stale := len(b.pending) > 0 && b.now().Sub(b.lastFlush) >= b.idle
			b.mutex.Unlock()
			if stale {
				b.flush(TriggerIdle)
			}
		case <-b.shutdown:
			return
		}
	}
}
