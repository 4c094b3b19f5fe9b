// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package mirror

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/retry"
	"go.uber.org/zap"

	"github.com/xmidt-org/culvert/internal/event"
)

const putRetries = 3

// Mirror copies accepted batches onto a Kinesis stream alongside the primary
// HTTP delivery path.  Mirroring is best effort; failures are counted and
// logged but never affect the primary path.
type Mirror struct {
	client   PutRecorder
	stream   string
	logger   *zap.Logger
	failures prometheus.Counter
	runner   retry.Runner[int]
}

// New builds the stream mirror.  The caller decides whether mirroring is
// enabled; New assumes it is.
func New(cfg Config, client PutRecorder, logger *zap.Logger, failures prometheus.Counter) (*Mirror, error) {
	runner, err := retry.NewRunner[int](
		retry.WithPolicyFactory[int](retry.Config{
			Interval:   10 * time.Millisecond,
			MaxRetries: putRetries,
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Mirror{
		client:   client,
		stream:   cfg.Stream,
		logger:   logger,
		failures: failures,
		runner:   runner,
	}, nil
}

// Mirror writes one copy of each record to the stream, partitioned randomly.
func (m *Mirror) Mirror(records []event.Record) {
	items := make([]Item, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			m.logger.Error("error marshaling mirrored event", zap.Error(err))
			continue
		}
		items = append(items, Item{Data: data, PartitionKey: uuid.NewString()})
	}
	if len(items) == 0 {
		return
	}

	attempts := 0
	failedRecordCount, err := m.runner.Run(
		context.Background(),
		func(_ context.Context) (int, error) {
			attempts++
			failedRecordCount, err := m.client.PutRecords(items, m.stream)
			if err != nil {
				m.logger.Error("stream PutRecords error", zap.Int("attempt", attempts), zap.Error(err))
			}
			return failedRecordCount, err
		},
	)

	if err != nil {
		m.failures.Add(1)
		m.logger.Error("giving up mirroring batch",
			zap.String("stream", m.stream),
			zap.Int("events", len(items)),
			zap.Error(err))
		return
	}
	if failedRecordCount > 0 {
		m.failures.Add(1)
		m.logger.Warn("stream rejected some mirrored records",
			zap.String("stream", m.stream),
			zap.Int("failed", failedRecordCount))
	}
}
