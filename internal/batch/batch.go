// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package batch

import "github.com/xmidt-org/culvert/internal/event"

// Submitter consumes one completed batch of records.  The call may block as
// a form of backpressure; the caller must not retain or modify the slice
// afterward.
type Submitter interface {
	Submit(records []event.Record)
}

// GetBatch returns the slice of at most batchSize items beginning at start,
// and whether more items remain past the returned batch.
func GetBatch[T any](start int, batchSize int, items []T) ([]T, bool) {
	if len(items)-start <= batchSize {
		return items[start:], false
	}
	return items[start : start+batchSize], true
}

// GetBatches splits items into consecutive batches of at most batchSize.
// An empty input yields no batches.
func GetBatches[T any](batchSize int, items []T) [][]T {
	batches := [][]T{}
	if len(items) == 0 {
		return batches
	}

	for start, more := 0, true; more; start += batchSize {
		var b []T
		b, more = GetBatch(start, batchSize, items)
		batches = append(batches, b)
	}

	return batches
}
