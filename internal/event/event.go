// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package event

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// Record is a single opaque key/value event supplied by the upstream
// pipeline.  A Record is treated as immutable once it has been handed to the
// buffer; transforms produce new Records rather than mutating in place.
type Record map[string]any

// MarshalLines encodes the records as newline delimited JSON, one document
// per line, preserving the order of the slice.  The returned bytes are the
// wire payload for a single batch and must not be modified between delivery
// attempts.
func MarshalLines(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// UnmarshalLines decodes a newline delimited JSON payload back into records.
// Blank lines are skipped.
func UnmarshalLines(payload []byte) ([]Record, error) {
	var records []Record
	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}
