// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package handler

import (
	"bytes"
	"io"
	"net/http"
	"sync/atomic"

	json "github.com/goccy/go-json"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"

	"github.com/xmidt-org/culvert/internal/event"
	"github.com/xmidt-org/culvert/internal/metrics"
)

// Receiver accepts decoded events from the ingest endpoint.  The batch
// buffer satisfies it.
type Receiver interface {
	ReceiveAll(records []event.Record)
}

// ServerHandler is the ingest endpoint.  It accepts a single JSON object or
// a JSON array of objects and hands the decoded events to the buffer.
type ServerHandler struct {
	receiver       Receiver
	telemetry      *metrics.Metrics
	outstanding    int64
	maxOutstanding int64
}

func New(receiver Receiver, m *metrics.Metrics, maxOutstanding int64) *ServerHandler {
	return &ServerHandler{
		receiver:       receiver,
		telemetry:      m,
		maxOutstanding: maxOutstanding,
	}
}

func (sh *ServerHandler) ServeHTTP(response http.ResponseWriter, request *http.Request) {
	logger := sallust.Get(request.Context())

	if len(request.Header["Content-Type"]) != 1 || request.Header["Content-Type"][0] != "application/json" {
		response.WriteHeader(http.StatusUnsupportedMediaType)
		response.Write([]byte("Invalid Content-Type header(s). Expected application/json. \n"))
		logger.Debug("Invalid Content-Type header(s). Expected application/json.")
		return
	}

	outstanding := atomic.AddInt64(&sh.outstanding, 1)
	defer atomic.AddInt64(&sh.outstanding, -1)

	if 0 < sh.maxOutstanding && sh.maxOutstanding < outstanding {
		response.WriteHeader(http.StatusServiceUnavailable)
		response.Write([]byte("Incoming queue is full.\n"))
		logger.Debug("Incoming queue is full.")
		return
	}

	payload, err := io.ReadAll(request.Body)
	if err != nil {
		sh.telemetry.ErrorRequestBodies.Add(1.0)
		logger.Error("Unable to retrieve the request body.", zap.Error(err))
		response.WriteHeader(http.StatusBadRequest)
		return
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		sh.telemetry.EmptyRequestBodies.Add(1.0)
		logger.Error("Empty payload.")
		response.WriteHeader(http.StatusBadRequest)
		response.Write([]byte("Empty payload.\n"))
		return
	}

	records, err := decode(payload)
	if err != nil {
		sh.telemetry.InvalidPayloads.Add(1.0)
		response.WriteHeader(http.StatusBadRequest)
		response.Write([]byte("Invalid payload format.\n"))
		logger.Debug("Invalid payload format.", zap.Error(err))
		return
	}

	sh.telemetry.IncomingEvents.Add(float64(len(records)))
	sh.receiver.ReceiveAll(records)

	response.WriteHeader(http.StatusAccepted)
	response.Write([]byte("Request placed on to queue.\n"))

	logger.Debug("events passed to buffer.", zap.Int("events", len(records)))
}

// decode accepts either a JSON array of objects or one bare object.
func decode(payload []byte) ([]event.Record, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []event.Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var record event.Record
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, err
	}
	return []event.Record{record}, nil
}
