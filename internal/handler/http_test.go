// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/zap"

	"github.com/xmidt-org/culvert/internal/event"
	"github.com/xmidt-org/culvert/internal/metrics"
)

type captureReceiver struct {
	received [][]event.Record
}

func (c *captureReceiver) ReceiveAll(records []event.Record) {
	c.received = append(c.received, records)
}

func newTestMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	tf := touchstone.NewFactory(touchstone.Config{}, zap.NewNop(), prometheus.NewPedanticRegistry())
	m, err := metrics.New(tf)
	require.NoError(t, err)
	return m
}

func TestServeHTTP(t *testing.T) {
	tests := []struct {
		description string
		contentType string
		body        string
		wantStatus  int
		wantEvents  int
	}{
		{
			description: "single object",
			contentType: "application/json",
			body:        `{"message":"hello","level":"info"}`,
			wantStatus:  http.StatusAccepted,
			wantEvents:  1,
		},
		{
			description: "array of objects",
			contentType: "application/json",
			body:        `[{"message":"a"},{"message":"b"},{"message":"c"}]`,
			wantStatus:  http.StatusAccepted,
			wantEvents:  3,
		},
		{
			description: "wrong content type",
			contentType: "application/msgpack",
			body:        `{"message":"hello"}`,
			wantStatus:  http.StatusUnsupportedMediaType,
		},
		{
			description: "missing content type",
			contentType: "",
			body:        `{"message":"hello"}`,
			wantStatus:  http.StatusUnsupportedMediaType,
		},
		{
			description: "empty body",
			contentType: "application/json",
			body:        "",
			wantStatus:  http.StatusBadRequest,
		},
		{
			description: "whitespace body",
			contentType: "application/json",
			body:        "   \n",
			wantStatus:  http.StatusBadRequest,
		},
		{
			description: "invalid json",
			contentType: "application/json",
			body:        `{"message":`,
			wantStatus:  http.StatusBadRequest,
		},
		{
			description: "array of non objects",
			contentType: "application/json",
			body:        `[1,2,3]`,
			wantStatus:  http.StatusBadRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			rec := &captureReceiver{}
			sh := New(rec, newTestMetrics(t), 0)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(tc.body))
			if tc.contentType != "" {
				req.Header.Set("Content-Type", tc.contentType)
			}
			w := httptest.NewRecorder()
			sh.ServeHTTP(w, req)

			assert.Equal(t, tc.wantStatus, w.Code)
			if tc.wantEvents > 0 {
				require.Len(t, rec.received, 1)
				assert.Len(t, rec.received[0], tc.wantEvents)
			} else {
				assert.Empty(t, rec.received)
			}
		})
	}
}

func TestServeHTTPFull(t *testing.T) {
	rec := &captureReceiver{}
	sh := New(rec, newTestMetrics(t), 1)
	// occupy the only slot
	sh.outstanding = 1

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events",
		strings.NewReader(`{"message":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	sh.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, rec.received)
}
