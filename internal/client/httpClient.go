// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/culvert/internal/metrics"
)

var errNilHistogram = errors.New("histogram cannot be nil")

type metricWrapper struct {
	now          func() time.Time
	queryLatency prometheus.ObserverVec
}

func NewMetricWrapper(now func() time.Time, queryLatency prometheus.ObserverVec) (*metricWrapper, error) {
	if now == nil {
		now = time.Now
	}
	if queryLatency == nil {
		return nil, errNilHistogram
	}
	return &metricWrapper{
		now:          now,
		queryLatency: queryLatency,
	}, nil
}

// RoundTripper decorates a Client with a per request latency observation,
// labeled by url, status code, and failure reason.
func (m *metricWrapper) RoundTripper(next Client) Client {
	return DoerFunc(func(req *http.Request) (*http.Response, error) {
		startTime := m.now()
		resp, err := next.Do(req)
		endTime := m.now()

		code := metrics.NetworkError
		reason := metrics.NoErrReason
		if err != nil {
			reason = metrics.GetDoErrReason(err)
			if resp != nil {
				code = strconv.Itoa(resp.StatusCode)
			}
		} else {
			code = strconv.Itoa(resp.StatusCode)
		}

		m.queryLatency.With(prometheus.Labels{
			metrics.UrlLabel:    req.URL.Host,
			metrics.CodeLabel:   code,
			metrics.ReasonLabel: reason,
		}).Observe(endTime.Sub(startTime).Seconds())

		return resp, err
	})
}
