// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"crypto/tls"
	"net/http"
	"time"
)

// Client is the interface used to issue outbound requests.  The delivery
// engine only needs Do; everything else about the transport is opaque.
type Client interface {
	Do(*http.Request) (*http.Response, error)
}

// DoerFunc implements Client.
type DoerFunc func(*http.Request) (*http.Response, error)

func (d DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return d(req)
}

// NopMiddleware is the identity Client middleware.
func NopMiddleware(next Client) Client {
	return next
}

// Config tunes the production HTTP transport.
type Config struct {
	Timeout               time.Duration `mapstructure:"timeout"`
	IdleConnTimeout       time.Duration `mapstructure:"idle_conn_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
	MaxIdleConnsPerHost   int           `mapstructure:"max_idle_conns_per_host"`
	InsecureSkipVerify    bool          `mapstructure:"insecure_skip_verify"`
}

// New produces the production *http.Client used for batch delivery.
func New(cfg Config) *http.Client {
	tr := &http.Transport{
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, // nolint: gosec
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		IdleConnTimeout:       cfg.IdleConnTimeout,
	}

	return &http.Client{
		Transport: tr,
		Timeout:   cfg.Timeout,
	}
}
