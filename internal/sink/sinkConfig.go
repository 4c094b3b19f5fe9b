// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package sink

import (
	"errors"
	"time"

	"github.com/xmidt-org/culvert/internal/client"
)

// Config is the delivery engine's configuration surface.  The three *_time
// options are expressed in whole seconds to match the configuration files of
// the plugins this service replaces.
type Config struct {
	// HTTPHosts is the list of backend endpoint URIs.  Required.
	HTTPHosts []string `mapstructure:"http_hosts"`

	// Table is the destination table named in the insert query.  Required.
	Table string `mapstructure:"table"`

	// Headers are added to every outbound request.  Content-Type defaults
	// to application/json when unset.
	Headers map[string]string `mapstructure:"headers"`

	// FlushSize is the batch size that triggers an immediate flush.
	FlushSize int `mapstructure:"flush_size"`

	// IdleFlushTime is the idle flush window, in seconds.
	IdleFlushTime int `mapstructure:"idle_flush_time"`

	// PoolMax bounds the number of concurrently outstanding requests.
	PoolMax int `mapstructure:"pool_max"`

	// SaveOnFailure enables dead letter persistence of exhausted batches.
	SaveOnFailure bool `mapstructure:"save_on_failure"`

	// SaveDir and SaveFile locate the dead letter file, which is named
	// <save_dir>/<table>_<save_file>.
	SaveDir  string `mapstructure:"save_dir"`
	SaveFile string `mapstructure:"save_file"`

	// RequestTolerance is the total number of sends attempted against a
	// reachable host that keeps answering with a non-success status.
	RequestTolerance int `mapstructure:"request_tolerance"`

	// BackoffTime is the base retry delay, in seconds.
	BackoffTime int `mapstructure:"backoff_time"`

	// AutomaticRetries is the number of connection attempts against one
	// host before failing over to the next.
	AutomaticRetries int `mapstructure:"automatic_retries"`

	// Mutations maps output fields onto source specifications; see the
	// transform package.
	Mutations map[string]any `mapstructure:"mutations"`

	// HostResolveTTLSec is the hostname resolution cache TTL, in seconds.
	HostResolveTTLSec int `mapstructure:"host_resolve_ttl_sec"`

	// ResetToleranceOnFailover also resets the request tolerance counter
	// when failing over to a new host.  The historical behavior is false.
	ResetToleranceOnFailover bool `mapstructure:"reset_tolerance_on_failover"`

	// Compress gzips batch payloads and marks them Content-Encoding: gzip.
	Compress bool `mapstructure:"compress"`

	// DrainTimeout bounds the shutdown wait for in-flight deliveries, in
	// seconds.
	DrainTimeout int `mapstructure:"drain_timeout"`

	// Client tunes the outbound HTTP transport.
	Client client.Config `mapstructure:"client"`
}

func (c Config) IdleFlush() time.Duration {
	return time.Duration(c.IdleFlushTime) * time.Second
}

func (c Config) Backoff() time.Duration {
	return time.Duration(c.BackoffTime) * time.Second
}

func (c Config) HostResolveTTL() time.Duration {
	return time.Duration(c.HostResolveTTLSec) * time.Second
}

func (c Config) Drain() time.Duration {
	return time.Duration(c.DrainTimeout) * time.Second
}

// Validate reports the configuration errors that must prevent startup.
func (c Config) Validate() error {
	if len(c.HTTPHosts) == 0 {
		return errors.New("sink.http_hosts must not be empty")
	}
	if c.Table == "" {
		return errors.New("sink.table is required")
	}
	if c.FlushSize < 1 {
		return errors.New("sink.flush_size must be at least 1")
	}
	if c.PoolMax < 1 {
		return errors.New("sink.pool_max must be at least 1")
	}
	if c.RequestTolerance < 1 {
		return errors.New("sink.request_tolerance must be at least 1")
	}
	return nil
}
