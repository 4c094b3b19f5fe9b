// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package culvert

import (
	"github.com/spf13/viper"
	"github.com/xmidt-org/sallust"
	"github.com/xmidt-org/touchstone"

	"github.com/xmidt-org/culvert/internal/mirror"
	"github.com/xmidt-org/culvert/internal/sink"
)

// Config is the top level configuration for the culvert service.  Everything
// is contained in this structure or it will intentionally cause a failure.
type Config struct {
	Logging    sallust.Config    `mapstructure:"logging"`
	Prometheus touchstone.Config `mapstructure:"prometheus"`
	Servers    Servers           `mapstructure:"servers"`
	Sink       sink.Config       `mapstructure:"sink"`
	Mirror     mirror.Config     `mapstructure:"mirror"`

	// MaxOutstanding bounds concurrent ingest requests; zero disables the
	// limit.
	MaxOutstanding int64 `mapstructure:"max_outstanding"`
}

type Servers struct {
	Primary PrimaryServer `mapstructure:"primary"`
	Metrics MetricsServer `mapstructure:"metrics"`
	Health  HealthServer  `mapstructure:"health"`
}

type PrimaryServer struct {
	Address string `mapstructure:"address"`
}

type MetricsServer struct {
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

type HealthServer struct {
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// applyDefaults seeds viper with the defaults every deployment shares.  The
// sink defaults mirror the historical plugin behavior.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("servers.primary.address", ":6000")
	v.SetDefault("servers.metrics.address", ":6001")
	v.SetDefault("servers.metrics.path", "/metrics")
	v.SetDefault("servers.health.address", ":6002")
	v.SetDefault("servers.health.path", "/health")

	v.SetDefault("sink.flush_size", 50)
	v.SetDefault("sink.idle_flush_time", 5)
	v.SetDefault("sink.pool_max", 50)
	v.SetDefault("sink.save_on_failure", true)
	v.SetDefault("sink.save_dir", "/tmp")
	v.SetDefault("sink.save_file", "failed.json")
	v.SetDefault("sink.request_tolerance", 5)
	v.SetDefault("sink.backoff_time", 3)
	v.SetDefault("sink.automatic_retries", 3)
	v.SetDefault("sink.host_resolve_ttl_sec", 120)
	v.SetDefault("sink.drain_timeout", 10)
}

func (c Config) Validate() error {
	return c.Sink.Validate()
}
