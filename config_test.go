// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package culvert

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, yaml string) *Config {
	t.Helper()
	v := viper.New()
	applyDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))

	cfg := new(Config)
	require.NoError(t, v.Unmarshal(cfg))
	return cfg
}

func TestConfigDefaults(t *testing.T) {
	cfg := loadConfig(t, `
sink:
  http_hosts:
    - http://db01.example.net:8123
  table: events
`)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Sink.FlushSize)
	assert.Equal(t, 5*time.Second, cfg.Sink.IdleFlush())
	assert.Equal(t, 50, cfg.Sink.PoolMax)
	assert.True(t, cfg.Sink.SaveOnFailure)
	assert.Equal(t, "/tmp", cfg.Sink.SaveDir)
	assert.Equal(t, "failed.json", cfg.Sink.SaveFile)
	assert.Equal(t, 5, cfg.Sink.RequestTolerance)
	assert.Equal(t, 3*time.Second, cfg.Sink.Backoff())
	assert.Equal(t, 3, cfg.Sink.AutomaticRetries)
	assert.Equal(t, 120*time.Second, cfg.Sink.HostResolveTTL())
	assert.Equal(t, 10*time.Second, cfg.Sink.Drain())
	assert.False(t, cfg.Sink.ResetToleranceOnFailover)

	assert.Equal(t, ":6000", cfg.Servers.Primary.Address)
	assert.Equal(t, "/metrics", cfg.Servers.Metrics.Path)
	assert.Equal(t, "/health", cfg.Servers.Health.Path)
}

func TestConfigOverrides(t *testing.T) {
	cfg := loadConfig(t, `
max_outstanding: 100
sink:
  http_hosts:
    - http://10.0.0.1:8123
    - http://10.0.0.2:8123
  table: access_log
  flush_size: 200
  idle_flush_time: 1
  request_tolerance: 2
  reset_tolerance_on_failover: true
  compress: true
  mutations:
    short: message
    masked: [card, "\\d{12}", "****"]
mirror:
  enabled: true
  stream: access-log-mirror
  region: us-east-1
`)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(100), cfg.MaxOutstanding)
	assert.Len(t, cfg.Sink.HTTPHosts, 2)
	assert.Equal(t, "access_log", cfg.Sink.Table)
	assert.Equal(t, 200, cfg.Sink.FlushSize)
	assert.Equal(t, time.Second, cfg.Sink.IdleFlush())
	assert.True(t, cfg.Sink.ResetToleranceOnFailover)
	assert.True(t, cfg.Sink.Compress)
	assert.Len(t, cfg.Sink.Mutations, 2)
	assert.True(t, cfg.Mirror.Enabled)
	assert.Equal(t, "access-log-mirror", cfg.Mirror.Stream)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		description string
		yaml        string
		wantErr     string
	}{
		{
			description: "missing hosts",
			yaml: `
sink:
  table: events
`,
			wantErr: "http_hosts",
		},
		{
			description: "missing table",
			yaml: `
sink:
  http_hosts: [http://10.0.0.1:8123]
`,
			wantErr: "table",
		},
		{
			description: "zero tolerance",
			yaml: `
sink:
  http_hosts: [http://10.0.0.1:8123]
  table: events
  request_tolerance: 0
`,
			wantErr: "request_tolerance",
		},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			cfg := loadConfig(t, tc.yaml)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
