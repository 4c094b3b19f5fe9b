// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0
package sink

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/zap"

	"github.com/xmidt-org/culvert/internal/client"
	"github.com/xmidt-org/culvert/internal/event"
	"github.com/xmidt-org/culvert/internal/metrics"
	"github.com/xmidt-org/culvert/internal/resolver"
)

func newTestMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	tf := touchstone.NewFactory(touchstone.Config{}, zap.NewNop(), prometheus.NewPedanticRegistry())
	m, err := metrics.New(tf)
	require.NoError(t, err)
	return m
}

func testConfig(hosts ...string) Config {
	return Config{
		HTTPHosts:        hosts,
		Table:            "events",
		FlushSize:        10,
		PoolMax:          5,
		RequestTolerance: 3,
		AutomaticRetries: 2,
	}
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithSleep(func(time.Duration) {})}, opts...)
	e, err := New(cfg, client.New(cfg.Client), resolver.New(time.Minute, zap.NewNop()),
		zap.NewNop(), newTestMetrics(t), opts...)
	require.NoError(t, err)
	return e
}

func TestSubmitDeliversBatch(t *testing.T) {
	var (
		gotPath   string
		gotQuery  string
		gotHeader http.Header
		gotBody   []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("query")
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Headers = map[string]string{"X-Auth-Token": "sekrit"}
	cfg.Mutations = map[string]any{"short": "message"}
	e := newTestEngine(t, cfg)

	e.Submit([]event.Record{
		{"message": "hello", "level": "info"},
		{"message": "world", "level": "warn"},
	})
	require.True(t, e.Drain(5*time.Second))

	assert.Equal(t, "/", gotPath)
	assert.Equal(t, "INSERT INTO events FORMAT JSONEachRow", gotQuery)
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.Equal(t, "sekrit", gotHeader.Get("X-Auth-Token"))

	records, err := decodeLines(gotBody)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "hello", records[0]["short"])
	assert.Equal(t, "world", records[1]["short"])
}

func TestSubmitEmptyBatch(t *testing.T) {
	e := newTestEngine(t, testConfig("http://127.0.0.1:1"))
	e.Submit(nil)
	assert.True(t, e.Drain(time.Second))
}

func TestRequestToleranceExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dir := t.TempDir()
	cfg := testConfig(server.URL)
	cfg.RequestTolerance = 3
	cfg.SaveOnFailure = true
	cfg.SaveDir = dir
	cfg.SaveFile = "failed.json"
	e := newTestEngine(t, cfg)

	batch := []event.Record{{"message": "doomed"}}
	e.Submit(batch)
	require.True(t, e.Drain(5*time.Second))

	assert.Equal(t, int32(3), attempts.Load())

	saved, err := os.ReadFile(filepath.Join(dir, "events_failed.json"))
	require.NoError(t, err)
	want, err := event.MarshalLines(batch)
	require.NoError(t, err)
	assert.Equal(t, want, saved)
}

func TestFailoverOnConnectionFailure(t *testing.T) {
	var delivered atomic.Int32
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	// a server that is already closed refuses connections
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	cfg := testConfig(deadURL, good.URL)
	cfg.AutomaticRetries = 2
	e := newTestEngine(t, cfg)

	e.Submit([]event.Record{{"message": "persistent"}})
	require.True(t, e.Drain(5*time.Second))

	assert.Equal(t, int32(1), delivered.Load())
}

func TestConnectionsExhausted(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	dir := t.TempDir()
	cfg := testConfig(deadURL)
	cfg.AutomaticRetries = 2
	cfg.SaveOnFailure = true
	cfg.SaveDir = dir
	cfg.SaveFile = "failed.json"
	e := newTestEngine(t, cfg)

	batch := []event.Record{{"message": "unreachable"}}
	e.Submit(batch)
	require.True(t, e.Drain(5*time.Second))

	saved, err := os.ReadFile(filepath.Join(dir, "events_failed.json"))
	require.NoError(t, err)
	want, err := event.MarshalLines(batch)
	require.NoError(t, err)
	assert.Equal(t, want, saved)
}

func TestPoolMaxBoundsConcurrency(t *testing.T) {
	var (
		current atomic.Int32
		peak    atomic.Int32
	)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.PoolMax = 2
	e := newTestEngine(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Submit([]event.Record{{"message": "blocked"}})
		}()
	}

	require.Eventually(t, func() bool {
		return current.Load() == 2
	}, 5*time.Second, 10*time.Millisecond)

	close(release)
	wg.Wait()
	require.True(t, e.Drain(5*time.Second))
	assert.Equal(t, int32(2), peak.Load())
}

func TestCompressedPayload(t *testing.T) {
	var (
		gotEncoding string
		gotBody     []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotBody, _ = io.ReadAll(zr)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Compress = true
	e := newTestEngine(t, cfg)

	batch := []event.Record{{"message": "squeezed"}}
	e.Submit(batch)
	require.True(t, e.Drain(5*time.Second))

	assert.Equal(t, "gzip", gotEncoding)
	want, err := event.MarshalLines(batch)
	require.NoError(t, err)
	assert.Equal(t, want, gotBody)
}

func TestBackoffUsedBetweenRetries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	var (
		sleepLock sync.Mutex
		sleeps    []time.Duration
	)
	cfg := testConfig(server.URL)
	cfg.RequestTolerance = 3
	cfg.BackoffTime = 2
	e := newTestEngine(t, cfg, WithSleep(func(d time.Duration) {
		sleepLock.Lock()
		sleeps = append(sleeps, d)
		sleepLock.Unlock()
	}))

	e.Submit([]event.Record{{"message": "slow down"}})
	require.True(t, e.Drain(5*time.Second))

	sleepLock.Lock()
	defer sleepLock.Unlock()
	// two retries after the first failure, each preceded by a backoff
	require.Len(t, sleeps, 2)
	base := 2 * time.Second
	for i, d := range sleeps {
		assert.GreaterOrEqual(t, d, base, "sleep %d", i)
	}
	assert.GreaterOrEqual(t, sleeps[1], sleeps[0])
}

func TestMirrorReceivesBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mirrored := make(chan []event.Record, 1)
	e := newTestEngine(t, testConfig(server.URL), WithMirror(mirrorFunc(func(records []event.Record) {
		mirrored <- records
	})))

	e.Submit([]event.Record{{"message": "copied"}})
	require.True(t, e.Drain(5*time.Second))

	select {
	case records := <-mirrored:
		require.Len(t, records, 1)
		assert.Equal(t, "copied", records[0]["message"])
	case <-time.After(5 * time.Second):
		t.Fatal("mirror never received the batch")
	}
}

type mirrorFunc func(records []event.Record)

func (f mirrorFunc) Mirror(records []event.Record) { f(records) }

func decodeLines(body []byte) ([]event.Record, error) {
	return event.UnmarshalLines(body)
}
