package replay

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/pkg/frame"
	"github.com/c360/retailstreams/record"
)

func testData(t *testing.T, n int) *Data {
	t.Helper()
	base := time.Date(2025, 8, 13, 16, 0, 0, 0, time.UTC)
	data := &Data{}
	for i := 0; i < n; i++ {
		data.Entries = append(data.Entries, Entry{
			Dataset:   "pos_transactions",
			Sequence:  int64(i + 1),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Event:     json.RawMessage(`{"station_id":"SCC1"}`),
		})
	}
	return data
}

func startServer(t *testing.T, cfg config.ReplayConfig, data *Data) *Server {
	t.Helper()
	cfg.Listen = "127.0.0.1:0"
	if len(cfg.Datasets) == 0 {
		cfg.Datasets = []string{"unused"}
	}
	srv := NewServer(ServerDeps{Config: cfg, Data: data})
	require.NoError(t, srv.Initialize())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop(5 * time.Second) })
	return srv
}

func readEnvelopes(t *testing.T, addr string, n int) []record.Envelope {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	scanner := frame.NewScanner(conn)
	var envs []record.Envelope
	for len(envs) < n {
		line, err := scanner.Next()
		require.NoError(t, err)
		var env record.Envelope
		require.NoError(t, json.Unmarshal(line, &env))
		envs = append(envs, env)
	}
	return envs
}

func timestamps(t *testing.T, envs []record.Envelope) []time.Time {
	t.Helper()
	out := make([]time.Time, len(envs))
	for i, env := range envs {
		ts, err := record.ParseTimestamp(env.Timestamp)
		require.NoError(t, err)
		out[i] = ts
	}
	return out
}

func TestServeOrderedRecords(t *testing.T) {
	srv := startServer(t, config.ReplayConfig{Speed: 0}, testData(t, 5))

	envs := readEnvelopes(t, srv.Addr(), 5)
	require.Len(t, envs, 5)

	prev := time.Time{}
	for i, ts := range timestamps(t, envs) {
		assert.False(t, ts.Before(prev), "timestamp regressed at %d", i)
		prev = ts
	}
	assert.Equal(t, int64(1), envs[0].Sequence)
	assert.Equal(t, int64(5), envs[4].Sequence)
}

func TestSpeedMultiplierPacing(t *testing.T) {
	// Three records 1s apart at 100x should take roughly 20ms.
	srv := startServer(t, config.ReplayConfig{Speed: 100}, testData(t, 3))

	start := time.Now()
	readEnvelopes(t, srv.Addr(), 3)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second, "pacing should be scaled down by the multiplier")
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond, "pacing should not be skipped entirely")
}

func TestLoopRebasingStaysMonotonic(t *testing.T) {
	srv := startServer(t, config.ReplayConfig{Speed: 0, Loop: true}, testData(t, 3))

	envs := readEnvelopes(t, srv.Addr(), 9) // three full passes
	tss := timestamps(t, envs)
	for i := 1; i < len(tss); i++ {
		assert.True(t, tss[i].After(tss[i-1]),
			"timestamps must be strictly increasing across loop boundaries, got %v then %v", tss[i-1], tss[i])
	}
}

func TestConcurrentClientsAreIsolated(t *testing.T) {
	srv := startServer(t, config.ReplayConfig{Speed: 0, Loop: true}, testData(t, 4))

	// First client connects and drops immediately mid-stream.
	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	_ = conn.Close()

	// Second client still receives a complete ordered stream.
	envs := readEnvelopes(t, srv.Addr(), 8)
	assert.Len(t, envs, 8)
}

func TestInitializeRequiresData(t *testing.T) {
	srv := NewServer(ServerDeps{
		Config: config.ReplayConfig{Listen: "127.0.0.1:0", Datasets: []string{"x"}},
		Data:   &Data{},
	})
	assert.Error(t, srv.Initialize())
}

func TestStopClosesActiveConnections(t *testing.T) {
	srv := startServer(t, config.ReplayConfig{Speed: 0, Loop: true}, testData(t, 3))

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	// Drain a little to make sure the connection is being served.
	scanner := frame.NewScanner(conn)
	_, err = scanner.Next()
	require.NoError(t, err)

	require.NoError(t, srv.Stop(5*time.Second))

	// The server closes the connection; reads hit EOF shortly after.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, err = scanner.Next(); err != nil {
			break
		}
	}
	assert.Error(t, err)
}
