package replay

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/retailstreams/errors"
)

func writeDataset(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDataMergesAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "pos.jsonl",
		`{"dataset":"pos_transactions","sequence":2,"timestamp":"2025-08-13T16:00:05.000","event":{"station_id":"SCC1"}}`,
		`{"dataset":"pos_transactions","sequence":1,"timestamp":"2025-08-13T16:00:01.000","event":{"station_id":"SCC1"}}`,
	)
	writeDataset(t, dir, "rfid.jsonl",
		`{"dataset":"rfid_readings","sequence":3,"timestamp":"2025-08-13T16:00:03.000","event":{"station_id":"SCC1"}}`,
	)

	data, err := LoadData([]string{filepath.Join(dir, "*.jsonl")}, false, slog.Default())
	require.NoError(t, err)
	require.Len(t, data.Entries, 3)

	assert.Equal(t, int64(1), data.Entries[0].Sequence)
	assert.Equal(t, "rfid_readings", data.Entries[1].Dataset)
	assert.Equal(t, int64(2), data.Entries[2].Sequence)
	assert.Empty(t, data.Warnings)
	assert.Equal(t, 4*time.Second, data.Span())
}

func TestLoadDataAggregatesMalformedPerDataset(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "mixed.jsonl",
		`not json at all`,
		`{"dataset":"pos_transactions","sequence":1,"timestamp":"2025-08-13T16:00:01.000","event":{}}`,
		`{"timestamp":"2025-08-13T16:00:02.000","event":{}}`,
		`{"dataset":"pos_transactions","sequence":2,"timestamp":"never","event":{}}`,
	)

	data, err := LoadData([]string{filepath.Join(dir, "*.jsonl")}, false, slog.Default())
	require.NoError(t, err)
	assert.Len(t, data.Entries, 1)
	require.Len(t, data.Warnings, 1, "one aggregated warning per dataset")
	assert.Equal(t, "mixed.jsonl", data.Warnings[0].Dataset)
	assert.Equal(t, 3, data.Warnings[0].Skipped)
	assert.NotEmpty(t, data.Warnings[0].FirstCause)
}

func TestLoadDataStrictSchema(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "strict.jsonl",
		`{"dataset":"pos_transactions","sequence":1,"timestamp":"2025-08-13T16:00:01.000","event":{}}`,
		`{"dataset":123,"timestamp":"2025-08-13T16:00:02.000","event":{}}`,
		`{"dataset":"pos_transactions","sequence":2,"event":{}}`,
	)

	data, err := LoadData([]string{filepath.Join(dir, "*.jsonl")}, true, slog.Default())
	require.NoError(t, err)
	assert.Len(t, data.Entries, 1)
	require.Len(t, data.Warnings, 1)
	assert.Equal(t, 2, data.Warnings[0].Skipped)
}

// failingReader yields its payload, then a hard read error.
type failingReader struct {
	payload []byte
	err     error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.payload) == 0 {
		return 0, r.err
	}
	n := copy(p, r.payload)
	r.payload = r.payload[n:]
	return n, nil
}

func TestReadEntriesReportsTruncation(t *testing.T) {
	src := &failingReader{
		payload: []byte(`{"dataset":"pos_transactions","sequence":1,"timestamp":"2025-08-13T16:00:01.000","event":{}}` + "\n" +
			`{"dataset":"pos_transactions","sequence":2,"timestamp":"2025-08-13T16:00:02.000","event":{}}` + "\n"),
		err: errors.New("disk gone"),
	}

	entries, warning := readEntries(src, "pos.jsonl", nil)
	assert.Len(t, entries, 2, "complete lines before the failure survive")
	require.NotNil(t, warning, "truncation must not pass silently")
	assert.Equal(t, "pos.jsonl", warning.Dataset)
	assert.Equal(t, 1, warning.Skipped)
	assert.Contains(t, warning.FirstCause, "disk gone")
}

func TestLoadDataNoMatches(t *testing.T) {
	_, err := LoadData([]string{filepath.Join(t.TempDir(), "*.jsonl")}, false, slog.Default())
	assert.Error(t, err)
}
