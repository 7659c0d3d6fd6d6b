package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/retailstreams/errors"
	"github.com/c360/retailstreams/pkg/frame"
	"github.com/c360/retailstreams/record"
)

// envelopeSchema is the wire contract every dataset line must satisfy
// in strict mode. Payload contents stay free-form; the envelope shape
// is what the reader side depends on.
const envelopeSchema = `{
	"type": "object",
	"required": ["dataset", "timestamp"],
	"properties": {
		"dataset":   {"type": "string", "minLength": 1},
		"sequence":  {"type": "integer"},
		"timestamp": {"type": "string", "minLength": 1},
		"event":     {"type": "object"}
	}
}`

// Entry is one replayable record: the original event payload plus the
// parsed timestamp used for ordering and pacing.
type Entry struct {
	Dataset   string
	Sequence  int64
	Timestamp time.Time
	Event     json.RawMessage
}

// LoadWarning aggregates the malformed lines of one dataset file into a
// single report: count plus the first cause seen.
type LoadWarning struct {
	Dataset    string
	Skipped    int
	FirstCause string
}

// Data is the merged, timestamp-sorted record set served to clients.
// It is immutable after load; connections share it read-only.
type Data struct {
	Entries  []Entry
	Warnings []LoadWarning
}

// Span returns the stream time covered by the record set.
func (d *Data) Span() time.Duration {
	if len(d.Entries) < 2 {
		return 0
	}
	return d.Entries[len(d.Entries)-1].Timestamp.Sub(d.Entries[0].Timestamp)
}

// LoadData reads every JSONL file matched by the globs, merges the
// records, and sorts them by (timestamp, sequence). Malformed lines are
// skipped; each affected dataset produces exactly one aggregated
// warning, logged here and retained on the result.
func LoadData(globs []string, strict bool, logger *slog.Logger) (*Data, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var schema *gojsonschema.Schema
	if strict {
		var err error
		schema, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
		if err != nil {
			return nil, errors.WrapFatal(err, "replay", "LoadData", "compile envelope schema")
		}
	}

	var paths []string
	for _, glob := range globs {
		matches, err := filepath.Glob(glob)
		if err != nil {
			return nil, errors.WrapInvalid(err, "replay", "LoadData", "dataset glob")
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no files matched %v: %w", globs, errors.ErrMissingConfig),
			"replay", "LoadData", "dataset discovery")
	}
	sort.Strings(paths)

	data := &Data{}
	for _, path := range paths {
		entries, warning, err := loadFile(path, schema)
		if err != nil {
			return nil, err
		}
		data.Entries = append(data.Entries, entries...)
		if warning != nil {
			logger.Warn("skipped malformed dataset records",
				"dataset", warning.Dataset,
				"skipped", warning.Skipped,
				"first_cause", warning.FirstCause)
			data.Warnings = append(data.Warnings, *warning)
		}
	}

	sort.SliceStable(data.Entries, func(i, j int) bool {
		a, b := data.Entries[i], data.Entries[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Sequence < b.Sequence
	})

	return data, nil
}

func loadFile(path string, schema *gojsonschema.Schema) ([]Entry, *LoadWarning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.WrapFatal(err, "replay", "loadFile", "open dataset")
	}
	defer f.Close()

	entries, warning := readEntries(f, filepath.Base(path), schema)
	return entries, warning, nil
}

func readEntries(r io.Reader, name string, schema *gojsonschema.Schema) ([]Entry, *LoadWarning) {
	var entries []Entry
	skipped := 0
	firstCause := ""

	skip := func(cause string) {
		skipped++
		if firstCause == "" {
			firstCause = cause
		}
	}

	scanner := frame.NewScanner(r)
	for {
		line, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The rest of the file is unreadable; report the
			// truncation instead of silently dropping it.
			skip(fmt.Sprintf("read failed, dataset truncated: %v", err))
			break
		}

		if schema != nil {
			result, err := schema.Validate(gojsonschema.NewBytesLoader(line))
			if err != nil || !result.Valid() {
				cause := "schema validation failed"
				if err != nil {
					cause = err.Error()
				} else if len(result.Errors()) > 0 {
					cause = result.Errors()[0].String()
				}
				skip(cause)
				continue
			}
		}

		var env record.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			skip(err.Error())
			continue
		}
		if env.Dataset == "" {
			skip("missing dataset field")
			continue
		}
		ts, err := record.ParseTimestamp(env.Timestamp)
		if err != nil {
			skip(err.Error())
			continue
		}

		entries = append(entries, Entry{
			Dataset:   env.Dataset,
			Sequence:  env.Sequence,
			Timestamp: ts,
			Event:     env.Event,
		})
	}

	var warning *LoadWarning
	if skipped > 0 {
		warning = &LoadWarning{Dataset: name, Skipped: skipped, FirstCause: firstCause}
	}
	return entries, warning
}
