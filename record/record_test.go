package record

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/retailstreams/errors"
)

func TestSourceForDataset(t *testing.T) {
	tests := []struct {
		dataset string
		want    Source
		ok      bool
	}{
		{"pos_transactions", SourcePOS, true},
		{"POS_Transactions", SourcePOS, true},
		{"rfid_readings", SourceRFID, true},
		{"RFID_data", SourceRFID, true},
		{"product_recognition", SourceVision, true},
		{"Product_recognism", SourceVision, true},
		{"Queue_monitor", SourceQueue, true},
		{"station_status", SourceStatus, true},
		{"Current_inventory_data", SourceInventory, true},
		{"telemetry_v2", "", false},
	}
	for _, tt := range tests {
		got, ok := SourceForDataset(tt.dataset)
		assert.Equal(t, tt.ok, ok, tt.dataset)
		if ok {
			assert.Equal(t, tt.want, got, tt.dataset)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 8, 13, 16, 0, 1, 500_000_000, time.UTC)

	for _, in := range []string{
		"2025-08-13T16:00:01.5Z",
		"2025-08-13T16:00:01.500",
		"2025-08-13 16:00:01.500",
		"2025-08-13T16:00:01.500+00:00",
	} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s parsed to %v", in, got)
	}

	_, err := ParseTimestamp("not a time")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestFormatTimestampStable(t *testing.T) {
	ts := time.Date(2025, 8, 13, 16, 0, 1, 250_000_000, time.FixedZone("X", 3600))
	assert.Equal(t, "2025-08-13T15:00:01.250Z", FormatTimestamp(ts))
}

func TestParsePOS(t *testing.T) {
	line := []byte(`{"dataset":"pos_transactions","sequence":7,"timestamp":"2025-08-13T16:00:01.000","event":{"station_id":"SCC1","status":"Active","data":{"customer_id":"C004","sku":"PRD_S_04","product_name":"Sugar 1kg","price":240.0,"weight_g":"1005"}}}`)
	rec, err := Parse(line)
	require.NoError(t, err)

	assert.Equal(t, SourcePOS, rec.Source)
	assert.Equal(t, int64(7), rec.Sequence)
	assert.Equal(t, "SCC1", rec.Station)
	assert.Equal(t, "Active", rec.Status)

	want := &POSTransaction{
		SKU:         "PRD_S_04",
		ProductName: "Sugar 1kg",
		Customer:    "C004",
		WeightG:     1005,
		Price:       240,
		Station:     "SCC1",
	}
	if diff := cmp.Diff(want, rec.POS); diff != "" {
		t.Fatalf("POS payload mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRFIDUppercasesZone(t *testing.T) {
	line := []byte(`{"dataset":"rfid_readings","sequence":1,"timestamp":"2025-08-13T16:00:02.000","event":{"station_id":"SCC1","data":{"epc":"E280-1160","sku":"PRD_S_04","location":"exit_gate"}}}`)
	rec, err := Parse(line)
	require.NoError(t, err)
	require.NotNil(t, rec.RFID)
	assert.Equal(t, "EXIT_GATE", rec.RFID.Zone)
	assert.Equal(t, "E280-1160", rec.RFID.EPC)
}

func TestParseVisionAndQueue(t *testing.T) {
	vision, err := Parse([]byte(`{"dataset":"product_recognition","sequence":2,"timestamp":"2025-08-13T16:00:03.000","event":{"station_id":"SCC2","data":{"predicted_product":"PRD_A_01","accuracy":0.88}}}`))
	require.NoError(t, err)
	require.NotNil(t, vision.Vision)
	assert.InDelta(t, 0.88, vision.Vision.Confidence, 1e-9)

	queue, err := Parse([]byte(`{"dataset":"queue_monitoring","sequence":3,"timestamp":"2025-08-13T16:00:04.000","event":{"station_id":"SCC2","data":{"customer_count":9,"average_dwell_time":320.0}}}`))
	require.NoError(t, err)
	require.NotNil(t, queue.Queue)
	assert.Equal(t, 9, queue.Queue.CustomerCount)
	assert.InDelta(t, 320.0, queue.Queue.DwellSeconds, 1e-9)
}

func TestParseInventorySnapshot(t *testing.T) {
	rec, err := Parse([]byte(`{"dataset":"inventory_snapshots","sequence":4,"timestamp":"2025-08-13T16:05:00.000","event":{"data":{"PRD_S_04":118,"PRD_A_01":"42"}}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"PRD_S_04": 118, "PRD_A_01": 42}, rec.Inventory)
}

func TestParseStatusSignal(t *testing.T) {
	rec, err := Parse([]byte(`{"dataset":"station_status","sequence":5,"timestamp":"2025-08-13T16:00:05.000","event":{"station_id":"SCC3","data":{"status":"Crash","error_code":"E105"}}}`))
	require.NoError(t, err)
	require.NotNil(t, rec.StatusSig)
	assert.Equal(t, "Crash", rec.StatusSig.Status)
	assert.Equal(t, "E105", rec.StatusSig.ErrorCode)
	assert.Equal(t, "Crash", rec.Status)
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `garbage`,
		"unknown dataset": `{"dataset":"mystery","timestamp":"2025-08-13T16:00:01.000","event":{}}`,
		"bad timestamp":   `{"dataset":"pos_transactions","timestamp":"soon","event":{}}`,
		"no timestamp":    `{"dataset":"pos_transactions","event":{}}`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(line))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "expected invalid classification")
		})
	}
}

func TestParseFallsBackToEventTimestamp(t *testing.T) {
	rec, err := Parse([]byte(`{"dataset":"pos_transactions","event":{"station_id":"SCC1","timestamp":"2025-08-13T16:00:09.000","data":{"sku":"X"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "2025-08-13T16:00:09.000Z", FormatTimestamp(rec.Timestamp))
}
