package detect

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/retailstreams/catalog"
	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/record"
)

var baseTime = time.Date(2025, 8, 13, 16, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time { return baseTime.Add(offset) }

func testCatalog() *catalog.Catalog {
	return catalog.FromProducts([]catalog.Product{
		{SKU: "PRD_S_04", Name: "Sunsilk Shampoo", WeightG: 340, Price: 4.99, Quantity: 100},
		{SKU: "PRD_F_07", Name: "Instant Noodles", WeightG: 85, Price: 0.89, Quantity: 200},
	})
}

func visionRecord(ts time.Time, station, sku string, confidence float64) record.RawRecord {
	return record.RawRecord{
		Source:    record.SourceVision,
		Timestamp: ts,
		Station:   station,
		Vision:    &record.VisionDetection{PredictedSKU: sku, Confidence: confidence, Station: station},
	}
}

func posRecord(ts time.Time, station, sku string, weightG float64) record.RawRecord {
	return record.RawRecord{
		Source:    record.SourcePOS,
		Timestamp: ts,
		Station:   station,
		POS:       &record.POSTransaction{SKU: sku, Station: station, WeightG: weightG, Customer: "C-1"},
	}
}

func rfidRecord(ts time.Time, epc, sku, zone string) record.RawRecord {
	return record.RawRecord{
		Source:    record.SourceRFID,
		Timestamp: ts,
		RFID:      &record.RFIDReading{EPC: epc, SKU: sku, Zone: zone, Station: "SCC1"},
	}
}

func queueRecord(ts time.Time, station string, count int, dwell float64) record.RawRecord {
	return record.RawRecord{
		Source:    record.SourceQueue,
		Timestamp: ts,
		Station:   station,
		Queue:     &record.QueueSample{Station: station, CustomerCount: count, DwellSeconds: dwell},
	}
}

func statusRecord(ts time.Time, station, status string) record.RawRecord {
	return record.RawRecord{
		Source:    record.SourceStatus,
		Timestamp: ts,
		Station:   station,
		Status:    status,
		StatusSig: &record.StatusSignal{Station: station, Status: status},
	}
}

func consume(t *testing.T, d Detector, rec record.RawRecord) []Candidate {
	t.Helper()
	cands, err := d.Consume(rec)
	require.NoError(t, err)
	return cands
}

type failingDetector struct{ calls int }

func (f *failingDetector) Name() string { return "failing" }
func (f *failingDetector) Consume(record.RawRecord) ([]Candidate, error) {
	f.calls++
	return nil, fmt.Errorf("boom")
}
func (f *failingDetector) Flush(time.Time) []Candidate { return nil }
func (f *failingDetector) Reset()                      {}

func TestDefaultRegistryOrder(t *testing.T) {
	r := NewDefaultRegistry(config.Default().Detectors, testCatalog(), nil)
	require.Equal(t, 6, r.Len())

	names := make([]string, 0, r.Len())
	for _, d := range r.Detectors() {
		names = append(names, d.Name())
	}
	assert.Equal(t, []string{
		EventBarcodeSwitching,
		EventScannerAvoidance,
		EventWeightDiscrepancy,
		EventInventoryDiscrepancy,
		EventQueueHealth,
		EventSystemHealth,
	}, names)
}

func TestRegistryStampsPriorityAndDetector(t *testing.T) {
	cfg := config.Default().Detectors
	r := NewRegistry(nil)
	r.Register(NewBarcodeSwitching(cfg.Barcode))
	r.Register(NewQueueHealth(cfg.Queue))

	cands := r.Consume(queueRecord(at(0), "SCC1", 9, 320), nil)
	require.Len(t, cands, 1)
	assert.Equal(t, EventQueueHealth, cands[0].Detector)
	assert.Equal(t, 1, cands[0].Priority)
}

func TestRegistryIsolatesDetectorErrors(t *testing.T) {
	cfg := config.Default().Detectors
	failing := &failingDetector{}
	r := NewRegistry(nil)
	r.Register(failing)
	r.Register(NewQueueHealth(cfg.Queue))

	var reported []string
	cands := r.Consume(queueRecord(at(0), "SCC1", 9, 320), func(name string, err error) {
		reported = append(reported, name)
	})

	require.Len(t, cands, 1)
	assert.Equal(t, []string{"failing"}, reported)
	assert.Equal(t, 1, failing.calls)
}

func TestRegistryResetClearsState(t *testing.T) {
	cfg := config.Default().Detectors
	r := NewRegistry(nil)
	r.Register(NewQueueHealth(cfg.Queue))

	first := r.Consume(queueRecord(at(0), "SCC1", 9, 320), nil)
	require.Len(t, first, 1)

	// Cooldown suppresses an identical repeat until Reset.
	repeat := r.Consume(queueRecord(at(5*time.Second), "SCC1", 9, 320), nil)
	assert.Empty(t, repeat)

	r.Reset()
	again := r.Consume(queueRecord(at(10*time.Second), "SCC1", 9, 320), nil)
	assert.Len(t, again, 1)
}

func TestClampConfidence(t *testing.T) {
	stamped := stamp([]Candidate{{Confidence: 1.4}, {Confidence: -0.2}}, "x", 0)
	assert.Equal(t, 1.0, stamped[0].Confidence)
	assert.Equal(t, 0.0, stamped[1].Confidence)
}
