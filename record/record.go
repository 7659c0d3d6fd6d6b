// Package record defines the normalized data model for retail sensor
// streams: the wire envelope served by the replay server and the typed
// RawRecord consumed by detectors.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c360/retailstreams/errors"
)

// Source identifies the sensor stream a record originated from.
type Source string

const (
	// SourceRFID is shelf/exit RFID tag movement.
	SourceRFID Source = "rfid"
	// SourcePOS is point-of-sale transactions.
	SourcePOS Source = "pos"
	// SourceVision is the vision SKU recognition system.
	SourceVision Source = "vision"
	// SourceQueue is queue telemetry (length and dwell).
	SourceQueue Source = "queue"
	// SourceStatus is station status/heartbeat signals.
	SourceStatus Source = "system_status"
	// SourceInventory is periodic shelf inventory snapshots.
	SourceInventory Source = "inventory"
)

// datasetSources maps wire dataset names (including the legacy aliases
// that appear in recorded datasets) to sources.
var datasetSources = map[string]Source{
	"rfid_readings":       SourceRFID,
	"rfid_data":           SourceRFID,
	"pos_transactions":    SourcePOS,
	"product_recognition": SourceVision,
	"product_recognism":   SourceVision,
	"queue_monitoring":    SourceQueue,
	"queue_monitor":       SourceQueue,
	"station_status":      SourceStatus,
	"system_status":       SourceStatus,
	"inventory_snapshots": SourceInventory,
	"current_inventory_data": SourceInventory,
}

// SourceForDataset resolves a wire dataset name to its Source.
func SourceForDataset(dataset string) (Source, bool) {
	s, ok := datasetSources[strings.ToLower(strings.TrimSpace(dataset))]
	return s, ok
}

// RFIDReading is one tag observation at a reader.
type RFIDReading struct {
	EPC     string `json:"epc"`
	SKU     string `json:"sku,omitempty"`
	Station string `json:"station_id,omitempty"`
	Zone    string `json:"location,omitempty"`
}

// POSTransaction is one scanned item at a point of sale.
type POSTransaction struct {
	SKU         string  `json:"sku"`
	ProductName string  `json:"product_name,omitempty"`
	Customer    string  `json:"customer_id,omitempty"`
	WeightG     float64 `json:"weight_g,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Station     string  `json:"station_id,omitempty"`
}

// VisionDetection is one SKU prediction from the vision system.
type VisionDetection struct {
	PredictedSKU string  `json:"predicted_product"`
	Confidence   float64 `json:"accuracy"`
	Station      string  `json:"station_id,omitempty"`
}

// QueueSample is one queue telemetry observation at a station.
type QueueSample struct {
	Station       string  `json:"station_id,omitempty"`
	CustomerCount int     `json:"customer_count"`
	DwellSeconds  float64 `json:"average_dwell_time"`
}

// StatusSignal is a station health/heartbeat signal.
type StatusSignal struct {
	Station   string `json:"station_id,omitempty"`
	Status    string `json:"status"`
	ErrorCode string `json:"error_code,omitempty"`
}

// RawRecord is the normalized form of one stream record. Exactly one
// payload pointer is set, selected by Source; Inventory carries the
// snapshot counts for SourceInventory records.
type RawRecord struct {
	Source    Source
	Dataset   string
	Sequence  int64
	Timestamp time.Time

	// Station and Status are hoisted from the event body because any
	// dataset may carry them (the status stream is not the only place a
	// station reports trouble).
	Station string
	Status  string

	RFID      *RFIDReading
	POS       *POSTransaction
	Vision    *VisionDetection
	Queue     *QueueSample
	StatusSig *StatusSignal
	Inventory map[string]int
}

// Envelope is the self-describing wire form: one JSON object per
// newline-terminated line.
type Envelope struct {
	Dataset   string          `json:"dataset"`
	Sequence  int64           `json:"sequence"`
	Timestamp string          `json:"timestamp"`
	Event     json.RawMessage `json:"event"`
}

// eventBody is the envelope's event object before payload typing.
type eventBody struct {
	StationID string          `json:"station_id"`
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// timestamp layouts accepted on the wire, most specific first. Layouts
// without a zone are taken as UTC.
var tsLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601-ish wire timestamp.
func ParseTimestamp(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, errors.WrapInvalid(errors.ErrParsingFailed, "record", "ParseTimestamp", "empty timestamp")
	}
	for _, layout := range tsLayouts {
		if strings.Contains(layout, "Z07") {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.WrapInvalid(
		fmt.Errorf("unrecognized timestamp %q: %w", value, errors.ErrParsingFailed),
		"record", "ParseTimestamp", "layout match")
}

// FormatTimestamp renders t in the canonical wire form: UTC with
// millisecond precision. All emitted timestamps go through here so
// identical runs produce identical bytes.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// flexFloat accepts JSON numbers or numeric strings; recorded datasets
// mix both.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexInt accepts JSON integers, floats, or numeric strings.
type flexInt int

func (i *flexInt) UnmarshalJSON(data []byte) error {
	var f flexFloat
	if err := f.UnmarshalJSON(data); err != nil {
		return err
	}
	*i = flexInt(f)
	return nil
}

// Parse decodes one newline-framed envelope line into a RawRecord.
// Unknown datasets and undecodable payloads return invalid-classified
// errors; callers skip and count them, they are never fatal.
func Parse(line []byte) (RawRecord, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return RawRecord{}, errors.WrapInvalid(err, "record", "Parse", "envelope decode")
	}
	return FromEnvelope(env)
}

// FromEnvelope converts a decoded envelope into a RawRecord.
func FromEnvelope(env Envelope) (RawRecord, error) {
	source, ok := SourceForDataset(env.Dataset)
	if !ok {
		return RawRecord{}, errors.WrapInvalid(
			fmt.Errorf("dataset %q: %w", env.Dataset, errors.ErrUnknownDataset),
			"record", "FromEnvelope", "dataset mapping")
	}

	var body eventBody
	if len(env.Event) > 0 {
		if err := json.Unmarshal(env.Event, &body); err != nil {
			return RawRecord{}, errors.WrapInvalid(err, "record", "FromEnvelope", "event decode")
		}
	}

	tsValue := env.Timestamp
	if tsValue == "" {
		tsValue = body.Timestamp
	}
	ts, err := ParseTimestamp(tsValue)
	if err != nil {
		return RawRecord{}, err
	}

	rec := RawRecord{
		Source:    source,
		Dataset:   env.Dataset,
		Sequence:  env.Sequence,
		Timestamp: ts,
		Station:   body.StationID,
		Status:    body.Status,
	}

	if err := rec.decodePayload(body.Data); err != nil {
		return RawRecord{}, err
	}
	return rec, nil
}

func (r *RawRecord) decodePayload(data json.RawMessage) error {
	if len(data) == 0 {
		// Status-only events are legal on every stream.
		if r.Source == SourceStatus {
			r.StatusSig = &StatusSignal{Station: r.Station, Status: r.Status}
		}
		return nil
	}

	fail := func(err error) error {
		return errors.WrapInvalid(err, "record", "decodePayload", string(r.Source)+" payload decode")
	}

	switch r.Source {
	case SourceRFID:
		var p RFIDReading
		if err := json.Unmarshal(data, &p); err != nil {
			return fail(err)
		}
		if p.Station == "" {
			p.Station = r.Station
		}
		p.Zone = strings.ToUpper(strings.TrimSpace(p.Zone))
		r.RFID = &p

	case SourcePOS:
		var raw struct {
			SKU         string    `json:"sku"`
			ProductName string    `json:"product_name"`
			Customer    string    `json:"customer_id"`
			WeightG     flexFloat `json:"weight_g"`
			Weight      flexFloat `json:"weight"`
			Price       flexFloat `json:"price"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return fail(err)
		}
		weight := float64(raw.WeightG)
		if weight == 0 {
			weight = float64(raw.Weight)
		}
		r.POS = &POSTransaction{
			SKU:         raw.SKU,
			ProductName: raw.ProductName,
			Customer:    raw.Customer,
			WeightG:     weight,
			Price:       float64(raw.Price),
			Station:     r.Station,
		}

	case SourceVision:
		var raw struct {
			PredictedSKU string    `json:"predicted_product"`
			Confidence   flexFloat `json:"accuracy"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return fail(err)
		}
		r.Vision = &VisionDetection{
			PredictedSKU: raw.PredictedSKU,
			Confidence:   float64(raw.Confidence),
			Station:      r.Station,
		}

	case SourceQueue:
		var raw struct {
			CustomerCount flexInt   `json:"customer_count"`
			DwellSeconds  flexFloat `json:"average_dwell_time"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return fail(err)
		}
		r.Queue = &QueueSample{
			Station:       r.Station,
			CustomerCount: int(raw.CustomerCount),
			DwellSeconds:  float64(raw.DwellSeconds),
		}

	case SourceStatus:
		var raw struct {
			Status    string `json:"status"`
			ErrorCode string `json:"error_code"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return fail(err)
		}
		status := raw.Status
		if status == "" {
			status = r.Status
		}
		r.StatusSig = &StatusSignal{Station: r.Station, Status: status, ErrorCode: raw.ErrorCode}
		if r.Status == "" {
			r.Status = status
		}

	case SourceInventory:
		var counts map[string]flexInt
		if err := json.Unmarshal(data, &counts); err != nil {
			return fail(err)
		}
		r.Inventory = make(map[string]int, len(counts))
		for sku, qty := range counts {
			r.Inventory[sku] = int(qty)
		}
	}

	return nil
}
