// Package config defines the RetailStreams application configuration:
// replay server, stream reader, detector thresholds, deduplication
// window, and sink targets. Files may be JSON or YAML (by extension);
// every section has defaults and a Validate method.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/retailstreams/errors"
	"github.com/c360/retailstreams/pkg/retry"
)

// Duration lets config files say "30s" or "2m" wherever a duration is
// expected. It is the retry package's Duration so the embedded retry
// sections accept the same forms as every other field.
type Duration = retry.Duration

// Config is the complete application configuration.
type Config struct {
	CatalogPath string         `json:"catalog_path" yaml:"catalog_path"`
	Replay      ReplayConfig   `json:"replay"       yaml:"replay"`
	Reader      ReaderConfig   `json:"reader"       yaml:"reader"`
	Detectors   DetectorConfig `json:"detectors"    yaml:"detectors"`
	Dedup       DedupConfig    `json:"dedup"        yaml:"dedup"`
	Sink        SinkConfig     `json:"sink"         yaml:"sink"`
	Pipeline    PipelineConfig `json:"pipeline"     yaml:"pipeline"`
	Metrics     MetricsConfig  `json:"metrics"      yaml:"metrics"`
}

// PipelineConfig controls the detection pipeline run loop.
type PipelineConfig struct {
	FlushInterval Duration `json:"flush_interval" yaml:"flush_interval"` // stream-clock window sweep cadence
}

// Validate checks the pipeline section.
func (c *PipelineConfig) Validate() error {
	if c.FlushInterval.Std() <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "PipelineConfig", "Validate", "flush_interval must be positive")
	}
	return nil
}

// ReplayConfig controls the dataset replay server.
type ReplayConfig struct {
	Listen   string   `json:"listen"   yaml:"listen"`   // host:port
	Speed    float64  `json:"speed"    yaml:"speed"`    // <=0 means as fast as possible
	Loop     bool     `json:"loop"     yaml:"loop"`
	Datasets []string `json:"datasets" yaml:"datasets"` // JSONL file globs
	Strict   bool     `json:"strict"   yaml:"strict"`   // schema-validate envelopes at load
}

// Validate checks the replay section.
func (c *ReplayConfig) Validate() error {
	if c.Listen == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ReplayConfig", "Validate", "listen address is required")
	}
	if c.Speed < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ReplayConfig", "Validate", "speed cannot be negative")
	}
	if len(c.Datasets) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ReplayConfig", "Validate", "at least one dataset glob is required")
	}
	return nil
}

// ReaderConfig controls the client stream reader.
type ReaderConfig struct {
	Host        string       `json:"host"         yaml:"host"`
	Port        int          `json:"port"         yaml:"port"`
	Limit       int          `json:"limit"        yaml:"limit"` // 0 = unbounded
	Reconnect   bool         `json:"reconnect"    yaml:"reconnect"`
	Retry       retry.Config `json:"retry"        yaml:"retry"`
	ReadTimeout Duration     `json:"read_timeout" yaml:"read_timeout"`
}

// Validate checks the reader section.
func (c *ReaderConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ReaderConfig", "Validate",
			fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.Limit < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ReaderConfig", "Validate", "limit cannot be negative")
	}
	return nil
}

// DetectorConfig carries per-detector thresholds and windows.
type DetectorConfig struct {
	Barcode   BarcodeConfig   `json:"barcode_switching"     yaml:"barcode_switching"`
	Scanner   ScannerConfig   `json:"scanner_avoidance"     yaml:"scanner_avoidance"`
	Weight    WeightConfig    `json:"weight_discrepancy"    yaml:"weight_discrepancy"`
	Inventory InventoryConfig `json:"inventory_discrepancy" yaml:"inventory_discrepancy"`
	Queue     QueueConfig     `json:"queue_health"          yaml:"queue_health"`
	System    SystemConfig    `json:"system_health"         yaml:"system_health"`
}

// BarcodeConfig tunes the barcode-switching detector.
type BarcodeConfig struct {
	MatchWindow         Duration `json:"match_window"          yaml:"match_window"`
	MinVisionConfidence float64  `json:"min_vision_confidence" yaml:"min_vision_confidence"`
}

// ScannerConfig tunes the scanner-avoidance detector.
type ScannerConfig struct {
	MatchWindow    Duration `json:"match_window"    yaml:"match_window"`
	Cooldown       Duration `json:"cooldown"        yaml:"cooldown"`
	Zones          []string `json:"zones"           yaml:"zones"` // monitored exit zones
	BaseConfidence float64  `json:"base_confidence" yaml:"base_confidence"`
	MinConfidence  float64  `json:"min_confidence"  yaml:"min_confidence"`
}

// WeightConfig tunes the weight-discrepancy detector.
type WeightConfig struct {
	AbsToleranceG float64 `json:"abs_tolerance_g" yaml:"abs_tolerance_g"`
	RelTolerance  float64 `json:"rel_tolerance"   yaml:"rel_tolerance"`
}

// InventoryConfig tunes the inventory-discrepancy detector.
type InventoryConfig struct {
	AbsThreshold int      `json:"abs_threshold" yaml:"abs_threshold"`
	RelThreshold float64  `json:"rel_threshold" yaml:"rel_threshold"`
	Cooldown     Duration `json:"cooldown"      yaml:"cooldown"`
}

// QueueConfig tunes the queue-health detector.
type QueueConfig struct {
	WarnDwellSeconds float64  `json:"warn_dwell_seconds" yaml:"warn_dwell_seconds"`
	WarnCount        int      `json:"warn_count"         yaml:"warn_count"`
	CritDwellSeconds float64  `json:"crit_dwell_seconds" yaml:"crit_dwell_seconds"`
	CritCount        int      `json:"crit_count"         yaml:"crit_count"`
	TargetRatio      int      `json:"target_ratio"       yaml:"target_ratio"` // customers per staffed lane
	Cooldown         Duration `json:"cooldown"           yaml:"cooldown"`
}

// SystemConfig tunes the system-health detector.
type SystemConfig struct {
	HeartbeatTimeout Duration `json:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	Cooldown         Duration `json:"cooldown"          yaml:"cooldown"`
}

// Validate checks detector thresholds.
func (c *DetectorConfig) Validate() error {
	if c.Barcode.MinVisionConfidence < 0 || c.Barcode.MinVisionConfidence > 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "DetectorConfig", "Validate",
			"barcode min_vision_confidence must be in [0,1]")
	}
	if c.Queue.TargetRatio <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "DetectorConfig", "Validate",
			"queue target_ratio must be positive")
	}
	if c.Weight.RelTolerance < 0 || c.Weight.AbsToleranceG < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "DetectorConfig", "Validate",
			"weight tolerances cannot be negative")
	}
	return nil
}

// DedupConfig controls the deduplicator.
type DedupConfig struct {
	Window Duration `json:"window" yaml:"window"`
}

// Validate checks the dedup section.
func (c *DedupConfig) Validate() error {
	if c.Window.Std() <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "DedupConfig", "Validate", "window must be positive")
	}
	return nil
}

// SinkConfig controls event persistence and live push.
type SinkConfig struct {
	Path        string       `json:"path"          yaml:"path"` // canonical JSONL log
	Retry       retry.Config `json:"retry"         yaml:"retry"`
	PushListen  string       `json:"push_listen"   yaml:"push_listen"`   // WebSocket hub address, empty = disabled
	PushMaxRate float64      `json:"push_max_rate" yaml:"push_max_rate"` // events/sec, 0 = unlimited
	NATSURL     string       `json:"nats_url"      yaml:"nats_url"`      // empty = disabled
	NATSSubject string       `json:"nats_subject"  yaml:"nats_subject"`
}

// Validate checks the sink section.
func (c *SinkConfig) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SinkConfig", "Validate", "sink path is required")
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SinkConfig", "Validate",
			"nats_subject is required when nats_url is set")
	}
	return nil
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Listen string `json:"listen" yaml:"listen"` // empty = disabled
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Replay: ReplayConfig{
			Listen:   "127.0.0.1:8765",
			Speed:    1.0,
			Datasets: []string{"data/input/*.jsonl"},
		},
		Reader: ReaderConfig{
			Host:        "127.0.0.1",
			Port:        8765,
			Reconnect:   true,
			Retry:       retry.DefaultConfig(),
			ReadTimeout: Duration(30 * time.Second),
		},
		Detectors: DetectorConfig{
			Barcode: BarcodeConfig{
				MatchWindow:         Duration(20 * time.Second),
				MinVisionConfidence: 0.65,
			},
			Scanner: ScannerConfig{
				MatchWindow:    Duration(25 * time.Second),
				Cooldown:       Duration(30 * time.Second),
				Zones:          []string{"EXIT_GATE", "EXIT_LANE", "CUSTOMER_EXIT", "OUT_OF_STORE", "BAGGING_AREA_BREACH"},
				BaseConfidence: 0.9,
				MinConfidence:  0.5,
			},
			Weight: WeightConfig{
				AbsToleranceG: 8.0,
				RelTolerance:  0.08,
			},
			Inventory: InventoryConfig{
				AbsThreshold: 8,
				RelThreshold: 0.12,
				Cooldown:     Duration(10 * time.Minute),
			},
			Queue: QueueConfig{
				WarnDwellSeconds: 300,
				WarnCount:        5,
				CritDwellSeconds: 600,
				CritCount:        8,
				TargetRatio:      6,
				Cooldown:         Duration(2 * time.Minute),
			},
			System: SystemConfig{
				HeartbeatTimeout: Duration(90 * time.Second),
				Cooldown:         Duration(3 * time.Minute),
			},
		},
		Dedup: DedupConfig{Window: Duration(60 * time.Second)},
		Sink: SinkConfig{
			Path:        "events.jsonl",
			Retry:       retry.DefaultConfig(),
			NATSSubject: "retail.events.canonical",
		},
		Pipeline: PipelineConfig{FlushInterval: Duration(5 * time.Second)},
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.Replay.Validate(); err != nil {
		return err
	}
	if err := c.Reader.Validate(); err != nil {
		return err
	}
	if err := c.Detectors.Validate(); err != nil {
		return err
	}
	if err := c.Dedup.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	return c.Sink.Validate()
}

// Load reads a config file, layering it over defaults. The format is
// chosen by extension: .yaml/.yml parse as YAML, anything else as JSON.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WrapFatal(err, "config", "Load", "read config file")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, errors.WrapInvalid(err, "config", "Load", "parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
