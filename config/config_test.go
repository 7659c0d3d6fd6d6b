package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6, cfg.Detectors.Queue.TargetRatio)
	assert.Equal(t, 60*time.Second, cfg.Dedup.Window.Std())
}

func TestLoadJSONOverlaysDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"replay": {"listen": "0.0.0.0:9000", "speed": 10, "loop": true, "datasets": ["testdata/*.jsonl"]},
		"dedup": {"window": "45s"},
		"sink": {"path": "/tmp/out.jsonl"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Replay.Listen)
	assert.True(t, cfg.Replay.Loop)
	assert.InDelta(t, 10.0, cfg.Replay.Speed, 1e-9)
	assert.Equal(t, 45*time.Second, cfg.Dedup.Window.Std())
	// Untouched sections keep defaults.
	assert.InDelta(t, 0.65, cfg.Detectors.Barcode.MinVisionConfidence, 1e-9)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
replay:
  listen: "127.0.0.1:8901"
  datasets: ["a.jsonl"]
detectors:
  queue_health:
    warn_count: 4
    target_ratio: 5
    warn_dwell_seconds: 300
    crit_dwell_seconds: 600
    crit_count: 8
    cooldown: 90s
sink:
  path: out.jsonl
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8901", cfg.Replay.Listen)
	assert.Equal(t, 4, cfg.Detectors.Queue.WarnCount)
	assert.Equal(t, 5, cfg.Detectors.Queue.TargetRatio)
	assert.Equal(t, 90*time.Second, cfg.Detectors.Queue.Cooldown.Std())
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative speed":  `{"replay": {"listen": "x:1", "speed": -1, "datasets": ["a"]}}`,
		"no datasets":     `{"replay": {"listen": "x:1", "datasets": []}}`,
		"bad confidence":  `{"detectors": {"barcode_switching": {"min_vision_confidence": 1.5}}}`,
		"zero window":     `{"dedup": {"window": "0s"}}`,
		"empty sink path": `{"sink": {"path": ""}}`,
		"nats no subject": `{"sink": {"path": "x", "nats_url": "nats://localhost:4222", "nats_subject": ""}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.json", body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestDurationForms(t *testing.T) {
	path := writeFile(t, "config.json", `{"dedup": {"window": 30000000000}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Dedup.Window.Std())
}

func TestRetryDelaysAcceptDurationStrings(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"reader": {"port": 8765, "retry": {"max_attempts": 4, "initial_delay": "100ms", "max_delay": "2s"}},
		"sink": {"path": "out.jsonl", "retry": {"initial_delay": "50ms"}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Reader.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Reader.Retry.InitialDelay.Std())
	assert.Equal(t, 2*time.Second, cfg.Reader.Retry.MaxDelay.Std())
	assert.Equal(t, 50*time.Millisecond, cfg.Sink.Retry.InitialDelay.Std())

	yamlPath := writeFile(t, "config.yaml", `
reader:
  port: 8765
  retry:
    initial_delay: 250ms
sink:
  path: out.jsonl
`)
	cfg, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Reader.Retry.InitialDelay.Std())
}
