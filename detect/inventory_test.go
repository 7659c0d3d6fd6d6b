package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/retailstreams/config"
	"github.com/c360/retailstreams/record"
)

func inventoryConfig() config.InventoryConfig {
	return config.InventoryConfig{
		AbsThreshold: 8,
		RelThreshold: 0.12,
		Cooldown:     config.Duration(10 * time.Minute),
	}
}

func snapshotRecord(ts time.Time, counts map[string]int) record.RawRecord {
	return record.RawRecord{
		Source:    record.SourceInventory,
		Timestamp: ts,
		Inventory: counts,
	}
}

func TestInventoryShortfallEmitsShrinkage(t *testing.T) {
	d := NewInventoryDiscrepancy(inventoryConfig(), testCatalog())

	// 5 sales against a baseline of 100, snapshot shows 75: 20 missing,
	// threshold max(8, 12) = 12.
	for i := 0; i < 5; i++ {
		consume(t, d, posRecord(at(time.Duration(i)*time.Second), "SCC1", "PRD_S_04", 0))
	}
	cands := consume(t, d, snapshotRecord(at(time.Minute), map[string]int{"PRD_S_04": 75}))
	require.Len(t, cands, 1)

	c := cands[0]
	assert.Equal(t, EventInventoryDiscrepancy, c.EventType)
	assert.Equal(t, "PRD_S_04", c.Entity)
	assert.Equal(t, 95, c.Attributes["expected_count"])
	assert.Equal(t, 75, c.Attributes["observed_count"])
	assert.Equal(t, 20, c.Attributes["shrinkage_units"])
	assert.InDelta(t, 99.80, c.Attributes["shrinkage_value"].(float64), 0.001)
}

func TestInventoryWithinThresholdSilent(t *testing.T) {
	d := NewInventoryDiscrepancy(inventoryConfig(), testCatalog())

	assert.Empty(t, consume(t, d, snapshotRecord(at(0), map[string]int{"PRD_S_04": 90})))
}

func TestInventorySurplusEmitsWithoutShrinkage(t *testing.T) {
	d := NewInventoryDiscrepancy(inventoryConfig(), testCatalog())

	cands := consume(t, d, snapshotRecord(at(0), map[string]int{"PRD_S_04": 130}))
	require.Len(t, cands, 1)
	assert.Equal(t, -30, cands[0].Attributes["difference"])
	assert.NotContains(t, cands[0].Attributes, "shrinkage_units")
}

func TestInventoryCooldownSuppressesRepeatSnapshots(t *testing.T) {
	d := NewInventoryDiscrepancy(inventoryConfig(), testCatalog())

	first := consume(t, d, snapshotRecord(at(0), map[string]int{"PRD_S_04": 60}))
	require.Len(t, first, 1)

	repeat := consume(t, d, snapshotRecord(at(5*time.Minute), map[string]int{"PRD_S_04": 60}))
	assert.Empty(t, repeat)

	later := consume(t, d, snapshotRecord(at(15*time.Minute), map[string]int{"PRD_S_04": 60}))
	assert.Len(t, later, 1)
}

func TestInventoryUnknownSKUSkipped(t *testing.T) {
	d := NewInventoryDiscrepancy(inventoryConfig(), testCatalog())

	assert.Empty(t, consume(t, d, snapshotRecord(at(0), map[string]int{"NO_SUCH_SKU": 0})))
}

func TestInventoryResetClearsSales(t *testing.T) {
	d := NewInventoryDiscrepancy(inventoryConfig(), testCatalog())

	for i := 0; i < 20; i++ {
		consume(t, d, posRecord(at(time.Duration(i)*time.Second), "SCC1", "PRD_S_04", 0))
	}
	d.Reset()

	// Without recorded sales the snapshot matches the raw baseline.
	assert.Empty(t, consume(t, d, snapshotRecord(at(time.Minute), map[string]int{"PRD_S_04": 100})))
}
