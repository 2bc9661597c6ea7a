package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptica-ai/vendorshape/pkg/catalog"
	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
	"github.com/synaptica-ai/vendorshape/pkg/validation"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

func init() {
	logger.Silence()
}

func field(freq float64) vendorconfig.FieldPattern {
	return vendorconfig.FieldPattern{Frequency: freq, DataType: vendorconfig.DataTypeString}
}

func adtConfig() *vendorconfig.VendorConfiguration {
	return &vendorconfig.VendorConfiguration{
		Address: vendorconfig.Address{Vendor: "Epic", Standard: standards.HL7v2, MessageType: "ADT_A01"},
		FieldPatterns: vendorconfig.FieldPatterns{
			"PID": {Frequency: 1, Fields: map[string]vendorconfig.FieldPattern{
				"3":  field(1),
				"5":  field(0.5),
				"99": field(1),
			}},
			"PV1": {Frequency: 1, Fields: map[string]vendorconfig.FieldPattern{
				"3": field(0.8),
			}},
		},
		Metadata: vendorconfig.Metadata{Confidence: 0.95, MessagesSampled: 20},
	}
}

func TestPlan_Decisions(t *testing.T) {
	report := validation.NewPlanner(catalog.DefaultCatalog()).Plan(adtConfig(), validation.DefaultOptions())

	tests := []struct {
		path     string
		mode     validation.Mode
		observed bool
		reason   string
	}{
		{"PID.3", validation.ModeStrict, true, "consistent"},
		{"PID.5", validation.ModeCompatibility, true, "populated in 50% of samples"},
		{"PID.99", validation.ModeCompatibility, true, "not in the reference catalog"},
		{"PV1.2", validation.ModeCompatibility, false, "never populated"},
		{"PV1.3", validation.ModeStrict, true, "consistent"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			d, ok := report.Mode(tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.mode, d.Mode)
			assert.Equal(t, tt.observed, d.Observed)
			assert.Contains(t, d.Reason, tt.reason)
		})
	}

	assert.Equal(t, len(report.Decisions), report.Strict+report.Compatibility)
	for i := 1; i < len(report.Decisions); i++ {
		assert.Negative(t, catalog.ComparePaths(report.Decisions[i-1].Path, report.Decisions[i].Path))
	}
	_, ok := report.Mode("MSH.9")
	assert.False(t, ok, "groups the vendor never sent are not planned")
}

func TestPlan_SparseThreshold(t *testing.T) {
	planner := validation.NewPlanner(catalog.DefaultCatalog())

	report := planner.Plan(adtConfig(), validation.Options{SparseThreshold: 0.4})
	d, ok := report.Mode("PID.5")
	require.True(t, ok)
	assert.Equal(t, validation.ModeStrict, d.Mode)

	report = planner.Plan(adtConfig(), validation.Options{SparseThreshold: 7})
	d, _ = report.Mode("PID.5")
	assert.Equal(t, validation.ModeCompatibility, d.Mode, "out of range thresholds fall back to the default")
}

func TestPlan_NotUsedButPopulated(t *testing.T) {
	cat, err := catalog.Parse([]byte(`
version: test
standards:
  HL7v23:
    - {path: ZPI, name: Site Extension, usage: optional}
    - {path: ZPI.1, name: Legacy Flag, usage: not-used}
    - {path: ZPI.2, name: Site Code, usage: optional}
`))
	require.NoError(t, err)

	cfg := adtConfig()
	cfg.FieldPatterns = vendorconfig.FieldPatterns{
		"ZPI": {Frequency: 1, Fields: map[string]vendorconfig.FieldPattern{"1": field(0.3)}},
	}
	report := validation.NewPlanner(cat).Plan(cfg, validation.DefaultOptions())

	d, ok := report.Mode("ZPI.1")
	require.True(t, ok)
	assert.Equal(t, validation.ModeCompatibility, d.Mode)
	assert.Equal(t, catalog.UsageNotUsed, d.Usage)

	d, ok = report.Mode("ZPI.2")
	require.True(t, ok)
	assert.Equal(t, validation.ModeStrict, d.Mode)
	assert.False(t, d.Observed)
}

func TestPlan_LowConfidenceStaysStrict(t *testing.T) {
	cfg := adtConfig()
	cfg.Metadata.Confidence = 0.3
	cfg.Metadata.LowConfidence = true

	report := validation.NewPlanner(catalog.DefaultCatalog()).Plan(cfg, validation.DefaultOptions())
	assert.Zero(t, report.Compatibility)
	d, ok := report.Mode("PID.5")
	require.True(t, ok)
	assert.Equal(t, validation.ModeStrict, d.Mode)
	assert.Contains(t, d.Reason, "too low to relax")
}
