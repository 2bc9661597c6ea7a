package analysis_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptica-ai/vendorshape/pkg/analysis"
	"github.com/synaptica-ai/vendorshape/pkg/catalog"
	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/dlp"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
	"github.com/synaptica-ai/vendorshape/pkg/standards/fixtures"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

func init() {
	logger.Silence()
}

func newAnalyzer(t *testing.T, workers int) *analysis.Analyzer {
	t.Helper()
	detector, err := dlp.NewDetector(dlp.DefaultRules())
	require.NoError(t, err)
	return analysis.NewAnalyzer(standards.DefaultRegistry(), catalog.DefaultCatalog(), detector, workers)
}

// adtBatch returns n ADT^A01 messages; the first withLocation carry PV1-3 and the first
// withSFT carry an SFT segment.
func adtBatch(n, withLocation, withSFT int) []standards.RawSample {
	samples := make([]standards.RawSample, n)
	for i := range samples {
		opts := fixtures.ADTOptions{
			ControlID: fmt.Sprintf("MSG%05d", i),
			MRN:       fmt.Sprintf("%06d", 100000+i),
			WithSFT:   i < withSFT,
		}
		if i < withLocation {
			opts.Location = fmt.Sprintf("ICU^%d^A", 100+i%3)
		}
		samples[i] = standards.RawSample{Content: fixtures.ADT(opts)}
	}
	return samples
}

func TestAnalyze_FieldFrequency(t *testing.T) {
	res, err := newAnalyzer(t, 4).Analyze(context.Background(), adtBatch(10, 8, 0), analysis.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, standards.HL7v2, res.Standard)
	assert.Equal(t, "ADT^A01", res.MessageType)
	assert.Equal(t, 10, res.Parsed)
	assert.Zero(t, res.Skipped)
	assert.False(t, res.Cancelled)

	pv1 := res.Patterns["PV1"]
	assert.Equal(t, 0.8, pv1.Fields["3"].Frequency)
	assert.Equal(t, 8, pv1.Fields["3"].PresentCount)
	assert.Equal(t, vendorconfig.DataTypeComposite, pv1.Fields["3"].DataType)
	assert.Equal(t, 1.0, pv1.Fields["2"].Frequency)
	assert.Equal(t, 1.0, pv1.Frequency)

	msh3 := res.Patterns["MSH"].Fields["3"]
	assert.Equal(t, "EPICADT", msh3.DominantValue)
	assert.Equal(t, 1.0, msh3.DominantRatio)
	assert.Equal(t, []string{"EPICADT"}, msh3.SampleValues)
	assert.Equal(t, vendorconfig.DataTypeDateTime, res.Patterns["MSH"].Fields["7"].DataType)
	assert.Equal(t, vendorconfig.DataTypeDate, res.Patterns["PID"].Fields["7"].DataType)
}

func TestAnalyze_FrequencyBounds(t *testing.T) {
	res, err := newAnalyzer(t, 3).Analyze(context.Background(), adtBatch(7, 3, 2), analysis.DefaultOptions())
	require.NoError(t, err)
	for group, gp := range res.Patterns {
		assert.GreaterOrEqual(t, gp.Frequency, 0.0, group)
		assert.LessOrEqual(t, gp.Frequency, 1.0, group)
		for field, fp := range gp.Fields {
			assert.GreaterOrEqual(t, fp.Frequency, 0.0, group+"."+field)
			assert.LessOrEqual(t, fp.Frequency, 1.0, group+"."+field)
			assert.Equal(t, fp.PresentCount == res.Parsed, fp.Frequency == 1.0, group+"."+field)
			assert.LessOrEqual(t, len(fp.SampleValues), vendorconfig.MaxSampleValues)
		}
	}
}

func TestAnalyze_DeterministicAcrossWorkerCounts(t *testing.T) {
	samples := adtBatch(25, 17, 6)
	var encoded []string
	for _, workers := range []int{1, 2, 5, 16} {
		res, err := newAnalyzer(t, workers).Analyze(context.Background(), samples, analysis.DefaultOptions())
		require.NoError(t, err)
		data, err := json.Marshal(res.Patterns)
		require.NoError(t, err)
		encoded = append(encoded, string(data))
	}
	for _, e := range encoded[1:] {
		assert.Equal(t, encoded[0], e)
	}
}

func TestAnalyze_RepetitionAndVariants(t *testing.T) {
	res, err := newAnalyzer(t, 2).Analyze(context.Background(), adtBatch(10, 10, 3), analysis.DefaultOptions())
	require.NoError(t, err)

	sft := res.Patterns["SFT"]
	assert.InDelta(t, 0.3, sft.Frequency, 1e-9)
	assert.Equal(t, vendorconfig.Repetition{Min: 0, Max: 1, Typical: 0}, sft.Repetition)
	assert.Equal(t, vendorconfig.Repetition{Min: 1, Max: 1, Typical: 1}, res.Patterns["PID"].Repetition)

	require.Len(t, res.Messages, 1)
	assert.Equal(t, 10, res.Messages[0].Count)
	assert.Equal(t, 1.0, res.Messages[0].Frequency)
	assert.Equal(t, []string{"SFT present in 3 of 10 messages"}, res.Messages[0].Variants)
}

func TestAnalyze_MasksPHI(t *testing.T) {
	res, err := newAnalyzer(t, 2).Analyze(context.Background(), adtBatch(6, 0, 0), analysis.DefaultOptions())
	require.NoError(t, err)

	pid3 := res.Patterns["PID"].Fields["3"]
	assert.Equal(t, 6, pid3.DistinctCount)
	assert.Equal(t, []string{"999999^^^AAA^AA"}, pid3.SampleValues)
	assert.Equal(t, "999999^^^AAA^AA", pid3.DominantValue)
	for _, v := range res.Patterns["PID"].Fields["5"].SampleValues {
		assert.NotContains(t, v, "DOE")
	}
}

func TestAnalyze_SkipsMalformed(t *testing.T) {
	samples := adtBatch(4, 4, 0)
	samples = append(samples,
		standards.RawSample{Content: "PID|1||123"},
		standards.RawSample{Content: "   "},
		standards.RawSample{Content: "garbage"},
	)
	res, err := newAnalyzer(t, 2).Analyze(context.Background(), samples, analysis.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Parsed)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, 4, res.Warnings[0].SampleIndex)
	assert.Equal(t, 6, res.Warnings[1].SampleIndex)
	assert.Equal(t, 1.0, res.Patterns["PV1"].Fields["3"].Frequency)
}

func TestAnalyze_NoSamples(t *testing.T) {
	a := newAnalyzer(t, 2)

	_, err := a.Analyze(context.Background(), nil, analysis.DefaultOptions())
	require.ErrorIs(t, err, analysis.ErrNoSamples)

	_, err = a.Analyze(context.Background(), []standards.RawSample{{Content: " "}}, analysis.DefaultOptions())
	require.ErrorIs(t, err, analysis.ErrNoSamples)

	_, err = a.Analyze(context.Background(), []standards.RawSample{{Content: "nope"}, {Content: "MSH"}}, analysis.DefaultOptions())
	var noSamples *analysis.NoSamplesError
	require.ErrorAs(t, err, &noSamples)
	assert.Len(t, noSamples.Warnings, 2)

	_, err = a.Analyze(context.Background(), adtBatch(1, 1, 0), analysis.Options{MinConfidence: 1.5})
	require.Error(t, err)
}

func TestAnalyze_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newAnalyzer(t, 3).Analyze(ctx, adtBatch(9, 9, 0), analysis.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 9, res.Unprocessed)
	assert.Zero(t, res.Parsed)
	assert.Empty(t, res.Patterns)
}

// tripContext reports cancellation once Err has been checked more than allowed times.
type tripContext struct {
	context.Context
	allowed int64
	checks  atomic.Int64
}

func (c *tripContext) Err() error {
	if c.checks.Add(1) > c.allowed {
		return context.Canceled
	}
	return nil
}

func TestAnalyze_CancelledMidBatch(t *testing.T) {
	ctx := &tripContext{Context: context.Background(), allowed: 5}

	res, err := newAnalyzer(t, 1).Analyze(ctx, adtBatch(20, 20, 0), analysis.Options{Workers: 1})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 5, res.Parsed)
	assert.Equal(t, 15, res.Unprocessed)
	assert.Equal(t, 20, res.Total)
	assert.Equal(t, "ADT^A01", res.MessageType)
	require.NotEmpty(t, res.Patterns)
	for group, gp := range res.Patterns {
		assert.GreaterOrEqual(t, gp.Frequency, 0.0, group)
		assert.LessOrEqual(t, gp.Frequency, 1.0, group)
		for field, fp := range gp.Fields {
			assert.GreaterOrEqual(t, fp.Frequency, 0.0, group+"."+field)
			assert.LessOrEqual(t, fp.Frequency, 1.0, group+"."+field)
			assert.LessOrEqual(t, fp.PresentCount, res.Parsed, group+"."+field)
		}
	}
	assert.Equal(t, 1.0, res.Patterns["PV1"].Fields["3"].Frequency)
}

func TestAnalyze_SampleLimitIsSeeded(t *testing.T) {
	samples := adtBatch(30, 15, 0)
	opts := analysis.DefaultOptions()
	opts.SampleLimit = 10
	opts.Seed = 42

	a := newAnalyzer(t, 4)
	first, err := a.Analyze(context.Background(), samples, opts)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), samples, opts)
	require.NoError(t, err)

	assert.Equal(t, 10, first.Parsed)
	assert.Equal(t, first.Patterns, second.Patterns)
}

func TestAnalyze_FHIRAndNCPDP(t *testing.T) {
	a := newAnalyzer(t, 2)

	fhir := []standards.RawSample{
		{Content: fixtures.PatientJSON("1", "A1", "epic")},
		{Content: fixtures.PatientXML("2", "A2")},
	}
	res, err := a.Analyze(context.Background(), fhir, analysis.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, standards.FHIRR4, res.Standard)
	assert.Equal(t, "Patient", res.MessageType)
	assert.Equal(t, 0.5, res.Patterns["Patient"].Fields["meta.source"].Frequency)
	assert.Equal(t, 1.0, res.Patterns["Patient"].Fields["identifier.value"].Frequency)
	assert.Equal(t, []string{"A9"}, res.Patterns["Patient"].Fields["identifier.value"].SampleValues)

	ncpdp := []standards.RawSample{{Content: fixtures.NewRx("CLINIC1", "eRxPro", "Lisinopril")}}
	res, err = a.Analyze(context.Background(), ncpdp, analysis.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, standards.NCPDP, res.Standard)
	assert.Equal(t, "NewRx", res.MessageType)
	assert.Equal(t, vendorconfig.DataTypeNumeric, res.Patterns["MedicationPrescribed"].Fields["Quantity.Value"].DataType)
	assert.Equal(t, []string{"AAA-99"}, res.Patterns["Patient"].Fields["HumanPatient.Identification.MedicalRecordIdentificationNumberEHR"].SampleValues)
}
