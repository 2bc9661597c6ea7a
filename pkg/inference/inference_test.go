package inference_test

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptica-ai/vendorshape/pkg/analysis"
	"github.com/synaptica-ai/vendorshape/pkg/catalog"
	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/inference"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
	"github.com/synaptica-ai/vendorshape/pkg/standards/fixtures"
)

var fixedNow = time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)

func init() {
	logger.Silence()
}

func analyse(t *testing.T, samples []standards.RawSample) *analysis.Result {
	t.Helper()
	a := analysis.NewAnalyzer(standards.DefaultRegistry(), catalog.DefaultCatalog(), nil, 2)
	res, err := a.Analyze(context.Background(), samples, analysis.DefaultOptions())
	require.NoError(t, err)
	return res
}

func inferrer() *inference.Inferrer {
	return inference.NewInferrer(inference.DefaultRules()).WithClock(func() time.Time { return fixedNow })
}

func adt(n int, opts fixtures.ADTOptions) []standards.RawSample {
	out := make([]standards.RawSample, n)
	for i := range out {
		o := opts
		o.ControlID = fmt.Sprintf("C%04d", i)
		out[i] = standards.RawSample{Content: fixtures.ADT(o)}
	}
	return out
}

func expectedConfidence(evidence float64, n int) float64 {
	adequacy := 1 - math.Exp(-float64(n)/8)
	return math.Round(evidence*(0.5+0.5*adequacy)*10000) / 10000
}

func TestInfer_UnknownSignature(t *testing.T) {
	res := analyse(t, []standards.RawSample{{Content: fixtures.PatientXML("p1", "M1")}})

	cfg, err := inferrer().Infer(inference.InputFromResult(res, ""), inference.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "Unknown", cfg.Signature.Name)
	assert.Equal(t, "unknown", cfg.Signature.Version)
	assert.Empty(t, cfg.Signature.Evidence)
	assert.Equal(t, 0.0, cfg.Metadata.Confidence)
	assert.True(t, cfg.Metadata.LowConfidence)
	assert.Equal(t, "Unknown-FHIR_R4-Patient", cfg.Address.String())
	assert.NoError(t, cfg.Address.Validate())
}

func TestInfer_KnownVendorFromSendingApplication(t *testing.T) {
	res := analyse(t, adt(20, fixtures.ADTOptions{}))

	cfg, err := inferrer().Infer(inference.InputFromResult(res, ""), inference.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "Epic", cfg.Signature.Name)
	assert.Equal(t, "unknown", cfg.Signature.Version)
	assert.Equal(t, "Epic-HL7v23-ADT_A01", cfg.Address.String())
	assert.Equal(t, expectedConfidence(1, 20), cfg.Metadata.Confidence)
	assert.InDelta(t, 0.959, cfg.Metadata.Confidence, 1e-3)
	assert.False(t, cfg.Metadata.LowConfidence)
	assert.Equal(t, 20, cfg.Metadata.MessagesSampled)
	assert.Equal(t, 1, cfg.Metadata.Version)
	assert.Equal(t, fixedNow, cfg.Metadata.FirstSeen)
	assert.Equal(t, fixedNow, cfg.Metadata.LastUpdated)

	paths := map[string]string{}
	for _, e := range cfg.Signature.Evidence {
		paths[e.Path] = e.Value
	}
	assert.Equal(t, map[string]string{"MSH.3": "EPICADT", "MSH.4": "MAINHOSP"}, paths)
}

func TestInfer_VersionFromSoftwareSegment(t *testing.T) {
	res := analyse(t, adt(30, fixtures.ADTOptions{SendingApp: "HIS", WithSFT: true, SoftwareVersion: "2023.1"}))

	cfg, err := inferrer().Infer(inference.InputFromResult(res, ""), inference.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "Epic", cfg.Signature.Name)
	assert.Equal(t, "2023.1", cfg.Signature.Version)
	assert.Equal(t, expectedConfidence(1, 30), cfg.Metadata.Confidence)
}

func TestInfer_UnrecognisedVendorUsesObservedName(t *testing.T) {
	res := analyse(t, adt(10, fixtures.ADTOptions{SendingApp: "ACME LAB^1.2.3^ISO"}))

	cfg, err := inferrer().Infer(inference.InputFromResult(res, ""), inference.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "ACME LAB", cfg.Signature.Name)
	assert.Equal(t, "ACME_LAB", cfg.Address.Vendor)

	declared, err := inferrer().Infer(inference.InputFromResult(res, "Acme"), inference.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "Acme-HL7v23-ADT_A01", declared.Address.String())
	assert.Equal(t, "ACME LAB", declared.Signature.Name)
}

func TestInfer_ConfidenceMonotonic(t *testing.T) {
	var last float64
	for _, n := range []int{1, 5, 10, 20, 30} {
		res := analyse(t, adt(n, fixtures.ADTOptions{}))
		cfg, err := inferrer().Infer(inference.InputFromResult(res, ""), inference.DefaultOptions())
		require.NoError(t, err)
		assert.Greater(t, cfg.Metadata.Confidence, last, "n=%d", n)
		last = cfg.Metadata.Confidence
	}

	one := analyse(t, adt(1, fixtures.ADTOptions{}))
	cfg, err := inferrer().Infer(inference.InputFromResult(one, ""), inference.DefaultOptions())
	require.NoError(t, err)
	assert.True(t, cfg.Metadata.LowConfidence, "a single sample stays below the default threshold")
}

func TestInfer_MixedSendersLowerEvidence(t *testing.T) {
	samples := adt(5, fixtures.ADTOptions{SendingApp: "EPICADT", SendingFacility: "NORTH"})
	samples = append(samples, adt(5, fixtures.ADTOptions{SendingApp: "EPICADT", SendingFacility: "SOUTH"})...)
	res := analyse(t, samples)

	cfg, err := inferrer().Infer(inference.InputFromResult(res, ""), inference.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, expectedConfidence(0.5, 10), cfg.Metadata.Confidence)
	assert.True(t, cfg.Metadata.LowConfidence)
}

func TestInfer_FHIRAndNCPDP(t *testing.T) {
	bundle := analyse(t, []standards.RawSample{
		{Content: fixtures.MessageBundleJSON("Cerner Millennium", "M1")},
		{Content: fixtures.MessageBundleJSON("Cerner Millennium", "M2")},
	})
	cfg, err := inferrer().Infer(inference.InputFromResult(bundle, ""), inference.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "Cerner", cfg.Signature.Name)
	assert.Equal(t, "10.2", cfg.Signature.Version)
	assert.Equal(t, "Cerner-FHIR_R4-Bundle", cfg.Address.String())

	rx := analyse(t, []standards.RawSample{{Content: fixtures.NewRx("CLINIC1", "eRxPro", "Lisinopril")}})
	cfg, err = inferrer().Infer(inference.InputFromResult(rx, ""), inference.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "Acme Health", cfg.Signature.Name)
	assert.Equal(t, "5.1", cfg.Signature.Version)
	assert.Equal(t, "Acme_Health-NCPDP-NewRx", cfg.Address.String())
}

func TestInfer_Degenerate(t *testing.T) {
	_, err := inferrer().Infer(inference.Input{Standard: standards.HL7v2, MessageType: "ADT^A01"}, inference.DefaultOptions())
	require.ErrorIs(t, err, inference.ErrDegenerateInput)

	_, err = inferrer().Infer(inference.Input{Standard: standards.Unknown, MessageType: "X", MessagesSampled: 3}, inference.DefaultOptions())
	require.ErrorIs(t, err, inference.ErrDegenerateInput)

	_, err = inferrer().Infer(inference.Input{Standard: standards.HL7v2, MessageType: "ADT^A01", MessagesSampled: 1}, inference.Options{MinConfidence: -1})
	require.Error(t, err)
}

func TestParseRules(t *testing.T) {
	rules, err := inference.ParseRules([]byte(`
fields:
  hl7:
    - {path: ZZ1.1, role: vendor}
vendors:
  - {name: Custom, aliases: [zz]}
`))
	require.NoError(t, err)
	require.Len(t, rules.Fields[standards.HL7v2], 1)

	_, err = inference.ParseRules([]byte("fields:\n  hl7:\n    - {path: A.1, role: owner}\n"))
	require.Error(t, err)
	_, err = inference.ParseRules([]byte("vendors: []\n"))
	require.Error(t, err)
}
