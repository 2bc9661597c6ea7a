package semantic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
)

func init() {
	logger.Silence()
}

func TestResolve_DefaultStandardFromMessageType(t *testing.T) {
	r := NewResolver(DefaultTable())
	ctx := context.Background()

	field, err := r.Resolve(ctx, "patient.mrn", "ADT^A01", standards.Unknown)
	require.NoError(t, err)
	assert.Equal(t, "PID.3", field)

	field, err = r.Resolve(ctx, "patient.mrn", "Patient", standards.Unknown)
	require.NoError(t, err)
	assert.Equal(t, "Patient.identifier", field)

	field, err = r.Resolve(ctx, "Patient.MRN", "adt_a01", standards.Unknown)
	require.NoError(t, err)
	assert.Equal(t, "PID.3", field)

	field, err = r.Resolve(ctx, "patient.mrn", "NewRx", standards.Unknown)
	require.NoError(t, err)
	assert.Equal(t, "Patient.HumanPatient.Identification.MedicalRecordIdentificationNumberEHR", field)
}

func TestResolve_ExplicitStandard(t *testing.T) {
	r := NewResolver(DefaultTable())

	field, err := r.Resolve(context.Background(), "message.sending_facility", "", standards.NCPDP)
	require.NoError(t, err)
	assert.Equal(t, "Header.From", field)

	_, err = r.Resolve(context.Background(), "patient.mrn", "ADT^A01", standards.Standard("X12"))
	require.ErrorIs(t, err, standards.ErrUnknownStandard)
}

func TestResolve_NotApplicableCarriesSuggestions(t *testing.T) {
	r := NewResolver(DefaultTable())

	_, err := r.Resolve(context.Background(), "patient.mrm", "ADT^A01", standards.Unknown)
	require.ErrorIs(t, err, ErrNotApplicable)
	resErr, ok := IsNotApplicable(err)
	require.True(t, ok)
	require.NotEmpty(t, resErr.Suggestions)
	assert.LessOrEqual(t, len(resErr.Suggestions), maxSuggestions)
	assert.Equal(t, "patient.mrn", resErr.Suggestions[0])
	assert.Equal(t, standards.HL7v2, resErr.Standard)
	assert.Equal(t, "ADT^A01", resErr.MessageType)
	assert.Contains(t, err.Error(), "did you mean")

	_, err = r.Resolve(context.Background(), "medication.code", "ADT^A01", standards.Unknown)
	resErr, ok = IsNotApplicable(err)
	require.True(t, ok)
	assert.Contains(t, resErr.Suggestions, "encounter.observation_code")
	assert.NotContains(t, resErr.Suggestions, "medication.code")

	_, err = r.Resolve(context.Background(), "patient.mrn", "Encounter", standards.Unknown)
	require.ErrorIs(t, err, ErrNotApplicable)
}

func TestResolve_InvalidInput(t *testing.T) {
	r := NewResolver(DefaultTable())

	for _, path := range []string{"", "patient", "patient..mrn", "1patient.mrn", "patient.mrn!", "patient. mrn"} {
		_, err := r.Resolve(context.Background(), path, "ADT^A01", standards.Unknown)
		assert.ErrorIs(t, err, ErrInvalidPath, "path %q", path)
	}

	_, err := r.Resolve(context.Background(), "patient.mrn", "FOO", standards.Unknown)
	require.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestResolve_CancelledBeforeSuggestions(t *testing.T) {
	r := NewResolver(DefaultTable())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	field, err := r.Resolve(ctx, "patient.mrn", "ADT^A01", standards.Unknown)
	require.NoError(t, err)
	assert.Equal(t, "PID.3", field)

	_, err = r.Resolve(ctx, "patient.unknown", "ADT^A01", standards.Unknown)
	require.ErrorIs(t, err, context.Canceled)
	_, ok := IsNotApplicable(err)
	assert.False(t, ok)
}

func TestValidate_AgreesWithResolve(t *testing.T) {
	r := NewResolver(DefaultTable())
	paths := []string{"", "bogus", "PATIENT.MRN", "patient.none", "medication.dose"}
	for _, p := range r.Table().Paths() {
		paths = append(paths, p.Path)
	}
	messageTypes := []string{"ADT^A01", "ORU^R01", "RDE^O11", "Patient", "Encounter", "Bundle", "NewRx", "", "XYZ"}
	stds := []standards.Standard{standards.Unknown, standards.HL7v2, standards.FHIRR4, standards.NCPDP, "bogus"}

	for _, p := range paths {
		for _, mt := range messageTypes {
			for _, std := range stds {
				_, err := r.Resolve(context.Background(), p, mt, std)
				assert.Equal(t, err == nil, r.Validate(p, mt, std), "%s %s %s", p, mt, std)
			}
		}
	}
}

func TestListAvailable(t *testing.T) {
	r := NewResolver(DefaultTable())

	adt := r.ListAvailable("ADT^A01", standards.Unknown)
	assert.Contains(t, adt, "patient.mrn")
	assert.Contains(t, adt, "encounter.location")
	assert.Contains(t, adt, "message.control_id")
	assert.NotContains(t, adt, "medication.code")
	assert.Equal(t, "Medical record number assigned by the sending facility", adt["patient.mrn"])

	rx := r.ListAvailable("NewRx", standards.Unknown)
	assert.Contains(t, rx, "medication.code")
	assert.NotContains(t, rx, "encounter.location")

	assert.Empty(t, r.ListAvailable("XYZ", standards.Unknown))
}

func TestDescribe(t *testing.T) {
	r := NewResolver(DefaultTable())

	p, err := r.Describe("Encounter.Location")
	require.NoError(t, err)
	assert.Equal(t, CategoryEncounter, p.Category)
	assert.Len(t, p.Mappings, 2)

	_, err = r.Describe("encounter.locaton")
	resErr, ok := IsNotApplicable(err)
	require.True(t, ok)
	assert.Contains(t, resErr.Suggestions, "encounter.location")
}

func TestMappingFor_ExplicitMessageTypeWins(t *testing.T) {
	table, err := ParseTable([]byte(`
paths:
  - path: message.trigger
    category: message
    description: Trigger
    mappings:
      - {standard: HL7v23, field: MSH.9.2}
      - {standard: HL7v23, field: EVN.1, messageTypes: [ADT]}
`))
	require.NoError(t, err)
	r := NewResolver(table)

	field, err := r.Resolve(context.Background(), "message.trigger", "ADT^A08", standards.Unknown)
	require.NoError(t, err)
	assert.Equal(t, "EVN.1", field)

	field, err = r.Resolve(context.Background(), "message.trigger", "ORU^R01", standards.Unknown)
	require.NoError(t, err)
	assert.Equal(t, "MSH.9.2", field)
}

func TestParseTable_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":            "paths: []\n",
		"bad yaml":         "paths: [\n",
		"unknown category": "paths:\n  - {path: billing.code, category: billing}\n",
		"category prefix":  "paths:\n  - {path: patient.mrn, category: encounter}\n",
		"bad standard":     "paths:\n  - path: patient.mrn\n    category: patient\n    mappings: [{standard: X12, field: A}]\n",
		"missing field":    "paths:\n  - path: patient.mrn\n    category: patient\n    mappings: [{standard: HL7v23}]\n",
		"duplicate":        "paths:\n  - {path: patient.mrn, category: patient}\n  - {path: Patient.MRN, category: patient}\n",
		"invalid path":     "paths:\n  - {path: patient, category: patient}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTable([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestForField(t *testing.T) {
	table := DefaultTable()

	paths := table.ForField(standards.HL7v2, "pv1.3")
	require.Len(t, paths, 1)
	assert.Equal(t, "encounter.location", paths[0].Path)
	assert.Empty(t, table.ForField(standards.HL7v2, "ZZZ.1"))
}

func TestJaroWinkler(t *testing.T) {
	assert.InDelta(t, 0.961, jaroWinkler("MARTHA", "MARHTA"), 1e-3)
	assert.InDelta(t, 0.813, jaroWinkler("DIXON", "DICKSONX"), 1e-3)
	assert.Equal(t, 1.0, jaroWinkler("patient.mrn", "patient.mrn"))
	assert.Equal(t, 0.0, jaroWinkler("", "abc"))
	assert.Equal(t, 0.0, jaroWinkler("abc", "xyz"))
}

func TestResolutionErrorWrapping(t *testing.T) {
	err := error(&ResolutionError{Path: "patient.x", Standard: standards.HL7v2, MessageType: "ADT^A01"})
	assert.True(t, errors.Is(err, ErrNotApplicable))
	assert.NotContains(t, err.Error(), "did you mean")
}
