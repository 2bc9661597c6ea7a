package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptica-ai/vendorshape/pkg/catalog"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
)

func TestDefaultCatalogLookup(t *testing.T) {
	cat := catalog.DefaultCatalog()
	assert.NotEmpty(t, cat.Version())

	tests := []struct {
		path string
		std  standards.Standard
		name string
	}{
		{"PID.3", standards.HL7v2, "Patient Identifier List"},
		{"pid-3", standards.HL7v2, "Patient Identifier List"},
		{"patient.identifier", standards.FHIRR4, "Patient Identifier"},
		{"Header.From", standards.NCPDP, "From"},
		{"MSH.9", standards.Unknown, "Message Type"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f, err := cat.Lookup(tt.path, tt.std)
			require.NoError(t, err)
			assert.Equal(t, tt.name, f.Name)
		})
	}

	_, err := cat.Lookup("PID.99", standards.HL7v2)
	require.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = cat.Lookup("Patient.identifier", standards.HL7v2)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCrossReferences(t *testing.T) {
	f, err := catalog.DefaultCatalog().Lookup("PID.3", standards.HL7v2)
	require.NoError(t, err)
	require.NotEmpty(t, f.CrossReferences)
	assert.Equal(t, standards.FHIRR4, f.CrossReferences[0].Standard)
	assert.Equal(t, "Patient.identifier", f.CrossReferences[0].Path)
	assert.Equal(t, catalog.MatchExact, f.CrossReferences[0].Match)

	pv13, err := catalog.DefaultCatalog().Lookup("PV1.3", standards.HL7v2)
	require.NoError(t, err)
	assert.Empty(t, pv13.CrossReferences)
}

func TestSearch(t *testing.T) {
	cat := catalog.DefaultCatalog()

	hits := cat.Search("identifier", standards.FHIRR4)
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.Equal(t, standards.FHIRR4, h.Standard)
	}

	all := cat.Search("birth", standards.Unknown)
	stds := map[standards.Standard]bool{}
	for _, h := range all {
		stds[h.Standard] = true
	}
	assert.True(t, stds[standards.HL7v2])
	assert.True(t, stds[standards.FHIRR4])

	assert.Empty(t, cat.Search("  ", standards.Unknown))
}

func TestListTopLevelAndChildren(t *testing.T) {
	cat := catalog.DefaultCatalog()

	var segments []string
	for _, f := range cat.ListTopLevel(standards.HL7v2) {
		segments = append(segments, f.Path)
	}
	assert.Contains(t, segments, "PID")
	assert.Contains(t, segments, "MSH")
	assert.Contains(t, segments, "DG1.3", "uncatalogued segment leaves surface at the top")
	assert.NotContains(t, segments, "PID.3")

	var children []string
	for _, f := range cat.ListChildren("PID") {
		children = append(children, f.Path)
	}
	assert.Equal(t, []string{"PID.3", "PID.5", "PID.7", "PID.8", "PID.11", "PID.13", "PID.18", "PID.19"}, children)

	var ncpdp []string
	for _, f := range cat.ListChildren("Patient.HumanPatient") {
		if f.Standard == standards.NCPDP {
			ncpdp = append(ncpdp, f.Path)
		}
	}
	assert.Contains(t, ncpdp, "Patient.HumanPatient.Name")
	assert.NotContains(t, ncpdp, "Patient.HumanPatient.Name.LastName")
}

func TestIsPHI(t *testing.T) {
	cat := catalog.DefaultCatalog()
	assert.True(t, cat.IsPHI("PID.3", standards.HL7v2))
	assert.True(t, cat.IsPHI("Patient.identifier.system", standards.FHIRR4))
	assert.True(t, cat.IsPHI("Patient.HumanPatient.Name.LastName", standards.NCPDP))
	assert.False(t, cat.IsPHI("MSH.3", standards.HL7v2))
	assert.False(t, cat.IsPHI("Header.From", standards.NCPDP))
}

func TestComparePaths(t *testing.T) {
	assert.Negative(t, catalog.ComparePaths("PID.9", "PID.10"))
	assert.Positive(t, catalog.ComparePaths("PV1", "PID"))
	assert.Negative(t, catalog.ComparePaths("PID", "PID.3"))
	assert.Zero(t, catalog.ComparePaths("MSH.3", "MSH.3"))
}

func TestLoadAndParseErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: test
standards:
  hl7:
    - path: ZZZ.1
      name: Custom
`), 0o600))

	cat, err := catalog.Load(path)
	require.NoError(t, err)
	f, err := cat.Lookup("ZZZ.1", standards.HL7v2)
	require.NoError(t, err)
	assert.Equal(t, standards.HL7v2, f.Standard)

	def, err := catalog.Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, def.All())

	_, err = catalog.Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	tests := map[string]string{
		"empty":        "version: x\n",
		"bad standard": "standards:\n  X12:\n    - path: A\n",
		"missing path": "standards:\n  NCPDP:\n    - name: A\n",
		"duplicate":    "standards:\n  NCPDP:\n    - path: A\n    - path: a\n",
		"invalid yaml": "standards: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := catalog.Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}
