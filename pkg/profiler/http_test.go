package profiler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptica-ai/vendorshape/pkg/common/models"
	"github.com/synaptica-ai/vendorshape/pkg/configstore"
	"github.com/synaptica-ai/vendorshape/pkg/profiler"
	"github.com/synaptica-ai/vendorshape/pkg/validation"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

func newRouter(t *testing.T) *mux.Router {
	t.Helper()
	svc, _ := newService(t, &recordingPublisher{})
	router := mux.NewRouter()
	profiler.NewHTTPHandler(svc, 1<<20).Register(router.PathPrefix("/api/v1").Subrouter())
	return router
}

func do(router http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postBatch(t *testing.T, router http.Handler, batch models.SampleBatch) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(batch)
	require.NoError(t, err)
	return do(router, http.MethodPost, "/api/v1/profiles", body)
}

type errorBody struct {
	Error       string   `json:"error"`
	Suggestions []string `json:"suggestions"`
}

func TestHTTP_ProfileAndFetch(t *testing.T) {
	router := newRouter(t)

	rec := postBatch(t, router, models.SampleBatch{Vendor: "Epic", Messages: adtMessages(10)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp profiler.ProfileResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, epicADT, resp.Configuration.Address.String())

	rec = do(router, http.MethodGet, "/api/v1/configurations/"+epicADT+"@1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg, err := vendorconfig.Unmarshal(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Metadata.Version)

	rec = do(router, http.MethodGet, "/api/v1/configurations/"+epicADT+"/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var versions []configstore.VersionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &versions))
	assert.Len(t, versions, 1)

	rec = do(router, http.MethodGet, "/api/v1/configurations?vendor=epic&standard=hl7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = do(router, http.MethodGet, "/api/v1/configurations?vendor=cerner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(router, http.MethodGet, "/api/v1/configurations/"+epicADT+"/validation?threshold=0.9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report validation.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.NotEmpty(t, report.Decisions)

	rec = do(router, http.MethodGet, "/api/v1/compare?left="+epicADT+"@1&right="+epicADT, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cmp vendorconfig.ComparisonResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cmp))
	assert.True(t, cmp.AreIdentical)
}

func TestHTTP_ProfileErrors(t *testing.T) {
	router := newRouter(t)

	rec := do(router, http.MethodPost, "/api/v1/profiles", []byte("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postBatch(t, router, models.SampleBatch{Vendor: "Epic"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postBatch(t, router, models.SampleBatch{Messages: []string{"garbage"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	big := models.SampleBatch{Messages: []string{strings.Repeat("x", 2<<20)}}
	rec = postBatch(t, router, big)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_LookupErrors(t *testing.T) {
	router := newRouter(t)

	tests := []struct {
		target string
		status int
	}{
		{"/api/v1/configurations/" + epicADT, http.StatusNotFound},
		{"/api/v1/configurations/" + epicADT + "@0", http.StatusBadRequest},
		{"/api/v1/configurations/not-an-address/versions", http.StatusBadRequest},
		{"/api/v1/compare?left=" + epicADT, http.StatusBadRequest},
		{"/api/v1/compare?left=a&right=b&tolerance=abc", http.StatusBadRequest},
		{"/api/v1/semantic/resolve?path=patient&messageType=ADT", http.StatusBadRequest},
		{"/api/v1/semantic/resolve?path=patient.mrn&messageType=FOO", http.StatusBadRequest},
		{"/api/v1/semantic/paths?messageType=ADT&standard=X12", http.StatusBadRequest},
		{"/api/v1/fields?pattern=PID.3&type=fuzzy", http.StatusNotImplemented},
		{"/api/v1/fields?pattern=PID.(&type=regex", http.StatusBadRequest},
		{"/api/v1/fields", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := do(router, http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestHTTP_SemanticLookups(t *testing.T) {
	router := newRouter(t)

	rec := do(router, http.MethodGet, "/api/v1/semantic/resolve?path=encounter.location&messageType=ADT%5EA01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res profiler.Resolution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "PV1.3", res.Field)

	rec = do(router, http.MethodGet, "/api/v1/semantic/resolve?path=patient.mrm&messageType=ADT%5EA01", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Suggestions)
	assert.Equal(t, "patient.mrn", body.Suggestions[0])

	rec = do(router, http.MethodGet, "/api/v1/fields/PID.3/mappings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Patient.identifier")

	rec = do(router, http.MethodGet, "/api/v1/fields?q=identifier", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "PV1.19")

	rec = do(router, http.MethodGet, "/api/v1/fields?path=patient.mrn", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "PID.3")

	rec = do(router, http.MethodGet, "/api/v1/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vendorshape_analysis_runs_total")
}
