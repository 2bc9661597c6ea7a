package profiler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/synaptica-ai/vendorshape/pkg/analysis"
	"github.com/synaptica-ai/vendorshape/pkg/catalog"
	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/common/models"
	"github.com/synaptica-ai/vendorshape/pkg/configstore"
	"github.com/synaptica-ai/vendorshape/pkg/crossmap"
	"github.com/synaptica-ai/vendorshape/pkg/inference"
	"github.com/synaptica-ai/vendorshape/pkg/observability/metrics"
	"github.com/synaptica-ai/vendorshape/pkg/semantic"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

type HTTPHandler struct {
	service *Service
	maxBody int64
}

func NewHTTPHandler(service *Service, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/profiles", h.handleProfile).Methods(http.MethodPost)
	router.HandleFunc("/configurations", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/configurations/{address}/versions", h.handleVersions).Methods(http.MethodGet)
	router.HandleFunc("/configurations/{ref}/validation", h.handleValidation).Methods(http.MethodGet)
	router.HandleFunc("/configurations/{ref}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/compare", h.handleCompare).Methods(http.MethodGet)
	router.HandleFunc("/semantic/resolve", h.handleResolve).Methods(http.MethodGet)
	router.HandleFunc("/semantic/paths", h.handlePaths).Methods(http.MethodGet)
	router.HandleFunc("/fields/{field}/mappings", h.handleMapping).Methods(http.MethodGet)
	router.HandleFunc("/fields", h.handleSearch).Methods(http.MethodGet)
	router.HandleFunc("/metrics", h.handleMetrics).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleProfile(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var batch models.SampleBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		logger.Log.WithError(err).Warn("invalid sample batch payload")
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	resp, err := h.service.Profile(r.Context(), batch)
	if err != nil {
		h.fail(w, err, "failed to profile sample batch")
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	std, err := parseOptionalStandard(q.Get("standard"))
	if err != nil {
		h.fail(w, err, "failed to list configurations")
		return
	}
	configs, err := h.service.List(r.Context(), configstore.Filter{
		Vendor:      q.Get("vendor"),
		Standard:    std,
		MessageType: q.Get("messageType"),
	})
	if err != nil {
		h.fail(w, err, "failed to list configurations")
		return
	}
	if configs == nil {
		configs = []*vendorconfig.VendorConfiguration{}
	}
	writeJSON(w, http.StatusOK, configs)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.Configuration(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		h.fail(w, err, "failed to load configuration")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *HTTPHandler) handleVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.service.Versions(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		h.fail(w, err, "failed to list versions")
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *HTTPHandler) handleValidation(w http.ResponseWriter, r *http.Request) {
	threshold, ok := floatParam(w, r, "threshold")
	if !ok {
		return
	}
	report, err := h.service.ValidationPlan(r.Context(), mux.Vars(r)["ref"], threshold)
	if err != nil {
		h.fail(w, err, "failed to plan validation")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *HTTPHandler) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("left") == "" || q.Get("right") == "" {
		writeError(w, http.StatusBadRequest, "left and right are required", nil)
		return
	}
	tolerance, ok := floatParam(w, r, "tolerance")
	if !ok {
		return
	}
	result, err := h.service.Compare(r.Context(), q.Get("left"), q.Get("right"), tolerance)
	if err != nil {
		h.fail(w, err, "failed to compare configurations")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.service.Resolve(r.Context(), q.Get("path"), q.Get("messageType"), q.Get("standard"))
	if err != nil {
		h.fail(w, err, "failed to resolve semantic path")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) handlePaths(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	paths, err := h.service.AvailablePaths(q.Get("messageType"), q.Get("standard"))
	if err != nil {
		h.fail(w, err, "failed to list semantic paths")
		return
	}
	writeJSON(w, http.StatusOK, paths)
}

func (h *HTTPHandler) handleMapping(w http.ResponseWriter, r *http.Request) {
	mapping, err := h.service.MapField(mux.Vars(r)["field"], r.URL.Query().Get("standard"))
	if err != nil {
		h.fail(w, err, "failed to map field")
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

func (h *HTTPHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.service.Search(r.Context(), SearchQuery{
		SemanticPath: q.Get("path"),
		Pattern:      q.Get("pattern"),
		PatternType:  q.Get("type"),
		Standard:     q.Get("standard"),
		Text:         q.Get("q"),
	})
	if err != nil {
		h.fail(w, err, "failed to search fields")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w)
}

// fail maps service errors onto status codes. Unexpected errors are logged with msg.
func (h *HTTPHandler) fail(w http.ResponseWriter, err error, msg string) {
	if res, ok := semantic.IsNotApplicable(err); ok {
		writeError(w, http.StatusUnprocessableEntity, err.Error(), res.Suggestions)
		return
	}
	switch {
	case IsValidationError(err),
		vendorconfig.IsInvalidAddress(err),
		errors.Is(err, configstore.ErrInvalidName),
		errors.Is(err, standards.ErrUnknownStandard),
		errors.Is(err, semantic.ErrInvalidPath),
		errors.Is(err, semantic.ErrUnknownMessageType),
		errors.Is(err, crossmap.ErrInvalidPattern):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, configstore.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, analysis.ErrNoSamples), errors.Is(err, inference.ErrDegenerateInput):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, crossmap.ErrNotSupported):
		writeError(w, http.StatusNotImplemented, err.Error(), nil)
	case errors.Is(err, configstore.ErrStorageIO):
		logger.Log.WithError(err).Error(msg)
		writeError(w, http.StatusServiceUnavailable, "configuration storage unavailable", nil)
	case errors.Is(err, ErrCancelled):
		writeError(w, http.StatusServiceUnavailable, err.Error(), nil)
	default:
		logger.Log.WithError(err).Error(msg)
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func floatParam(w http.ResponseWriter, r *http.Request, name string) (float64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name, nil)
		return 0, false
	}
	return v, true
}

type errorResponse struct {
	Error       string   `json:"error"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string, suggestions []string) {
	writeJSON(w, status, errorResponse{Error: msg, Suggestions: suggestions})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}
