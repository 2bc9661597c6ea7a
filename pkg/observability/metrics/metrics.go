package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	analysesRun         atomic.Int64
	analysesCancelled   atomic.Int64
	samplesParsed       atomic.Int64
	samplesSkipped      atomic.Int64
	lowConfidenceTotal  atomic.Int64
	configurationsSaved atomic.Int64
	storeFailures       atomic.Int64
	cacheHits           atomic.Int64
	cacheMisses         atomic.Int64
	resolutionsOK       atomic.Int64
	resolutionsFailed   atomic.Int64
)

func ObserveAnalysis(parsed, skipped int, cancelled bool) {
	analysesRun.Add(1)
	samplesParsed.Add(int64(parsed))
	samplesSkipped.Add(int64(skipped))
	if cancelled {
		analysesCancelled.Add(1)
	}
}

func ObserveInference(lowConfidence bool) {
	if lowConfidence {
		lowConfidenceTotal.Add(1)
	}
}

func ObserveSave(err error) {
	if err != nil {
		storeFailures.Add(1)
		return
	}
	configurationsSaved.Add(1)
}

func ObserveCache(hit bool) {
	if hit {
		cacheHits.Add(1)
		return
	}
	cacheMisses.Add(1)
}

func ObserveResolution(ok bool) {
	if ok {
		resolutionsOK.Add(1)
		return
	}
	resolutionsFailed.Add(1)
}

// Snapshot returns the current counter values keyed by metric name.
func Snapshot() map[string]int64 {
	return map[string]int64{
		"vendorshape_analysis_runs_total":                analysesRun.Load(),
		"vendorshape_analysis_cancelled_total":           analysesCancelled.Load(),
		"vendorshape_analysis_samples_parsed_total":      samplesParsed.Load(),
		"vendorshape_analysis_samples_skipped_total":     samplesSkipped.Load(),
		"vendorshape_inference_low_confidence_total":     lowConfidenceTotal.Load(),
		"vendorshape_store_configurations_saved_total":   configurationsSaved.Load(),
		"vendorshape_store_failures_total":               storeFailures.Load(),
		"vendorshape_store_cache_hits_total":             cacheHits.Load(),
		"vendorshape_store_cache_misses_total":           cacheMisses.Load(),
		"vendorshape_semantic_resolutions_total":         resolutionsOK.Load(),
		"vendorshape_semantic_resolution_failures_total": resolutionsFailed.Load(),
	}
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeCounter(w, "vendorshape_analysis_runs_total", "Number of sample batches analysed.", analysesRun.Load())
	writeCounter(w, "vendorshape_analysis_cancelled_total", "Number of analyses cancelled before every sample was processed.", analysesCancelled.Load())
	writeCounter(w, "vendorshape_analysis_samples_parsed_total", "Number of samples parsed successfully.", samplesParsed.Load())
	writeCounter(w, "vendorshape_analysis_samples_skipped_total", "Number of malformed samples skipped.", samplesSkipped.Load())
	writeCounter(w, "vendorshape_inference_low_confidence_total", "Number of configurations inferred below the confidence threshold.", lowConfidenceTotal.Load())
	writeCounter(w, "vendorshape_store_configurations_saved_total", "Number of configuration versions written.", configurationsSaved.Load())
	writeCounter(w, "vendorshape_store_failures_total", "Number of failed configuration writes.", storeFailures.Load())
	writeCounter(w, "vendorshape_store_cache_hits_total", "Number of latest-version lookups served from cache.", cacheHits.Load())
	writeCounter(w, "vendorshape_store_cache_misses_total", "Number of latest-version lookups that missed the cache.", cacheMisses.Load())
	writeCounter(w, "vendorshape_semantic_resolutions_total", "Number of semantic paths resolved.", resolutionsOK.Load())
	writeCounter(w, "vendorshape_semantic_resolution_failures_total", "Number of semantic path resolutions that failed.", resolutionsFailed.Load())
}

func writeCounter(w http.ResponseWriter, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}
