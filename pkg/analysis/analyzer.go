package analysis

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/dlp"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

const DefaultMinConfidence = 0.6

var ErrNoSamples = errors.New("no analysable samples")

// ParseWarning records a sample that was skipped because it could not be parsed.
type ParseWarning struct {
	SampleIndex int    `json:"sampleIndex"`
	Reason      string `json:"reason"`
}

// NoSamplesError is returned when a batch holds no non-empty sample, or when every
// non-empty sample failed to parse.
type NoSamplesError struct {
	Total    int
	Warnings []ParseWarning
}

func (e *NoSamplesError) Error() string {
	if len(e.Warnings) == 0 {
		return fmt.Sprintf("no samples to analyse (%d provided, all empty)", e.Total)
	}
	return fmt.Sprintf("no samples to analyse: all %d non-empty samples failed to parse", len(e.Warnings))
}

func (e *NoSamplesError) Unwrap() error {
	return ErrNoSamples
}

// PHIChecker reports whether a concrete field carries protected health information.
type PHIChecker interface {
	IsPHI(path string, std standards.Standard) bool
}

type Options struct {
	MinConfidence float64
	// Workers overrides the analyzer's worker count for this run.
	Workers int
	// SampleLimit, when positive, analyses a subset of that many samples chosen by Seed.
	SampleLimit int
	Seed        int64
}

func DefaultOptions() Options {
	return Options{MinConfidence: DefaultMinConfidence}
}

type Result struct {
	Standard      standards.Standard
	MessageType   string
	Patterns      vendorconfig.FieldPatterns
	Messages      []vendorconfig.MessagePattern
	Total         int
	Parsed        int
	Skipped       int
	Unprocessed   int
	Cancelled     bool
	Warnings      []ParseWarning
	MinConfidence float64
}

// Analyzer reduces a batch of raw samples to per-field presence and value statistics.
// Parsing is delegated to the standards registry; sample values of PHI fields are reduced
// to their shape before they reach the result.
type Analyzer struct {
	registry *standards.Registry
	phi      PHIChecker
	detector *dlp.Detector
	workers  int
}

func NewAnalyzer(registry *standards.Registry, phi PHIChecker, detector *dlp.Detector, workers int) *Analyzer {
	if registry == nil {
		registry = standards.DefaultRegistry()
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Analyzer{registry: registry, phi: phi, detector: detector, workers: workers}
}

type indexedSample struct {
	index  int
	sample standards.RawSample
}

// Analyze parses the samples in parallel and merges the per-worker statistics. The
// result depends only on the samples and options. Cancellation is checked between
// samples; a cancelled run returns the statistics merged so far with Cancelled set.
func (a *Analyzer) Analyze(ctx context.Context, samples []standards.RawSample, opts Options) (*Result, error) {
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return nil, fmt.Errorf("min confidence %v outside [0,1]", opts.MinConfidence)
	}

	var candidates []indexedSample
	for i, s := range samples {
		if strings.TrimSpace(s.Content) != "" {
			candidates = append(candidates, indexedSample{index: i, sample: s})
		}
	}
	if len(candidates) == 0 {
		return nil, &NoSamplesError{Total: len(samples)}
	}
	candidates = subsample(candidates, opts.SampleLimit, opts.Seed)

	workers := a.workers
	if opts.Workers > 0 {
		workers = opts.Workers
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	accs := make([]*accumulator, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		accs[w] = newAccumulator()
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			acc := accs[w]
			for i := w; i < len(candidates); i += workers {
				if ctx.Err() != nil {
					return
				}
				a.consume(acc, candidates[i])
			}
		}(w)
	}
	wg.Wait()

	merged := newAccumulator()
	for _, acc := range accs {
		merged.merge(acc)
	}
	sort.Slice(merged.warnings, func(i, j int) bool {
		return merged.warnings[i].SampleIndex < merged.warnings[j].SampleIndex
	})

	result := &Result{
		Total:         len(candidates),
		Parsed:        merged.parsed,
		Skipped:       len(merged.warnings),
		Unprocessed:   len(candidates) - merged.processed,
		Warnings:      merged.warnings,
		MinConfidence: opts.MinConfidence,
	}
	result.Cancelled = result.Unprocessed > 0

	if merged.parsed == 0 {
		if result.Cancelled {
			result.Patterns = vendorconfig.FieldPatterns{}
			return result, nil
		}
		return nil, &NoSamplesError{Total: len(samples), Warnings: merged.warnings}
	}

	result.Standard = merged.dominantStandard()
	result.Patterns = merged.buildPatterns(func(path string, std standards.Standard) bool {
		return a.phi != nil && a.phi.IsPHI(path, std)
	}, a.detector, result.Standard)
	result.Messages = merged.buildMessagePatterns()
	result.MessageType = result.Messages[0].MessageType

	logger.WithFields(map[string]interface{}{
		"standard":     result.Standard,
		"message_type": result.MessageType,
		"parsed":       result.Parsed,
		"skipped":      result.Skipped,
		"unprocessed":  result.Unprocessed,
		"groups":       len(result.Patterns),
	}).Info("Sample batch analysed")

	return result, nil
}

func (a *Analyzer) consume(acc *accumulator, in indexedSample) {
	acc.processed++
	msg, err := a.registry.Extract(in.sample)
	if err != nil {
		acc.warnings = append(acc.warnings, ParseWarning{SampleIndex: in.index, Reason: err.Error()})
		logger.WithField("sample_index", in.index).Debugf("Skipping sample: %v", err)
		return
	}
	acc.add(msg)
}

// subsample picks limit samples with a seeded permutation and restores input order.
func subsample(in []indexedSample, limit int, seed int64) []indexedSample {
	if limit <= 0 || limit >= len(in) {
		return in
	}
	rng := rand.New(rand.NewSource(seed))
	picked := rng.Perm(len(in))[:limit]
	sort.Ints(picked)
	out := make([]indexedSample, limit)
	for i, idx := range picked {
		out[i] = in[idx]
	}
	return out
}
