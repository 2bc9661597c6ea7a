package validation

import (
	"fmt"
	"sort"

	"github.com/synaptica-ai/vendorshape/pkg/catalog"
	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

// DefaultSparseThreshold is the frequency below which a required field is treated as
// sparsely populated by the vendor.
const DefaultSparseThreshold = 0.95

type Mode string

const (
	ModeStrict        Mode = "strict"
	ModeCompatibility Mode = "compatibility"
)

// Decision is the validation mode chosen for one field of a vendor's messages.
type Decision struct {
	Path      string        `json:"path"`
	Mode      Mode          `json:"mode"`
	Usage     catalog.Usage `json:"usage,omitempty"`
	Frequency float64       `json:"frequency"`
	Observed  bool          `json:"observed"`
	Reason    string        `json:"reason"`
}

type Report struct {
	Address       vendorconfig.Address `json:"address"`
	Decisions     []Decision           `json:"decisions"`
	Strict        int                  `json:"strict"`
	Compatibility int                  `json:"compatibility"`
}

type Options struct {
	SparseThreshold float64
}

func DefaultOptions() Options {
	return Options{SparseThreshold: DefaultSparseThreshold}
}

// Planner decides strict versus compatibility validation per field by comparing a stored
// vendor configuration with the reference catalog.
type Planner struct {
	catalog catalog.Catalog
}

func NewPlanner(cat catalog.Catalog) *Planner {
	return &Planner{catalog: cat}
}

// Plan covers every observed field plus the catalogued children of every observed
// group. Required fields the vendor leaves sparse or empty, fields the standard marks
// not-used but the vendor populates, and fields missing from the catalog are validated
// in compatibility mode. A low-confidence configuration is not trusted to relax anything.
func (p *Planner) Plan(cfg *vendorconfig.VendorConfiguration, opts Options) *Report {
	if opts.SparseThreshold <= 0 || opts.SparseThreshold > 1 {
		opts.SparseThreshold = DefaultSparseThreshold
	}
	std := cfg.Address.Standard
	seen := make(map[string]struct{})
	report := &Report{Address: cfg.Address}

	for _, group := range cfg.FieldPatterns.GroupNames() {
		for field, pattern := range cfg.FieldPatterns[group].Fields {
			path := group + "." + field
			seen[path] = struct{}{}
			meta, err := p.catalog.Lookup(path, std)
			if err != nil {
				report.Decisions = append(report.Decisions, Decision{
					Path:      path,
					Mode:      ModeCompatibility,
					Frequency: pattern.Frequency,
					Observed:  true,
					Reason:    "not in the reference catalog",
				})
				continue
			}
			report.Decisions = append(report.Decisions, decide(meta, path, pattern.Frequency, true, opts))
		}

		for _, child := range p.catalog.ListChildren(group) {
			if child.Standard != std {
				continue
			}
			if _, ok := seen[child.Path]; ok {
				continue
			}
			if _, ok := cfg.FieldPatterns.Field(child.Path); ok {
				continue
			}
			seen[child.Path] = struct{}{}
			report.Decisions = append(report.Decisions, decide(child, child.Path, 0, false, opts))
		}
	}

	if cfg.Metadata.LowConfidence {
		for i := range report.Decisions {
			if report.Decisions[i].Mode == ModeCompatibility {
				report.Decisions[i].Mode = ModeStrict
				report.Decisions[i].Reason = fmt.Sprintf("configuration confidence %.2f too low to relax: %s", cfg.Metadata.Confidence, report.Decisions[i].Reason)
			}
		}
	}

	sort.Slice(report.Decisions, func(i, j int) bool {
		return catalog.ComparePaths(report.Decisions[i].Path, report.Decisions[j].Path) < 0
	})
	for _, d := range report.Decisions {
		if d.Mode == ModeStrict {
			report.Strict++
		} else {
			report.Compatibility++
		}
	}

	logger.WithFields(map[string]interface{}{
		"address":       cfg.Address.String(),
		"strict":        report.Strict,
		"compatibility": report.Compatibility,
	}).Debug("Validation plan built")
	return report
}

// Mode returns the decision for a single field path ("PV1.3").
func (r *Report) Mode(path string) (Decision, bool) {
	for _, d := range r.Decisions {
		if d.Path == path {
			return d, true
		}
	}
	return Decision{}, false
}

func decide(meta catalog.FieldMetadata, path string, frequency float64, observed bool, opts Options) Decision {
	d := Decision{Path: path, Mode: ModeStrict, Usage: meta.Usage, Frequency: frequency, Observed: observed}
	switch {
	case meta.Usage == catalog.UsageRequired && !observed:
		d.Mode = ModeCompatibility
		d.Reason = "required by the standard but never populated"
	case meta.Usage == catalog.UsageRequired && frequency < opts.SparseThreshold:
		d.Mode = ModeCompatibility
		d.Reason = fmt.Sprintf("required by the standard but populated in %.0f%% of samples", frequency*100)
	case meta.Usage == catalog.UsageNotUsed && observed && frequency > 0:
		d.Mode = ModeCompatibility
		d.Reason = "not used by the standard but populated by the vendor"
	case observed:
		d.Reason = "vendor population consistent with the standard"
	default:
		d.Reason = "not populated; optional in the standard"
	}
	return d
}
