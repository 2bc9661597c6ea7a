package inference

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/synaptica-ai/vendorshape/pkg/analysis"
	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

const (
	UnknownVendor  = "Unknown"
	UnknownVersion = "unknown"

	// A signature field is dominant when one value covers at least dominantRatio of the
	// messages carrying it and the field is populated in at least dominantPresence of
	// all messages.
	dominantRatio    = 0.8
	dominantPresence = 0.5

	// adequacyScale is the sample count at which adequacy reaches 1-1/e.
	adequacyScale = 8.0
)

var ErrDegenerateInput = errors.New("degenerate inference input")

type Input struct {
	// Vendor, when set, names the address vendor instead of the inferred name.
	Vendor          string
	Standard        standards.Standard
	MessageType     string
	Patterns        vendorconfig.FieldPatterns
	MessagePatterns []vendorconfig.MessagePattern
	MessagesSampled int
	SamplesSkipped  int
}

// InputFromResult adapts an analysis result for inference.
func InputFromResult(res *analysis.Result, vendor string) Input {
	return Input{
		Vendor:          vendor,
		Standard:        res.Standard,
		MessageType:     res.MessageType,
		Patterns:        res.Patterns,
		MessagePatterns: res.Messages,
		MessagesSampled: res.Parsed,
		SamplesSkipped:  res.Skipped,
	}
}

type Options struct {
	MinConfidence float64
}

func DefaultOptions() Options {
	return Options{MinConfidence: analysis.DefaultMinConfidence}
}

type Inferrer struct {
	rules *Rules
	now   func() time.Time
}

func NewInferrer(rules *Rules) *Inferrer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Inferrer{rules: rules, now: time.Now}
}

// WithClock replaces the clock used for metadata timestamps.
func (i *Inferrer) WithClock(now func() time.Time) *Inferrer {
	i.now = now
	return i
}

// Infer decides the vendor identity behind a set of field patterns and scores it.
//
// confidence = evidence * (0.5 + 0.5*adequacy), where evidence is the fraction of present
// signature fields that carry a dominant value and adequacy = 1 - exp(-n/8) for n sampled
// messages (about 0.92 at 20 samples, 0.98 at 30). A result below MinConfidence is
// flagged LowConfidence and still returned.
func (i *Inferrer) Infer(in Input, opts Options) (*vendorconfig.VendorConfiguration, error) {
	if in.MessagesSampled < 1 {
		return nil, fmt.Errorf("%w: %d messages sampled", ErrDegenerateInput, in.MessagesSampled)
	}
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return nil, fmt.Errorf("min confidence %v outside [0,1]", opts.MinConfidence)
	}

	sig, evidence := i.signature(in)
	confidence := 0.0
	if len(sig.Evidence) > 0 {
		adequacy := 1 - math.Exp(-float64(in.MessagesSampled)/adequacyScale)
		confidence = round4(evidence * (0.5 + 0.5*adequacy))
	}

	vendor := in.Vendor
	if strings.TrimSpace(vendor) == "" {
		vendor = sig.Name
	}
	addr, err := vendorconfig.AddressFor(vendor, in.Standard, in.MessageType)
	if err != nil && strings.TrimSpace(in.Vendor) == "" {
		addr, err = vendorconfig.AddressFor(UnknownVendor, in.Standard, in.MessageType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateInput, err)
	}

	now := i.now().UTC()
	cfg := &vendorconfig.VendorConfiguration{
		Address:         addr,
		Signature:       sig,
		FieldPatterns:   in.Patterns,
		MessagePatterns: in.MessagePatterns,
		Metadata: vendorconfig.Metadata{
			Confidence:      confidence,
			MessagesSampled: in.MessagesSampled,
			SamplesSkipped:  in.SamplesSkipped,
			LowConfidence:   confidence < opts.MinConfidence,
			FirstSeen:       now,
			LastUpdated:     now,
			Version:         1,
		},
	}
	if cfg.FieldPatterns == nil {
		cfg.FieldPatterns = vendorconfig.FieldPatterns{}
	}

	logger.WithFields(map[string]interface{}{
		"address":        addr.String(),
		"vendor":         sig.Name,
		"version":        sig.Version,
		"confidence":     confidence,
		"low_confidence": cfg.Metadata.LowConfidence,
	}).Info("Vendor signature inferred")

	return cfg, nil
}

// signature collects evidence from the signature fields of the input's standard and
// returns the signature together with the dominant fraction of the present fields.
func (i *Inferrer) signature(in Input) (vendorconfig.VendorSignature, float64) {
	sig := vendorconfig.VendorSignature{Name: UnknownVendor, Version: UnknownVersion, Evidence: []vendorconfig.Evidence{}}

	var present, dominant int
	var known, fallback string
	for _, rule := range i.rules.Fields[in.Standard] {
		fp, ok := in.Patterns.Field(rule.Path)
		if !ok || fp.PresentCount == 0 {
			continue
		}
		present++
		sig.Evidence = append(sig.Evidence, vendorconfig.Evidence{
			Path:  rule.Path,
			Value: fp.DominantValue,
			Ratio: fp.DominantRatio,
			Role:  rule.Role,
		})
		isDominant := fp.DominantRatio >= dominantRatio && fp.Frequency >= dominantPresence
		if isDominant {
			dominant++
		}

		value := firstComponent(fp.DominantValue)
		switch rule.Role {
		case vendorconfig.RoleVersion:
			if isDominant && sig.Version == UnknownVersion && value != "" {
				sig.Version = value
			}
		case vendorconfig.RoleVendor:
			if known == "" {
				if name, ok := i.rules.canonicalVendor(value); ok {
					known = name
				}
			}
			if fallback == "" && value != "" {
				fallback = value
			}
		}
	}

	switch {
	case known != "":
		sig.Name = known
	case fallback != "":
		sig.Name = fallback
	}
	if present == 0 {
		return sig, 0
	}
	return sig, float64(dominant) / float64(present)
}

// firstComponent strips HL7 component and subcomponent detail ("Epic^L" -> "Epic").
func firstComponent(value string) string {
	if i := strings.IndexAny(value, "^&"); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
