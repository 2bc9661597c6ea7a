package vendorconfig

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Data type guesses recorded on field patterns.
const (
	DataTypeString    = "string"
	DataTypeNumeric   = "numeric"
	DataTypeDate      = "date"
	DataTypeDateTime  = "datetime"
	DataTypeBoolean   = "boolean"
	DataTypeComposite = "composite"
)

// MaxSampleValues bounds the representative values kept per field.
const MaxSampleValues = 5

// FieldPattern summarises how one field was populated across the sampled messages.
type FieldPattern struct {
	Frequency     float64  `json:"frequency"`
	SampleValues  []string `json:"sampleValues"`
	DataType      string   `json:"dataType"`
	PresentCount  int      `json:"presentCount"`
	DistinctCount int      `json:"distinctCount"`
	DominantValue string   `json:"dominantValue,omitempty"`
	DominantRatio float64  `json:"dominantRatio"`
}

type Repetition struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	Typical int `json:"typical"`
}

// GroupPattern covers an HL7 segment, a FHIR resource or an NCPDP element group.
type GroupPattern struct {
	Frequency  float64                 `json:"frequency"`
	Repetition Repetition              `json:"repetition"`
	Fields     map[string]FieldPattern `json:"fields"`
}

// FieldPatterns maps a group name to its pattern: patterns["PV1"].Fields["3"].
type FieldPatterns map[string]GroupPattern

// Field returns the pattern stored under a dotted "GROUP.field" path.
func (p FieldPatterns) Field(path string) (FieldPattern, bool) {
	group, field, ok := splitFieldPath(path)
	if !ok {
		return FieldPattern{}, false
	}
	g, ok := p[group]
	if !ok {
		return FieldPattern{}, false
	}
	f, ok := g.Fields[field]
	return f, ok
}

// GroupNames returns the group keys in sorted order.
func (p FieldPatterns) GroupNames() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MessagePattern records how often a message type occurred in the sample set and which
// groups were present in only some of its messages.
type MessagePattern struct {
	MessageType string   `json:"messageType"`
	Count       int      `json:"count"`
	Frequency   float64  `json:"frequency"`
	Variants    []string `json:"variants,omitempty"`
}

// Evidence roles.
const (
	RoleVendor  = "vendor"
	RoleVersion = "version"
)

type Evidence struct {
	Path  string  `json:"path"`
	Value string  `json:"value"`
	Ratio float64 `json:"ratio"`
	Role  string  `json:"role"`
}

type VendorSignature struct {
	Name     string     `json:"name"`
	Version  string     `json:"version"`
	Evidence []Evidence `json:"evidence"`
}

type Metadata struct {
	Confidence      float64   `json:"confidence"`
	MessagesSampled int       `json:"messagesSampled"`
	SamplesSkipped  int       `json:"samplesSkipped"`
	LowConfidence   bool      `json:"lowConfidence"`
	FirstSeen       time.Time `json:"firstSeen"`
	LastUpdated     time.Time `json:"lastUpdated"`
	Version         int       `json:"version"`
}

// VendorConfiguration is the inferred, versioned shape of one vendor's messages for a
// single (standard, message type). Values are never edited in place; re-running
// inference produces a new version under the same address.
type VendorConfiguration struct {
	Address         Address          `json:"address"`
	Signature       VendorSignature  `json:"signature"`
	FieldPatterns   FieldPatterns    `json:"fieldPatterns"`
	MessagePatterns []MessagePattern `json:"messagePatterns"`
	Metadata        Metadata         `json:"metadata"`
}

// Marshal renders the configuration as indented JSON. encoding/json sorts map keys, so
// equal configurations always produce identical bytes.
func Marshal(cfg *VendorConfiguration) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal configuration %s: %w", cfg.Address, err)
	}
	return append(data, '\n'), nil
}

func Unmarshal(data []byte) (*VendorConfiguration, error) {
	var cfg VendorConfiguration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Address.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Fingerprint is the hex SHA-256 of the canonical JSON of the observed shape (field and
// message patterns). Identity, confidence and timestamps are excluded, so two runs over
// the same messages share a fingerprint.
func (c *VendorConfiguration) Fingerprint() string {
	shape := struct {
		FieldPatterns   FieldPatterns    `json:"fieldPatterns"`
		MessagePatterns []MessagePattern `json:"messagePatterns"`
	}{c.FieldPatterns, c.MessagePatterns}

	data, err := json.Marshal(shape)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}

// WithVersion returns a copy carrying new version bookkeeping. Pattern maps are shared,
// which is safe because they are never mutated after construction.
func (c *VendorConfiguration) WithVersion(version int, firstSeen, updated time.Time) *VendorConfiguration {
	out := *c
	out.Metadata.Version = version
	out.Metadata.FirstSeen = firstSeen.UTC()
	out.Metadata.LastUpdated = updated.UTC()
	return &out
}

func splitFieldPath(path string) (string, string, bool) {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			if i == 0 || i == len(path)-1 {
				return "", "", false
			}
			return path[:i], path[i+1:], true
		}
	}
	return "", "", false
}
