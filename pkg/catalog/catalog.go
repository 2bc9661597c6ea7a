package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/synaptica-ai/vendorshape/pkg/standards"
)

var ErrNotFound = errors.New("field not found in reference catalog")

//go:embed defaults.yaml
var defaultCatalogYAML []byte

type Usage string

const (
	UsageRequired    Usage = "required"
	UsageOptional    Usage = "optional"
	UsageConditional Usage = "conditional"
	UsageNotUsed     Usage = "not-used"
)

// Match grades how closely a cross-referenced field corresponds to its source.
type Match string

const (
	MatchExact       Match = "exact"
	MatchApproximate Match = "approximate"
	MatchPartial     Match = "partial"
)

type CrossReference struct {
	Standard standards.Standard `yaml:"standard" json:"standard"`
	Path     string             `yaml:"path" json:"path"`
	Match    Match              `yaml:"match" json:"match"`
	Type     string             `yaml:"type" json:"type"` // direct, conceptual, filtered
	Notes    string             `yaml:"notes,omitempty" json:"notes,omitempty"`
}

type FieldMetadata struct {
	Standard        standards.Standard `yaml:"-" json:"standard"`
	Path            string             `yaml:"path" json:"path"`
	Name            string             `yaml:"name" json:"name"`
	Description     string             `yaml:"description,omitempty" json:"description,omitempty"`
	DataType        string             `yaml:"dataType,omitempty" json:"dataType,omitempty"`
	Usage           Usage              `yaml:"usage,omitempty" json:"usage,omitempty"`
	ValidValues     []string           `yaml:"validValues,omitempty" json:"validValues,omitempty"`
	Examples        []string           `yaml:"examples,omitempty" json:"examples,omitempty"`
	PHI             bool               `yaml:"phi,omitempty" json:"phi,omitempty"`
	CrossReferences []CrossReference   `yaml:"crossReferences,omitempty" json:"crossReferences,omitempty"`
}

// Catalog is the read-only reference lookup consulted by the analyzer, resolver and
// mapper. An empty std means "any standard".
type Catalog interface {
	Lookup(path string, std standards.Standard) (FieldMetadata, error)
	Search(query string, std standards.Standard) []FieldMetadata
	ListTopLevel(std standards.Standard) []FieldMetadata
	ListChildren(path string) []FieldMetadata
}

type document struct {
	Version   string                                   `yaml:"version"`
	Standards map[standards.Standard][]FieldMetadata `yaml:"standards"`
}

// MemoryCatalog is an in-memory Catalog built from a YAML document.
type MemoryCatalog struct {
	version string
	fields  []FieldMetadata
	index   map[standards.Standard]map[string]int
}

// Load reads a catalog file; an empty path yields the embedded default catalog.
func Load(path string) (*MemoryCatalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(content)
}

func Parse(content []byte) (*MemoryCatalog, error) {
	var doc document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	cat := &MemoryCatalog{version: doc.Version, index: make(map[standards.Standard]map[string]int)}
	for std, entries := range doc.Standards {
		parsed, err := standards.ParseStandard(string(std))
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		for _, f := range entries {
			if strings.TrimSpace(f.Path) == "" {
				return nil, fmt.Errorf("catalog: %s entry without path", std)
			}
			f.Standard = parsed
			cat.fields = append(cat.fields, f)
		}
	}
	if len(cat.fields) == 0 {
		return nil, fmt.Errorf("reference catalog empty")
	}

	sort.SliceStable(cat.fields, func(i, j int) bool {
		return lessField(cat.fields[i], cat.fields[j])
	})
	for i, f := range cat.fields {
		byPath, ok := cat.index[f.Standard]
		if !ok {
			byPath = make(map[string]int)
			cat.index[f.Standard] = byPath
		}
		key := normalizePath(f.Path)
		if _, dup := byPath[key]; dup {
			return nil, fmt.Errorf("catalog: duplicate path %s in %s", f.Path, f.Standard)
		}
		byPath[key] = i
	}
	return cat, nil
}

// DefaultCatalog returns the embedded catalog. It panics only if the embedded document is
// invalid, which the package tests guard against.
func DefaultCatalog() *MemoryCatalog {
	cat, err := Parse(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog invalid: %v", err))
	}
	return cat
}

func (c *MemoryCatalog) Version() string {
	return c.version
}

func (c *MemoryCatalog) Lookup(path string, std standards.Standard) (FieldMetadata, error) {
	key := normalizePath(path)
	for _, s := range searchOrder(std) {
		if i, ok := c.index[s][key]; ok {
			return c.fields[i], nil
		}
	}
	return FieldMetadata{}, fmt.Errorf("%w: %s", ErrNotFound, path)
}

// Search matches the query case-insensitively against path, name and description.
func (c *MemoryCatalog) Search(query string, std standards.Standard) []FieldMetadata {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []FieldMetadata
	for _, f := range c.fields {
		if std != standards.Unknown && f.Standard != std {
			continue
		}
		if strings.Contains(strings.ToLower(f.Path), q) ||
			strings.Contains(strings.ToLower(f.Name), q) ||
			strings.Contains(strings.ToLower(f.Description), q) {
			out = append(out, f)
		}
	}
	return out
}

// ListTopLevel returns the entries that have no catalogued ancestor: segments for HL7,
// resources for FHIR, element groups for NCPDP.
func (c *MemoryCatalog) ListTopLevel(std standards.Standard) []FieldMetadata {
	var out []FieldMetadata
	for _, f := range c.fields {
		if std != standards.Unknown && f.Standard != std {
			continue
		}
		if !c.hasCataloguedAncestor(f) {
			out = append(out, f)
		}
	}
	return out
}

// ListChildren returns the nearest catalogued descendants of path in every standard.
// Intermediate elements that are not catalogued are skipped over.
func (c *MemoryCatalog) ListChildren(path string) []FieldMetadata {
	parent := normalizePath(path)
	var out []FieldMetadata
	for _, f := range c.fields {
		key := normalizePath(f.Path)
		if !strings.HasPrefix(key, parent+".") {
			continue
		}
		nearest := true
		for _, ancestor := range ancestors(key) {
			if len(ancestor) <= len(parent) {
				break
			}
			if _, ok := c.index[f.Standard][ancestor]; ok {
				nearest = false
				break
			}
		}
		if nearest {
			out = append(out, f)
		}
	}
	return out
}

// IsPHI reports whether the field or any catalogued ancestor is flagged as protected
// health information.
func (c *MemoryCatalog) IsPHI(path string, std standards.Standard) bool {
	key := normalizePath(path)
	candidates := append([]string{key}, ancestors(key)...)
	for _, s := range searchOrder(std) {
		for _, candidate := range candidates {
			if i, ok := c.index[s][candidate]; ok && c.fields[i].PHI {
				return true
			}
		}
	}
	return false
}

// All returns every entry in catalog order.
func (c *MemoryCatalog) All() []FieldMetadata {
	out := make([]FieldMetadata, len(c.fields))
	copy(out, c.fields)
	return out
}

func (c *MemoryCatalog) hasCataloguedAncestor(f FieldMetadata) bool {
	for _, ancestor := range ancestors(normalizePath(f.Path)) {
		if _, ok := c.index[f.Standard][ancestor]; ok {
			return true
		}
	}
	return false
}

func searchOrder(std standards.Standard) []standards.Standard {
	if std != standards.Unknown {
		return []standards.Standard{std}
	}
	return standards.All
}

// normalizePath lowercases a path and accepts the HL7 dash notation ("PID-3").
func normalizePath(path string) string {
	p := strings.ToLower(strings.TrimSpace(path))
	if len(p) > 4 && p[3] == '-' {
		p = p[:3] + "." + p[4:]
	}
	return p
}

// ancestors lists the proper prefixes of a dotted path, nearest first.
func ancestors(path string) []string {
	var out []string
	for i := len(path) - 1; i > 0; i-- {
		if path[i] == '.' {
			out = append(out, path[:i])
		}
	}
	return out
}

func lessField(a, b FieldMetadata) bool {
	if a.Standard != b.Standard {
		return standardRank(a.Standard) < standardRank(b.Standard)
	}
	return ComparePaths(a.Path, b.Path) < 0
}

func standardRank(std standards.Standard) int {
	for i, s := range standards.All {
		if s == std {
			return i
		}
	}
	return len(standards.All)
}

// ComparePaths orders dotted paths segment by segment, comparing numeric segments by
// value so PID.9 sorts before PID.10.
func ComparePaths(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aErr := strconv.Atoi(as[i])
		bn, bErr := strconv.Atoi(bs[i])
		if aErr == nil && bErr == nil {
			if an < bn {
				return -1
			}
			return 1
		}
		if as[i] < bs[i] {
			return -1
		}
		return 1
	}
	return len(as) - len(bs)
}
