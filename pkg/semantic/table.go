package semantic

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/synaptica-ai/vendorshape/pkg/standards"
)

//go:embed paths.yaml
var defaultTableYAML []byte

type Category string

const (
	CategoryPatient        Category = "patient"
	CategoryEncounter      Category = "encounter"
	CategoryProvider       Category = "provider"
	CategoryMedication     Category = "medication"
	CategoryMessage        Category = "message"
	CategoryAdministrative Category = "administrative"
)

var categories = map[Category]struct{}{
	CategoryPatient:        {},
	CategoryEncounter:      {},
	CategoryProvider:       {},
	CategoryMedication:     {},
	CategoryMessage:        {},
	CategoryAdministrative: {},
}

// Mapping binds a semantic path to a concrete field of one standard. An empty
// MessageTypes list applies to every message type of the standard; entries may be full
// types ("ADT^A01") or HL7 message codes ("ADT").
type Mapping struct {
	Standard     standards.Standard `json:"standard"`
	Field        string             `json:"field"`
	MessageTypes []string           `json:"messageTypes,omitempty"`
}

// Applies reports whether the mapping covers a message type.
func (m Mapping) Applies(messageType string) bool {
	if len(m.MessageTypes) == 0 {
		return true
	}
	canonical := standards.CanonicalMessageType(messageType)
	code := standards.MessageCode(canonical)
	for _, mt := range m.MessageTypes {
		if strings.EqualFold(mt, canonical) || strings.EqualFold(mt, code) {
			return true
		}
	}
	return false
}

func (m Mapping) explicitFor(messageType string) bool {
	return len(m.MessageTypes) > 0 && m.Applies(messageType)
}

type Path struct {
	Path        string    `json:"path"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	Mappings    []Mapping `json:"mappings"`
}

// MappingFor picks the mapping used for (std, messageType). A mapping that names the
// message type explicitly wins over a standard-wide one.
func (p Path) MappingFor(std standards.Standard, messageType string) (Mapping, bool) {
	var fallback *Mapping
	for i := range p.Mappings {
		m := p.Mappings[i]
		if m.Standard != std || !m.Applies(messageType) {
			continue
		}
		if m.explicitFor(messageType) {
			return m, true
		}
		if fallback == nil {
			fallback = &p.Mappings[i]
		}
	}
	if fallback == nil {
		return Mapping{}, false
	}
	return *fallback, true
}

type tableDocument struct {
	Version string `yaml:"version"`
	Paths   []struct {
		Path        string `yaml:"path"`
		Category    string `yaml:"category"`
		Description string `yaml:"description"`
		Mappings    []struct {
			Standard     string   `yaml:"standard"`
			Field        string   `yaml:"field"`
			MessageTypes []string `yaml:"messageTypes"`
		} `yaml:"mappings"`
	} `yaml:"paths"`
}

// Table is the curated semantic path vocabulary. It is loaded once and read-only.
type Table struct {
	version string
	paths   []Path
	index   map[string]int
}

// LoadTable reads a table file; an empty path yields the embedded default table.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read semantic paths: %w", err)
	}
	return ParseTable(content)
}

func ParseTable(content []byte) (*Table, error) {
	var doc tableDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse semantic paths: %w", err)
	}
	if len(doc.Paths) == 0 {
		return nil, fmt.Errorf("semantic path table empty")
	}

	t := &Table{version: doc.Version, index: make(map[string]int, len(doc.Paths))}
	for _, raw := range doc.Paths {
		canonical, err := CanonicalPath(raw.Path)
		if err != nil {
			return nil, err
		}
		category := Category(strings.ToLower(raw.Category))
		if _, ok := categories[category]; !ok {
			return nil, fmt.Errorf("semantic path %s: unknown category %q", canonical, raw.Category)
		}
		if !strings.HasPrefix(canonical, string(category)+".") {
			return nil, fmt.Errorf("semantic path %s: does not start with its category %s", canonical, category)
		}
		if _, dup := t.index[canonical]; dup {
			return nil, fmt.Errorf("semantic path %s: duplicate entry", canonical)
		}

		p := Path{Path: canonical, Description: raw.Description, Category: category}
		for _, m := range raw.Mappings {
			std, err := standards.ParseStandard(m.Standard)
			if err != nil {
				return nil, fmt.Errorf("semantic path %s: %w", canonical, err)
			}
			if strings.TrimSpace(m.Field) == "" {
				return nil, fmt.Errorf("semantic path %s: %s mapping without field", canonical, std)
			}
			p.Mappings = append(p.Mappings, Mapping{Standard: std, Field: strings.TrimSpace(m.Field), MessageTypes: m.MessageTypes})
		}
		t.index[canonical] = len(t.paths)
		t.paths = append(t.paths, p)
	}
	return t, nil
}

// DefaultTable returns the embedded table. It panics only if the embedded document is
// invalid.
func DefaultTable() *Table {
	t, err := ParseTable(defaultTableYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded semantic paths invalid: %v", err))
	}
	return t
}

func (t *Table) Version() string {
	return t.version
}

// Lookup finds a path by its canonical or case-variant spelling.
func (t *Table) Lookup(path string) (Path, bool) {
	i, ok := t.index[strings.ToLower(strings.TrimSpace(path))]
	if !ok {
		return Path{}, false
	}
	return t.paths[i], true
}

// Paths returns every entry sorted by path.
func (t *Table) Paths() []Path {
	out := make([]Path, len(t.paths))
	copy(out, t.paths)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ForField returns the semantic paths that map to a concrete field of std, in table
// order. Field paths compare case-insensitively.
func (t *Table) ForField(std standards.Standard, field string) []Path {
	var out []Path
	for _, p := range t.paths {
		for _, m := range p.Mappings {
			if m.Standard == std && strings.EqualFold(m.Field, field) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
