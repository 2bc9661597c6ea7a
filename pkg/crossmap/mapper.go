package crossmap

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/synaptica-ai/vendorshape/pkg/catalog"
	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/semantic"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
)

var (
	ErrNotSupported   = errors.New("not supported")
	ErrInvalidPattern = errors.New("invalid field pattern")
)

type MappingType string

const (
	MappingDirect     MappingType = "direct"
	MappingConceptual MappingType = "conceptual"
	MappingFiltered   MappingType = "filtered"
	MappingNone       MappingType = "none"
)

type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
)

type PatternType int

const (
	PatternWildcard PatternType = iota
	PatternRegex
	PatternFuzzy
)

func (p PatternType) String() string {
	switch p {
	case PatternWildcard:
		return "wildcard"
	case PatternRegex:
		return "regex"
	case PatternFuzzy:
		return "fuzzy"
	default:
		return fmt.Sprintf("PatternType(%d)", int(p))
	}
}

// ParsePatternType accepts the names returned by String.
func ParsePatternType(s string) (PatternType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wildcard":
		return PatternWildcard, nil
	case "regex", "regexp":
		return PatternRegex, nil
	case "fuzzy":
		return PatternFuzzy, nil
	}
	return 0, fmt.Errorf("%w: unknown pattern type %q", ErrInvalidPattern, s)
}

// Confidence assigned to catalog cross-references by match grade, and to semantic-group
// fallbacks.
const (
	ConfidenceExact       = 1.0
	ConfidenceApproximate = 0.8
	ConfidencePartial     = 0.6
	ConfidenceSemantic    = 0.8
)

const semanticNote = "semantic mapping, not exact"

type FieldLocation struct {
	Standard    standards.Standard `json:"standard"`
	Path        string             `json:"path"`
	Name        string             `json:"name,omitempty"`
	Description string             `json:"description,omitempty"`
	MessageType string             `json:"messageType,omitempty"`
	DataType    string             `json:"dataType,omitempty"`
	Usage       catalog.Usage      `json:"usage,omitempty"`
	Examples    []string           `json:"examples,omitempty"`
}

type MappedField struct {
	FieldLocation
	MappingType MappingType `json:"mappingType"`
	Confidence  float64     `json:"confidence"`
	Notes       string      `json:"notes,omitempty"`
}

type CrossStandardMapping struct {
	SourceField  FieldLocation `json:"sourceField"`
	TargetFields []MappedField `json:"targetFields"`
	Quality      Quality       `json:"quality"`
}

type FieldSearchResult struct {
	Query      string          `json:"query"`
	Fields     []FieldLocation `json:"fields"`
	TotalCount int             `json:"totalCount"`
}

// Catalog is the reference lookup the mapper needs: the read-only catalog contract plus
// a full listing for pattern search.
type Catalog interface {
	catalog.Catalog
	All() []catalog.FieldMetadata
}

// Mapper finds concrete fields and their equivalents in other standards.
type Mapper struct {
	catalog Catalog
	table   *semantic.Table
}

func NewMapper(cat Catalog, table *semantic.Table) *Mapper {
	return &Mapper{catalog: cat, table: table}
}

// QualityFor buckets the average confidence of a set of mapped fields.
func QualityFor(targets []MappedField) Quality {
	if len(targets) == 0 {
		return QualityPoor
	}
	var sum float64
	for _, t := range targets {
		sum += t.Confidence
	}
	avg := sum / float64(len(targets))
	switch {
	case avg >= 0.9:
		return QualityExcellent
	case avg >= 0.7:
		return QualityGood
	case avg >= 0.5:
		return QualityFair
	default:
		return QualityPoor
	}
}

// FindBySemanticPath lists the concrete fields a semantic path maps to in every
// standard. An unknown but well-formed path yields an empty result.
func (m *Mapper) FindBySemanticPath(path string) (*FieldSearchResult, error) {
	canonical, err := semantic.CanonicalPath(path)
	if err != nil {
		return nil, err
	}
	result := &FieldSearchResult{Query: canonical}
	if entry, ok := m.table.Lookup(canonical); ok {
		result.Fields = m.locations(entry)
	}
	result.TotalCount = len(result.Fields)
	return result, nil
}

// FindByPattern matches catalog field paths against a wildcard ("PID.*", "PV1.?") or a
// regular expression. Both are compiled to the same case-insensitive, anchored matcher.
// An empty std searches every standard.
func (m *Mapper) FindByPattern(pattern string, kind PatternType, std standards.Standard) (*FieldSearchResult, error) {
	re, err := compilePattern(pattern, kind)
	if err != nil {
		return nil, err
	}
	result := &FieldSearchResult{Query: pattern}
	for _, f := range m.catalog.All() {
		if std != standards.Unknown && f.Standard != std {
			continue
		}
		if re.MatchString(f.Path) {
			result.Fields = append(result.Fields, fromMetadata(f))
		}
	}
	result.TotalCount = len(result.Fields)
	return result, nil
}

func compilePattern(pattern string, kind PatternType) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	}
	var expr string
	switch kind {
	case PatternWildcard:
		var b strings.Builder
		for _, r := range pattern {
			switch r {
			case '*':
				b.WriteString(".*")
			case '?':
				b.WriteString(".")
			default:
				b.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		expr = b.String()
	case PatternRegex:
		expr = pattern
	case PatternFuzzy:
		return nil, fmt.Errorf("%w: fuzzy pattern matching", ErrNotSupported)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidPattern, kind)
	}
	re, err := regexp.Compile("(?i)^(?:" + expr + ")$")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	return re, nil
}

// MapAcrossStandards finds the equivalents of a concrete field in the other standards.
// Catalog cross-references take precedence; without them the curated semantic groups
// that contain the field are used. An empty std looks the field up in every standard.
func (m *Mapper) MapAcrossStandards(fieldPath string, std standards.Standard) (*CrossStandardMapping, error) {
	if strings.TrimSpace(fieldPath) == "" {
		return nil, fmt.Errorf("%w: empty field path", catalog.ErrNotFound)
	}

	mapping := &CrossStandardMapping{SourceField: FieldLocation{Standard: std, Path: strings.TrimSpace(fieldPath)}}
	meta, err := m.catalog.Lookup(fieldPath, std)
	switch {
	case err == nil:
		mapping.SourceField = fromMetadata(meta)
		mapping.TargetFields = m.fromCrossReferences(meta)
	case errors.Is(err, catalog.ErrNotFound):
	default:
		return nil, err
	}

	if len(mapping.TargetFields) == 0 {
		mapping.TargetFields = m.fromSemanticGroups(&mapping.SourceField)
	}
	mapping.Quality = QualityFor(mapping.TargetFields)

	logger.WithFields(map[string]interface{}{
		"field":    mapping.SourceField.Path,
		"standard": mapping.SourceField.Standard.String(),
		"targets":  len(mapping.TargetFields),
		"quality":  mapping.Quality,
	}).Debug("Mapped field across standards")
	return mapping, nil
}

func (m *Mapper) fromCrossReferences(meta catalog.FieldMetadata) []MappedField {
	var out []MappedField
	for _, ref := range meta.CrossReferences {
		confidence := ConfidencePartial
		switch ref.Match {
		case catalog.MatchExact:
			confidence = ConfidenceExact
		case catalog.MatchApproximate:
			confidence = ConfidenceApproximate
		}
		notes := ref.Notes
		if notes == "" {
			notes = fmt.Sprintf("catalog cross-reference (%s match)", ref.Match)
		}
		out = append(out, MappedField{
			FieldLocation: m.location(ref.Standard, ref.Path, ""),
			MappingType:   crossReferenceType(ref),
			Confidence:    confidence,
			Notes:         notes,
		})
	}
	return out
}

func crossReferenceType(ref catalog.CrossReference) MappingType {
	switch MappingType(strings.ToLower(ref.Type)) {
	case MappingDirect:
		return MappingDirect
	case MappingConceptual:
		return MappingConceptual
	case MappingFiltered:
		return MappingFiltered
	}
	if ref.Match == catalog.MatchExact {
		return MappingDirect
	}
	return MappingConceptual
}

// fromSemanticGroups maps through the semantic paths that contain the source field. When
// the source standard is unknown the first standard with a group wins and is recorded on
// the source.
func (m *Mapper) fromSemanticGroups(source *FieldLocation) []MappedField {
	candidates := []standards.Standard{source.Standard}
	if source.Standard == standards.Unknown {
		candidates = standards.All
	}

	for _, std := range candidates {
		groups := m.table.ForField(std, hl7DotNotation(source.Path))
		if len(groups) == 0 {
			continue
		}
		source.Standard = std

		var out []MappedField
		seen := make(map[string]struct{})
		for _, group := range groups {
			for _, target := range group.Mappings {
				if target.Standard == std {
					continue
				}
				key := string(target.Standard) + "|" + strings.ToLower(target.Field)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, MappedField{
					FieldLocation: m.location(target.Standard, target.Field, strings.Join(target.MessageTypes, ",")),
					MappingType:   MappingConceptual,
					Confidence:    ConfidenceSemantic,
					Notes:         fmt.Sprintf("%s (%s)", semanticNote, group.Path),
				})
			}
		}
		return out
	}
	return nil
}

// FindBySemantic searches semantic path names and descriptions for every word of a free
// text query and returns the concrete fields of the matches. Results are ordered by
// category: clinical (medication, encounter, provider), then demographic (patient), then
// administrative (message, administrative).
func (m *Mapper) FindBySemantic(ctx context.Context, query string) (*FieldSearchResult, error) {
	words := strings.Fields(strings.ToLower(query))
	result := &FieldSearchResult{Query: query}
	if len(words) == 0 {
		return result, nil
	}

	var matched []semantic.Path
	for _, p := range m.table.Paths() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		haystack := strings.ToLower(strings.ReplaceAll(p.Path, "_", " ") + " " + p.Description)
		if containsAll(haystack, words) {
			matched = append(matched, p)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return categoryRank(matched[i].Category) < categoryRank(matched[j].Category)
	})

	for _, p := range matched {
		result.Fields = append(result.Fields, m.locations(p)...)
	}
	result.TotalCount = len(result.Fields)
	return result, nil
}

func (m *Mapper) locations(p semantic.Path) []FieldLocation {
	out := make([]FieldLocation, 0, len(p.Mappings))
	for _, mapping := range p.Mappings {
		loc := m.location(mapping.Standard, mapping.Field, strings.Join(mapping.MessageTypes, ","))
		if loc.Description == "" {
			loc.Description = p.Description
		}
		out = append(out, loc)
	}
	return out
}

// location describes a concrete field, enriched from the catalog when it is catalogued.
func (m *Mapper) location(std standards.Standard, path, messageType string) FieldLocation {
	loc := FieldLocation{Standard: std, Path: path, MessageType: messageType}
	if meta, err := m.catalog.Lookup(path, std); err == nil {
		loc = fromMetadata(meta)
		loc.MessageType = messageType
	}
	return loc
}

func fromMetadata(f catalog.FieldMetadata) FieldLocation {
	return FieldLocation{
		Standard:    f.Standard,
		Path:        f.Path,
		Name:        f.Name,
		Description: f.Description,
		DataType:    f.DataType,
		Usage:       f.Usage,
		Examples:    f.Examples,
	}
}

var categoryOrder = []semantic.Category{
	semantic.CategoryMedication,
	semantic.CategoryEncounter,
	semantic.CategoryProvider,
	semantic.CategoryPatient,
	semantic.CategoryMessage,
	semantic.CategoryAdministrative,
}

func categoryRank(c semantic.Category) int {
	for i, candidate := range categoryOrder {
		if candidate == c {
			return i
		}
	}
	return len(categoryOrder)
}

func containsAll(haystack string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(haystack, w) {
			return false
		}
	}
	return true
}

// hl7DotNotation accepts "PID-3" for "PID.3".
func hl7DotNotation(path string) string {
	if len(path) > 4 && path[3] == '-' {
		return path[:3] + "." + path[4:]
	}
	return path
}
