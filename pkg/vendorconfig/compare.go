package vendorconfig

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/synaptica-ai/vendorshape/pkg/catalog"
)

type DifferenceType string

const (
	Added    DifferenceType = "Added"
	Removed  DifferenceType = "Removed"
	Modified DifferenceType = "Modified"
)

type Difference struct {
	Path        string         `json:"path"`
	Type        DifferenceType `json:"type"`
	Value1      string         `json:"value1,omitempty"`
	Value2      string         `json:"value2,omitempty"`
	Description string         `json:"description"`
}

type ComparisonResult struct {
	Left         Address      `json:"left"`
	Right        Address      `json:"right"`
	Differences  []Difference `json:"differences"`
	AreIdentical bool         `json:"areIdentical"`
	Summary      string       `json:"summary"`
}

// CompareOptions.Tolerance is the largest frequency change still treated as equal. The
// zero value reports every numeric difference.
type CompareOptions struct {
	Tolerance float64
}

// Compare walks the union of group and field keys of both configurations. Entries
// present only on the right are Added, only on the left Removed, and on both sides with
// a different frequency, data type or value set Modified.
func Compare(left, right *VendorConfiguration, opts CompareOptions) *ComparisonResult {
	result := &ComparisonResult{Left: left.Address, Right: right.Address}

	for _, group := range unionKeys(left.FieldPatterns, right.FieldPatterns) {
		lg, inLeft := left.FieldPatterns[group]
		rg, inRight := right.FieldPatterns[group]
		switch {
		case inLeft && !inRight:
			result.Differences = append(result.Differences, groupPresence(group, Removed, lg)...)
			continue
		case inRight && !inLeft:
			result.Differences = append(result.Differences, groupPresence(group, Added, rg)...)
			continue
		}

		if changed(lg.Frequency, rg.Frequency, opts.Tolerance) {
			result.Differences = append(result.Differences, Difference{
				Path:        group,
				Type:        Modified,
				Value1:      formatFrequency(lg.Frequency),
				Value2:      formatFrequency(rg.Frequency),
				Description: fmt.Sprintf("group frequency changed from %s to %s", formatFrequency(lg.Frequency), formatFrequency(rg.Frequency)),
			})
		}
		for _, field := range unionFieldKeys(lg.Fields, rg.Fields) {
			path := group + "." + field
			lf, inLeft := lg.Fields[field]
			rf, inRight := rg.Fields[field]
			switch {
			case inLeft && !inRight:
				result.Differences = append(result.Differences, fieldPresence(path, Removed, lf))
			case inRight && !inLeft:
				result.Differences = append(result.Differences, fieldPresence(path, Added, rf))
			default:
				if d, ok := compareField(path, lf, rf, opts.Tolerance); ok {
					result.Differences = append(result.Differences, d)
				}
			}
		}
	}

	sort.SliceStable(result.Differences, func(i, j int) bool {
		return catalog.ComparePaths(result.Differences[i].Path, result.Differences[j].Path) < 0
	})
	result.AreIdentical = len(result.Differences) == 0
	result.Summary = summarize(result.Differences)
	return result
}

func groupPresence(group string, kind DifferenceType, g GroupPattern) []Difference {
	d := Difference{Path: group, Type: kind}
	if kind == Added {
		d.Value2 = formatFrequency(g.Frequency)
		d.Description = fmt.Sprintf("group %s only present on the right", group)
	} else {
		d.Value1 = formatFrequency(g.Frequency)
		d.Description = fmt.Sprintf("group %s only present on the left", group)
	}
	out := []Difference{d}
	fields := make([]string, 0, len(g.Fields))
	for f := range g.Fields {
		fields = append(fields, f)
	}
	sortFieldKeys(fields)
	for _, f := range fields {
		out = append(out, fieldPresence(group+"."+f, kind, g.Fields[f]))
	}
	return out
}

func fieldPresence(path string, kind DifferenceType, f FieldPattern) Difference {
	d := Difference{Path: path, Type: kind}
	if kind == Added {
		d.Value2 = formatFrequency(f.Frequency)
		d.Description = fmt.Sprintf("field %s only populated on the right", path)
	} else {
		d.Value1 = formatFrequency(f.Frequency)
		d.Description = fmt.Sprintf("field %s only populated on the left", path)
	}
	return d
}

func compareField(path string, l, r FieldPattern, tolerance float64) (Difference, bool) {
	var notes []string
	if changed(l.Frequency, r.Frequency, tolerance) {
		notes = append(notes, fmt.Sprintf("frequency %s -> %s", formatFrequency(l.Frequency), formatFrequency(r.Frequency)))
	}
	if l.DataType != r.DataType {
		notes = append(notes, fmt.Sprintf("data type %s -> %s", l.DataType, r.DataType))
	}
	if !sameValues(l.SampleValues, r.SampleValues) {
		notes = append(notes, "sample values differ")
	}
	if len(notes) == 0 {
		return Difference{}, false
	}
	return Difference{
		Path:        path,
		Type:        Modified,
		Value1:      formatFrequency(l.Frequency),
		Value2:      formatFrequency(r.Frequency),
		Description: strings.Join(notes, "; "),
	}, true
}

func changed(a, b, tolerance float64) bool {
	return math.Abs(a-b) > tolerance
}

func sameValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func summarize(diffs []Difference) string {
	if len(diffs) == 0 {
		return "configurations are identical"
	}
	counts := map[DifferenceType]int{}
	for _, d := range diffs {
		counts[d.Type]++
	}
	return fmt.Sprintf("%d differences: %d added, %d removed, %d modified",
		len(diffs), counts[Added], counts[Removed], counts[Modified])
}

func formatFrequency(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func unionKeys(a, b FieldPatterns) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unionFieldKeys(a, b map[string]FieldPattern) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sortFieldKeys(keys)
	return keys
}

func sortFieldKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		return catalog.ComparePaths(keys[i], keys[j]) < 0
	})
}
