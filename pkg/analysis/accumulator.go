package analysis

import (
	"fmt"
	"sort"

	"github.com/synaptica-ai/vendorshape/pkg/catalog"
	"github.com/synaptica-ai/vendorshape/pkg/dlp"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

// accumulator holds one worker's partial counts. Only its owning worker writes to it;
// accumulators are combined in a single pass after all workers finish.
type accumulator struct {
	processed int
	parsed    int
	warnings  []ParseWarning
	standards map[standards.Standard]int
	types     map[string]*typeStats
	groups    map[string]*groupStats
}

type typeStats struct {
	count  int
	groups map[string]int
}

type groupStats struct {
	messages    int
	repetitions map[int]int
	fields      map[string]*fieldStats
}

type fieldStats struct {
	present int
	values  map[string]int
	kinds   map[string]int
}

func newAccumulator() *accumulator {
	return &accumulator{
		standards: make(map[standards.Standard]int),
		types:     make(map[string]*typeStats),
		groups:    make(map[string]*groupStats),
	}
}

// add records one parsed message. A field counts once per message; its value is taken
// from the first group occurrence that carries it.
func (acc *accumulator) add(msg *standards.Message) {
	acc.parsed++
	acc.standards[msg.Standard]++

	ts, ok := acc.types[msg.MessageType]
	if !ok {
		ts = &typeStats{groups: make(map[string]int)}
		acc.types[msg.MessageType] = ts
	}
	ts.count++

	occurrences := make(map[string]int)
	seen := make(map[string]map[string]struct{})
	for _, g := range msg.Groups {
		occurrences[g.Name]++
		gs := acc.group(g.Name)
		if seen[g.Name] == nil {
			seen[g.Name] = make(map[string]struct{})
		}
		for field, value := range g.Fields {
			if _, dup := seen[g.Name][field]; dup {
				continue
			}
			seen[g.Name][field] = struct{}{}
			fs := gs.field(field)
			fs.present++
			fs.values[value]++
			fs.kinds[guessDataType(value)]++
		}
	}
	for name, n := range occurrences {
		gs := acc.groups[name]
		gs.messages++
		gs.repetitions[n]++
		ts.groups[name]++
	}
}

func (acc *accumulator) group(name string) *groupStats {
	gs, ok := acc.groups[name]
	if !ok {
		gs = &groupStats{repetitions: make(map[int]int), fields: make(map[string]*fieldStats)}
		acc.groups[name] = gs
	}
	return gs
}

func (gs *groupStats) field(name string) *fieldStats {
	fs, ok := gs.fields[name]
	if !ok {
		fs = &fieldStats{values: make(map[string]int), kinds: make(map[string]int)}
		gs.fields[name] = fs
	}
	return fs
}

func (acc *accumulator) merge(other *accumulator) {
	acc.processed += other.processed
	acc.parsed += other.parsed
	acc.warnings = append(acc.warnings, other.warnings...)
	for std, n := range other.standards {
		acc.standards[std] += n
	}
	for mt, ots := range other.types {
		ts, ok := acc.types[mt]
		if !ok {
			ts = &typeStats{groups: make(map[string]int)}
			acc.types[mt] = ts
		}
		ts.count += ots.count
		for g, n := range ots.groups {
			ts.groups[g] += n
		}
	}
	for name, ogs := range other.groups {
		gs := acc.group(name)
		gs.messages += ogs.messages
		for reps, n := range ogs.repetitions {
			gs.repetitions[reps] += n
		}
		for fname, ofs := range ogs.fields {
			fs := gs.field(fname)
			fs.present += ofs.present
			for v, n := range ofs.values {
				fs.values[v] += n
			}
			for k, n := range ofs.kinds {
				fs.kinds[k] += n
			}
		}
	}
}

func (acc *accumulator) dominantStandard() standards.Standard {
	best, bestCount := standards.Unknown, -1
	for _, std := range standards.All {
		if n := acc.standards[std]; n > bestCount {
			best, bestCount = std, n
		}
	}
	return best
}

func (acc *accumulator) buildPatterns(isPHI func(string, standards.Standard) bool, detector *dlp.Detector, std standards.Standard) vendorconfig.FieldPatterns {
	total := float64(acc.parsed)
	patterns := make(vendorconfig.FieldPatterns, len(acc.groups))
	for name, gs := range acc.groups {
		fields := make(map[string]vendorconfig.FieldPattern, len(gs.fields))
		for fname, fs := range gs.fields {
			phi := isPHI(name+"."+fname, std)
			ranked := rankValues(fs.values)
			fp := vendorconfig.FieldPattern{
				Frequency:     float64(fs.present) / total,
				DataType:      topKey(fs.kinds),
				PresentCount:  fs.present,
				DistinctCount: len(fs.values),
				SampleValues:  maskedSamples(ranked, phi, detector),
			}
			if len(ranked) > 0 {
				fp.DominantValue = detector.MaskValue(ranked[0], phi)
				fp.DominantRatio = float64(fs.values[ranked[0]]) / float64(fs.present)
			}
			fields[fname] = fp
		}
		patterns[name] = vendorconfig.GroupPattern{
			Frequency:  float64(gs.messages) / total,
			Repetition: repetition(gs.repetitions, acc.parsed-gs.messages),
			Fields:     fields,
		}
	}
	return patterns
}

// buildMessagePatterns orders message types by count, then name. Variants list the
// groups present in only some messages of the type.
func (acc *accumulator) buildMessagePatterns() []vendorconfig.MessagePattern {
	out := make([]vendorconfig.MessagePattern, 0, len(acc.types))
	for mt, ts := range acc.types {
		mp := vendorconfig.MessagePattern{
			MessageType: mt,
			Count:       ts.count,
			Frequency:   float64(ts.count) / float64(acc.parsed),
		}
		names := make([]string, 0, len(ts.groups))
		for g := range ts.groups {
			names = append(names, g)
		}
		sort.Strings(names)
		for _, g := range names {
			if n := ts.groups[g]; n < ts.count {
				mp.Variants = append(mp.Variants, fmt.Sprintf("%s present in %d of %d messages", g, n, ts.count))
			}
		}
		out = append(out, mp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].MessageType < out[j].MessageType
	})
	return out
}

// repetition derives min/max/typical occurrences per message; absent is zero occurrences.
func repetition(hist map[int]int, absent int) vendorconfig.Repetition {
	counts := make(map[int]int, len(hist)+1)
	for k, v := range hist {
		counts[k] = v
	}
	if absent > 0 {
		counts[0] += absent
	}
	r := vendorconfig.Repetition{Min: -1}
	typicalCount := -1
	for reps, n := range counts {
		if r.Min < 0 || reps < r.Min {
			r.Min = reps
		}
		if reps > r.Max {
			r.Max = reps
		}
		if n > typicalCount || (n == typicalCount && reps < r.Typical) {
			r.Typical, typicalCount = reps, n
		}
	}
	if r.Min < 0 {
		r.Min = 0
	}
	return r
}

// rankValues orders values by descending count, ties broken lexically.
func rankValues(values map[string]int) []string {
	ranked := make([]string, 0, len(values))
	for v := range values {
		ranked = append(ranked, v)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if values[ranked[i]] != values[ranked[j]] {
			return values[ranked[i]] > values[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	return ranked
}

func maskedSamples(ranked []string, phi bool, detector *dlp.Detector) []string {
	out := make([]string, 0, vendorconfig.MaxSampleValues)
	seen := make(map[string]struct{})
	for _, v := range ranked {
		if len(out) == vendorconfig.MaxSampleValues {
			break
		}
		masked := detector.MaskValue(v, phi)
		if _, dup := seen[masked]; dup {
			continue
		}
		seen[masked] = struct{}{}
		out = append(out, masked)
	}
	return out
}

func topKey(counts map[string]int) string {
	best, bestCount := "", -1
	for k, n := range counts {
		if n > bestCount || (n == bestCount && k < best) {
			best, bestCount = k, n
		}
	}
	return best
}

var _ PHIChecker = (*catalog.MemoryCatalog)(nil)
