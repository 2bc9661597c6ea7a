package semantic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/observability/metrics"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
)

const maxSuggestions = 5

var (
	ErrNotApplicable      = errors.New("semantic path not applicable")
	ErrInvalidPath        = errors.New("invalid semantic path")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// ResolutionError reports a well-formed path with no mapping for the requested standard
// and message type. Suggestions lists nearby paths that do resolve there.
type ResolutionError struct {
	Path        string
	MessageType string
	Standard    standards.Standard
	Suggestions []string
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("semantic path %s is not mapped for %s %s", e.Path, e.Standard, e.MessageType)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return ErrNotApplicable
}

// IsNotApplicable reports whether err is a ResolutionError and returns it.
func IsNotApplicable(err error) (*ResolutionError, bool) {
	var target *ResolutionError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CanonicalPath lowercases a semantic path and checks it is a dotted list of at least two
// identifiers (category.attribute).
func CanonicalPath(path string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(path))
	parts := strings.Split(p, ".")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: %q is not category.attribute", ErrInvalidPath, path)
	}
	for _, part := range parts {
		if !isLowerIdent(part) {
			return "", fmt.Errorf("%w: %q has an invalid segment %q", ErrInvalidPath, path, part)
		}
	}
	return p, nil
}

// Resolver maps semantic paths to concrete field paths using an injected Table.
type Resolver struct {
	table *Table
}

func NewResolver(table *Table) *Resolver {
	return &Resolver{table: table}
}

func (r *Resolver) Table() *Table {
	return r.table
}

// Resolve returns the concrete field path of a semantic path for a message type. An
// empty std resolves against the standard implied by the message type.
func (r *Resolver) Resolve(ctx context.Context, path, messageType string, std standards.Standard) (string, error) {
	field, err := r.resolve(ctx, path, messageType, std)
	metrics.ObserveResolution(err == nil)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"path":         path,
			"message_type": messageType,
			"standard":     std.String(),
		}).WithError(err).Debug("Semantic path not resolved")
	}
	return field, err
}

func (r *Resolver) resolve(ctx context.Context, path, messageType string, std standards.Standard) (string, error) {
	canonical, err := CanonicalPath(path)
	if err != nil {
		return "", err
	}
	effective, err := effectiveStandard(messageType, std)
	if err != nil {
		return "", err
	}

	if entry, ok := r.table.Lookup(canonical); ok {
		if m, ok := entry.MappingFor(effective, messageType); ok {
			return m.Field, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", &ResolutionError{
		Path:        canonical,
		MessageType: standards.CanonicalMessageType(messageType),
		Standard:    effective,
		Suggestions: r.suggest(canonical, effective, messageType),
	}
}

// Validate reports whether Resolve would succeed.
func (r *Resolver) Validate(path, messageType string, std standards.Standard) bool {
	_, err := r.resolve(context.Background(), path, messageType, std)
	return err == nil
}

// ListAvailable returns every semantic path that resolves for the message type, keyed by
// path with its description.
func (r *Resolver) ListAvailable(messageType string, std standards.Standard) map[string]string {
	out := make(map[string]string)
	effective, err := effectiveStandard(messageType, std)
	if err != nil {
		return out
	}
	for _, p := range r.table.paths {
		if _, ok := p.MappingFor(effective, messageType); ok {
			out[p.Path] = p.Description
		}
	}
	return out
}

// Describe returns the table entry of a path.
func (r *Resolver) Describe(path string) (Path, error) {
	canonical, err := CanonicalPath(path)
	if err != nil {
		return Path{}, err
	}
	p, ok := r.table.Lookup(canonical)
	if !ok {
		return Path{}, &ResolutionError{Path: canonical, Suggestions: r.suggest(canonical, standards.Unknown, "")}
	}
	return p, nil
}

type suggestion struct {
	path  string
	score float64
}

// suggest ranks the paths that resolve for (std, messageType) by closeness to path. A
// zero std considers every table entry.
func (r *Resolver) suggest(path string, std standards.Standard, messageType string) []string {
	category, attribute := splitPath(path)
	var ranked []suggestion
	for _, p := range r.table.paths {
		if p.Path == path {
			continue
		}
		if std != standards.Unknown {
			if _, ok := p.MappingFor(std, messageType); !ok {
				continue
			}
		}
		candidateCategory, candidateAttribute := splitPath(p.Path)
		sameCategory := candidateCategory == category
		overlap := attribute != "" && (strings.Contains(candidateAttribute, attribute) || strings.Contains(attribute, candidateAttribute))
		similarity := jaroWinkler(path, p.Path)
		if !sameCategory && !overlap && similarity < 0.85 {
			continue
		}

		score := similarity
		if sameCategory {
			score += 0.5
		}
		if overlap {
			score += 0.5
		}
		ranked = append(ranked, suggestion{path: p.Path, score: score})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].path < ranked[j].path
	})
	if len(ranked) > maxSuggestions {
		ranked = ranked[:maxSuggestions]
	}
	out := make([]string, len(ranked))
	for i, s := range ranked {
		out[i] = s.path
	}
	return out
}

func effectiveStandard(messageType string, std standards.Standard) (standards.Standard, error) {
	if std != standards.Unknown {
		if std.Family() == standards.FamilyUnknown {
			return standards.Unknown, fmt.Errorf("%w: %s", standards.ErrUnknownStandard, std)
		}
		return std, nil
	}
	effective := standards.ForMessageType(messageType)
	if effective == standards.Unknown {
		return standards.Unknown, fmt.Errorf("%w: %q", ErrUnknownMessageType, messageType)
	}
	return effective, nil
}

func splitPath(path string) (string, string) {
	if i := strings.Index(path, "."); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

func isLowerIdent(s string) bool {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if !(c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}
