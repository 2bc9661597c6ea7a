package standards

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported message format")
	ErrMalformed         = errors.New("malformed message")
)

// RawSample is one message text plus an optional declared standard and message type.
type RawSample struct {
	Content     string
	Standard    Standard
	MessageType string
}

// Group is one occurrence of a segment (HL7) or resource / element group (FHIR, NCPDP)
// with the present, non-empty fields it carried.
type Group struct {
	Name   string
	Fields map[string]string
}

// Message is the field-level view of a parsed sample.
type Message struct {
	Standard    Standard
	MessageType string
	Groups      []Group
}

// Extractor turns a raw sample of one standard into a Message. Only field presence and
// values are extracted; full grammar validation is the job of the standard libraries.
type Extractor interface {
	Name() string
	Standard() Standard
	CanHandle(sample RawSample) bool
	Extract(sample RawSample) (*Message, error)
}

type Registry struct {
	extractors []Extractor
}

func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

// DefaultRegistry registers the built-in extractors. NCPDP is checked before FHIR so
// SCRIPT XML is not mistaken for a FHIR XML resource.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewHL7Extractor(),
		NewNCPDPExtractor(),
		NewFHIRExtractor(),
	)
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.extractors))
	for i, e := range r.extractors {
		names[i] = e.Name()
	}
	return names
}

// Extract selects the extractor for the declared standard, or the first one that
// recognises the content, and runs it.
func (r *Registry) Extract(sample RawSample) (*Message, error) {
	ex, err := r.selectExtractor(sample)
	if err != nil {
		return nil, err
	}
	msg, err := ex.Extract(sample)
	if err != nil {
		return nil, fmt.Errorf("%s extractor: %w", ex.Name(), err)
	}
	if msg.MessageType == "" {
		msg.MessageType = CanonicalMessageType(sample.MessageType)
	}
	return msg, nil
}

// Detect reports the standard and message type of raw content without keeping the
// extracted fields.
func (r *Registry) Detect(content string) (Standard, string, error) {
	msg, err := r.Extract(RawSample{Content: content})
	if err != nil {
		return Unknown, "", err
	}
	return msg.Standard, msg.MessageType, nil
}

func (r *Registry) selectExtractor(sample RawSample) (Extractor, error) {
	if sample.Standard != Unknown {
		for _, ex := range r.extractors {
			if ex.Standard() == sample.Standard {
				return ex, nil
			}
		}
		return nil, fmt.Errorf("%w: no extractor for standard %s", ErrUnsupportedFormat, sample.Standard)
	}
	for _, ex := range r.extractors {
		if ex.CanHandle(sample) {
			return ex, nil
		}
	}
	return nil, fmt.Errorf("%w: content not recognised", ErrUnsupportedFormat)
}

// isPresent treats whitespace and the HL7 explicit null ("") as absent.
func isPresent(value string) bool {
	v := strings.TrimSpace(value)
	return v != "" && v != `""`
}

func trimContent(content string) string {
	return strings.TrimSpace(strings.TrimPrefix(content, "\ufeff"))
}
