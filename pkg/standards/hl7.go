package standards

import (
	"fmt"
	"strconv"
	"strings"
)

// HL7Extractor reads pipe-delimited HL7 v2.x messages. Segment fields are keyed by their
// 1-based position ("3" for PID-3); MSH-1 is the field separator and MSH-2 the encoding
// characters, as in the standard.
type HL7Extractor struct{}

func NewHL7Extractor() *HL7Extractor {
	return &HL7Extractor{}
}

func (e *HL7Extractor) Name() string {
	return "hl7v2"
}

func (e *HL7Extractor) Standard() Standard {
	return HL7v2
}

func (e *HL7Extractor) CanHandle(sample RawSample) bool {
	if sample.Standard == HL7v2 {
		return true
	}
	return strings.HasPrefix(trimContent(sample.Content), "MSH")
}

func (e *HL7Extractor) Extract(sample RawSample) (*Message, error) {
	lines := splitSegments(trimContent(sample.Content))
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformed)
	}

	header := lines[0]
	if !strings.HasPrefix(header, "MSH") || len(header) < 8 {
		return nil, fmt.Errorf("%w: message must start with an MSH segment", ErrMalformed)
	}
	fieldSep := header[3:4]
	if isAlphaNum(fieldSep[0]) {
		return nil, fmt.Errorf("%w: invalid field separator %q", ErrMalformed, fieldSep)
	}
	headerParts := strings.Split(header, fieldSep)
	encoding := headerParts[1]
	if len(encoding) < 2 {
		return nil, fmt.Errorf("%w: invalid encoding characters %q", ErrMalformed, encoding)
	}
	componentSep := encoding[:1]

	msg := &Message{Standard: HL7v2}
	for _, line := range lines {
		if len(line) < 3 || !isSegmentID(line[:3]) {
			return nil, fmt.Errorf("%w: invalid segment %q", ErrMalformed, truncate(line, 12))
		}
		if len(line) > 3 && line[3:4] != fieldSep {
			return nil, fmt.Errorf("%w: segment %s not followed by field separator", ErrMalformed, line[:3])
		}
		msg.Groups = append(msg.Groups, hl7Group(line, fieldSep))
	}

	if typ, ok := msg.Groups[0].Fields["9"]; ok {
		components := strings.Split(typ, componentSep)
		mt := components[0]
		if len(components) > 1 && components[1] != "" {
			mt += "^" + components[1]
		}
		msg.MessageType = CanonicalMessageType(mt)
	}
	return msg, nil
}

func hl7Group(line, fieldSep string) Group {
	id := line[:3]
	group := Group{Name: id, Fields: make(map[string]string)}
	parts := strings.Split(line, fieldSep)
	if id == "MSH" {
		group.Fields["1"] = fieldSep
		for i := 1; i < len(parts); i++ {
			if isPresent(parts[i]) {
				group.Fields[strconv.Itoa(i+1)] = parts[i]
			}
		}
		return group
	}
	for i := 1; i < len(parts); i++ {
		if isPresent(parts[i]) {
			group.Fields[strconv.Itoa(i)] = parts[i]
		}
	}
	return group
}

// splitSegments accepts CR, LF and CRLF segment terminators.
func splitSegments(content string) []string {
	normalized := strings.ReplaceAll(content, "\r\n", "\r")
	normalized = strings.ReplaceAll(normalized, "\n", "\r")
	var out []string
	for _, line := range strings.Split(normalized, "\r") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func isSegmentID(s string) bool {
	if len(s) != 3 || s[0] < 'A' || s[0] > 'Z' {
		return false
	}
	for i := 1; i < 3; i++ {
		if !(s[i] >= 'A' && s[i] <= 'Z') && !(s[i] >= '0' && s[i] <= '9') {
			return false
		}
	}
	return true
}

func isAlphaNum(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
