package standards

import (
	"fmt"
	"strings"
)

const fhirNamespace = "http://hl7.org/fhir"

// FHIRExtractor reads FHIR R4 resources in JSON or XML. Each resource becomes a group
// named after its resourceType; a Bundle contributes one group per entry resource plus a
// Bundle group for its own elements. Field keys are dotted element paths relative to the
// resource ("identifier", "identifier.value").
type FHIRExtractor struct{}

func NewFHIRExtractor() *FHIRExtractor {
	return &FHIRExtractor{}
}

func (e *FHIRExtractor) Name() string {
	return "fhir-r4"
}

func (e *FHIRExtractor) Standard() Standard {
	return FHIRR4
}

func (e *FHIRExtractor) CanHandle(sample RawSample) bool {
	if sample.Standard == FHIRR4 {
		return true
	}
	content := trimContent(sample.Content)
	switch {
	case strings.HasPrefix(content, "{"):
		return strings.Contains(content, `"resourceType"`)
	case strings.HasPrefix(content, "<"):
		return strings.Contains(content, fhirNamespace)
	}
	return false
}

func (e *FHIRExtractor) Extract(sample RawSample) (*Message, error) {
	content := trimContent(sample.Content)
	var root map[string]interface{}
	switch {
	case strings.HasPrefix(content, "{"):
		doc, err := decodeJSONObject(content)
		if err != nil {
			return nil, err
		}
		root = doc
	case strings.HasPrefix(content, "<"):
		node, err := parseXML(content)
		if err != nil {
			return nil, err
		}
		root = fhirXMLResource(node)
	default:
		return nil, fmt.Errorf("%w: FHIR content must be JSON or XML", ErrMalformed)
	}

	resourceType := scalarString(root["resourceType"])
	if resourceType == "" {
		return nil, fmt.Errorf("%w: resourceType missing", ErrMalformed)
	}

	msg := &Message{Standard: FHIRR4, MessageType: CanonicalMessageType(resourceType)}
	if resourceType != "Bundle" {
		msg.Groups = append(msg.Groups, resourceGroup(resourceType, root))
		return msg, nil
	}

	bundleFields := make(map[string]interface{}, len(root))
	for k, v := range root {
		if k != "entry" {
			bundleFields[k] = v
		}
	}
	msg.Groups = append(msg.Groups, resourceGroup("Bundle", bundleFields))

	entries, _ := root["entry"].([]interface{})
	if single, ok := root["entry"].(map[string]interface{}); ok {
		entries = []interface{}{single}
	}
	for _, entry := range entries {
		entryMap, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		resource, ok := entryMap["resource"].(map[string]interface{})
		if !ok {
			continue
		}
		rt := scalarString(resource["resourceType"])
		if rt == "" {
			return nil, fmt.Errorf("%w: bundle entry without resourceType", ErrMalformed)
		}
		msg.Groups = append(msg.Groups, resourceGroup(rt, resource))
	}
	return msg, nil
}

func resourceGroup(name string, resource map[string]interface{}) Group {
	fields := make(map[string]string)
	flatten(resource, "", 0, fields)
	return Group{Name: name, Fields: fields}
}

// fhirXMLResource converts a FHIR XML resource element into its JSON-equivalent map.
// Nested resources (Bundle.entry.resource, contained) are wrapped in an element named
// after their type, which JSON expresses with a resourceType key instead.
func fhirXMLResource(node *xmlNode) map[string]interface{} {
	wrap := func(c *xmlNode) (interface{}, bool) {
		if (c.name == "resource" || c.name == "contained") && len(c.children) == 1 {
			return fhirXMLResource(c.children[0]), true
		}
		if c.name == "div" {
			return "", true
		}
		return nil, false
	}
	out := node.toMap(wrap)
	out["resourceType"] = node.name
	return out
}
