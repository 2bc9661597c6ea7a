package standards

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// maxFlattenDepth bounds how far nested elements are expanded into dotted field paths.
const maxFlattenDepth = 4

var skippedKeys = map[string]struct{}{
	"resourceType": {},
	"contained":    {},
	"div":          {},
}

// flatten records every present element of a decoded document under its dotted path
// (array indices dropped). Composite elements record their first scalar leaf so the
// element itself counts as present. The first value seen for a path wins.
func flatten(obj map[string]interface{}, prefix string, depth int, out map[string]string) {
	for _, key := range sortedKeys(obj) {
		if _, skip := skippedKeys[key]; skip || strings.HasPrefix(key, "_") {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		flattenValue(obj[key], path, depth, out)
	}
}

func flattenValue(v interface{}, path string, depth int, out map[string]string) {
	switch val := v.(type) {
	case map[string]interface{}:
		setFirst(out, path, firstScalar(val))
		if depth < maxFlattenDepth {
			flatten(val, path, depth+1, out)
		}
	case []interface{}:
		for _, item := range val {
			flattenValue(item, path, depth, out)
		}
	default:
		setFirst(out, path, scalarString(val))
	}
}

func firstScalar(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		for _, key := range sortedKeys(val) {
			if _, skip := skippedKeys[key]; skip || strings.HasPrefix(key, "_") {
				continue
			}
			if s := firstScalar(val[key]); s != "" {
				return s
			}
		}
		return ""
	case []interface{}:
		for _, item := range val {
			if s := firstScalar(item); s != "" {
				return s
			}
		}
		return ""
	default:
		s := scalarString(val)
		if !isPresent(s) {
			return ""
		}
		return s
	}
}

func setFirst(out map[string]string, path, value string) {
	if !isPresent(value) {
		return
	}
	if _, exists := out[path]; !exists {
		out[path] = strings.TrimSpace(value)
	}
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func decodeJSONObject(content string) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return doc, nil
}

type xmlNode struct {
	name     string
	space    string
	value    string
	text     strings.Builder
	children []*xmlNode
}

func parseXML(content string) (*xmlNode, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var root *xmlNode
	var stack []*xmlNode
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			node := &xmlNode{name: t.Name.Local, space: t.Name.Space}
			for _, attr := range t.Attr {
				if attr.Name.Local == "value" {
					node.value = attr.Value
				}
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("%w: multiple root elements", ErrMalformed)
				}
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, node)
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformed)
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: unclosed element %s", ErrMalformed, stack[len(stack)-1].name)
	}
	return root, nil
}

func (n *xmlNode) child(name string) *xmlNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *xmlNode) leafValue() string {
	if n.value != "" {
		return n.value
	}
	return strings.TrimSpace(n.text.String())
}

// toMap converts an element's children into the same shape encoding/json produces, so
// XML and JSON documents flatten identically. Repeated children become arrays.
func (n *xmlNode) toMap(wrap func(*xmlNode) (interface{}, bool)) map[string]interface{} {
	out := make(map[string]interface{})
	for _, c := range n.children {
		var v interface{}
		if wrap != nil {
			if wrapped, ok := wrap(c); ok {
				v = wrapped
			}
		}
		if v == nil {
			if len(c.children) == 0 {
				v = c.leafValue()
			} else {
				v = c.toMap(wrap)
			}
		}
		if existing, ok := out[c.name]; ok {
			if list, isList := existing.([]interface{}); isList {
				out[c.name] = append(list, v)
			} else {
				out[c.name] = []interface{}{existing, v}
			}
			continue
		}
		out[c.name] = v
	}
	return out
}
