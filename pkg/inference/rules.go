package inference

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/synaptica-ai/vendorshape/pkg/standards"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

//go:embed signatures.yaml
var defaultRulesYAML []byte

// SignatureField is a field whose dominant value identifies the sending vendor or its
// software version.
type SignatureField struct {
	Path string `yaml:"path"`
	Role string `yaml:"role"`
}

type KnownVendor struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// Rules is the curated signature reference data.
type Rules struct {
	Version string                                  `yaml:"version"`
	Fields  map[standards.Standard][]SignatureField `yaml:"fields"`
	Vendors []KnownVendor                           `yaml:"vendors"`
}

func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read signature rules: %w", err)
	}
	return ParseRules(content)
}

func ParseRules(content []byte) (*Rules, error) {
	var raw Rules
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parse signature rules: %w", err)
	}
	rules := &Rules{Version: raw.Version, Fields: make(map[standards.Standard][]SignatureField), Vendors: raw.Vendors}
	for key, fields := range raw.Fields {
		std, err := standards.ParseStandard(string(key))
		if err != nil {
			return nil, fmt.Errorf("signature rules: %w", err)
		}
		for _, f := range fields {
			if f.Role != vendorconfig.RoleVendor && f.Role != vendorconfig.RoleVersion {
				return nil, fmt.Errorf("signature rules: %s has unknown role %q", f.Path, f.Role)
			}
		}
		rules.Fields[std] = fields
	}
	if len(rules.Fields) == 0 {
		return nil, fmt.Errorf("signature rules: no signature fields configured")
	}
	return rules, nil
}

func DefaultRules() *Rules {
	rules, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded signature rules invalid: %v", err))
	}
	return rules
}

// canonicalVendor maps an observed value onto a known vendor name.
func (r *Rules) canonicalVendor(value string) (string, bool) {
	v := strings.ToLower(value)
	for _, vendor := range r.Vendors {
		for _, alias := range vendor.Aliases {
			if strings.Contains(v, strings.ToLower(alias)) {
				return vendor.Name, true
			}
		}
	}
	return "", false
}
