package analysis

import (
	"strconv"
	"strings"
	"time"

	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

var dateLayouts = []string{"2006-01-02", "20060102"}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"20060102150405",
	"200601021504",
	"20060102150405-0700",
	"20060102150405.0000-0700",
}

// guessDataType classifies a single observed value. Date forms are checked before
// numbers so HL7 "YYYYMMDD" values are not reported as numeric.
func guessDataType(value string) string {
	v := strings.TrimSpace(value)
	if strings.ContainsAny(v, "^~") {
		return vendorconfig.DataTypeComposite
	}
	switch strings.ToLower(v) {
	case "true", "false":
		return vendorconfig.DataTypeBoolean
	}
	for _, layout := range dateLayouts {
		if len(v) == len(layout) {
			if _, err := time.Parse(layout, v); err == nil {
				return vendorconfig.DataTypeDate
			}
		}
	}
	for _, layout := range dateTimeLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return vendorconfig.DataTypeDateTime
		}
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return vendorconfig.DataTypeNumeric
	}
	return vendorconfig.DataTypeString
}
