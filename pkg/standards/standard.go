package standards

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrUnknownStandard = errors.New("unknown standard")

// Standard names a concrete healthcare message format version.
type Standard string

const (
	Unknown Standard = ""
	HL7v2   Standard = "HL7v23"
	FHIRR4  Standard = "FHIR-R4"
	NCPDP   Standard = "NCPDP"
)

// All lists the supported standards in display order.
var All = []Standard{HL7v2, FHIRR4, NCPDP}

func (s Standard) String() string {
	if s == Unknown {
		return "Unknown"
	}
	return string(s)
}

// Token is the identifier-safe form used inside configuration addresses.
func (s Standard) Token() string {
	switch s {
	case HL7v2:
		return "HL7v23"
	case FHIRR4:
		return "FHIR_R4"
	case NCPDP:
		return "NCPDP"
	default:
		return "Unknown"
	}
}

func (s Standard) Family() Family {
	switch s {
	case HL7v2:
		return FamilyHL7
	case FHIRR4:
		return FamilyFHIR
	case NCPDP:
		return FamilyNCPDP
	default:
		return FamilyUnknown
	}
}

var standardAliases = map[string]Standard{
	"hl7":          HL7v2,
	"hl7v2":        HL7v2,
	"hl7v23":       HL7v2,
	"hl7v2.3":      HL7v2,
	"hl7_v23":      HL7v2,
	"v2":           HL7v2,
	"fhir":         FHIRR4,
	"fhir-r4":      FHIRR4,
	"fhir_r4":      FHIRR4,
	"fhirr4":       FHIRR4,
	"fhirv4":       FHIRR4,
	"r4":           FHIRR4,
	"ncpdp":        NCPDP,
	"ncpdp-script": NCPDP,
	"ncpdp_script": NCPDP,
	"script":       NCPDP,
}

// ParseStandard accepts display names, address tokens and common aliases.
func ParseStandard(s string) (Standard, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if std, ok := standardAliases[key]; ok {
		return std, nil
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnknownStandard, s)
}

// Family is the closed classification of a message type token.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyHL7
	FamilyFHIR
	FamilyNCPDP
)

func (f Family) String() string {
	switch f {
	case FamilyHL7:
		return "HL7"
	case FamilyFHIR:
		return "FHIR"
	case FamilyNCPDP:
		return "NCPDP"
	default:
		return "Unknown"
	}
}

func (f Family) DefaultStandard() Standard {
	switch f {
	case FamilyHL7:
		return HL7v2
	case FamilyFHIR:
		return FHIRR4
	case FamilyNCPDP:
		return NCPDP
	default:
		return Unknown
	}
}

var hl7MessageCodes = setOf(
	"ACK", "ADT", "BAR", "DFT", "MDM", "MFN", "OMG", "OML", "ORL", "ORM", "ORU",
	"QBP", "RAS", "RDE", "RDS", "RSP", "SIU", "VXU", "PPR", "OMP", "RGV",
)

var fhirResourceTypes = canonicalSet(
	"Account", "AllergyIntolerance", "Appointment", "Bundle", "CarePlan", "Claim",
	"Condition", "Coverage", "DiagnosticReport", "DocumentReference", "Encounter",
	"Immunization", "Location", "Medication", "MedicationAdministration",
	"MedicationDispense", "MedicationRequest", "MedicationStatement", "MessageHeader",
	"Observation", "Organization", "Patient", "Practitioner", "PractitionerRole",
	"Procedure", "RelatedPerson", "ServiceRequest", "Specimen",
)

var ncpdpMessageTypes = canonicalSet(
	"NewRx", "RxRenewalRequest", "RxRenewalResponse", "RxChangeRequest",
	"RxChangeResponse", "CancelRx", "CancelRxResponse", "RxFill", "RxHistoryRequest",
	"RxHistoryResponse", "Status", "Error", "Verify", "GetMessage", "PasswordChange",
)

var hl7TypePattern = regexp.MustCompile(`^([A-Z][A-Z0-9]{2})(?:[\^_]([A-Z0-9]{2,3}))?(?:[\^_]([A-Z0-9_]{3,7}))?$`)

// Classify maps a bare message type token to its standard family. The token sets are
// closed; anything outside them is FamilyUnknown.
func Classify(messageType string) Family {
	mt := strings.TrimSpace(messageType)
	if mt == "" {
		return FamilyUnknown
	}
	if m := hl7TypePattern.FindStringSubmatch(strings.ToUpper(mt)); m != nil {
		if _, ok := hl7MessageCodes[m[1]]; ok {
			return FamilyHL7
		}
	}
	if _, ok := fhirResourceTypes[strings.ToLower(mt)]; ok {
		return FamilyFHIR
	}
	if _, ok := ncpdpMessageTypes[strings.ToLower(mt)]; ok {
		return FamilyNCPDP
	}
	return FamilyUnknown
}

// ForMessageType returns the effective standard implied by a message type.
func ForMessageType(messageType string) Standard {
	return Classify(messageType).DefaultStandard()
}

// CanonicalMessageType returns the display form of a known message type: HL7 types use
// "^" separators and upper case, FHIR and NCPDP types use their registered casing.
// Unknown tokens are returned trimmed and otherwise unchanged.
func CanonicalMessageType(messageType string) string {
	mt := strings.TrimSpace(messageType)
	switch Classify(mt) {
	case FamilyHL7:
		m := hl7TypePattern.FindStringSubmatch(strings.ToUpper(mt))
		out := m[1]
		if m[2] != "" {
			out += "^" + m[2]
		}
		if m[3] != "" {
			out += "^" + m[3]
		}
		return out
	case FamilyFHIR:
		return fhirResourceTypes[strings.ToLower(mt)]
	case FamilyNCPDP:
		return ncpdpMessageTypes[strings.ToLower(mt)]
	default:
		return mt
	}
}

// MessageCode returns the HL7 message code of a type ("ADT" for "ADT^A01"); for other
// standards the type itself.
func MessageCode(messageType string) string {
	mt := CanonicalMessageType(messageType)
	if i := strings.Index(mt, "^"); i > 0 {
		return mt[:i]
	}
	return mt
}

func setOf(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func canonicalSet(values ...string) map[string]string {
	out := make(map[string]string, len(values))
	for _, v := range values {
		out[strings.ToLower(v)] = v
	}
	return out
}
