package standards

import (
	"fmt"
	"strings"
)

// NCPDPExtractor reads NCPDP SCRIPT XML transactions. The Header becomes one group and
// every child of the transaction element under Body (Patient, Prescriber, Pharmacy,
// MedicationPrescribed, ...) becomes a group of its own. Field keys are dotted element
// paths relative to the group ("HumanPatient.Name.LastName").
type NCPDPExtractor struct{}

func NewNCPDPExtractor() *NCPDPExtractor {
	return &NCPDPExtractor{}
}

func (e *NCPDPExtractor) Name() string {
	return "ncpdp-script"
}

func (e *NCPDPExtractor) Standard() Standard {
	return NCPDP
}

func (e *NCPDPExtractor) CanHandle(sample RawSample) bool {
	if sample.Standard == NCPDP {
		return true
	}
	content := trimContent(sample.Content)
	if !strings.HasPrefix(content, "<") {
		return false
	}
	if strings.Contains(strings.ToLower(content), "ncpdp.org") {
		return true
	}
	if strings.Contains(content, fhirNamespace) {
		return false
	}
	return strings.Contains(content, "<Message>") || strings.Contains(content, "<Message ")
}

func (e *NCPDPExtractor) Extract(sample RawSample) (*Message, error) {
	root, err := parseXML(trimContent(sample.Content))
	if err != nil {
		return nil, err
	}
	if root.name != "Message" {
		return nil, fmt.Errorf("%w: root element %s, expected Message", ErrMalformed, root.name)
	}
	body := root.child("Body")
	if body == nil || len(body.children) == 0 {
		return nil, fmt.Errorf("%w: Body with a transaction element required", ErrMalformed)
	}
	transaction := body.children[0]

	msg := &Message{Standard: NCPDP, MessageType: CanonicalMessageType(transaction.name)}
	if header := root.child("Header"); header != nil {
		msg.Groups = append(msg.Groups, elementGroup("Header", header))
	}

	leaves := Group{Name: transaction.name, Fields: make(map[string]string)}
	for _, c := range transaction.children {
		if len(c.children) == 0 {
			setFirst(leaves.Fields, c.name, c.leafValue())
			continue
		}
		msg.Groups = append(msg.Groups, elementGroup(c.name, c))
	}
	if len(leaves.Fields) > 0 {
		msg.Groups = append(msg.Groups, leaves)
	}
	return msg, nil
}

func elementGroup(name string, node *xmlNode) Group {
	fields := make(map[string]string)
	flatten(node.toMap(nil), "", 0, fields)
	return Group{Name: name, Fields: fields}
}
