// Package fixtures builds small, realistic interchange messages for tests.
package fixtures

import (
	"fmt"
	"strings"
)

// ADTOptions controls the shape of a generated ADT^A01 message.
type ADTOptions struct {
	SendingApp      string
	SendingFacility string
	ControlID       string
	MRN             string
	Location        string // PV1-3; empty leaves the field unpopulated
	WithSFT         bool
	SoftwareVersion string
}

// ADT returns an HL7 v2.3 ADT^A01 message with CR segment terminators.
func ADT(o ADTOptions) string {
	app := o.SendingApp
	if app == "" {
		app = "EPICADT"
	}
	facility := o.SendingFacility
	if facility == "" {
		facility = "MAINHOSP"
	}
	control := o.ControlID
	if control == "" {
		control = "MSG00001"
	}
	mrn := o.MRN
	if mrn == "" {
		mrn = "123456"
	}
	segments := []string{
		fmt.Sprintf(`MSH|^~\&|%s|%s|RECVAPP|RECVFAC|20240101120000||ADT^A01|%s|P|2.3`, app, facility, control),
	}
	if o.WithSFT {
		version := o.SoftwareVersion
		if version == "" {
			version = "2023.1"
		}
		segments = append(segments, fmt.Sprintf("SFT|Epic Systems Corporation^L|%s|Epic|%s", version, version))
	}
	segments = append(segments,
		"EVN|A01|20240101120000",
		fmt.Sprintf("PID|1||%s^^^MRN^MR||DOE^JOHN^A||19800101|M|||123 MAIN ST^^SPRINGFIELD^IL^62701", mrn),
		fmt.Sprintf("PV1|1|I|%s|||||1234^SMITH^JANE", o.Location),
	)
	return strings.Join(segments, "\r")
}

// PatientJSON returns a FHIR R4 Patient resource.
func PatientJSON(id, mrn, source string) string {
	return fmt.Sprintf(`{
  "resourceType": "Patient",
  "id": %q,
  "meta": {"source": %q},
  "identifier": [{"system": "urn:oid:1.2.36.146.595.217.0.1", "value": %q}],
  "name": [{"family": "Chalmers", "given": ["Peter", "James"]}],
  "gender": "male",
  "birthDate": "1974-12-25"
}`, id, source, mrn)
}

// PatientXML returns the XML rendition of a FHIR R4 Patient resource.
func PatientXML(id, mrn string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Patient xmlns="http://hl7.org/fhir">
  <id value=%q/>
  <text><status value="generated"/><div xmlns="http://www.w3.org/1999/xhtml">Peter Chalmers</div></text>
  <identifier>
    <system value="urn:oid:1.2.36.146.595.217.0.1"/>
    <value value=%q/>
  </identifier>
  <name><family value="Chalmers"/><given value="Peter"/><given value="James"/></name>
  <gender value="male"/>
  <birthDate value="1974-12-25"/>
</Patient>`, id, mrn)
}

// MessageBundleJSON returns a FHIR message Bundle with a MessageHeader and a Patient.
func MessageBundleJSON(software, mrn string) string {
	return fmt.Sprintf(`{
  "resourceType": "Bundle",
  "type": "message",
  "entry": [
    {"resource": {"resourceType": "MessageHeader", "eventCoding": {"code": "admit-notification"},
      "source": {"name": "Main Hospital", "software": %q, "version": "10.2"}}},
    {"resource": {"resourceType": "Patient", "identifier": [{"value": %q}], "gender": "female"}}
  ]
}`, software, mrn)
}

// NewRx returns an NCPDP SCRIPT NewRx transaction.
func NewRx(from, product, drug string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Message xmlns="http://www.ncpdp.org/schema/SCRIPT">
  <Header>
    <To Qualifier="P">PHARM001</To>
    <From Qualifier="C">%s</From>
    <MessageID>MSG-001</MessageID>
    <SentTime>2024-01-01T12:00:00Z</SentTime>
    <SenderSoftware>
      <SenderSoftwareDeveloper>Acme Health</SenderSoftwareDeveloper>
      <SenderSoftwareProduct>%s</SenderSoftwareProduct>
      <SenderSoftwareVersionRelease>5.1</SenderSoftwareVersionRelease>
    </SenderSoftware>
  </Header>
  <Body>
    <NewRx>
      <Patient>
        <HumanPatient>
          <Identification><MedicalRecordIdentificationNumberEHR>MRN-77</MedicalRecordIdentificationNumberEHR></Identification>
          <Name><LastName>Doe</LastName><FirstName>Jane</FirstName></Name>
          <DateOfBirth><Date>1980-02-03</Date></DateOfBirth>
        </HumanPatient>
      </Patient>
      <Prescriber><NonVeterinarian><Identification><NPI>1234567893</NPI></Identification></NonVeterinarian></Prescriber>
      <MedicationPrescribed>
        <DrugDescription>%s</DrugDescription>
        <Quantity><Value>30</Value></Quantity>
      </MedicationPrescribed>
    </NewRx>
  </Body>
</Message>`, from, product, drug)
}
