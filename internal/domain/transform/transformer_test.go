package transform

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/extractor/internal/domain/document"
	"github.com/ehr/extractor/internal/domain/emr"
	"github.com/ehr/extractor/internal/domain/mapping"
)

func mustDefinition(t *testing.T, raw string) *mapping.Definition {
	t.Helper()
	def := &mapping.Definition{}
	if err := json.Unmarshal([]byte(raw), def); err != nil {
		t.Fatalf("decode mapping: %v", err)
	}
	return def
}

func newTransformer() *Transformer {
	return New(zerolog.Nop(), OrganizationReference{
		Reference: "Organization/4e1b2a9c",
		Display:   "General Hospital Lagos",
	}, "234")
}

func lookupString(t *testing.T, fhir *document.Object, path string) string {
	t.Helper()
	n, ok := document.Lookup(fhir, path)
	if !ok {
		t.Fatalf("path %q missing from resource %s", path, document.String(fhir))
	}
	s, ok := n.(*document.Scalar)
	if !ok {
		t.Fatalf("path %q is %T, want scalar", path, n)
	}
	str, ok := s.Value.(string)
	if !ok {
		t.Fatalf("path %q holds %T, want string", path, s.Value)
	}
	return str
}

const patientMapping = `{
  "resourceType": "Patient",
  "tableName": "patients",
  "fields": [
    {"fhirPath": "gender", "emrField": "sex", "required": true},
    {"fhirPath": "birthDate", "emrField": "dob", "dataType": "date"},
    {"fhirPath": "name[0]", "template": "humanName",
     "emrFieldMap": {"given": "first_name", "family": "last_name"},
     "defaults": {"use": "official"}},
    {"fhirPath": "telecom[0]", "template": "contactPoint",
     "emrFieldMap": {"value": "phone_number"},
     "defaults": {"system": "Phone", "use": "Mobile"}},
    {"fhirPath": "address[0]", "template": "address",
     "emrFieldMap": {"city": "city", "line[0]": "street"},
     "defaults": {"country": "NG"}},
    {"fhirPath": "maritalStatus", "template": "codeableConcept",
     "emrField": "marital_status",
     "valueSet": {"system": "http://hl7.org/fhir/ValueSet/marital-status",
                  "displayMap": {"M": "Married", "S": "Never Married"}}},
    {"fhirPath": "identifier", "template": "identifier",
     "emrFieldPriority": {"nin": "national_id", "mrn": "hospital_no"},
     "identifierTypeMap": {
       "national_id": {"code": "NI", "display": "National unique individual identifier"},
       "hospital_no": {"code": "MR", "display": "Medical record number"}
     },
     "defaults": {"use": "official"}},
    {"fhirPath": "contact[0]", "template": "contact",
     "emrFieldMap": {
       "name.family": "nok_last_name",
       "name.given[0]": "nok_first_name",
       "telecom[0].value": "nok_phone",
       "address.city": "nok_city",
       "gender": "nok_sex"
     },
     "defaults": {"relationship": "Next of Kin"}},
    {"fhirPath": "managingOrganization", "template": "reference"}
  ],
  "constants": {"active": true}
}`

func fullRow() emr.Row {
	return emr.Row{
		"sex":            "Female",
		"dob":            "1990-06-15",
		"first_name":     "Adaeze",
		"last_name":      "Okafor",
		"phone_number":   "08031234567",
		"city":           "Ikeja",
		"street":         "12 Allen Avenue",
		"marital_status": "M",
		"national_id":    "12345678901",
		"hospital_no":    "MRN-0042",
		"nok_last_name":  "Okafor",
		"nok_first_name": "Chidi",
		"nok_phone":      "07065554321",
		"nok_city":       "Ikeja",
		"nok_sex":        "Male",
	}
}

func TestTransformFullPatient(t *testing.T) {
	tr := newTransformer()
	def := mustDefinition(t, patientMapping)

	fhir, recordErrors, err := tr.Transform(fullRow(), def)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(recordErrors) != 0 {
		t.Fatalf("record errors: %v", recordErrors)
	}

	if got := lookupString(t, fhir, "resourceType"); got != "Patient" {
		t.Errorf("resourceType = %q", got)
	}
	if got := lookupString(t, fhir, "gender"); got != "female" {
		t.Errorf("gender = %q, want lowercased", got)
	}
	if got := lookupString(t, fhir, "birthDate"); got != "1990-06-15" {
		t.Errorf("birthDate = %q", got)
	}
	if got := lookupString(t, fhir, "name[0].given[0]"); got != "Adaeze" {
		t.Errorf("given = %q", got)
	}
	if got := lookupString(t, fhir, "name[0].family"); got != "Okafor" {
		t.Errorf("family = %q", got)
	}
	if got := lookupString(t, fhir, "name[0].use"); got != "official" {
		t.Errorf("name use = %q", got)
	}
	if got := lookupString(t, fhir, "telecom[0].system"); got != "phone" {
		t.Errorf("telecom system = %q, want lowercased", got)
	}
	if got := lookupString(t, fhir, "telecom[0].value"); got != "+2348031234567" {
		t.Errorf("telecom value = %q, want normalized", got)
	}
	if got := lookupString(t, fhir, "address[0].line[0]"); got != "12 Allen Avenue" {
		t.Errorf("address line = %q", got)
	}
	if got := lookupString(t, fhir, "address[0].country"); got != "NG" {
		t.Errorf("address country = %q", got)
	}
	if got := lookupString(t, fhir, "maritalStatus.coding[0].display"); got != "Married" {
		t.Errorf("maritalStatus display = %q", got)
	}
	if got := lookupString(t, fhir, "maritalStatus.text"); got != "Married" {
		t.Errorf("maritalStatus text = %q", got)
	}
	if got := lookupString(t, fhir, "contact[0].name.given[0]"); got != "Chidi" {
		t.Errorf("contact given = %q", got)
	}
	if got := lookupString(t, fhir, "contact[0].telecom[0].value"); got != "+2347065554321" {
		t.Errorf("contact phone = %q, want normalized", got)
	}
	if got := lookupString(t, fhir, "contact[0].gender"); got != "male" {
		t.Errorf("contact gender = %q, want lowercased", got)
	}
	if got := lookupString(t, fhir, "contact[0].relationship"); got != "Next of Kin" {
		t.Errorf("contact relationship = %q", got)
	}
	if got := lookupString(t, fhir, "managingOrganization.reference"); got != "Organization/4e1b2a9c" {
		t.Errorf("managingOrganization = %q", got)
	}

	if n, ok := document.Lookup(fhir, "active"); !ok {
		t.Error("active constant missing")
	} else if s := n.(*document.Scalar); s.Value != true {
		t.Errorf("active = %v", s.Value)
	}
}

func TestTransformIdentifierPriorityOrder(t *testing.T) {
	tr := newTransformer()
	def := mustDefinition(t, patientMapping)

	fhir, _, err := tr.Transform(fullRow(), def)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	n, ok := fhir.Get("identifier")
	if !ok {
		t.Fatal("identifier missing")
	}
	arr := n.(*document.Array)
	if arr.Len() != 2 {
		t.Fatalf("identifier entries = %d, want 2: %s", arr.Len(), document.String(arr))
	}
	if got := lookupString(t, fhir, "identifier[0].value"); got != "12345678901" {
		t.Errorf("first identifier = %q, want the nin alias first", got)
	}
	if got := lookupString(t, fhir, "identifier[0].type.coding[0].code"); got != "NI" {
		t.Errorf("first identifier code = %q", got)
	}
	if got := lookupString(t, fhir, "identifier[1].value"); got != "MRN-0042" {
		t.Errorf("second identifier = %q", got)
	}
	if got := lookupString(t, fhir, "identifier[1].use"); got != "official" {
		t.Errorf("identifier use default = %q", got)
	}
}

func TestTransformIdentifierSkipsBlankAliases(t *testing.T) {
	tr := newTransformer()
	def := mustDefinition(t, patientMapping)

	row := fullRow()
	row["national_id"] = "  "

	fhir, _, err := tr.Transform(row, def)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	arr := mustArray(t, fhir, "identifier")
	if arr.Len() != 1 {
		t.Fatalf("identifier entries = %d, want 1", arr.Len())
	}
	if got := lookupString(t, fhir, "identifier[0].value"); got != "MRN-0042" {
		t.Errorf("identifier = %q", got)
	}
}

func TestTransformRequiredFieldMissing(t *testing.T) {
	tr := newTransformer()
	def := mustDefinition(t, patientMapping)

	row := fullRow()
	delete(row, "sex")

	fhir, recordErrors, err := tr.Transform(row, def)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(recordErrors) != 1 {
		t.Fatalf("record errors = %v, want exactly one", recordErrors)
	}
	if want := "Missing required field: gender (EMR: sex)"; recordErrors[0] != want {
		t.Errorf("error = %q, want %q", recordErrors[0], want)
	}
	// Other fields are still transformed so the failure can be inspected.
	if got := lookupString(t, fhir, "name[0].family"); got != "Okafor" {
		t.Errorf("family = %q", got)
	}
}

func TestTransformOptionalFieldMissing(t *testing.T) {
	tr := newTransformer()
	def := mustDefinition(t, patientMapping)

	row := fullRow()
	delete(row, "dob")

	fhir, recordErrors, err := tr.Transform(row, def)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(recordErrors) != 0 {
		t.Errorf("record errors = %v", recordErrors)
	}
	if _, ok := document.Lookup(fhir, "birthDate"); ok {
		t.Error("birthDate set despite missing source column")
	}
}

func TestTransformEmptyMarker(t *testing.T) {
	tr := newTransformer()
	def := mustDefinition(t, `{
		"resourceType": "Patient",
		"tableName": "patients",
		"fields": [{"fhirPath": "telecom[1].value", "emrField": "__empty__"}]
	}`)

	fhir, _, err := tr.Transform(emr.Row{}, def)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got := lookupString(t, fhir, "telecom[1].value"); got != "" {
		t.Errorf("empty marker value = %q", got)
	}
}

func TestTransformCodeWithoutDisplayMapping(t *testing.T) {
	tr := newTransformer()
	def := mustDefinition(t, patientMapping)

	row := fullRow()
	row["marital_status"] = "X"

	fhir, _, err := tr.Transform(row, def)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	// Unknown codes fall back to the code itself as display.
	if got := lookupString(t, fhir, "maritalStatus.coding[0].display"); got != "X" {
		t.Errorf("display = %q", got)
	}
}

func TestTransformReferenceDefaultsLowercaseKeys(t *testing.T) {
	tr := newTransformer()
	def := mustDefinition(t, `{
		"resourceType": "Patient",
		"tableName": "patients",
		"fields": [{"fhirPath": "generalPractitioner[0]", "template": "reference",
			"defaults": {"Reference": "Practitioner/77", "Display": "Dr. Bello"}}]
	}`)

	fhir, _, err := tr.Transform(emr.Row{}, def)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if got := lookupString(t, fhir, "generalPractitioner[0].reference"); got != "Practitioner/77" {
		t.Errorf("reference = %q", got)
	}
	if got := lookupString(t, fhir, "generalPractitioner[0].display"); got != "Dr. Bello" {
		t.Errorf("display = %q", got)
	}
}

func TestTransformUnknownTemplateSkipped(t *testing.T) {
	tr := newTransformer()
	def := mustDefinition(t, `{
		"resourceType": "Patient",
		"tableName": "patients",
		"fields": [
			{"fhirPath": "weird", "template": "hologram"},
			{"fhirPath": "gender", "emrField": "sex"}
		]
	}`)

	fhir, recordErrors, err := tr.Transform(emr.Row{"sex": "F"}, def)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(recordErrors) != 0 {
		t.Errorf("record errors = %v", recordErrors)
	}
	if _, ok := document.Lookup(fhir, "weird"); ok {
		t.Error("unknown template produced output")
	}
	if got := lookupString(t, fhir, "gender"); got != "f" {
		t.Errorf("gender = %q", got)
	}
}

func TestTransformMarshalsDeterministically(t *testing.T) {
	tr := newTransformer()
	def := mustDefinition(t, patientMapping)

	first, _, err := tr.Transform(fullRow(), def)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	second, _, err := tr.Transform(fullRow(), def)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("repeated transforms differ:\n%s\n%s", a, b)
	}
	if !strings.HasPrefix(string(a), `{"resourceType":"Patient"`) {
		t.Errorf("resourceType not first: %s", a)
	}
}

func mustArray(t *testing.T, fhir *document.Object, key string) *document.Array {
	t.Helper()
	n, ok := fhir.Get(key)
	if !ok {
		t.Fatalf("%s missing", key)
	}
	arr, ok := n.(*document.Array)
	if !ok {
		t.Fatalf("%s is %T, want array", key, n)
	}
	return arr
}
