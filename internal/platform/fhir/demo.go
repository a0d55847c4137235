package fhir

import "encoding/json"

// DemoPatientID is the synthetic patient seeded into demo sessions.
const DemoPatientID = "demo-patient-001"

// demoPatient is the fixed synthetic patient record served in demo mode.
var demoPatient = json.RawMessage(`{
  "resourceType": "Patient",
  "id": "demo-patient-001",
  "name": [{"use": "official", "family": "Arguello", "given": ["Camila", "Maria"]}],
  "gender": "female",
  "birthDate": "1987-09-12",
  "address": [{"line": ["123 Main St"], "city": "Madison", "state": "WI", "postalCode": "53703"}],
  "telecom": [{"system": "phone", "value": "608-555-0199", "use": "home"}]
}`)

var demoObservations = []json.RawMessage{
	json.RawMessage(`{
  "resourceType": "Observation",
  "id": "demo-obs-a1c",
  "status": "final",
  "category": [{"coding": [{"system": "http://terminology.hl7.org/CodeSystem/observation-category", "code": "laboratory"}]}],
  "code": {"coding": [{"system": "http://loinc.org", "code": "4548-4", "display": "Hemoglobin A1c"}], "text": "Hemoglobin A1c"},
  "subject": {"reference": "Patient/demo-patient-001"},
  "effectiveDateTime": "2026-07-18",
  "valueQuantity": {"value": 5.6, "unit": "%"}
}`),
	json.RawMessage(`{
  "resourceType": "Observation",
  "id": "demo-obs-ldl",
  "status": "final",
  "category": [{"coding": [{"system": "http://terminology.hl7.org/CodeSystem/observation-category", "code": "laboratory"}]}],
  "code": {"coding": [{"system": "http://loinc.org", "code": "13457-7", "display": "LDL Cholesterol"}], "text": "LDL Cholesterol"},
  "subject": {"reference": "Patient/demo-patient-001"},
  "effectiveDateTime": "2026-07-18",
  "valueQuantity": {"value": 96, "unit": "mg/dL"}
}`),
	json.RawMessage(`{
  "resourceType": "Observation",
  "id": "demo-obs-bp",
  "status": "final",
  "category": [{"coding": [{"system": "http://terminology.hl7.org/CodeSystem/observation-category", "code": "vital-signs"}]}],
  "code": {"coding": [{"system": "http://loinc.org", "code": "85354-9", "display": "Blood pressure panel"}], "text": "Blood pressure"},
  "subject": {"reference": "Patient/demo-patient-001"},
  "effectiveDateTime": "2026-08-02",
  "component": [
    {"code": {"text": "Systolic"}, "valueQuantity": {"value": 118, "unit": "mmHg"}},
    {"code": {"text": "Diastolic"}, "valueQuantity": {"value": 76, "unit": "mmHg"}}
  ]
}`),
}

var demoConditions = []json.RawMessage{
	json.RawMessage(`{
  "resourceType": "Condition",
  "id": "demo-cond-asthma",
  "clinicalStatus": {"coding": [{"system": "http://terminology.hl7.org/CodeSystem/condition-clinical", "code": "active"}]},
  "code": {"coding": [{"system": "http://snomed.info/sct", "code": "195967001", "display": "Asthma"}], "text": "Asthma"},
  "subject": {"reference": "Patient/demo-patient-001"},
  "onsetDateTime": "2014-03-01"
}`),
	json.RawMessage(`{
  "resourceType": "Condition",
  "id": "demo-cond-htn",
  "clinicalStatus": {"coding": [{"system": "http://terminology.hl7.org/CodeSystem/condition-clinical", "code": "active"}]},
  "code": {"coding": [{"system": "http://snomed.info/sct", "code": "38341003", "display": "Essential hypertension"}], "text": "Hypertension"},
  "subject": {"reference": "Patient/demo-patient-001"},
  "onsetDateTime": "2021-11-20"
}`),
}

var demoMedications = []json.RawMessage{
	json.RawMessage(`{
  "resourceType": "MedicationRequest",
  "id": "demo-med-albuterol",
  "status": "active",
  "intent": "order",
  "medicationCodeableConcept": {"coding": [{"system": "http://www.nlm.nih.gov/research/umls/rxnorm", "code": "745679", "display": "Albuterol 90 mcg inhaler"}], "text": "Albuterol inhaler"},
  "subject": {"reference": "Patient/demo-patient-001"},
  "authoredOn": "2026-05-04",
  "dosageInstruction": [{"text": "2 puffs every 4-6 hours as needed"}]
}`),
	json.RawMessage(`{
  "resourceType": "MedicationRequest",
  "id": "demo-med-lisinopril",
  "status": "active",
  "intent": "order",
  "medicationCodeableConcept": {"coding": [{"system": "http://www.nlm.nih.gov/research/umls/rxnorm", "code": "314076", "display": "Lisinopril 10 mg tablet"}], "text": "Lisinopril 10 mg"},
  "subject": {"reference": "Patient/demo-patient-001"},
  "authoredOn": "2026-02-17",
  "dosageInstruction": [{"text": "1 tablet daily"}]
}`),
}

// demoBundle returns the static substitute bundle for a resource type.
// Demo fetches never touch the network.
func demoBundle(resourceType string) *Bundle {
	var resources []json.RawMessage
	switch resourceType {
	case ResourcePatient:
		resources = []json.RawMessage{demoPatient}
	case ResourceObservation:
		resources = demoObservations
	case ResourceCondition:
		resources = demoConditions
	case ResourceMedicationRequest:
		resources = demoMedications
	}

	entries := make([]BundleEntry, len(resources))
	for i, r := range resources {
		entries[i] = BundleEntry{Resource: r, Search: &BundleSearch{Mode: "match"}}
	}
	return NewSearchBundle(entries)
}
