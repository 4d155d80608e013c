package fhir

import (
	"encoding/json"
	"testing"
)

func TestPatient_JSONSerialization(t *testing.T) {
	p := Patient{
		ResourceType: ResourcePatient,
		Name:         []HumanName{{Given: []string{"Jane"}, Family: "Doe"}},
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	want := `{"resourceType":"Patient","name":[{"family":"Doe","given":["Jane"]}]}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}

func TestEncounter_Unmarshal(t *testing.T) {
	raw := `{
		"resourceType": "Encounter",
		"id": "e1",
		"subject": {"reference": "Patient/42"},
		"period": {"start": "2023-05-01T10:00:00Z"},
		"meta": {"lastUpdated": "2024-01-01T00:00:00Z"}
	}`

	var enc Encounter
	if err := json.Unmarshal([]byte(raw), &enc); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if enc.Subject == nil || enc.Subject.Reference != "Patient/42" {
		t.Errorf("unexpected subject %+v", enc.Subject)
	}
	if enc.Period == nil || enc.Period.Start != "2023-05-01T10:00:00Z" {
		t.Errorf("unexpected period %+v", enc.Period)
	}
	if enc.Period.End != "" {
		t.Errorf("expected empty end, got %q", enc.Period.End)
	}
	if enc.Meta == nil || enc.Meta.LastUpdated != "2024-01-01T00:00:00Z" {
		t.Errorf("unexpected meta %+v", enc.Meta)
	}
}

func TestOperationOutcome_Summary(t *testing.T) {
	oo := NotFoundOutcome(ResourcePatient, "9")
	if !oo.HasErrors() {
		t.Error("expected HasErrors to be true")
	}
	if got := oo.Summary(); got != "Patient/9 not found" {
		t.Errorf("unexpected summary %q", got)
	}

	oo = &OperationOutcome{Issue: []OperationOutcomeIssue{
		{Severity: IssueSeverityWarning, Code: "informational", Details: &CodeableConcept{Text: "slow"}},
		{Severity: IssueSeverityInformation, Code: "processing"},
	}}
	if oo.HasErrors() {
		t.Error("expected HasErrors to be false")
	}
	if got := oo.Summary(); got != "slow; processing" {
		t.Errorf("unexpected summary %q", got)
	}
}

func TestDecodeOperationOutcome(t *testing.T) {
	raw, _ := json.Marshal(ErrorOutcome("boom"))
	oo := DecodeOperationOutcome(raw)
	if oo == nil || oo.Summary() != "boom" {
		t.Fatalf("unexpected outcome %+v", oo)
	}

	if DecodeOperationOutcome([]byte(`{"resourceType":"Patient"}`)) != nil {
		t.Error("expected nil for non-outcome resource")
	}
	if DecodeOperationOutcome([]byte(`<html>`)) != nil {
		t.Error("expected nil for non-JSON body")
	}
}
