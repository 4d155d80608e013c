package patient

import (
	"strings"

	"github.com/ehr/patientdesk/internal/platform/fhir"
)

// Patient is the desk's projection of a FHIR Patient: its server id and the
// first given/family name pair.
type Patient struct {
	ID     string `json:"id"`
	Given  string `json:"given"`
	Family string `json:"family"`
}

// FromFHIR projects a FHIR Patient, using name[0].given[0] and
// name[0].family, each empty when absent.
func FromFHIR(r fhir.Patient) Patient {
	p := Patient{ID: r.ID}
	if len(r.Name) > 0 {
		if len(r.Name[0].Given) > 0 {
			p.Given = r.Name[0].Given[0]
		}
		p.Family = r.Name[0].Family
	}
	return p
}

// ToFHIR builds the resource submitted on create: a single name with one
// given name and a family name.
func (p Patient) ToFHIR() fhir.Patient {
	return fhir.Patient{
		ResourceType: fhir.ResourcePatient,
		ID:           p.ID,
		Name: []fhir.HumanName{{
			Given:  []string{p.Given},
			Family: p.Family,
		}},
	}
}

// Reference returns the relative reference "Patient/<id>".
func (p Patient) Reference() string {
	return fhir.FormatReference(fhir.ResourcePatient, p.ID)
}

// NameChange replaces the first given name and the family name.
type NameChange struct {
	Given  string
	Family string
}

// Normalize trims both names.
func (n NameChange) Normalize() NameChange {
	return NameChange{Given: strings.TrimSpace(n.Given), Family: strings.TrimSpace(n.Family)}
}

// Complete reports whether both names are present.
func (n NameChange) Complete() bool {
	return n.Given != "" && n.Family != ""
}

// PatchOps is the JSON Patch that applies n to an existing Patient.
func (n NameChange) PatchOps() []fhir.PatchOperation {
	return []fhir.PatchOperation{
		fhir.Replace("/name/0/given/0", n.Given),
		fhir.Replace("/name/0/family", n.Family),
	}
}
