package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ehr/patientdesk/internal/platform/fhir"
	"github.com/ehr/patientdesk/internal/platform/fhir/fhirtest"
)

func newTestServer(t *testing.T) *fhirtest.Server {
	t.Helper()
	t.Setenv("LOG_LEVEL", "disabled")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("FHIR_BASE_URL", "")
	srv := fhirtest.NewServer()
	t.Cleanup(srv.Close)
	return srv
}

// run executes the CLI against srv and returns stdout.
func run(t *testing.T, srv *fhirtest.Server, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--base-url", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSearchCommand(t *testing.T) {
	srv := newTestServer(t)
	id := srv.AddPatient("John", "Smith")
	srv.AddEncounter(id, fhir.Encounter{Period: &fhir.Period{End: "2022-11-20T00:00:00Z"}})
	srv.AddPatient("Jane", "Smith")

	out, err := run(t, srv, "", "search", "smith")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got:\n%s", out)
	}
	if !strings.Contains(lines[1], "2022-11-20") {
		t.Errorf("expected resolved date for John, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "No encounters") {
		t.Errorf("expected sentinel for Jane, got %q", lines[2])
	}
}

func TestSearchCommand_JSON(t *testing.T) {
	srv := newTestServer(t)
	srv.AddPatient("John", "Smith")

	out, err := run(t, srv, "", "search", "smith", "-o", "json")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var rows []map[string]string
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("expected JSON output: %v\n%s", err, out)
	}
	if len(rows) != 1 || rows[0]["given"] != "John" {
		t.Errorf("unexpected rows %v", rows)
	}
}

func TestSearchCommand_NoNameIsAbandoned(t *testing.T) {
	srv := newTestServer(t)
	out, err := run(t, srv, "", "search")
	if err != nil || out != "" {
		t.Errorf("expected silent abandon, got %q / %v", out, err)
	}
	if n := srv.CountRequests("GET", "/Patient"); n != 0 {
		t.Errorf("expected no remote call, got %d", n)
	}
}

func TestCreateCommand(t *testing.T) {
	srv := newTestServer(t)

	out, err := run(t, srv, "", "create", "--given", "Jane", "--family", "Doe")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(out, "Jane") || !strings.Contains(out, "No encounters") {
		t.Errorf("expected the new row, got:\n%s", out)
	}

	out, err = run(t, srv, "", "create", "--given", "Jane")
	if err != nil || out != "" {
		t.Errorf("expected silent abandon, got %q / %v", out, err)
	}
	if n := srv.CountRequests("POST", "/Patient"); n != 1 {
		t.Errorf("expected a single create, got %d", n)
	}
}

func TestUpdateCommand_DefaultsToCurrentNames(t *testing.T) {
	srv := newTestServer(t)
	id := srv.AddPatient("John", "Smith")

	out, err := run(t, srv, "", "update", id, "--family", "Smythe")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !strings.Contains(out, "John") || !strings.Contains(out, "Smythe") {
		t.Errorf("expected updated row, got:\n%s", out)
	}
	p, _ := srv.Patient(id)
	if p.Name[0].Given[0] != "John" || p.Name[0].Family != "Smythe" {
		t.Errorf("unexpected stored name %+v", p.Name)
	}
}

func TestUpdateCommand_UnknownPatient(t *testing.T) {
	srv := newTestServer(t)
	if _, err := run(t, srv, "", "update", "404", "--given", "A"); err == nil {
		t.Error("expected an error for an unknown patient")
	}
}

func TestDeleteCommand_Confirmation(t *testing.T) {
	srv := newTestServer(t)
	id := srv.AddPatient("John", "Smith")

	out, err := run(t, srv, "n\n", "delete", id)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(out, "Delete patient "+id+" (John Smith)?") {
		t.Errorf("expected confirmation prompt, got %q", out)
	}
	if _, ok := srv.Patient(id); !ok {
		t.Fatal("expected declined delete to keep the patient")
	}

	out, err = run(t, srv, "y\n", "delete", id)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(out, "Deleted patient "+id) {
		t.Errorf("unexpected output %q", out)
	}
	if _, ok := srv.Patient(id); ok {
		t.Error("expected patient to be deleted")
	}
}

func TestDeleteCommand_RemoteFailure(t *testing.T) {
	srv := newTestServer(t)
	id := srv.AddPatient("John", "Smith")
	srv.FailDeletes(true)

	_, err := run(t, srv, "", "delete", id, "--yes")
	if err == nil {
		t.Fatal("expected remote failure to be reported")
	}
	if !strings.Contains(err.Error(), "removed from the table") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestDeleteCommand_ReadFailureStillDeletes(t *testing.T) {
	srv := newTestServer(t)
	id := srv.AddPatient("John", "Smith")
	srv.FailReads(true)

	out, err := run(t, srv, "y\n", "delete", id)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(out, "Delete patient "+id+"? [y/N]") {
		t.Errorf("expected confirmation by id, got %q", out)
	}
	if n := srv.CountRequests("DELETE", "/Patient/"+id); n != 1 {
		t.Errorf("expected one DELETE, got %d", n)
	}
	if _, ok := srv.Patient(id); ok {
		t.Error("expected patient to be deleted")
	}
}

func TestEncounterCommand(t *testing.T) {
	srv := newTestServer(t)
	id := srv.AddPatient("John", "Smith")
	srv.AddEncounter(id, fhir.Encounter{Meta: &fhir.Meta{LastUpdated: "2021-01-15T08:30:00Z"}})
	failing := srv.AddPatient("Jane", "Doe")
	srv.FailEncounterLookup(failing)

	out, err := run(t, srv, "", "encounter", id, "-v")
	if err != nil {
		t.Fatalf("encounter: %v", err)
	}
	if !strings.HasPrefix(out, "2021-01-15\n") || !strings.Contains(out, "meta.lastUpdated") {
		t.Errorf("unexpected output %q", out)
	}

	out, err = run(t, srv, "", "encounter", failing)
	if err == nil {
		t.Error("expected lookup failure to set an error")
	}
	if strings.TrimSpace(out) != "Error" {
		t.Errorf("expected Error sentinel, got %q", out)
	}
}

func TestRequestLogCommand_Disabled(t *testing.T) {
	srv := newTestServer(t)
	if _, err := run(t, srv, "", "requestlog"); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("expected disabled request log error, got %v", err)
	}
}

func TestBaseURLValidation(t *testing.T) {
	t.Setenv("LOG_LEVEL", "disabled")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--base-url", "ftp://example.org", "encounter", "1"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected invalid base URL to be rejected")
	}
}
