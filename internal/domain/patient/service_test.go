package patient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/patientdesk/internal/platform/fhir"
	"github.com/ehr/patientdesk/internal/platform/fhir/fhirtest"
	"github.com/ehr/patientdesk/internal/platform/fhirclient"
)

// -- Mock Resource Client --

type mockClient struct {
	calls  []string
	bundle *fhir.Bundle
	err    error
}

func (m *mockClient) Create(_ context.Context, _ interface{}, _ interface{}) error {
	m.calls = append(m.calls, "create")
	return m.err
}

func (m *mockClient) Request(_ context.Context, query string, out interface{}) error {
	m.calls = append(m.calls, "request "+query)
	if m.err != nil {
		return m.err
	}
	raw, _ := json.Marshal(m.bundle)
	return json.Unmarshal(raw, out)
}

func (m *mockClient) Read(_ context.Context, _, id string, _ interface{}) error {
	m.calls = append(m.calls, "read "+id)
	return m.err
}

func (m *mockClient) Patch(_ context.Context, path string, _ []fhir.PatchOperation, _ interface{}) error {
	m.calls = append(m.calls, "patch "+path)
	return m.err
}

func (m *mockClient) Delete(_ context.Context, path string) error {
	m.calls = append(m.calls, "delete "+path)
	return m.err
}

func newServerService(t *testing.T) (*Service, *fhirtest.Server) {
	t.Helper()
	srv := fhirtest.NewServer()
	t.Cleanup(srv.Close)
	client, err := fhirclient.New(fhirclient.Config{BaseURL: srv.URL, Timeout: 5 * time.Second, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("fhirclient.New: %v", err)
	}
	return NewService(client, zerolog.Nop()), srv
}

func TestService_AbandonsWithoutRemoteCall(t *testing.T) {
	m := &mockClient{}
	svc := NewService(m, zerolog.Nop())
	ctx := context.Background()

	if _, err := svc.Create(ctx, NameChange{Given: "Jane"}); !errors.Is(err, ErrAbandoned) {
		t.Errorf("create without family: expected ErrAbandoned, got %v", err)
	}
	if _, err := svc.Create(ctx, NameChange{Given: "  ", Family: "Doe"}); !errors.Is(err, ErrAbandoned) {
		t.Errorf("create with blank given: expected ErrAbandoned, got %v", err)
	}
	if _, err := svc.Search(ctx, "", 0); !errors.Is(err, ErrAbandoned) {
		t.Errorf("search without name: expected ErrAbandoned, got %v", err)
	}
	if _, err := svc.Update(ctx, "1", NameChange{Given: "Jane", Family: ""}); !errors.Is(err, ErrAbandoned) {
		t.Errorf("update without family: expected ErrAbandoned, got %v", err)
	}
	if _, err := svc.Update(ctx, "", NameChange{Given: "Jane", Family: "Doe"}); !errors.Is(err, ErrAbandoned) {
		t.Errorf("update without id: expected ErrAbandoned, got %v", err)
	}
	if err := svc.Delete(ctx, ""); !errors.Is(err, ErrAbandoned) {
		t.Errorf("delete without id: expected ErrAbandoned, got %v", err)
	}

	if len(m.calls) != 0 {
		t.Errorf("expected no remote calls, got %v", m.calls)
	}
}

func TestService_Create(t *testing.T) {
	svc, srv := newServerService(t)

	p, err := svc.Create(context.Background(), NameChange{Given: "Jane", Family: "Doe"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.ID == "" || p.Given != "Jane" || p.Family != "Doe" {
		t.Errorf("unexpected created patient %+v", p)
	}

	stored, ok := srv.Patient(p.ID)
	if !ok {
		t.Fatal("expected patient on the server")
	}
	if len(stored.Name) != 1 || len(stored.Name[0].Given) != 1 {
		t.Errorf("expected a single name with one given name, got %+v", stored.Name)
	}
}

func TestService_Create_ServerWithoutID(t *testing.T) {
	m := &mockClient{}
	svc := NewService(m, zerolog.Nop())
	_, err := svc.Create(context.Background(), NameChange{Given: "Jane", Family: "Doe"})
	if !errors.Is(err, ErrInvalidPatient) {
		t.Errorf("expected ErrInvalidPatient, got %v", err)
	}
}

func TestService_Search(t *testing.T) {
	svc, srv := newServerService(t)
	srv.AddPatient("John", "Smith")
	srv.AddPatient("Jane", "Smithers")
	srv.AddPatient("Anna", "Jones")

	got, err := svc.Search(context.Background(), "smith", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].Given != "John" || got[1].Family != "Smithers" {
		t.Errorf("unexpected results %+v", got)
	}

	got, err = svc.Search(context.Background(), "smith", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected _count to limit results to 1, got %d", len(got))
	}

	got, err = svc.Search(context.Background(), "nobody", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no matches, got %d", len(got))
	}
}

func TestService_Search_SkipsEntriesWithoutID(t *testing.T) {
	bundle, _ := fhir.NewSearchBundle(
		fhir.Patient{ResourceType: "Patient", Name: []fhir.HumanName{{Family: "NoID"}}},
		fhir.Patient{ResourceType: "Patient", ID: "7", Name: []fhir.HumanName{{Family: "Kept"}}},
		fhir.NewOperationOutcome(fhir.IssueSeverityWarning, "informational", "note"),
	)
	m := &mockClient{bundle: bundle}
	svc := NewService(m, zerolog.Nop())
	svc.SetSearchCount(5)

	got, err := svc.Search(context.Background(), "x y", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].ID != "7" {
		t.Errorf("expected only the patient with an id, got %+v", got)
	}
	if m.calls[0] != "request Patient?name=x+y&_count=5" {
		t.Errorf("unexpected query %q", m.calls[0])
	}
}

func TestService_Search_LogsOutcomeAndTruncation(t *testing.T) {
	bundle, _ := fhir.NewSearchBundle(
		fhir.Patient{ResourceType: "Patient", ID: "1", Name: []fhir.HumanName{{Family: "Smith"}}},
		fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeProcessing, "name index unavailable"),
	)
	bundle.Link = []fhir.BundleLink{{Relation: "next", URL: "Patient?name=smith&_offset=1"}}

	var logs bytes.Buffer
	svc := NewService(&mockClient{bundle: bundle}, zerolog.New(&logs))

	got, err := svc.Search(context.Background(), "smith", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 patient, got %d", len(got))
	}
	out := logs.String()
	if !strings.Contains(out, "search returned error issues") || !strings.Contains(out, "name index unavailable") {
		t.Errorf("expected the error outcome to be logged, got:\n%s", out)
	}
	if !strings.Contains(out, "search results truncated at _count") {
		t.Errorf("expected truncation to be logged, got:\n%s", out)
	}
}

func TestService_Update(t *testing.T) {
	svc, srv := newServerService(t)
	id := srv.AddPatient("John", "Smith")

	p, err := svc.Update(context.Background(), id, NameChange{Given: "Johnny", Family: "Smythe"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if p.ID != id || p.Given != "Johnny" || p.Family != "Smythe" {
		t.Errorf("unexpected updated patient %+v", p)
	}

	got, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Given != "Johnny" {
		t.Errorf("expected server to hold patched name, got %+v", got)
	}
}

func TestService_Update_NotFound(t *testing.T) {
	svc, _ := newServerService(t)
	_, err := svc.Update(context.Background(), "999", NameChange{Given: "A", Family: "B"})
	if !fhirclient.IsNotFound(err) {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	svc, srv := newServerService(t)
	id := srv.AddPatient("John", "Smith")

	if err := svc.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := srv.Patient(id); ok {
		t.Error("expected patient to be removed")
	}

	srv.FailDeletes(true)
	other := srv.AddPatient("Anna", "Jones")
	if err := svc.Delete(context.Background(), other); err == nil {
		t.Error("expected remote delete failure to be returned")
	}
}
