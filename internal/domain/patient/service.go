package patient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/patientdesk/internal/platform/fhir"
	"github.com/ehr/patientdesk/pkg/pagination"
)

var (
	// ErrAbandoned is returned when required input is missing; no remote
	// call was made.
	ErrAbandoned = errors.New("operation abandoned: required input missing")
	// ErrInvalidPatient is returned when the server hands back a Patient
	// without an id.
	ErrInvalidPatient = errors.New("patient resource has no id")
)

// ResourceClient is the subset of *fhirclient.Client the service needs.
type ResourceClient interface {
	Create(ctx context.Context, resource interface{}, out interface{}) error
	Request(ctx context.Context, query string, out interface{}) error
	Read(ctx context.Context, resourceType, id string, out interface{}) error
	Patch(ctx context.Context, path string, ops []fhir.PatchOperation, out interface{}) error
	Delete(ctx context.Context, path string) error
}

type Service struct {
	client      ResourceClient
	logger      zerolog.Logger
	searchCount int
}

func NewService(client ResourceClient, logger zerolog.Logger) *Service {
	return &Service{
		client:      client,
		logger:      logger.With().Str("component", "patient-service").Logger(),
		searchCount: pagination.DefaultLimit,
	}
}

// SetSearchCount sets the default _count used by Search.
func (s *Service) SetSearchCount(n int) {
	s.searchCount = pagination.Clamp(n)
}

// SearchQuery builds the name search for the Patient endpoint.
func SearchQuery(name string, count int) string {
	q := fhir.ResourcePatient + "?name=" + url.QueryEscape(name)
	if count > 0 {
		q += "&" + pagination.Params{Limit: count}.QueryParam()
	}
	return q
}

func patientPath(id string) string {
	return fhir.FormatReference(fhir.ResourcePatient, url.PathEscape(id))
}

// Create submits a new Patient with a single given/family name pair.
func (s *Service) Create(ctx context.Context, names NameChange) (*Patient, error) {
	names = names.Normalize()
	if !names.Complete() {
		return nil, ErrAbandoned
	}

	var created fhir.Patient
	in := Patient{Given: names.Given, Family: names.Family}
	if err := s.client.Create(ctx, in.ToFHIR(), &created); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	p := FromFHIR(created)
	if p.ID == "" {
		return nil, fmt.Errorf("create patient: %w", ErrInvalidPatient)
	}
	s.logger.Info().Str("patient_id", p.ID).Msg("patient created")
	return &p, nil
}

// Search returns the patients matching name under the server's name
// matching rules. A count of 0 uses the configured default. Entries without
// an id are skipped.
func (s *Service) Search(ctx context.Context, name string, count int) ([]Patient, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrAbandoned
	}
	if count <= 0 {
		count = s.searchCount
	}

	var bundle fhir.Bundle
	if err := s.client.Request(ctx, SearchQuery(name, count), &bundle); err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}

	patients := make([]Patient, 0, bundle.Len())
	for i := 0; i < bundle.Len(); i++ {
		var r fhir.Patient
		if err := bundle.DecodeEntry(i, &r); err != nil {
			s.logger.Warn().Err(err).Int("entry", i).Msg("skipping undecodable search entry")
			continue
		}
		if r.ResourceType == fhir.ResourceOutcome {
			s.logSearchOutcome(&bundle, i)
			continue
		}
		if r.ResourceType != "" && r.ResourceType != fhir.ResourcePatient {
			continue
		}
		p := FromFHIR(r)
		if p.ID == "" {
			s.logger.Warn().Int("entry", i).Msg("skipping patient without id")
			continue
		}
		patients = append(patients, p)
	}
	if next := bundle.NextLink(); next != "" {
		s.logger.Info().Str("name", name).Int("count", count).Str("next", next).
			Msg("search results truncated at _count")
	}
	return patients, nil
}

// logSearchOutcome logs an OperationOutcome entry the server attached to a
// search result.
func (s *Service) logSearchOutcome(b *fhir.Bundle, i int) {
	var oo fhir.OperationOutcome
	if err := b.DecodeEntry(i, &oo); err != nil {
		s.logger.Warn().Err(err).Int("entry", i).Msg("skipping undecodable search outcome")
		return
	}
	if oo.HasErrors() {
		s.logger.Warn().Str("outcome", oo.Summary()).Msg("search returned error issues")
		return
	}
	s.logger.Debug().Str("outcome", oo.Summary()).Msg("search returned informational issues")
}

// Get reads a single Patient.
func (s *Service) Get(ctx context.Context, id string) (*Patient, error) {
	if id == "" {
		return nil, ErrAbandoned
	}
	var r fhir.Patient
	if err := s.client.Read(ctx, fhir.ResourcePatient, id, &r); err != nil {
		return nil, fmt.Errorf("read patient %s: %w", id, err)
	}
	p := FromFHIR(r)
	if p.ID == "" {
		p.ID = id
	}
	return &p, nil
}

// Update replaces the first given name and the family name of Patient id
// via JSON Patch and returns the server's updated Patient.
func (s *Service) Update(ctx context.Context, id string, names NameChange) (*Patient, error) {
	names = names.Normalize()
	if id == "" || !names.Complete() {
		return nil, ErrAbandoned
	}

	var updated fhir.Patient
	if err := s.client.Patch(ctx, patientPath(id), names.PatchOps(), &updated); err != nil {
		return nil, fmt.Errorf("patch patient %s: %w", id, err)
	}
	p := FromFHIR(updated)
	if p.ID == "" {
		p.ID = id
	}
	s.logger.Info().Str("patient_id", id).Msg("patient updated")
	return &p, nil
}

// Delete removes Patient id on the server.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrAbandoned
	}
	if err := s.client.Delete(ctx, patientPath(id)); err != nil {
		return fmt.Errorf("delete patient %s: %w", id, err)
	}
	s.logger.Info().Str("patient_id", id).Msg("patient deleted")
	return nil
}
