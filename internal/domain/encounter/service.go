package encounter

import (
	"context"
	"errors"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/ehr/patientdesk/internal/platform/fhir"
)

// ErrEmptyPatientID is carried by the error result for a blank patient id.
var ErrEmptyPatientID = errors.New("patient id is required")

// Searcher issues FHIR search queries. *fhirclient.Client satisfies it.
type Searcher interface {
	Request(ctx context.Context, query string, out interface{}) error
}

// Slot receives a resolution's display text. muted is true for sentinels.
type Slot interface {
	Set(text string, muted bool)
}

// ResolutionObserver is notified of every completed resolution.
type ResolutionObserver interface {
	ObserveResolution(outcome string)
}

// Resolver finds the date of a patient's most recent encounter.
type Resolver struct {
	client   Searcher
	logger   zerolog.Logger
	observer ResolutionObserver
}

func NewResolver(client Searcher, logger zerolog.Logger) *Resolver {
	return &Resolver{
		client: client,
		logger: logger.With().Str("component", "encounter-resolver").Logger(),
	}
}

// SetObserver attaches an optional ResolutionObserver.
func (r *Resolver) SetObserver(o ResolutionObserver) {
	r.observer = o
}

// LatestEncounterQuery is the search for a patient's single most recent
// encounter.
func LatestEncounterQuery(patientID string) string {
	return fhir.ResourceEncounter + "?subject=" +
		fhir.FormatReference(fhir.ResourcePatient, url.QueryEscape(patientID)) +
		"&_sort=-date&_count=1"
}

// Resolve looks up patientID's latest encounter. Failures are reported as a
// StatusError result, never as a Go error to the caller.
func (r *Resolver) Resolve(ctx context.Context, patientID string) Result {
	res := r.resolve(ctx, patientID)
	if r.observer != nil {
		r.observer.ObserveResolution(string(res.Status))
	}
	return res
}

func (r *Resolver) resolve(ctx context.Context, patientID string) Result {
	if patientID == "" {
		return Result{Status: StatusError, Err: ErrEmptyPatientID}
	}

	var bundle fhir.Bundle
	if err := r.client.Request(ctx, LatestEncounterQuery(patientID), &bundle); err != nil {
		r.logger.Warn().Err(err).Str("patient_id", patientID).Msg("latest encounter lookup failed")
		return Result{Status: StatusError, Err: err}
	}

	enc, found, err := firstEncounter(&bundle)
	if err != nil {
		r.logger.Warn().Err(err).Str("patient_id", patientID).Msg("decode encounter")
		return Result{Status: StatusError, Err: err}
	}
	if !found {
		return Result{Status: StatusNoEncounters}
	}

	res := DisplayDate(enc)
	if res.Status == StatusNoDate && res.Raw != "" {
		r.logger.Debug().
			Str("patient_id", patientID).
			Str("source", res.Source).
			Str("value", res.Raw).
			Msg("encounter date is not a valid FHIR dateTime")
	}
	return res
}

// ResolveInto resolves patientID and writes the outcome into slot. It blocks
// until the lookup completes; callers run it in its own goroutine per row.
func (r *Resolver) ResolveInto(ctx context.Context, patientID string, slot Slot) Result {
	res := r.Resolve(ctx, patientID)
	slot.Set(res.Text(), res.IsSentinel())
	return res
}

// firstEncounter returns the first Encounter entry, skipping outcome or
// included entries of other types. An entry without a resource is an error.
func firstEncounter(b *fhir.Bundle) (fhir.Encounter, bool, error) {
	for i := 0; i < b.Len(); i++ {
		var head fhir.Resource
		if err := b.DecodeEntry(i, &head); err != nil {
			return fhir.Encounter{}, false, err
		}
		if head.ResourceType != fhir.ResourceEncounter {
			continue
		}
		var enc fhir.Encounter
		if err := b.DecodeEntry(i, &enc); err != nil {
			return fhir.Encounter{}, false, err
		}
		return enc, true, nil
	}
	return fhir.Encounter{}, false, nil
}
