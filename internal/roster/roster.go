// Package roster binds patient operations, the encounter resolver and the
// display table. Every rendered row gets its own latest-encounter lookup.
package roster

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/patientdesk/internal/display"
	"github.com/ehr/patientdesk/internal/domain/encounter"
	"github.com/ehr/patientdesk/internal/domain/patient"
)

// PatientService is the subset of *patient.Service the roster drives.
type PatientService interface {
	Create(ctx context.Context, names patient.NameChange) (*patient.Patient, error)
	Search(ctx context.Context, name string, count int) ([]patient.Patient, error)
	Get(ctx context.Context, id string) (*patient.Patient, error)
	Update(ctx context.Context, id string, names patient.NameChange) (*patient.Patient, error)
	Delete(ctx context.Context, id string) error
}

// EncounterResolver fills a row's encounter cell. *encounter.Resolver
// satisfies it.
type EncounterResolver interface {
	ResolveInto(ctx context.Context, patientID string, slot encounter.Slot) encounter.Result
}

type Roster struct {
	patients PatientService
	resolver EncounterResolver
	table    *display.Table
	logger   zerolog.Logger

	pending sync.WaitGroup
}

func New(patients PatientService, resolver EncounterResolver, table *display.Table, logger zerolog.Logger) *Roster {
	if table == nil {
		table = display.NewTable()
	}
	return &Roster{
		patients: patients,
		resolver: resolver,
		table:    table,
		logger:   logger.With().Str("component", "roster").Logger(),
	}
}

// Table returns the table the roster renders into.
func (r *Roster) Table() *display.Table {
	return r.table
}

// Wait blocks until every started resolution has written its cell.
func (r *Roster) Wait() {
	r.pending.Wait()
}

// render starts the latest-encounter lookup for row. The lookup keeps the
// caller's values but not its cancellation.
func (r *Roster) render(ctx context.Context, row *display.Row) {
	ctx = context.WithoutCancel(ctx)
	id := row.ID()
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		r.resolver.ResolveInto(ctx, id, row.Encounter)
	}()
}

// Search replaces the whole table with the patients matching name. An
// abandoned or failed search leaves the table as it was.
func (r *Roster) Search(ctx context.Context, name string, count int) ([]*display.Row, error) {
	found, err := r.patients.Search(ctx, name, count)
	if err != nil {
		return nil, err
	}

	rows := r.table.Reset(found)
	for _, row := range rows {
		r.render(ctx, row)
	}
	r.logger.Debug().Str("name", name).Int("rows", len(rows)).Msg("table refreshed")
	return rows, nil
}

// Create submits a new patient and appends its row.
func (r *Roster) Create(ctx context.Context, names patient.NameChange) (*display.Row, error) {
	p, err := r.patients.Create(ctx, names)
	if err != nil {
		return nil, err
	}
	return r.Add(ctx, *p), nil
}

// Show appends a row for an existing patient read from the server.
func (r *Roster) Show(ctx context.Context, id string) (*display.Row, error) {
	p, err := r.patients.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.Add(ctx, *p), nil
}

// Add appends and renders a row for p as given, without reading it first.
func (r *Roster) Add(ctx context.Context, p patient.Patient) *display.Row {
	row := r.table.Append(p)
	r.render(ctx, row)
	return row
}

// Actions returns the handlers bound to the row currently showing id.
func (r *Roster) Actions(id string) (RowActions, bool) {
	row, ok := r.table.Find(id)
	if !ok {
		return RowActions{}, false
	}
	return r.actionsFor(row), true
}

func (r *Roster) actionsFor(row *display.Row) RowActions {
	return RowActions{roster: r, ID: row.ID(), Row: row}
}

// RowActions carries the edit and delete handlers of one row.
type RowActions struct {
	roster *Roster
	ID     string
	Row    *display.Row
}

// Update patches the patient and re-renders its row in the same position.
// Blank names fall back to the row's current values. The returned row is nil
// when the table was refreshed while the patch was in flight.
func (a RowActions) Update(ctx context.Context, names patient.NameChange) (*display.Row, error) {
	names = names.Normalize()
	if names.Given == "" {
		names.Given = a.Row.Patient.Given
	}
	if names.Family == "" {
		names.Family = a.Row.Patient.Family
	}

	p, err := a.roster.patients.Update(ctx, a.ID, names)
	if err != nil {
		return nil, err
	}
	row := a.roster.table.Replace(a.Row, *p)
	if row == nil {
		a.roster.logger.Debug().Str("patient_id", a.ID).Msg("row left the table during update; not re-rendered")
		return nil, nil
	}
	a.roster.render(ctx, row)
	return row, nil
}

// Delete removes the patient on the server and drops its row. The row is
// dropped even when the remote delete fails; that failure is logged and
// returned.
func (a RowActions) Delete(ctx context.Context) error {
	err := a.roster.patients.Delete(ctx, a.ID)
	if errors.Is(err, patient.ErrAbandoned) {
		return err
	}
	a.roster.table.Remove(a.Row)
	if err != nil {
		a.roster.logger.Warn().Err(err).Str("patient_id", a.ID).
			Msg("remote delete failed; row removed anyway")
		return err
	}
	return nil
}
