// Package display holds the patient table: an ordered set of rows, each with
// an asynchronously populated latest-encounter cell.
package display

import (
	"sync"

	"github.com/ehr/patientdesk/internal/domain/encounter"
	"github.com/ehr/patientdesk/internal/domain/patient"
)

// Cell is the latest-encounter slot of a row. Writes after the row left the
// table are dropped.
type Cell struct {
	mu       sync.Mutex
	text     string
	muted    bool
	detached bool
}

func newCell() *Cell {
	return &Cell{text: encounter.TextLoading, muted: true}
}

// Set implements encounter.Slot.
func (c *Cell) Set(text string, muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return
	}
	c.text = text
	c.muted = muted
}

// Value returns the current text and whether it is a placeholder.
func (c *Cell) Value() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, c.muted
}

// Detached reports whether the cell's row has been removed.
func (c *Cell) Detached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.detached
}

func (c *Cell) detach() {
	c.mu.Lock()
	c.detached = true
	c.mu.Unlock()
}

// Row is one displayed patient.
type Row struct {
	Patient   patient.Patient
	Encounter *Cell
}

// ID returns the patient id shown in the row.
func (r *Row) ID() string { return r.Patient.ID }

// Table is safe for concurrent use.
type Table struct {
	mu   sync.RWMutex
	rows []*Row
}

func NewTable() *Table {
	return &Table{}
}

// Append adds a row for p at the end of the table.
func (t *Table) Append(p patient.Patient) *Row {
	r := &Row{Patient: p, Encounter: newCell()}
	t.mu.Lock()
	t.rows = append(t.rows, r)
	t.mu.Unlock()
	return r
}

// Replace swaps old for a fresh row for p at the same position. It returns
// nil when old is no longer in the table.
func (t *Table) Replace(old *Row, p patient.Patient) *Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(old)
	if i < 0 {
		return nil
	}
	r := &Row{Patient: p, Encounter: newCell()}
	t.rows[i] = r
	old.Encounter.detach()
	return r
}

// Reset detaches every current row and installs one row per patient, in
// order, under a single lock.
func (t *Table) Reset(patients []patient.Patient) []*Row {
	rows := make([]*Row, len(patients))
	for i, p := range patients {
		rows[i] = &Row{Patient: p, Encounter: newCell()}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.rows {
		r.Encounter.detach()
	}
	t.rows = append([]*Row(nil), rows...)
	return rows
}

// Remove drops row r and detaches its cell. It reports whether r was present.
func (t *Table) Remove(r *Row) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.indexLocked(r)
	if i < 0 {
		return false
	}
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	r.Encounter.detach()
	return true
}

// Find returns the first row for patient id.
func (t *Table) Find(id string) (*Row, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.rows {
		if r.Patient.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Rows returns a snapshot of the current rows in display order.
func (t *Table) Rows() []*Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Row, len(t.rows))
	copy(out, t.rows)
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *Table) indexLocked(r *Row) int {
	for i, cur := range t.rows {
		if cur == r {
			return i
		}
	}
	return -1
}
