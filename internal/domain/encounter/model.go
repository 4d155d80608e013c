package encounter

import (
	"github.com/ehr/patientdesk/internal/platform/fhir"
)

// Status classifies the outcome of a latest-encounter resolution.
type Status string

const (
	StatusLoading      Status = "loading"
	StatusDate         Status = "date"
	StatusNoEncounters Status = "no_encounters"
	StatusNoDate       Status = "no_date"
	StatusError        Status = "error"
)

// Display texts for the non-date outcomes.
const (
	TextLoading      = "Loading..."
	TextNoEncounters = "No encounters"
	TextNoDate       = "No date"
	TextError        = "Error"
)

// Date sources, in fallback order.
const (
	SourcePeriodStart = "period.start"
	SourcePeriodEnd   = "period.end"
	SourceLastUpdated = "meta.lastUpdated"
)

// Result is the resolved latest-encounter date for one patient.
type Result struct {
	Status Status
	Date   string // calendar date; set only when Status is StatusDate
	Source string // which field the date came from
	Raw    string // unparsed source value, when one was found
	Err    error  // transport or decode failure; set only when Status is StatusError
}

// Text returns what the table cell should show for r.
func (r Result) Text() string {
	switch r.Status {
	case StatusDate:
		return r.Date
	case StatusNoEncounters:
		return TextNoEncounters
	case StatusNoDate:
		return TextNoDate
	case StatusError:
		return TextError
	default:
		return TextLoading
	}
}

// IsSentinel reports whether r is a placeholder rather than a date.
func (r Result) IsSentinel() bool {
	return r.Status != StatusDate
}

// DisplayDate derives the display date of enc: period.start, else
// period.end, else meta.lastUpdated. The first non-empty value is parsed as a
// FHIR dateTime; an unparseable value yields StatusNoDate rather than a
// truncated string.
func DisplayDate(enc fhir.Encounter) Result {
	raw, source := pickDate(enc)
	if raw == "" {
		return Result{Status: StatusNoDate}
	}
	dt, err := fhir.ParseDateTime(raw)
	if err != nil {
		return Result{Status: StatusNoDate, Source: source, Raw: raw}
	}
	return Result{Status: StatusDate, Date: dt.CalendarDate(), Source: source, Raw: raw}
}

func pickDate(enc fhir.Encounter) (string, string) {
	if enc.Period != nil {
		if enc.Period.Start != "" {
			return enc.Period.Start, SourcePeriodStart
		}
		if enc.Period.End != "" {
			return enc.Period.End, SourcePeriodEnd
		}
	}
	if enc.Meta != nil && enc.Meta.LastUpdated != "" {
		return enc.Meta.LastUpdated, SourceLastUpdated
	}
	return "", ""
}
