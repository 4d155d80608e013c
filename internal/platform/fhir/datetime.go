package fhir

import (
	"fmt"
	"strings"
	"time"
)

// Precision is the granularity carried by a FHIR date, dateTime or instant.
type Precision int

const (
	PrecisionYear Precision = iota + 1
	PrecisionMonth
	PrecisionDay
	PrecisionTime
)

// DateTime is a parsed FHIR date/dateTime/instant. Time keeps the offset
// written in the source value.
type DateTime struct {
	Time      time.Time
	Precision Precision
}

var dateTimeLayouts = []struct {
	layout    string
	precision Precision
}{
	{time.RFC3339Nano, PrecisionTime},
	{"2006-01-02T15:04:05.999999999", PrecisionTime},
	{"2006-01-02", PrecisionDay},
	{"2006-01", PrecisionMonth},
	{"2006", PrecisionYear},
}

// ParseDateTime parses the FHIR date, dateTime and instant formats. Values
// with a time component but no offset are interpreted as UTC.
func ParseDateTime(s string) (DateTime, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DateTime{}, fmt.Errorf("empty dateTime")
	}
	for _, l := range dateTimeLayouts {
		if t, err := time.Parse(l.layout, s); err == nil {
			return DateTime{Time: t, Precision: l.precision}, nil
		}
	}
	return DateTime{}, fmt.Errorf("invalid FHIR dateTime %q", s)
}

// CalendarDate formats the value as YYYY-MM-DD, or as YYYY / YYYY-MM when the
// source carried only that much precision.
func (d DateTime) CalendarDate() string {
	switch d.Precision {
	case PrecisionYear:
		return d.Time.Format("2006")
	case PrecisionMonth:
		return d.Time.Format("2006-01")
	default:
		return d.Time.Format("2006-01-02")
	}
}
