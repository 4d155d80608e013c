package encounter

import (
	"testing"

	"github.com/ehr/patientdesk/internal/platform/fhir"
)

func TestDisplayDate_FallbackOrder(t *testing.T) {
	tests := []struct {
		name   string
		enc    fhir.Encounter
		status Status
		date   string
		source string
	}{
		{
			name:   "period start",
			enc:    fhir.Encounter{Period: &fhir.Period{Start: "2023-05-01T10:00:00Z"}},
			status: StatusDate, date: "2023-05-01", source: SourcePeriodStart,
		},
		{
			name: "start wins over end and lastUpdated",
			enc: fhir.Encounter{
				Period: &fhir.Period{Start: "2020-02-02T00:00:00Z", End: "2020-02-05T00:00:00Z"},
				Meta:   &fhir.Meta{LastUpdated: "2024-01-01T00:00:00Z"},
			},
			status: StatusDate, date: "2020-02-02", source: SourcePeriodStart,
		},
		{
			name:   "period end when no start",
			enc:    fhir.Encounter{Period: &fhir.Period{End: "2022-11-20T00:00:00Z"}},
			status: StatusDate, date: "2022-11-20", source: SourcePeriodEnd,
		},
		{
			name:   "lastUpdated when no period",
			enc:    fhir.Encounter{Meta: &fhir.Meta{LastUpdated: "2021-01-15T08:30:00Z"}},
			status: StatusDate, date: "2021-01-15", source: SourceLastUpdated,
		},
		{
			name:   "lastUpdated when period is empty",
			enc:    fhir.Encounter{Period: &fhir.Period{}, Meta: &fhir.Meta{LastUpdated: "2021-01-15T08:30:00.000+00:00"}},
			status: StatusDate, date: "2021-01-15", source: SourceLastUpdated,
		},
		{
			name:   "date only",
			enc:    fhir.Encounter{Period: &fhir.Period{Start: "2019-07-04"}},
			status: StatusDate, date: "2019-07-04", source: SourcePeriodStart,
		},
		{
			name:   "partial precision",
			enc:    fhir.Encounter{Period: &fhir.Period{Start: "2019-07"}},
			status: StatusDate, date: "2019-07", source: SourcePeriodStart,
		},
		{
			name:   "no date fields",
			enc:    fhir.Encounter{},
			status: StatusNoDate,
		},
		{
			name:   "empty meta",
			enc:    fhir.Encounter{Meta: &fhir.Meta{VersionID: "3"}},
			status: StatusNoDate,
		},
		{
			name:   "malformed value is not truncated",
			enc:    fhir.Encounter{Period: &fhir.Period{Start: "last tuesday afternoon"}},
			status: StatusNoDate, source: SourcePeriodStart,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DisplayDate(tt.enc)
			if got.Status != tt.status {
				t.Fatalf("status = %s, want %s", got.Status, tt.status)
			}
			if got.Date != tt.date {
				t.Errorf("date = %q, want %q", got.Date, tt.date)
			}
			if got.Source != tt.source {
				t.Errorf("source = %q, want %q", got.Source, tt.source)
			}
		})
	}
}

// A well-formed instant always renders as its own first ten characters.
func TestDisplayDate_MatchesCalendarPrefix(t *testing.T) {
	for _, v := range []string{
		"2023-05-01T10:00:00Z",
		"1999-12-31T23:59:59.999-08:00",
		"2000-01-01T00:00:00+14:00",
		"2024-02-29T12:00:00Z",
	} {
		for _, enc := range []fhir.Encounter{
			{Period: &fhir.Period{Start: v}},
			{Period: &fhir.Period{End: v}},
			{Meta: &fhir.Meta{LastUpdated: v}},
		} {
			if got := DisplayDate(enc).Text(); got != v[:10] {
				t.Errorf("DisplayDate(%+v) = %q, want %q", enc, got, v[:10])
			}
		}
	}
}

func TestResult_Text(t *testing.T) {
	tests := []struct {
		r        Result
		text     string
		sentinel bool
	}{
		{Result{Status: StatusDate, Date: "2023-05-01"}, "2023-05-01", false},
		{Result{Status: StatusNoEncounters}, "No encounters", true},
		{Result{Status: StatusNoDate}, "No date", true},
		{Result{Status: StatusError}, "Error", true},
		{Result{}, "Loading...", true},
	}
	for _, tt := range tests {
		if got := tt.r.Text(); got != tt.text {
			t.Errorf("Text() = %q, want %q", got, tt.text)
		}
		if got := tt.r.IsSentinel(); got != tt.sentinel {
			t.Errorf("IsSentinel() for %s = %v, want %v", tt.r.Status, got, tt.sentinel)
		}
	}
}
