package display

import (
	"fmt"
	"html/template"
	"io"
	"text/tabwriter"
)

// Columns in display order. Actions is rendered only by the HTML surface.
var Columns = []string{"ID", "Given", "Family", "Actions", "Last Encounter"}

// RowView is a point-in-time copy of a row for rendering.
type RowView struct {
	ID        string `json:"id"`
	Given     string `json:"given"`
	Family    string `json:"family"`
	Encounter string `json:"lastEncounter"`
	Muted     bool   `json:"-"`
}

// Snapshot copies the table's rows with their current cell values.
func (t *Table) Snapshot() []RowView {
	rows := t.Rows()
	out := make([]RowView, 0, len(rows))
	for _, r := range rows {
		text, muted := r.Encounter.Value()
		out = append(out, RowView{
			ID:        r.Patient.ID,
			Given:     r.Patient.Given,
			Family:    r.Patient.Family,
			Encounter: text,
			Muted:     muted,
		})
	}
	return out
}

// WriteText renders rows as aligned plain-text columns.
func WriteText(w io.Writer, rows []RowView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGiven\tFamily\tLast Encounter")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Given, r.Family, r.Encounter)
	}
	return tw.Flush()
}

var tableTmpl = template.Must(template.New("table").Parse(`<table class="patients">
<thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr id="patient-{{.ID}}">
<td>{{.ID}}</td><td>{{.Given}}</td><td>{{.Family}}</td>
<td class="actions">
<form method="post" action="/patients/{{.ID}}/edit"><input name="given" value="{{.Given}}"><input name="family" value="{{.Family}}"><button type="submit">Edit</button></form>
<form method="post" action="/patients/{{.ID}}/delete"><label><input type="checkbox" name="confirm" value="yes" required> sure</label><button type="submit">Delete</button></form>
</td>
<td class="encounter">{{if .Muted}}<i>{{.Encounter}}</i>{{else}}{{.Encounter}}{{end}}</td>
</tr>
{{- end}}
</tbody>
</table>
`))

// WriteHTML renders rows as an HTML table with edit and delete actions.
func WriteHTML(w io.Writer, rows []RowView) error {
	return tableTmpl.Execute(w, struct {
		Columns []string
		Rows    []RowView
	}{Columns, rows})
}
