// Package web serves the patient table as an HTML page with search, create,
// edit and delete forms.
package web

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ehr/patientdesk/internal/display"
	"github.com/ehr/patientdesk/internal/domain/patient"
	"github.com/ehr/patientdesk/internal/platform/db"
	"github.com/ehr/patientdesk/internal/platform/fhirclient"
	"github.com/ehr/patientdesk/internal/roster"
	"github.com/ehr/patientdesk/pkg/pagination"
)

type Handler struct {
	roster      *roster.Roster
	logger      zerolog.Logger
	baseURL     string
	searchCount int
	gatherer    prometheus.Gatherer
	requestLog  db.Pinger
}

// Options carries the optional collaborators of a Handler.
type Options struct {
	BaseURL     string
	SearchCount int
	Gatherer    prometheus.Gatherer // nil uses the default registry
	RequestLog  db.Pinger           // nil when the request log is disabled
}

func NewHandler(r *roster.Roster, logger zerolog.Logger, opts Options) *Handler {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		roster:      r,
		logger:      logger.With().Str("component", "web").Logger(),
		baseURL:     opts.BaseURL,
		searchCount: pagination.Clamp(opts.SearchCount),
		gatherer:    opts.Gatherer,
		requestLog:  opts.RequestLog,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Index)
	e.GET("/search", h.Search)
	e.GET("/rows", h.Rows)
	e.POST("/patients", h.Create)
	e.POST("/patients/:id/edit", h.Update)
	e.POST("/patients/:id/delete", h.Delete)
	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Patient desk</title>
<style>i{color:#777} td,th{padding:2px 8px;text-align:left} form{display:inline}</style>
</head>
<body>
<p>Server: {{.BaseURL}}</p>
{{if .Notice}}<p class="notice">{{.Notice}}</p>{{end}}
<form method="get" action="/search"><input name="name" value="{{.Query}}" placeholder="Name"><button type="submit">Search</button></form>
<form method="post" action="/patients"><input name="given" placeholder="Given"><input name="family" placeholder="Family"><button type="submit">Create</button></form>
{{.Table}}
</body>
</html>
`))

func (h *Handler) render(c echo.Context, status int, query string) error {
	var table bytes.Buffer
	if err := display.WriteHTML(&table, h.roster.Table().Snapshot()); err != nil {
		return err
	}
	var page bytes.Buffer
	err := pageTmpl.Execute(&page, struct {
		BaseURL string
		Notice  string
		Query   string
		Table   template.HTML
	}{
		BaseURL: h.baseURL,
		Notice:  c.QueryParam("notice"),
		Query:   query,
		Table:   template.HTML(table.String()),
	})
	if err != nil {
		return err
	}
	return c.HTMLBlob(status, page.Bytes())
}

func redirect(c echo.Context, notice string) error {
	target := "/"
	if notice != "" {
		target += "?notice=" + url.QueryEscape(notice)
	}
	return c.Redirect(http.StatusSeeOther, target)
}

// Index shows the current table. Cells still resolving show Loading...
// until the page is reloaded.
func (h *Handler) Index(c echo.Context) error {
	return h.render(c, http.StatusOK, "")
}

func (h *Handler) Search(c echo.Context) error {
	name := c.QueryParam("name")
	p := pagination.FromContext(c, h.searchCount)

	_, err := h.roster.Search(c.Request().Context(), name, p.Limit)
	if errors.Is(err, patient.ErrAbandoned) {
		return redirect(c, "")
	}
	if err != nil {
		return remoteError(err)
	}
	return h.render(c, http.StatusOK, name)
}

// Rows returns the table as JSON.
func (h *Handler) Rows(c echo.Context) error {
	return c.JSON(http.StatusOK, h.roster.Table().Snapshot())
}

func (h *Handler) Create(c echo.Context) error {
	names := patient.NameChange{Given: c.FormValue("given"), Family: c.FormValue("family")}
	row, err := h.roster.Create(c.Request().Context(), names)
	if errors.Is(err, patient.ErrAbandoned) {
		return redirect(c, "")
	}
	if err != nil {
		return remoteError(err)
	}
	return redirect(c, "Created patient "+row.ID())
}

func (h *Handler) Update(c echo.Context) error {
	actions, ok := h.roster.Actions(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "patient is not in the table")
	}
	names := patient.NameChange{Given: c.FormValue("given"), Family: c.FormValue("family")}
	if _, err := actions.Update(c.Request().Context(), names); err != nil {
		if errors.Is(err, patient.ErrAbandoned) {
			return redirect(c, "")
		}
		return remoteError(err)
	}
	return redirect(c, "Updated patient "+actions.ID)
}

func (h *Handler) Delete(c echo.Context) error {
	actions, ok := h.roster.Actions(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "patient is not in the table")
	}
	if c.FormValue("confirm") != "yes" {
		return redirect(c, "")
	}
	if err := actions.Delete(c.Request().Context()); err != nil {
		return redirect(c, "Removed patient "+actions.ID+" from the table; remote delete failed: "+err.Error())
	}
	return redirect(c, "Deleted patient "+actions.ID)
}

func (h *Handler) Health(c echo.Context) error {
	body := map[string]interface{}{
		"status":        "ok",
		"fhir_base_url": h.baseURL,
		"rows":          h.roster.Table().Len(),
	}
	status := http.StatusOK
	if h.requestLog != nil {
		rl := db.CheckHealth(c.Request().Context(), h.requestLog)
		body["request_log"] = rl
		if rl.Status != "healthy" {
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	return c.JSON(status, body)
}

// remoteError maps a failed remote call to a gateway error, keeping 404s.
func remoteError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	}
	if fhirclient.IsNotFound(err) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}
