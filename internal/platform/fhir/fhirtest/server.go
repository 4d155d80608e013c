// Package fhirtest provides an in-memory FHIR server for tests. It implements
// just enough of the Patient and Encounter REST API for the desk: create,
// name search, read, JSON Patch, delete, and subject-filtered encounter
// search sorted by date.
package fhirtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/ehr/patientdesk/internal/platform/fhir"
)

// RecordedRequest is a request seen by the server.
type RecordedRequest struct {
	Method    string
	Path      string
	RawQuery  string
	RequestID string
}

// Server is a running in-memory FHIR server.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	nextID        int
	patients      map[string]map[string]interface{}
	encounters    []fhir.Encounter
	failEncounter map[string]bool
	holds         map[string]chan struct{}
	failDeletes   bool
	failReads     bool
	requests      []RecordedRequest
}

// NewServer starts a Server. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		patients:      make(map[string]map[string]interface{}),
		failEncounter: make(map[string]bool),
		holds:         make(map[string]chan struct{}),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(s.record)
	e.POST("/Patient", s.createPatient)
	e.GET("/Patient", s.searchPatients)
	e.GET("/Patient/:id", s.readPatient)
	e.PATCH("/Patient/:id", s.patchPatient)
	e.DELETE("/Patient/:id", s.deletePatient)
	e.GET("/Encounter", s.searchEncounters)

	s.Server = httptest.NewServer(e)
	return s
}

// AddPatient stores a Patient and returns its id.
func (s *Server) AddPatient(given, family string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeLocked(patientMap(given, family))
}

// AddEncounter stores an Encounter for patientID.
func (s *Server) AddEncounter(patientID string, enc fhir.Encounter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc.ResourceType = fhir.ResourceEncounter
	enc.Subject = &fhir.Reference{Reference: fhir.FormatReference(fhir.ResourcePatient, patientID)}
	s.nextID++
	if enc.ID == "" {
		enc.ID = "enc-" + strconv.Itoa(s.nextID)
	}
	s.encounters = append(s.encounters, enc)
}

// FailEncounterLookup makes encounter searches for patientID answer 500.
func (s *Server) FailEncounterLookup(patientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failEncounter[patientID] = true
}

// HoldEncounterLookup blocks encounter searches for patientID until the
// returned release function is called.
func (s *Server) HoldEncounterLookup(patientID string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[patientID] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// FailDeletes makes every DELETE answer 500 without removing anything.
func (s *Server) FailDeletes(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDeletes = fail
}

// FailReads makes every Patient read answer 500.
func (s *Server) FailReads(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = fail
}

// Patient returns the stored Patient with id.
func (s *Server) Patient(id string) (fhir.Patient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.patients[id]
	if !ok {
		return fhir.Patient{}, false
	}
	var p fhir.Patient
	raw, _ := json.Marshal(m)
	_ = json.Unmarshal(raw, &p)
	return p, true
}

// Requests returns a copy of every request seen so far.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests returns how many requests used method on a path with prefix.
func (s *Server) CountRequests(method, pathPrefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, pathPrefix) {
			n++
		}
	}
	return n
}

func (s *Server) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method:    req.Method,
			Path:      req.URL.Path,
			RawQuery:  req.URL.RawQuery,
			RequestID: req.Header.Get("X-Request-ID"),
		})
		s.mu.Unlock()
		return next(c)
	}
}

func (s *Server) storeLocked(m map[string]interface{}) string {
	s.nextID++
	id := strconv.Itoa(s.nextID)
	m["id"] = id
	m["meta"] = map[string]interface{}{"versionId": "1", "lastUpdated": "2024-01-01T00:00:00Z"}
	s.patients[id] = m
	return id
}

func patientMap(given, family string) map[string]interface{} {
	return map[string]interface{}{
		"resourceType": fhir.ResourcePatient,
		"name": []interface{}{
			map[string]interface{}{
				"given":  []interface{}{given},
				"family": family,
			},
		},
	}
}

func fhirJSON(c echo.Context, status int, v interface{}) error {
	c.Response().Header().Set(echo.HeaderContentType, "application/fhir+json")
	return c.JSON(status, v)
}

func (s *Server) createPatient(c echo.Context) error {
	var m map[string]interface{}
	if err := json.NewDecoder(c.Request().Body).Decode(&m); err != nil {
		return fhirJSON(c, http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
	}
	if m["resourceType"] != fhir.ResourcePatient {
		return fhirJSON(c, http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, "resourceType must be Patient"))
	}
	s.mu.Lock()
	id := s.storeLocked(m)
	s.mu.Unlock()
	c.Response().Header().Set("Location", "Patient/"+id+"/_history/1")
	return fhirJSON(c, http.StatusCreated, m)
}

func (s *Server) searchPatients(c echo.Context) error {
	name := strings.ToLower(c.QueryParam("name"))
	count, _ := strconv.Atoi(c.QueryParam("_count"))

	s.mu.Lock()
	ids := make([]string, 0, len(s.patients))
	for id := range s.patients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(ids[i])
		b, _ := strconv.Atoi(ids[j])
		return a < b
	})
	var matches []interface{}
	for _, id := range ids {
		p := s.patients[id]
		if name == "" || strings.Contains(strings.ToLower(nameText(p)), name) {
			matches = append(matches, p)
		}
	}
	s.mu.Unlock()

	if count > 0 && len(matches) > count {
		matches = matches[:count]
	}
	bundle, err := fhir.NewSearchBundle(matches...)
	if err != nil {
		return err
	}
	return fhirJSON(c, http.StatusOK, bundle)
}

func nameText(p map[string]interface{}) string {
	raw, _ := json.Marshal(p["name"])
	return string(raw)
}

func (s *Server) readPatient(c echo.Context) error {
	s.mu.Lock()
	p, ok := s.patients[c.Param("id")]
	failReads := s.failReads
	s.mu.Unlock()
	if failReads {
		return fhirJSON(c, http.StatusInternalServerError, fhir.ErrorOutcome("read failed"))
	}
	if !ok {
		return fhirJSON(c, http.StatusNotFound, fhir.NotFoundOutcome(fhir.ResourcePatient, c.Param("id")))
	}
	return fhirJSON(c, http.StatusOK, p)
}

func (s *Server) patchPatient(c echo.Context) error {
	if ct := c.Request().Header.Get(echo.HeaderContentType); ct != "application/json-patch+json" {
		return fhirJSON(c, http.StatusUnsupportedMediaType, fhir.ErrorOutcome("unsupported content type "+ct))
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	ops, err := fhir.ParseJSONPatch(body)
	if err != nil {
		return fhirJSON(c, http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
	}

	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return fhirJSON(c, http.StatusNotFound, fhir.NotFoundOutcome(fhir.ResourcePatient, id))
	}
	patched, err := fhir.ApplyJSONPatch(p, ops)
	if err != nil {
		return fhirJSON(c, http.StatusUnprocessableEntity, fhir.ErrorOutcome(err.Error()))
	}
	s.patients[id] = patched
	return fhirJSON(c, http.StatusOK, patched)
}

func (s *Server) deletePatient(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDeletes {
		return fhirJSON(c, http.StatusInternalServerError, fhir.ErrorOutcome("delete failed"))
	}
	delete(s.patients, id)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) searchEncounters(c echo.Context) error {
	subject := c.QueryParam("subject")
	_, patientID, ok := fhir.ParseReference(subject)
	if !ok {
		return fhirJSON(c, http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, "subject must be a Patient reference"))
	}

	s.mu.Lock()
	hold := s.holds[patientID]
	fail := s.failEncounter[patientID]
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}
	if fail {
		return fhirJSON(c, http.StatusInternalServerError, fhir.ErrorOutcome("encounter search failed"))
	}

	s.mu.Lock()
	var matches []fhir.Encounter
	for _, enc := range s.encounters {
		if enc.Subject != nil && enc.Subject.Reference == fhir.FormatReference(fhir.ResourcePatient, patientID) {
			matches = append(matches, enc)
		}
	}
	s.mu.Unlock()

	if c.QueryParam("_sort") == "-date" {
		sort.SliceStable(matches, func(i, j int) bool {
			return encounterDate(matches[i]) > encounterDate(matches[j])
		})
	}
	if count, _ := strconv.Atoi(c.QueryParam("_count")); count > 0 && len(matches) > count {
		matches = matches[:count]
	}

	resources := make([]interface{}, len(matches))
	for i := range matches {
		resources[i] = matches[i]
	}
	bundle, err := fhir.NewSearchBundle(resources...)
	if err != nil {
		return err
	}
	return fhirJSON(c, http.StatusOK, bundle)
}

func encounterDate(enc fhir.Encounter) string {
	if enc.Period == nil {
		return ""
	}
	if enc.Period.Start != "" {
		return enc.Period.Start
	}
	return enc.Period.End
}
