package fhirclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ehr/patientdesk/internal/platform/fhir"
)

// Error is returned for any non-2xx response from the FHIR server.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Outcome    *fhir.OperationOutcome
	Body       string
}

func newError(method, path string, status int, body []byte) *Error {
	e := &Error{
		Method:     method,
		Path:       path,
		StatusCode: status,
		Outcome:    fhir.DecodeOperationOutcome(body),
	}
	if e.Outcome == nil {
		e.Body = strings.TrimSpace(string(body))
		if len(e.Body) > 512 {
			e.Body = e.Body[:512] + "..."
		}
	}
	return e
}

func (e *Error) Error() string {
	msg := http.StatusText(e.StatusCode)
	switch {
	case e.Outcome != nil && e.Outcome.Summary() != "":
		msg = e.Outcome.Summary()
	case e.Body != "":
		msg = e.Body
	}
	return fmt.Sprintf("fhirclient: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, msg)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not
// (or does not wrap) an *Error.
func StatusCode(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 or 410 from the server.
func IsNotFound(err error) bool {
	code := StatusCode(err)
	return code == http.StatusNotFound || code == http.StatusGone
}
