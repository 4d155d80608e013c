package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds paging parameters for a FHIR search.
type Params struct {
	Limit int
}

// Clamp bounds limit to (0, MaxLimit], substituting DefaultLimit for
// non-positive values.
func Clamp(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// FromContext extracts paging parameters from the echo context, preferring
// the FHIR _count parameter over limit. fallback is used when neither is set.
func FromContext(c echo.Context, fallback int) Params {
	limit, _ := strconv.Atoi(c.QueryParam("_count"))
	if limit <= 0 {
		limit, _ = strconv.Atoi(c.QueryParam("limit"))
	}
	if limit <= 0 {
		limit = fallback
	}
	return Params{Limit: Clamp(limit)}
}

// QueryParam renders p as a FHIR _count search parameter.
func (p Params) QueryParam() string {
	return "_count=" + strconv.Itoa(Clamp(p.Limit))
}
