package query

import (
	"fmt"
	"strings"
	"time"

	"xscraper/internal/platform/xapi"
)

// Mode selects how items are discovered.
type Mode string

const (
	ModeTimeline  Mode = "timeline"
	ModeDateRange Mode = "date_range"
	ModePopular   Mode = "popular"
	ModeLatest    Mode = "latest"
)

const dateLayout = "2006-01-02"

// Params carries the caller-supplied arguments for a mode. Which fields are
// required depends on the mode; Plan validates them.
type Params struct {
	Handle    string `json:"handle,omitempty"`
	Query     string `json:"query,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// invalid wraps a validation failure so callers can map it to a 4xx
// without inspecting messages.
func invalid(format string, v ...interface{}) error {
	return xapi.NewError(xapi.KindInvalidParameter, fmt.Sprintf(format, v...))
}

// Plan validates the (mode, params) pair and resolves it to the platform
// call satisfying it. Validation happens here, synchronously, before any
// job is created or network touched.
func Plan(mode Mode, p Params) (xapi.FetchSpec, error) {
	switch mode {
	case ModeTimeline:
		handle := strings.TrimPrefix(strings.TrimSpace(p.Handle), "@")
		if handle == "" {
			return xapi.FetchSpec{}, invalid("timeline mode requires an account handle")
		}
		return xapi.FetchSpec{
			Kind:   xapi.FetchTimeline,
			Handle: handle,
			Sort:   xapi.SortRecency,
		}, nil

	case ModeDateRange:
		if strings.TrimSpace(p.Query) == "" {
			return xapi.FetchSpec{}, invalid("date_range mode requires a query string")
		}
		q, err := withDateOperators(p)
		if err != nil {
			return xapi.FetchSpec{}, err
		}
		return xapi.FetchSpec{
			Kind:       xapi.FetchSearch,
			Query:      q,
			SearchKind: xapi.SearchTop,
			Sort:       xapi.SortRecency,
		}, nil

	case ModePopular:
		if strings.TrimSpace(p.Query) == "" {
			return xapi.FetchSpec{}, invalid("popular mode requires a query string")
		}
		return xapi.FetchSpec{
			Kind:       xapi.FetchSearch,
			Query:      strings.TrimSpace(p.Query),
			SearchKind: xapi.SearchTop,
			Sort:       xapi.SortEngagement,
		}, nil

	case ModeLatest:
		if strings.TrimSpace(p.Query) == "" {
			return xapi.FetchSpec{}, invalid("latest mode requires a query string")
		}
		return xapi.FetchSpec{
			Kind:       xapi.FetchSearch,
			Query:      strings.TrimSpace(p.Query),
			SearchKind: xapi.SearchLatest,
			Sort:       xapi.SortRecency,
		}, nil

	default:
		return xapi.FetchSpec{}, invalid("unknown mode %q", mode)
	}
}

// withDateOperators appends the platform's since:/until: search operators
// for an optional date window.
func withDateOperators(p Params) (string, error) {
	q := strings.TrimSpace(p.Query)

	var start, end time.Time
	var err error
	if p.StartDate != "" {
		if start, err = time.Parse(dateLayout, p.StartDate); err != nil {
			return "", invalid("start_date %q is not a valid YYYY-MM-DD date", p.StartDate)
		}
	}
	if p.EndDate != "" {
		if end, err = time.Parse(dateLayout, p.EndDate); err != nil {
			return "", invalid("end_date %q is not a valid YYYY-MM-DD date", p.EndDate)
		}
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		return "", invalid("start_date %s is after end_date %s", p.StartDate, p.EndDate)
	}

	if p.StartDate != "" {
		q += " since:" + p.StartDate
	}
	if p.EndDate != "" {
		q += " until:" + p.EndDate
	}
	return q, nil
}
