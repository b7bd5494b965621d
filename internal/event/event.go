// Package event validates extracted event attributes and builds
// calendar event requests from them.
package event

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/HangSHI/SmartEventAdder/internal/tz"

	"github.com/pkg/errors"
)

// DefaultStartTime is assumed when the extracted attributes carry no
// start time at all.
const DefaultStartTime = "09:00"

// DefaultDuration is used when no end time was extracted.
const DefaultDuration = time.Hour

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"
)

// Attributes are the AI-extracted event fields, editable during user
// review.  Empty strings mean "not extracted".
type Attributes struct {
	Summary     string
	Date        string // YYYY-MM-DD
	StartTime   string // HH:MM
	EndTime     string // HH:MM
	Location    string
	Description string
}

// ErrInvalidDateTime is returned when the date and time attributes do
// not combine into a valid instant.
var ErrInvalidDateTime = errors.New("invalid date/time combination")

// FieldErrors annotates individual attributes with validation
// problems.  It is an error so builders can return it directly, and
// recoverable: the caller re-presents the attributes for editing.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, f[k]))
	}
	return "invalid event attributes: " + strings.Join(parts, "; ")
}

var timeRe = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// Validate checks required fields and basic formats.  A nil result
// means the attributes are committable.  A start time without a colon
// is not an error; it marks the event as all-day.
func Validate(a Attributes) FieldErrors {
	fe := FieldErrors{}
	if strings.TrimSpace(a.Summary) == "" {
		fe["summary"] = "required"
	}
	switch {
	case strings.TrimSpace(a.Date) == "":
		fe["date"] = "required"
	default:
		if _, err := time.Parse(dateLayout, a.Date); err != nil {
			fe["date"] = "must be YYYY-MM-DD"
		}
	}
	if t := a.StartTime; t != "" && strings.Contains(t, ":") && !timeRe.MatchString(t) {
		fe["start_time"] = "must be HH:MM"
	}
	if t := a.EndTime; t != "" && strings.Contains(t, ":") && !timeRe.MatchString(t) {
		fe["end_time"] = "must be HH:MM"
	}
	if len(fe) == 0 {
		return nil
	}
	return fe
}

// Request is a calendar event ready to commit.  Timed events carry
// zone-qualified start and end instants; all-day events carry whole
// calendar dates and no time-of-day component.
type Request struct {
	Summary     string
	Description string
	Location    string

	// Timezone is the IANA zone both instants are expressed in.
	Timezone string

	AllDay bool

	// Timed events only.
	Start time.Time
	End   time.Time

	// All-day events only, YYYY-MM-DD.  EndDate is exclusive, per
	// calendar API convention.
	StartDate string
	EndDate   string
}

// Build combines attributes and a resolved timezone into a commit
// request.  Missing required attributes surface as FieldErrors; a
// date/time pair that does not form a valid instant surfaces as
// ErrInvalidDateTime.
func Build(a Attributes, zone tz.Resolved) (*Request, error) {
	if fe := Validate(a); fe != nil {
		return nil, fe
	}

	loc, err := time.LoadLocation(zone.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "loading timezone %q", zone.Name)
	}

	req := &Request{
		Summary:     a.Summary,
		Description: a.Description,
		Location:    a.Location,
		Timezone:    zone.Name,
	}

	startTime := a.StartTime
	if startTime == "" {
		startTime = DefaultStartTime
	}

	if !strings.Contains(startTime, ":") {
		// No usable time of day: an all-day event spanning the
		// date through the following day.
		day, err := time.Parse(dateLayout, a.Date)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidDateTime, "date %q", a.Date)
		}
		req.AllDay = true
		req.StartDate = a.Date
		req.EndDate = day.AddDate(0, 0, 1).Format(dateLayout)
		return req, nil
	}

	start, err := time.ParseInLocation(dateTimeLayout, a.Date+" "+startTime, loc)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidDateTime, "date %q start time %q", a.Date, startTime)
	}
	req.Start = start

	if a.EndTime != "" && timeRe.MatchString(a.EndTime) {
		end, err := time.ParseInLocation(dateTimeLayout, a.Date+" "+a.EndTime, loc)
		if err == nil && end.After(start) {
			req.End = end
			return req, nil
		}
	}
	req.End = start.Add(DefaultDuration)
	return req, nil
}
