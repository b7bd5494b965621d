// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gcal commits built events to Google Calendar.
//
// Two paths exist on purpose.  The primary path is the full-featured
// events API on the configured calendar.  It occasionally fails under
// credentials that still work against the account's default calendar,
// so on any primary failure the committer retries exactly once
// through a narrower insert there: title, instants, description and
// location only, no explicit timezone.  The two paths are never run
// in parallel; that would risk duplicate events.
package gcal

import (
	"context"
	"net/http"
	"time"

	"github.com/HangSHI/SmartEventAdder/internal/event"
	"github.com/HangSHI/SmartEventAdder/internal/fallback"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Scopes required by this package.
const (
	EventsScope   = calendar.CalendarEventsScope
	SettingsScope = calendar.CalendarSettingsReadonlyScope
)

const (
	// See https://developers.google.com/calendar/api/guides/quota
	queriesPerSecond = 5
	queryBurst       = 10
)

// Created identifies an event accepted by either calendar path.  URL
// may be empty; the secondary path does not guarantee a link.
type Created struct {
	ID  string
	URL string
}

// Inserter is the primary, full-featured calendar path.
type Inserter interface {
	Insert(ctx context.Context, req *event.Request) (*Created, error)
}

// QuickInserter is the secondary path: a narrower event shape against
// the account's default calendar.
type QuickInserter interface {
	InsertQuick(ctx context.Context, req *event.Request) (*Created, error)
}

// Result is the outcome of one commit attempt pair.
type Result struct {
	Success      bool
	EventID      string
	EventURL     string
	ErrorMessage string
}

// Committer runs the two-tier commit strategy.
type Committer struct {
	primary   Inserter
	secondary QuickInserter
	log       *zap.Logger
}

func NewCommitter(primary Inserter, secondary QuickInserter, log *zap.Logger) *Committer {
	return &Committer{primary: primary, secondary: secondary, log: log}
}

// Commit attempts the primary path and, on any failure, the secondary
// path once.  If both fail the result carries both error messages.
func (c *Committer) Commit(ctx context.Context, req *event.Request) Result {
	created, path, err := fallback.First(ctx,
		fallback.Source[*Created]{Name: "primary", Get: func(ctx context.Context) (*Created, error) {
			return c.primary.Insert(ctx, req)
		}},
		fallback.Source[*Created]{Name: "secondary", Get: func(ctx context.Context) (*Created, error) {
			if c.log != nil {
				c.log.Warn("primary calendar insert failed, retrying via default calendar",
					zap.String("summary", req.Summary))
			}
			return c.secondary.InsertQuick(ctx, req)
		}},
	)
	if err != nil {
		return Result{Success: false, ErrorMessage: err.Error()}
	}
	if c.log != nil {
		c.log.Info("calendar event created",
			zap.String("path", path),
			zap.String("id", created.ID))
	}
	return Result{Success: true, EventID: created.ID, EventURL: created.URL}
}

// Service is the Google Calendar implementation of both insert paths
// and of the calendar timezone setting source.
type Service struct {
	service    *calendar.Service
	calendarID string
	limiter    *rate.Limiter
	log        *zap.Logger
}

// New builds a Service around an authenticated HTTP client.  An empty
// calendarID selects the account's primary calendar for both paths.
func New(ctx context.Context, client *http.Client, calendarID string, log *zap.Logger) (*Service, error) {
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, errors.Wrap(err, "initializing calendar service")
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Service{
		service:    svc,
		calendarID: calendarID,
		limiter:    rate.NewLimiter(queriesPerSecond, queryBurst),
		log:        log,
	}, nil
}

// Insert creates the event on the configured calendar with the full
// event shape, including explicit timezones.
func (s *Service) Insert(ctx context.Context, req *event.Request) (*Created, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ev := eventBody(req, true)
	got, err := s.service.Events.Insert(s.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrapf(err, "inserting event %q into calendar %q", req.Summary, s.calendarID)
	}
	return &Created{ID: got.Id, URL: got.HtmlLink}, nil
}

// InsertQuick creates the event on the account's default calendar
// with the narrow shape.  The calendar infers the timezone from the
// account; the instants carry their UTC offsets.
func (s *Service) InsertQuick(ctx context.Context, req *event.Request) (*Created, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ev := eventBody(req, false)
	got, err := s.service.Events.Insert("primary", ev).Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrapf(err, "inserting event %q into default calendar", req.Summary)
	}
	return &Created{ID: got.Id}, nil
}

// Timezone reads the calendar service timezone setting.  It is the
// first source in the timezone resolution chain.
func (s *Service) Timezone(ctx context.Context) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	setting, err := s.service.Settings.Get("timezone").Context(ctx).Do()
	if err != nil {
		return "", errors.Wrap(err, "reading calendar timezone setting")
	}
	return setting.Value, nil
}

func eventBody(req *event.Request, withZone bool) *calendar.Event {
	ev := &calendar.Event{
		Summary:     req.Summary,
		Location:    req.Location,
		Description: req.Description,
	}
	if req.AllDay {
		ev.Start = &calendar.EventDateTime{Date: req.StartDate}
		ev.End = &calendar.EventDateTime{Date: req.EndDate}
		return ev
	}
	ev.Start = &calendar.EventDateTime{DateTime: req.Start.Format(time.RFC3339)}
	ev.End = &calendar.EventDateTime{DateTime: req.End.Format(time.RFC3339)}
	if withZone {
		ev.Start.TimeZone = req.Timezone
		ev.End.TimeZone = req.Timezone
	}
	return ev
}
