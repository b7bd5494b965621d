package gcal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/HangSHI/SmartEventAdder/internal/event"

	"github.com/pkg/errors"
)

type fakePrimary struct {
	calls int
	err   error
}

func (f *fakePrimary) Insert(ctx context.Context, req *event.Request) (*Created, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Created{ID: "primary-id", URL: "https://calendar.example/evt"}, nil
}

type fakeSecondary struct {
	calls int
	err   error
}

func (f *fakeSecondary) InsertQuick(ctx context.Context, req *event.Request) (*Created, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Created{ID: "secondary-id"}, nil
}

func timedRequest() *event.Request {
	start := time.Date(2024, 1, 16, 14, 0, 0, 0, time.UTC)
	return &event.Request{
		Summary:  "Team meeting",
		Timezone: "UTC",
		Start:    start,
		End:      start.Add(time.Hour),
	}
}

func TestCommitPrimarySucceeds(t *testing.T) {
	p := &fakePrimary{}
	s := &fakeSecondary{}
	res := NewCommitter(p, s, nil).Commit(context.Background(), timedRequest())
	if !res.Success {
		t.Fatalf("Commit failed: %s", res.ErrorMessage)
	}
	if res.EventID != "primary-id" || res.EventURL == "" {
		t.Errorf("Result = %+v, want primary event with link", res)
	}
	if s.calls != 0 {
		t.Errorf("secondary called %d times after primary success, want 0", s.calls)
	}
}

func TestCommitFallsBackExactlyOnce(t *testing.T) {
	p := &fakePrimary{err: errors.New("quota exceeded")}
	s := &fakeSecondary{}
	res := NewCommitter(p, s, nil).Commit(context.Background(), timedRequest())
	if !res.Success {
		t.Fatalf("Commit failed: %s", res.ErrorMessage)
	}
	if res.EventID != "secondary-id" {
		t.Errorf("EventID = %q, want secondary-id", res.EventID)
	}
	if p.calls != 1 || s.calls != 1 {
		t.Errorf("calls = (primary %d, secondary %d), want (1, 1)", p.calls, s.calls)
	}
}

func TestCommitBothPathsFail(t *testing.T) {
	p := &fakePrimary{err: errors.New("auth expired")}
	s := &fakeSecondary{err: errors.New("default calendar gone")}
	res := NewCommitter(p, s, nil).Commit(context.Background(), timedRequest())
	if res.Success {
		t.Fatal("Commit succeeded with both paths failing")
	}
	if s.calls != 1 {
		t.Errorf("secondary called %d times, want exactly 1", s.calls)
	}
	for _, want := range []string{"auth expired", "default calendar gone"} {
		if !strings.Contains(res.ErrorMessage, want) {
			t.Errorf("ErrorMessage %q missing %q", res.ErrorMessage, want)
		}
	}
}

func TestEventBodyTimed(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2024, 1, 16, 14, 0, 0, 0, loc)
	req := &event.Request{
		Summary:  "Team meeting",
		Location: "room 101",
		Timezone: "America/New_York",
		Start:    start,
		End:      start.Add(time.Hour),
	}

	full := eventBody(req, true)
	if full.Start.DateTime != "2024-01-16T14:00:00-05:00" {
		t.Errorf("Start.DateTime = %q", full.Start.DateTime)
	}
	if full.Start.TimeZone != "America/New_York" || full.End.TimeZone != "America/New_York" {
		t.Errorf("full body missing timezone: %+v", full.Start)
	}

	narrow := eventBody(req, false)
	if narrow.Start.TimeZone != "" || narrow.End.TimeZone != "" {
		t.Errorf("narrow body carries timezone: %+v", narrow.Start)
	}
	if narrow.Start.DateTime != "2024-01-16T14:00:00-05:00" {
		t.Errorf("narrow Start.DateTime = %q", narrow.Start.DateTime)
	}
}

func TestEventBodyAllDay(t *testing.T) {
	req := &event.Request{
		Summary:   "Conference",
		AllDay:    true,
		StartDate: "2024-01-16",
		EndDate:   "2024-01-17",
	}
	body := eventBody(req, true)
	if body.Start.Date != "2024-01-16" || body.End.Date != "2024-01-17" {
		t.Errorf("all-day body = %+v / %+v", body.Start, body.End)
	}
	if body.Start.DateTime != "" {
		t.Error("all-day body must not carry a DateTime")
	}
}
