package workflow

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/HangSHI/SmartEventAdder/internal/event"
	"github.com/HangSHI/SmartEventAdder/internal/gcal"
	"github.com/HangSHI/SmartEventAdder/internal/message"
	"github.com/HangSHI/SmartEventAdder/internal/persist"
	"github.com/HangSHI/SmartEventAdder/internal/tz"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type memStore struct {
	records map[string]*persist.Record
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*persist.Record{}}
}

func (s *memStore) Put(ctx context.Context, r *persist.Record) error {
	cp := *r
	s.records[r.ID] = &cp
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*persist.Record, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, errors.Wrapf(persist.ErrNoWorkflow, "id %q", id)
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) List(ctx context.Context) ([]*persist.Record, error) {
	var out []*persist.Record
	for _, r := range s.records {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

type stubParser struct {
	attrs event.Attributes
	err   error
	input string
}

func (p *stubParser) Parse(ctx context.Context, emailText string) (event.Attributes, error) {
	p.input = emailText
	return p.attrs, p.err
}

type stubResolver struct {
	msg *message.CanonicalMessage
	err error
}

func (r *stubResolver) Resolve(ctx context.Context, raw string) (*message.CanonicalMessage, error) {
	return r.msg, r.err
}

type stubCommitter struct {
	req *event.Request
	res gcal.Result
}

func (c *stubCommitter) Commit(ctx context.Context, req *event.Request) gcal.Result {
	c.req = req
	return c.res
}

func nySettings() tz.Settings {
	return tz.FuncSettings{
		Calendar: func(ctx context.Context) (string, error) { return "America/New_York", nil },
	}
}

func newTestOrchestrator(parser *stubParser, resolver *stubResolver, committer *stubCommitter, store Store) *Orchestrator {
	o := New(resolver, parser, nySettings(), committer, store, zap.NewNop())
	n := 0
	o.newID = func() string { n++; return "wf-test" }
	return o
}

const rawEmail = "Hi team, let's meet tomorrow afternoon to go over the launch plan. See details below."

func TestPrepareAndConfirmEndToEnd(t *testing.T) {
	ctx := context.Background()
	parser := &stubParser{attrs: event.Attributes{
		Summary:   "Team meeting",
		Date:      "2024-01-16",
		StartTime: "14:00",
		Location:  "room 101",
	}}
	committer := &stubCommitter{res: gcal.Result{Success: true, EventID: "evt1", EventURL: "https://calendar/evt1"}}
	store := newMemStore()
	o := newTestOrchestrator(parser, &stubResolver{}, committer, store)

	rec, err := o.Prepare(ctx, rawEmail)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if rec.State != StateAwaitingConfirmation {
		t.Fatalf("state after Prepare = %q", rec.State)
	}
	if rec.Timezone != "America/New_York" || rec.TimezoneSource != "calendarSetting" {
		t.Errorf("timezone = %q from %q", rec.Timezone, rec.TimezoneSource)
	}
	if parser.input != rawEmail {
		t.Errorf("parser saw %q", parser.input)
	}

	rec, err = o.Confirm(ctx, rec.ID, Edits{})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if rec.State != StateCompleted || rec.EventID != "evt1" {
		t.Errorf("after Confirm: state=%q event=%q", rec.State, rec.EventID)
	}

	req := committer.req
	if req == nil {
		t.Fatal("committer never called")
	}
	wantStart := "2024-01-16T14:00:00-05:00"
	wantEnd := "2024-01-16T15:00:00-05:00"
	if got := req.Start.Format(time.RFC3339); got != wantStart {
		t.Errorf("start = %q, want %q", got, wantStart)
	}
	if got := req.End.Format(time.RFC3339); got != wantEnd {
		t.Errorf("end = %q, want %q", got, wantEnd)
	}
}

func TestPrepareIdentifierPath(t *testing.T) {
	ctx := context.Background()
	body := base64.URLEncoding.EncodeToString([]byte("Team meeting tomorrow at 2pm in room 101."))
	resolver := &stubResolver{msg: &message.CanonicalMessage{
		ID:      "1995b3c89509dde1",
		Subject: "Launch sync",
		From:    "alex@example.com",
		Date:    "Mon, 15 Jan 2024 10:00:00 -0500",
		Payload: &message.Part{MimeType: "text/plain", Body: body},
	}}
	parser := &stubParser{attrs: event.Attributes{Summary: "Launch sync", Date: "2024-01-16"}}
	o := newTestOrchestrator(parser, resolver, &stubCommitter{}, newMemStore())

	rec, err := o.Prepare(ctx, "1995b3c89509dde1")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if rec.Subject != "Launch sync" || rec.BodySource != "plain" {
		t.Errorf("record = %+v", rec)
	}
	if !strings.Contains(parser.input, "Subject: Launch sync") {
		t.Errorf("parser input missing headers: %q", parser.input)
	}
	if !strings.Contains(parser.input, "room 101") {
		t.Errorf("parser input missing body: %q", parser.input)
	}
}

func TestPreparePastedTextWithAddressIsNotAnIdentifier(t *testing.T) {
	parser := &stubParser{attrs: event.Attributes{Summary: "x", Date: "2024-01-16"}}
	resolver := &stubResolver{err: errors.New("resolver must not be called")}
	o := newTestOrchestrator(parser, resolver, &stubCommitter{}, newMemStore())

	_, err := o.Prepare(context.Background(),
		"Please join us: write to alex@example.com for the dial-in details.")
	if err != nil {
		t.Fatalf("Prepare treated pasted text as an identifier: %v", err)
	}
}

func TestPrepareRejectsShortText(t *testing.T) {
	o := newTestOrchestrator(&stubParser{}, &stubResolver{}, &stubCommitter{}, newMemStore())
	rec, err := o.Prepare(context.Background(), "lunch?")
	if err == nil {
		t.Fatal("Prepare accepted unusably short text")
	}
	if rec.State != StateFailed {
		t.Errorf("state = %q, want failed", rec.State)
	}
}

func TestPrepareRejectsActiveContent(t *testing.T) {
	o := newTestOrchestrator(&stubParser{}, &stubResolver{}, &stubCommitter{}, newMemStore())
	_, err := o.Prepare(context.Background(),
		"Meeting details here <script>alert(1)</script> tomorrow at noon")
	if err == nil {
		t.Fatal("Prepare accepted active content")
	}
}

func TestPrepareParserFailureIsStored(t *testing.T) {
	store := newMemStore()
	parser := &stubParser{err: errors.New("model unavailable")}
	o := newTestOrchestrator(parser, &stubResolver{}, &stubCommitter{}, store)

	rec, err := o.Prepare(context.Background(), rawEmail)
	if err == nil {
		t.Fatal("Prepare succeeded despite parser failure")
	}
	stored, gerr := store.Get(context.Background(), rec.ID)
	if gerr != nil {
		t.Fatalf("failed workflow was not stored: %v", gerr)
	}
	if stored.State != StateFailed || stored.LastError == "" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestConfirmValidationKeepsWorkflowSuspended(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	parser := &stubParser{attrs: event.Attributes{Summary: "Team meeting"}} // no date
	o := newTestOrchestrator(parser, &stubResolver{}, &stubCommitter{}, store)

	rec, err := o.Prepare(ctx, rawEmail)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	rec, err = o.Confirm(ctx, rec.ID, Edits{})
	var fe event.FieldErrors
	if !errors.As(err, &fe) {
		t.Fatalf("Confirm error = %v, want FieldErrors", err)
	}
	if _, ok := fe["date"]; !ok {
		t.Errorf("FieldErrors = %v, want date entry", fe)
	}
	if rec.State != StateAwaitingConfirmation {
		t.Errorf("state = %q, want still awaiting confirmation", rec.State)
	}

	// Fix the date through an edit and confirm again.
	date := "2024-01-16"
	committerRec, err := o.Confirm(ctx, rec.ID, Edits{Date: &date})
	if err == nil || committerRec.State != StateFailed {
		// The stub committer returns an unsuccessful zero Result.
		t.Errorf("Confirm after edit: state=%q err=%v", committerRec.State, err)
	}
	if committerRec.EventDate != date {
		t.Errorf("edit not applied: %q", committerRec.EventDate)
	}
}

func TestConfirmWrongState(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.Put(ctx, &persist.Record{ID: "done", State: StateCompleted})

	o := newTestOrchestrator(&stubParser{}, &stubResolver{}, &stubCommitter{}, store)
	_, err := o.Confirm(ctx, "done", Edits{})
	if errors.Cause(err) != ErrWrongState {
		t.Errorf("error = %v, want ErrWrongState", err)
	}
}

func TestConfirmCommitFailure(t *testing.T) {
	ctx := context.Background()
	parser := &stubParser{attrs: event.Attributes{Summary: "Team meeting", Date: "2024-01-16"}}
	committer := &stubCommitter{res: gcal.Result{Success: false, ErrorMessage: "quota exceeded"}}
	o := newTestOrchestrator(parser, &stubResolver{}, committer, newMemStore())

	rec, err := o.Prepare(ctx, rawEmail)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	rec, err = o.Confirm(ctx, rec.ID, Edits{})
	if err == nil {
		t.Fatal("Confirm succeeded despite commit failure")
	}
	if rec.State != StateFailed || !strings.Contains(rec.LastError, "quota exceeded") {
		t.Errorf("record = %+v", rec)
	}
}

func TestHint(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{errors.New("oauth2: token expired"), "authentication"},
		{errors.New("dial tcp: connection refused"), "network"},
		{errors.New("googleapi: Error 503: backend error"), "transient"},
		{errors.New("something odd"), ""},
		{nil, ""},
	}
	for _, tc := range cases {
		got := Hint(tc.err)
		if tc.want == "" && got != "" {
			t.Errorf("Hint(%v) = %q, want empty", tc.err, got)
		}
		if tc.want != "" && !strings.Contains(got, tc.want) {
			t.Errorf("Hint(%v) = %q, want containing %q", tc.err, got, tc.want)
		}
	}
}
