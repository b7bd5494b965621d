// Package workflow drives an event-addition workflow from input to a
// committed calendar event.
//
// The workflow suspends once, at user confirmation.  Prepare runs the
// automatic half (resolve, extract, parse, resolve timezone) and
// persists the proposed attributes; Confirm, usually a separate
// process invocation, applies the user's edits, validates, builds and
// commits.  Everything between those two points lives in the store.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/HangSHI/SmartEventAdder/internal/event"
	"github.com/HangSHI/SmartEventAdder/internal/extract"
	"github.com/HangSHI/SmartEventAdder/internal/gcal"
	"github.com/HangSHI/SmartEventAdder/internal/message"
	"github.com/HangSHI/SmartEventAdder/internal/msgid"
	"github.com/HangSHI/SmartEventAdder/internal/persist"
	"github.com/HangSHI/SmartEventAdder/internal/tz"
	"github.com/HangSHI/SmartEventAdder/internal/vertex"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Workflow states.  Only the last three ever reach the store; the
// earlier ones exist within a single Prepare or Confirm call.
const (
	StateStart                = "start"
	StateResolving            = "resolving"
	StateExtracting           = "extracting"
	StateAwaitingParse        = "awaiting-parse"
	StateValidating           = "validating"
	StateCommitting           = "committing"
	StateAwaitingConfirmation = "awaiting-confirmation"
	StateCompleted            = "completed"
	StateFailed               = "failed"
)

// ErrWrongState reports a Confirm call against a workflow that is not
// suspended at confirmation.
var ErrWrongState = errors.New("workflow is not awaiting confirmation")

// Raw pasted text limits.  Text shorter than the minimum cannot
// plausibly describe an event; text beyond the maximum is truncated
// before it reaches the model.
const (
	minRawTextLen = 20
	maxRawTextLen = 10000
)

// Substrings rejected in pasted text.  The text is echoed back during
// confirmation, so active content is refused outright rather than
// stripped.
var rejectedPatterns = []string{"<script", "javascript:", "vbscript:", "data:text/html"}

// MessageResolver turns an identifier into a canonical message.
type MessageResolver interface {
	Resolve(ctx context.Context, raw string) (*message.CanonicalMessage, error)
}

// EventCommitter commits a built event request.
type EventCommitter interface {
	Commit(ctx context.Context, req *event.Request) gcal.Result
}

// Store persists workflows between Prepare and Confirm.
type Store interface {
	Put(ctx context.Context, r *persist.Record) error
	Get(ctx context.Context, id string) (*persist.Record, error)
	List(ctx context.Context) ([]*persist.Record, error)
}

// NewDBStore adapts the SQLite layer to the Store interface, one
// transaction per call.
func NewDBStore(db *persist.DB) Store {
	return &dbStore{db: db}
}

type dbStore struct {
	db *persist.DB
}

func (s *dbStore) Put(ctx context.Context, r *persist.Record) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.PutWorkflow(ctx, r); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *dbStore) Get(ctx context.Context, id string) (*persist.Record, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return tx.GetWorkflow(ctx, id)
}

func (s *dbStore) List(ctx context.Context) ([]*persist.Record, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return tx.ListWorkflows(ctx)
}

// Orchestrator runs workflows against its collaborators.
type Orchestrator struct {
	resolver  MessageResolver
	parser    vertex.Parser
	settings  tz.Settings
	committer EventCommitter
	store     Store
	log       *zap.Logger

	newID func() string
}

func New(resolver MessageResolver, parser vertex.Parser, settings tz.Settings,
	committer EventCommitter, store Store, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		resolver:  resolver,
		parser:    parser,
		settings:  settings,
		committer: committer,
		store:     store,
		newID:     uuid.NewString,
		log:       log,
	}
}

// Prepare runs the automatic half of a workflow: obtain email text
// from the input, extract event attributes and resolve a timezone,
// then suspend awaiting confirmation.  The input is either a message
// identifier or, failing classification, pasted email text.
//
// A failed workflow is still stored, so `list` shows what went wrong.
func (o *Orchestrator) Prepare(ctx context.Context, raw string) (*persist.Record, error) {
	raw = strings.TrimSpace(raw)
	rec := &persist.Record{ID: o.newID(), State: StateStart, RawInput: raw}

	if err := o.obtainText(ctx, rec, raw); err != nil {
		return o.fail(ctx, rec, err)
	}

	// The model call dominates Prepare latency and the timezone
	// chain makes its own network call, so run them concurrently.
	rec.State = StateAwaitingParse
	var attrs event.Attributes
	var zone tz.Resolved
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		attrs, err = o.parser.Parse(gctx, parseInput(rec))
		return err
	})
	g.Go(func() error {
		zone = tz.Resolve(gctx, o.settings, o.log)
		return nil
	})
	if err := g.Wait(); err != nil {
		return o.fail(ctx, rec, err)
	}

	rec.Summary = attrs.Summary
	rec.EventDate = attrs.Date
	rec.StartTime = attrs.StartTime
	rec.EndTime = attrs.EndTime
	rec.Location = attrs.Location
	rec.Description = attrs.Description
	rec.Timezone = zone.Name
	rec.TimezoneSource = zone.Source.String()
	rec.State = StateAwaitingConfirmation

	if err := o.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	o.log.Info("workflow awaiting confirmation",
		zap.String("workflow", rec.ID),
		zap.String("summary", rec.Summary),
		zap.String("timezone", rec.Timezone))
	return rec, nil
}

// obtainText fills the record's body from a resolved message or, when
// the input does not classify as an identifier, from the pasted text
// itself.
func (o *Orchestrator) obtainText(ctx context.Context, rec *persist.Record, raw string) error {
	if looksLikeIdentifier(raw) {
		rec.State = StateResolving
		m, err := o.resolver.Resolve(ctx, raw)
		if err != nil {
			return err
		}
		rec.State = StateExtracting
		rec.MessageID = m.ID
		rec.Subject = m.Subject
		rec.FromHeader = m.From
		rec.DateHeader = m.Date
		text := extract.Text(m.Payload)
		rec.BodyText = text.Text
		rec.BodySource = text.Source.String()
		return nil
	}

	body, err := validateRawText(raw)
	if err != nil {
		return err
	}
	rec.BodyText = body
	rec.BodySource = message.SourcePlain.String()
	return nil
}

// looksLikeIdentifier reports whether raw should be treated as a
// message identifier.  Identifiers never contain whitespace; pasted
// email text almost always does, and it routinely contains "@".
func looksLikeIdentifier(raw string) bool {
	if strings.ContainsAny(raw, " \t\r\n") {
		return false
	}
	_, err := msgid.Classify(raw)
	return err == nil
}

func validateRawText(raw string) (string, error) {
	if len(raw) < minRawTextLen {
		return "", errors.Errorf(
			"input is neither a message identifier nor usable email text (%d characters, need at least %d)",
			len(raw), minRawTextLen)
	}
	lower := strings.ToLower(raw)
	for _, p := range rejectedPatterns {
		if strings.Contains(lower, p) {
			return "", errors.Errorf("pasted text contains disallowed content (%q)", p)
		}
	}
	if len(raw) > maxRawTextLen {
		raw = raw[:maxRawTextLen]
	}
	return raw, nil
}

// parseInput formats the stored message for the model.  Headers give
// the model context a bare body lacks, in particular the send date
// that relative phrases like "next Tuesday" hang off.
func parseInput(rec *persist.Record) string {
	if rec.Subject == "" && rec.FromHeader == "" && rec.DateHeader == "" {
		return rec.BodyText
	}
	return fmt.Sprintf("Subject: %s\nFrom: %s\nDate: %s\n\n%s",
		rec.Subject, rec.FromHeader, rec.DateHeader, rec.BodyText)
}

// Edits are the user's corrections to the proposed attributes.  Nil
// fields keep the stored value; non-nil fields replace it, including
// with the empty string.
type Edits struct {
	Summary     *string
	Date        *string
	StartTime   *string
	EndTime     *string
	Location    *string
	Description *string
}

func applyEdits(rec *persist.Record, e Edits) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&rec.Summary, e.Summary)
	set(&rec.EventDate, e.Date)
	set(&rec.StartTime, e.StartTime)
	set(&rec.EndTime, e.EndTime)
	set(&rec.Location, e.Location)
	set(&rec.Description, e.Description)
}

// Confirm resumes a suspended workflow: apply edits, validate, build
// and commit.  Validation problems leave the workflow suspended with
// the edits saved, so the user can correct and confirm again; only a
// commit attempt moves it to a terminal state.
func (o *Orchestrator) Confirm(ctx context.Context, id string, edits Edits) (*persist.Record, error) {
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State != StateAwaitingConfirmation {
		return rec, errors.Wrapf(ErrWrongState, "workflow %q is %s", id, rec.State)
	}
	applyEdits(rec, edits)

	rec.State = StateValidating
	attrs := event.Attributes{
		Summary:     rec.Summary,
		Date:        rec.EventDate,
		StartTime:   rec.StartTime,
		EndTime:     rec.EndTime,
		Location:    rec.Location,
		Description: rec.Description,
	}
	zone := tz.Resolved{Name: rec.Timezone, Source: tz.SourceFromString(rec.TimezoneSource)}
	req, err := event.Build(attrs, zone)
	if err != nil {
		rec.State = StateAwaitingConfirmation
		if perr := o.store.Put(ctx, rec); perr != nil {
			return nil, perr
		}
		return rec, err
	}

	rec.State = StateCommitting
	res := o.committer.Commit(ctx, req)
	if !res.Success {
		rec.State = StateFailed
		rec.LastError = res.ErrorMessage
		if perr := o.store.Put(ctx, rec); perr != nil {
			return nil, perr
		}
		return rec, errors.Errorf("calendar commit failed: %s", res.ErrorMessage)
	}

	rec.State = StateCompleted
	rec.EventID = res.EventID
	rec.EventURL = res.EventURL
	rec.LastError = ""
	if err := o.store.Put(ctx, rec); err != nil {
		return nil, err
	}
	o.log.Info("workflow completed",
		zap.String("workflow", rec.ID),
		zap.String("event", rec.EventID))
	return rec, nil
}

// Get loads one stored workflow.
func (o *Orchestrator) Get(ctx context.Context, id string) (*persist.Record, error) {
	return o.store.Get(ctx, id)
}

// List returns all stored workflows, most recently updated first.
func (o *Orchestrator) List(ctx context.Context) ([]*persist.Record, error) {
	return o.store.List(ctx)
}

func (o *Orchestrator) fail(ctx context.Context, rec *persist.Record, cause error) (*persist.Record, error) {
	rec.State = StateFailed
	rec.LastError = cause.Error()
	if err := o.store.Put(ctx, rec); err != nil {
		o.log.Error("storing failed workflow", zap.Error(err))
	}
	return rec, cause
}

// Hint maps an error to a one-line suggestion for the user, or "" if
// nothing useful can be said.
func Hint(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "oauth", "token", "credential", "unauthorized", "401", "403", "permission"):
		return "authentication problem: delete the cached token and re-run to authorize again"
	case containsAny(msg, "connection", "dial", "timeout", "network", "no such host"):
		return "network problem: check connectivity and retry"
	case containsAny(msg, "500", "502", "503", "backend", "server error", "internal error"):
		return "the service had a transient problem: retry in a moment"
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
