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

// Package persist stores workflows across process invocations.
//
// A workflow suspends at its confirmation step: the `add` command
// runs resolution, extraction and parsing, then exits; the `confirm`
// command picks the workflow back up, possibly minutes later and with
// user edits applied.  The rows here are that suspension point.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	createTableSql = []string{
		// The workflows table holds one row per workflow, from
		// creation until completion or failure.
		//
		// Field: state
		//
		//   The orchestrator state name.  Rows are only written
		//   at suspension points and terminal states, so in
		//   practice this is one of "awaiting-confirmation",
		//   "completed" or "failed".
		//
		// Field: body_source
		//
		//   Extraction provenance ("plain", "html", "failed"),
		//   kept so the confirmation UI can warn when the body
		//   is the extraction sentinel.
		//
		// Field: tz_source
		//
		//   Which fallback source supplied the timezone
		//   ("calendarSetting", "sessionSetting", "localeMap",
		//   "default").
		`
CREATE TABLE IF NOT EXISTS workflows (
workflow_id TEXT NOT NULL PRIMARY KEY,
state TEXT NOT NULL,
raw_input TEXT NOT NULL,
message_id TEXT,
subject TEXT,
from_header TEXT,
date_header TEXT,
body_text TEXT,
body_source TEXT,
summary TEXT,
event_date TEXT,
start_time TEXT,
end_time TEXT,
location TEXT,
description TEXT,
timezone TEXT,
tz_source TEXT,
event_id TEXT,
event_url TEXT,
last_error TEXT,
created_at INTEGER NOT NULL,
updated_at INTEGER NOT NULL
);`,
	}
)

// ErrNoWorkflow reports that no stored workflow has the requested id.
var ErrNoWorkflow = errors.New("no such workflow")

// Record is one stored workflow.
type Record struct {
	ID       string
	State    string
	RawInput string

	// Resolved message, when the input was an identifier.
	MessageID  string
	Subject    string
	FromHeader string
	DateHeader string

	// Extraction output.
	BodyText   string
	BodySource string

	// Extracted, user-editable event attributes.
	Summary     string
	EventDate   string
	StartTime   string
	EndTime     string
	Location    string
	Description string

	// Resolved timezone.
	Timezone       string
	TimezoneSource string

	// Commit outcome, terminal states only.
	EventID   string
	EventURL  string
	LastError string

	Created time.Time
	Updated time.Time
}

type DB struct {
	db *sql.DB
}

type Tx struct {
	tx *sql.Tx
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func Open(ctx context.Context, path string) (*DB, error) {
	// The _busy_timeout is a SQLite extension that controls how
	// long SQLite will poll before giving up.  The default of 5
	// seconds is too short in practice; go with 5 minutes.
	var busyTimeout = int(5*time.Minute) / int(time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)}})
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not form a DB DSN from "+
				"the given path",
			path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not open database at %q",
			path, dsn)
	}

	if err = initSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not initialize the "+
				"database schema", path)
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction failed")
	}
	return &Tx{tx}, nil
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, sql := range createTableSql {
		if _, err := db.ExecContext(ctx, sql); err != nil {
			return errors.Wrapf(err, "while executing %q", sql)
		}
	}
	return nil
}

const recordColumns = `workflow_id, state, raw_input,
message_id, subject, from_header, date_header,
body_text, body_source,
summary, event_date, start_time, end_time, location, description,
timezone, tz_source,
event_id, event_url, last_error,
created_at, updated_at`

// PutWorkflow inserts or replaces one workflow row.  Updated is set
// to now; Created is set to now on first insert and preserved by the
// caller on updates.
func (tx *Tx) PutWorkflow(ctx context.Context, r *Record) error {
	now := time.Now()
	if r.Created.IsZero() {
		r.Created = now
	}
	r.Updated = now

	sql := `INSERT OR REPLACE INTO workflows (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.tx.ExecContext(ctx, sql,
		r.ID, r.State, r.RawInput,
		r.MessageID, r.Subject, r.FromHeader, r.DateHeader,
		r.BodyText, r.BodySource,
		r.Summary, r.EventDate, r.StartTime, r.EndTime, r.Location, r.Description,
		r.Timezone, r.TimezoneSource,
		r.EventID, r.EventURL, r.LastError,
		r.Created.Unix(), r.Updated.Unix())
	if err != nil {
		return errors.Wrapf(err, "storing workflow %q", r.ID)
	}
	return nil
}

// GetWorkflow loads one workflow row by id.
func (tx *Tx) GetWorkflow(ctx context.Context, id string) (*Record, error) {
	row := tx.tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM workflows WHERE workflow_id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNoWorkflow, "id %q", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "loading workflow %q", id)
	}
	return r, nil
}

// ListWorkflows returns all stored workflows, most recently updated
// first.
func (tx *Tx) ListWorkflows(ctx context.Context) ([]*Record, error) {
	rows, err := tx.tx.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM workflows ORDER BY updated_at DESC, workflow_id`)
	if err != nil {
		return nil, errors.Wrap(err, "listing workflows")
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning workflow row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*Record, error) {
	var r Record
	var created, updated int64
	err := s.Scan(
		&r.ID, &r.State, &r.RawInput,
		&r.MessageID, &r.Subject, &r.FromHeader, &r.DateHeader,
		&r.BodyText, &r.BodySource,
		&r.Summary, &r.EventDate, &r.StartTime, &r.EndTime, &r.Location, &r.Description,
		&r.Timezone, &r.TimezoneSource,
		&r.EventID, &r.EventURL, &r.LastError,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	r.Created = time.Unix(created, 0)
	r.Updated = time.Unix(updated, 0)
	return &r, nil
}
