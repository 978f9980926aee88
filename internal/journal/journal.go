// Package journal keeps a local history of every check made against the portal.
// It never stores credentials.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"labwatch/internal/components/assert"
	"labwatch/internal/components/chrono"
	"labwatch/internal/components/telemetry"
	"labwatch/internal/journal/db"
	"labwatch/internal/monitor"
	"labwatch/pkg/migrations"
	"net/url"
	"time"

	"github.com/mazen160/go-random"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

const (
	report_db_query        = "db.query"
	report_record_outcomes = "journal.record-outcomes"
)

// Config selects either a local sqlite file or a remote libsql database, Url wins
// when both are set.
type Config struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config Config) OpenDB() (*sql.DB, error) {
	if config.Url == "" {
		if config.File == "" {
			return nil, fmt.Errorf("neither a journal file nor a url was specified")
		}
		return migrations.OpenDB(config.File)
	}

	values := url.Values{}
	if config.AuthToken != "" {
		values.Add("authToken", config.AuthToken)
	}
	dsn := config.Url
	if len(values) > 0 {
		dsn += "?" + values.Encode()
	}
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	return db, nil
}

// Entry is one recorded check of one user.
type Entry struct {
	RunID     string
	UserID    string
	Status    string
	Link      string
	Filename  string
	Size      int
	Delivered bool
	Error     string
	CheckedAt time.Time
}

// NewRunID returns a random id shared by every entry of one check pass.
func NewRunID() (string, error) {
	id, err := random.String(10)
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

type Journal struct {
	sqldb  *sql.DB
	db     *db.Queries
	makeTx db.MakeTx
	time   chrono.API
	tel    telemetry.API
}

// Open opens the configured database and makes sure the schema exists.
func Open(ctx context.Context, config Config, tel telemetry.API) (*Journal, error) {
	sqldb, err := config.OpenDB()
	if err != nil {
		return nil, err
	}
	j, err := New(ctx, sqldb, chrono.StandardImpl{}, tel)
	if err != nil {
		sqldb.Close()
		return nil, err
	}
	return j, nil
}

func New(ctx context.Context, sqldb *sql.DB, time chrono.API, tel telemetry.API) (*Journal, error) {
	assert.NotNil(sqldb, "db")
	assert.NotNil(time, "clock")
	assert.NotNil(tel, "telemetry")

	err := migrations.ApplySchema(ctx, sqldb, db.Schema)
	if err != nil {
		return nil, err
	}

	return &Journal{
		sqldb:  sqldb,
		db:     db.New(sqldb),
		makeTx: db.NewMakeTx(sqldb),
		time:   time,
		tel:    telemetry.NewScopedAPI("journal", tel),
	}, nil
}

func (j *Journal) Close() error {
	return j.sqldb.Close()
}

func (j *Journal) entryParams(entry Entry) db.CreateCheckEntryParams {
	checkedAt := entry.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = j.time.Now()
	}
	return db.CreateCheckEntryParams{
		RunID:     entry.RunID,
		UserID:    entry.UserID,
		Status:    entry.Status,
		Link:      entry.Link,
		Filename:  entry.Filename,
		Size:      int64(entry.Size),
		Delivered: entry.Delivered,
		Error:     entry.Error,
		CheckedAt: checkedAt.UnixMilli(),
	}
}

// Record stores a single entry, a zero CheckedAt is set to the current time.
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	param := j.entryParams(entry)
	err := j.db.CreateCheckEntry(ctx, param)
	if err != nil {
		j.tel.ReportBroken(report_db_query, err, "CreateCheckEntry", param.RunID, param.UserID)
		return fmt.Errorf("record check entry: %w", err)
	}
	return nil
}

func fromRow(row db.CheckEntry) Entry {
	return Entry{
		RunID:     row.RunID,
		UserID:    row.UserID,
		Status:    row.Status,
		Link:      row.Link,
		Filename:  row.Filename,
		Size:      int(row.Size),
		Delivered: row.Delivered,
		Error:     row.Error,
		CheckedAt: time.UnixMilli(row.CheckedAt),
	}
}

func fromRows(rows []db.CheckEntry) []Entry {
	entries := make([]Entry, len(rows))
	for i, row := range rows {
		entries[i] = fromRow(row)
	}
	return entries
}

// Recent returns the latest `limit` entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.GetRecentCheckEntries(ctx, int64(limit))
	if err != nil {
		j.tel.ReportBroken(report_db_query, err, "GetRecentCheckEntries", limit)
		return nil, fmt.Errorf("get recent entries: %w", err)
	}
	return fromRows(rows), nil
}

// UserHistory returns the latest `limit` entries of a single user, newest first.
func (j *Journal) UserHistory(ctx context.Context, userID string, limit int) ([]Entry, error) {
	param := db.GetUserCheckEntriesParams{UserID: userID, Limit: int64(limit)}
	rows, err := j.db.GetUserCheckEntries(ctx, param)
	if err != nil {
		j.tel.ReportBroken(report_db_query, err, "GetUserCheckEntries", param)
		return nil, fmt.Errorf("get user entries: %w", err)
	}
	return fromRows(rows), nil
}

// OutcomeEntry converts a monitor outcome into a journal entry.
func OutcomeEntry(runID string, outcome monitor.Outcome) Entry {
	entry := Entry{
		RunID:     runID,
		UserID:    outcome.UserID,
		Status:    string(outcome.Status),
		Link:      outcome.Link,
		Filename:  outcome.Filename,
		Size:      outcome.Size,
		Delivered: outcome.Delivered,
	}
	if entry.Status == "" {
		entry.Status = "error"
	}
	if outcome.Err != nil {
		entry.Error = outcome.Err.Error()
	}
	return entry
}

// RecordOutcomes stores every outcome of one check pass in a single transaction.
func (j *Journal) RecordOutcomes(ctx context.Context, runID string, outcomes []monitor.Outcome) error {
	tx, discard, commit, err := j.makeTx()
	if err != nil {
		j.tel.ReportBroken(report_db_query, fmt.Errorf("make tx: %w", err))
		return err
	}
	defer discard()

	now := j.time.Now()
	for _, outcome := range outcomes {
		entry := OutcomeEntry(runID, outcome)
		entry.CheckedAt = now
		param := j.entryParams(entry)
		err = tx.CreateCheckEntry(ctx, param)
		if err != nil {
			j.tel.ReportBroken(report_record_outcomes, err, runID, outcome.UserID)
			return fmt.Errorf("record outcome of %s: %w", outcome.UserID, err)
		}
	}

	err = commit()
	if err != nil {
		j.tel.ReportBroken(report_record_outcomes, fmt.Errorf("commit: %w", err), runID)
		return err
	}
	return nil
}
