// Package repo persists prediction runs, scored leads and notifications, and delivers
// notifications to external webhooks.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/miradorstack/mirador-leads/internal/models"
	"github.com/miradorstack/mirador-leads/internal/utils"
)

// ErrNotFound is returned when a run or notification id does not exist.
var ErrNotFound = errors.New("record not found")

const (
	leadBatchSize     = 5000
	searchLimit       = 50
	defaultNotifLimit = 10
)

const schema = `
CREATE TABLE IF NOT EXISTS prediction_runs (
	run_id INTEGER PRIMARY KEY AUTOINCREMENT,
	filename TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	total_leads INTEGER NOT NULL DEFAULT 0,
	high_priority_count INTEGER NOT NULL DEFAULT 0,
	medium_priority_count INTEGER NOT NULL DEFAULT 0,
	low_priority_count INTEGER NOT NULL DEFAULT 0,
	accuracy REAL,
	f1_score REAL,
	pr_auc REAL,
	precision_at_k REAL,
	recall_at_k REAL,
	has_actual_data INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS leads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES prediction_runs (run_id),
	lead_id TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	time_on_site REAL,
	pages_visited REAL,
	email_opened REAL,
	meeting_booked REAL,
	converted TEXT,
	prediction_score REAL NOT NULL,
	priority TEXT NOT NULL,
	raw_data TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_run_id ON leads (run_id);

CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	message TEXT NOT NULL,
	is_read INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
`

// SQLiteStore implements run, lead and notification persistence on SQLite.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens the database at dsn and applies the schema. Use ":memory:" for
// an ephemeral store.
func OpenSQLite(ctx context.Context, dsn string, logger *slog.Logger) (*SQLiteStore, error) {
	if dir := databaseDir(dsn); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	store := NewSQLiteStore(db, logger)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	store.logger.Info("lead store initialised", slog.String("dsn", dsn))
	return store, nil
}

// databaseDir returns the parent directory of a file DSN, or "" for in-memory databases.
func databaseDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	if dir := filepath.Dir(path); dir != "." {
		return dir
	}
	return ""
}

// NewSQLiteStore wraps an existing handle without touching the schema.
func NewSQLiteStore(db *sqlx.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, logger: logger, now: time.Now}
}

// Migrate creates missing tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate lead store: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts a run and returns its id. The run timestamp defaults to now.
func (s *SQLiteStore) SaveRun(ctx context.Context, run models.PredictionRun) (int64, error) {
	ts := run.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO prediction_runs (
			filename, timestamp, total_leads, high_priority_count, medium_priority_count,
			low_priority_count, accuracy, f1_score, pr_auc, precision_at_k, recall_at_k, has_actual_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Filename, utils.FormatTimestamp(ts), run.TotalLeads, run.HighCount, run.MediumCount,
		run.LowCount, nullFloat(run.Accuracy), nullFloat(run.F1Score), nullFloat(run.PRAUC),
		nullFloat(run.PrecisionAtK), nullFloat(run.RecallAtK), run.HasActualData,
	)
	if err != nil {
		return 0, fmt.Errorf("insert prediction run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("prediction run id: %w", err)
	}
	return id, nil
}

// SaveLeads inserts scored leads for a run inside one transaction, in batches.
func (s *SQLiteStore) SaveLeads(ctx context.Context, runID int64, leads []models.LeadPayload) error {
	if len(leads) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lead batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	createdAt := utils.FormatTimestamp(s.now())
	for start := 0; start < len(leads); start += leadBatchSize {
		end := min(start+leadBatchSize, len(leads))
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO leads (
				run_id, lead_id, source, time_on_site, pages_visited, email_opened, meeting_booked,
				converted, prediction_score, priority, raw_data, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare lead insert: %w", err)
		}
		for _, lead := range leads[start:end] {
			rec, err := leadColumns(lead)
			if err != nil {
				stmt.Close()
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				runID, rec.LeadID, rec.Source, rec.TimeOnSite, rec.PagesVisited, rec.EmailOpened,
				rec.MeetingBooked, rec.Converted, lead.Score, string(lead.Priority), rec.RawData, createdAt,
			); err != nil {
				stmt.Close()
				return fmt.Errorf("insert lead: %w", err)
			}
		}
		if err := stmt.Close(); err != nil {
			return fmt.Errorf("close lead insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit lead batch: %w", err)
	}
	s.logger.Debug("leads persisted", slog.Int64("run_id", runID), slog.Int("count", len(leads)))
	return nil
}

// CreateNotification stores an unread notification and returns its id.
func (s *SQLiteStore) CreateNotification(ctx context.Context, kind, message string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (type, message, is_read, created_at) VALUES (?, ?, 0, ?)`,
		kind, message, utils.FormatTimestamp(s.now()))
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("notification id: %w", err)
	}
	return id, nil
}

// History lists runs newest first.
func (s *SQLiteStore) History(ctx context.Context) ([]models.PredictionRun, error) {
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+runColumns+` FROM prediction_runs ORDER BY timestamp DESC, run_id DESC`); err != nil {
		return nil, fmt.Errorf("list prediction runs: %w", err)
	}
	runs := make([]models.PredictionRun, 0, len(rows))
	for _, r := range rows {
		run, err := r.model()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// GetRun returns one run or ErrNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, runID int64) (models.PredictionRun, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM prediction_runs WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PredictionRun{}, fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}
	if err != nil {
		return models.PredictionRun{}, fmt.Errorf("get prediction run: %w", err)
	}
	return row.model()
}

// LeadsByRun returns a run's leads ordered by score descending.
func (s *SQLiteStore) LeadsByRun(ctx context.Context, runID int64) ([]models.LeadRecord, error) {
	return s.selectLeads(ctx, `SELECT `+leadSelectColumns+` FROM leads WHERE run_id = ? ORDER BY prediction_score DESC, id ASC`, runID)
}

// Search matches lead id, source or raw row content, newest first.
func (s *SQLiteStore) Search(ctx context.Context, query string) ([]models.LeadRecord, error) {
	term := "%" + query + "%"
	return s.selectLeads(ctx, `SELECT `+leadSelectColumns+` FROM leads
		WHERE lead_id LIKE ? OR source LIKE ? OR raw_data LIKE ?
		ORDER BY created_at DESC, id DESC LIMIT `+strconv.Itoa(searchLimit), term, term, term)
}

// Notifications lists notifications newest first. A non-positive limit uses the default.
func (s *SQLiteStore) Notifications(ctx context.Context, limit int, unreadOnly bool) ([]models.Notification, error) {
	if limit <= 0 {
		limit = defaultNotifLimit
	}
	query := `SELECT id, type, message, is_read, created_at FROM notifications`
	if unreadOnly {
		query += ` WHERE is_read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]models.Notification, 0, len(rows))
	for _, r := range rows {
		created, err := utils.ParseTimestamp(r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("notification %d: %w", r.ID, err)
		}
		out = append(out, models.Notification{ID: r.ID, Type: r.Type, Message: r.Message, IsRead: r.IsRead, CreatedAt: created})
	}
	return out, nil
}

// MarkNotificationRead flags a notification as read.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) selectLeads(ctx context.Context, query string, args ...any) ([]models.LeadRecord, error) {
	var rows []leadRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select leads: %w", err)
	}
	out := make([]models.LeadRecord, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

const runColumns = `run_id, filename, timestamp, total_leads, high_priority_count, medium_priority_count,
	low_priority_count, accuracy, f1_score, pr_auc, precision_at_k, recall_at_k, has_actual_data`

type runRow struct {
	ID            int64           `db:"run_id"`
	Filename      string          `db:"filename"`
	Timestamp     string          `db:"timestamp"`
	TotalLeads    int             `db:"total_leads"`
	HighCount     int             `db:"high_priority_count"`
	MediumCount   int             `db:"medium_priority_count"`
	LowCount      int             `db:"low_priority_count"`
	Accuracy      sql.NullFloat64 `db:"accuracy"`
	F1Score       sql.NullFloat64 `db:"f1_score"`
	PRAUC         sql.NullFloat64 `db:"pr_auc"`
	PrecisionAtK  sql.NullFloat64 `db:"precision_at_k"`
	RecallAtK     sql.NullFloat64 `db:"recall_at_k"`
	HasActualData bool            `db:"has_actual_data"`
}

func (r runRow) model() (models.PredictionRun, error) {
	ts, err := utils.ParseTimestamp(r.Timestamp)
	if err != nil {
		return models.PredictionRun{}, fmt.Errorf("run %d: %w", r.ID, err)
	}
	return models.PredictionRun{
		ID:            r.ID,
		Filename:      r.Filename,
		Timestamp:     ts,
		TotalLeads:    r.TotalLeads,
		HighCount:     r.HighCount,
		MediumCount:   r.MediumCount,
		LowCount:      r.LowCount,
		Accuracy:      floatPtr(r.Accuracy),
		F1Score:       floatPtr(r.F1Score),
		PRAUC:         floatPtr(r.PRAUC),
		PrecisionAtK:  floatPtr(r.PrecisionAtK),
		RecallAtK:     floatPtr(r.RecallAtK),
		HasActualData: r.HasActualData,
	}, nil
}

const leadSelectColumns = `id, run_id, lead_id, source, time_on_site, pages_visited, email_opened,
	meeting_booked, converted, prediction_score, priority, raw_data`

type leadRow struct {
	ID              int64           `db:"id"`
	RunID           int64           `db:"run_id"`
	LeadID          string          `db:"lead_id"`
	Source          string          `db:"source"`
	TimeOnSite      sql.NullFloat64 `db:"time_on_site"`
	PagesVisited    sql.NullFloat64 `db:"pages_visited"`
	EmailOpened     sql.NullFloat64 `db:"email_opened"`
	MeetingBooked   sql.NullFloat64 `db:"meeting_booked"`
	Converted       sql.NullString  `db:"converted"`
	PredictionScore float64         `db:"prediction_score"`
	Priority        string          `db:"priority"`
	RawData         string          `db:"raw_data"`
}

func (r leadRow) model() models.LeadRecord {
	rec := models.LeadRecord{
		ID:              r.ID,
		RunID:           r.RunID,
		LeadID:          r.LeadID,
		Source:          r.Source,
		TimeOnSite:      floatPtr(r.TimeOnSite),
		PagesVisited:    floatPtr(r.PagesVisited),
		EmailOpened:     floatPtr(r.EmailOpened),
		MeetingBooked:   floatPtr(r.MeetingBooked),
		PredictionScore: r.PredictionScore,
		Priority:        models.Priority(r.Priority),
		RawData:         r.RawData,
	}
	if r.Converted.Valid {
		v := r.Converted.String
		rec.Converted = &v
	}
	return rec
}

type notificationRow struct {
	ID        int64  `db:"id"`
	Type      string `db:"type"`
	Message   string `db:"message"`
	IsRead    bool   `db:"is_read"`
	CreatedAt string `db:"created_at"`
}

type leadInsert struct {
	LeadID        string
	Source        string
	TimeOnSite    sql.NullFloat64
	PagesVisited  sql.NullFloat64
	EmailOpened   sql.NullFloat64
	MeetingBooked sql.NullFloat64
	Converted     sql.NullString
	RawData       string
}

func leadColumns(lead models.LeadPayload) (leadInsert, error) {
	raw, err := json.Marshal(lead.Data)
	if err != nil {
		return leadInsert{}, fmt.Errorf("encode lead data: %w", err)
	}
	rec := leadInsert{RawData: string(raw)}
	if v, ok := lead.Field("LeadID"); ok {
		rec.LeadID = text(v)
	}
	if v, ok := lead.Field("Source"); ok {
		rec.Source = text(v)
	}
	rec.TimeOnSite = number(lead, "TimeOnSite")
	rec.PagesVisited = number(lead, "PagesVisited")
	rec.EmailOpened = number(lead, "EmailOpened")
	rec.MeetingBooked = number(lead, "MeetingBooked")
	if v, ok := lead.Field("Converted"); ok && v != nil {
		rec.Converted = sql.NullString{String: text(v), Valid: true}
	}
	return rec, nil
}

func number(lead models.LeadPayload, name string) sql.NullFloat64 {
	v, ok := lead.Field(name)
	if !ok {
		return sql.NullFloat64{}
	}
	switch n := v.(type) {
	case float64:
		return sql.NullFloat64{Float64: n, Valid: true}
	case int:
		return sql.NullFloat64{Float64: float64(n), Valid: true}
	case int64:
		return sql.NullFloat64{Float64: float64(n), Valid: true}
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return sql.NullFloat64{Float64: f, Valid: true}
		}
	}
	return sql.NullFloat64{}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return models.FormatFloat(t)
	default:
		return fmt.Sprint(t)
	}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float64Ptr(v.Float64)
}
