package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/emitt/replyd/internal/email"
)

// timeLayout is fixed width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store provides database operations
type Store struct {
	db      *sql.DB
	now     func() time.Time
	maxLogs int
}

// NewStore creates a new Store with the given database path
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &Store{db: db, now: time.Now, maxLogs: MaxActivityLogs}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs database migrations
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS emails (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			mailbox_name TEXT,
			message_id TEXT,
			from_addr TEXT NOT NULL DEFAULT '',
			to_addr TEXT NOT NULL DEFAULT '',
			subject TEXT,
			date TEXT,
			text_body TEXT,
			html_body TEXT,
			attachments TEXT,
			raw_size INTEGER NOT NULL DEFAULT 0,
			analysis TEXT,
			send_result TEXT,
			sent INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			received_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_message_id ON emails(message_id)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_received ON emails(received_at)`,

		`CREATE TABLE IF NOT EXISTS activity_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			activity_type TEXT NOT NULL,
			level TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_type ON activity_logs(activity_type)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_created ON activity_logs(created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const emailColumns = `id, kind, mailbox_name, message_id, from_addr, to_addr, subject, date,
	text_body, html_body, attachments, raw_size, analysis, send_result, sent, status, received_at`

// SaveEmail stores a new email record, assigning ID and ReceivedAt when unset.
func (s *Store) SaveEmail(ctx context.Context, rec *EmailRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = s.now()
	}
	if rec.Status == "" {
		rec.Status = EmailStatusCompleted
	}

	attachments, err := json.Marshal(rec.Email.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.Kind, rec.MailboxName, rec.Email.MessageID, rec.Email.From, rec.Email.To,
		rec.Email.Subject, rec.Email.Date, rec.Email.TextContent, rec.Email.HTMLContent,
		string(attachments), rec.Email.RawSize, nullJSON(rec.Analysis), nullJSON(rec.SendResult),
		rec.Sent, rec.Status, formatTime(rec.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save email: %w", err)
	}
	return nil
}

// ListEmails returns a page of records, newest first, with the total count.
func (s *Store) ListEmails(ctx context.Context, limit, offset int) (*EmailPage, error) {
	page := &EmailPage{Emails: []*EmailRecord{}, Offset: offset, Limit: limit}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&page.TotalCount); err != nil {
		return nil, fmt.Errorf("failed to count emails: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+emailColumns+`
		FROM emails ORDER BY received_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	defer rows.Close()

	emails, err := scanEmails(rows)
	if err != nil {
		return nil, err
	}
	page.Emails = emails
	page.Showing = len(emails)
	return page, nil
}

// SearchEmails returns records whose sender, subject or bodies contain query,
// ignoring case.
func (s *Store) SearchEmails(ctx context.Context, query string, limit int) ([]*EmailRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+emailColumns+`
		FROM emails
		WHERE instr(lower(from_addr), lower(?1)) > 0
		   OR instr(lower(subject), lower(?1)) > 0
		   OR instr(lower(coalesce(text_body, '')), lower(?1)) > 0
		   OR instr(lower(coalesce(html_body, '')), lower(?1)) > 0
		ORDER BY received_at DESC LIMIT ?2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}
	defer rows.Close()

	return scanEmails(rows)
}

// GetEmailByMessageID returns the newest record with the given Message-ID.
func (s *Store) GetEmailByMessageID(ctx context.Context, messageID string) (*EmailRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+emailColumns+`
		FROM emails WHERE message_id = ? ORDER BY received_at DESC LIMIT 1
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	defer rows.Close()

	emails, err := scanEmails(rows)
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return nil, ErrNotFound
	}
	return emails[0], nil
}

// LogActivity appends an activity entry and keeps only the most recent
// MaxActivityLogs entries.
func (s *Store) LogActivity(ctx context.Context, activityType, level string, details map[string]any) error {
	if level == "" {
		level = "info"
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode activity details: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO activity_logs (activity_type, level, details, created_at)
		VALUES (?, ?, ?, ?)
	`, activityType, level, string(data), formatTime(s.now())); err != nil {
		return fmt.Errorf("failed to save activity log: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM activity_logs WHERE id NOT IN (
			SELECT id FROM activity_logs ORDER BY id DESC LIMIT ?
		)
	`, s.maxLogs); err != nil {
		return fmt.Errorf("failed to trim activity logs: %w", err)
	}

	return tx.Commit()
}

// GetLogs returns up to limit activity entries, newest first, optionally
// restricted to one activity type.
func (s *Store) GetLogs(ctx context.Context, limit int, activityType string) ([]*ActivityLog, error) {
	query := `SELECT id, activity_type, level, details, created_at FROM activity_logs`
	var args []any
	if activityType != "" {
		query += ` WHERE activity_type = ?`
		args = append(args, activityType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity logs: %w", err)
	}
	defer rows.Close()

	logs := []*ActivityLog{}
	for rows.Next() {
		var log ActivityLog
		var details sql.NullString
		var createdAt string
		if err := rows.Scan(&log.ID, &log.Type, &log.Level, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		if details.Valid {
			log.Details = json.RawMessage(details.String)
		}
		log.CreatedAt = parseTime(createdAt)
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}

// GetStatistics returns counts over stored records. Rates are percentages.
func (s *Store) GetStatistics(ctx context.Context) (*Statistics, error) {
	var stats Statistics

	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN received_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(sent), 0),
			COALESCE(SUM(CASE WHEN analysis IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM emails
	`, formatTime(today)).Scan(&stats.TotalEmails, &stats.TodayEmails, &stats.SuccessfulSends, &stats.AnalyzedEmails)
	if err != nil {
		return nil, fmt.Errorf("failed to count emails: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_logs`).Scan(&stats.TotalLogs); err != nil {
		return nil, fmt.Errorf("failed to count activity logs: %w", err)
	}

	if stats.TotalEmails > 0 {
		stats.SuccessRate = float64(stats.SuccessfulSends) / float64(stats.TotalEmails) * 100
		stats.AnalysisRate = float64(stats.AnalyzedEmails) / float64(stats.TotalEmails) * 100
	}
	return &stats, nil
}

// CleanupOldData removes records and activity entries older than days.
func (s *Store) CleanupOldData(ctx context.Context, days int) (*CleanupResult, error) {
	cutoff := formatTime(s.now().AddDate(0, 0, -days))
	var result CleanupResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM emails WHERE received_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to clean emails: %w", err)
	}
	n, _ := res.RowsAffected()
	result.CleanedEmails = int(n)

	res, err = tx.ExecContext(ctx, `DELETE FROM activity_logs WHERE created_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to clean activity logs: %w", err)
	}
	n, _ = res.RowsAffected()
	result.CleanedLogs = int(n)

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&result.RemainingEmails); err != nil {
		return nil, fmt.Errorf("failed to count emails: %w", err)
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_logs`).Scan(&result.RemainingLogs); err != nil {
		return nil, fmt.Errorf("failed to count activity logs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return &result, nil
}

func scanEmails(rows *sql.Rows) ([]*EmailRecord, error) {
	emails := []*EmailRecord{}
	for rows.Next() {
		var rec EmailRecord
		var mailbox, messageID, subject, date, text, html, attachments, analysis, sendResult sql.NullString
		var receivedAt string

		if err := rows.Scan(
			&rec.ID, &rec.Kind, &mailbox, &messageID, &rec.Email.From, &rec.Email.To,
			&subject, &date, &text, &html, &attachments, &rec.Email.RawSize,
			&analysis, &sendResult, &rec.Sent, &rec.Status, &receivedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}

		rec.MailboxName = mailbox.String
		rec.Email.MessageID = messageID.String
		rec.Email.Subject = subject.String
		rec.Email.Date = date.String
		rec.Email.TextContent = text.String
		rec.Email.HTMLContent = html.String
		rec.Email.Attachments = []email.Attachment{}
		if attachments.Valid && attachments.String != "" {
			if err := json.Unmarshal([]byte(attachments.String), &rec.Email.Attachments); err != nil {
				return nil, fmt.Errorf("failed to decode attachments: %w", err)
			}
		}
		if analysis.Valid {
			rec.Analysis = json.RawMessage(analysis.String)
		}
		if sendResult.Valid {
			rec.SendResult = json.RawMessage(sendResult.String)
		}
		rec.ReceivedAt = parseTime(receivedAt)

		emails = append(emails, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate emails: %w", err)
	}
	return emails, nil
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return string(raw)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
