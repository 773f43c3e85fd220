package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/emitt/replyd/internal/email"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")

// MaxActivityLogs is the number of most recent activity entries kept.
const MaxActivityLogs = 1000

// EmailRecord is a stored inbound message together with what was done
// with it. Analysis and SendResult hold the JSON of the pipeline results
// and are null when that stage did not run.
type EmailRecord struct {
	ID          string               `json:"id"`
	Kind        RecordKind           `json:"kind"`
	MailboxName string               `json:"mailbox_name,omitempty"`
	Email       email.ProcessedEmail `json:"email_data"`
	Analysis    json.RawMessage      `json:"analysis_result"`
	SendResult  json.RawMessage      `json:"send_result"`
	Sent        bool                 `json:"sent"`
	Status      EmailStatus          `json:"processing_status"`
	ReceivedAt  time.Time            `json:"timestamp"`
}

// RecordKind names the pipeline branch that handled a message.
type RecordKind string

const (
	KindReply       RecordKind = "reply"
	KindTranslation RecordKind = "translation"
	KindStored      RecordKind = "stored"
)

// EmailStatus represents the processing status of an email
type EmailStatus string

const (
	EmailStatusCompleted EmailStatus = "completed"
	EmailStatusSkipped   EmailStatus = "skipped"
	EmailStatusFailed    EmailStatus = "failed"
)

// EmailPage is one page of ListEmails.
type EmailPage struct {
	Emails     []*EmailRecord `json:"emails"`
	TotalCount int            `json:"total_count"`
	Showing    int            `json:"showing"`
	Offset     int            `json:"offset"`
	Limit      int            `json:"limit"`
}

// ActivityLog is one entry of the activity journal.
type ActivityLog struct {
	ID        int64           `json:"id"`
	Type      string          `json:"activity_type"`
	Level     string          `json:"level"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"timestamp"`
}

// Statistics summarises stored records.
type Statistics struct {
	TotalEmails     int     `json:"total_emails"`
	TodayEmails     int     `json:"today_emails"`
	SuccessfulSends int     `json:"successful_sends"`
	AnalyzedEmails  int     `json:"analyzed_emails"`
	TotalLogs       int     `json:"total_logs"`
	SuccessRate     float64 `json:"success_rate"`
	AnalysisRate    float64 `json:"analysis_rate"`
}

// CleanupResult reports what CleanupOldData removed.
type CleanupResult struct {
	CleanedEmails   int `json:"cleaned_emails"`
	CleanedLogs     int `json:"cleaned_logs"`
	RemainingEmails int `json:"remaining_emails"`
	RemainingLogs   int `json:"remaining_logs"`
}
