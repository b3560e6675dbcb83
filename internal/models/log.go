package models

import (
	"time"

	"github.com/google/uuid"
)

// Log levels accepted from clients and written by the system.
const (
	LevelInfo      = "info"
	LevelWarning   = "warning"
	LevelError     = "error"
	LevelException = "exception"
)

// Log is a diagnostic record, either reported by a chat client or written
// by the server itself.
type Log struct {
	ID        uuid.UUID `json:"id"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Platform  *string   `json:"platform,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	CreatedOn time.Time `json:"created_on"`
	LogFile   string    `json:"log_file,omitempty"`
}

// IsError reports whether the record should reach the error email.
func (l *Log) IsError() bool {
	return l.Level == LevelError || l.Level == LevelException
}
