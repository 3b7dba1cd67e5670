// Package report stores abuse reports filed from random chat. Each report
// records who reported whom, the conversation and the last few messages
// exchanged, for moderator review.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidReason is returned for a reason outside the allowed set.
var ErrInvalidReason = errors.New("report: invalid reason")

// validReasons matches the CHECK constraint on abuse_reports.reason.
var validReasons = map[string]bool{
	"harassment": true,
	"spam":       true,
	"explicit":   true,
	"other":      true,
}

// ValidReason reports whether reason may be stored.
func ValidReason(reason string) bool { return validReasons[reason] }

// Report is one abuse report.
type Report struct {
	ReporterID     string
	ReportedID     string
	ConversationID string
	Reason         string
	Messages       []MessageEntry
}

// MessageEntry is one message of the snapshot attached to a report. From is
// anonymised to "reporter" or "reported".
type MessageEntry struct {
	From string `json:"from"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// Store manages abuse reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a report. The reason is validated before insertion.
func (s *Store) Create(ctx context.Context, r *Report) error {
	if !ValidReason(r.Reason) {
		return fmt.Errorf("%w %q", ErrInvalidReason, r.Reason)
	}

	var messagesJSON []byte
	if len(r.Messages) > 0 {
		var err error
		messagesJSON, err = json.Marshal(r.Messages)
		if err != nil {
			return fmt.Errorf("report: marshal messages: %w", err)
		}
	}

	const query = `
		INSERT INTO abuse_reports (reporter_id, reported_id, conversation_id, reason, messages)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query,
		r.ReporterID,
		r.ReportedID,
		r.ConversationID,
		r.Reason,
		messagesJSON,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}
