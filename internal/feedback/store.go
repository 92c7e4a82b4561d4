package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Record is one submitted feedback entry
type Record struct {
	ConversationID string
	MessageID      string
	Rating         int
	Comment        string
	MessageText    string
	SubmittedAt    time.Time
}

// Sink receives submitted feedback
type Sink interface {
	Submit(ctx context.Context, rec Record) error
}

// SQLStore writes submitted feedback to the feedback table
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps a database opened by telemetry.InitDB
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Submit inserts a record. A message can be submitted only once; a second
// insert for the same message fails on the primary key.
func (s *SQLStore) Submit(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (message_id, conversation_id, rating, comment, message_text, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.MessageID, rec.ConversationID, rec.Rating, rec.Comment, rec.MessageText, rec.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save feedback: %w", err)
	}
	return nil
}

// List returns every record for a conversation in submission order
func (s *SQLStore) List(ctx context.Context, conversationID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, conversation_id, rating, comment, message_text, submitted_at
		 FROM feedback WHERE conversation_id = ? ORDER BY submitted_at`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.MessageID, &rec.ConversationID, &rec.Rating, &rec.Comment, &rec.MessageText, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feedback: %w", err)
	}
	return records, nil
}
