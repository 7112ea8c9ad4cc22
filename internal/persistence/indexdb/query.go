package indexdb

import (
	"context"
	"database/sql"

	"queuequiz.ai/internal/persistence/archive"
)

// Sessions returns the most recently ended sessions, newest first.
func (s *SQLiteIndex) Sessions(ctx context.Context, limit int) ([]archive.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,agent,started_at,ended_at,duration_ms,answered,reason,final_position
		FROM sessions ORDER BY ended_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []archive.SessionRecord
	for rows.Next() {
		var (
			r          archive.SessionRecord
			start, end string
			final      sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Agent, &start, &end, &r.DurationMS, &r.Answered, &r.Reason, &final); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(start)
		r.EndedAt = parseTime(end)
		r.FinalPosition = final.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Answers lists the answers of one session in send order.
func (s *SQLiteIndex) Answers(ctx context.Context, sessionID string) ([]AnswerRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id,seq,key,letter,prompt,answered_at
		FROM answers WHERE session_id=? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnswerRow
	for rows.Next() {
		var (
			a  AnswerRow
			at string
		)
		if err := rows.Scan(&a.SessionID, &a.Seq, &a.Key, &a.Letter, &a.Prompt, &at); err != nil {
			return nil, err
		}
		a.AnsweredAt = parseTime(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Meta reads one meta value; ok is false when absent.
func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
