package store

import (
	"context"
	"fmt"
	"time"

	"github.com/estudaenem/tutor/internal/model"
)

// Activity logs are append-only: rows are inserted once and never updated.

// InsertChatExchange stores a completed chat exchange.
func (s *Store) InsertChatExchange(ctx context.Context, c model.ChatExchange) error {
	_, err := s.exec(ctx,
		`INSERT INTO chat_exchanges (id, user_id, question, answer, subject, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Question, c.Answer, c.Subject, c.CreatedAt.UTC(),
	)
	return err
}

// InsertEssayRecord stores a graded essay.
func (s *Store) InsertEssayRecord(ctx context.Context, e model.EssayRecord) error {
	if e.TotalScore != e.Competencies.Total() {
		return fmt.Errorf("essay %s: total %d does not match competencies %d", e.ID, e.TotalScore, e.Competencies.Total())
	}
	c := e.Competencies
	_, err := s.exec(ctx,
		`INSERT INTO essay_records (id, user_id, theme, body, total_score,
			competency_1, competency_2, competency_3, competency_4, competency_5, feedback, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Theme, e.Body, e.TotalScore,
		c.FormalWriting, c.ThemeComprehension, c.Argumentation, c.LinguisticCohesion, c.InterventionProposal,
		e.Feedback, e.CreatedAt.UTC(),
	)
	return err
}

// InsertExamResult stores a practice exam summary.
func (s *Store) InsertExamResult(ctx context.Context, r model.ExamResult) error {
	_, err := s.exec(ctx,
		`INSERT INTO exam_results (id, user_id, type, question_count, correct_count, percent_correct, time_spent_minutes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Type, r.QuestionCount, r.CorrectCount, r.PercentCorrect, r.TimeSpentMinutes, r.CreatedAt.UTC(),
	)
	return err
}

// CountActivity counts a user's records of kind created at or after since.
func (s *Store) CountActivity(ctx context.Context, userID string, kind model.ActivityKind, since time.Time) (int, error) {
	var table string
	switch kind {
	case model.ActivityChat:
		table = "chat_exchanges"
	case model.ActivityEssay:
		table = "essay_records"
	default:
		return 0, fmt.Errorf("unknown activity kind %q", kind)
	}
	var count int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE user_id = ? AND created_at >= ?`, userID, since.UTC(),
	).Scan(&count)
	return count, err
}

// ListChatExchanges returns a user's most recent chat exchanges, newest first.
func (s *Store) ListChatExchanges(ctx context.Context, userID string, limit int) ([]model.ChatExchange, error) {
	rows, err := s.query(ctx,
		`SELECT id, user_id, question, answer, subject, created_at FROM chat_exchanges
		 WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chats []model.ChatExchange
	for rows.Next() {
		var c model.ChatExchange
		if err := rows.Scan(&c.ID, &c.UserID, &c.Question, &c.Answer, &c.Subject, &c.CreatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetEssayRecord returns one essay record by id.
func (s *Store) GetEssayRecord(ctx context.Context, id string) (model.EssayRecord, error) {
	row := s.queryRow(ctx,
		`SELECT id, user_id, theme, body, total_score,
			competency_1, competency_2, competency_3, competency_4, competency_5, feedback, created_at
		 FROM essay_records WHERE id = ?`, id,
	)
	return scanEssay(row)
}

// ListEssayRecords returns a user's most recent essays, newest first.
func (s *Store) ListEssayRecords(ctx context.Context, userID string, limit int) ([]model.EssayRecord, error) {
	rows, err := s.query(ctx,
		`SELECT id, user_id, theme, body, total_score,
			competency_1, competency_2, competency_3, competency_4, competency_5, feedback, created_at
		 FROM essay_records WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var essays []model.EssayRecord
	for rows.Next() {
		e, err := scanEssay(rows)
		if err != nil {
			return nil, err
		}
		essays = append(essays, e)
	}
	return essays, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEssay(row scanner) (model.EssayRecord, error) {
	var e model.EssayRecord
	c := &e.Competencies
	err := row.Scan(&e.ID, &e.UserID, &e.Theme, &e.Body, &e.TotalScore,
		&c.FormalWriting, &c.ThemeComprehension, &c.Argumentation, &c.LinguisticCohesion, &c.InterventionProposal,
		&e.Feedback, &e.CreatedAt)
	return e, err
}

// ListExamResults returns a user's most recent exam results, newest first.
func (s *Store) ListExamResults(ctx context.Context, userID string, limit int) ([]model.ExamResult, error) {
	rows, err := s.query(ctx,
		`SELECT id, user_id, type, question_count, correct_count, percent_correct, time_spent_minutes, created_at
		 FROM exam_results WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.ExamResult
	for rows.Next() {
		var r model.ExamResult
		if err := rows.Scan(&r.ID, &r.UserID, &r.Type, &r.QuestionCount, &r.CorrectCount, &r.PercentCorrect, &r.TimeSpentMinutes, &r.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
