package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/estudaenem/tutor/internal/model"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertQuestion stores a question and returns its id. A blank id is generated.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (string, error) {
	return s.insertQuestion(ctx, s.db, q)
}

// ImportQuestions stores a batch of questions read from path and records hash
// as its imported content, all in one transaction. Nothing is kept if any
// insert fails.
func (s *Store) ImportQuestions(ctx context.Context, path, hash string, questions []model.Question) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for i, q := range questions {
		if _, err := s.insertQuestion(ctx, tx, q); err != nil {
			return fmt.Errorf("insert question %d: %w", i+1, err)
		}
	}
	if err := s.setMetadata(ctx, tx, importKey(path), hash); err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	return tx.Commit()
}

func (s *Store) insertQuestion(ctx context.Context, ex execer, q model.Question) (string, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return "", fmt.Errorf("encode options: %w", err)
	}
	_, err = ex.ExecContext(ctx, s.rebind(
		`INSERT INTO questions (id, prompt, options, correct_option, subject, difficulty, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		q.ID, q.Prompt, string(opts), q.CorrectOption, q.Subject, q.Difficulty, q.CreatedAt.UTC(),
	)
	if err != nil {
		return "", err
	}
	return q.ID, nil
}

// ListQuestions returns up to limit questions, optionally restricted to one
// subject. An empty subject means no filtering.
func (s *Store) ListQuestions(ctx context.Context, subject string, limit int) ([]model.Question, error) {
	query := `SELECT id, prompt, options, correct_option, subject, difficulty, created_at FROM questions WHERE 1=1`
	var args []any
	if subject != "" {
		query += ` AND subject = ?`
		args = append(args, subject)
	}
	query += ` ORDER BY created_at, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var opts string
		if err := rows.Scan(&q.ID, &q.Prompt, &opts, &q.CorrectOption, &q.Subject, &q.Difficulty, &q.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of question %s: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of questions in the bank.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}
