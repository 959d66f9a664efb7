package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/estudaenem/tutor/internal/exam"
	"github.com/estudaenem/tutor/internal/model"
	"github.com/estudaenem/tutor/internal/sessions"
)

// Exams drives practice-exam sessions. Sessions live in a sessions.Store
// until they complete or are abandoned, then their result is persisted.
type Exams struct {
	users     UserLookup
	questions QuestionSource
	results   ActivityStore
	sessions  sessions.Store
	now       func() time.Time
	newID     func() string
	shuffle   exam.ShuffleFunc
}

// NewExams returns an Exams service.
func NewExams(users UserLookup, questions QuestionSource, results ActivityStore, holder sessions.Store) *Exams {
	return &Exams{
		users:     users,
		questions: questions,
		results:   results,
		sessions:  holder,
		now:       utcNow,
		newID:     newID,
	}
}

// Start begins an exam over a batch of questions, optionally restricted to subject.
func (e *Exams) Start(ctx context.Context, userID, subject string) (exam.Session, error) {
	if userID == "" {
		return exam.Session{}, &model.ValidationError{Field: "userId", MessageID: "ExamFieldsRequired"}
	}
	if _, err := e.users.GetUser(ctx, userID); err != nil {
		return exam.Session{}, err
	}
	qs, err := e.questions.ListQuestions(ctx, subject, exam.BatchSize)
	if err != nil {
		return exam.Session{}, fmt.Errorf("list questions: %w", err)
	}
	s, err := exam.Start(e.newID(), userID, subject, qs, e.now(), e.shuffle)
	if err != nil {
		return exam.Session{}, err
	}
	if err := e.sessions.Put(ctx, s); err != nil {
		return exam.Session{}, err
	}
	slog.Info("exam started", "session_id", s.ID, "user_id", userID, "subject", subject, "questions", len(s.Questions))
	return s, nil
}

// Get returns an in-progress session.
func (e *Exams) Get(ctx context.Context, sessionID string) (exam.Session, error) {
	return e.sessions.Get(ctx, sessionID)
}

// Select records an answer for a question of the session.
func (e *Exams) Select(ctx context.Context, sessionID, questionID, option string) (exam.Session, error) {
	return e.sessions.Update(ctx, sessionID, func(s exam.Session) (exam.Session, bool, error) {
		next, err := exam.SelectAnswer(s, questionID, option)
		return next, false, err
	})
}

// Advance moves the session forward. When the last question is passed the
// session is dropped, its result persisted and returned. Of several concurrent
// final advances only the one that removed the session sees the result; the
// others get model.ErrSessionNotFound.
func (e *Exams) Advance(ctx context.Context, sessionID string) (exam.Session, *model.ExamResult, error) {
	now := e.now()
	var result *model.ExamResult
	s, err := e.sessions.Update(ctx, sessionID, func(s exam.Session) (exam.Session, bool, error) {
		next, r, err := exam.Advance(s, now)
		result = r
		return next, r != nil, err
	})
	if err != nil {
		return exam.Session{}, nil, err
	}
	if result != nil {
		e.persist(ctx, s, result)
	}
	return s, result, nil
}

// Abandon ends the session early and persists its result.
func (e *Exams) Abandon(ctx context.Context, sessionID string) (*model.ExamResult, error) {
	now := e.now()
	var result *model.ExamResult
	s, err := e.sessions.Update(ctx, sessionID, func(s exam.Session) (exam.Session, bool, error) {
		next, r, err := exam.Abandon(s, now)
		result = r
		return next, true, err
	})
	if err != nil {
		return nil, err
	}
	e.persist(ctx, s, result)
	return result, nil
}

func (e *Exams) persist(ctx context.Context, s exam.Session, result *model.ExamResult) {
	result.ID = e.newID()
	if err := e.results.InsertExamResult(ctx, *result); err != nil {
		slog.Error("save exam result", "session_id", s.ID, "user_id", s.UserID, "error", err)
		return
	}
	slog.Info("exam finished", "session_id", s.ID, "user_id", s.UserID, "percent", result.PercentCorrect)
}
