package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/estudaenem/tutor/internal/model"
)

// Tutor runs the chat and essay-correction pipelines. Each request goes
// through the quota check, then the completion call, then persistence; a
// failure at any step skips the later ones.
type Tutor struct {
	quota QuotaChecker
	llm   Completer
	store ActivityStore
	now   func() time.Time
	newID func() string
}

// NewTutor returns a Tutor.
func NewTutor(q QuotaChecker, c Completer, s ActivityStore) *Tutor {
	return &Tutor{quota: q, llm: c, store: s, now: utcNow, newID: newID}
}

// ChatRequest is a question for the AI tutor.
type ChatRequest struct {
	Question string `json:"question"`
	Subject  string `json:"subject"`
	UserID   string `json:"userId"`
}

// EssayRequest is an essay submitted for correction.
type EssayRequest struct {
	Theme  string `json:"theme"`
	Body   string `json:"body"`
	UserID string `json:"userId"`
}

// Ask answers a tutoring question. A storage failure after a successful
// completion is logged and the answer is still returned.
func (t *Tutor) Ask(ctx context.Context, req ChatRequest) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", &model.ValidationError{Field: "question", MessageID: "ChatFieldsRequired"}
	}
	if req.UserID == "" {
		return "", &model.ValidationError{Field: "userId", MessageID: "ChatFieldsRequired"}
	}
	subject := req.Subject
	if subject == "" {
		subject = model.DefaultSubject
	}

	if err := t.quota.Check(ctx, req.UserID, model.ActivityChat); err != nil {
		return "", err
	}

	answer, err := t.llm.Answer(ctx, req.Question, subject)
	if err != nil {
		slog.Error("chat completion failed", "user_id", req.UserID, "error", err)
		return "", err
	}

	exchange := model.ChatExchange{
		ID:        t.newID(),
		UserID:    req.UserID,
		Question:  req.Question,
		Answer:    &answer,
		Subject:   subject,
		CreatedAt: t.now(),
	}
	if err := t.store.InsertChatExchange(ctx, exchange); err != nil {
		slog.Error("save chat exchange", "user_id", req.UserID, "kind", model.ActivityChat, "error", err)
	}
	return answer, nil
}

// CorrectEssay grades an essay. The grade is returned even when saving it
// fails; the failure is only logged.
func (t *Tutor) CorrectEssay(ctx context.Context, req EssayRequest) (model.EssayGrade, error) {
	if err := model.ValidateEssay(req.Theme, req.Body); err != nil {
		return model.EssayGrade{}, err
	}
	if req.UserID == "" {
		return model.EssayGrade{}, &model.ValidationError{Field: "userId", MessageID: "EssayFieldsRequired"}
	}

	if err := t.quota.Check(ctx, req.UserID, model.ActivityEssay); err != nil {
		return model.EssayGrade{}, err
	}

	grade, err := t.llm.GradeEssay(ctx, req.Theme, req.Body)
	if err != nil {
		slog.Error("essay grading failed", "user_id", req.UserID, "error", err)
		return model.EssayGrade{}, err
	}

	record := model.EssayRecord{
		ID:           t.newID(),
		UserID:       req.UserID,
		Theme:        req.Theme,
		Body:         req.Body,
		TotalScore:   grade.TotalScore,
		Competencies: grade.Competencies,
		Feedback:     grade.Feedback,
		CreatedAt:    t.now(),
	}
	if err := t.store.InsertEssayRecord(ctx, record); err != nil {
		slog.Error("save essay record", "user_id", req.UserID, "kind", model.ActivityEssay, "error", err)
	} else {
		slog.Info("essay graded", "user_id", req.UserID, "essay_id", record.ID, "total", grade.TotalScore)
	}
	return grade, nil
}

// Usage reports the user's quota state.
func (t *Tutor) Usage(ctx context.Context, userID string) (model.Usage, error) {
	return t.quota.Usage(ctx, userID)
}
