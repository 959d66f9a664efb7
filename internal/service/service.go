// Package service wires the quota checker, the completion client and the store
// into the request pipelines served over HTTP.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/estudaenem/tutor/internal/model"
)

// History sizes returned by the listing queries.
const (
	ChatHistoryLimit  = 50
	EssayHistoryLimit = 5
	ExamHistoryLimit  = 5
)

// Completer talks to the language-model endpoint.
type Completer interface {
	Answer(ctx context.Context, question, subject string) (string, error)
	GradeEssay(ctx context.Context, theme, body string) (model.EssayGrade, error)
}

// QuotaChecker gates AI activity by plan.
type QuotaChecker interface {
	Check(ctx context.Context, userID string, kind model.ActivityKind) error
	Usage(ctx context.Context, userID string) (model.Usage, error)
}

// ActivityStore persists and lists the append-only activity logs.
type ActivityStore interface {
	InsertChatExchange(ctx context.Context, c model.ChatExchange) error
	InsertEssayRecord(ctx context.Context, e model.EssayRecord) error
	InsertExamResult(ctx context.Context, r model.ExamResult) error
	ListChatExchanges(ctx context.Context, userID string, limit int) ([]model.ChatExchange, error)
	ListEssayRecords(ctx context.Context, userID string, limit int) ([]model.EssayRecord, error)
	ListExamResults(ctx context.Context, userID string, limit int) ([]model.ExamResult, error)
}

// QuestionSource supplies question batches for exams.
type QuestionSource interface {
	ListQuestions(ctx context.Context, subject string, limit int) ([]model.Question, error)
}

// UserLookup resolves user ids.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

func newID() string {
	return uuid.NewString()
}

func utcNow() time.Time {
	return time.Now().UTC()
}
