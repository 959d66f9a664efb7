package service

import (
	"context"

	"github.com/estudaenem/tutor/internal/model"
)

// History answers the per-user listing queries.
type History struct {
	users UserLookup
	store ActivityStore
}

// NewHistory returns a History.
func NewHistory(users UserLookup, s ActivityStore) *History {
	return &History{users: users, store: s}
}

// Chats returns the user's most recent chat exchanges.
func (h *History) Chats(ctx context.Context, userID string) ([]model.ChatExchange, error) {
	if _, err := h.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	chats, err := h.store.ListChatExchanges(ctx, userID, ChatHistoryLimit)
	if chats == nil {
		chats = []model.ChatExchange{}
	}
	return chats, err
}

// Essays returns the user's most recent essay corrections.
func (h *History) Essays(ctx context.Context, userID string) ([]model.EssayRecord, error) {
	if _, err := h.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	essays, err := h.store.ListEssayRecords(ctx, userID, EssayHistoryLimit)
	if essays == nil {
		essays = []model.EssayRecord{}
	}
	return essays, err
}

// Exams returns the user's most recent exam results.
func (h *History) Exams(ctx context.Context, userID string) ([]model.ExamResult, error) {
	if _, err := h.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	results, err := h.store.ListExamResults(ctx, userID, ExamHistoryLimit)
	if results == nil {
		results = []model.ExamResult{}
	}
	return results, err
}
