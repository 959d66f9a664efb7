package store

import (
	"context"
	"fmt"
	"time"

	"github.com/estudaenem/tutor/internal/model"
)

// exportLimit caps each history list in an export.
const exportLimit = 10000

// ExportUser collects a user's whole activity history.
func (s *Store) ExportUser(ctx context.Context, userID string) (model.ActivityExport, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return model.ActivityExport{}, fmt.Errorf("get user %s: %w", userID, err)
	}

	chats, err := s.ListChatExchanges(ctx, userID, exportLimit)
	if err != nil {
		return model.ActivityExport{}, fmt.Errorf("list chats: %w", err)
	}
	essays, err := s.ListEssayRecords(ctx, userID, exportLimit)
	if err != nil {
		return model.ActivityExport{}, fmt.Errorf("list essays: %w", err)
	}
	exams, err := s.ListExamResults(ctx, userID, exportLimit)
	if err != nil {
		return model.ActivityExport{}, fmt.Errorf("list exams: %w", err)
	}

	return model.ActivityExport{
		ExportedAt: time.Now().UTC(),
		User:       *user,
		Chats:      chats,
		Essays:     essays,
		Exams:      exams,
	}, nil
}
