package store

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/estudaenem/tutor/internal/model"
)

// CreateUser inserts a new user. The caller supplies the id issued by the
// authentication provider.
func (s *Store) CreateUser(ctx context.Context, u model.User) error {
	if u.Plan == "" {
		u.Plan = model.PlanFree
	}
	now := time.Now().UTC()
	_, err := s.exec(ctx,
		`INSERT INTO users (id, name, plan, is_premium, goal, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Plan, u.IsPremium, u.Goal, now, now,
	)
	if err != nil {
		slog.Error("failed to create user", "id", u.ID, "error", err)
		return err
	}
	slog.Info("created user", "id", u.ID, "plan", u.Plan)
	return nil
}

// GetUser returns a user by id, or model.ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.queryRow(ctx,
		`SELECT id, name, plan, is_premium, goal, created_at, updated_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Plan, &u.IsPremium, &u.Goal, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetPlan changes a user's plan tier and premium flag.
func (s *Store) SetPlan(ctx context.Context, id string, plan model.Plan) error {
	res, err := s.exec(ctx,
		`UPDATE users SET plan = ?, is_premium = ?, updated_at = ? WHERE id = ?`,
		plan, plan == model.PlanPremium, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// UserCount returns the total number of users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
