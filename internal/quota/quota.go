// Package quota decides whether a free-tier user may start another AI activity.
//
// The check is informational: it counts records already written and reserves
// nothing. Two concurrent requests from the same free user can both pass before
// either record exists, so the limits are best-effort rather than hard caps.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/estudaenem/tutor/internal/model"
)

// Default free-tier limits.
const (
	DefaultChatDailyLimit    = 5
	DefaultEssayMonthlyLimit = 3
)

// UserLookup resolves a user id to its record. Implementations return
// model.ErrUserNotFound for unknown ids.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// ActivityCounter counts a user's records of one kind created at or after since.
type ActivityCounter interface {
	CountActivity(ctx context.Context, userID string, kind model.ActivityKind, since time.Time) (int, error)
}

// Limits holds the free-tier ceilings.
type Limits struct {
	ChatPerDay     int
	EssaysPerMonth int
}

// DefaultLimits returns the standard free-tier ceilings.
func DefaultLimits() Limits {
	return Limits{ChatPerDay: DefaultChatDailyLimit, EssaysPerMonth: DefaultEssayMonthlyLimit}
}

// Checker evaluates usage quotas.
type Checker struct {
	users   UserLookup
	counter ActivityCounter
	limits  Limits
	loc     *time.Location
	now     func() time.Time
}

// NewChecker creates a Checker. Windows are computed in loc; a nil loc means UTC.
func NewChecker(users UserLookup, counter ActivityCounter, limits Limits, loc *time.Location) *Checker {
	if loc == nil {
		loc = time.UTC
	}
	return &Checker{users: users, counter: counter, limits: limits, loc: loc, now: time.Now}
}

// NewCheckerWithClock is NewChecker with a fixed clock, for tests.
func NewCheckerWithClock(users UserLookup, counter ActivityCounter, limits Limits, loc *time.Location, now func() time.Time) *Checker {
	c := NewChecker(users, counter, limits, loc)
	c.now = now
	return c
}

// WindowStart returns the first instant of the window containing now: the start
// of the calendar day for chat, the first instant of the calendar month for essays.
func WindowStart(kind model.ActivityKind, now time.Time, loc *time.Location) time.Time {
	t := now.In(loc)
	switch kind {
	case model.ActivityEssay:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
}

// WindowEnd returns the first instant after the window containing now.
func WindowEnd(kind model.ActivityKind, now time.Time, loc *time.Location) time.Time {
	start := WindowStart(kind, now, loc)
	if kind == model.ActivityEssay {
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 1)
}

func (c *Checker) limit(kind model.ActivityKind) int {
	if kind == model.ActivityEssay {
		return c.limits.EssaysPerMonth
	}
	return c.limits.ChatPerDay
}

// Check returns nil when the user may perform kind now, a *model.QuotaError when
// the free-tier window is exhausted, or a lookup error.
func (c *Checker) Check(ctx context.Context, userID string, kind model.ActivityKind) error {
	user, err := c.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	_, err = c.check(ctx, user, kind)
	return err
}

func (c *Checker) check(ctx context.Context, user *model.User, kind model.ActivityKind) (int, error) {
	if user.Premium() {
		return 0, nil
	}
	since := WindowStart(kind, c.now(), c.loc)
	used, err := c.counter.CountActivity(ctx, user.ID, kind, since)
	if err != nil {
		return 0, fmt.Errorf("count %s activity: %w", kind, err)
	}
	limit := c.limit(kind)
	if used >= limit {
		return used, &model.QuotaError{Kind: kind, Limit: limit, Used: used}
	}
	return used, nil
}

// Usage reports limit, used and remaining for every activity kind.
func (c *Checker) Usage(ctx context.Context, userID string) (model.Usage, error) {
	user, err := c.users.GetUser(ctx, userID)
	if err != nil {
		return model.Usage{}, err
	}

	now := c.now()
	usage := model.Usage{UserID: user.ID, Plan: user.Plan}
	if user.Premium() {
		usage.Plan = model.PlanPremium
	}
	for _, kind := range []model.ActivityKind{model.ActivityChat, model.ActivityEssay} {
		ku := model.KindUsage{Kind: kind, Limit: -1, Remaining: -1}
		used, err := c.counter.CountActivity(ctx, user.ID, kind, WindowStart(kind, now, c.loc))
		if err != nil {
			return model.Usage{}, fmt.Errorf("count %s activity: %w", kind, err)
		}
		ku.Used = used
		if !user.Premium() {
			ku.Limit = c.limit(kind)
			ku.Remaining = max(ku.Limit-used, 0)
			reset := WindowEnd(kind, now, c.loc)
			ku.ResetAt = &reset
		}
		usage.Kinds = append(usage.Kinds, ku)
	}
	return usage, nil
}
