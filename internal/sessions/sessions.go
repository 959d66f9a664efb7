// Package sessions holds in-progress exam sessions between HTTP requests.
package sessions

import (
	"context"

	"github.com/estudaenem/tutor/internal/exam"
)

// UpdateFunc computes the next value of a session. When done is true the
// session is removed from the store instead of being written back.
type UpdateFunc func(s exam.Session) (next exam.Session, done bool, err error)

// Store keeps exam sessions by id. Get and Update return
// model.ErrSessionNotFound for an unknown or expired id.
//
// Update runs fn against the stored value and commits its outcome atomically:
// concurrent updates of one session are applied one after the other, and once
// an update has removed a session every later one sees ErrSessionNotFound.
// fn may run more than once and must not have side effects beyond its return
// values. An error from fn leaves the stored session untouched.
type Store interface {
	Get(ctx context.Context, id string) (exam.Session, error)
	Put(ctx context.Context, s exam.Session) error
	Update(ctx context.Context, id string, fn UpdateFunc) (exam.Session, error)
}
