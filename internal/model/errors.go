package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUserNotFound is returned when a user id has no matching record.
	ErrUserNotFound = errors.New("user not found")
	// ErrNoQuestions is returned when an exam cannot be started because no questions match.
	ErrNoQuestions = errors.New("no questions available")
	// ErrSessionNotFound is returned for an unknown or expired exam session.
	ErrSessionNotFound = errors.New("exam session not found")
	// ErrSessionClosed is returned when a transition is attempted outside InProgress.
	ErrSessionClosed = errors.New("exam session is not in progress")
	// ErrQuestionNotFound indicates a question id that is not part of the session.
	ErrQuestionNotFound = errors.New("question not found in session")
	// ErrOptionNotFound indicates an option that the question does not offer.
	ErrOptionNotFound = errors.New("option not found")
	// ErrUnanswered is returned when advancing past a question with no recorded answer.
	ErrUnanswered = errors.New("current question has not been answered")
	// ErrNotConfigured is wrapped in an UpstreamError when no completion API key is set.
	ErrNotConfigured = errors.New("completion API key not configured")
)

// ValidationError reports missing or malformed input. It is always raised before
// any datastore or network call.
type ValidationError struct {
	Field     string
	MessageID string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (%s)", e.Field, e.MessageID)
}

// QuotaError reports that a free-tier user exhausted the window for an activity.
type QuotaError struct {
	Kind  ActivityKind
	Limit int
	Used  int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s quota exceeded: %d of %d used, upgrade to premium", e.Kind, e.Used, e.Limit)
}

// UpstreamError reports a failure of the completion endpoint. Message is shown
// to the caller verbatim.
type UpstreamError struct {
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
