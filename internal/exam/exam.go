// Package exam implements the practice-exam session as a plain value and a set
// of transition functions. Every transition returns a new Session; the input is
// never modified, so a caller holding an old value still sees the old state.
package exam

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/estudaenem/tutor/internal/model"
)

// BatchSize is the number of questions fetched for one exam.
const BatchSize = 10

// State is the lifecycle stage of a session.
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

// Session is one practice-exam attempt.
type Session struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Subject   string            `json:"subject,omitempty"`
	Questions []model.Question  `json:"questions"`
	Answers   map[string]string `json:"answers"`
	Cursor    int               `json:"cursor"`
	State     State             `json:"state"`
	StartedAt time.Time         `json:"startedAt"`
}

// ShuffleFunc permutes n elements through swap, with the signature of rand.Shuffle.
type ShuffleFunc func(n int, swap func(i, j int))

// Start creates an in-progress session over questions, presented in shuffled
// order. A nil shuffle uses math/rand/v2. The caller's slice is not reordered.
func Start(id, userID, subject string, questions []model.Question, now time.Time, shuffle ShuffleFunc) (Session, error) {
	if len(questions) == 0 {
		return Session{}, model.ErrNoQuestions
	}
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	qs := make([]model.Question, len(questions))
	copy(qs, questions)
	shuffle(len(qs), func(i, j int) {
		qs[i], qs[j] = qs[j], qs[i]
	})
	return Session{
		ID:        id,
		UserID:    userID,
		Subject:   subject,
		Questions: qs,
		Answers:   map[string]string{},
		State:     StateInProgress,
		StartedAt: now,
	}, nil
}

// Current returns the question under the cursor.
func (s Session) Current() (model.Question, bool) {
	if s.Cursor < 0 || s.Cursor >= len(s.Questions) {
		return model.Question{}, false
	}
	return s.Questions[s.Cursor], true
}

// SelectAnswer records option as the answer to questionID, replacing any earlier
// choice. The cursor does not move.
func SelectAnswer(s Session, questionID, option string) (Session, error) {
	if s.State != StateInProgress {
		return s, model.ErrSessionClosed
	}
	var q *model.Question
	for i := range s.Questions {
		if s.Questions[i].ID == questionID {
			q = &s.Questions[i]
			break
		}
	}
	if q == nil {
		return s, model.ErrQuestionNotFound
	}
	if !q.HasOption(option) {
		return s, model.ErrOptionNotFound
	}

	answers := make(map[string]string, len(s.Answers)+1)
	for k, v := range s.Answers {
		answers[k] = v
	}
	answers[questionID] = option
	s.Answers = answers
	return s, nil
}

// Advance moves to the next question. On the last question it completes the
// session and returns its result. The current question must be answered.
func Advance(s Session, now time.Time) (Session, *model.ExamResult, error) {
	if s.State != StateInProgress {
		return s, nil, model.ErrSessionClosed
	}
	cur, ok := s.Current()
	if !ok {
		return s, nil, model.ErrSessionClosed
	}
	if _, answered := s.Answers[cur.ID]; !answered {
		return s, nil, model.ErrUnanswered
	}
	if s.Cursor < len(s.Questions)-1 {
		s.Cursor++
		return s, nil, nil
	}
	s.State = StateCompleted
	result := Score(s, now)
	return s, &result, nil
}

// Abandon closes an in-progress session early and returns its result.
// Unanswered questions count as wrong.
func Abandon(s Session, now time.Time) (Session, *model.ExamResult, error) {
	if s.State != StateInProgress {
		return s, nil, model.ErrSessionClosed
	}
	s.State = StateCompleted
	result := Score(s, now)
	return s, &result, nil
}

// Score summarises the session as of now. The result has no ID yet.
func Score(s Session, now time.Time) model.ExamResult {
	correct := 0
	for _, q := range s.Questions {
		if a, ok := s.Answers[q.ID]; ok && a == q.CorrectOption {
			correct++
		}
	}
	total := len(s.Questions)
	percent := 0
	if total > 0 {
		percent = int(math.Round(100 * float64(correct) / float64(total)))
	}
	examType := model.DefaultSubject
	if s.Subject != "" {
		examType = s.Subject
	}
	elapsed := now.Sub(s.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return model.ExamResult{
		UserID:           s.UserID,
		Type:             examType,
		QuestionCount:    total,
		CorrectCount:     correct,
		PercentCorrect:   percent,
		TimeSpentMinutes: int(math.Round(elapsed.Minutes())),
		CreatedAt:        now,
	}
}

// QuestionView is a question as shown to the student, without its answer.
type QuestionView struct {
	ID         string   `json:"id"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options"`
	Subject    string   `json:"subject"`
	Difficulty int      `json:"difficulty"`
}

// View is the client-facing snapshot of a session.
type View struct {
	ID        string            `json:"id"`
	State     State             `json:"state"`
	Cursor    int               `json:"cursor"`
	Total     int               `json:"total"`
	Questions []QuestionView    `json:"questions"`
	Answers   map[string]string `json:"answers"`
	StartedAt time.Time         `json:"startedAt"`
	Result    *model.ExamResult `json:"result,omitempty"`
}

// NewView builds the public view of s. result may be nil.
func NewView(s Session, result *model.ExamResult) View {
	qs := make([]QuestionView, len(s.Questions))
	for i, q := range s.Questions {
		qs[i] = QuestionView{
			ID:         q.ID,
			Prompt:     q.Prompt,
			Options:    q.Options,
			Subject:    q.Subject,
			Difficulty: q.Difficulty,
		}
	}
	answers := s.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	return View{
		ID:        s.ID,
		State:     s.State,
		Cursor:    s.Cursor,
		Total:     len(s.Questions),
		Questions: qs,
		Answers:   answers,
		StartedAt: s.StartedAt,
		Result:    result,
	}
}
