package model

import (
	"time"
	"unicode/utf8"
)

// Plan is a user's subscription tier.
type Plan string

const (
	// PlanFree is the quota-limited tier.
	PlanFree Plan = "free"
	// PlanPremium is the unlimited tier.
	PlanPremium Plan = "premium"
)

// IsValidPlan reports whether p names a known plan.
func IsValidPlan(p string) bool {
	return Plan(p) == PlanFree || Plan(p) == PlanPremium
}

// ActivityKind identifies a quota-counted AI activity.
type ActivityKind string

const (
	// ActivityChat is a question sent to the AI tutor.
	ActivityChat ActivityKind = "chat"
	// ActivityEssay is an essay submitted for correction.
	ActivityEssay ActivityKind = "essay"
)

// DefaultSubject is used when a chat question carries no subject.
const DefaultSubject = "geral"

// MinEssayLength is the minimum essay body length, in characters.
const MinEssayLength = 100

// MaxCompetencyScore is the ceiling of each essay competency.
const MaxCompetencyScore = 200

// User represents a student account. Authentication lives with an external provider;
// only the fields that drive quota decisions are kept here.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plan      Plan      `json:"plan"`
	IsPremium bool      `json:"is_premium"`
	Goal      string    `json:"goal,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Premium reports whether the user is exempt from free-tier limits.
func (u User) Premium() bool {
	return u.Plan == PlanPremium || u.IsPremium
}

// ChatExchange is one question/answer pair with the AI tutor.
type ChatExchange struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Question  string    `json:"question"`
	Answer    *string   `json:"answer"`
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}

// Competencies holds the five ENEM essay competency scores, each 0-200.
type Competencies struct {
	FormalWriting        int `json:"formalWriting"`
	ThemeComprehension   int `json:"themeComprehension"`
	Argumentation        int `json:"argumentation"`
	LinguisticCohesion   int `json:"linguisticCohesion"`
	InterventionProposal int `json:"interventionProposal"`
}

// Total returns the sum of the five competencies.
func (c Competencies) Total() int {
	return c.FormalWriting + c.ThemeComprehension + c.Argumentation + c.LinguisticCohesion + c.InterventionProposal
}

// Clamp returns a copy with every competency limited to [0, MaxCompetencyScore].
func (c Competencies) Clamp() Competencies {
	return Competencies{
		FormalWriting:        clampScore(c.FormalWriting),
		ThemeComprehension:   clampScore(c.ThemeComprehension),
		Argumentation:        clampScore(c.Argumentation),
		LinguisticCohesion:   clampScore(c.LinguisticCohesion),
		InterventionProposal: clampScore(c.InterventionProposal),
	}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxCompetencyScore {
		return MaxCompetencyScore
	}
	return v
}

// EssayGrade is the outcome of grading one essay. TotalScore always equals
// Competencies.Total().
type EssayGrade struct {
	TotalScore   int          `json:"totalScore"`
	Competencies Competencies `json:"competencies"`
	Feedback     string       `json:"feedback"`
}

// FallbackEssayGrade is used when the grader's reply cannot be parsed.
func FallbackEssayGrade(raw string) EssayGrade {
	c := Competencies{
		FormalWriting:        120,
		ThemeComprehension:   120,
		Argumentation:        120,
		LinguisticCohesion:   120,
		InterventionProposal: 120,
	}
	return EssayGrade{TotalScore: c.Total(), Competencies: c, Feedback: raw}
}

// EssayRecord is a persisted essay correction.
type EssayRecord struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Theme        string       `json:"theme"`
	Body         string       `json:"body"`
	TotalScore   int          `json:"total_score"`
	Competencies Competencies `json:"competencies"`
	Feedback     string       `json:"feedback"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ValidateEssay checks the essay inputs before anything leaves the process.
func ValidateEssay(theme, body string) error {
	if theme == "" {
		return &ValidationError{Field: "theme", MessageID: "EssayFieldsRequired"}
	}
	if body == "" {
		return &ValidationError{Field: "body", MessageID: "EssayFieldsRequired"}
	}
	if utf8.RuneCountInString(body) < MinEssayLength {
		return &ValidationError{Field: "body", MessageID: "EssayTooShort"}
	}
	return nil
}

// Question is a multiple-choice practice question.
type Question struct {
	ID            string    `json:"id"`
	Prompt        string    `json:"prompt"`
	Options       []string  `json:"options"`
	CorrectOption string    `json:"correct_option"`
	Subject       string    `json:"subject"`
	Difficulty    int       `json:"difficulty"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasOption reports whether opt is one of the question's options.
func (q Question) HasOption(opt string) bool {
	for _, o := range q.Options {
		if o == opt {
			return true
		}
	}
	return false
}

// ExamResult summarises a finished or abandoned practice exam.
type ExamResult struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Type             string    `json:"type"`
	QuestionCount    int       `json:"questionCount"`
	CorrectCount     int       `json:"correctCount"`
	PercentCorrect   int       `json:"percentCorrect"`
	TimeSpentMinutes int       `json:"timeSpentMinutes"`
	CreatedAt        time.Time `json:"createdAt"`
}

// KindUsage is the quota state of one activity kind for one user.
type KindUsage struct {
	Kind      ActivityKind `json:"kind"`
	Limit     int          `json:"limit"` // -1 for unlimited
	Used      int          `json:"used"`
	Remaining int          `json:"remaining"` // -1 for unlimited
	ResetAt   *time.Time   `json:"resetAt,omitempty"`
}

// Usage is the quota report for a user.
type Usage struct {
	UserID string      `json:"userId"`
	Plan   Plan        `json:"plan"`
	Kinds  []KindUsage `json:"kinds"`
}
