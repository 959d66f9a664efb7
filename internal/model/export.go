package model

import "time"

// ActivityExport is the top-level JSON structure written by `tutor export`.
type ActivityExport struct {
	ExportedAt time.Time      `json:"exported_at"`
	User       User           `json:"user"`
	Chats      []ChatExchange `json:"chats"`
	Essays     []EssayRecord  `json:"essays"`
	Exams      []ExamResult   `json:"exams"`
}

// QuestionImport is the on-disk shape of a question bank entry (JSON or YAML).
type QuestionImport struct {
	Prompt        string   `json:"prompt" yaml:"prompt"`
	Options       []string `json:"options" yaml:"options"`
	CorrectOption string   `json:"correct_option" yaml:"correct_option"`
	Subject       string   `json:"subject" yaml:"subject"`
	Difficulty    int      `json:"difficulty" yaml:"difficulty"`
}
