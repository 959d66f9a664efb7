package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

// maxInputRunes bounds user text placed in a prompt.
const maxInputRunes = 10000

var (
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
	essayTagRegex           = regexp.MustCompile(`(?i)</?\s*(essay|redacao)\b[^>]*>`)
)

var (
	loadOnce      sync.Once
	loadErr       error
	chatTemplate  *template.Template
	essayTemplate *template.Template
)

// ChatData holds template data for the tutoring prompt.
type ChatData struct {
	Subject string
}

// EssayData holds template data for the grading prompt.
type EssayData struct {
	Theme string
}

// Load parses the prompt templates from fsys. It runs once per process;
// later calls return the first result.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		chatTemplate, loadErr = parse(fsys, "templates/chat.txt")
		if loadErr != nil {
			return
		}
		essayTemplate, loadErr = parse(fsys, "templates/essay.txt")
	})
	return loadErr
}

// LoadDefault loads the templates embedded in the binary.
func LoadDefault() error {
	return Load(templateFS)
}

func parse(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// BuildChatPrompt builds the tutoring system prompt for a subject.
func BuildChatPrompt(subject string) (string, error) {
	if chatTemplate == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "Geral"
	}
	return execute(chatTemplate, ChatData{Subject: subject})
}

// BuildEssayPrompt builds the grading-rubric system prompt for a theme.
func BuildEssayPrompt(theme string) (string, error) {
	if essayTemplate == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	return execute(essayTemplate, EssayData{Theme: strings.TrimSpace(theme)})
}

// EssayUserMessage is the user turn that carries the essay to the grader.
func EssayUserMessage(theme, body string) string {
	return fmt.Sprintf("Corrija esta redação sobre %q:\n\n%s", strings.TrimSpace(theme), SanitizeInput(body))
}

func execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeInput strips prompt-structure tags from student text and truncates it.
func SanitizeInput(s string) string {
	s = systemInstructionsRegex.ReplaceAllString(s, "")
	s = essayTagRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	if utf8.RuneCountInString(s) > maxInputRunes {
		runes := []rune(s)
		s = string(runes[:maxInputRunes]) + "\n\n[texto truncado]"
	}
	return s
}
