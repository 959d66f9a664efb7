package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/estudaenem/tutor/internal/llm/prompts"
	"github.com/estudaenem/tutor/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// Sampling parameters per activity. Chat favours varied phrasing, grading
// favours repeatable scores.
const (
	chatTemperature  = 0.7
	chatMaxTokens    = 1000
	essayTemperature = 0.3
	essayMaxTokens   = 1500
)

// Client wraps an OpenAI-compatible chat completion API.
type Client struct {
	api        *openai.Client
	model      string
	configured bool
}

// New creates a new LLM client. An empty apiKey yields a client whose every
// request fails with an UpstreamError wrapping model.ErrNotConfigured.
func New(baseURL, apiKey, modelName string) (*Client, error) {
	if err := prompts.LoadDefault(); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:        openai.NewClientWithConfig(config),
		model:      modelName,
		configured: apiKey != "",
	}, nil
}

// Configured reports whether an API key was supplied.
func (c *Client) Configured() bool {
	return c.configured
}

// Ping checks that the endpoint answers a model listing.
func (c *Client) Ping(ctx context.Context) error {
	if !c.configured {
		return &model.UpstreamError{Message: model.ErrNotConfigured.Error(), Err: model.ErrNotConfigured}
	}
	if _, err := c.api.ListModels(ctx); err != nil {
		return upstreamError(err)
	}
	return nil
}

// Answer asks the tutor a question about subject and returns the reply
// verbatim. The question is sent as given.
func (c *Client) Answer(ctx context.Context, question, subject string) (string, error) {
	systemPrompt, err := prompts.BuildChatPrompt(subject)
	if err != nil {
		return "", fmt.Errorf("build chat prompt: %w", err)
	}

	return c.complete(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: question},
		},
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	})
}

// GradeEssay grades an essay against the five ENEM competencies. Input is
// validated before any network call. A reply that does not parse degrades to
// model.FallbackEssayGrade instead of failing.
func (c *Client) GradeEssay(ctx context.Context, theme, body string) (model.EssayGrade, error) {
	if err := model.ValidateEssay(theme, body); err != nil {
		return model.EssayGrade{}, err
	}

	systemPrompt, err := prompts.BuildEssayPrompt(theme)
	if err != nil {
		return model.EssayGrade{}, fmt.Errorf("build essay prompt: %w", err)
	}

	raw, err := c.complete(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompts.EssayUserMessage(theme, body)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: essayTemperature,
		MaxTokens:   essayMaxTokens,
	})
	if err != nil {
		return model.EssayGrade{}, err
	}

	grade, err := ParseEssayReply(raw)
	if err != nil {
		slog.Warn("essay reply did not parse, using fallback grade", "error", err)
		return model.FallbackEssayGrade(raw), nil
	}
	return grade, nil
}

func (c *Client) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	if !c.configured {
		return "", &model.UpstreamError{Message: model.ErrNotConfigured.Error(), Err: model.ErrNotConfigured}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", upstreamError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &model.UpstreamError{Message: "LLM returned no choices"}
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)
	return raw, nil
}

// upstreamError keeps the endpoint's own error message when it sent one.
func upstreamError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return &model.UpstreamError{Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &model.UpstreamError{Message: fmt.Sprintf("LLM API returned status %d", reqErr.HTTPStatusCode), Err: err}
	}
	return &model.UpstreamError{Message: "LLM API call failed: " + err.Error(), Err: err}
}

type essayReply struct {
	TotalScore   *float64 `json:"nota_total"`
	Competencias *struct {
		C1 *float64 `json:"competencia_1"`
		C2 *float64 `json:"competencia_2"`
		C3 *float64 `json:"competencia_3"`
		C4 *float64 `json:"competencia_4"`
		C5 *float64 `json:"competencia_5"`
	} `json:"competencias"`
	Feedback string `json:"feedback"`
}

// ParseEssayReply strictly parses the grader's JSON reply. Every competency must
// be present; each is rounded and clamped to [0, 200] and the total is the sum
// of the clamped values, whatever total the grader reported.
func ParseEssayReply(raw string) (model.EssayGrade, error) {
	var reply essayReply
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &reply); err != nil {
		return model.EssayGrade{}, fmt.Errorf("parse essay reply: %w", err)
	}
	cs := reply.Competencias
	if cs == nil {
		return model.EssayGrade{}, errors.New("parse essay reply: missing competencias")
	}
	scores := []*float64{cs.C1, cs.C2, cs.C3, cs.C4, cs.C5}
	for i, s := range scores {
		if s == nil {
			return model.EssayGrade{}, fmt.Errorf("parse essay reply: missing competencia_%d", i+1)
		}
	}

	c := model.Competencies{
		FormalWriting:        roundScore(*cs.C1),
		ThemeComprehension:   roundScore(*cs.C2),
		Argumentation:        roundScore(*cs.C3),
		LinguisticCohesion:   roundScore(*cs.C4),
		InterventionProposal: roundScore(*cs.C5),
	}.Clamp()

	total := c.Total()
	if reply.TotalScore != nil && roundScore(*reply.TotalScore) != total {
		slog.Debug("grader total disagrees with competencies", "reported", *reply.TotalScore, "computed", total)
	}

	return model.EssayGrade{TotalScore: total, Competencies: c, Feedback: reply.Feedback}, nil
}

func roundScore(v float64) int {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > math.MaxInt32:
		return math.MaxInt32
	}
	return int(math.Round(v))
}
