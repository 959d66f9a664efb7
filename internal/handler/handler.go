package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/estudaenem/tutor/internal/exam"
	appI18n "github.com/estudaenem/tutor/internal/i18n"
	"github.com/estudaenem/tutor/internal/model"
	"github.com/estudaenem/tutor/internal/service"
)

const maxBodyBytes = 1 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	tutor   *service.Tutor
	exams   *service.Exams
	history *service.History
}

// New creates a new Handler.
func New(t *service.Tutor, e *service.Exams, h *service.History) *Handler {
	return &Handler{tutor: t, exams: e, history: h}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(CORS)
	r.Get("/healthz", h.handleHealth)

	r.Route("/functions/v1", func(r chi.Router) {
		r.Post("/chat", h.handleChat)
		r.Post("/essay-correction", h.handleEssayCorrection)
	})

	r.Route("/exams", func(r chi.Router) {
		r.Post("/", h.handleStartExam)
		r.Get("/{sessionID}", h.handleGetExam)
		r.Post("/{sessionID}/answers", h.handleSelectAnswer)
		r.Post("/{sessionID}/advance", h.handleAdvance)
		r.Delete("/{sessionID}", h.handleAbandon)
	})

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/usage", h.handleUsage)
		r.Get("/chats", h.handleChatHistory)
		r.Get("/essays", h.handleEssayHistory)
		r.Get("/exams", h.handleExamHistory)
	})
}

// CORS sets permissive cross-origin headers and answers preflight requests.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
		hdr.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatResponse struct {
	Answer string `json:"answer"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req service.ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	// The pipeline finishes and persists even if the client goes away.
	ctx := context.WithoutCancel(r.Context())
	answer, err := h.tutor.Ask(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Answer: answer})
}

func (h *Handler) handleEssayCorrection(w http.ResponseWriter, r *http.Request) {
	var req service.EssayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := context.WithoutCancel(r.Context())
	grade, err := h.tutor.CorrectEssay(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, grade)
}

type startExamRequest struct {
	UserID  string `json:"userId"`
	Subject string `json:"subject"`
}

func (h *Handler) handleStartExam(w http.ResponseWriter, r *http.Request) {
	var req startExamRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := h.exams.Start(r.Context(), req.UserID, req.Subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, exam.NewView(s, nil))
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	s, err := h.exams.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exam.NewView(s, nil))
}

type selectAnswerRequest struct {
	QuestionID string `json:"questionId"`
	Option     string `json:"option"`
}

func (h *Handler) handleSelectAnswer(w http.ResponseWriter, r *http.Request) {
	var req selectAnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s, err := h.exams.Select(r.Context(), chi.URLParam(r, "sessionID"), req.QuestionID, req.Option)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exam.NewView(s, nil))
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	s, result, err := h.exams.Advance(context.WithoutCancel(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exam.NewView(s, result))
}

type abandonResponse struct {
	Result *model.ExamResult `json:"result"`
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	result, err := h.exams.Abandon(context.WithoutCancel(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, abandonResponse{Result: result})
}

type usageResponse struct {
	model.Usage
	Summary []string `json:"summary"`
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.tutor.Usage(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := usageResponse{Usage: usage}
	if usage.Plan == model.PlanPremium {
		resp.Summary = append(resp.Summary, appI18n.Td(r.Context(), "PremiumUnlimited", map[string]any{"Plan": usage.Plan}))
	} else {
		for _, ku := range usage.Kinds {
			switch ku.Kind {
			case model.ActivityChat:
				resp.Summary = append(resp.Summary, appI18n.Tp(r.Context(), "ChatsRemaining", ku.Remaining))
			case model.ActivityEssay:
				resp.Summary = append(resp.Summary, appI18n.Tp(r.Context(), "EssaysRemaining", ku.Remaining))
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	chats, err := h.history.Chats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *Handler) handleEssayHistory(w http.ResponseWriter, r *http.Request) {
	essays, err := h.history.Essays(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, essays)
}

func (h *Handler) handleExamHistory(w http.ResponseWriter, r *http.Request) {
	results, err := h.history.Exams(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type errorResponse struct {
	Error string `json:"error"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Debug("decode request body", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: appI18n.T(r.Context(), "InvalidBody")})
		return false
	}
	return true
}

var sentinelMessages = []struct {
	err   error
	msgID string
}{
	{model.ErrUserNotFound, "UserNotFound"},
	{model.ErrNoQuestions, "NoQuestions"},
	{model.ErrSessionClosed, "SessionClosed"},
	{model.ErrQuestionNotFound, "QuestionNotFound"},
	{model.ErrOptionNotFound, "OptionNotFound"},
	{model.ErrUnanswered, "Unanswered"},
}

// writeError maps a pipeline error to a localized {error} body. Every failure
// is a 400 except an unknown exam session, which is a 404.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var (
		ve *model.ValidationError
		qe *model.QuotaError
		ue *model.UpstreamError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: appI18n.T(ctx, ve.MessageID)})
		return
	case errors.As(err, &qe):
		msgID := "QuotaChatExceeded"
		if qe.Kind == model.ActivityEssay {
			msgID = "QuotaEssayExceeded"
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: appI18n.T(ctx, msgID)})
		return
	case errors.As(err, &ue):
		msg := ue.Error()
		if errors.Is(err, model.ErrNotConfigured) {
			msg = appI18n.T(ctx, "NotConfigured")
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
		return
	case errors.Is(err, model.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: appI18n.T(ctx, "SessionNotFound")})
		return
	}
	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: appI18n.T(ctx, s.msgID)})
			return
		}
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: appI18n.T(ctx, "InternalError")})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
