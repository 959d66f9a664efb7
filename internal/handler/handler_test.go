package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/estudaenem/tutor/internal/exam"
	appI18n "github.com/estudaenem/tutor/internal/i18n"
	"github.com/estudaenem/tutor/internal/model"
	"github.com/estudaenem/tutor/internal/quota"
	"github.com/estudaenem/tutor/internal/service"
	"github.com/estudaenem/tutor/internal/sessions"
	"github.com/estudaenem/tutor/internal/store"
)

type stubCompleter struct {
	answer string
	grade  model.EssayGrade
	err    error
	calls  int
}

func (s *stubCompleter) Answer(context.Context, string, string) (string, error) {
	s.calls++
	return s.answer, s.err
}

func (s *stubCompleter) GradeEssay(_ context.Context, theme, body string) (model.EssayGrade, error) {
	s.calls++
	return s.grade, s.err
}

type testServer struct {
	router http.Handler
	store  *store.Store
	llm    *stubCompleter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	if err := appI18n.Init("pt-BR"); err != nil {
		t.Fatalf("i18n Init: %v", err)
	}
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	for _, u := range []model.User{
		{ID: "ana", Name: "Ana", Plan: model.PlanFree},
		{ID: "bia", Name: "Bia", Plan: model.PlanPremium},
	} {
		if err := db.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		_, err := db.InsertQuestion(ctx, model.Question{
			Prompt:        fmt.Sprintf("Questão %d", i),
			Options:       []string{"A", "B", "C", "D", "E"},
			CorrectOption: "C",
			Subject:       "matematica",
			Difficulty:    1,
		})
		if err != nil {
			t.Fatalf("InsertQuestion: %v", err)
		}
	}

	stub := &stubCompleter{answer: "Resposta do tutor"}
	checker := quota.NewChecker(db, db, quota.DefaultLimits(), time.UTC)
	h := New(
		service.NewTutor(checker, stub, db),
		service.NewExams(db, db, db, sessions.NewMemoryStore(0)),
		service.NewHistory(db, db),
	)
	r := chi.NewRouter()
	r.Use(appI18n.Middleware)
	h.Routes(r)
	return &testServer{router: r, store: db, llm: stub}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func essayBody() string {
	return strings.Repeat("A desinformação ameaça a democracia brasileira. ", 4)
}

func TestPreflight(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/functions/v1/chat", "/functions/v1/essay-correction", "/exams/abc/advance"} {
		rec := ts.do(t, http.MethodOptions, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("OPTIONS %s: status %d", path, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("OPTIONS %s: Allow-Origin %q", path, got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "authorization, x-client-info, apikey, content-type" {
			t.Errorf("OPTIONS %s: Allow-Headers %q", path, got)
		}
	}
	if ts.llm.calls != 0 {
		t.Error("preflight reached the completion client")
	}
}

func TestChat(t *testing.T) {
	ts := newTestServer(t)

	for i := 1; i <= 5; i++ {
		rec := ts.do(t, http.MethodPost, "/functions/v1/chat", map[string]string{"question": "O que é mitose?", "subject": "biologia", "userId": "ana"})
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d body %s", i, rec.Code, rec.Body.String())
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("missing CORS header on POST")
		}
		resp := decode[chatResponse](t, rec)
		if resp.Answer != "Resposta do tutor" {
			t.Errorf("answer = %q", resp.Answer)
		}
	}

	rec := ts.do(t, http.MethodPost, "/functions/v1/chat", map[string]string{"question": "Mais uma?", "userId": "ana"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("6th request: status %d", rec.Code)
	}
	resp := decode[errorResponse](t, rec)
	if resp.Error != "Limite diário de perguntas atingido. Faça upgrade para Premium!" {
		t.Errorf("error = %q", resp.Error)
	}
	if ts.llm.calls != 5 {
		t.Errorf("completion calls = %d, want 5", ts.llm.calls)
	}

	chats, err := ts.store.ListChatExchanges(context.Background(), "ana", 50)
	if err != nil {
		t.Fatalf("ListChatExchanges: %v", err)
	}
	if len(chats) != 5 {
		t.Errorf("stored chats = %d, want 5", len(chats))
	}
}

func TestChatErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name    string
		body    any
		setup   func()
		wantMsg string
	}{
		{"invalid json", "{not json", nil, "Corpo da requisição inválido"},
		{"missing question", map[string]string{"userId": "ana"}, nil, "Pergunta e usuário são obrigatórios"},
		{"unknown user", map[string]string{"question": "q", "userId": "ghost"}, nil, "Usuário não encontrado"},
		{"upstream verbatim", map[string]string{"question": "q", "userId": "bia"}, func() {
			ts.llm.err = &model.UpstreamError{Message: "Rate limit reached for gpt-4o-mini"}
		}, "Rate limit reached for gpt-4o-mini"},
		{"not configured", map[string]string{"question": "q", "userId": "bia"}, func() {
			ts.llm.err = &model.UpstreamError{Message: model.ErrNotConfigured.Error(), Err: model.ErrNotConfigured}
		}, "Serviço de IA não configurado"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			rec := ts.do(t, http.MethodPost, "/functions/v1/chat", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status %d, want 400", rec.Code)
			}
			if got := decode[errorResponse](t, rec).Error; got != tt.wantMsg {
				t.Errorf("error = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestEssayCorrection(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.grade = model.FallbackEssayGrade("resposta não estruturada")

	rec := ts.do(t, http.MethodPost, "/functions/v1/essay-correction", map[string]string{"theme": "Desinformação", "body": essayBody(), "userId": "ana"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	grade := decode[model.EssayGrade](t, rec)
	if grade.TotalScore != 600 || grade.Competencies.InterventionProposal != 120 || grade.Feedback != "resposta não estruturada" {
		t.Errorf("unexpected grade: %+v", grade)
	}

	essays, err := ts.store.ListEssayRecords(context.Background(), "ana", 5)
	if err != nil {
		t.Fatalf("ListEssayRecords: %v", err)
	}
	if len(essays) != 1 || essays[0].TotalScore != essays[0].Competencies.Total() {
		t.Errorf("unexpected stored essays: %+v", essays)
	}
}

func TestEssayCorrectionTooShort(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/functions/v1/essay-correction", map[string]string{"theme": "T", "body": strings.Repeat("x", 99), "userId": "ana"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	if got := decode[errorResponse](t, rec).Error; got != "A redação deve ter pelo menos 100 caracteres" {
		t.Errorf("error = %q", got)
	}
	if ts.llm.calls != 0 {
		t.Error("short essay reached the completion client")
	}
}

func TestEssayQuotaEnglish(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.grade = model.FallbackEssayGrade("ok")
	body := map[string]string{"theme": "T", "body": essayBody(), "userId": "ana"}
	for i := 0; i < 3; i++ {
		if rec := ts.do(t, http.MethodPost, "/functions/v1/essay-correction", body); rec.Code != http.StatusOK {
			t.Fatalf("essay %d: status %d", i+1, rec.Code)
		}
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, "/functions/v1/essay-correction", &buf)
	req.Header.Set("Accept-Language", "en")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("4th essay: status %d", rec.Code)
	}
	if got := decode[errorResponse](t, rec).Error; got != "Monthly correction limit reached. Upgrade to Premium!" {
		t.Errorf("error = %q", got)
	}
}

func TestExamFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/exams", map[string]string{"userId": "ana"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: status %d body %s", rec.Code, rec.Body.String())
	}
	view := decode[exam.View](t, rec)
	if view.Total != 3 || view.State != exam.StateInProgress {
		t.Fatalf("unexpected view: %+v", view)
	}
	if strings.Contains(fmt.Sprint(view.Questions), "correct") {
		t.Error("view leaks correct options")
	}
	base := "/exams/" + view.ID

	rec = ts.do(t, http.MethodPost, base+"/advance", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("advance before answer: status %d", rec.Code)
	}
	if got := decode[errorResponse](t, rec).Error; got != "Responda a questão atual antes de avançar" {
		t.Errorf("error = %q", got)
	}

	options := []string{"C", "C", "A"}
	for i, q := range view.Questions {
		rec = ts.do(t, http.MethodPost, base+"/answers", map[string]string{"questionId": q.ID, "option": options[i]})
		if rec.Code != http.StatusOK {
			t.Fatalf("answer %d: status %d body %s", i, rec.Code, rec.Body.String())
		}
		rec = ts.do(t, http.MethodPost, base+"/advance", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("advance %d: status %d body %s", i, rec.Code, rec.Body.String())
		}
	}
	final := decode[exam.View](t, rec)
	if final.State != exam.StateCompleted || final.Result == nil {
		t.Fatalf("expected completed view with result, got %+v", final)
	}
	if final.Result.CorrectCount != 2 || final.Result.PercentCorrect != 67 {
		t.Errorf("unexpected result: %+v", final.Result)
	}

	if rec := ts.do(t, http.MethodGet, base, nil); rec.Code != http.StatusNotFound {
		t.Errorf("completed session: status %d, want 404", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/users/ana/exams", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("exam history: status %d", rec.Code)
	}
	if results := decode[[]model.ExamResult](t, rec); len(results) != 1 {
		t.Errorf("exam history = %d results, want 1", len(results))
	}
}

func TestExamErrors(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.do(t, http.MethodPost, "/exams/missing/advance", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session: status %d, want 404", rec.Code)
	}
	rec := ts.do(t, http.MethodPost, "/exams", map[string]string{"userId": "ana", "subject": "quimica"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no questions: status %d", rec.Code)
	}
	if got := decode[errorResponse](t, rec).Error; got != "Não há questões disponíveis para esta matéria." {
		t.Errorf("error = %q", got)
	}

	rec = ts.do(t, http.MethodPost, "/exams", map[string]string{"userId": "ana", "subject": "matematica"})
	view := decode[exam.View](t, rec)
	rec = ts.do(t, http.MethodPost, "/exams/"+view.ID+"/answers", map[string]string{"questionId": view.Questions[0].ID, "option": "Z"})
	if got := decode[errorResponse](t, rec).Error; got != "Alternativa inválida" {
		t.Errorf("error = %q", got)
	}

	rec = ts.do(t, http.MethodDelete, "/exams/"+view.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("abandon without answers: status %d, want 200", rec.Code)
	}
	if resp := decode[abandonResponse](t, rec); resp.Result == nil || resp.Result.CorrectCount != 0 || resp.Result.PercentCorrect != 0 {
		t.Errorf("abandon without answers: result %+v", resp.Result)
	}
	if rec := ts.do(t, http.MethodDelete, "/exams/"+view.ID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second abandon: status %d, want 404", rec.Code)
	}
}

func TestAbandonWithAnswers(t *testing.T) {
	ts := newTestServer(t)
	view := decode[exam.View](t, ts.do(t, http.MethodPost, "/exams", map[string]string{"userId": "ana"}))
	ts.do(t, http.MethodPost, "/exams/"+view.ID+"/answers", map[string]string{"questionId": view.Questions[0].ID, "option": "C"})

	rec := ts.do(t, http.MethodDelete, "/exams/"+view.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("abandon: status %d", rec.Code)
	}
	resp := decode[abandonResponse](t, rec)
	if resp.Result == nil || resp.Result.CorrectCount != 1 || resp.Result.QuestionCount != 3 {
		t.Errorf("unexpected result: %+v", resp.Result)
	}
}

func TestUsage(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/functions/v1/chat", map[string]string{"question": "q", "userId": "ana"})

	rec := ts.do(t, http.MethodGet, "/users/ana/usage", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	resp := decode[usageResponse](t, rec)
	if resp.Plan != model.PlanFree || len(resp.Kinds) != 2 {
		t.Fatalf("unexpected usage: %+v", resp)
	}
	if resp.Kinds[0].Used != 1 || resp.Kinds[0].Remaining != 4 {
		t.Errorf("chat usage = %+v", resp.Kinds[0])
	}
	if len(resp.Summary) != 2 || resp.Summary[0] != "Você tem 4 perguntas restantes hoje." {
		t.Errorf("summary = %q", resp.Summary)
	}

	rec = ts.do(t, http.MethodGet, "/users/bia/usage", nil)
	resp = decode[usageResponse](t, rec)
	if resp.Kinds[0].Limit != -1 || len(resp.Summary) != 1 {
		t.Errorf("premium usage = %+v", resp)
	}
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/functions/v1/chat", map[string]string{"question": "q", "userId": "ana"})

	rec := ts.do(t, http.MethodGet, "/users/ana/chats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	chats := decode[[]model.ChatExchange](t, rec)
	if len(chats) != 1 || chats[0].Subject != model.DefaultSubject {
		t.Errorf("unexpected chats: %+v", chats)
	}

	rec = ts.do(t, http.MethodGet, "/users/ana/essays", nil)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty essay history = %s, want []", rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/users/ghost/chats", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown user: status %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	if rec := ts.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("status %d", rec.Code)
	}
}
