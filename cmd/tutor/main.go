package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/estudaenem/tutor/internal/handler"
	appI18n "github.com/estudaenem/tutor/internal/i18n"
	"github.com/estudaenem/tutor/internal/llm"
	"github.com/estudaenem/tutor/internal/model"
	"github.com/estudaenem/tutor/internal/quota"
	"github.com/estudaenem/tutor/internal/service"
	"github.com/estudaenem/tutor/internal/sessions"
	"github.com/estudaenem/tutor/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tutor",
		Short:        "ENEM study assistant: AI tutor chat, essay correction and practice exams",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), usersCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `tutor --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "tutor.db", "SQLite database path or postgres:// DSN")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("questions", "q", nil, "Question bank files to import at start, JSON or YAML (repeatable)")
	f.String("llm-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the completion endpoint (or set OPENAI_API_KEY)")
	f.String("llm-model", "gpt-4o-mini", "Completion model name")
	f.StringP("lang", "l", "pt-BR", "Default response language (pt-BR, en)")
	f.String("redis-addr", "", "Redis address for exam sessions (empty = in memory)")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.Duration("session-ttl", 2*time.Hour, "Lifetime of an idle exam session")
	f.Int("chat-daily-limit", quota.DefaultChatDailyLimit, "Free-tier chat questions per day")
	f.Int("essay-monthly-limit", quota.DefaultEssayMonthlyLimit, "Free-tier essay corrections per month")
	f.String("quota-timezone", "UTC", "IANA time zone that defines quota day and month boundaries")
	addCommonFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import question bank files (JSON or YAML)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			db, err := store.New(v.GetString("db"))
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			return loadQuestions(cmd.Context(), db, args)
		},
	}
	addCommonFlags(cmd)
	return cmd
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user plan records",
	}

	add := &cobra.Command{
		Use:   "add ID",
		Short: "Register a user id issued by the authentication provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			plan := v.GetString("plan")
			if !model.IsValidPlan(plan) {
				return fmt.Errorf("invalid plan %q (free, premium)", plan)
			}
			db, err := store.New(v.GetString("db"))
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			return db.CreateUser(cmd.Context(), model.User{
				ID:        args[0],
				Name:      v.GetString("name"),
				Plan:      model.Plan(plan),
				IsPremium: model.Plan(plan) == model.PlanPremium,
				Goal:      v.GetString("goal"),
			})
		},
	}
	add.Flags().String("name", "", "Display name")
	add.Flags().String("plan", string(model.PlanFree), "Plan tier (free, premium)")
	add.Flags().String("goal", "", "Study goal, e.g. target course")
	addCommonFlags(add)

	setPlan := &cobra.Command{
		Use:   "set-plan ID PLAN",
		Short: "Change a user's plan tier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			v := viperForCmd(cmd)
			if !model.IsValidPlan(args[1]) {
				return fmt.Errorf("invalid plan %q (free, premium)", args[1])
			}
			db, err := store.New(v.GetString("db"))
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := db.SetPlan(cmd.Context(), args[0], model.Plan(args[1])); err != nil {
				return fmt.Errorf("set plan for %s: %w", args[0], err)
			}
			slog.Info("updated plan", "id", args[0], "plan", args[1])
			return nil
		},
	}
	addCommonFlags(setPlan)

	cmd.AddCommand(add, setPlan)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a user's activity history as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("user", "", "User id to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addCommonFlags(cmd)

	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags, a .env file and the environment to a
// fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("error reading .env file", "error", err)
	}

	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("TUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("llm-key", "TUTOR_LLM_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("db", "TUTOR_DB", "DATABASE_URL")

	v.SetConfigName("tutor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/tutor")
	v.AddConfigPath("/etc/tutor")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := loadQuestions(ctx, db, v.GetStringSlice("questions")); err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient, err := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if llmClient.Configured() {
		if err := llmClient.Ping(ctx); err != nil {
			slog.Warn("LLM health check failed", "url", v.GetString("llm-url"), "error", err)
		} else {
			slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
		}
	} else {
		slog.Warn("no completion API key configured; chat and essay requests will fail")
	}

	loc, err := time.LoadLocation(v.GetString("quota-timezone"))
	if err != nil {
		return fmt.Errorf("load quota timezone: %w", err)
	}
	limits := quota.Limits{
		ChatPerDay:     v.GetInt("chat-daily-limit"),
		EssaysPerMonth: v.GetInt("essay-monthly-limit"),
	}
	checker := quota.NewChecker(db, db, limits, loc)

	holder, closeHolder, err := newSessionStore(ctx, v)
	if err != nil {
		return err
	}
	defer closeHolder()

	h := handler.New(
		service.NewTutor(checker, llmClient, db),
		service.NewExams(db, db, db, holder),
		service.NewHistory(db, db),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware)
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"chat_daily_limit", limits.ChatPerDay,
		"essay_monthly_limit", limits.EssaysPerMonth,
		"quota_timezone", loc.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		slog.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newSessionStore returns the Redis session holder when redis-addr is set and
// an in-memory one otherwise.
func newSessionStore(ctx context.Context, v *viper.Viper) (sessions.Store, func(), error) {
	ttl := v.GetDuration("session-ttl")
	addr := v.GetString("redis-addr")
	if addr == "" {
		slog.Info("exam sessions kept in memory", "ttl", ttl)
		return sessions.NewMemoryStore(ttl), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: v.GetString("redis-password"),
		DB:       v.GetInt("redis-db"),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	slog.Info("exam sessions kept in redis", "addr", addr, "ttl", ttl)
	return sessions.NewRedisStore(client, ttl), func() { _ = client.Close() }, nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportUser(cmd.Context(), v.GetString("user"))
	if err != nil {
		return fmt.Errorf("export user: %w", err)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

// questionStore is the part of the store used by the question importer.
type questionStore interface {
	GetImportedFileHash(ctx context.Context, path string) (string, error)
	ImportQuestions(ctx context.Context, path, hash string, questions []model.Question) error
}

func loadQuestions(ctx context.Context, db questionStore, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}

		if storedHash == hash {
			slog.Info("questions file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("questions file changed since last import, skipping to avoid duplicate questions",
				"path", path)
			continue
		}

		questions, err := parseQuestions(path, data)
		if err != nil {
			return err
		}

		batch := make([]model.Question, 0, len(questions))
		for i, qi := range questions {
			if err := validateQuestion(qi); err != nil {
				return fmt.Errorf("%s: question %d: %w", path, i+1, err)
			}
			batch = append(batch, model.Question{
				Prompt:        qi.Prompt,
				Options:       qi.Options,
				CorrectOption: qi.CorrectOption,
				Subject:       qi.Subject,
				Difficulty:    qi.Difficulty,
			})
		}

		if err := db.ImportQuestions(ctx, path, hash, batch); err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		slog.Info("imported questions", "path", path, "count", len(questions))
	}

	return nil
}

// parseQuestions decodes a question bank by file extension.
func parseQuestions(path string, data []byte) ([]model.QuestionImport, error) {
	var questions []model.QuestionImport
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &questions); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &questions); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("parse %s: unsupported extension %q", path, filepath.Ext(path))
	}
	return questions, nil
}

func validateQuestion(q model.QuestionImport) error {
	if strings.TrimSpace(q.Prompt) == "" {
		return errors.New("prompt is empty")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("needs at least 2 options, has %d", len(q.Options))
	}
	seen := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		if seen[o] {
			return fmt.Errorf("duplicate option %q", o)
		}
		seen[o] = true
	}
	if !seen[q.CorrectOption] {
		return fmt.Errorf("correct option %q is not among the options", q.CorrectOption)
	}
	if q.Difficulty < 1 || q.Difficulty > 3 {
		return fmt.Errorf("difficulty %d out of range 1-3", q.Difficulty)
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
