package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/essayexam/internal/exam"
	"github.com/pavelanni/essayexam/internal/handler"
	appI18n "github.com/pavelanni/essayexam/internal/i18n"
	"github.com/pavelanni/essayexam/internal/llm"
	"github.com/pavelanni/essayexam/internal/llm/prompts"
	"github.com/pavelanni/essayexam/internal/model"
	"github.com/pavelanni/essayexam/internal/report"
	"github.com/pavelanni/essayexam/internal/store"
)

const shutdownTimeout = 15 * time.Second

// demoStudents are registered by --seed-demo.
var demoStudents = []struct{ name, nisn string }{
	{"Budi Santoso", "123456789"},
	{"Siti Aminah", "234567891"},
	{"Agus Salim", "345678912"},
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: cannot read .env:", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "essayexam",
		Short: "Timed essay exams graded by an LLM",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", ":memory:", "SQLite database path (:memory: keeps nothing after exit)")
	f.StringP("questions", "q", "", "Question bank JSON file to load at start")
	f.String("llm-url", llm.DefaultBaseURL, "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for grading (empty = placeholder scores)")
	f.String("llm-model", llm.DefaultModel, "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.Duration("grade-timeout", 60*time.Second, "Timeout for each grading call")
	f.Int("grade-concurrency", 0, "Maximum grading calls in flight per submission (0 = no limit)")
	f.Int("grade-retries", 0, "Retries for a failed grading call")
	f.Duration("tick", time.Second, "Session timer interval (at most 1s)")
	f.StringP("lang", "l", "id", "Default UI language (id, en)")
	f.String("timezone", "Asia/Jakarta", "Timezone for schedule input and exports")
	f.String("admin-password", "", "Initial admin password (or set ESSAYEXAM_ADMIN_PASSWORD)")
	f.Bool("seed-demo", false, "Register demo students")
	f.String("session-secret", "", "Secret for signing login cookies (random when empty)")
	f.Duration("session-ttl", 12*time.Hour, "Login lifetime")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.StringSlice("allowed-origins", nil, "Browser origins allowed for CORS and WebSocket (empty = same origin or any)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export recorded exam results",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "essayexam.db", "SQLite database path")
	f.StringP("format", "f", string(report.FormatJSON), "Output format (json, xlsx, pdf, html, doc)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("timezone", "Asia/Jakarta", "Timezone for timestamps")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(v *viper.Viper) {
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

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ESSAYEXAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("essayexam")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/essayexam")
	v.AddConfigPath("/etc/essayexam")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if !appI18n.Supported(lang) {
		slog.Warn("unsupported language, using Indonesian", "lang", lang)
		lang = "id"
		if err := appI18n.Init(lang); err != nil {
			return fmt.Errorf("init i18n: %w", err)
		}
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if v.GetBool("seed-demo") {
		if err := seedDemoStudents(db); err != nil {
			return fmt.Errorf("seed demo students: %w", err)
		}
	}

	grader := newGrader(v)
	svc := exam.New(db, grader, exam.Options{
		TickInterval:     v.GetDuration("tick"),
		GradeTimeout:     v.GetDuration("grade-timeout"),
		GradeConcurrency: v.GetInt("grade-concurrency"),
	})
	defer svc.Close()

	if path := v.GetString("questions"); path != "" {
		if err := loadQuestions(db, svc, path); err != nil {
			return fmt.Errorf("load questions: %w", err)
		}
	}

	secret, err := sessionSecret(v.GetString("session-secret"))
	if err != nil {
		return err
	}
	origins := v.GetStringSlice("allowed-origins")
	h, err := handler.New(db, svc, model.Config{
		SessionSecret:  secret,
		SessionTTL:     v.GetDuration("session-ttl"),
		SecureCookies:  v.GetBool("secure-cookies"),
		AllowedOrigins: origins,
		Location:       loc,
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appI18n.Middleware())
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"db", v.GetString("db"),
			"model", v.GetString("llm-model"),
			"llm_url", v.GetString("llm-url"),
			"lang", lang,
			"timezone", loc.String(),
			"grade_concurrency", v.GetInt("grade-concurrency"),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newGrader picks the LLM client, or placeholder scores when no key is set.
func newGrader(v *viper.Viper) exam.Grader {
	key := v.GetString("llm-key")
	if key == "" {
		slog.Warn("no LLM key configured, grading with placeholder scores")
		return llm.Placeholder{}
	}

	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}
	client := llm.New(llm.Config{
		BaseURL: v.GetString("llm-url"),
		APIKey:  key,
		Model:   v.GetString("llm-model"),
		Variant: prompts.PromptVariant(variant),
		Retries: v.GetInt("grade-retries"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		slog.Warn("LLM health check failed, answers will score 0 until it recovers", "url", v.GetString("llm-url"), "error", err)
	} else {
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}
	return client
}

func sessionSecret(configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	slog.Warn("no session-secret set, logins will not survive a restart")
	return secret, nil
}

// loadQuestions replaces the bank with the file at path. A file already
// imported unchanged into a persistent database is skipped.
func loadQuestions(db *store.Store, svc *exam.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	key := "questions_sha256:" + path
	hash := sha256sum(data)
	storedHash, err := db.GetMetadata(key)
	if err != nil {
		return fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == hash {
		count, err := db.QuestionCount()
		if err != nil {
			return err
		}
		slog.Info("questions file unchanged, skipping", "path", path, "count", count)
		return nil
	}

	questions, err := svc.UploadQuestions(data)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	if err := db.SetMetadata(key, hash); err != nil {
		return fmt.Errorf("record import for %s: %w", path, err)
	}
	slog.Info("imported questions", "path", path, "count", len(questions))
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(db *store.Store, password string) error {
	existing, err := db.GetUserByID("admin")
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or ESSAYEXAM_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	err = db.CreateUser(model.User{
		ID:           "admin",
		DisplayName:  "admin",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "name", "admin")
	return nil
}

func seedDemoStudents(db *store.Store) error {
	for _, s := range demoStudents {
		_, err := db.RegisterStudent(s.name, s.nisn)
		if errors.Is(err, store.ErrDuplicateID) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	format, err := report.ParseFormat(v.GetString("format"))
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, err := db.ListResults()
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	for i := range results {
		results[i].SubmittedAt = results[i].SubmittedAt.In(loc)
	}
	exp := model.NewExamExport(results, time.Now().In(loc))

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

	if err := report.Write(w, format, exp, report.DefaultLabels); err != nil {
		return fmt.Errorf("write %s: %w", format, err)
	}
	slog.Info("exported results", "format", format, "count", exp.NumResults, "output", outPath)
	return nil
}
