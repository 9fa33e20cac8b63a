package clientapp

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phillip-england/onboarding/internal/envutil"
	"github.com/phillip-england/onboarding/internal/logging"
	"github.com/phillip-england/onboarding/internal/middleware"
	"github.com/phillip-england/onboarding/internal/onboarding"
)

const (
	csrfHeaderName    = "X-CSRF-Token"
	csrfFormField     = "csrf_token"
	sessionCookieName = "onboarding_session"
)

//go:embed templates/*.html assets/app.css
var templatesFS embed.FS

var pageNames = []string{"login", "signup", "onboarding", "dashboard", "admin", "submission"}

type Config struct {
	Addr         string
	APIBaseURL   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LogLevel     string
	LogFormat    string
}

type server struct {
	apiBaseURL     string
	apiClient      *http.Client
	logger         *zap.Logger
	pages          map[string]*template.Template
	maxUploadBytes int64
}

func DefaultConfigFromEnv() Config {
	return Config{
		Addr:         envutil.String("CLIENT_ADDR", ":3000"),
		APIBaseURL:   envutil.String("API_BASE_URL", "http://localhost:8080"),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		LogLevel:     envutil.String("LOG_LEVEL", "info"),
		LogFormat:    envutil.String("LOG_FORMAT", "json"),
	}
}

func newServer(apiBaseURL string, logger *zap.Logger) (*server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	funcs := template.FuncMap{
		"initials":    onboarding.Initials,
		"fieldName":   onboarding.FormatFieldName,
		"tone":        onboarding.CompletionTone,
		"statusLabel": statusLabel,
		"when":        formatWhen,
	}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New("layout.html").Funcs(funcs).ParseFS(templatesFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &server{
		apiBaseURL:     strings.TrimRight(apiBaseURL, "/"),
		apiClient:      &http.Client{Timeout: 15 * time.Second},
		logger:         logger,
		pages:          pages,
		maxUploadBytes: maxClientUploadBytes,
	}, nil
}

func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logging.Named(logger, "client")

	s, err := newServer(cfg.APIBaseURL, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("client listening", zap.String("addr", cfg.Addr), zap.String("api", s.apiBaseURL))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.root)
	mux.HandleFunc("GET /login", s.loginPage)
	mux.HandleFunc("POST /login", s.login)
	mux.HandleFunc("GET /signup", s.signupPage)
	mux.HandleFunc("POST /signup", s.signup)
	mux.HandleFunc("GET /assets/app.css", s.appCSSFile)

	mux.Handle("POST /logout", s.requireSession(http.HandlerFunc(s.logout)))
	mux.Handle("GET /onboarding", s.requireSession(http.HandlerFunc(s.onboardingPage)))
	mux.Handle("POST /onboarding", s.requireSession(http.HandlerFunc(s.saveOnboarding)))
	mux.Handle("POST /onboarding/files/{fieldId}", s.requireSession(http.HandlerFunc(s.uploadFile)))
	mux.Handle("POST /onboarding/files/{fieldId}/delete", s.requireSession(http.HandlerFunc(s.removeFile)))
	mux.Handle("GET /dashboard", s.requireSession(http.HandlerFunc(s.dashboard)))
	mux.Handle("GET /files/{id}", s.requireSession(http.HandlerFunc(s.fileProxy)))
	mux.Handle("GET /files/{id}/preview", s.requireSession(http.HandlerFunc(s.fileProxy)))

	mux.Handle("GET /admin/export", s.requireAdmin(http.HandlerFunc(s.exportProxy)))
	mux.Handle("GET /admin/submissions/{id}", s.requireAdmin(http.HandlerFunc(s.submissionPage)))
	mux.Handle("POST /admin/submissions/{id}/approve", s.requireAdmin(http.HandlerFunc(s.approve)))
	mux.Handle("POST /admin/submissions/{id}/reject", s.requireAdmin(http.HandlerFunc(s.reject)))

	csp := strings.Join([]string{
		"default-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		"img-src 'self' data:",
		"script-src 'self'",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		mux,
		middleware.Recover(s.logger),
		middleware.AccessLog(s.logger, nil),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	)
}

func (s *server) appCSSFile(w http.ResponseWriter, r *http.Request) {
	raw, err := templatesFS.ReadFile("assets/app.css")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(raw)
}

func (s *server) render(w http.ResponseWriter, status int, name string, data pageData) {
	tmpl, ok := s.pages[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.logger.Error("template render failed", zap.String("page", name), zap.Error(err))
		http.Error(w, "template render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
