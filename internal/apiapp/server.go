package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/phillip-england/onboarding/internal/envutil"
	"github.com/phillip-england/onboarding/internal/logging"
	"github.com/phillip-england/onboarding/internal/metrics"
	"github.com/phillip-england/onboarding/internal/middleware"
	"github.com/phillip-england/onboarding/internal/security"
	"github.com/phillip-england/onboarding/internal/store"
)

const (
	sessionCookieName = "onboarding_session"
	csrfHeaderName    = "X-CSRF-Token"
	previewSize       = 256
	sweepInterval     = 15 * time.Minute
)

type contextKey string

const (
	userContextKey    contextKey = "user"
	sessionContextKey contextKey = "session"
)

type Config struct {
	Addr          string
	DBPath        string
	AdminEmail    string
	AdminPassword string
	SessionTTL    time.Duration
	MaxUploadMB   int
	LogLevel      string
	LogFormat     string
}

type server struct {
	store          *store.Store
	logger         *zap.Logger
	metrics        *metrics.Metrics
	sessionTTL     time.Duration
	maxUploadBytes int64
	now            func() time.Time
}

func DefaultConfigFromEnv() Config {
	return Config{
		Addr:          envutil.String("API_ADDR", ":8080"),
		DBPath:        envutil.String("DB_PATH", "data.db"),
		AdminEmail:    envutil.String("ADMIN_EMAIL", ""),
		AdminPassword: envutil.String("ADMIN_PASSWORD", ""),
		SessionTTL:    envutil.Duration("SESSION_TTL", 12*time.Hour),
		MaxUploadMB:   envutil.Int("MAX_UPLOAD_MB", 10),
		LogLevel:      envutil.String("LOG_LEVEL", "info"),
		LogFormat:     envutil.String("LOG_FORMAT", "json"),
	}
}

func newServer(st *store.Store, logger *zap.Logger, m *metrics.Metrics, cfg Config) *server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 10
	}
	return &server{
		store:          st,
		logger:         logger,
		metrics:        m,
		sessionTTL:     cfg.SessionTTL,
		maxUploadBytes: int64(cfg.MaxUploadMB) << 20,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func Run(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.AdminEmail) == "" || cfg.AdminPassword == "" {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logging.Named(logger, "api")

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	adminHash, err := security.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("admin password: %w", err)
	}
	if err := st.EnsureAdminUser(ctx, cfg.AdminEmail, adminHash); err != nil {
		return fmt.Errorf("ensure admin user: %w", err)
	}

	s := newServer(st, logger, metrics.New(), cfg)
	go s.sweepSessions(ctx)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Addr), zap.String("db", cfg.DBPath))
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
	r := mux.NewRouter()
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.health).Methods(http.MethodGet)
	api.HandleFunc("/departments", s.listDepartments).Methods(http.MethodGet)
	api.HandleFunc("/auth/signup", s.signup).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.login).Methods(http.MethodPost)

	api.Handle("/auth/me", s.authed(s.me)).Methods(http.MethodGet)
	api.Handle("/auth/csrf", s.authed(s.csrfToken)).Methods(http.MethodGet)
	api.Handle("/auth/logout", s.authed(s.logout)).Methods(http.MethodPost)

	api.Handle("/onboarding", s.authed(s.getOnboarding)).Methods(http.MethodGet)
	api.Handle("/onboarding/draft", s.authed(s.saveDraft)).Methods(http.MethodPut)
	api.Handle("/onboarding/submit", s.authed(s.submit)).Methods(http.MethodPost)
	api.Handle("/onboarding/files/{fieldId}", s.authed(s.uploadFile)).Methods(http.MethodPost)
	api.Handle("/onboarding/files/{fieldId}", s.authed(s.removeFile)).Methods(http.MethodDelete)
	api.Handle("/profile", s.authed(s.profile)).Methods(http.MethodGet)
	api.Handle("/files/{id}", s.authed(s.getFile)).Methods(http.MethodGet)
	api.Handle("/files/{id}/preview", s.authed(s.getFilePreview)).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireSession, s.requireAdmin, s.csrfProtect)
	admin.HandleFunc("/departments", s.listDepartments).Methods(http.MethodGet)
	admin.HandleFunc("/departments", s.createDepartment).Methods(http.MethodPost)
	admin.HandleFunc("/departments/import", s.importDepartments).Methods(http.MethodPost)
	admin.HandleFunc("/catalog", s.applyCatalog).Methods(http.MethodPost)
	admin.HandleFunc("/departments/{id}", s.deleteDepartment).Methods(http.MethodDelete)
	admin.HandleFunc("/departments/{id}/form", s.getDepartmentForm).Methods(http.MethodGet)
	admin.HandleFunc("/departments/{id}/form", s.putDepartmentForm).Methods(http.MethodPut)
	admin.HandleFunc("/departments/{id}/documents", s.listDocumentTemplates).Methods(http.MethodGet)
	admin.HandleFunc("/departments/{id}/documents", s.createDocumentTemplate).Methods(http.MethodPost)
	admin.HandleFunc("/departments/{id}/documents/{docId}", s.deleteDocumentTemplate).Methods(http.MethodDelete)
	admin.HandleFunc("/users", s.listUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}/department", s.assignDepartment).Methods(http.MethodPut)
	admin.HandleFunc("/submissions", s.listSubmissions).Methods(http.MethodGet)
	admin.HandleFunc("/submissions/export", s.exportSubmissions).Methods(http.MethodGet)
	admin.HandleFunc("/submissions/{id}", s.getSubmission).Methods(http.MethodGet)
	admin.HandleFunc("/submissions/{id}/approve", s.approveSubmission).Methods(http.MethodPost)
	admin.HandleFunc("/submissions/{id}/reject", s.rejectSubmission).Methods(http.MethodPost)

	csp := strings.Join([]string{
		"default-src 'none'",
		"img-src 'self' data:",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		r,
		middleware.Recover(s.logger),
		middleware.AccessLog(s.logger, s.metrics),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	)
}

// authed wraps a handler that needs a signed-in user of any role.
func (s *server) authed(h http.HandlerFunc) http.Handler {
	return middleware.Chain(h, s.requireSession, s.csrfProtect)
}

func (s *server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.DeleteExpiredSessions(ctx, s.now())
			if err != nil {
				s.logger.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Debug("expired sessions removed", zap.Int64("count", n))
			}
		}
	}
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
