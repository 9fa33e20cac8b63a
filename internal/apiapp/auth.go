package apiapp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/phillip-england/onboarding/internal/formdef"
	"github.com/phillip-england/onboarding/internal/onboarding"
	"github.com/phillip-england/onboarding/internal/security"
	"github.com/phillip-england/onboarding/internal/store"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signupRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FullName     string `json:"fullName"`
	PhoneNumber  string `json:"phoneNumber"`
	DepartmentID string `json:"departmentId"`
}

type authResponse struct {
	User      *store.User `json:"user"`
	Landing   string      `json:"landing"`
	CSRFToken string      `json:"csrfToken"`
}

func landingFor(user *store.User) string {
	return onboarding.Landing(user.IsAdmin, user.OnboardingStatus)
}

func (s *server) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)

	fieldErrors := formdef.Errors{}
	if req.FullName == "" {
		fieldErrors["fullName"] = "Full Name is required"
	}
	if req.Email == "" {
		fieldErrors["email"] = "Email is required"
	} else if !formdef.IsEmail(req.Email) {
		fieldErrors["email"] = "Please enter a valid email address"
	}
	if req.PhoneNumber == "" {
		fieldErrors["phoneNumber"] = "Phone Number is required"
	} else if !formdef.IsPhone(req.PhoneNumber) {
		fieldErrors["phoneNumber"] = "Please enter a valid phone number"
	}
	if req.DepartmentID == "" {
		fieldErrors["departmentId"] = "Department is required"
	} else if _, err := s.store.GetDepartment(r.Context(), req.DepartmentID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.writeStoreError(w, err, "signup")
			return
		}
		fieldErrors["departmentId"] = "Please select a valid department"
	}
	hash, err := security.HashUserPassword(req.Password)
	if err != nil {
		fieldErrors["password"] = "Password must be at least 8 characters"
	}
	if !fieldErrors.Empty() {
		writeFieldErrors(w, fieldErrors)
		return
	}

	user, err := s.store.CreateUser(r.Context(), store.NewUser{
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		PhoneNumber:  req.PhoneNumber,
		DepartmentID: req.DepartmentID,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		s.writeStoreError(w, err, "signup")
		return
	}
	s.logger.Info("user signed up", zap.String("user_id", user.ID), zap.String("department_id", user.DepartmentID))

	csrf, err := s.startSession(w, r, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{User: user, Landing: landingFor(user), CSRFToken: csrf})
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, hash, err := s.store.LookupUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	if !security.VerifyPassword(req.Password, hash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	csrf, err := s.startSession(w, r, user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: user, Landing: landingFor(user), CSRFToken: csrf})
}

// startSession stores a new session for user, sets the cookie and returns
// the session's CSRF token.
func (s *server) startSession(w http.ResponseWriter, r *http.Request, user *store.User) (string, error) {
	sessionID, err := security.RandomToken(32)
	if err != nil {
		return "", err
	}
	csrfToken, err := security.RandomToken(32)
	if err != nil {
		return "", err
	}
	expires := s.now().Add(s.sessionTTL)
	if err := s.store.CreateSession(r.Context(), sessionID, user.ID, csrfToken, expires); err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(s.sessionTTL.Seconds()),
		Expires:  expires,
	})
	return csrfToken, nil
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user":    user,
		"landing": landingFor(user),
	})
}

func (s *server) csrfToken(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": sess.CSRFToken})
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	if sess := sessionFromContext(r.Context()); sess != nil {
		_ = s.store.DeleteSession(r.Context(), sess.ID)
	}
	expireSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		sess, user, err := s.store.LookupSession(r.Context(), cookie.Value)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				expireSessionCookie(w)
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			writeError(w, http.StatusInternalServerError, "session check failed")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		ctx = context.WithValue(ctx, userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r.Context())
		if user == nil || !user.IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}
		sess := sessionFromContext(r.Context())
		if sess == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		token := strings.TrimSpace(r.Header.Get(csrfHeaderName))
		if token == "" || token != sess.CSRFToken {
			writeError(w, http.StatusForbidden, "csrf validation failed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) *store.User {
	user, _ := ctx.Value(userContextKey).(*store.User)
	return user
}

func sessionFromContext(ctx context.Context) *store.Session {
	sess, _ := ctx.Value(sessionContextKey).(*store.Session)
	return sess
}

func expireSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}
