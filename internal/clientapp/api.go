package clientapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// apiError carries the API's error body back to the page handlers.
type apiError struct {
	Status      int
	Message     string
	FieldErrors map[string]string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api %d: %s", e.Status, e.Message)
}

// apiCall describes one request made on behalf of the browser.
type apiCall struct {
	Method      string
	Path        string
	JSON        any
	Body        io.Reader
	ContentType string
	CSRF        string
}

type identity struct {
	User    userView `json:"user"`
	Landing string   `json:"landing"`
}

type identityKey struct{}

func withIdentity(ctx context.Context, id *identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFrom(ctx context.Context) *identity {
	id, _ := ctx.Value(identityKey{}).(*identity)
	return id
}

func statusOf(err error) int {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func messageOf(err error, fallback string) string {
	var apiErr *apiError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	return fallback
}

func fieldErrorsOf(err error) map[string]string {
	var apiErr *apiError
	if errors.As(err, &apiErr) && apiErr.FieldErrors != nil {
		return apiErr.FieldErrors
	}
	return map[string]string{}
}

// api sends call to the API with the caller's session cookie and decodes a
// JSON response into dest. The API's response headers are returned so
// callers can forward Set-Cookie.
func (s *server) api(r *http.Request, call apiCall, dest any) (http.Header, error) {
	body := call.Body
	contentType := call.ContentType
	if call.JSON != nil {
		raw, err := json.Marshal(call.JSON)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	apiReq, err := http.NewRequestWithContext(r.Context(), call.Method, s.apiBaseURL+call.Path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		apiReq.Header.Set("Content-Type", contentType)
	}
	if call.CSRF != "" {
		apiReq.Header.Set(csrfHeaderName, call.CSRF)
	}
	copySessionCookieHeader(r, apiReq)

	apiResp, err := s.apiClient.Do(apiReq)
	if err != nil {
		return nil, err
	}
	defer apiResp.Body.Close()

	if apiResp.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Error       string            `json:"error"`
			FieldErrors map[string]string `json:"fieldErrors"`
		}
		_ = json.NewDecoder(io.LimitReader(apiResp.Body, 1<<20)).Decode(&payload)
		return apiResp.Header, &apiError{
			Status:      apiResp.StatusCode,
			Message:     payload.Error,
			FieldErrors: payload.FieldErrors,
		}
	}
	if dest != nil {
		if err := json.NewDecoder(apiResp.Body).Decode(dest); err != nil {
			return apiResp.Header, fmt.Errorf("decode %s: %w", call.Path, err)
		}
	}
	return apiResp.Header, nil
}

// stream copies a binary API response (files, exports) to the browser.
func (s *server) stream(w http.ResponseWriter, r *http.Request, path string) {
	apiReq, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.apiBaseURL+path, nil)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	copySessionCookieHeader(r, apiReq)
	apiResp, err := s.apiClient.Do(apiReq)
	if err != nil {
		http.Error(w, "service unavailable", http.StatusBadGateway)
		return
	}
	defer apiResp.Body.Close()
	if apiResp.StatusCode != http.StatusOK {
		http.Error(w, http.StatusText(apiResp.StatusCode), apiResp.StatusCode)
		return
	}
	for _, name := range []string{"Content-Type", "Content-Length", "Content-Disposition", "Cache-Control"} {
		if v := apiResp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, apiResp.Body)
}

func (s *server) fetchIdentity(r *http.Request) (*identity, error) {
	var id identity
	if _, err := s.api(r, apiCall{Method: http.MethodGet, Path: "/api/auth/me"}, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *server) fetchCSRFToken(r *http.Request) (string, error) {
	var payload struct {
		CSRFToken string `json:"csrfToken"`
	}
	if _, err := s.api(r, apiCall{Method: http.MethodGet, Path: "/api/auth/csrf"}, &payload); err != nil {
		return "", err
	}
	if payload.CSRFToken == "" {
		return "", errors.New("missing csrf token")
	}
	return payload.CSRFToken, nil
}

func (s *server) fetchDepartments(r *http.Request) ([]departmentView, error) {
	var payload struct {
		Departments []departmentView `json:"departments"`
	}
	if _, err := s.api(r, apiCall{Method: http.MethodGet, Path: "/api/departments"}, &payload); err != nil {
		return nil, err
	}
	return payload.Departments, nil
}

func (s *server) fetchOnboarding(r *http.Request) (*onboardingState, error) {
	var state onboardingState
	if _, err := s.api(r, apiCall{Method: http.MethodGet, Path: "/api/onboarding"}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *server) fetchProfile(r *http.Request) (*profileState, error) {
	var state profileState
	if _, err := s.api(r, apiCall{Method: http.MethodGet, Path: "/api/profile"}, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *server) fetchSubmissions(r *http.Request, q url.Values) ([]submissionRowView, error) {
	var payload struct {
		Submissions []submissionRowView `json:"submissions"`
	}
	path := "/api/admin/submissions"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	if _, err := s.api(r, apiCall{Method: http.MethodGet, Path: path}, &payload); err != nil {
		return nil, err
	}
	return payload.Submissions, nil
}

func (s *server) fetchSubmission(r *http.Request, id string) (*submissionDetail, error) {
	var detail submissionDetail
	if _, err := s.api(r, apiCall{Method: http.MethodGet, Path: "/api/admin/submissions/" + url.PathEscape(id)}, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

func copySessionCookieHeader(from *http.Request, to *http.Request) {
	for _, c := range from.Cookies() {
		if c.Name == sessionCookieName {
			to.Header.Set("Cookie", c.Name+"="+c.Value)
			return
		}
	}
}

func forwardCookies(w http.ResponseWriter, header http.Header) {
	for _, setCookie := range header.Values("Set-Cookie") {
		w.Header().Add("Set-Cookie", setCookie)
	}
}
