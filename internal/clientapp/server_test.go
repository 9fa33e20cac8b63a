package clientapp

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAPI stands in for the JSON API and records what the client sent.
type fakeAPI struct {
	mu          sync.Mutex
	draftValues map[string]string
	csrfHeaders []string
	listQuery   url.Values
	rejectBody  map[string]string
	uploads     []string
}

func (f *fakeAPI) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Method != http.MethodGet {
		f.csrfHeaders = append(f.csrfHeaders, r.Header.Get(csrfHeaderName))
	}
}

func sessionFrom(r *http.Request) string {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func writeTestJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (f *fakeAPI) handler() http.Handler {
	identities := map[string]map[string]any{
		"employee": {"user": map[string]any{"id": "u1", "fullName": "Ada Lovelace", "email": "ada@example.com", "onboardingStatus": "rejected"}, "landing": "/onboarding"},
		"verified": {"user": map[string]any{"id": "u2", "fullName": "Grace Hopper", "email": "grace@example.com", "onboardingStatus": "verified"}, "landing": "/dashboard"},
		"admin":    {"user": map[string]any{"id": "a1", "fullName": "Admin User", "email": "admin@example.com", "isAdmin": true}, "landing": "/dashboard"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		id, ok := identities[sessionFrom(r)]
		if !ok {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			return
		}
		writeTestJSON(w, http.StatusOK, id)
	})
	mux.HandleFunc("GET /api/auth/csrf", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]string{"csrfToken": "tok-" + sessionFrom(r)})
	})
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "correct-horse" {
			writeTestJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "employee", Path: "/"})
		writeTestJSON(w, http.StatusOK, identities["employee"])
	})
	mux.HandleFunc("POST /api/auth/signup", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       "Please fix the highlighted fields",
			"fieldErrors": map[string]string{"email": "Please enter a valid email address"},
		})
	})
	mux.HandleFunc("GET /api/departments", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{"departments": []map[string]string{{"id": "d1", "name": "Engineering"}}})
	})
	mux.HandleFunc("GET /api/onboarding", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"profile":    identities["employee"]["user"],
			"department": map[string]string{"id": "d1", "name": "Engineering"},
			"form": map[string]any{
				"id": "f1", "departmentId": "d1", "name": "Engineering Onboarding",
				"fields": []map[string]any{
					{"id": "github", "type": "text", "label": "GitHub Username", "required": true},
					{"id": "photo", "type": "file", "label": "Photo", "fileTypes": []string{"jpg"}},
				},
			},
			"documents": []map[string]any{{"id": "t1", "departmentId": "d1", "title": "Resume", "required": true}},
			"submission": map[string]any{
				"id": "s1", "status": "rejected", "draftData": map[string]string{"github": "octocat"},
				"rejectionReason": "Blurry scan",
				"uploadedFiles": []map[string]any{{"fieldId": "doc_t1", "fileId": "file1", "fileName": "cv.pdf", "url": "/api/files/file1"}},
			},
			"completion": 67,
			"editable":   true,
			"landing":    "/onboarding",
		})
	})
	mux.HandleFunc("PUT /api/onboarding/draft", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body struct {
			Values map[string]string `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.draftValues = body.Values
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]any{"message": "Draft saved"})
	})
	mux.HandleFunc("POST /api/onboarding/submit", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body struct {
			Values map[string]string `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Values["github"] != "" {
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "Please complete all fields before submitting"})
			return
		}
		writeTestJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       "Please fix the highlighted fields",
			"fieldErrors": map[string]string{"github": "GitHub Username is required"},
		})
	})
	mux.HandleFunc("POST /api/onboarding/files/{fieldId}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		file, header, err := r.FormFile("file")
		if err != nil {
			writeTestJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
			return
		}
		defer file.Close()
		n, _ := io.Copy(io.Discard, file)
		f.mu.Lock()
		f.uploads = append(f.uploads, r.PathValue("fieldId")+":"+header.Filename+":"+strconv.FormatInt(n, 10))
		f.mu.Unlock()
		writeTestJSON(w, http.StatusCreated, map[string]any{"completion": 100})
	})
	mux.HandleFunc("GET /api/profile", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, map[string]any{
			"profile": map[string]any{
				"fullName": "Grace Hopper", "email": "grace@example.com", "onboardingStatus": "verified",
				"departmentSpecificData": map[string]any{
					"github": "grace", "photo": "/api/files/p1", "shirt_size": "M", "doc_t1": "/api/files/file1",
					"documentTemplates": []map[string]any{{"id": "t1", "title": "Resume", "required": true, "uploaded": true, "url": "/api/files/file1"}},
				},
			},
			"department": map[string]string{"id": "d1", "name": "Engineering"},
			"fields": []map[string]any{
				{"id": "github", "type": "text", "label": "GitHub Username"},
				{"id": "photo", "type": "file", "label": "Photo"},
			},
			"documents": []map[string]any{{"documentType": "resume", "fileName": "cv.pdf", "fileUrl": "/api/files/file1"}},
		})
	})
	mux.HandleFunc("GET /api/admin/submissions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.listQuery = r.URL.Query()
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]any{"submissions": []map[string]any{{
			"id": "s1", "status": "pending", "completionPercentage": 80,
			"fullName": "Ada Lovelace", "email": "ada@example.com",
			"departmentId": "d1", "departmentName": "Engineering", "formName": "Engineering Onboarding",
			"lastSavedAt": "2026-01-02T03:04:05Z",
		}}})
	})
	mux.HandleFunc("GET /api/admin/submissions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "s1" {
			writeTestJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeTestJSON(w, http.StatusOK, map[string]any{
			"submission": map[string]any{
				"id": "s1", "status": "pending", "completionPercentage": 100,
				"fullName": "Ada Lovelace", "email": "ada@example.com",
				"draftData":  map[string]string{"github": "octocat"},
				"formFields": []map[string]any{{"id": "github", "type": "text", "label": "GitHub Username"}},
				"lastSavedAt": "2026-01-02T03:04:05Z",
			},
			"documents": []map[string]any{{"id": "t1", "title": "Resume"}},
			"tone":      "complete",
		})
	})
	mux.HandleFunc("POST /api/admin/submissions/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.rejectBody = body
		f.mu.Unlock()
		writeTestJSON(w, http.StatusOK, map[string]any{"submission": map[string]string{"id": "s1", "status": "rejected"}})
	})
	mux.HandleFunc("GET /api/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	})
	return mux
}

func newTestClient(t *testing.T) (*server, *fakeAPI) {
	t.Helper()
	fake := &fakeAPI{}
	api := httptest.NewServer(fake.handler())
	t.Cleanup(api.Close)
	s, err := newServer(api.URL, zap.NewNop())
	require.NoError(t, err)
	return s, fake
}

func serve(s *server, method, target, session string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: session})
	}
	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, req)
	return rec
}

func TestLoginFlow(t *testing.T) {
	s, _ := newTestClient(t)

	rec := serve(s, http.MethodGet, "/login", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/login"`)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = serve(s, http.MethodPost, "/login", "", url.Values{"email": {"ada@example.com"}, "password": {"wrong-password"}})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "/login?error=Invalid+credentials")

	rec = serve(s, http.MethodPost, "/login", "", url.Values{"email": {"ada@example.com"}, "password": {"correct-horse"}})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/onboarding", rec.Header().Get("Location"))
	assert.Contains(t, rec.Header().Get("Set-Cookie"), sessionCookieName+"=employee")

	rec = serve(s, http.MethodGet, "/", "admin", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}

func TestSignupRendersFieldErrors(t *testing.T) {
	s, _ := newTestClient(t)

	rec := serve(s, http.MethodGet, "/signup", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Engineering")

	rec = serve(s, http.MethodPost, "/signup", "", url.Values{
		"fullName": {"Ada Lovelace"}, "email": {"not-an-email"}, "password": {"long-enough-pw"}, "departmentId": {"d1"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Please enter a valid email address")
	assert.Contains(t, body, `value="Ada Lovelace"`)
	assert.Contains(t, body, `<option value="d1" selected>`)
}

func TestRoutingByStatus(t *testing.T) {
	s, _ := newTestClient(t)

	rec := serve(s, http.MethodGet, "/onboarding", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = serve(s, http.MethodGet, "/onboarding", "verified", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	rec = serve(s, http.MethodGet, "/dashboard", "employee", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/onboarding", rec.Header().Get("Location"))

	rec = serve(s, http.MethodGet, "/admin/submissions/s1", "employee", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/onboarding", rec.Header().Get("Location"))
}

func TestOnboardingPage(t *testing.T) {
	s, _ := newTestClient(t)

	rec := serve(s, http.MethodGet, "/onboarding", "employee", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Engineering Onboarding")
	assert.Contains(t, body, "67% complete")
	assert.Contains(t, body, "Blurry scan")
	assert.Contains(t, body, `value="octocat"`)
	assert.Contains(t, body, `action="/onboarding/files/photo"`)
	assert.Contains(t, body, `action="/onboarding/files/doc_t1/delete"`)
	assert.Contains(t, body, `href="/files/file1"`)
	assert.Contains(t, body, `value="tok-employee"`)
}

func TestOnboardingDraftAndSubmit(t *testing.T) {
	s, fake := newTestClient(t)

	rec := serve(s, http.MethodPost, "/onboarding", "employee", url.Values{
		"csrf_token": {"tok-employee"}, "action": {"draft"}, "github": {"ada"},
	})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "message=Draft+saved")
	fake.mu.Lock()
	assert.Equal(t, map[string]string{"github": "ada"}, fake.draftValues)
	fake.mu.Unlock()

	rec = serve(s, http.MethodPost, "/onboarding", "employee", url.Values{
		"csrf_token": {"tok-employee"}, "action": {"submit"}, "github": {""},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "GitHub Username is required")

	rec = serve(s, http.MethodPost, "/onboarding", "employee", url.Values{
		"csrf_token": {"tok-employee"}, "action": {"submit"}, "github": {"ada"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Please complete all fields before submitting")
	assert.Contains(t, body, `value="ada"`)
	assert.Contains(t, body, "You can save a draft to continue later.")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"tok-employee", "tok-employee", "tok-employee"}, fake.csrfHeaders)
}

func multipartUpload(t *testing.T, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("csrf_token", "tok-employee"))
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadForwardsWholeFile(t *testing.T) {
	s, fake := newTestClient(t)
	data := bytes.Repeat([]byte("x"), 4096)

	body, contentType := multipartUpload(t, "cv.pdf", data)
	req := httptest.NewRequest(http.MethodPost, "/onboarding/files/doc_t1", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "employee"})
	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "message=File+uploaded")
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"doc_t1:cv.pdf:4096"}, fake.uploads)
	assert.Equal(t, []string{"tok-employee"}, fake.csrfHeaders)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	s, fake := newTestClient(t)
	s.maxUploadBytes = 1 << 20

	for _, size := range []int{1<<20 + 1, 3 << 20} {
		body, contentType := multipartUpload(t, "cv.pdf", bytes.Repeat([]byte("x"), size))
		req := httptest.NewRequest(http.MethodPost, "/onboarding/files/doc_t1", body)
		req.Header.Set("Content-Type", contentType)
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "employee"})
		rec := httptest.NewRecorder()
		s.handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		location := rec.Header().Get("Location")
		assert.Contains(t, location, "field=doc_t1")
		assert.Contains(t, location, url.QueryEscape("File size must be less than 1MB"))
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.uploads)
}

func TestEmployeeDashboard(t *testing.T) {
	s, _ := newTestClient(t)

	rec := serve(s, http.MethodGet, "/dashboard", "verified", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "GH")
	assert.Contains(t, body, "GitHub Username")
	assert.Contains(t, body, "Shirt Size")
	assert.Contains(t, body, `href="/files/p1"`)
	assert.Contains(t, body, "Resume")
	assert.NotContains(t, body, "Doc T1")
	assert.NotContains(t, body, "Document Templates")
}

func TestAdminDashboardAndReview(t *testing.T) {
	s, fake := newTestClient(t)

	rec := serve(s, http.MethodGet, "/dashboard?status=pending&department=all&search=ada", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Ada Lovelace")
	assert.Contains(t, body, "tone-high")
	assert.Contains(t, body, `href="/admin/export?search=ada&amp;status=pending"`)
	fake.mu.Lock()
	assert.Equal(t, "pending", fake.listQuery.Get("status"))
	assert.Equal(t, "ada", fake.listQuery.Get("search"))
	assert.Empty(t, fake.listQuery.Get("department"))
	fake.mu.Unlock()

	rec = serve(s, http.MethodGet, "/admin/submissions/s1", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = rec.Body.String()
	assert.Contains(t, body, "octocat")
	assert.Contains(t, body, "Not uploaded")
	assert.Contains(t, body, `action="/admin/submissions/s1/reject"`)

	rec = serve(s, http.MethodGet, "/admin/submissions/missing", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(s, http.MethodPost, "/admin/submissions/s1/reject", "admin", url.Values{
		"csrf_token": {"tok-admin"}, "reason": {"  Blurry scan  "},
	})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "message=Submission+rejected")
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "Blurry scan", fake.rejectBody["reason"])
}

func TestFileProxy(t *testing.T) {
	s, _ := newTestClient(t)

	rec := serve(s, http.MethodGet, "/files/file1", "employee", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
}
