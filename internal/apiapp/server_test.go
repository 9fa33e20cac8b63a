package apiapp

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/phillip-england/onboarding/internal/formdef"
	"github.com/phillip-england/onboarding/internal/metrics"
	"github.com/phillip-england/onboarding/internal/security"
	"github.com/phillip-england/onboarding/internal/store"
)

const (
	adminEmail    = "admin@test.com"
	adminPassword = "admin-password-123"
)

type testEnv struct {
	store  *store.Store
	server *httptest.Server
	dept   *store.Department
	resume *formdef.DocumentTemplate
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hash, err := security.HashPassword(adminPassword)
	require.NoError(t, err)
	require.NoError(t, st.EnsureAdminUser(ctx, adminEmail, hash))

	dept, err := st.CreateDepartment(ctx, "Engineering")
	require.NoError(t, err)
	_, err = st.UpsertDepartmentForm(ctx, formdef.Form{
		DepartmentID: dept.ID,
		Name:         "Engineering Onboarding",
		Fields: []formdef.Field{
			{ID: "github", Type: formdef.FieldText, Label: "GitHub Username", Required: true},
			{ID: "laptop", Type: formdef.FieldDropdown, Label: "Laptop", Options: []string{"mac", "linux"}},
		},
	})
	require.NoError(t, err)
	resume, err := st.CreateDocumentTemplate(ctx, formdef.DocumentTemplate{
		DepartmentID: dept.ID, Title: "Resume", FileTypes: []string{"pdf"}, MaxFileSize: 1, Required: true,
	})
	require.NoError(t, err)

	s := newServer(st, zap.NewNop(), metrics.New(), Config{MaxUploadMB: 2})
	ts := httptest.NewServer(s.handler())
	t.Cleanup(ts.Close)
	return &testEnv{store: st, server: ts, dept: dept, resume: resume}
}

type apiClient struct {
	t    *testing.T
	base string
	http *http.Client
	csrf string
}

func (e *testEnv) client(t *testing.T) *apiClient {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &apiClient{t: t, base: e.server.URL, http: &http.Client{Jar: jar}}
}

func (c *apiClient) send(req *http.Request) (int, map[string]any) {
	c.t.Helper()
	if c.csrf != "" {
		req.Header.Set(csrfHeaderName, c.csrf)
	}
	res, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	require.NoError(c.t, err)
	out := map[string]any{}
	if strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		require.NoError(c.t, json.Unmarshal(raw, &out), string(raw))
	}
	return res.StatusCode, out
}

func (c *apiClient) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	return c.send(req)
}

func (c *apiClient) upload(path, fileName string, data []byte) (int, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(c.t, err)
	_, err = part.Write(data)
	require.NoError(c.t, err)
	require.NoError(c.t, mw.Close())
	req, err := http.NewRequest(http.MethodPost, c.base+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.send(req)
}

func (c *apiClient) login(email, password string) map[string]any {
	c.t.Helper()
	status, body := c.do(http.MethodPost, "/api/auth/login", loginRequest{Email: email, Password: password})
	require.Equal(c.t, http.StatusOK, status, body)
	c.csrf = body["csrfToken"].(string)
	return body
}

func (c *apiClient) signup(e *testEnv, email, name string) map[string]any {
	c.t.Helper()
	status, body := c.do(http.MethodPost, "/api/auth/signup", signupRequest{
		Email: email, Password: "employee-pw", FullName: name, PhoneNumber: "+91 555 0100", DepartmentID: e.dept.ID,
	})
	require.Equal(c.t, http.StatusCreated, status, body)
	c.csrf = body["csrfToken"].(string)
	return body
}

func TestHealthAndPublicDepartments(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	status, body := c.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, body = c.do(http.MethodGet, "/api/departments", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body["departments"], 1)
}

func TestSignupValidation(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	status, body := c.do(http.MethodPost, "/api/auth/signup", signupRequest{
		Email: "not-an-email", Password: "short", FullName: "", PhoneNumber: "call me", DepartmentID: "missing",
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	fieldErrors := body["fieldErrors"].(map[string]any)
	assert.Equal(t, "Please enter a valid email address", fieldErrors["email"])
	assert.Equal(t, "Password must be at least 8 characters", fieldErrors["password"])
	assert.Equal(t, "Full Name is required", fieldErrors["fullName"])
	assert.Equal(t, "Please enter a valid phone number", fieldErrors["phoneNumber"])
	assert.Equal(t, "Please select a valid department", fieldErrors["departmentId"])

	body = c.signup(env, "engineer@test.com", "Test Engineer")
	assert.Equal(t, "/onboarding", body["landing"])

	other := env.client(t)
	status, _ = other.do(http.MethodPost, "/api/auth/signup", signupRequest{
		Email: "ENGINEER@test.com", Password: "employee-pw", FullName: "Dup", PhoneNumber: "123", DepartmentID: env.dept.ID,
	})
	assert.Equal(t, http.StatusConflict, status)
}

func TestLoginAndSession(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t)

	status, _ := c.do(http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = c.do(http.MethodPost, "/api/auth/login", loginRequest{Email: adminEmail, Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, status)

	body := c.login(adminEmail, adminPassword)
	assert.Equal(t, "/dashboard", body["landing"])

	status, body = c.do(http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["user"].(map[string]any)["isAdmin"])

	status, body = c.do(http.MethodGet, "/api/auth/csrf", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, c.csrf, body["csrfToken"])

	token := c.csrf
	c.csrf = ""
	status, _ = c.do(http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusForbidden, status)

	c.csrf = token
	status, _ = c.do(http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = c.do(http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestOnboardingWorkflow(t *testing.T) {
	env := newTestEnv(t)
	emp := env.client(t)
	emp.signup(env, "engineer@test.com", "Test Engineer")
	docField := formdef.DocumentFieldID(env.resume.ID)

	status, body := emp.do(http.MethodGet, "/api/onboarding", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["needsDepartment"])
	assert.Equal(t, true, body["editable"])
	assert.EqualValues(t, 0, body["completion"])
	assert.Nil(t, body["submission"])

	status, body = emp.do(http.MethodPut, "/api/onboarding/draft", valuesRequest{Values: map[string]string{"github": "octo", "unknown": "dropped"}})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 33, body["completion"])
	draft := body["submission"].(map[string]any)
	assert.Equal(t, "draft", draft["status"])
	assert.NotContains(t, draft["draftData"], "unknown")

	status, body = emp.do(http.MethodPost, "/api/onboarding/submit", valuesRequest{})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Resume is required", body["fieldErrors"].(map[string]any)[docField])

	status, body = emp.upload("/api/onboarding/files/"+docField, "photo.png", []byte("fake"))
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "File type must be one of: pdf", body["fieldErrors"].(map[string]any)[docField])

	status, body = emp.upload("/api/onboarding/files/"+docField, "cv.pdf", bytes.Repeat([]byte("x"), 1<<20+1))
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "File size must be less than 1MB", body["fieldErrors"].(map[string]any)[docField])

	status, _ = emp.upload("/api/onboarding/files/nope", "cv.pdf", []byte("%PDF-1.4"))
	assert.Equal(t, http.StatusNotFound, status)

	status, body = emp.upload("/api/onboarding/files/"+docField, "cv.pdf", []byte("%PDF-1.4 resume"))
	require.Equal(t, http.StatusCreated, status, body)
	assert.EqualValues(t, 67, body["completion"])
	fileURL := body["file"].(map[string]any)["url"].(string)

	res, err := emp.http.Get(emp.base + fileURL)
	require.NoError(t, err)
	raw, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "%PDF-1.4 resume", string(raw))

	stranger := env.client(t)
	stranger.signup(env, "stranger@test.com", "Someone Else")
	status, _ = stranger.do(http.MethodGet, fileURL, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = emp.do(http.MethodPost, "/api/onboarding/submit", valuesRequest{Values: map[string]string{"github": "octo", "laptop": "windows"}})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Please select a valid option", body["fieldErrors"].(map[string]any)["laptop"])

	status, body = emp.do(http.MethodPost, "/api/onboarding/submit", valuesRequest{Values: map[string]string{"github": "octo", "laptop": "mac"}})
	require.Equal(t, http.StatusOK, status, body)
	submission := body["submission"].(map[string]any)
	assert.Equal(t, "pending", submission["status"])
	assert.EqualValues(t, 100, submission["completionPercentage"])
	submissionID := submission["id"].(string)

	status, _ = emp.do(http.MethodPut, "/api/onboarding/draft", valuesRequest{Values: map[string]string{"github": "late"}})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = emp.do(http.MethodGet, "/api/admin/submissions", nil)
	assert.Equal(t, http.StatusForbidden, status)

	admin := env.client(t)
	admin.login(adminEmail, adminPassword)

	status, body = admin.do(http.MethodGet, "/api/admin/submissions?status=pending&search=ENGINEER", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["submissions"], 1)

	status, body = admin.do(http.MethodGet, "/api/admin/submissions?status=draft", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["submissions"], 0)

	status, _ = admin.do(http.MethodPost, "/api/admin/submissions/"+submissionID+"/reject", rejectRequest{Reason: "  "})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = admin.do(http.MethodPost, "/api/admin/submissions/"+submissionID+"/reject", rejectRequest{Reason: "Resume is blurry"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "rejected", body["submission"].(map[string]any)["status"])

	status, body = emp.do(http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/onboarding", body["landing"])
	assert.Equal(t, "rejected", body["user"].(map[string]any)["onboardingStatus"])
	assert.Equal(t, "Resume is blurry", body["user"].(map[string]any)["rejectionReason"])

	status, body = emp.do(http.MethodGet, "/api/onboarding", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["editable"])

	status, _ = emp.do(http.MethodPost, "/api/onboarding/submit", valuesRequest{})
	require.Equal(t, http.StatusOK, status)

	status, _ = admin.do(http.MethodPost, "/api/admin/submissions/"+submissionID+"/approve", nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = admin.do(http.MethodPost, "/api/admin/submissions/"+submissionID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = emp.do(http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/dashboard", body["landing"])

	status, body = emp.do(http.MethodGet, "/api/profile", nil)
	require.Equal(t, http.StatusOK, status)
	docs := body["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, "resume", docs[0].(map[string]any)["documentType"])
	data := body["profile"].(map[string]any)["departmentSpecificData"].(map[string]any)
	assert.Equal(t, "octo", data["github"])
	assert.Equal(t, fileURL, data[docField])
	templates := data["documentTemplates"].([]any)
	require.Len(t, templates, 1)
	assert.Equal(t, map[string]any{
		"id": env.resume.ID, "title": "Resume", "required": true, "uploaded": true, "url": fileURL,
	}, templates[0])

	res, err = admin.http.Get(admin.base + "/api/admin/submissions/export")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Content-Disposition"), ".xlsx")

	res, err = admin.http.Get(admin.base + "/metrics")
	require.NoError(t, err)
	raw, _ = io.ReadAll(res.Body)
	_ = res.Body.Close()
	assert.Contains(t, string(raw), `onboarding_reviews_total{decision="approved"} 1`)
	assert.Contains(t, string(raw), `onboarding_uploads_total{kind="document"} 1`)
}

func TestAdminDepartmentsFormsAndUsers(t *testing.T) {
	env := newTestEnv(t)
	admin := env.client(t)
	admin.login(adminEmail, adminPassword)

	status, body := admin.do(http.MethodPost, "/api/admin/departments", createDepartmentRequest{Name: "HR"})
	require.Equal(t, http.StatusCreated, status)
	hrID := body["department"].(map[string]any)["id"].(string)

	status, _ = admin.do(http.MethodPost, "/api/admin/departments", createDepartmentRequest{Name: "hr"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = admin.do(http.MethodGet, "/api/admin/departments/"+hrID+"/form", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = admin.do(http.MethodPut, "/api/admin/departments/"+hrID+"/form", formRequest{
		Name: "HR", Fields: []formdef.Field{{ID: "x", Type: "slider", Label: "X"}},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = admin.do(http.MethodPut, "/api/admin/departments/"+hrID+"/form", formRequest{
		Name: "HR Onboarding", Fields: []formdef.Field{{ID: "pan", Type: formdef.FieldText, Label: "PAN", Required: true}},
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "HR Onboarding", body["form"].(map[string]any)["name"])

	status, body = admin.do(http.MethodPost, "/api/admin/departments/"+hrID+"/documents", documentTemplateRequest{Title: "Police Verification", Required: true})
	require.Equal(t, http.StatusCreated, status)
	docID := body["document"].(map[string]any)["id"].(string)

	status, body = admin.do(http.MethodGet, "/api/admin/departments/"+hrID+"/documents", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["documents"], 1)

	status, _ = admin.do(http.MethodDelete, "/api/admin/departments/"+hrID+"/documents/"+docID, nil)
	assert.Equal(t, http.StatusOK, status)

	emp := env.client(t)
	signup := emp.signup(env, "mover@test.com", "Mover")
	userID := signup["user"].(map[string]any)["id"].(string)

	status, _ = admin.do(http.MethodPut, "/api/admin/users/"+userID+"/department", assignDepartmentRequest{DepartmentID: "missing"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, body = admin.do(http.MethodPut, "/api/admin/users/"+userID+"/department", assignDepartmentRequest{DepartmentID: hrID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "HR", body["user"].(map[string]any)["departmentName"])

	status, body = emp.do(http.MethodGet, "/api/onboarding", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "HR Onboarding", body["form"].(map[string]any)["name"])

	status, body = admin.do(http.MethodGet, "/api/admin/users", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["users"], 2)

	status, _ = admin.do(http.MethodPut, "/api/admin/users/"+userID+"/department", assignDepartmentRequest{})
	require.Equal(t, http.StatusOK, status)
	status, body = emp.do(http.MethodGet, "/api/onboarding", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["needsDepartment"])
	assert.Nil(t, body["form"])

	status, _ = admin.do(http.MethodDelete, "/api/admin/departments/"+hrID, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAdminCatalogImport(t *testing.T) {
	env := newTestEnv(t)
	admin := env.client(t)
	admin.login(adminEmail, adminPassword)

	req, err := http.NewRequest(http.MethodPost, admin.base+"/api/admin/catalog", strings.NewReader(`
departments:
  - name: Sales
    documents:
      - title: Offer Letter
        required: true
`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/yaml")
	status, body := admin.send(req)
	require.Equal(t, http.StatusOK, status, body)
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 1, summary["departmentsCreated"])
	assert.EqualValues(t, 1, summary["documentsCreated"])

	status, body = admin.upload("/api/admin/departments/import", "departments.xlsx", []byte("not a workbook"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "unable to read spreadsheet")
}

func TestSubmitRequiresFullCompletion(t *testing.T) {
	env := newTestEnv(t)
	emp := env.client(t)
	emp.signup(env, "engineer@test.com", "Test Engineer")

	status, body := emp.upload("/api/onboarding/files/"+formdef.DocumentFieldID(env.resume.ID), "cv.pdf", []byte("%PDF-1.4 resume"))
	require.Equal(t, http.StatusCreated, status, body)

	status, body = emp.do(http.MethodPost, "/api/onboarding/submit", valuesRequest{Values: map[string]string{"github": "octo"}})
	require.Equal(t, http.StatusBadRequest, status, body)
	assert.Equal(t, "Please complete all fields before submitting", body["error"])

	status, body = emp.do(http.MethodGet, "/api/onboarding", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "draft", body["submission"].(map[string]any)["status"])
	assert.EqualValues(t, 33, body["completion"])

	status, body = emp.do(http.MethodPost, "/api/onboarding/submit", valuesRequest{Values: map[string]string{"github": "octo", "laptop": "linux"}})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "pending", body["submission"].(map[string]any)["status"])
}

func TestDepartmentDataListsEveryTemplate(t *testing.T) {
	form := &formdef.Form{Fields: []formdef.Field{
		{ID: "github", Type: formdef.FieldText, Label: "GitHub Username"},
		{ID: "photo", Type: formdef.FieldFile, Label: "Photo"},
	}}
	docs := []formdef.DocumentTemplate{
		{ID: "t1", Title: "Resume", Required: true},
		{ID: "t2", Title: "Cover Letter"},
	}
	files := []store.UploadedFile{
		{FieldID: "photo", FileID: "f1", URL: "/api/files/f1"},
		{FieldID: formdef.DocumentFieldID("t1"), FileID: "f2", URL: "/api/files/f2"},
	}

	data := departmentData(form, docs, map[string]string{"github": " octo ", "stale": "x"}, files)
	assert.Equal(t, "octo", data["github"])
	assert.Equal(t, "/api/files/f1", data["photo"])
	assert.Equal(t, "/api/files/f2", data["doc_t1"])
	assert.NotContains(t, data, "doc_t2")
	assert.NotContains(t, data, "stale")
	assert.Equal(t, []map[string]any{
		{"id": "t1", "title": "Resume", "required": true, "uploaded": true, "url": "/api/files/f2"},
		{"id": "t2", "title": "Cover Letter", "required": false, "uploaded": false, "url": nil},
	}, data["documentTemplates"])
}

func TestRemoveUploadedFile(t *testing.T) {
	env := newTestEnv(t)
	emp := env.client(t)
	emp.signup(env, "engineer@test.com", "Test Engineer")
	docPath := "/api/onboarding/files/" + formdef.DocumentFieldID(env.resume.ID)

	status, _ := emp.do(http.MethodDelete, docPath, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body := emp.upload(docPath, "cv.pdf", []byte("%PDF-1.4 resume"))
	require.Equal(t, http.StatusCreated, status, body)
	assert.EqualValues(t, 33, body["completion"])
	fileURL := body["file"].(map[string]any)["url"].(string)

	status, body = emp.do(http.MethodDelete, docPath, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 0, body["completion"])
	assert.Empty(t, body["submission"].(map[string]any)["uploadedFiles"])
	status, _ = emp.do(http.MethodGet, fileURL, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = emp.upload(docPath, "cv.pdf", []byte("%PDF-1.4 resume"))
	require.Equal(t, http.StatusCreated, status, body)
	status, body = emp.do(http.MethodPost, "/api/onboarding/submit", valuesRequest{Values: map[string]string{"github": "octo", "laptop": "mac"}})
	require.Equal(t, http.StatusOK, status, body)
	submissionID := body["submission"].(map[string]any)["id"].(string)

	status, _ = emp.do(http.MethodDelete, docPath, nil)
	assert.Equal(t, http.StatusConflict, status)

	admin := env.client(t)
	admin.login(adminEmail, adminPassword)
	status, _ = admin.do(http.MethodPost, "/api/admin/submissions/"+submissionID+"/approve", nil)
	require.Equal(t, http.StatusOK, status)

	status, _ = emp.do(http.MethodDelete, docPath, nil)
	assert.Equal(t, http.StatusConflict, status)
	status, body = emp.do(http.MethodGet, "/api/onboarding", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["submission"].(map[string]any)["uploadedFiles"], 1)
}

func TestFilePreview(t *testing.T) {
	env := newTestEnv(t)
	photo, err := env.store.CreateDocumentTemplate(context.Background(), formdef.DocumentTemplate{
		DepartmentID: env.dept.ID, Title: "Photo ID", FileTypes: []string{"png"}, MaxFileSize: 1,
	})
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		for y := 0; y < 48; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var raw bytes.Buffer
	require.NoError(t, png.Encode(&raw, img))

	emp := env.client(t)
	emp.signup(env, "engineer@test.com", "Test Engineer")

	status, body := emp.upload("/api/onboarding/files/"+formdef.DocumentFieldID(photo.ID), "id.png", raw.Bytes())
	require.Equal(t, http.StatusCreated, status, body)
	imageURL := body["file"].(map[string]any)["url"].(string)

	status, body = emp.upload("/api/onboarding/files/"+formdef.DocumentFieldID(env.resume.ID), "cv.pdf", []byte("%PDF-1.4 resume"))
	require.Equal(t, http.StatusCreated, status, body)
	pdfURL := body["file"].(map[string]any)["url"].(string)

	res, err := emp.http.Get(emp.base + imageURL + "/preview")
	require.NoError(t, err)
	preview, err := io.ReadAll(res.Body)
	_ = res.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/png", res.Header.Get("Content-Type"))
	thumb, format, err := image.Decode(bytes.NewReader(preview))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, previewSize, thumb.Bounds().Dx())
	assert.Equal(t, previewSize, thumb.Bounds().Dy())

	status, body = emp.do(http.MethodGet, pdfURL+"/preview", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "no preview available", body["error"])

	stranger := env.client(t)
	stranger.signup(env, "stranger@test.com", "Someone Else")
	status, _ = stranger.do(http.MethodGet, imageURL+"/preview", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestResubmitReplacesDocuments(t *testing.T) {
	env := newTestEnv(t)
	emp := env.client(t)
	signup := emp.signup(env, "engineer@test.com", "Test Engineer")
	userID := signup["user"].(map[string]any)["id"].(string)
	docPath := "/api/onboarding/files/" + formdef.DocumentFieldID(env.resume.ID)

	status, body := emp.upload(docPath, "blurry.pdf", []byte("%PDF-1.4 blurry"))
	require.Equal(t, http.StatusCreated, status, body)
	firstURL := body["file"].(map[string]any)["url"].(string)
	status, body = emp.do(http.MethodPost, "/api/onboarding/submit", valuesRequest{Values: map[string]string{"github": "octo", "laptop": "mac"}})
	require.Equal(t, http.StatusOK, status, body)
	submissionID := body["submission"].(map[string]any)["id"].(string)

	admin := env.client(t)
	admin.login(adminEmail, adminPassword)
	status, _ = admin.do(http.MethodPost, "/api/admin/submissions/"+submissionID+"/reject", rejectRequest{Reason: "Resume is blurry"})
	require.Equal(t, http.StatusOK, status)

	status, body = emp.upload(docPath, "clear.pdf", []byte("%PDF-1.4 clear"))
	require.Equal(t, http.StatusCreated, status, body)
	secondURL := body["file"].(map[string]any)["url"].(string)
	require.NotEqual(t, firstURL, secondURL)
	status, _ = emp.do(http.MethodGet, firstURL, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = emp.do(http.MethodPost, "/api/onboarding/submit", valuesRequest{})
	require.Equal(t, http.StatusOK, status, body)

	docs, err := env.store.ListOnboardingDocuments(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "clear.pdf", docs[0].FileName)
	assert.Equal(t, secondURL, docs[0].FileURL)
	assert.Equal(t, submissionID, docs[0].SubmissionID)
}
