package clientapp

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/phillip-england/onboarding/internal/onboarding"
)

const maxClientUploadBytes = 32 << 20

// multipartSlack covers the boundaries and the csrf field around the file.
const multipartSlack = 1 << 20

func redirectWithError(w http.ResponseWriter, r *http.Request, path, message string) {
	http.Redirect(w, r, path+"?error="+url.QueryEscape(message), http.StatusFound)
}

func redirectWithMessage(w http.ResponseWriter, r *http.Request, path, message string) {
	http.Redirect(w, r, path+"?message="+url.QueryEscape(message), http.StatusFound)
}

func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.fetchIdentity(r)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

func (s *server) requireAdmin(next http.Handler) http.Handler {
	return s.requireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r.Context())
		if !id.User.IsAdmin {
			http.Redirect(w, r, id.Landing, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

// baseData starts a page for a signed-in user.
func (s *server) baseData(w http.ResponseWriter, r *http.Request, title string) (pageData, bool) {
	csrf, err := s.fetchCSRFToken(r)
	if err != nil {
		redirectWithError(w, r, "/login", "Session expired")
		return pageData{}, false
	}
	id := identityFrom(r.Context())
	user := id.User
	return pageData{
		Title:          title,
		CSRF:           csrf,
		User:           &user,
		SuccessMessage: r.URL.Query().Get("message"),
		Error:          r.URL.Query().Get("error"),
		FieldErrors:    map[string]string{},
	}, true
}

func (s *server) root(w http.ResponseWriter, r *http.Request) {
	if id, err := s.fetchIdentity(r); err == nil {
		http.Redirect(w, r, id.Landing, http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *server) loginPage(w http.ResponseWriter, r *http.Request) {
	if id, err := s.fetchIdentity(r); err == nil {
		http.Redirect(w, r, id.Landing, http.StatusFound)
		return
	}
	s.render(w, http.StatusOK, "login", pageData{
		Title:          "Sign in",
		SuccessMessage: r.URL.Query().Get("message"),
		Error:          r.URL.Query().Get("error"),
	})
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithError(w, r, "/login", "Invalid form submission")
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if email == "" || password == "" {
		redirectWithError(w, r, "/login", "Email and password are required")
		return
	}

	var resp identity
	header, err := s.api(r, apiCall{
		Method: http.MethodPost,
		Path:   "/api/auth/login",
		JSON:   map[string]string{"email": email, "password": password},
	}, &resp)
	if err != nil {
		if statusOf(err) == 0 {
			s.logger.Warn("login proxy failed", zap.Error(err))
			redirectWithError(w, r, "/login", "Authentication service unavailable")
			return
		}
		redirectWithError(w, r, "/login", "Invalid credentials")
		return
	}
	forwardCookies(w, header)
	http.Redirect(w, r, landingOr(resp.Landing), http.StatusFound)
}

func (s *server) signupPage(w http.ResponseWriter, r *http.Request) {
	depts, err := s.fetchDepartments(r)
	if err != nil {
		s.logger.Warn("load departments failed", zap.Error(err))
	}
	s.render(w, http.StatusOK, "signup", pageData{
		Title:       "Create account",
		Departments: depts,
		Form:        map[string]string{},
		FieldErrors: map[string]string{},
		Error:       r.URL.Query().Get("error"),
	})
}

func (s *server) signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithError(w, r, "/signup", "Invalid form submission")
		return
	}
	form := map[string]string{
		"fullName":     strings.TrimSpace(r.FormValue("fullName")),
		"email":        strings.TrimSpace(r.FormValue("email")),
		"phoneNumber":  strings.TrimSpace(r.FormValue("phoneNumber")),
		"departmentId": strings.TrimSpace(r.FormValue("departmentId")),
	}
	payload := map[string]string{"password": r.FormValue("password")}
	for k, v := range form {
		payload[k] = v
	}

	var resp identity
	header, err := s.api(r, apiCall{Method: http.MethodPost, Path: "/api/auth/signup", JSON: payload}, &resp)
	if err != nil {
		depts, _ := s.fetchDepartments(r)
		status := statusOf(err)
		if status == 0 {
			s.logger.Warn("signup proxy failed", zap.Error(err))
			status = http.StatusBadGateway
		}
		s.render(w, status, "signup", pageData{
			Title:       "Create account",
			Departments: depts,
			Form:        form,
			FieldErrors: fieldErrorsOf(err),
			Error:       messageOf(err, "Unable to create account"),
		})
		return
	}
	forwardCookies(w, header)
	http.Redirect(w, r, landingOr(resp.Landing), http.StatusFound)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithError(w, r, "/login", "Invalid form submission")
		return
	}
	header, err := s.api(r, apiCall{Method: http.MethodPost, Path: "/api/auth/logout", CSRF: r.FormValue(csrfFormField)}, nil)
	if err != nil {
		s.logger.Warn("logout failed", zap.Error(err))
	}
	if header != nil {
		forwardCookies(w, header)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	redirectWithMessage(w, r, "/login", "Signed out")
}

func (s *server) onboardingPage(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id.User.IsAdmin || id.Landing == onboarding.PathDashboard {
		http.Redirect(w, r, onboarding.PathDashboard, http.StatusFound)
		return
	}
	data, ok := s.baseData(w, r, "Onboarding")
	if !ok {
		return
	}
	if field := r.URL.Query().Get("field"); field != "" && data.Error != "" {
		data.FieldErrors[field] = data.Error
		data.Error = ""
	}
	s.renderOnboarding(w, r, http.StatusOK, data, nil)
}

func (s *server) renderOnboarding(w http.ResponseWriter, r *http.Request, status int, data pageData, values map[string]string) {
	state, err := s.fetchOnboarding(r)
	if err != nil {
		s.logger.Error("load onboarding failed", zap.Error(err))
		http.Error(w, "unable to load onboarding", http.StatusBadGateway)
		return
	}
	if err := buildOnboarding(&data, state, values); err != nil {
		s.logger.Error("render onboarding fields failed", zap.Error(err))
		http.Error(w, "template render failed", http.StatusInternalServerError)
		return
	}
	s.render(w, status, "onboarding", data)
}

// saveOnboarding handles both buttons of the onboarding form: action=draft
// stores progress, anything else submits for review.
func (s *server) saveOnboarding(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithError(w, r, "/onboarding", "Invalid form submission")
		return
	}
	values := map[string]string{}
	for key, vals := range r.PostForm {
		if key == csrfFormField || key == "action" || len(vals) == 0 {
			continue
		}
		values[key] = vals[0]
	}
	call := apiCall{
		Method: http.MethodPost,
		Path:   "/api/onboarding/submit",
		JSON:   map[string]any{"values": values},
		CSRF:   r.PostForm.Get(csrfFormField),
	}
	success := "Onboarding submitted for review"
	if r.PostForm.Get("action") == "draft" {
		call.Method = http.MethodPut
		call.Path = "/api/onboarding/draft"
		success = "Draft saved"
	}
	if _, err := s.api(r, call, nil); err != nil {
		status := statusOf(err)
		if status != http.StatusUnprocessableEntity && status != http.StatusBadRequest {
			redirectWithError(w, r, "/onboarding", messageOf(err, "Unable to save onboarding"))
			return
		}
		data, ok := s.baseData(w, r, "Onboarding")
		if !ok {
			return
		}
		data.Error = messageOf(err, "Please fix the highlighted fields")
		data.FieldErrors = fieldErrorsOf(err)
		s.renderOnboarding(w, r, status, data, values)
		return
	}
	redirectWithMessage(w, r, "/onboarding", success)
}

func uploadError(w http.ResponseWriter, r *http.Request, fieldID, message string) {
	http.Redirect(w, r, "/onboarding?field="+url.QueryEscape(fieldID)+"&error="+url.QueryEscape(message), http.StatusFound)
}

// uploadFile re-encodes the browser's multipart body for the API. Files over
// maxUploadBytes are refused here rather than forwarded cut short.
func (s *server) uploadFile(w http.ResponseWriter, r *http.Request) {
	fieldID := r.PathValue("fieldId")
	tooLarge := "File size must be less than " + strconv.FormatInt(s.maxUploadBytes>>20, 10) + "MB"
	if r.ContentLength > s.maxUploadBytes+multipartSlack {
		uploadError(w, r, fieldID, tooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartSlack)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			uploadError(w, r, fieldID, tooLarge)
			return
		}
		redirectWithError(w, r, "/onboarding", "Invalid upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		uploadError(w, r, fieldID, "Please choose a file")
		return
	}
	defer file.Close()
	if header.Size > s.maxUploadBytes {
		uploadError(w, r, fieldID, tooLarge)
		return
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", header.Filename)
	if err != nil {
		redirectWithError(w, r, "/onboarding", "Unable to upload file")
		return
	}
	if _, err := io.Copy(part, file); err != nil {
		redirectWithError(w, r, "/onboarding", "Unable to upload file")
		return
	}
	if err := mw.Close(); err != nil {
		redirectWithError(w, r, "/onboarding", "Unable to upload file")
		return
	}

	_, err = s.api(r, apiCall{
		Method:      http.MethodPost,
		Path:        "/api/onboarding/files/" + url.PathEscape(fieldID),
		Body:        &body,
		ContentType: mw.FormDataContentType(),
		CSRF:        r.FormValue(csrfFormField),
	}, nil)
	if err != nil {
		message := messageOf(err, "Unable to upload file")
		if fe := fieldErrorsOf(err); fe[fieldID] != "" {
			message = fe[fieldID]
		}
		uploadError(w, r, fieldID, message)
		return
	}
	redirectWithMessage(w, r, "/onboarding", "File uploaded")
}

func (s *server) removeFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithError(w, r, "/onboarding", "Invalid form submission")
		return
	}
	_, err := s.api(r, apiCall{
		Method: http.MethodDelete,
		Path:   "/api/onboarding/files/" + url.PathEscape(r.PathValue("fieldId")),
		CSRF:   r.PostForm.Get(csrfFormField),
	}, nil)
	if err != nil {
		redirectWithError(w, r, "/onboarding", messageOf(err, "Unable to remove file"))
		return
	}
	redirectWithMessage(w, r, "/onboarding", "File removed")
}

func (s *server) dashboard(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	if id.User.IsAdmin {
		s.adminDashboard(w, r)
		return
	}
	if id.Landing != onboarding.PathDashboard {
		http.Redirect(w, r, onboarding.PathOnboarding, http.StatusFound)
		return
	}
	data, ok := s.baseData(w, r, "My profile")
	if !ok {
		return
	}
	profile, err := s.fetchProfile(r)
	if err != nil {
		s.logger.Error("load profile failed", zap.Error(err))
		http.Error(w, "unable to load profile", http.StatusBadGateway)
		return
	}
	data.User = &profile.Profile
	if profile.Department != nil {
		data.DepartmentName = profile.Department.Name
	}
	data.Status = profile.Profile.OnboardingStatus
	data.Details = profileDetails(profile.Fields, profile.Profile.DepartmentData)
	data.Documents = profileDocuments(profile.Documents)
	s.render(w, http.StatusOK, "dashboard", data)
}

func (s *server) fileProxy(w http.ResponseWriter, r *http.Request) {
	path := "/api/files/" + url.PathEscape(r.PathValue("id"))
	if strings.HasSuffix(r.URL.Path, "/preview") {
		path += "/preview"
	}
	s.stream(w, r, path)
}

func landingOr(landing string) string {
	if landing == onboarding.PathDashboard || landing == onboarding.PathOnboarding {
		return landing
	}
	return onboarding.PathOnboarding
}
