package clientapp

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/phillip-england/onboarding/internal/onboarding"
)

func filterQuery(f onboarding.Filter) url.Values {
	q := url.Values{}
	if f.Status != "" && f.Status != "all" {
		q.Set("status", f.Status)
	}
	if f.DepartmentID != "" && f.DepartmentID != "all" {
		q.Set("department", f.DepartmentID)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	return q
}

func (s *server) adminDashboard(w http.ResponseWriter, r *http.Request) {
	data, ok := s.baseData(w, r, "Submissions")
	if !ok {
		return
	}
	q := r.URL.Query()
	data.Filter = onboarding.Filter{
		Status:       strings.TrimSpace(q.Get("status")),
		DepartmentID: strings.TrimSpace(q.Get("department")),
		Search:       strings.TrimSpace(q.Get("search")),
	}
	apiQuery := filterQuery(data.Filter)

	depts, err := s.fetchDepartments(r)
	if err != nil {
		s.logger.Warn("load departments failed", zap.Error(err))
	}
	rows, err := s.fetchSubmissions(r, apiQuery)
	if err != nil {
		s.logger.Error("load submissions failed", zap.Error(err))
		http.Error(w, "unable to load submissions", http.StatusBadGateway)
		return
	}
	data.Departments = depts
	data.Rows = adminRows(rows)
	data.ExportURL = "/admin/export"
	if encoded := apiQuery.Encode(); encoded != "" {
		data.ExportURL += "?" + encoded
	}
	s.render(w, http.StatusOK, "admin", data)
}

func (s *server) submissionPage(w http.ResponseWriter, r *http.Request) {
	data, ok := s.baseData(w, r, "Review submission")
	if !ok {
		return
	}
	detail, err := s.fetchSubmission(r, r.PathValue("id"))
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("load submission failed", zap.Error(err))
		http.Error(w, "unable to load submission", http.StatusBadGateway)
		return
	}
	data.Submission = &detail.Submission
	data.Status = detail.Submission.Status
	data.RejectionReason = detail.Submission.RejectionReason
	data.Completion = detail.Submission.CompletionPercentage
	data.Tone = detail.Tone
	data.Pending = detail.Submission.Status == string(onboarding.StatusPending)
	data.Details, data.Documents = submissionAnswers(&detail.Submission, detail.Documents)
	s.render(w, http.StatusOK, "submission", data)
}

func (s *server) approve(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, "approve", nil, "Submission approved")
}

func (s *server) reject(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectWithError(w, r, "/admin/submissions/"+url.PathEscape(r.PathValue("id")), "Invalid form submission")
		return
	}
	reason := strings.TrimSpace(r.PostForm.Get("reason"))
	s.review(w, r, "reject", map[string]string{"reason": reason}, "Submission rejected")
}

func (s *server) review(w http.ResponseWriter, r *http.Request, action string, payload any, success string) {
	id := r.PathValue("id")
	back := "/admin/submissions/" + url.PathEscape(id)
	if err := r.ParseForm(); err != nil {
		redirectWithError(w, r, back, "Invalid form submission")
		return
	}
	_, err := s.api(r, apiCall{
		Method: http.MethodPost,
		Path:   "/api/admin/submissions/" + url.PathEscape(id) + "/" + action,
		JSON:   payload,
		CSRF:   r.PostForm.Get(csrfFormField),
	}, nil)
	if err != nil {
		redirectWithError(w, r, back, messageOf(err, "Unable to review submission"))
		return
	}
	redirectWithMessage(w, r, back, success)
}

func (s *server) exportProxy(w http.ResponseWriter, r *http.Request) {
	path := "/api/admin/submissions/export"
	if encoded := r.URL.RawQuery; encoded != "" {
		path += "?" + encoded
	}
	s.stream(w, r, path)
}
