package clientapp

import (
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/phillip-england/onboarding/internal/formdef"
	"github.com/phillip-england/onboarding/internal/onboarding"
)

type userView struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	FullName         string         `json:"fullName"`
	PhoneNumber      string         `json:"phoneNumber"`
	DepartmentID     string         `json:"departmentId"`
	DepartmentName   string         `json:"departmentName"`
	OnboardingStatus string         `json:"onboardingStatus"`
	RejectionReason  string         `json:"rejectionReason"`
	DepartmentData   map[string]any `json:"departmentSpecificData"`
	IsAdmin          bool           `json:"isAdmin"`
}

type departmentView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type uploadedFileView struct {
	FieldID  string `json:"fieldId"`
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
	URL      string `json:"url"`
}

type submissionView struct {
	ID                   string             `json:"id"`
	Status               string             `json:"status"`
	DraftData            map[string]string  `json:"draftData"`
	UploadedFiles        []uploadedFileView `json:"uploadedFiles"`
	CompletionPercentage int                `json:"completionPercentage"`
	RejectionReason      string             `json:"rejectionReason"`
	LastSavedAt          time.Time          `json:"lastSavedAt"`
	SubmittedAt          *time.Time         `json:"submittedAt"`
	ReviewedAt           *time.Time         `json:"reviewedAt"`
}

func (s *submissionView) file(fieldID string) (uploadedFileView, bool) {
	if s == nil {
		return uploadedFileView{}, false
	}
	for _, f := range s.UploadedFiles {
		if f.FieldID == fieldID {
			return f, true
		}
	}
	return uploadedFileView{}, false
}

type submissionRowView struct {
	submissionView
	FullName       string          `json:"fullName"`
	Email          string          `json:"email"`
	PhoneNumber    string          `json:"phoneNumber"`
	DepartmentID   string          `json:"departmentId"`
	DepartmentName string          `json:"departmentName"`
	FormName       string          `json:"formName"`
	FormFields     []formdef.Field `json:"formFields"`
}

type submissionDetail struct {
	Submission submissionRowView          `json:"submission"`
	Documents  []formdef.DocumentTemplate `json:"documents"`
	Tone       onboarding.Tone            `json:"tone"`
}

type onboardingState struct {
	Profile         userView                   `json:"profile"`
	Department      *departmentView            `json:"department"`
	NeedsDepartment bool                       `json:"needsDepartment"`
	Form            *formdef.Form              `json:"form"`
	Documents       []formdef.DocumentTemplate `json:"documents"`
	Submission      *submissionView            `json:"submission"`
	Completion      int                        `json:"completion"`
	Editable        bool                       `json:"editable"`
	Landing         string                     `json:"landing"`
}

type documentView struct {
	DocumentType string `json:"documentType"`
	FileName     string `json:"fileName"`
	FileURL      string `json:"fileUrl"`
}

type profileState struct {
	Profile    userView        `json:"profile"`
	Department *departmentView `json:"department"`
	Fields     []formdef.Field `json:"fields"`
	Documents  []documentView  `json:"documents"`
	Landing    string          `json:"landing"`
}

// uploadControl is one file field or document template, rendered as its own
// form so it can post multipart data without nesting.
type uploadControl struct {
	FieldID  string
	Control  template.HTML
	FileName string
	URL      string
}

type detailRow struct {
	Label string
	Value string
	URL   string
}

type adminRow struct {
	ID             string
	FullName       string
	Email          string
	DepartmentName string
	FormName       string
	Status         string
	Completion     int
	Tone           onboarding.Tone
	LastSavedAt    time.Time
	SubmittedAt    *time.Time
}

type pageData struct {
	Title          string
	CSRF           string
	User           *userView
	SuccessMessage string
	Error          string
	FieldErrors    map[string]string

	Form        map[string]string
	Departments []departmentView

	DepartmentName  string
	FormName        string
	FormDescription string
	NeedsDepartment bool
	NoForm          bool
	Status          string
	RejectionReason string
	Completion      int
	Tone            onboarding.Tone
	Editable        bool
	Fields          []template.HTML
	Uploads         []uploadControl

	Details   []detailRow
	Documents []detailRow

	Filter     onboarding.Filter
	Rows       []adminRow
	ExportURL  string
	Submission *submissionRowView
	Pending    bool
}

func statusLabel(status string) string {
	switch status {
	case "":
		return "Not started"
	case string(onboarding.ProfileDocumentsUploaded):
		return "Documents uploaded"
	default:
		return onboarding.FormatFieldName(status)
	}
}

func formatWhen(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Local().Format("Jan 2, 2006 3:04 PM")
	case *time.Time:
		if t == nil || t.IsZero() {
			return ""
		}
		return t.Local().Format("Jan 2, 2006 3:04 PM")
	default:
		return ""
	}
}

// clientFileURL maps an API file URL onto the client's proxy route.
func clientFileURL(apiURL string) string {
	if strings.HasPrefix(apiURL, "/api/files/") {
		return strings.TrimPrefix(apiURL, "/api")
	}
	return ""
}

// buildOnboarding fills the onboarding page. values overrides the saved
// draft when a rejected post is re-rendered.
func buildOnboarding(data *pageData, state *onboardingState, values map[string]string) error {
	data.NeedsDepartment = state.NeedsDepartment
	data.Editable = state.Editable
	data.Completion = state.Completion
	data.Tone = onboarding.CompletionTone(state.Completion)
	if state.Department != nil {
		data.DepartmentName = state.Department.Name
	}
	if state.Submission != nil {
		data.Status = state.Submission.Status
		data.RejectionReason = state.Submission.RejectionReason
	}
	if state.Form == nil {
		data.NoForm = !state.NeedsDepartment
		return nil
	}
	data.FormName = state.Form.Name
	data.FormDescription = state.Form.Description

	if values == nil {
		values = map[string]string{}
		if state.Submission != nil {
			for k, v := range state.Submission.DraftData {
				values[k] = v
			}
		}
	}
	for _, field := range state.Form.Fields {
		if field.Type == formdef.FieldFile {
			uploaded, _ := state.Submission.file(field.ID)
			control, err := formdef.RenderField(field, uploaded.FileName, data.FieldErrors[field.ID])
			if err != nil {
				return err
			}
			data.Uploads = append(data.Uploads, uploadControl{
				FieldID:  field.ID,
				Control:  control,
				FileName: uploaded.FileName,
				URL:      clientFileURL(uploaded.URL),
			})
			continue
		}
		html, err := formdef.RenderField(field, values[field.ID], data.FieldErrors[field.ID])
		if err != nil {
			return err
		}
		data.Fields = append(data.Fields, html)
	}
	for _, doc := range state.Documents {
		fieldID := formdef.DocumentFieldID(doc.ID)
		uploaded, _ := state.Submission.file(fieldID)
		control, err := formdef.RenderDocument(doc, uploaded.FileName, data.FieldErrors[fieldID])
		if err != nil {
			return err
		}
		data.Uploads = append(data.Uploads, uploadControl{
			FieldID:  fieldID,
			Control:  control,
			FileName: uploaded.FileName,
			URL:      clientFileURL(uploaded.URL),
		})
	}
	return nil
}

// profileDetails lists the department answers in form order, then any
// keys the current form no longer defines. Document uploads are listed
// separately by profileDocuments.
func profileDetails(fields []formdef.Field, data map[string]any) []detailRow {
	seen := map[string]bool{"documentTemplates": true}
	for key := range data {
		if formdef.IsDocumentFieldID(key) {
			seen[key] = true
		}
	}
	var rows []detailRow
	add := func(key, label string) {
		raw, ok := data[key]
		seen[key] = true
		if !ok {
			return
		}
		value, isString := raw.(string)
		if !isString || strings.TrimSpace(value) == "" {
			return
		}
		if link := clientFileURL(value); link != "" {
			rows = append(rows, detailRow{Label: label, Value: "View file", URL: link})
			return
		}
		rows = append(rows, detailRow{Label: label, Value: value})
	}
	for _, f := range fields {
		add(f.ID, f.Label)
	}
	var rest []string
	for key := range data {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		add(key, onboarding.FormatFieldName(key))
	}
	return rows
}

func profileDocuments(docs []documentView) []detailRow {
	rows := make([]detailRow, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, detailRow{
			Label: onboarding.FormatFieldName(d.DocumentType),
			Value: d.FileName,
			URL:   clientFileURL(d.FileURL),
		})
	}
	return rows
}

// submissionAnswers lists a submission's answers for the review page.
func submissionAnswers(row *submissionRowView, docs []formdef.DocumentTemplate) (answers, files []detailRow) {
	for _, f := range row.FormFields {
		if f.Type == formdef.FieldFile {
			uploaded, ok := row.submissionView.file(f.ID)
			if ok {
				files = append(files, detailRow{Label: f.Label, Value: uploaded.FileName, URL: clientFileURL(uploaded.URL)})
			} else {
				files = append(files, detailRow{Label: f.Label, Value: "Not uploaded"})
			}
			continue
		}
		value := strings.TrimSpace(row.DraftData[f.ID])
		if value == "" {
			value = "-"
		}
		answers = append(answers, detailRow{Label: f.Label, Value: value})
	}
	for _, doc := range docs {
		uploaded, ok := row.submissionView.file(formdef.DocumentFieldID(doc.ID))
		if ok {
			files = append(files, detailRow{Label: doc.Title, Value: uploaded.FileName, URL: clientFileURL(uploaded.URL)})
		} else {
			files = append(files, detailRow{Label: doc.Title, Value: "Not uploaded"})
		}
	}
	return answers, files
}

func adminRows(rows []submissionRowView) []adminRow {
	out := make([]adminRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, adminRow{
			ID:             row.ID,
			FullName:       row.FullName,
			Email:          row.Email,
			DepartmentName: row.DepartmentName,
			FormName:       row.FormName,
			Status:         row.Status,
			Completion:     row.CompletionPercentage,
			Tone:           onboarding.CompletionTone(row.CompletionPercentage),
			LastSavedAt:    row.LastSavedAt,
			SubmittedAt:    row.SubmittedAt,
		})
	}
	return out
}
