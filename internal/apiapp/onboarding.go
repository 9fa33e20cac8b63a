package apiapp

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/phillip-england/onboarding/internal/formdef"
	"github.com/phillip-england/onboarding/internal/imaging"
	"github.com/phillip-england/onboarding/internal/onboarding"
	"github.com/phillip-england/onboarding/internal/store"
)

const maxAnswerLength = 10000

var errNoForm = errors.New("no onboarding form is configured for your department")

type valuesRequest struct {
	Values map[string]string `json:"values"`
}

// employeeState is everything the onboarding page needs about one user.
type employeeState struct {
	user *store.User
	dept *store.Department
	form *formdef.Form
	docs []formdef.DocumentTemplate
	sub  *store.Submission
}

type onboardingView struct {
	Profile         *store.User                `json:"profile"`
	Department      *store.Department          `json:"department"`
	NeedsDepartment bool                       `json:"needsDepartment"`
	Form            *formdef.Form              `json:"form"`
	Documents       []formdef.DocumentTemplate `json:"documents"`
	Submission      *store.Submission          `json:"submission"`
	Completion      int                        `json:"completion"`
	Editable        bool                       `json:"editable"`
	Landing         string                     `json:"landing"`
}

func (s *server) loadEmployee(ctx context.Context, user *store.User) (*employeeState, error) {
	st := &employeeState{user: user, docs: []formdef.DocumentTemplate{}}
	if user.DepartmentID == "" {
		return st, nil
	}
	dept, err := s.store.GetDepartment(ctx, user.DepartmentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return st, nil
		}
		return nil, err
	}
	st.dept = dept
	form, err := s.store.GetDepartmentForm(ctx, dept.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return st, nil
		}
		return nil, err
	}
	st.form = form
	if st.docs, err = s.store.ListDocumentTemplates(ctx, dept.ID); err != nil {
		return nil, err
	}
	sub, err := s.store.GetSubmissionForUser(ctx, user.ID, form.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	st.sub = sub
	return st, nil
}

func (st *employeeState) status() onboarding.SubmissionStatus {
	if st.sub == nil {
		return onboarding.StatusNone
	}
	return st.sub.Status
}

func (st *employeeState) values() map[string]string {
	if st.sub == nil {
		return map[string]string{}
	}
	return st.sub.DraftData
}

func (st *employeeState) files() []store.UploadedFile {
	if st.sub == nil {
		return []store.UploadedFile{}
	}
	return st.sub.UploadedFiles
}

func (st *employeeState) completion(values map[string]string, files []store.UploadedFile) int {
	if st.form == nil {
		return 0
	}
	return formdef.Completion(st.form.Fields, st.docs, values, uploadedSet(files))
}

// answers keeps only the non-file fields the form defines.
func (st *employeeState) answers(raw map[string]string) (map[string]string, error) {
	out := map[string]string{}
	for _, field := range st.form.Fields {
		if field.Type == formdef.FieldFile {
			continue
		}
		value, ok := raw[field.ID]
		if !ok {
			continue
		}
		if len(value) > maxAnswerLength {
			return nil, fmt.Errorf("%s is too long", field.Label)
		}
		out[field.ID] = value
	}
	return out, nil
}

// uploadRule resolves a field ID (a file field or doc_<template>) to its
// size limit and allowed extensions.
func (st *employeeState) uploadRule(fieldID string) (maxMB int, fileTypes []string, kind string, ok bool) {
	if templateID, isDoc := formdef.TemplateIDFromField(fieldID); isDoc {
		doc, found := formdef.FindTemplate(st.docs, templateID)
		if !found {
			return 0, nil, "", false
		}
		return doc.MaxFileSize, doc.FileTypes, "document", true
	}
	field, found := formdef.FindField(st.form.Fields, fieldID)
	if !found || field.Type != formdef.FieldFile {
		return 0, nil, "", false
	}
	return field.MaxFileSize, field.FileTypes, "field", true
}

func uploadedSet(files []store.UploadedFile) map[string]bool {
	out := make(map[string]bool, len(files))
	for _, f := range files {
		out[f.FieldID] = true
	}
	return out
}

func (s *server) employeeOr500(w http.ResponseWriter, r *http.Request) (*employeeState, bool) {
	st, err := s.loadEmployee(r.Context(), userFromContext(r.Context()))
	if err != nil {
		s.writeStoreError(w, err, "load onboarding")
		return nil, false
	}
	return st, true
}

func (s *server) getOnboarding(w http.ResponseWriter, r *http.Request) {
	st, ok := s.employeeOr500(w, r)
	if !ok {
		return
	}
	completion := 0
	if st.sub != nil {
		completion = st.completion(st.values(), st.files())
		if st.sub.Status != onboarding.StatusDraft && st.sub.Status != onboarding.StatusRejected {
			completion = st.sub.CompletionPercentage
		}
	}
	writeJSON(w, http.StatusOK, onboardingView{
		Profile:         st.user,
		Department:      st.dept,
		NeedsDepartment: st.dept == nil,
		Form:            st.form,
		Documents:       st.docs,
		Submission:      st.sub,
		Completion:      completion,
		Editable:        onboarding.Editable(st.status()),
		Landing:         landingFor(st.user),
	})
}

func (s *server) saveDraft(w http.ResponseWriter, r *http.Request) {
	st, ok := s.employeeOr500(w, r)
	if !ok {
		return
	}
	if st.form == nil {
		writeError(w, http.StatusNotFound, errNoForm.Error())
		return
	}
	var req valuesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	values, err := st.answers(req.Values)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	files := st.files()
	sub, err := s.store.SaveDraft(r.Context(), store.Draft{
		UserID:     st.user.ID,
		FormID:     st.form.ID,
		Values:     values,
		Files:      files,
		Completion: st.completion(values, files),
	})
	if err != nil {
		s.writeStoreError(w, err, "save draft")
		return
	}
	s.metrics.SubmissionSaved(string(onboarding.StatusDraft))
	s.logger.Info("draft saved",
		zap.String("user_id", st.user.ID),
		zap.String("submission_id", sub.ID),
		zap.Int("completion", sub.CompletionPercentage),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"submission": sub,
		"completion": sub.CompletionPercentage,
		"message":    "Draft saved",
	})
}

func (s *server) submit(w http.ResponseWriter, r *http.Request) {
	st, ok := s.employeeOr500(w, r)
	if !ok {
		return
	}
	if st.form == nil {
		writeError(w, http.StatusNotFound, errNoForm.Error())
		return
	}
	if err := onboarding.CanSubmit(st.status()); err != nil {
		s.writeStoreError(w, err, "submit")
		return
	}
	var req valuesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	raw := req.Values
	if raw == nil {
		raw = st.values()
	}
	values, err := st.answers(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	files := st.files()
	if errs := formdef.Validate(st.form.Fields, st.docs, values, uploadedSet(files)); !errs.Empty() {
		writeFieldErrors(w, errs)
		return
	}
	if st.completion(values, files) < 100 {
		writeError(w, http.StatusBadRequest, "Please complete all fields before submitting")
		return
	}

	sub, err := s.store.SubmitSubmission(r.Context(), store.Submit{
		UserID:         st.user.ID,
		FormID:         st.form.ID,
		Values:         values,
		Files:          files,
		DepartmentData: departmentData(st.form, st.docs, values, files),
		Documents:      onboardingDocuments(st.docs, files),
	})
	if err != nil {
		s.writeStoreError(w, err, "submit")
		return
	}
	s.metrics.SubmissionSaved(string(onboarding.StatusPending))
	s.logger.Info("onboarding submitted",
		zap.String("user_id", st.user.ID),
		zap.String("submission_id", sub.ID),
		zap.String("status", string(sub.Status)),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"submission": sub,
		"completion": sub.CompletionPercentage,
		"message":    "Onboarding submitted for review",
	})
}

// departmentData is the profile snapshot written on submit: answers and
// file URLs keyed by field ID (doc_<template> for documents), plus one
// entry per document template whether or not it was uploaded.
func departmentData(form *formdef.Form, docs []formdef.DocumentTemplate, values map[string]string, files []store.UploadedFile) map[string]any {
	byField := make(map[string]store.UploadedFile, len(files))
	for _, f := range files {
		byField[f.FieldID] = f
	}
	data := map[string]any{}
	for _, field := range form.Fields {
		if field.Type == formdef.FieldFile {
			if f, ok := byField[field.ID]; ok {
				data[field.ID] = f.URL
			}
			continue
		}
		if v := strings.TrimSpace(values[field.ID]); v != "" {
			data[field.ID] = v
		}
	}
	templates := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		fieldID := formdef.DocumentFieldID(doc.ID)
		entry := map[string]any{
			"id":       doc.ID,
			"title":    doc.Title,
			"required": doc.Required,
			"uploaded": false,
			"url":      nil,
		}
		if f, ok := byField[fieldID]; ok {
			data[fieldID] = f.URL
			entry["uploaded"] = true
			entry["url"] = f.URL
		}
		templates = append(templates, entry)
	}
	data["documentTemplates"] = templates
	return data
}

func onboardingDocuments(docs []formdef.DocumentTemplate, files []store.UploadedFile) []store.Document {
	byField := make(map[string]store.UploadedFile, len(files))
	for _, f := range files {
		byField[f.FieldID] = f
	}
	out := []store.Document{}
	for _, doc := range docs {
		f, ok := byField[formdef.DocumentFieldID(doc.ID)]
		if !ok {
			continue
		}
		out = append(out, store.Document{
			DocumentType: onboarding.ClassifyDocument(doc.Title),
			FileName:     f.FileName,
			FileURL:      f.URL,
			FileType:     f.FileType,
		})
	}
	return out
}

func (s *server) uploadFile(w http.ResponseWriter, r *http.Request) {
	st, ok := s.employeeOr500(w, r)
	if !ok {
		return
	}
	if st.form == nil {
		writeError(w, http.StatusNotFound, errNoForm.Error())
		return
	}
	fieldID := mux.Vars(r)["fieldId"]
	maxMB, fileTypes, kind, ok := st.uploadRule(fieldID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown upload field")
		return
	}
	if err := onboarding.CanSaveDraft(st.status()); err != nil {
		s.writeStoreError(w, err, "upload")
		return
	}
	up, err := readUpload(r, s.maxUploadBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := formdef.CheckFile(maxMB, fileTypes, up.FileName, up.Size); err != nil {
		writeFieldErrors(w, formdef.Errors{fieldID: formdef.FileMessage(err)})
		return
	}
	if up.Size > s.maxUploadBytes {
		writeFieldErrors(w, formdef.Errors{fieldID: "File size must be less than " + strconv.FormatInt(s.maxUploadBytes>>20, 10) + "MB"})
		return
	}

	var preview []byte
	if imaging.IsImage(up.Data) {
		if preview, err = imaging.Preview(up.Data, previewSize); err != nil {
			s.logger.Warn("preview failed", zap.String("field_id", fieldID), zap.Error(err))
			preview = nil
		}
	}
	previewMIME := ""
	if preview != nil {
		previewMIME = imaging.MIMEType
	}
	stored, err := s.store.SaveFile(r.Context(), store.StoredFile{
		UserID:      st.user.ID,
		Path:        onboarding.StoragePath(st.user.ID, fieldID, up.FileName, s.now()),
		FileName:    up.FileName,
		MIME:        up.MIME,
		Data:        up.Data,
		Preview:     preview,
		PreviewMIME: previewMIME,
	})
	if err != nil {
		s.writeStoreError(w, err, "upload")
		return
	}

	uploaded := store.UploadedFile{
		FieldID:  fieldID,
		FileID:   stored.ID,
		FileName: stored.FileName,
		FileType: stored.MIME,
		FileSize: stored.Size,
		URL:      "/api/files/" + stored.ID,
	}
	sub, previous, err := s.store.ChangeFile(r.Context(), store.FileChange{
		UserID:     st.user.ID,
		FormID:     st.form.ID,
		FieldID:    fieldID,
		File:       &uploaded,
		Completion: st.completion,
	})
	if err != nil {
		_ = s.store.DeleteFile(r.Context(), stored.ID)
		s.writeStoreError(w, err, "upload")
		return
	}
	if previous != nil {
		_ = s.store.DeleteFile(r.Context(), previous.FileID)
	}
	s.metrics.Uploaded(kind)
	s.logger.Info("file uploaded",
		zap.String("user_id", st.user.ID),
		zap.String("submission_id", sub.ID),
		zap.String("field_id", fieldID),
		zap.Int64("size", stored.Size),
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"file":       uploaded,
		"submission": sub,
		"completion": sub.CompletionPercentage,
	})
}

func (s *server) removeFile(w http.ResponseWriter, r *http.Request) {
	st, ok := s.employeeOr500(w, r)
	if !ok {
		return
	}
	if st.form == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	sub, previous, err := s.store.ChangeFile(r.Context(), store.FileChange{
		UserID:     st.user.ID,
		FormID:     st.form.ID,
		FieldID:    mux.Vars(r)["fieldId"],
		Completion: st.completion,
	})
	if err != nil {
		s.writeStoreError(w, err, "remove file")
		return
	}
	_ = s.store.DeleteFile(r.Context(), previous.FileID)
	writeJSON(w, http.StatusOK, map[string]any{
		"submission": sub,
		"completion": sub.CompletionPercentage,
	})
}

func (s *server) profile(w http.ResponseWriter, r *http.Request) {
	st, ok := s.employeeOr500(w, r)
	if !ok {
		return
	}
	docs, err := s.store.ListOnboardingDocuments(r.Context(), st.user.ID)
	if err != nil {
		s.writeStoreError(w, err, "load profile")
		return
	}
	fields := []formdef.Field{}
	if st.form != nil {
		fields = st.form.Fields
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile":    st.user,
		"department": st.dept,
		"fields":     fields,
		"documents":  docs,
		"landing":    landingFor(st.user),
	})
}

func (s *server) getFile(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, false)
}

func (s *server) getFilePreview(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, true)
}

func (s *server) serveFile(w http.ResponseWriter, r *http.Request, preview bool) {
	user := userFromContext(r.Context())
	f, err := s.store.GetFile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err, "load file")
		return
	}
	if f.UserID != user.ID && !user.IsAdmin {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	data, contentType := f.Data, f.MIME
	if preview {
		if len(f.Preview) == 0 {
			writeError(w, http.StatusNotFound, "no preview available")
			return
		}
		data, contentType = f.Preview, f.PreviewMIME
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": f.FileName}))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
