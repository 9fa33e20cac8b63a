package apiapp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/phillip-england/onboarding/internal/catalog"
	"github.com/phillip-england/onboarding/internal/export"
	"github.com/phillip-england/onboarding/internal/formdef"
	"github.com/phillip-england/onboarding/internal/onboarding"
	"github.com/phillip-england/onboarding/internal/store"
)

const maxCatalogBytes = 4 << 20

type createDepartmentRequest struct {
	Name string `json:"name"`
}

type formRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Fields      []formdef.Field `json:"fields"`
}

type documentTemplateRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	FileTypes   []string `json:"fileTypes"`
	MaxFileSize int      `json:"maxFileSize"`
	Required    bool     `json:"required"`
}

type assignDepartmentRequest struct {
	DepartmentID string `json:"departmentId"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *server) listDepartments(w http.ResponseWriter, r *http.Request) {
	depts, err := s.store.ListDepartments(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "list departments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": depts})
}

func (s *server) createDepartment(w http.ResponseWriter, r *http.Request) {
	var req createDepartmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "department name is required")
		return
	}
	dept, err := s.store.CreateDepartment(r.Context(), req.Name)
	if err != nil {
		s.writeStoreError(w, err, "create department")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"department": dept})
}

func (s *server) deleteDepartment(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDepartment(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeStoreError(w, err, "delete department")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "department deleted"})
}

// importDepartments applies an uploaded .xlsx/.xls department sheet.
func (s *server) importDepartments(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(r, maxCatalogBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if up.Size > maxCatalogBytes {
		writeError(w, http.StatusBadRequest, "spreadsheet is too large")
		return
	}
	c, err := catalog.ParseSpreadsheet(bytes.NewReader(up.Data), up.FileName)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unable to read spreadsheet: %v", err))
		return
	}
	s.applyAndRespond(w, r, c)
}

// applyCatalog applies a YAML catalog sent as the request body.
func (s *server) applyCatalog(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCatalogBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c, err := catalog.ParseYAML(bytes.NewReader(raw))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.applyAndRespond(w, r, c)
}

func (s *server) applyAndRespond(w http.ResponseWriter, r *http.Request, c *catalog.Catalog) {
	sum, err := catalog.Apply(r.Context(), s.store, c)
	if err != nil {
		s.logger.Warn("catalog apply failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("catalog applied",
		zap.Int("departments_created", sum.DepartmentsCreated),
		zap.Int("forms_saved", sum.FormsSaved),
		zap.Int("documents_created", sum.DocumentsCreated),
	)
	writeJSON(w, http.StatusOK, map[string]any{"summary": sum})
}

func (s *server) getDepartmentForm(w http.ResponseWriter, r *http.Request) {
	form, err := s.store.GetDepartmentForm(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err, "load form")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"form": form})
}

func (s *server) putDepartmentForm(w http.ResponseWriter, r *http.Request) {
	deptID := mux.Vars(r)["id"]
	if _, err := s.store.GetDepartment(r.Context(), deptID); err != nil {
		s.writeStoreError(w, err, "save form")
		return
	}
	var req formRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "form name is required")
		return
	}
	if err := formdef.CheckFields(req.Fields); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	form, err := s.store.UpsertDepartmentForm(r.Context(), formdef.Form{
		DepartmentID: deptID,
		Name:         req.Name,
		Description:  req.Description,
		Fields:       req.Fields,
	})
	if err != nil {
		s.writeStoreError(w, err, "save form")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"form": form})
}

func (s *server) listDocumentTemplates(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocumentTemplates(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err, "list documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *server) createDocumentTemplate(w http.ResponseWriter, r *http.Request) {
	deptID := mux.Vars(r)["id"]
	if _, err := s.store.GetDepartment(r.Context(), deptID); err != nil {
		s.writeStoreError(w, err, "create document")
		return
	}
	var req documentTemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "document title is required")
		return
	}
	if req.MaxFileSize < 0 {
		writeError(w, http.StatusBadRequest, "max file size must not be negative")
		return
	}
	doc, err := s.store.CreateDocumentTemplate(r.Context(), formdef.DocumentTemplate{
		DepartmentID: deptID,
		Title:        req.Title,
		Description:  req.Description,
		FileTypes:    req.FileTypes,
		MaxFileSize:  req.MaxFileSize,
		Required:     req.Required,
	})
	if err != nil {
		s.writeStoreError(w, err, "create document")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"document": doc})
}

func (s *server) deleteDocumentTemplate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.store.DeleteDocumentTemplate(r.Context(), vars["id"], vars["docId"]); err != nil {
		s.writeStoreError(w, err, "delete document")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "document deleted"})
}

func (s *server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *server) assignDepartment(w http.ResponseWriter, r *http.Request) {
	var req assignDepartmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)
	if req.DepartmentID != "" {
		if _, err := s.store.GetDepartment(r.Context(), req.DepartmentID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusBadRequest, "department not found")
				return
			}
			s.writeStoreError(w, err, "assign department")
			return
		}
	}
	userID := mux.Vars(r)["id"]
	if err := s.store.UpdateUserDepartment(r.Context(), userID, req.DepartmentID); err != nil {
		s.writeStoreError(w, err, "assign department")
		return
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		s.writeStoreError(w, err, "assign department")
		return
	}
	s.logger.Info("department assigned", zap.String("user_id", userID), zap.String("department_id", req.DepartmentID))
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func filterFromQuery(r *http.Request) onboarding.Filter {
	q := r.URL.Query()
	return onboarding.Filter{
		Status:       strings.TrimSpace(q.Get("status")),
		DepartmentID: strings.TrimSpace(q.Get("department")),
		Search:       strings.TrimSpace(q.Get("search")),
	}
}

func (s *server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListSubmissions(r.Context(), filterFromQuery(r))
	if err != nil {
		s.writeStoreError(w, err, "list submissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": rows})
}

func (s *server) exportSubmissions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListSubmissions(r.Context(), filterFromQuery(r))
	if err != nil {
		s.writeStoreError(w, err, "export submissions")
		return
	}
	var buf bytes.Buffer
	if err := export.WriteSubmissions(&buf, rows); err != nil {
		s.writeStoreError(w, err, "export submissions")
		return
	}
	filename := fmt.Sprintf("submissions-%s.xlsx", s.now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *server) getSubmission(w http.ResponseWriter, r *http.Request) {
	row, err := s.store.GetSubmission(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err, "load submission")
		return
	}
	docs, err := s.store.ListDocumentTemplates(r.Context(), row.DepartmentID)
	if err != nil {
		s.writeStoreError(w, err, "load submission")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"submission": row,
		"documents":  docs,
		"tone":       onboarding.CompletionTone(row.CompletionPercentage),
	})
}

func (s *server) approveSubmission(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, onboarding.DecisionApprove, "")
}

func (s *server) rejectSubmission(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.review(w, r, onboarding.DecisionReject, req.Reason)
}

func (s *server) review(w http.ResponseWriter, r *http.Request, decision onboarding.Decision, reason string) {
	admin := userFromContext(r.Context())
	row, err := s.store.ReviewSubmission(r.Context(), mux.Vars(r)["id"], admin.ID, decision, reason)
	if err != nil {
		s.writeStoreError(w, err, "review submission")
		return
	}
	s.metrics.Reviewed(string(decision))
	s.logger.Info("submission reviewed",
		zap.String("user_id", row.UserID),
		zap.String("submission_id", row.ID),
		zap.String("status", string(row.Status)),
		zap.String("reviewer_id", admin.ID),
	)
	writeJSON(w, http.StatusOK, map[string]any{"submission": row})
}
