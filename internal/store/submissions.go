package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/phillip-england/onboarding/internal/formdef"
	"github.com/phillip-england/onboarding/internal/onboarding"
)

type UploadedFile struct {
	FieldID  string `json:"fieldId"`
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
	URL      string `json:"url"`
}

type Submission struct {
	ID                   string                      `json:"id"`
	FormID               string                      `json:"formId"`
	UserID               string                      `json:"userId"`
	Status               onboarding.SubmissionStatus `json:"status"`
	DraftData            map[string]string           `json:"draftData"`
	SubmissionData       map[string]any              `json:"submissionData"`
	UploadedFiles        []UploadedFile              `json:"uploadedFiles"`
	CompletionPercentage int                         `json:"completionPercentage"`
	RejectionReason      string                      `json:"rejectionReason,omitempty"`
	LastSavedAt          time.Time                   `json:"lastSavedAt"`
	SubmittedAt          *time.Time                  `json:"submittedAt,omitempty"`
	ReviewedAt           *time.Time                  `json:"reviewedAt,omitempty"`
	ReviewedBy           string                      `json:"reviewedBy,omitempty"`
}

func (s *Submission) IsDraft() bool {
	return s.Status == onboarding.StatusDraft
}

// Uploaded reports which field IDs (including doc_<template> IDs) carry a file.
func (s *Submission) Uploaded() map[string]bool {
	out := make(map[string]bool, len(s.UploadedFiles))
	for _, f := range s.UploadedFiles {
		out[f.FieldID] = true
	}
	return out
}

func (s *Submission) File(fieldID string) (UploadedFile, bool) {
	for _, f := range s.UploadedFiles {
		if f.FieldID == fieldID {
			return f, true
		}
	}
	return UploadedFile{}, false
}

// WithFile returns the file list with fieldID replaced by f.
func WithFile(files []UploadedFile, f UploadedFile) []UploadedFile {
	out := WithoutFile(files, f.FieldID)
	return append(out, f)
}

func WithoutFile(files []UploadedFile, fieldID string) []UploadedFile {
	out := make([]UploadedFile, 0, len(files))
	for _, existing := range files {
		if existing.FieldID != fieldID {
			out = append(out, existing)
		}
	}
	return out
}

// SubmissionRow is a submission joined with its employee, department and form.
type SubmissionRow struct {
	Submission
	FullName       string          `json:"fullName"`
	Email          string          `json:"email"`
	PhoneNumber    string          `json:"phoneNumber"`
	DepartmentID   string          `json:"departmentId"`
	DepartmentName string          `json:"departmentName"`
	FormName       string          `json:"formName"`
	FormFields     []formdef.Field `json:"formFields"`
}

func (r SubmissionRow) FilterRow() onboarding.Row {
	return onboarding.Row{
		Status:       r.Status,
		DepartmentID: r.DepartmentID,
		FullName:     r.FullName,
		Email:        r.Email,
	}
}

type Draft struct {
	UserID     string
	FormID     string
	Values     map[string]string
	Files      []UploadedFile
	Completion int
}

type Submit struct {
	UserID         string
	FormID         string
	Values         map[string]string
	Files          []UploadedFile
	DepartmentData map[string]any
	Documents      []Document
}

type Document struct {
	ID           string                  `json:"id"`
	UserID       string                  `json:"userId"`
	SubmissionID string                  `json:"submissionId"`
	DocumentType onboarding.DocumentType `json:"documentType"`
	FileName     string                  `json:"fileName"`
	FileURL      string                  `json:"fileUrl"`
	FileType     string                  `json:"fileType"`
	CreatedAt    time.Time               `json:"createdAt"`
}

const submissionColumns = `
	s.id, s.form_id, s.user_id, s.status, s.draft_data, s.submission_data, s.uploaded_files,
	s.completion_percentage, s.rejection_reason, s.last_saved_at, s.submitted_at, s.reviewed_at, s.reviewed_by`

func scanSubmission(row rowScanner, extra ...any) (*Submission, error) {
	var (
		sub         Submission
		status      string
		draftData   string
		submitData  string
		files       string
		lastSavedAt int64
		submittedAt sql.NullInt64
		reviewedAt  sql.NullInt64
	)
	dest := []any{
		&sub.ID, &sub.FormID, &sub.UserID, &status, &draftData, &submitData, &files,
		&sub.CompletionPercentage, &sub.RejectionReason, &lastSavedAt, &submittedAt, &reviewedAt, &sub.ReviewedBy,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	sub.Status = onboarding.SubmissionStatus(status)
	sub.LastSavedAt = fromUnix(lastSavedAt)
	sub.SubmittedAt = fromNullUnix(submittedAt)
	sub.ReviewedAt = fromNullUnix(reviewedAt)
	if err := unmarshalJSON(draftData, &sub.DraftData); err != nil {
		return nil, fmt.Errorf("decode draft data: %w", err)
	}
	if err := unmarshalJSON(submitData, &sub.SubmissionData); err != nil {
		return nil, fmt.Errorf("decode submission data: %w", err)
	}
	if err := unmarshalJSON(files, &sub.UploadedFiles); err != nil {
		return nil, fmt.Errorf("decode uploaded files: %w", err)
	}
	if sub.DraftData == nil {
		sub.DraftData = map[string]string{}
	}
	if sub.UploadedFiles == nil {
		sub.UploadedFiles = []UploadedFile{}
	}
	return &sub, nil
}

// GetSubmissionForUser returns the user's submission for a form.
func (s *Store) GetSubmissionForUser(ctx context.Context, userID, formID string) (*Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+submissionColumns+`
		FROM department_signup_form_submissions s
		WHERE s.user_id = ? AND s.form_id = ?
		LIMIT 1;
	`, userID, formID)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

const submissionRowQuery = `
	SELECT ` + submissionColumns + `,
		p.full_name, p.email, p.phone_number, COALESCE(p.department_id, ''), COALESCE(d.name, ''),
		f.form_name, f.form_fields
	FROM department_signup_form_submissions s
	JOIN profiles p ON p.id = s.user_id
	JOIN department_signup_forms f ON f.id = s.form_id
	LEFT JOIN departments d ON d.id = p.department_id`

func scanSubmissionRow(row rowScanner) (*SubmissionRow, error) {
	var (
		r         SubmissionRow
		rawFields string
	)
	sub, err := scanSubmission(row, &r.FullName, &r.Email, &r.PhoneNumber, &r.DepartmentID, &r.DepartmentName, &r.FormName, &rawFields)
	if err != nil {
		return nil, err
	}
	r.Submission = *sub
	fields, err := formdef.ParseFields([]byte(rawFields))
	if err != nil {
		return nil, err
	}
	r.FormFields = fields
	return &r, nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (*SubmissionRow, error) {
	row := s.db.QueryRowContext(ctx, submissionRowQuery+` WHERE s.id = ? LIMIT 1;`, id)
	r, err := scanSubmissionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// ListSubmissions returns submissions matching filter, most recent activity
// first.
func (s *Store) ListSubmissions(ctx context.Context, filter onboarding.Filter) ([]SubmissionRow, error) {
	rows, err := s.db.QueryContext(ctx, submissionRowQuery+`
		ORDER BY COALESCE(s.submitted_at, s.last_saved_at) DESC, s.id;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SubmissionRow{}
	for rows.Next() {
		r, err := scanSubmissionRow(rows)
		if err != nil {
			return nil, err
		}
		if filter.Match(r.FilterRow()) {
			out = append(out, *r)
		}
	}
	return out, rows.Err()
}

func currentStatus(ctx context.Context, tx *sql.Tx, userID, formID string) (onboarding.SubmissionStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, `
		SELECT status FROM department_signup_form_submissions WHERE user_id = ? AND form_id = ? LIMIT 1;
	`, userID, formID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return onboarding.StatusNone, nil
	}
	if err != nil {
		return "", err
	}
	return onboarding.SubmissionStatus(status), nil
}

// SaveDraft upserts the user's draft. A rejected submission becomes a draft
// again but keeps its rejection reason until it is resubmitted.
func (s *Store) SaveDraft(ctx context.Context, d Draft) (*Submission, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := currentStatus(ctx, tx, d.UserID, d.FormID)
		if err != nil {
			return err
		}
		if err := onboarding.CanSaveDraft(current); err != nil {
			return err
		}
		return upsertDraft(ctx, tx, d)
	})
	if err != nil {
		return nil, err
	}
	return s.GetSubmissionForUser(ctx, d.UserID, d.FormID)
}

// FileChange attaches File to, or with File nil removes FieldID from, the
// user's draft. Completion recomputes the percentage from the merged state.
type FileChange struct {
	UserID     string
	FormID     string
	FieldID    string
	File       *UploadedFile
	Completion func(values map[string]string, files []UploadedFile) int
}

// ChangeFile merges one upload into the draft in a single transaction. It
// returns the updated submission and the file previously held by the field.
func (s *Store) ChangeFile(ctx context.Context, c FileChange) (*Submission, *UploadedFile, error) {
	var previous *UploadedFile
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		previous = nil
		var (
			status    string
			draftData string
			rawFiles  string
		)
		err := tx.QueryRowContext(ctx, `
			SELECT status, draft_data, uploaded_files
			FROM department_signup_form_submissions WHERE user_id = ? AND form_id = ? LIMIT 1;
		`, c.UserID, c.FormID).Scan(&status, &draftData, &rawFiles)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			status, draftData, rawFiles = string(onboarding.StatusNone), "{}", "[]"
		case err != nil:
			return err
		}
		if err := onboarding.CanSaveDraft(onboarding.SubmissionStatus(status)); err != nil {
			return err
		}
		values := map[string]string{}
		if err := unmarshalJSON(draftData, &values); err != nil {
			return fmt.Errorf("decode draft data: %w", err)
		}
		var files []UploadedFile
		if err := unmarshalJSON(rawFiles, &files); err != nil {
			return fmt.Errorf("decode uploaded files: %w", err)
		}
		for _, f := range files {
			if f.FieldID == c.FieldID {
				held := f
				previous = &held
			}
		}
		if c.File != nil {
			attached := *c.File
			attached.FieldID = c.FieldID
			files = WithFile(files, attached)
		} else {
			if previous == nil {
				return ErrNotFound
			}
			files = WithoutFile(files, c.FieldID)
		}
		completion := 0
		if c.Completion != nil {
			completion = c.Completion(values, files)
		}
		return upsertDraft(ctx, tx, Draft{
			UserID:     c.UserID,
			FormID:     c.FormID,
			Values:     values,
			Files:      files,
			Completion: completion,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	sub, err := s.GetSubmissionForUser(ctx, c.UserID, c.FormID)
	if err != nil {
		return nil, nil, err
	}
	return sub, previous, nil
}

// upsertDraft writes d as a draft. Drafts carry no submission snapshot.
func upsertDraft(ctx context.Context, tx *sql.Tx, d Draft) error {
	values, err := marshalJSON(nonNilValues(d.Values))
	if err != nil {
		return err
	}
	files, err := marshalJSON(nonNilFiles(d.Files))
	if err != nil {
		return err
	}
	now := nowUnix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO department_signup_form_submissions
			(id, form_id, user_id, status, draft_data, submission_data, uploaded_files, completion_percentage, last_saved_at, created_at)
		VALUES (?, ?, ?, ?, ?, '{}', ?, ?, ?, ?)
		ON CONFLICT(user_id, form_id) DO UPDATE SET
			status = excluded.status,
			draft_data = excluded.draft_data,
			submission_data = '{}',
			uploaded_files = excluded.uploaded_files,
			completion_percentage = excluded.completion_percentage,
			last_saved_at = excluded.last_saved_at;
	`, newID(), d.FormID, d.UserID, string(onboarding.StatusDraft), values, files, d.Completion, now, now)
	return err
}

// SubmitSubmission marks the submission pending and, in the same
// transaction, copies the answers onto the profile and records one
// onboarding document per uploaded document template.
func (s *Store) SubmitSubmission(ctx context.Context, sub Submit) (*Submission, error) {
	values, err := marshalJSON(nonNilValues(sub.Values))
	if err != nil {
		return nil, err
	}
	files, err := marshalJSON(nonNilFiles(sub.Files))
	if err != nil {
		return nil, err
	}
	deptData := sub.DepartmentData
	if deptData == nil {
		deptData = map[string]any{}
	}
	rawDeptData, err := marshalJSON(deptData)
	if err != nil {
		return nil, err
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := currentStatus(ctx, tx, sub.UserID, sub.FormID)
		if err != nil {
			return err
		}
		if err := onboarding.CanSubmit(current); err != nil {
			return err
		}
		now := nowUnix()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO department_signup_form_submissions
				(id, form_id, user_id, status, draft_data, submission_data, uploaded_files, completion_percentage,
				 rejection_reason, last_saved_at, submitted_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 100, '', ?, ?, ?)
			ON CONFLICT(user_id, form_id) DO UPDATE SET
				status = excluded.status,
				draft_data = excluded.draft_data,
				submission_data = excluded.submission_data,
				uploaded_files = excluded.uploaded_files,
				completion_percentage = 100,
				rejection_reason = '',
				last_saved_at = excluded.last_saved_at,
				submitted_at = excluded.submitted_at,
				reviewed_at = NULL,
				reviewed_by = '';
		`, newID(), sub.FormID, sub.UserID, string(onboarding.StatusPending), values, rawDeptData, files, now, now, now); err != nil {
			return err
		}
		var submissionID string
		if err := tx.QueryRowContext(ctx, `
			SELECT id FROM department_signup_form_submissions WHERE user_id = ? AND form_id = ?;
		`, sub.UserID, sub.FormID).Scan(&submissionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE profiles
			SET onboarding_status = ?, rejection_reason = '', department_specific_data = ?, updated_at = ?
			WHERE id = ?;
		`, string(onboarding.ProfilePending), rawDeptData, now, sub.UserID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM onboarding_documents WHERE submission_id = ?;`, submissionID); err != nil {
			return err
		}
		for _, doc := range sub.Documents {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO onboarding_documents (id, user_id, submission_id, document_type, file_name, file_url, file_type, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?);
			`, newID(), sub.UserID, submissionID, string(doc.DocumentType), doc.FileName, doc.FileURL, doc.FileType, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetSubmissionForUser(ctx, sub.UserID, sub.FormID)
}

// ReviewSubmission applies an admin decision to a pending submission and
// mirrors it onto the employee profile.
func (s *Store) ReviewSubmission(ctx context.Context, id, reviewerID string, decision onboarding.Decision, reason string) (*SubmissionRow, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var (
			status string
			userID string
		)
		err := tx.QueryRowContext(ctx, `SELECT status, user_id FROM department_signup_form_submissions WHERE id = ?;`, id).Scan(&status, &userID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		next, profileStatus, storedReason, err := onboarding.Review(onboarding.SubmissionStatus(status), decision, reason)
		if err != nil {
			return err
		}
		now := nowUnix()
		if _, err := tx.ExecContext(ctx, `
			UPDATE department_signup_form_submissions
			SET status = ?, rejection_reason = ?, reviewed_at = ?, reviewed_by = ?
			WHERE id = ?;
		`, string(next), storedReason, now, reviewerID, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE profiles SET onboarding_status = ?, rejection_reason = ?, updated_at = ? WHERE id = ?;
		`, string(profileStatus), storedReason, now, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetSubmission(ctx, id)
}

func (s *Store) ListOnboardingDocuments(ctx context.Context, userID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, submission_id, document_type, file_name, file_url, file_type, created_at
		FROM onboarding_documents
		WHERE user_id = ?
		ORDER BY created_at, file_name;
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Document{}
	for rows.Next() {
		var (
			d         Document
			docType   string
			createdAt int64
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.SubmissionID, &docType, &d.FileName, &d.FileURL, &d.FileType, &createdAt); err != nil {
			return nil, err
		}
		d.DocumentType = onboarding.DocumentType(docType)
		d.CreatedAt = fromUnix(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

func nonNilValues(v map[string]string) map[string]string {
	if v == nil {
		return map[string]string{}
	}
	return v
}

func nonNilFiles(v []UploadedFile) []UploadedFile {
	if v == nil {
		return []UploadedFile{}
	}
	return v
}
