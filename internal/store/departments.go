package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phillip-england/onboarding/internal/formdef"
)

type Department struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Store) CreateDepartment(ctx context.Context, name string) (*Department, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("department name is required")
	}
	d := Department{ID: newID(), Name: name, CreatedAt: fromUnix(nowUnix())}
	_, err := s.db.ExecContext(ctx, `INSERT INTO departments (id, name, created_at) VALUES (?, ?, ?);`,
		d.ID, d.Name, d.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: department %q already exists", ErrConflict, name)
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM departments ORDER BY name COLLATE NOCASE;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Department{}
	for rows.Next() {
		var (
			d         Department
			createdAt int64
		)
		if err := rows.Scan(&d.ID, &d.Name, &createdAt); err != nil {
			return nil, err
		}
		d.CreatedAt = fromUnix(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetDepartment(ctx context.Context, id string) (*Department, error) {
	return s.getDepartment(ctx, `SELECT id, name, created_at FROM departments WHERE id = ?;`, id)
}

func (s *Store) GetDepartmentByName(ctx context.Context, name string) (*Department, error) {
	return s.getDepartment(ctx, `SELECT id, name, created_at FROM departments WHERE name = ?;`, strings.TrimSpace(name))
}

func (s *Store) getDepartment(ctx context.Context, query, arg string) (*Department, error) {
	var (
		d         Department
		createdAt int64
	)
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&d.ID, &d.Name, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d.CreatedAt = fromUnix(createdAt)
	return &d, nil
}

func (s *Store) DeleteDepartment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM departments WHERE id = ?;`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// UpsertDepartmentForm stores the single signup form of a department,
// keeping its ID stable across edits.
func (s *Store) UpsertDepartmentForm(ctx context.Context, form formdef.Form) (*formdef.Form, error) {
	if err := formdef.CheckFields(form.Fields); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(form.Name)
	if name == "" {
		return nil, errors.New("form name is required")
	}
	fields := form.Fields
	if fields == nil {
		fields = []formdef.Field{}
	}
	rawFields, err := marshalJSON(fields)
	if err != nil {
		return nil, err
	}
	now := nowUnix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO department_signup_forms (id, department_id, form_name, form_description, form_fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(department_id) DO UPDATE SET
			form_name = excluded.form_name,
			form_description = excluded.form_description,
			form_fields = excluded.form_fields,
			updated_at = excluded.updated_at;
	`, newID(), form.DepartmentID, name, strings.TrimSpace(form.Description), rawFields, now, now)
	if err != nil {
		return nil, err
	}
	return s.GetDepartmentForm(ctx, form.DepartmentID)
}

func (s *Store) GetDepartmentForm(ctx context.Context, departmentID string) (*formdef.Form, error) {
	return s.getForm(ctx, `WHERE department_id = ?`, departmentID)
}

func (s *Store) GetForm(ctx context.Context, formID string) (*formdef.Form, error) {
	return s.getForm(ctx, `WHERE id = ?`, formID)
}

func (s *Store) getForm(ctx context.Context, where, arg string) (*formdef.Form, error) {
	var (
		f         formdef.Form
		rawFields string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, department_id, form_name, form_description, form_fields
		FROM department_signup_forms `+where+` LIMIT 1;
	`, arg).Scan(&f.ID, &f.DepartmentID, &f.Name, &f.Description, &rawFields)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	fields, err := formdef.ParseFields([]byte(rawFields))
	if err != nil {
		return nil, err
	}
	f.Fields = fields
	return &f, nil
}

func (s *Store) CreateDocumentTemplate(ctx context.Context, doc formdef.DocumentTemplate) (*formdef.DocumentTemplate, error) {
	doc.Title = strings.TrimSpace(doc.Title)
	if doc.Title == "" {
		return nil, errors.New("document title is required")
	}
	if doc.MaxFileSize < 0 {
		return nil, errors.New("max file size must not be negative")
	}
	if doc.FileTypes == nil {
		doc.FileTypes = []string{}
	}
	rawTypes, err := marshalJSON(doc.FileTypes)
	if err != nil {
		return nil, err
	}
	doc.ID = newID()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO department_document_templates (id, department_id, title, description, file_types, max_file_size, is_required, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`, doc.ID, doc.DepartmentID, doc.Title, strings.TrimSpace(doc.Description), rawTypes, doc.MaxFileSize, doc.Required, nowUnix())
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocumentTemplates returns a department's templates ordered by title.
func (s *Store) ListDocumentTemplates(ctx context.Context, departmentID string) ([]formdef.DocumentTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, department_id, title, description, file_types, max_file_size, is_required
		FROM department_document_templates
		WHERE department_id = ?
		ORDER BY title COLLATE NOCASE;
	`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []formdef.DocumentTemplate{}
	for rows.Next() {
		var (
			d        formdef.DocumentTemplate
			rawTypes string
		)
		if err := rows.Scan(&d.ID, &d.DepartmentID, &d.Title, &d.Description, &rawTypes, &d.MaxFileSize, &d.Required); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(rawTypes, &d.FileTypes); err != nil {
			return nil, fmt.Errorf("decode file types: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDocumentTemplate(ctx context.Context, departmentID, templateID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM department_document_templates WHERE id = ? AND department_id = ?;`, templateID, departmentID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
