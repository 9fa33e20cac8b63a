// Package catalog loads department seed data (departments, their signup
// form and document templates) from YAML or a spreadsheet and applies it
// to the store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/phillip-england/onboarding/internal/formdef"
	"github.com/phillip-england/onboarding/internal/store"
)

type Catalog struct {
	Departments []Department `yaml:"departments"`
}

type Department struct {
	Name      string     `yaml:"name"`
	Form      *Form      `yaml:"form,omitempty"`
	Documents []Document `yaml:"documents,omitempty"`
}

type Form struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Fields      []formdef.Field `yaml:"fields"`
}

type Document struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description,omitempty"`
	FileTypes   []string `yaml:"fileTypes,omitempty"`
	MaxFileSize int      `yaml:"maxFileSize,omitempty"`
	Required    bool     `yaml:"required"`
}

// Summary counts what Apply changed.
type Summary struct {
	DepartmentsCreated int `json:"departmentsCreated"`
	FormsSaved         int `json:"formsSaved"`
	DocumentsCreated   int `json:"documentsCreated"`
}

// Store is the subset of *store.Store that Apply needs.
type Store interface {
	GetDepartmentByName(ctx context.Context, name string) (*store.Department, error)
	CreateDepartment(ctx context.Context, name string) (*store.Department, error)
	UpsertDepartmentForm(ctx context.Context, form formdef.Form) (*formdef.Form, error)
	ListDocumentTemplates(ctx context.Context, departmentID string) ([]formdef.DocumentTemplate, error)
	CreateDocumentTemplate(ctx context.Context, doc formdef.DocumentTemplate) (*formdef.DocumentTemplate, error)
}

func ParseYAML(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return &Catalog{}, nil
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Check(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads a catalog from path, choosing the parser by extension.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f)
	case ".xlsx", ".xls", ".xsl":
		return ParseSpreadsheet(f, filepath.Base(path))
	default:
		return nil, fmt.Errorf("unsupported catalog file %q: use .yaml, .yml, .xlsx or .xls", filepath.Base(path))
	}
}

// Check rejects blank or repeated department names, blank document titles
// and malformed form fields.
func (c *Catalog) Check() error {
	seen := map[string]struct{}{}
	for i, dept := range c.Departments {
		name := strings.TrimSpace(dept.Name)
		if name == "" {
			return fmt.Errorf("department %d: name is required", i+1)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("department %q: listed more than once", name)
		}
		seen[key] = struct{}{}
		if dept.Form != nil {
			if strings.TrimSpace(dept.Form.Name) == "" {
				return fmt.Errorf("department %q: form name is required", name)
			}
			if err := formdef.CheckFields(dept.Form.Fields); err != nil {
				return fmt.Errorf("department %q: %w", name, err)
			}
		}
		for j, doc := range dept.Documents {
			if strings.TrimSpace(doc.Title) == "" {
				return fmt.Errorf("department %q: document %d: title is required", name, j+1)
			}
			if doc.MaxFileSize < 0 {
				return fmt.Errorf("department %q: document %q: max file size must not be negative", name, doc.Title)
			}
		}
	}
	return nil
}

// Apply creates missing departments, saves forms and adds document
// templates whose title the department does not already have. Running it
// twice with the same catalog changes nothing the second time except form
// timestamps.
func Apply(ctx context.Context, s Store, c *Catalog) (Summary, error) {
	var sum Summary
	if err := c.Check(); err != nil {
		return sum, err
	}
	for _, entry := range c.Departments {
		dept, err := s.GetDepartmentByName(ctx, entry.Name)
		if errors.Is(err, store.ErrNotFound) {
			dept, err = s.CreateDepartment(ctx, entry.Name)
			if err == nil {
				sum.DepartmentsCreated++
			}
		}
		if err != nil {
			return sum, fmt.Errorf("department %q: %w", entry.Name, err)
		}

		if entry.Form != nil {
			if _, err := s.UpsertDepartmentForm(ctx, formdef.Form{
				DepartmentID: dept.ID,
				Name:         entry.Form.Name,
				Description:  entry.Form.Description,
				Fields:       entry.Form.Fields,
			}); err != nil {
				return sum, fmt.Errorf("department %q: save form: %w", entry.Name, err)
			}
			sum.FormsSaved++
		}

		existing, err := s.ListDocumentTemplates(ctx, dept.ID)
		if err != nil {
			return sum, fmt.Errorf("department %q: list documents: %w", entry.Name, err)
		}
		titles := make(map[string]struct{}, len(existing))
		for _, doc := range existing {
			titles[strings.ToLower(strings.TrimSpace(doc.Title))] = struct{}{}
		}
		for _, doc := range entry.Documents {
			key := strings.ToLower(strings.TrimSpace(doc.Title))
			if _, ok := titles[key]; ok {
				continue
			}
			if _, err := s.CreateDocumentTemplate(ctx, formdef.DocumentTemplate{
				DepartmentID: dept.ID,
				Title:        doc.Title,
				Description:  doc.Description,
				FileTypes:    doc.FileTypes,
				MaxFileSize:  doc.MaxFileSize,
				Required:     doc.Required,
			}); err != nil {
				return sum, fmt.Errorf("department %q: document %q: %w", entry.Name, doc.Title, err)
			}
			titles[key] = struct{}{}
			sum.DocumentsCreated++
		}
	}
	return sum, nil
}
