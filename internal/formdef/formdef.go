// Package formdef interprets department form definitions: the JSON field
// list an administrator attaches to a department, the document templates
// that go with it, and the validation and completion rules applied to an
// employee's answers.
package formdef

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldEmail    FieldType = "email"
	FieldPhone    FieldType = "phone"
	FieldDropdown FieldType = "dropdown"
	FieldFile     FieldType = "file"
	FieldTextarea FieldType = "textarea"
)

// DefaultMaxFileSizeMB applies when a field or template leaves maxFileSize unset.
const DefaultMaxFileSizeMB = 5

const documentFieldPrefix = "doc_"

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^[\d\s\-\+\(\)]+$`)
)

type Validation struct {
	Min     int    `json:"min,omitempty" yaml:"min,omitempty"`
	Max     int    `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

type Field struct {
	ID          string      `json:"id" yaml:"id"`
	Type        FieldType   `json:"type" yaml:"type"`
	Label       string      `json:"label" yaml:"label"`
	Required    bool        `json:"required" yaml:"required"`
	Placeholder string      `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Options     []string    `json:"options,omitempty" yaml:"options,omitempty"`
	FileTypes   []string    `json:"fileTypes,omitempty" yaml:"fileTypes,omitempty"`
	MaxFileSize int         `json:"maxFileSize,omitempty" yaml:"maxFileSize,omitempty"`
	Validation  *Validation `json:"validation,omitempty" yaml:"validation,omitempty"`
}

type Form struct {
	ID           string  `json:"id"`
	DepartmentID string  `json:"departmentId"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Fields       []Field `json:"fields"`
}

type DocumentTemplate struct {
	ID           string   `json:"id"`
	DepartmentID string   `json:"departmentId"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	FileTypes    []string `json:"fileTypes,omitempty"`
	MaxFileSize  int      `json:"maxFileSize,omitempty"`
	Required     bool     `json:"required"`
}

// Errors maps a field ID (or doc_<template id>) to a user-facing message.
type Errors map[string]string

func (e Errors) Empty() bool {
	return len(e) == 0
}

func ParseFields(raw []byte) ([]Field, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return []Field{}, nil
	}
	var fields []Field
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, fmt.Errorf("decode form fields: %w", err)
	}
	if err := CheckFields(fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// CheckFields verifies a field list is well formed before it is stored.
func CheckFields(fields []Field) error {
	seen := make(map[string]struct{}, len(fields))
	for i, field := range fields {
		id := strings.TrimSpace(field.ID)
		if id == "" {
			return fmt.Errorf("field %d: id is required", i+1)
		}
		if strings.HasPrefix(id, documentFieldPrefix) {
			return fmt.Errorf("field %q: ids starting with %q are reserved for documents", id, documentFieldPrefix)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("field %q: duplicate id", id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(field.Label) == "" {
			return fmt.Errorf("field %q: label is required", id)
		}
		switch field.Type {
		case FieldText, FieldEmail, FieldPhone, FieldFile, FieldTextarea:
		case FieldDropdown:
			if len(field.Options) == 0 {
				return fmt.Errorf("field %q: dropdown requires options", id)
			}
		default:
			return fmt.Errorf("field %q: unsupported type %q", id, field.Type)
		}
		if field.MaxFileSize < 0 {
			return fmt.Errorf("field %q: maxFileSize must not be negative", id)
		}
		if v := field.Validation; v != nil {
			if v.Min < 0 || v.Max < 0 {
				return fmt.Errorf("field %q: validation bounds must not be negative", id)
			}
			if v.Min > 0 && v.Max > 0 && v.Min > v.Max {
				return fmt.Errorf("field %q: validation min exceeds max", id)
			}
			if v.Pattern != "" {
				if _, err := compiledPattern(v.Pattern); err != nil {
					return fmt.Errorf("field %q: invalid pattern: %w", id, err)
				}
			}
		}
	}
	return nil
}

// Validate checks one answer. hasFile reports whether an upload exists for
// file fields; it is ignored for other types.
func (f Field) Validate(value string, hasFile bool) string {
	trimmed := strings.TrimSpace(value)
	if f.Required {
		if f.Type == FieldFile {
			if !hasFile {
				return f.Label + " is required"
			}
		} else if trimmed == "" {
			return f.Label + " is required"
		}
	}
	if f.Type == FieldFile || value == "" {
		return ""
	}

	switch f.Type {
	case FieldEmail:
		if !emailPattern.MatchString(value) {
			return "Please enter a valid email address"
		}
	case FieldPhone:
		if !phonePattern.MatchString(value) {
			return "Please enter a valid phone number"
		}
	case FieldDropdown:
		if !containsString(f.Options, value) {
			return "Please select a valid option"
		}
	}

	if v := f.Validation; v != nil {
		length := utf8.RuneCountInString(value)
		if v.Min > 0 && length < v.Min {
			return fmt.Sprintf("Minimum %d characters required", v.Min)
		}
		if v.Max > 0 && length > v.Max {
			return fmt.Sprintf("Maximum %d characters allowed", v.Max)
		}
		if v.Pattern != "" {
			re, err := compiledPattern(v.Pattern)
			if err == nil && !re.MatchString(value) {
				return f.Label + " has an invalid format"
			}
		}
	}
	return ""
}

// patterns caches compiled validation patterns by source; form definitions
// are few and long-lived.
var patterns sync.Map

func compiledPattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	actual, _ := patterns.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp), nil
}

// Validate checks every field and every required document. uploaded is keyed
// by field ID for file fields and by DocumentFieldID for templates.
func Validate(fields []Field, docs []DocumentTemplate, values map[string]string, uploaded map[string]bool) Errors {
	errs := Errors{}
	for _, field := range fields {
		if msg := field.Validate(values[field.ID], uploaded[field.ID]); msg != "" {
			errs[field.ID] = msg
		}
	}
	for _, doc := range docs {
		key := DocumentFieldID(doc.ID)
		if doc.Required && !uploaded[key] {
			errs[key] = doc.Title + " is required"
		}
	}
	return errs
}

// Completion returns the rounded share of answered fields and uploaded
// documents, 0..100.
func Completion(fields []Field, docs []DocumentTemplate, values map[string]string, uploaded map[string]bool) int {
	total := len(fields) + len(docs)
	if total == 0 {
		return 0
	}
	completed := 0
	for _, field := range fields {
		if field.Type == FieldFile {
			if uploaded[field.ID] {
				completed++
			}
			continue
		}
		if strings.TrimSpace(values[field.ID]) != "" {
			completed++
		}
	}
	for _, doc := range docs {
		if uploaded[DocumentFieldID(doc.ID)] {
			completed++
		}
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

var ErrFileRejected = errors.New("file rejected")

// CheckFile applies a size limit in megabytes and an extension allow list.
func CheckFile(maxMB int, fileTypes []string, fileName string, size int64) error {
	if maxMB <= 0 {
		maxMB = DefaultMaxFileSizeMB
	}
	if size > int64(maxMB)*1024*1024 {
		return fmt.Errorf("%w: File size must be less than %dMB", ErrFileRejected, maxMB)
	}
	if len(fileTypes) == 0 {
		return nil
	}
	ext := Extension(fileName)
	allowed := make([]string, 0, len(fileTypes))
	for _, t := range fileTypes {
		allowed = append(allowed, strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), ".")))
	}
	if ext == "" || !containsString(allowed, ext) {
		return fmt.Errorf("%w: File type must be one of: %s", ErrFileRejected, strings.Join(fileTypes, ", "))
	}
	return nil
}

// Extension returns the lowercased text after the last dot, or "".
func Extension(fileName string) string {
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 || idx == len(fileName)-1 {
		return ""
	}
	return strings.ToLower(fileName[idx+1:])
}

func DocumentFieldID(templateID string) string {
	return documentFieldPrefix + templateID
}

func IsDocumentFieldID(id string) bool {
	return strings.HasPrefix(id, documentFieldPrefix)
}

// TemplateIDFromField strips the doc_ prefix.
func TemplateIDFromField(id string) (string, bool) {
	if !IsDocumentFieldID(id) {
		return "", false
	}
	return strings.TrimPrefix(id, documentFieldPrefix), true
}

func FindField(fields []Field, id string) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

func FindTemplate(docs []DocumentTemplate, id string) (DocumentTemplate, bool) {
	for _, d := range docs {
		if d.ID == id {
			return d, true
		}
	}
	return DocumentTemplate{}, false
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func IsEmail(value string) bool {
	return emailPattern.MatchString(strings.TrimSpace(value))
}

func IsPhone(value string) bool {
	return phonePattern.MatchString(strings.TrimSpace(value))
}

// FileMessage returns the user-facing part of a CheckFile error.
func FileMessage(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), ErrFileRejected.Error()+": ")
}
