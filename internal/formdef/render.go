package formdef

import (
	"bytes"
	"html/template"
	"strings"
)

var fieldTmpl = template.Must(template.New("field").Parse(`<div class="field{{if .Error}} field-error{{end}}">
<label for="{{.ID}}">{{.Label}}{{if .Required}} <span class="required">*</span>{{end}}</label>
{{- if eq .Kind "textarea"}}
<textarea id="{{.ID}}" name="{{.ID}}" placeholder="{{.Placeholder}}" rows="4"{{if .Required}} required{{end}}>{{.Value}}</textarea>
{{- else if eq .Kind "select"}}
<select id="{{.ID}}" name="{{.ID}}"{{if .Required}} required{{end}}>
<option value="">{{.Placeholder}}</option>
{{- range .Options}}
<option value="{{.Value}}"{{if .Selected}} selected{{end}}>{{.Value}}</option>
{{- end}}
</select>
{{- else if eq .Kind "file"}}
<input id="{{.ID}}" name="file" type="file"{{if .Accept}} accept="{{.Accept}}"{{end}}>
<p class="hint">Max {{.MaxMB}}MB{{if .Accept}} ({{.Accept}}){{end}}</p>
{{- if .Value}}
<p class="uploaded">Uploaded: {{.Value}}</p>
{{- end}}
{{- else}}
<input id="{{.ID}}" name="{{.ID}}" type="{{.InputType}}" placeholder="{{.Placeholder}}" value="{{.Value}}"{{if .Required}} required{{end}}>
{{- end}}
{{- if .Error}}
<p class="error">{{.Error}}</p>
{{- end}}
</div>`))

type renderOption struct {
	Value    string
	Selected bool
}

type renderField struct {
	ID          string
	Label       string
	Kind        string
	InputType   string
	Placeholder string
	Value       string
	Error       string
	Required    bool
	Options     []renderOption
	Accept      string
	MaxMB       int
}

// InputType maps a field type to the HTML input type attribute.
func InputType(t FieldType) string {
	switch t {
	case FieldPhone:
		return "tel"
	case FieldEmail:
		return "email"
	default:
		return "text"
	}
}

func PlaceholderFor(f Field) string {
	if strings.TrimSpace(f.Placeholder) != "" {
		return f.Placeholder
	}
	if f.Type == FieldDropdown {
		return "Select " + strings.ToLower(f.Label)
	}
	return "Enter " + strings.ToLower(f.Label)
}

// RenderField turns one definition into form markup. For file fields value
// is the name of the already uploaded file, if any.
func RenderField(f Field, value, errMsg string) (template.HTML, error) {
	data := renderField{
		ID:          f.ID,
		Label:       f.Label,
		InputType:   InputType(f.Type),
		Placeholder: PlaceholderFor(f),
		Value:       value,
		Error:       errMsg,
		Required:    f.Required,
	}
	switch f.Type {
	case FieldTextarea:
		data.Kind = "textarea"
	case FieldDropdown:
		data.Kind = "select"
		for _, opt := range f.Options {
			data.Options = append(data.Options, renderOption{Value: opt, Selected: opt == value})
		}
	case FieldFile:
		data.Kind = "file"
		data.Accept = acceptList(f.FileTypes)
		data.MaxMB = f.MaxFileSize
		if data.MaxMB <= 0 {
			data.MaxMB = DefaultMaxFileSizeMB
		}
	default:
		data.Kind = "input"
	}

	var buf bytes.Buffer
	if err := fieldTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// RenderDocument renders the upload control for a document template.
func RenderDocument(d DocumentTemplate, uploadedName, errMsg string) (template.HTML, error) {
	return RenderField(Field{
		ID:          DocumentFieldID(d.ID),
		Type:        FieldFile,
		Label:       d.Title,
		Required:    d.Required,
		FileTypes:   d.FileTypes,
		MaxFileSize: d.MaxFileSize,
	}, uploadedName, errMsg)
}

func acceptList(fileTypes []string) string {
	if len(fileTypes) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fileTypes))
	for _, t := range fileTypes {
		t = strings.TrimPrefix(strings.TrimSpace(t), ".")
		if t == "" {
			continue
		}
		parts = append(parts, "."+strings.ToLower(t))
	}
	return strings.Join(parts, ",")
}
