package formdef

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engineeringFields() []Field {
	return []Field{
		{ID: "github", Type: FieldText, Label: "GitHub Username", Required: true},
		{ID: "work_email", Type: FieldEmail, Label: "Work Email", Required: true},
		{ID: "portfolio", Type: FieldFile, Label: "Portfolio", Required: false, FileTypes: []string{"pdf"}},
	}
}

func TestParseFields(t *testing.T) {
	raw := []byte(`[
		{"id":"github","type":"text","label":"GitHub","required":true,"validation":{"min":3,"max":39}},
		{"id":"team","type":"dropdown","label":"Team","required":true,"options":["Platform","Web"]},
		{"id":"cv","type":"file","label":"CV","required":true,"fileTypes":["pdf","docx"],"maxFileSize":2}
	]`)
	fields, err := ParseFields(raw)
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, FieldDropdown, fields[1].Type)
	assert.Equal(t, []string{"pdf", "docx"}, fields[2].FileTypes)
	assert.Equal(t, 2, fields[2].MaxFileSize)
	assert.Equal(t, 39, fields[0].Validation.Max)
}

func TestParseFieldsEmpty(t *testing.T) {
	for _, raw := range []string{"", "null", "  "} {
		fields, err := ParseFields([]byte(raw))
		require.NoError(t, err)
		assert.Empty(t, fields)
	}
}

func TestParseFieldsRejectsBadDefinitions(t *testing.T) {
	cases := map[string]string{
		"unknown type":      `[{"id":"a","type":"date","label":"A"}]`,
		"missing id":        `[{"id":"","type":"text","label":"A"}]`,
		"duplicate id":      `[{"id":"a","type":"text","label":"A"},{"id":"a","type":"text","label":"B"}]`,
		"missing label":     `[{"id":"a","type":"text","label":" "}]`,
		"dropdown options":  `[{"id":"a","type":"dropdown","label":"A"}]`,
		"min over max":      `[{"id":"a","type":"text","label":"A","validation":{"min":5,"max":2}}]`,
		"bad pattern":       `[{"id":"a","type":"text","label":"A","validation":{"pattern":"("}}]`,
		"reserved prefix":   `[{"id":"doc_x","type":"text","label":"A"}]`,
		"malformed json":    `[{"id":`,
		"negative max size": `[{"id":"a","type":"file","label":"A","maxFileSize":-1}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFields([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestFieldValidate(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		value   string
		hasFile bool
		want    string
	}{
		{"required blank", Field{ID: "n", Type: FieldText, Label: "Name", Required: true}, "   ", false, "Name is required"},
		{"required present", Field{ID: "n", Type: FieldText, Label: "Name", Required: true}, "Ada", false, ""},
		{"optional blank", Field{ID: "n", Type: FieldText, Label: "Name"}, "", false, ""},
		{"required file missing", Field{ID: "f", Type: FieldFile, Label: "Resume", Required: true}, "", false, "Resume is required"},
		{"required file present", Field{ID: "f", Type: FieldFile, Label: "Resume", Required: true}, "", true, ""},
		{"bad email", Field{ID: "e", Type: FieldEmail, Label: "Email"}, "not-an-email", false, "Please enter a valid email address"},
		{"good email", Field{ID: "e", Type: FieldEmail, Label: "Email"}, "ada@example.com", false, ""},
		{"bad phone", Field{ID: "p", Type: FieldPhone, Label: "Phone"}, "call me", false, "Please enter a valid phone number"},
		{"good phone", Field{ID: "p", Type: FieldPhone, Label: "Phone"}, "+1 (555) 123-4567", false, ""},
		{"too short", Field{ID: "t", Type: FieldText, Label: "T", Validation: &Validation{Min: 3}}, "ab", false, "Minimum 3 characters required"},
		{"too long", Field{ID: "t", Type: FieldText, Label: "T", Validation: &Validation{Max: 3}}, "abcd", false, "Maximum 3 characters allowed"},
		{"runes not bytes", Field{ID: "t", Type: FieldText, Label: "T", Validation: &Validation{Max: 3}}, "ééé", false, ""},
		{"pattern mismatch", Field{ID: "z", Type: FieldText, Label: "Zip", Validation: &Validation{Pattern: `^\d{5}$`}}, "12ab5", false, "Zip has an invalid format"},
		{"pattern match", Field{ID: "z", Type: FieldText, Label: "Zip", Validation: &Validation{Pattern: `^\d{5}$`}}, "12345", false, ""},
		{"dropdown unknown", Field{ID: "d", Type: FieldDropdown, Label: "Team", Options: []string{"A", "B"}}, "C", false, "Please select a valid option"},
		{"dropdown known", Field{ID: "d", Type: FieldDropdown, Label: "Team", Options: []string{"A", "B"}}, "B", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.field.Validate(tt.value, tt.hasFile))
		})
	}
}

func TestValidateIncludesRequiredDocuments(t *testing.T) {
	docs := []DocumentTemplate{
		{ID: "resume", Title: "Resume", Required: true},
		{ID: "cover", Title: "Cover Letter", Required: false},
	}
	errs := Validate(engineeringFields(), docs, map[string]string{"github": "ada"}, map[string]bool{})
	assert.Equal(t, Errors{
		"work_email": "Work Email is required",
		"doc_resume": "Resume is required",
	}, errs)

	errs = Validate(engineeringFields(), docs,
		map[string]string{"github": "ada", "work_email": "ada@example.com"},
		map[string]bool{"doc_resume": true})
	assert.True(t, errs.Empty())
}

func TestCompletion(t *testing.T) {
	fields := engineeringFields()
	docs := []DocumentTemplate{{ID: "resume", Title: "Resume", Required: true}}

	assert.Equal(t, 0, Completion(nil, nil, nil, nil))
	assert.Equal(t, 0, Completion(fields, docs, map[string]string{}, map[string]bool{}))

	// 1 of 4 answered.
	assert.Equal(t, 25, Completion(fields, docs, map[string]string{"github": "ada"}, nil))

	// whitespace does not count, file field counts only with an upload
	assert.Equal(t, 25, Completion(fields, docs,
		map[string]string{"github": "ada", "work_email": "  ", "portfolio": "ignored"}, nil))

	assert.Equal(t, 100, Completion(fields, docs,
		map[string]string{"github": "ada", "work_email": "a@b.co"},
		map[string]bool{"portfolio": true, "doc_resume": true}))

	// 2 of 3 rounds to 67
	three := fields[:2]
	assert.Equal(t, 67, Completion(three, docs, map[string]string{"github": "ada"}, map[string]bool{"doc_resume": true}))
	// 1 of 8 is 12.5, rounds half up
	eight := make([]Field, 8)
	for i := range eight {
		eight[i] = Field{ID: string(rune('a' + i)), Type: FieldText, Label: "x"}
	}
	assert.Equal(t, 13, Completion(eight, nil, map[string]string{"a": "1"}, nil))
}

func TestCheckFile(t *testing.T) {
	require.NoError(t, CheckFile(0, nil, "anything.bin", 5*1024*1024))

	err := CheckFile(0, nil, "big.pdf", 5*1024*1024+1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFileRejected))
	assert.Contains(t, err.Error(), "File size must be less than 5MB")

	err = CheckFile(2, []string{"pdf", "docx"}, "photo.PNG", 10)
	require.Error(t, err)
	assert.Equal(t, "File type must be one of: pdf, docx", FileMessage(err))

	require.NoError(t, CheckFile(2, []string{"PDF"}, "Resume.Final.pdf", 10))
	require.Error(t, CheckFile(2, []string{"pdf"}, "noextension", 10))
}

func TestContactPatterns(t *testing.T) {
	assert.True(t, IsEmail(" engineer@test.com "))
	assert.False(t, IsEmail("engineer@test"))
	assert.True(t, IsPhone("+91 (22) 555-0100"))
	assert.False(t, IsPhone("call me"))
}

func TestCompiledPatternIsReused(t *testing.T) {
	first, err := compiledPattern(`^[A-Z]{5}\d{4}[A-Z]$`)
	require.NoError(t, err)
	second, err := compiledPattern(`^[A-Z]{5}\d{4}[A-Z]$`)
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = compiledPattern(`([`)
	assert.Error(t, err)

	pan := Field{ID: "pan", Type: FieldText, Label: "PAN", Validation: &Validation{Pattern: `^[A-Z]{5}\d{4}[A-Z]$`}}
	for i := 0; i < 3; i++ {
		assert.Equal(t, "", pan.Validate("ABCDE1234F", false))
		assert.Equal(t, "PAN has an invalid format", pan.Validate("abcde1234f", false))
	}
}

func TestDocumentFieldIDs(t *testing.T) {
	id := DocumentFieldID("abc")
	assert.Equal(t, "doc_abc", id)
	assert.True(t, IsDocumentFieldID(id))
	tid, ok := TemplateIDFromField(id)
	assert.True(t, ok)
	assert.Equal(t, "abc", tid)
	_, ok = TemplateIDFromField("github")
	assert.False(t, ok)
}

func TestRenderField(t *testing.T) {
	html, err := RenderField(Field{ID: "phone", Type: FieldPhone, Label: "Mobile Number", Required: true}, "555", "")
	require.NoError(t, err)
	out := string(html)
	assert.Contains(t, out, `type="tel"`)
	assert.Contains(t, out, `placeholder="Enter mobile number"`)
	assert.Contains(t, out, `value="555"`)
	assert.Contains(t, out, "required")

	html, err = RenderField(Field{ID: "team", Type: FieldDropdown, Label: "Team", Options: []string{"Web", "Ops"}}, "Ops", "Please select a valid option")
	require.NoError(t, err)
	out = string(html)
	assert.Contains(t, out, "<select")
	assert.Contains(t, out, `<option value="Ops" selected>`)
	assert.Contains(t, out, `class="error"`)

	html, err = RenderField(Field{ID: "bio", Type: FieldTextarea, Label: "Bio"}, "<b>hi</b>", "")
	require.NoError(t, err)
	assert.Contains(t, string(html), "&lt;b&gt;hi&lt;/b&gt;")

	html, err = RenderDocument(DocumentTemplate{ID: "r", Title: "Resume", FileTypes: []string{"pdf", ".DOCX"}}, "cv.pdf", "")
	require.NoError(t, err)
	out = string(html)
	assert.Contains(t, out, `accept=".pdf,.docx"`)
	assert.Contains(t, out, "Max 5MB")
	assert.True(t, strings.Contains(out, "Uploaded: cv.pdf"))
}
