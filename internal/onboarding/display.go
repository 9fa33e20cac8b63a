package onboarding

import (
	"strings"
	"unicode"
)

// Filter narrows the admin submission table.
type Filter struct {
	Status       string
	DepartmentID string
	Search       string
}

// Row is the subset of a submission the filter looks at.
type Row struct {
	Status       SubmissionStatus
	DepartmentID string
	FullName     string
	Email        string
}

func (f Filter) Match(row Row) bool {
	switch status := strings.ToLower(strings.TrimSpace(f.Status)); status {
	case "", "all":
	case string(StatusDraft):
		if row.Status != StatusDraft {
			return false
		}
	default:
		if row.Status == StatusDraft || string(row.Status) != status {
			return false
		}
	}

	if dept := strings.TrimSpace(f.DepartmentID); dept != "" && dept != "all" {
		if row.DepartmentID != dept {
			return false
		}
	}

	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		if !strings.Contains(strings.ToLower(row.FullName), search) &&
			!strings.Contains(strings.ToLower(row.Email), search) {
			return false
		}
	}
	return true
}

type Tone string

const (
	ToneComplete Tone = "complete"
	ToneHigh     Tone = "high"
	ToneMedium   Tone = "medium"
	ToneLow      Tone = "low"
)

func CompletionTone(pct int) Tone {
	switch {
	case pct >= 100:
		return ToneComplete
	case pct >= 75:
		return ToneHigh
	case pct >= 50:
		return ToneMedium
	default:
		return ToneLow
	}
}

// Initials returns up to two uppercase initials of a full name.
func Initials(name string) string {
	var b strings.Builder
	count := 0
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			b.WriteRune(unicode.ToUpper(r))
			count++
			break
		}
		if count == 2 {
			break
		}
	}
	return b.String()
}

// FormatFieldName turns snake_case or camelCase keys into title-cased words.
func FormatFieldName(key string) string {
	var spaced strings.Builder
	for _, r := range key {
		switch {
		case r == '_':
			spaced.WriteRune(' ')
		case unicode.IsUpper(r):
			spaced.WriteRune(' ')
			spaced.WriteRune(r)
		default:
			spaced.WriteRune(r)
		}
	}
	words := strings.Fields(spaced.String())
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
