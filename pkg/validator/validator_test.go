package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vedran77/pulsesync/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestValidateLogin(t *testing.T) {
	assert.False(t, ValidateLogin("ana.b", "pw").HasErrors())

	errs := ValidateLogin("  ", "")
	assert.Contains(t, errs, "username")
	assert.Contains(t, errs, "password")

	errs = ValidateLogin("ana b", "pw")
	assert.Contains(t, errs, "username")
}

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content domain.Content
		fields  []string
	}{
		{"text", domain.TextContent("hello"), nil},
		{"captioned image", domain.Content{Text: strPtr("look"), Image: strPtr("https://cdn/x.png")}, nil},
		{"file only", domain.Content{File: strPtr("https://cdn/x.pdf")}, nil},
		{"blank text", domain.TextContent("   "), []string{"content"}},
		{"nothing", domain.Content{}, []string{"content"}},
		{"too long", domain.TextContent(strings.Repeat("é", MaxTextLength+1)), []string{"text"}},
		{"bad image", domain.Content{Image: strPtr("file:///etc/passwd")}, []string{"image"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateContent(tt.content)
			assert.Len(t, errs, len(tt.fields))
			for _, f := range tt.fields {
				assert.Contains(t, errs, f)
			}
		})
	}
}

func TestValidationErrorsMessageIsSorted(t *testing.T) {
	errs := ValidationErrors{"b": "second", "a": "first"}
	assert.Equal(t, "a: first; b: second", errs.Error())
}
