package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/vedran77/pulsesync/internal/domain"
)

const MaxTextLength = 4000

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, v[f]))
	}
	return strings.Join(parts, "; ")
}

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

func ValidateLogin(username, password string) ValidationErrors {
	errs := make(ValidationErrors)

	username = strings.TrimSpace(username)
	if username == "" {
		errs.Add("username", "Username is required")
	} else if len(username) > 50 {
		errs.Add("username", "Username is too long")
	} else if !usernameRegex.MatchString(username) {
		errs.Add("username", "Username can only contain letters, numbers, _, . and -")
	}

	if password == "" {
		errs.Add("password", "Password is required")
	}

	return errs
}

// ValidateContent checks an outbound message body. Text may caption an
// attachment but something must be present.
func ValidateContent(c domain.Content) ValidationErrors {
	errs := make(ValidationErrors)

	if c.IsEmpty() {
		errs.Add("content", "Message must contain text, an image or a file")
		return errs
	}
	if c.Text != nil && utf8.RuneCountInString(*c.Text) > MaxTextLength {
		errs.Add("text", fmt.Sprintf("Message is longer than %d characters", MaxTextLength))
	}
	if c.HasImage() && !isURL(*c.Image) {
		errs.Add("image", "Image must be an http(s) URL")
	}
	if c.HasFile() && !isURL(*c.File) {
		errs.Add("file", "File must be an http(s) URL")
	}

	return errs
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
