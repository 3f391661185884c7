// Package sanitize turns user-supplied names into safe plain text.
package sanitize

import (
	"html"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	// MaxFileNameLength bounds stored file names in bytes.
	MaxFileNameLength = 255

	fallbackFileName = "file"
)

// StrictPolicy removes all HTML tags and attributes.
var StrictPolicy = bluemonday.StrictPolicy()

// Text strips all HTML and returns trimmed plain text. Entities escaped by
// the policy are decoded again so "a & b" survives unchanged.
func Text(input string) string {
	return strings.TrimSpace(html.UnescapeString(StrictPolicy.Sanitize(input)))
}

// Username strips markup and control characters and collapses whitespace.
func Username(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, Text(input))
	return strings.Join(strings.Fields(cleaned), " ")
}

// FileName reduces an uploaded file name to a safe base name: no markup, no
// directory components, no control characters, at most MaxFileNameLength
// bytes with the extension preserved where possible.
func FileName(input string) string {
	name := strings.ReplaceAll(Text(input), "\\", "/")
	name = path.Base(name)

	name = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case r == '/' || r == ':' || r == '"' || r == '<' || r == '>' || r == '|' || r == '?' || r == '*':
			return '_'
		}
		return r
	}, name)
	name = strings.TrimSpace(strings.Trim(name, "."))

	if name == "" || name == "/" {
		return fallbackFileName
	}
	return truncate(name, MaxFileNameLength)
}

func truncate(name string, max int) string {
	if len(name) <= max {
		return name
	}
	ext := path.Ext(name)
	if len(ext) >= max/2 {
		ext = ""
	}
	stem := name[:max-len(ext)]
	for !utf8.ValidString(stem) {
		stem = stem[:len(stem)-1]
	}
	return stem + ext
}
