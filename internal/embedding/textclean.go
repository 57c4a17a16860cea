package embedding

import (
	"html"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// CleanText prepares query text for tokenisation: repairs UTF-8 that was decoded as
// Windows-1252, unescapes HTML entities, applies NFC, collapses whitespace and lowercases.
func CleanText(text string) string {
	text = fixMojibake(text)
	text = html.UnescapeString(text)
	text = norm.NFC.String(text)
	text = strings.Join(strings.Fields(text), " ")
	return strings.ToLower(text)
}

// fixMojibake undoes one round of UTF-8 bytes being read as Windows-1252 ("cafÃ©" -> "café").
// The repair is only kept when re-encoding succeeds and yields valid, shorter UTF-8.
func fixMojibake(text string) string {
	if isASCII(text) {
		return text
	}
	raw, err := charmap.Windows1252.NewEncoder().String(text)
	if err != nil || !utf8.ValidString(raw) || raw == text {
		return text
	}
	if utf8.RuneCountInString(raw) >= utf8.RuneCountInString(text) {
		return text
	}
	return raw
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
