package sqlgen

import (
	"regexp"
	"strings"
)

var (
	quotedSpanEnd  = regexp.MustCompile(`\\Q((?:[^\\]|\\[^E])*)\\E`)
	quotedSpanOpen = regexp.MustCompile(`\\Q(.*)$`)
	commentLine    = regexp.MustCompile(`(?m)#[^\n]*\n`)
	unescapedSpace = regexp.MustCompile(`([^\\])\s+`)
	literalRune    = regexp.MustCompile(`[0-9 ]|\p{L}`)
)

// ProcessRegexPattern prepares a document-query regex for the Postgres ~
// operators. Segments delimited by \Q...\E are escaped as literals; the rest
// passes through as a regular expression. Leading ^ and trailing $ anchors
// are preserved around the rewrite.
func ProcessRegexPattern(s string) string {
	if strings.HasPrefix(s, "^") {
		return "^" + literalizeRegexPart(s[1:])
	}
	if strings.HasSuffix(s, "$") {
		return literalizeRegexPart(s[:len(s)-1]) + "$"
	}
	return literalizeRegexPart(s)
}

func literalizeRegexPart(s string) string {
	// Closed \Q...\E span.
	if loc := quotedSpanEnd.FindStringSubmatchIndex(s); loc != nil {
		prefix := s[:loc[0]]
		quoted := s[loc[2]:loc[3]]
		rest := s[loc[1]:]
		return literalizeRegexPart(prefix) + createLiteralRegex(quoted) + literalizeRegexPart(rest)
	}
	// A \Q with no closing \E quotes through the end of the pattern.
	if loc := quotedSpanOpen.FindStringSubmatchIndex(s); loc != nil {
		prefix := s[:loc[0]]
		quoted := s[loc[2]:loc[3]]
		return literalizeRegexPart(prefix) + createLiteralRegex(quoted)
	}
	// Strip stray markers.
	s = strings.ReplaceAll(s, `\Q`, "")
	s = strings.ReplaceAll(s, `\E`, "")
	return s
}

// createLiteralRegex escapes every regex metacharacter in a quoted span so
// it matches literally. Letters, digits and spaces stay as they are.
func createLiteralRegex(quoted string) string {
	var b strings.Builder
	for _, r := range quoted {
		if literalRune.MatchString(string(r)) {
			b.WriteRune(r)
		} else {
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RemoveWhiteSpace implements the verbose ('x') regex flag: strips #-to-EOL
// comments and unescaped whitespace before the pattern is used.
func RemoveWhiteSpace(pattern string) string {
	if !strings.HasSuffix(pattern, "\n") {
		pattern += "\n"
	}
	pattern = commentLine.ReplaceAllString(pattern, "")
	pattern = unescapedSpace.ReplaceAllString(pattern, "$1")
	return strings.TrimSpace(pattern)
}

// isStartsWithRegex reports whether a $regex value is a prefix-anchored
// literal match: ^\Q...\E. Only those can collapse into the
// array-contains-all-by-prefix predicate.
func isStartsWithRegex(v interface{}) bool {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "^") {
		return false
	}
	return regexp.MustCompile(`\^\\Q.*\\E`).MatchString(s)
}

func regexValueOf(v interface{}) (string, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return "", false
	}
	s, ok := m["$regex"].(string)
	return s, ok
}

// allValuesRegexOrNone reports whether every element of a $all list is a
// prefix-anchored regex, or none is. Mixing the two shapes is a user error.
func allValuesRegexOrNone(values []interface{}) bool {
	if len(values) == 0 {
		return true
	}
	_, firstIsRegex := regexValueOf(values[0])
	firstStartsWith := false
	if firstIsRegex {
		s, _ := regexValueOf(values[0])
		firstStartsWith = isStartsWithRegex(s)
	}
	for _, v := range values[1:] {
		s, isRegex := regexValueOf(v)
		if isRegex != firstIsRegex || (isRegex && isStartsWithRegex(s) != firstStartsWith) {
			return false
		}
	}
	return true
}

func anyValueRegexStartsWith(values []interface{}) bool {
	for _, v := range values {
		if s, ok := regexValueOf(v); ok && isStartsWithRegex(s) {
			return true
		}
	}
	return false
}
