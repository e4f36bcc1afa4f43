// Package sqlutil provides SQL identifier helpers shared by the dialects.
package sqlutil

import (
	"regexp"
	"strings"
)

// QuoteBacktick quotes a MySQL identifier with backticks.
// It escapes any existing backticks by doubling them.
//
//	QuoteBacktick("my`table") == "`my``table`"
func QuoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteBracket quotes a SQL Server identifier with square brackets.
// Example: "Order Items" -> "[Order Items]", "a]b" -> "[a]]b]"
func QuoteBracket(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// QuoteDouble quotes an ANSI identifier (PostgreSQL, SQLite) with double quotes.
func QuoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// validIdentifierRegex restricts identifiers that come from configuration to
// letters, digits, underscore and $ (SQL Server and MySQL both allow $ after
// the first character).
var validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_$]*$`)

// IsValidIdentifier checks if a bare name is safe to embed after quoting.
func IsValidIdentifier(name string) bool {
	return validIdentifierRegex.MatchString(name)
}

// InvalidIdentifierError is returned when an identifier contains invalid characters.
type InvalidIdentifierError struct {
	Name string
}

func (e *InvalidIdentifierError) Error() string {
	return "invalid identifier: " + e.Name + " (must start with a letter or underscore and contain only alphanumeric characters, '_' or '$')"
}

// SplitQualified splits "schema.name" into its parts, removing [..], `..` or
// ".." quoting from each. A bare name yields an empty schema.
func SplitQualified(qualified string) (schema, name string) {
	qualified = strings.TrimSpace(qualified)
	if i := lastDotOutsideQuotes(qualified); i >= 0 {
		return Unquote(qualified[:i]), Unquote(qualified[i+1:])
	}
	return "", Unquote(qualified)
}

// Unquote strips one level of identifier quoting.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	switch {
	case s[0] == '[' && s[len(s)-1] == ']':
		return strings.ReplaceAll(s[1:len(s)-1], "]]", "]")
	case s[0] == '`' && s[len(s)-1] == '`':
		return strings.ReplaceAll(s[1:len(s)-1], "``", "`")
	case s[0] == '"' && s[len(s)-1] == '"':
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}

func lastDotOutsideQuotes(s string) int {
	var closing byte
	last := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case closing != 0:
			if c == closing {
				closing = 0
			}
		case c == '[':
			closing = ']'
		case c == '`' || c == '"':
			closing = c
		case c == '.':
			last = i
		}
	}
	return last
}

// ValidateQualified checks both parts of a possibly schema-qualified name.
func ValidateQualified(qualified string) error {
	schema, name := SplitQualified(qualified)
	if schema != "" && !IsValidIdentifier(schema) {
		return &InvalidIdentifierError{Name: schema}
	}
	if !IsValidIdentifier(name) {
		return &InvalidIdentifierError{Name: name}
	}
	return nil
}
