package connections

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
)

// Row is one result row. Values keep the column order of the statement.
type Row struct {
	Columns []string
	Values  []any
}

// Get returns the value of the named column.
func (r Row) Get(column string) (any, bool) {
	for i, name := range r.Columns {
		if name == column {
			return r.Values[i], true
		}
	}

	return nil, false
}

// MarshalJSON encodes the row as an object whose keys follow column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, name := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}

		value, err := json.Marshal(r.Values[i])
		if err != nil {
			return nil, err
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// QueryResult is the outcome of Connection.Query.
type QueryResult struct {
	Columns  []string `json:"columns"`
	Rows     []Row    `json:"rows"`
	RowCount int64    `json:"rowCount"`
	// Truncated is set when the statement produced more rows than the cap.
	Truncated bool `json:"truncated"`
}

// Table is one entry of a data source catalog.
type Table struct {
	Schema string `json:"schema" db:"table_schema"`
	Name   string `json:"name"   db:"table_name"`
}

var readOnlyKeywords = []string{"SELECT", "WITH", "SHOW", "EXPLAIN", "VALUES", "DESCRIBE", "TABLE"}

// writeKeywords may not appear anywhere in a read-only statement, including
// inside a CTE or after EXPLAIN. INTO covers SELECT INTO.
var writeKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true,
	"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true, "RENAME": true,
	"GRANT": true, "REVOKE": true, "COPY": true, "INTO": true, "CALL": true,
	"VACUUM": true, "REINDEX": true, "ATTACH": true, "DETACH": true, "PRAGMA": true,
}

// IsReadOnly reports whether statement is a single SELECT-class statement.
// Comments, string literals and quoted identifiers are ignored. A semicolon
// is only accepted at the end.
func IsReadOnly(statement string) bool {
	words, ok := sqlWords(statement)
	if !ok || len(words) == 0 {
		return false
	}

	if !slices.Contains(readOnlyKeywords, words[0]) {
		return false
	}

	for _, word := range words {
		if writeKeywords[word] {
			return false
		}
	}

	// EXPLAIN ANALYZE runs the statement.
	if words[0] == "EXPLAIN" && (slices.Contains(words, "ANALYZE") || slices.Contains(words, "ANALYSE")) {
		return false
	}

	return true
}

// sqlWords returns the upper-cased bare words of statement. It reports false
// for unterminated literals and for anything after a semicolon.
func sqlWords(statement string) ([]string, bool) {
	var words []string

	terminated := false

	for i := 0; i < len(statement); {
		c := statement[i]

		switch {
		case c == '-' && strings.HasPrefix(statement[i:], "--"):
			end := strings.IndexByte(statement[i:], '\n')
			if end < 0 {
				return words, true
			}

			i += end + 1

			continue
		case c == '/' && strings.HasPrefix(statement[i:], "/*"):
			end := strings.Index(statement[i+2:], "*/")
			if end < 0 {
				return nil, false
			}

			i += end + 4

			continue
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

			continue
		}

		if terminated {
			return nil, false
		}

		switch {
		case c == ';':
			terminated = true
			i++
		case c == '\'' || c == '"' || c == '`':
			end := closingQuote(statement, i+1, c)
			if end < 0 {
				return nil, false
			}

			i = end + 1
		case c == '$':
			end, ok := dollarQuoteEnd(statement, i)
			if !ok {
				return nil, false
			}

			i = end
		case isWordStart(c):
			start := i
			for i < len(statement) && isWordPart(statement[i]) {
				i++
			}

			words = append(words, strings.ToUpper(statement[start:i]))
		default:
			i++
		}
	}

	return words, true
}

// closingQuote finds the quote closing a literal opened before from. A doubled
// quote is an escaped one.
func closingQuote(s string, from int, quote byte) int {
	for i := from; i < len(s); i++ {
		if s[i] != quote {
			continue
		}

		if i+1 < len(s) && s[i+1] == quote {
			i++

			continue
		}

		return i
	}

	return -1
}

// dollarQuoteEnd skips a $tag$...$tag$ literal starting at i and returns the
// index after it. A lone $ such as a $1 placeholder is skipped as one byte.
func dollarQuoteEnd(s string, i int) (int, bool) {
	j := i + 1
	for j < len(s) && isWordPart(s[j]) && !(s[j] >= '0' && s[j] <= '9' && j == i+1) {
		j++
	}

	if j >= len(s) || s[j] != '$' {
		return i + 1, true
	}

	tag := s[i : j+1]

	end := strings.Index(s[j+1:], tag)
	if end < 0 {
		return 0, false
	}

	return j + 1 + end + len(tag), true
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordPart(c byte) bool {
	return isWordStart(c) || (c >= '0' && c <= '9')
}

// normalizeValue turns driver byte slices into strings so results encode as text.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}

	return v
}
