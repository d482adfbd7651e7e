package validator

import (
	"fmt"
	"regexp"
	"strings"
)

// readOnlyPrefixes are statement openers accepted when writes are disabled.
var readOnlyPrefixes = []string{"SELECT", "WITH", "EXPLAIN", "SHOW", "TABLE", "VALUES"}

// describeCommand is the only psql meta-command shape accepted: one \d
// family command with at most one object pattern.
var describeCommand = regexp.MustCompile(`^\\d[a-zA-Z+]*(\s+[A-Za-z0-9_."*]+)?$`)

// deniedMetaCommands run shell commands, touch local files or re-execute
// the query buffer.
var deniedMetaCommands = []string{`\!`, `\o`, `\out`, `\copy`, `\i`, `\ir`, `\include`, `\g`, `\gx`, `\gexec`, `\w`, `\e`, `\setenv`}

// writeKeywords perform writes. They are rejected inside CTE bodies and
// after EXPLAIN ANALYZE, which executes its statement.
var writeKeywords = []string{"DELETE", "INSERT", "UPDATE", "MERGE", "TRUNCATE", "DROP", "ALTER", "CREATE", "GRANT", "REVOKE", "COPY"}

// ReadOnlySQL rejects queries that are not a single recognized read-only statement.
func ReadOnlySQL(query string) error {
	stripped := strings.TrimSpace(query)
	if stripped == "" {
		return &ValidationError{Message: "query is required"}
	}

	body := strings.TrimSuffix(stripped, ";")
	if strings.HasPrefix(body, `\`) {
		return checkMetaCommand(body)
	}
	if hasUnquotedSemicolon(body) {
		return &ValidationError{Message: "multiple SQL statements are not allowed"}
	}

	upper := strings.ToUpper(body)
	for _, prefix := range readOnlyPrefixes {
		if !hasWordPrefix(upper, strings.ToUpper(prefix)) {
			continue
		}
		switch prefix {
		case "WITH":
			return checkCTE(body)
		case "EXPLAIN":
			return checkExplain(body)
		}
		return nil
	}

	return &ValidationError{Message: "query is not a recognized read-only statement; enable database.allow_writes to run writes"}
}

// MetaCommand checks a query that opens with a psql meta-command. It applies
// whether or not writes are enabled. Plain SQL passes.
func MetaCommand(query string) error {
	body := strings.TrimSuffix(strings.TrimSpace(query), ";")
	if !strings.HasPrefix(body, `\`) {
		return nil
	}
	return checkMetaCommand(body)
}

// checkMetaCommand accepts a single describe command such as "\d+ alerts".
// psql expands backticks in meta-command arguments through the shell.
func checkMetaCommand(cmd string) error {
	if strings.Contains(cmd, "`") {
		return &ValidationError{Message: "backticks are not allowed in meta-commands"}
	}
	if strings.Count(cmd, `\`) > 1 {
		return &ValidationError{Message: "only one meta-command is allowed"}
	}
	name := strings.Fields(cmd)[0]
	for _, denied := range deniedMetaCommands {
		if strings.EqualFold(name, denied) {
			return &ValidationError{Message: fmt.Sprintf("meta-command %s is not allowed", denied)}
		}
	}
	if !describeCommand.MatchString(cmd) {
		return &ValidationError{Message: fmt.Sprintf("meta-command %s is not allowed; only \\d describe commands are", name)}
	}
	return nil
}

// hasWordPrefix matches prefix at the start of s when it is followed by a
// non-word character.
func hasWordPrefix(s, prefix string) bool {
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	return len(s) == len(prefix) || !isWordChar(s[len(prefix)])
}

func checkExplain(sql string) error {
	upper := strings.ToUpper(sql)
	if !strings.Contains(upper, "ANALYZE") && !strings.Contains(upper, "ANALYSE") {
		return nil
	}
	if kw := findKeyword(sql, writeKeywords); kw != "" {
		return &ValidationError{Message: fmt.Sprintf("EXPLAIN ANALYZE would execute a %s statement", kw)}
	}
	return nil
}

// checkCTE rejects writable CTEs such as
// "WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d".
func checkCTE(sql string) error {
	depth := 0
	inQuote := false

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		switch ch {
		case '(':
			if depth == 0 {
				inner, end := enclosed(sql, i)
				if end == -1 {
					return &ValidationError{Message: "malformed WITH query: unbalanced parentheses"}
				}
				if kw := findKeyword(inner, writeKeywords); kw != "" {
					return &ValidationError{Message: fmt.Sprintf("WITH query contains a %s statement", kw)}
				}
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				// A comma starts the next CTE and AS follows a column list.
				next := strings.ToUpper(strings.TrimSpace(sql[i+1:]))
				if strings.HasPrefix(next, ",") || hasWordPrefix(next, "AS") {
					continue
				}
				return checkCTETail(sql[i+1:])
			}
		}
	}

	return &ValidationError{Message: "malformed WITH query: unbalanced parentheses"}
}

func checkCTETail(tail string) error {
	rest := strings.ToUpper(strings.TrimLeft(tail, ", \t\n\r"))
	for _, kw := range []string{"SELECT", "TABLE", "VALUES", "WITH"} {
		if hasWordPrefix(rest, kw) {
			return nil
		}
	}
	return &ValidationError{Message: "WITH query must end in a read-only statement"}
}

// enclosed returns the text inside the parentheses opening at open and the
// index of the matching close, or -1 when unbalanced.
func enclosed(sql string, open int) (string, int) {
	depth := 0
	inQuote := false
	for i := open; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			inQuote = !inQuote
			continue
		}
		if inQuote {
			continue
		}
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return sql[open+1 : i], i
			}
		}
	}
	return "", -1
}

// findKeyword returns the first keyword found as a whole word outside
// single-quoted strings, or "".
func findKeyword(sql string, keywords []string) string {
	upper := strings.ToUpper(sql)
	for _, kw := range keywords {
		from := 0
		for {
			pos := strings.Index(upper[from:], kw)
			if pos == -1 {
				break
			}
			at := from + pos
			end := at + len(kw)
			from = end
			if at > 0 && isWordChar(upper[at-1]) {
				continue
			}
			if end < len(upper) && isWordChar(upper[end]) {
				continue
			}
			if !insideQuote(sql, at) {
				return kw
			}
		}
	}
	return ""
}

func hasUnquotedSemicolon(sql string) bool {
	inQuote := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			inQuote = !inQuote
		case ';':
			if !inQuote {
				return true
			}
		}
	}
	return false
}

func isWordChar(ch byte) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '_'
}

func insideQuote(s string, pos int) bool {
	inside := false
	for i := 0; i < pos && i < len(s); i++ {
		if s[i] == '\'' {
			inside = !inside
		}
	}
	return inside
}
