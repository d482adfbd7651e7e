// Package parser turns a configured CLI command line into an argv slice.
package parser

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

const (
	MaxCommandLength = 4096
	MaxWords         = 64
)

type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}

// ParseCommandLine splits a single simple command such as `npx heroku` or
// `"/opt/heroku cli/bin/heroku" --no-color` into words. Quoting follows POSIX
// shell rules; anything the shell would expand or chain is rejected.
func ParseCommandLine(line string) ([]string, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, &ParseError{Message: "empty command line"}
	}
	if len(trimmed) > MaxCommandLength {
		return nil, &ParseError{Message: fmt.Sprintf("command line too long (%d bytes, max %d)", len(trimmed), MaxCommandLength)}
	}

	p := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	file, err := p.Parse(strings.NewReader(trimmed), "")
	if err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("parse command line: %v", err)}
	}
	if len(file.Stmts) != 1 {
		return nil, &ParseError{Message: "command line must be a single command"}
	}

	stmt := file.Stmts[0]
	if stmt.Background || stmt.Negated {
		return nil, &ParseError{Message: "command line must be a single command"}
	}
	if len(stmt.Redirs) > 0 {
		return nil, &ParseError{Message: "redirections are not allowed in the command line"}
	}

	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok {
		return nil, &ParseError{Message: fmt.Sprintf("unsupported shell construct: %s", describe(stmt.Cmd))}
	}
	if len(call.Assigns) > 0 {
		return nil, &ParseError{Message: "variable assignments are not allowed in the command line"}
	}
	if len(call.Args) > MaxWords {
		return nil, &ParseError{Message: fmt.Sprintf("too many words (%d, max %d)", len(call.Args), MaxWords)}
	}

	words := make([]string, 0, len(call.Args))
	for _, arg := range call.Args {
		word, err := literal(arg.Parts)
		if err != nil {
			return nil, err
		}
		words = append(words, word)
	}
	if len(words) == 0 || words[0] == "" {
		return nil, &ParseError{Message: "empty command line"}
	}
	return words, nil
}

func literal(parts []syntax.WordPart) (string, error) {
	var b strings.Builder
	for _, part := range parts {
		switch p := part.(type) {
		case *syntax.Lit:
			if strings.ContainsAny(p.Value, "*?[") {
				return "", &ParseError{Message: "glob patterns are not allowed in the command line"}
			}
			b.WriteString(unescape(p.Value))
		case *syntax.SglQuoted:
			b.WriteString(p.Value)
		case *syntax.DblQuoted:
			inner, err := literal(p.Parts)
			if err != nil {
				return "", err
			}
			b.WriteString(inner)
		case *syntax.ParamExp:
			return "", &ParseError{Message: "variable expansion is not allowed in the command line"}
		case *syntax.CmdSubst:
			return "", &ParseError{Message: "command substitution is not allowed in the command line"}
		case *syntax.ArithmExp:
			return "", &ParseError{Message: "arithmetic expansion is not allowed in the command line"}
		default:
			return "", &ParseError{Message: fmt.Sprintf("unsupported word part %T in the command line", p)}
		}
	}
	return b.String(), nil
}

// unescape drops the backslashes the POSIX parser leaves in unquoted literals.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

func describe(cmd syntax.Command) string {
	switch cmd.(type) {
	case *syntax.BinaryCmd:
		return "pipes and && / || chains"
	case *syntax.Subshell:
		return "subshell"
	case *syntax.Block:
		return "block"
	case nil:
		return "empty statement"
	default:
		return fmt.Sprintf("%T", cmd)
	}
}
