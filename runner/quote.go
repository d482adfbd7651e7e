package runner

import (
	"strings"
)

func ShellQuote(token string) string {
	if token == "" {
		return "''"
	}
	if isSafeShellToken(token) {
		return token
	}
	return "'" + strings.ReplaceAll(token, "'", "'\"'\"'") + "'"
}

// CommandLine renders cmd as a single POSIX shell line, environment first.
func CommandLine(cmd Command) string {
	parts := make([]string, 0, len(cmd.Env)+len(cmd.Args))
	for _, kv := range cmd.Env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !isEnvName(key) {
			continue
		}
		parts = append(parts, key+"="+ShellQuote(value))
	}
	for _, arg := range cmd.Args {
		parts = append(parts, ShellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func isEnvName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return true
}

func isSafeShellToken(token string) bool {
	for _, r := range token {
		if (r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '@' || r == '%' || r == '+' || r == '=' || r == ':' ||
			r == ',' || r == '.' || r == '/' || r == '-' {
			continue
		}
		return false
	}
	return true
}
