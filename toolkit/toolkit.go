// Package toolkit probes the Heroku CLI on the execution host: whether it is
// installed, which version it is, and which account it is logged in as.
package toolkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/netintel/herokumcp/runner"
)

const probeTimeout = 15 * time.Second

// Status is the outcome of a CLI probe.
type Status struct {
	// Version is the full first line of `heroku --version`, e.g.
	// "heroku/8.7.1 linux-x64 node-v20.11.1".
	Version string
	Account string
	// VersionError and AuthError hold the reason a probe step failed.
	VersionError string
	AuthError    string
}

func (s Status) Available() bool {
	return s.Version != ""
}

func (s Status) Authenticated() bool {
	return s.Account != ""
}

// BuildProbeCommands returns the version and whoami invocations for the CLI argv prefix.
func BuildProbeCommands(cli []string, env []string) (version, whoami runner.Command) {
	version = runner.Command{Args: append(append([]string(nil), cli...), "--version"), Env: env, Timeout: probeTimeout}
	whoami = runner.Command{Args: append(append([]string(nil), cli...), "auth:whoami"), Env: env, Timeout: probeTimeout}
	return version, whoami
}

// Probe runs both probe commands. Failures are recorded in the Status, not returned.
func Probe(ctx context.Context, exec runner.Executor, cli []string, env []string) Status {
	versionCmd, whoamiCmd := BuildProbeCommands(cli, env)

	var st Status
	res, err := runner.RunChecked(ctx, exec, versionCmd)
	if err != nil {
		st.VersionError = probeError(err)
		return st
	}
	st.Version = ParseVersion(res.Stdout)
	if st.Version == "" {
		st.VersionError = "empty version output"
		return st
	}

	res, err = runner.RunChecked(ctx, exec, whoamiCmd)
	if err != nil {
		st.AuthError = probeError(err)
		return st
	}
	st.Account = strings.TrimSpace(res.Stdout)
	if st.Account == "" {
		st.AuthError = "not logged in"
	}
	return st
}

// ParseVersion returns the first non-empty line of `heroku --version`. Newer
// CLIs print update warnings after it.
func ParseVersion(stdout string) string {
	for _, line := range strings.Split(stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "›") {
			return line
		}
	}
	return ""
}

// semVer extracts "8.7.1" from "heroku/8.7.1 linux-x64 node-v20".
func semVer(version string) string {
	first, _, _ := strings.Cut(version, " ")
	_, v, ok := strings.Cut(first, "/")
	if !ok {
		return ""
	}
	return v
}

func probeError(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "executable file not found") || strings.Contains(msg, "command not found") {
		return "heroku CLI not found on PATH"
	}
	return msg
}

// Format renders the status as the heroku_cli_status tool text.
func (s Status) Format() string {
	var b strings.Builder
	b.WriteString("Heroku CLI Status:\n\n")
	if s.Available() {
		fmt.Fprintf(&b, "CLI: %s\n", s.Version)
		if v := semVer(s.Version); v != "" {
			fmt.Fprintf(&b, "Version: %s\n", v)
		}
	} else {
		fmt.Fprintf(&b, "CLI: unavailable (%s)\n", s.VersionError)
		b.WriteString("\nInstall the Heroku CLI: https://devcenter.heroku.com/articles/heroku-cli")
		return b.String()
	}
	if s.Authenticated() {
		fmt.Fprintf(&b, "Account: %s", s.Account)
	} else {
		fmt.Fprintf(&b, "Account: not authenticated (%s)\n", s.AuthError)
		b.WriteString("\nRun `heroku login` or set HEROKU_API_TOKEN.")
	}
	return b.String()
}
