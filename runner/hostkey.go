package runner

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyMode controls how the bastion's host key is verified.
type HostKeyMode string

const (
	// HostKeyAcceptNew records an unknown bastion on first connect and
	// rejects a changed key afterwards.
	HostKeyAcceptNew HostKeyMode = "accept-new"
	HostKeyStrict    HostKeyMode = "strict"
	HostKeyOff       HostKeyMode = "off"
)

func ParseHostKeyMode(s string) (HostKeyMode, error) {
	switch m := HostKeyMode(s); m {
	case HostKeyAcceptNew, HostKeyStrict, HostKeyOff:
		return m, nil
	case "":
		return HostKeyAcceptNew, nil
	}
	return "", fmt.Errorf("host key checking must be accept-new, strict or off, got %q", s)
}

// HostKeyError is a verification failure. It is never retried.
type HostKeyError struct {
	Host       string
	KnownHosts string
}

func (e *HostKeyError) Error() string {
	return fmt.Sprintf("host key for bastion %s does not match %s; remove the stale entry if the change is expected", e.Host, e.KnownHosts)
}

// HostKeyPolicy builds the host key callback for a dial. The zero value is
// accept-new against ~/.ssh/known_hosts.
type HostKeyPolicy struct {
	Mode           HostKeyMode
	KnownHostsFile string
}

func (p HostKeyPolicy) Callback() (gossh.HostKeyCallback, error) {
	mode := p.Mode
	if mode == "" {
		mode = HostKeyAcceptNew
	}
	if mode == HostKeyOff {
		return gossh.InsecureIgnoreHostKey(), nil
	}

	file := p.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}

	switch mode {
	case HostKeyStrict:
		cb, err := knownhosts.New(file)
		if err != nil {
			return nil, fmt.Errorf("strict host key checking needs a readable known_hosts: %w", err)
		}
		return cb, nil
	case HostKeyAcceptNew:
		tofu := &trustOnFirstUse{file: file}
		return tofu.check, nil
	}
	return nil, fmt.Errorf("unknown host key mode %q", mode)
}

type trustOnFirstUse struct {
	mu   sync.Mutex
	file string
}

func (t *trustOnFirstUse) check(hostname string, remote net.Addr, key gossh.PublicKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := os.Stat(t.file); err == nil {
		cb, err := knownhosts.New(t.file)
		if err != nil {
			return fmt.Errorf("load known_hosts: %w", err)
		}
		err = cb(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		switch {
		case err == nil:
			return nil
		case !errors.As(err, &keyErr):
			return fmt.Errorf("host key verification: %w", err)
		case len(keyErr.Want) > 0:
			return &HostKeyError{Host: hostname, KnownHosts: t.file}
		}
	}
	return t.record(hostname, key)
}

func (t *trustOnFirstUse) record(hostname string, key gossh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(t.file), 0o700); err != nil {
		return fmt.Errorf("create known_hosts directory: %w", err)
	}
	f, err := os.OpenFile(t.file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open known_hosts: %w", err)
	}
	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		_ = f.Close()
		return fmt.Errorf("record host key: %w", err)
	}
	return f.Close()
}
