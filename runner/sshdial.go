package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	gossh "golang.org/x/crypto/ssh"
)

const defaultConnectTimeout = 10 * time.Second

// SSHDialer connects with golang.org/x/crypto/ssh.
type SSHDialer struct {
	ConnectTimeout time.Duration
	HostKeys       HostKeyPolicy

	// AgentSocket overrides $SSH_AUTH_SOCK.
	AgentSocket string
	// DefaultKeys overrides the ~/.ssh key search list.
	DefaultKeys []string
}

func (d *SSHDialer) Dial(ctx context.Context, b Bastion) (Conn, error) {
	b = b.withDefaults()
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	hostKeyCallback, err := d.HostKeys.Callback()
	if err != nil {
		return nil, err
	}

	keys, err := loadKeyring(b, d.defaultKeys(), d.agentSocket())
	if err != nil {
		return nil, err
	}
	defer func() { _ = keys.Close() }()

	nd := net.Dialer{Timeout: timeout}
	raw, err := nd.DialContext(ctx, "tcp", b.Addr())
	if err != nil {
		return nil, err
	}

	// The handshake has no context of its own, so bound it with a deadline.
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = raw.SetDeadline(deadline)

	cc, chans, reqs, err := gossh.NewClientConn(raw, b.Addr(), &gossh.ClientConfig{
		User:            b.User,
		Auth:            keys.methods(),
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	})
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	_ = raw.SetDeadline(time.Time{})

	return &sshConn{client: gossh.NewClient(cc, chans, reqs)}, nil
}

func (d *SSHDialer) defaultKeys() []string {
	if d.DefaultKeys != nil {
		return d.DefaultKeys
	}
	return defaultKeyPaths()
}

func (d *SSHDialer) agentSocket() string {
	if d.AgentSocket != "" {
		return d.AgentSocket
	}
	return agentSocketFromEnv()
}

type sshConn struct {
	client *gossh.Client
}

func (c *sshConn) Exec(ctx context.Context, line string) (ExecResult, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return ExecResult{}, err
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	started := time.Now()
	if err := session.Start(line); err != nil {
		return ExecResult{}, err
	}
	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case <-ctx.Done():
		_ = session.Signal(gossh.SIGKILL)
		_ = session.Close()
		return ExecResult{}, ctx.Err()
	case err := <-done:
		res := ExecResult{
			Stdout:    stdout.String(),
			Stderr:    stderr.String(),
			RuntimeMs: int(time.Since(started).Milliseconds()),
		}
		var exitErr *gossh.ExitError
		var missing *gossh.ExitMissingError
		switch {
		case err == nil:
			return res, nil
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		case errors.As(err, &missing):
			return ExecResult{}, fmt.Errorf("bastion closed the session without an exit status: %w", err)
		default:
			return ExecResult{}, err
		}
	}
}

func (c *sshConn) Close() error {
	return c.client.Close()
}
