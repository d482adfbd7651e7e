package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

type fakeDialer struct {
	mu       sync.Mutex
	failures []error
	conn     *fakeConn
	dialed   []Bastion
}

func (f *fakeDialer) Dial(_ context.Context, b Bastion) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialed = append(f.dialed, b)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	return f.conn, nil
}

func (f *fakeDialer) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dialed)
}

type fakeConn struct {
	mu      sync.Mutex
	results []ExecResult
	errs    []error
	lines   []string
	closed  bool
}

func (f *fakeConn) Exec(ctx context.Context, line string) (ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return ExecResult{}, err
	}
	if len(f.results) > 0 {
		res := f.results[0]
		f.results = f.results[1:]
		return res, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	f.mu.Lock()
	return ExecResult{}, ctx.Err()
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testRemote(d Dialer, opts ...Option) *Remote {
	r := NewRemote(Bastion{Host: "bastion"}, append([]Option{WithDialer(d)}, opts...)...)
	r.resolve = nil
	return r
}

func TestRemoteReusesConnectionAndQuotes(t *testing.T) {
	conn := &fakeConn{results: []ExecResult{{Stdout: "one"}, {Stdout: "two"}}}
	d := &fakeDialer{conn: conn}
	r := testRemote(d)

	cmd := Command{Args: []string{"heroku", "config:set", "NOTE=hello world", "--app", "net-intel"}}
	for _, want := range []string{"one", "two"} {
		res, err := r.Run(context.Background(), cmd)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if res.Stdout != want {
			t.Fatalf("Stdout = %q, want %q", res.Stdout, want)
		}
	}
	if got := d.dials(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
	if got, want := conn.lines[0], "heroku config:set 'NOTE=hello world' --app net-intel"; got != want {
		t.Fatalf("line = %q, want %q", got, want)
	}
}

func TestRemoteSendsEnvironmentInline(t *testing.T) {
	conn := &fakeConn{results: []ExecResult{{}}}
	r := testRemote(&fakeDialer{conn: conn})

	cmd := Command{Args: []string{"heroku", "apps", "--json"}, Env: []string{"HEROKU_API_KEY=tok en", "BAD-NAME=x"}}
	if _, err := r.Run(context.Background(), cmd); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got, want := conn.lines[0], "HEROKU_API_KEY='tok en' heroku apps --json"; got != want {
		t.Fatalf("line = %q, want %q", got, want)
	}
}

func TestRemoteDefaultsPort(t *testing.T) {
	d := &fakeDialer{conn: &fakeConn{results: []ExecResult{{}}}}
	r := testRemote(d)
	if _, err := r.Run(context.Background(), Command{Args: []string{"heroku"}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := d.dialed[0]
	if got.Port != 22 || got.User == "" {
		t.Fatalf("dialed %+v, want port 22 and a login name", got)
	}
}

func TestRemoteRetriesTransientDialFailures(t *testing.T) {
	d := &fakeDialer{
		conn:     &fakeConn{results: []ExecResult{{}}},
		failures: []error{fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), io.EOF},
	}
	r := testRemote(d, WithRetries(2), WithRetryBackoff(time.Millisecond))

	if _, err := r.Run(context.Background(), Command{Args: []string{"heroku"}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := d.dials(); got != 3 {
		t.Fatalf("dials = %d, want 3", got)
	}
}

func TestRemoteGivesUpAfterRetries(t *testing.T) {
	d := &fakeDialer{failures: []error{io.EOF, io.EOF, io.EOF}}
	r := testRemote(d, WithRetries(1), WithRetryBackoff(time.Millisecond))

	_, err := r.Run(context.Background(), Command{Args: []string{"heroku"}})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Run() error = %v, want wrapped EOF", err)
	}
	if !strings.Contains(err.Error(), "bastion:22") {
		t.Fatalf("error %q should name the bastion address", err)
	}
	if got := d.dials(); got != 2 {
		t.Fatalf("dials = %d, want 2", got)
	}
}

func TestRemoteNeverRetriesHostKeyMismatch(t *testing.T) {
	d := &fakeDialer{failures: []error{&HostKeyError{Host: "bastion:22", KnownHosts: "/kh"}}}
	r := testRemote(d, WithRetries(3), WithRetryBackoff(time.Millisecond))

	_, err := r.Run(context.Background(), Command{Args: []string{"heroku"}})
	var hkErr *HostKeyError
	if !errors.As(err, &hkErr) {
		t.Fatalf("Run() error = %v, want *HostKeyError", err)
	}
	if got := d.dials(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
}

func TestRemoteDropsBrokenConnectionWithoutRerunning(t *testing.T) {
	conn := &fakeConn{errs: []error{errors.New("write: broken pipe")}, results: []ExecResult{{Stdout: "ok"}}}
	d := &fakeDialer{conn: conn}
	r := testRemote(d)

	_, err := r.Run(context.Background(), Command{Args: []string{"heroku", "ps:scale", "web=2", "--app", "net-intel"}})
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("Run() error = %v, want broken pipe", err)
	}
	if got := len(conn.lines); got != 1 {
		t.Fatalf("Exec calls = %d, want 1", got)
	}
	if !conn.closed {
		t.Fatal("broken connection was not closed")
	}

	if _, err := r.Run(context.Background(), Command{Args: []string{"heroku"}}); err != nil {
		t.Fatalf("Run() after redial error = %v", err)
	}
	if got := d.dials(); got != 2 {
		t.Fatalf("dials = %d, want 2", got)
	}
}

func TestRemoteKeepsConnectionOnCommandError(t *testing.T) {
	conn := &fakeConn{errs: []error{errors.New("permission denied")}}
	r := testRemote(&fakeDialer{conn: conn})

	if _, err := r.Run(context.Background(), Command{Args: []string{"heroku"}}); err == nil {
		t.Fatal("expected error")
	}
	if conn.closed {
		t.Fatal("connection closed on a non-transport error")
	}
}

func TestRemoteAppliesCommandTimeout(t *testing.T) {
	r := testRemote(&fakeDialer{conn: &fakeConn{}})

	_, err := r.Run(context.Background(), Command{Args: []string{"heroku"}, Timeout: time.Nanosecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
}

func TestRemoteKeepsConnectionAfterCommandTimeout(t *testing.T) {
	conn := &fakeConn{}
	d := &fakeDialer{conn: conn}
	r := testRemote(d)

	_, err := r.Run(context.Background(), Command{Args: []string{"heroku", "logs"}, Timeout: 20 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want deadline exceeded", err)
	}
	conn.mu.Lock()
	closed := conn.closed
	conn.results = append(conn.results, ExecResult{Stdout: "ok"})
	conn.mu.Unlock()
	if closed {
		t.Fatal("connection closed after a command timeout")
	}

	res, err := r.Run(context.Background(), Command{Args: []string{"heroku", "apps"}})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if got, want := res.Stdout, "ok"; got != want {
		t.Fatalf("Stdout = %q, want %q", got, want)
	}
	if got, want := d.dials(), 1; got != want {
		t.Fatalf("dials = %d, want %d", got, want)
	}
}

func TestRemoteRequiresHost(t *testing.T) {
	r := NewRemote(Bastion{}, WithDialer(&fakeDialer{conn: &fakeConn{}}))
	r.resolve = nil
	if _, err := r.Run(context.Background(), Command{Args: []string{"heroku"}}); err == nil {
		t.Fatal("expected error without a bastion host")
	}
}

func TestRemoteRejectsEmptyCommand(t *testing.T) {
	r := testRemote(&fakeDialer{conn: &fakeConn{}})
	if _, err := r.Run(context.Background(), Command{}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestRemoteClose(t *testing.T) {
	conn := &fakeConn{results: []ExecResult{{}}}
	r := testRemote(&fakeDialer{conn: conn})
	if err := r.Close(); err != nil {
		t.Fatalf("Close() before dial error = %v", err)
	}
	if _, err := r.Run(context.Background(), Command{Args: []string{"heroku"}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !conn.closed {
		t.Fatal("connection not closed")
	}
}

func TestDefaultDialerOptionsAnyOrder(t *testing.T) {
	r := NewRemote(Bastion{Host: "h"},
		WithKnownHostsFile("/tmp/kh"),
		WithConnectTimeout(3*time.Second),
		WithHostKeyChecking(HostKeyStrict),
	)
	d, ok := r.dialer.(*SSHDialer)
	if !ok {
		t.Fatalf("dialer = %T, want *SSHDialer", r.dialer)
	}
	want := HostKeyPolicy{Mode: HostKeyStrict, KnownHostsFile: "/tmp/kh"}
	if d.ConnectTimeout != 3*time.Second || d.HostKeys != want {
		t.Fatalf("dialer = %+v", d)
	}
}

func TestTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("ssh: handshake failed: EOF"), true},
		{io.ErrUnexpectedEOF, true},
		{errors.New("permission denied"), false},
		{&HostKeyError{Host: "timeout"}, false},
	}
	for _, tt := range tests {
		if got := transient(tt.err); got != tt.want {
			t.Errorf("transient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestBastionAddr(t *testing.T) {
	if got, want := (Bastion{Host: "fe80::1", Port: 2222}).Addr(), "[fe80::1]:2222"; got != want {
		t.Fatalf("Addr() = %q, want %q", got, want)
	}
}
