package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Bastion is the SSH host the Heroku CLI runs on when it is not installed
// next to the server.
type Bastion struct {
	Host         string
	User         string
	Port         int
	IdentityFile string
}

func (b Bastion) Addr() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// withDefaults fills the login and port the way the ssh command does.
func (b Bastion) withDefaults() Bastion {
	if b.User == "" {
		b.User = localUser()
	}
	if b.Port == 0 {
		b.Port = 22
	}
	return b
}

func localUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "root"
}

// Conn is an established bastion connection that can run one command per session.
type Conn interface {
	Exec(ctx context.Context, line string) (ExecResult, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, b Bastion) (Conn, error)
}

// Remote runs commands on a single bastion. The connection is dialed on
// first use and discarded when the transport breaks, so the next call redials.
type Remote struct {
	bastion Bastion
	dialer  Dialer
	resolve func(Bastion) Bastion
	logger  *slog.Logger

	retries int
	backoff time.Duration

	connectTimeout time.Duration
	hostKeyMode    HostKeyMode
	knownHosts     string

	mu   sync.Mutex
	conn Conn
}

type Option func(*Remote)

// WithDialer replaces the x/crypto dialer. The connection options below
// only configure the default dialer.
func WithDialer(d Dialer) Option {
	return func(r *Remote) { r.dialer = d }
}

func WithRetries(retries int) Option {
	return func(r *Remote) {
		if retries >= 0 {
			r.retries = retries
		}
	}
}

func WithRetryBackoff(backoff time.Duration) Option {
	return func(r *Remote) {
		if backoff > 0 {
			r.backoff = backoff
		}
	}
}

func WithConnectTimeout(timeout time.Duration) Option {
	return func(r *Remote) { r.connectTimeout = timeout }
}

func WithHostKeyChecking(mode HostKeyMode) Option {
	return func(r *Remote) { r.hostKeyMode = mode }
}

func WithKnownHostsFile(path string) Option {
	return func(r *Remote) { r.knownHosts = path }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Remote) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRemote(b Bastion, opts ...Option) *Remote {
	r := &Remote{
		bastion: b,
		resolve: resolveFromUserConfig,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		retries: 2,
		backoff: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.dialer == nil {
		r.dialer = &SSHDialer{
			ConnectTimeout: r.connectTimeout,
			HostKeys:       HostKeyPolicy{Mode: r.hostKeyMode, KnownHostsFile: r.knownHosts},
		}
	}
	return r
}

func (r *Remote) Run(ctx context.Context, cmd Command) (ExecResult, error) {
	if len(cmd.Args) == 0 {
		return ExecResult{}, errors.New("empty command")
	}
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	conn, err := r.connection(ctx)
	if err != nil {
		return ExecResult{}, err
	}
	res, err := conn.Exec(ctx, CommandLine(cmd))
	if err != nil {
		// A command that outlives its deadline leaves the connection healthy.
		if ctx.Err() == nil && transient(err) {
			r.discard(conn)
		}
		return ExecResult{}, fmt.Errorf("%s on bastion %s: %w", cmd, r.bastion.Host, err)
	}
	return res, nil
}

func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

func (r *Remote) connection(ctx context.Context) (Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn, nil
	}
	if r.bastion.Host == "" {
		return nil, errors.New("bastion host is required")
	}

	b := r.bastion
	if r.resolve != nil {
		b = r.resolve(b)
	}
	b = b.withDefaults()

	var err error
	for attempt := 0; ; attempt++ {
		var conn Conn
		conn, err = r.dialer.Dial(ctx, b)
		if err == nil {
			r.conn = conn
			return conn, nil
		}
		if !transient(err) || attempt >= r.retries {
			break
		}
		wait := r.backoff << attempt
		r.logger.WarnContext(ctx, "bastion dial failed, retrying", "host", b.Host, "attempt", attempt+1, "wait", wait, "error", err)
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("connect to bastion %s: %w", b.Addr(), err)
}

func (r *Remote) discard(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != conn {
		return
	}
	_ = r.conn.Close()
	r.conn = nil
	r.logger.Info("bastion connection dropped", "host", r.bastion.Host)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// transient reports whether err broke the transport, meaning a redial may help.
func transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var hostKeyErr *HostKeyError
	if errors.As(err, &hostKeyErr) {
		return false
	}
	for _, target := range []error{
		context.DeadlineExceeded, io.EOF, io.ErrUnexpectedEOF, net.ErrClosed,
		syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.EPIPE,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "temporarily unavailable") ||
		strings.HasSuffix(msg, "eof")
}
