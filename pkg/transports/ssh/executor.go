package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/cloudjanitor/cloudjanitor/pkg/shell"
)

// killGrace is how long a cancelled command gets between SIGTERM and SIGKILL.
const killGrace = 100 * time.Millisecond

// drainTimeout bounds the wait for a killed session to release its output
// buffers.
const drainTimeout = time.Second

// Executor runs shell tasks on a remote host. The connection is opened on
// first use and shared by every command until Close.
type Executor struct {
	config *Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
	proxy  *ssh.Client
	mirror *mirror
}

var _ shell.Executor = (*Executor)(nil)

// NewExecutor validates cfg and returns an executor that has not connected yet.
func NewExecutor(cfg *Config, logger zerolog.Logger) (*Executor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ssh config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	return &Executor{
		config: cfg,
		logger: logger.With().Str("component", "ssh").Str("host", cfg.Address()).Logger(),
	}, nil
}

// Run executes req on the remote host through /bin/sh. A non-zero exit is
// reported in the result, never as an error.
func (e *Executor) Run(ctx context.Context, req shell.Request) (*shell.Result, error) {
	if len(req.Args) == 0 {
		return nil, fmt.Errorf("command is required")
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	client, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.syncMirror(client); err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "session", Err: err, IsTemporary: true}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	line := CommandLine(req)
	e.logger.Debug().Str("command", line).Msg("executing remote command")

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(line)
	}()

	var runErr error
	finished := true
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
		finished = e.kill(session, done)
	case runErr = <-done:
	}

	result := &shell.Result{Duration: time.Since(start)}
	// The buffers belong to the session until Run has returned.
	if finished {
		result.Stdout = stdout.String()
		result.Stderr = stderr.String()
	}
	e.logger.Debug().
		Str("command", line).
		Dur("duration", result.Duration).
		Err(runErr).
		Msg("remote command completed")

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}
	if runErr != nil {
		var exitErr *ssh.ExitError
		if !errors.As(runErr, &exitErr) {
			e.reset()
			return nil, &TransportError{Op: "execute", Err: runErr, IsTemporary: true}
		}
		result.ExitCode = exitErr.ExitStatus()
	}
	return result, nil
}

// kill stops a cancelled command and reports whether its Run returned
// within drainTimeout.
func (e *Executor) kill(session *ssh.Session, done <-chan error) bool {
	_ = session.Signal(ssh.SIGTERM)
	select {
	case <-done:
		return true
	case <-time.After(killGrace):
	}
	_ = session.Signal(ssh.SIGKILL)
	_ = session.Close()
	select {
	case <-done:
		return true
	case <-time.After(drainTimeout):
		e.logger.Warn().Msg("remote command did not release its output after kill")
		return false
	}
}

// LookPath resolves file with "command -v" on the remote host.
func (e *Executor) LookPath(file string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout())
	defer cancel()

	res, err := e.Run(ctx, shell.Request{Args: []string{"sh", "-c", "command -v " + Quote(file)}})
	if err != nil {
		return "", err
	}
	path := strings.TrimSpace(res.Stdout)
	if res.ExitCode != 0 || path == "" {
		return "", fmt.Errorf("%s: executable file not found on %s", file, e.config.Host)
	}
	return path, nil
}

// Close drops the connection. The executor reconnects on the next Run.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *Executor) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.closeLocked()
}

func (e *Executor) closeLocked() error {
	var errs []error
	if e.mirror != nil {
		errs = append(errs, e.mirror.Close())
		e.mirror = nil
	}
	if e.client != nil {
		errs = append(errs, e.client.Close())
		e.client = nil
	}
	if e.proxy != nil {
		errs = append(errs, e.proxy.Close())
		e.proxy = nil
	}
	return errors.Join(errs...)
}

func (e *Executor) timeout() time.Duration {
	if e.config.ConnectionTimeout > 0 {
		return e.config.ConnectionTimeout
	}
	return 30 * time.Second
}

func (e *Executor) connect(ctx context.Context) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}

	clientConfig, err := e.config.BuildSSHClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	type dialed struct {
		client *ssh.Client
		proxy  *ssh.Client
		err    error
	}
	ch := make(chan dialed, 1)
	go func() {
		if e.config.ProxyHost == "" {
			client, err := ssh.Dial("tcp", e.config.Address(), clientConfig)
			ch <- dialed{client: client, err: err}
			return
		}
		client, proxy, err := e.dialViaProxy(clientConfig)
		ch <- dialed{client: client, proxy: proxy, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			// The dial finishes on its own; release what it opened.
			if d := <-ch; d.err == nil {
				_ = d.client.Close()
				if d.proxy != nil {
					_ = d.proxy.Close()
				}
			}
		}()
		return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case d := <-ch:
		if d.err != nil {
			var te *TransportError
			if errors.As(d.err, &te) {
				return nil, te
			}
			return nil, &TransportError{Op: "connect", Err: d.err, IsTemporary: true}
		}
		e.client, e.proxy = d.client, d.proxy
		e.logger.Debug().Str("proxy", e.config.ProxyAddress()).Msg("connected")
		return e.client, nil
	}
}

func (e *Executor) dialViaProxy(targetConfig *ssh.ClientConfig) (*ssh.Client, *ssh.Client, error) {
	proxyClient, err := ssh.Dial("tcp", e.config.ProxyAddress(), targetConfig)
	if err != nil {
		return nil, nil, &TransportError{Op: "connect-proxy", Err: err, IsTemporary: true}
	}

	target := e.config.Address()
	conn, err := proxyClient.Dial("tcp", target)
	if err != nil {
		_ = proxyClient.Close()
		return nil, nil, &TransportError{Op: "connect-via-proxy", Err: err, IsTemporary: true}
	}

	ncc, chans, reqs, err := ssh.NewClientConn(conn, target, targetConfig)
	if err != nil {
		_ = conn.Close()
		_ = proxyClient.Close()
		return nil, nil, &TransportError{Op: "connect-via-proxy", Err: err, IsAuthError: true}
	}
	return ssh.NewClient(ncc, chans, reqs), proxyClient, nil
}

func (e *Executor) syncMirror(client *ssh.Client) error {
	if e.config.MirrorDir == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mirror == nil {
		m, err := newMirror(client, e.config.MirrorDir, e.config.MirrorExclude, e.logger)
		if err != nil {
			return err
		}
		e.mirror = m
	}
	return e.mirror.Sync()
}

// CommandLine renders req as a single /bin/sh command line. Every argument,
// the working directory and the environment values are single-quoted.
func CommandLine(req shell.Request) string {
	var b strings.Builder
	if req.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(Quote(req.Dir))
		b.WriteString(" && ")
	}
	if len(req.Env) > 0 {
		keys := make([]string, 0, len(req.Env))
		for k := range req.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("env")
		for _, k := range keys {
			b.WriteByte(' ')
			b.WriteString(Quote(k + "=" + req.Env[k]))
		}
		b.WriteByte(' ')
	}
	for i, arg := range req.Args {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(Quote(arg))
	}
	return b.String()
}

// Quote single-quotes s for /bin/sh.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:,+@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "execute", "upload")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return "ssh " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
