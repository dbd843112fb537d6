// Package ssh executes commands and transfers files on remote hosts for
// the std.ssh resources. Connections are cached per host and command
// execution is bounded by the project's ssh timeout.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Config describes one remote host.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string

	// KeyPath points at a private key file; empty falls back to
	// password authentication.
	KeyPath string

	// Timeout bounds each remote command; zero means no limit.
	Timeout time.Duration
}

// Address returns host:port.
func (c *Config) Address() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, fmt.Sprint(port))
}

// Validate checks the minimum fields are present.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("ssh config: host is required")
	}
	if c.User == "" {
		return fmt.Errorf("ssh config: user is required")
	}
	return nil
}

// TransportError classifies an SSH failure.
type TransportError struct {
	Op          string
	Err         error
	IsTimeout   bool
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExecResult is the outcome of a remote command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Client is a cached SSH connection to one host.
type Client struct {
	config *Config

	mu     sync.Mutex
	client *ssh.Client
}

// NewClient creates a client; the connection is established lazily.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Client{config: config}, nil
}

func (c *Client) connect(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	clientConfig, err := c.buildClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		conn.Close()
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	c.client = ssh.NewClient(sshConn, chans, reqs)
	return c.client, nil
}

func (c *Client) buildClientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if c.config.KeyPath != "" {
		key, err := os.ReadFile(c.config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if c.config.Password != "" {
		auth = append(auth, ssh.Password(c.config.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no authentication method configured")
	}

	return &ssh.ClientConfig{
		User: c.config.User,
		Auth: auth,
		// Host key checking is delegated to the user's known_hosts
		// handling in a future release.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}, nil
}

// Execute runs a command on the remote host. The configured per-host
// timeout applies on top of ctx; expiry fails the command.
func (c *Client) Execute(ctx context.Context, cmd string) (*ExecResult, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, &TransportError{Op: "execute", Err: fmt.Errorf("failed to create session: %w", err)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	started := time.Now()
	log.Debug().Str("host", c.config.Host).Str("command", cmd).Msg("executing remote command")

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		runErr = &TransportError{Op: "execute", Err: ctx.Err(), IsTimeout: true}
	case runErr = <-done:
	}

	result := &ExecResult{
		Stdout: strings.TrimRight(stdout.String(), "\n"),
		Stderr: strings.TrimRight(stderr.String(), "\n"),
	}
	if exitErr, ok := runErr.(*ssh.ExitError); ok {
		result.ExitCode = exitErr.ExitStatus()
		runErr = nil
	}

	log.Debug().
		Str("host", c.config.Host).
		Int("exit_code", result.ExitCode).
		Dur("duration", time.Since(started)).
		Msg("remote command finished")
	return result, runErr
}

// Close tears the cached connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// clientCache shares connections between tasks targeting the same host.
var clientCache sync.Map

// CachedClient returns the shared client for a host config.
func CachedClient(config *Config) (*Client, error) {
	key := config.User + "@" + config.Address()
	if cached, ok := clientCache.Load(key); ok {
		return cached.(*Client), nil
	}
	client, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	actual, _ := clientCache.LoadOrStore(key, client)
	return actual.(*Client), nil
}

// normalizeRemotePath makes remote paths slash-separated.
func normalizeRemotePath(path string) string {
	return filepath.ToSlash(path)
}
