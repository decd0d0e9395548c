package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"imagepipe/internal/config"
	"imagepipe/internal/logging"
	"imagepipe/internal/services"
	"imagepipe/internal/stage"
)

// ErrClosed is returned once the connection has been shut down.
var ErrClosed = errors.New("sftp connection closed")

const keepAliveRequest = "keepalive@openssh.com"

// Transport is an established connection that multiplexes independent SFTP
// sessions. Losing one session leaves the others running.
type Transport interface {
	// NewSession opens a dedicated SFTP subsystem channel.
	NewSession() (*sftp.Client, error)
	// Ping fails when the peer no longer answers.
	Ping(ctx context.Context) error
	Close() error
}

// DialFunc establishes the shared transport.
type DialFunc func(ctx context.Context) (Transport, error)

// Settings holds SSH connection parameters.
type Settings struct {
	Host        string
	Port        int
	Username    string
	Password    string
	KnownHosts  string
	DialTimeout time.Duration
	// KeepAlive is the interval between liveness pings on an established
	// transport. Zero disables them.
	KeepAlive time.Duration
}

// SettingsFromConfig extracts connection settings from application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	if cfg == nil {
		return Settings{}
	}
	return Settings{
		Host:        cfg.Transfer.Host,
		Port:        cfg.Transfer.Port,
		Username:    cfg.Transfer.Username,
		Password:    cfg.Transfer.Password,
		KnownHosts:  cfg.Transfer.KnownHosts,
		DialTimeout: cfg.DialTimeout(),
		KeepAlive:   cfg.KeepAlive(),
	}
}

func (s Settings) address() string {
	port := s.Port
	if port <= 0 {
		port = 22
	}
	return net.JoinHostPort(strings.TrimSpace(s.Host), strconv.Itoa(port))
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithDialer replaces the SSH dialer (primarily for tests).
func WithDialer(dial DialFunc) ConnOption {
	return func(c *Conn) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithConnLogger attaches a logger.
func WithConnLogger(logger *slog.Logger) ConnOption {
	return func(c *Conn) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Conn shares one lazily dialed transport between transfers. Each transfer
// runs on its own SFTP session over that transport.
type Conn struct {
	settings Settings
	dial     DialFunc
	logger   *slog.Logger

	mu        sync.Mutex
	transport Transport
	stop      chan struct{}
	closed    bool
	dials     int
}

// NewConn constructs a connection manager. No network activity happens until
// the first call to Session.
func NewConn(settings Settings, opts ...ConnOption) *Conn {
	c := &Conn{settings: settings, logger: logging.NewNop()}
	c.dial = c.dialSSH
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "sftp")
	return c
}

// Session opens a dedicated SFTP session on the shared transport, dialing the
// transport first if none is held. The caller closes the returned client.
func (c *Conn) Session(ctx context.Context) (*sftp.Client, error) {
	transport, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	client, err := transport.NewSession()
	if err != nil {
		c.Probe(ctx)
		return nil, err
	}
	return client, nil
}

func (c *Conn) acquire(ctx context.Context) (Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.transport != nil {
		return c.transport, nil
	}
	transport, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.transport = transport
	c.stop = make(chan struct{})
	c.dials++
	c.logger.Info("sftp transport established",
		logging.String("address", c.settings.address()),
		logging.Int("dial_count", c.dials),
		logging.String(logging.FieldEventType, "sftp_connected"),
	)
	if c.settings.KeepAlive > 0 {
		go c.keepAlive(transport, c.stop)
	}
	return transport, nil
}

// keepAlive pings the transport until it is released. A ping that fails or
// goes unanswered for a full interval drops the transport, which unblocks
// writes stuck on a half-open connection.
func (c *Conn) keepAlive(transport Transport, stop <-chan struct{}) {
	interval := c.settings.KeepAlive
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		err := transport.Ping(ctx)
		cancel()
		if err != nil {
			c.discard(transport, "sftp keepalive failed")
			return
		}
	}
}

// Dials reports how many transports have been established.
func (c *Conn) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

// Connected reports whether a transport is currently held.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil
}

// Probe checks whether the held transport still answers and drops it when it
// does not, so the next caller redials. A failed session on a live transport
// leaves the transport in place.
func (c *Conn) Probe(ctx context.Context) bool {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	if transport == nil {
		return false
	}
	timeout := c.settings.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := transport.Ping(pingCtx); err == nil {
		return true
	}
	c.discard(transport, "sftp transport lost; next transfer will redial")
	return false
}

func (c *Conn) discard(transport Transport, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport != transport {
		return
	}
	_ = c.releaseLocked()
	c.logger.Warn(msg,
		logging.String(logging.FieldEventType, "sftp_transport_lost"),
		logging.String(logging.FieldErrorHint, "check network connectivity to the SFTP host"),
		logging.String(logging.FieldImpact, "transfers running on this connection failed"),
	)
}

// Close tears down the transport. Subsequent Session calls fail with ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.releaseLocked()
}

func (c *Conn) releaseLocked() error {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	var err error
	if c.transport != nil {
		if closeErr := c.transport.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) && !errors.Is(closeErr, io.ErrClosedPipe) && !errors.Is(closeErr, io.EOF) {
			err = closeErr
		}
	}
	c.transport = nil
	return err
}

// HealthCheck reports whether the transfer stage is configured.
func (c *Conn) HealthCheck(context.Context) stage.Health {
	if strings.TrimSpace(c.settings.Host) == "" {
		return stage.Unhealthy(stage.Transfer, "sftp host not configured")
	}
	health := stage.Healthy(stage.Transfer)
	if !c.Connected() {
		health.Detail = "idle; dials on first transfer"
	}
	return health
}

func (c *Conn) hostKeyCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(c.settings.KnownHosts)
	if path == "" {
		logging.WarnWithContext(c.logger, "sftp host key verification disabled", "sftp_insecure_host_key",
			logging.String(logging.FieldErrorHint, "set transfer.known_hosts to verify the server key"),
			logging.String(logging.FieldImpact, "server identity is not verified"),
		)
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return callback, nil
}

func (c *Conn) dialSSH(ctx context.Context) (Transport, error) {
	if strings.TrimSpace(c.settings.Host) == "" {
		return nil, services.Wrap(services.ErrConfiguration, stage.Transfer, "dial", "sftp host not configured", nil)
	}
	hostKey, err := c.hostKeyCallback()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stage.Transfer, "dial", "host key setup", err)
	}
	sshConfig := &ssh.ClientConfig{
		User:            c.settings.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(c.settings.Password)},
		HostKeyCallback: hostKey,
		Timeout:         c.settings.DialTimeout,
	}

	addr := c.settings.address()
	dialer := net.Dialer{Timeout: c.settings.DialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, services.Wrap(services.ErrTransfer, stage.Transfer, "dial", "connect "+addr, err)
	}
	if c.settings.DialTimeout > 0 {
		_ = netConn.SetDeadline(time.Now().Add(c.settings.DialTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, sshConfig)
	if err != nil {
		_ = netConn.Close()
		return nil, services.Wrap(services.ErrTransfer, stage.Transfer, "dial", "ssh handshake", err)
	}
	_ = netConn.SetDeadline(time.Time{})
	return sshTransport{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// sshTransport opens one SFTP subsystem channel per session on a shared SSH
// connection.
type sshTransport struct {
	client *ssh.Client
}

func (t sshTransport) NewSession() (*sftp.Client, error) {
	return sftp.NewClient(t.client)
}

// Ping sends an OpenSSH keepalive request. Servers that do not know the
// request still reply, so any reply counts as alive.
func (t sshTransport) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, _, err := t.client.SendRequest(keepAliveRequest, true, nil)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t sshTransport) Close() error {
	return t.client.Close()
}
