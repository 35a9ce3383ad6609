package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"nsefeed/internal/domain"
)

// SFTPConfig holds the connection parameters for the exchange endpoints.
type SFTPConfig struct {
	// Hosts is an ordered multiset of endpoint hosts. Every connect attempt
	// randomly permutes it and tries each host in turn.
	Hosts   []string
	Port    int
	User    string
	Pass    string
	KeyPath string

	// Timeout bounds connection establishment and each remote operation.
	// Defaults to 60 s.
	Timeout time.Duration
}

// SFTPTransport implements Transport over SFTP. A session is kept open
// between calls and reused while alive; a dead session is transparently
// re-established on the next use. The underlying session is not safe for
// concurrent use, so all calls are serialised by a mutex.
type SFTPTransport struct {
	cfg SFTPConfig
	log *slog.Logger

	// dial is swapped out in tests.
	dial func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

	mu          sync.Mutex
	conn        *ssh.Client
	client      *sftp.Client
	currentHost string
}

// NewSFTP creates an SFTP transport. No connection is made until the first
// call; connect failures surface there as transient errors.
func NewSFTP(cfg SFTPConfig, log *slog.Logger) *SFTPTransport {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &SFTPTransport{cfg: cfg, log: log, dial: ssh.Dial}
}

// CurrentHost returns the host the live session is connected to, or "" when
// disconnected.
func (t *SFTPTransport) CurrentHost() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentHost
}

// List returns the full remote path of every entry under dir.
func (t *SFTPTransport) List(ctx context.Context, dir string) ([]string, error) {
	var paths []string
	err := t.withSession(ctx, "list "+dir, func(c *sftp.Client) error {
		entries, err := c.ReadDir(dir)
		if err != nil {
			return err
		}
		paths = paths[:0]
		for _, e := range entries {
			paths = append(paths, path.Join(dir, e.Name()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	t.log.Debug("listed remote directory", "remote_path", dir, "entries", len(paths))
	return paths, nil
}

// Fetch returns the whole file at remotePath.
func (t *SFTPTransport) Fetch(ctx context.Context, remotePath string) ([]byte, error) {
	var data []byte
	err := t.withSession(ctx, "fetch "+remotePath, func(c *sftp.Client) error {
		f, err := c.Open(remotePath)
		if err != nil {
			return err
		}
		defer f.Close()
		data, err = io.ReadAll(f)
		return err
	})
	if err != nil {
		return nil, err
	}
	t.log.Debug("fetched remote file", "remote_path", remotePath, "bytes", len(data))
	return data, nil
}

// Close releases the session and underlying connection.
func (t *SFTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

// errOpTimeout marks an operation that exceeded the configured network
// timeout. The session is torn down; the next call reconnects.
var errOpTimeout = errors.New("operation timed out")

// withSession runs fn against a live session, establishing one if needed.
// Every run is bounded by the configured timeout and by ctx; either expiry
// tears the connection down, which unblocks a stalled read. A plain failure
// is assumed to be a dead session, re-established once, and fn is retried;
// a second failure is reported as transient. Timeouts and cancellation are
// never blindly retried.
func (t *SFTPTransport) withSession(ctx context.Context, op string, fn func(*sftp.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.connectLocked(); err != nil {
		return err
	}
	err := t.runLocked(ctx, fn)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if errors.Is(err, errOpTimeout) {
		return domain.Transient(op, err)
	}

	t.closeLocked()
	if err := t.connectLocked(); err != nil {
		return err
	}
	if err := t.runLocked(ctx, fn); err != nil {
		t.closeLocked()
		return domain.Transient(op, err)
	}
	return nil
}

// runLocked executes fn against the live client, tearing the session down
// when the timeout or ctx expires first.
func (t *SFTPTransport) runLocked(ctx context.Context, fn func(*sftp.Client) error) error {
	client := t.client
	return runBounded(ctx, t.cfg.Timeout, func() error { return fn(client) }, t.closeLocked)
}

// runBounded runs fn, invoking stop when timeout or ctx expires first. stop
// must unblock fn (here, closing the connection under a blocked read);
// runBounded waits for fn to return before reporting the expiry, so fn's
// captured state is never written after the caller moves on.
func runBounded(ctx context.Context, timeout time.Duration, fn func() error, stop func()) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		stop()
		<-done
		return fmt.Errorf("%w after %s", errOpTimeout, timeout)
	case <-ctx.Done():
		stop()
		<-done
		return ctx.Err()
	}
}

// connectLocked establishes a session if none is live. It permutes the host
// list and tries each host in order; all hosts failing is itself a transient
// condition.
func (t *SFTPTransport) connectLocked() error {
	if t.client != nil {
		return nil
	}

	auth, err := t.authMethods()
	if err != nil {
		return err
	}

	sshCfg := &ssh.ClientConfig{
		User:    t.cfg.User,
		Auth:    auth,
		Timeout: t.cfg.Timeout,
		// Exchange endpoints do not publish host keys out of band.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	var lastErr error
	for _, i := range rand.Perm(len(t.cfg.Hosts)) {
		host := t.cfg.Hosts[i]
		addr := net.JoinHostPort(host, strconv.Itoa(t.cfg.Port))

		conn, err := t.dial("tcp", addr, sshCfg)
		if err != nil {
			t.log.Warn("sftp connect failed", "host", host, "error", err)
			lastErr = err
			continue
		}

		client, err := sftp.NewClient(conn)
		if err != nil {
			conn.Close()
			t.log.Warn("sftp session failed", "host", host, "error", err)
			lastErr = err
			continue
		}

		t.conn = conn
		t.client = client
		t.currentHost = host
		t.log.Info("sftp connected", "host", host)
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("no hosts configured")
	}
	return domain.Transient("connect", fmt.Errorf("all hosts failed: %w", lastErr))
}

// authMethods builds the auth chain: private key preferred, password as
// fallback. Having neither is a configuration error.
func (t *SFTPTransport) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if t.cfg.KeyPath != "" {
		raw, err := os.ReadFile(t.cfg.KeyPath)
		if err != nil {
			return nil, domain.Fatal("auth", fmt.Errorf("reading key %s: %w", t.cfg.KeyPath, err))
		}
		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			return nil, domain.Fatal("auth", fmt.Errorf("parsing key %s: %w", t.cfg.KeyPath, err))
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if t.cfg.Pass != "" {
		methods = append(methods, ssh.Password(t.cfg.Pass))
	}

	if len(methods) == 0 {
		return nil, domain.Fatal("auth", errors.New("no auth method: need a key file or a password"))
	}
	return methods, nil
}

func (t *SFTPTransport) closeLocked() {
	if t.client != nil {
		t.client.Close()
		t.client = nil
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.currentHost = ""
}
