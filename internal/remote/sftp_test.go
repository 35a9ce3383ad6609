package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"nsefeed/internal/domain"
)

func testTransport(cfg SFTPConfig) *SFTPTransport {
	return NewSFTP(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestConnectTriesEveryHost(t *testing.T) {
	cfg := SFTPConfig{
		Hosts: []string{"h1", "h2", "h3"},
		Port:  22,
		User:  "u",
		Pass:  "p",
	}
	tr := testTransport(cfg)

	var tried []string
	tr.dial = func(_, addr string, _ *ssh.ClientConfig) (*ssh.Client, error) {
		tried = append(tried, addr)
		return nil, errors.New("unreachable")
	}

	_, err := tr.List(context.Background(), "/CM30/DATA/July082025")
	if err == nil {
		t.Fatal("List with all hosts down should fail")
	}
	if domain.KindOf(err) != domain.ErrTransient {
		t.Errorf("all-hosts-failed should be transient, got %v", domain.KindOf(err))
	}

	sort.Strings(tried)
	want := []string{"h1:22", "h2:22", "h3:22"}
	if len(tried) != 3 || tried[0] != want[0] || tried[1] != want[1] || tried[2] != want[2] {
		t.Errorf("dialed %v, want every host exactly once", tried)
	}
	if tr.CurrentHost() != "" {
		t.Errorf("CurrentHost = %q after failed connect, want empty", tr.CurrentHost())
	}
}

func TestAuthPrefersKeyRejectsNeither(t *testing.T) {
	noAuth := testTransport(SFTPConfig{Hosts: []string{"h"}, Port: 22, User: "u"})
	if _, err := noAuth.authMethods(); err == nil {
		t.Error("missing both auth methods should be a fatal error")
	} else if !domain.IsFatal(err) {
		t.Errorf("missing auth should be fatal, got %v", err)
	}

	passOnly := testTransport(SFTPConfig{Hosts: []string{"h"}, Port: 22, User: "u", Pass: "p"})
	methods, err := passOnly.authMethods()
	if err != nil || len(methods) != 1 {
		t.Errorf("password-only auth: methods=%d err=%v", len(methods), err)
	}

	badKey := testTransport(SFTPConfig{Hosts: []string{"h"}, Port: 22, User: "u", KeyPath: "/nonexistent/key"})
	if _, err := badKey.authMethods(); err == nil || !domain.IsFatal(err) {
		t.Errorf("unreadable key file should be fatal, got %v", err)
	}
}

func TestContextCancelled(t *testing.T) {
	tr := testTransport(SFTPConfig{Hosts: []string{"h"}, Port: 22, User: "u", Pass: "p"})
	tr.dial = func(_, _ string, _ *ssh.ClientConfig) (*ssh.Client, error) {
		t.Fatal("dial should not be reached with a cancelled context")
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Fetch(ctx, "/x"); err == nil {
		t.Error("Fetch with cancelled context should fail")
	}
}

func TestRunBoundedTimesOut(t *testing.T) {
	// A peer that ACKs but never sends: fn blocks until stop tears the
	// connection down.
	unblock := make(chan struct{})
	stopped := false

	started := time.Now()
	err := runBounded(context.Background(), 20*time.Millisecond, func() error {
		<-unblock
		return errors.New("connection closed")
	}, func() {
		stopped = true
		close(unblock)
	})

	if !errors.Is(err, errOpTimeout) {
		t.Fatalf("err = %v, want errOpTimeout", err)
	}
	if !stopped {
		t.Error("stop was not invoked on timeout")
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Errorf("timed-out op returned after %v, want promptly", elapsed)
	}
}

func TestRunBoundedCancelTearsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	unblock := make(chan struct{})

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := runBounded(ctx, time.Minute, func() error {
		<-unblock
		return errors.New("connection closed")
	}, func() { close(unblock) })

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRunBoundedCompletes(t *testing.T) {
	err := runBounded(context.Background(), time.Minute,
		func() error { return nil },
		func() { t.Error("stop invoked for a completed op") })
	if err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}

func TestDefaultTimeout(t *testing.T) {
	tr := testTransport(SFTPConfig{Hosts: []string{"h"}, User: "u", Pass: "p"})
	if tr.cfg.Timeout != 60*time.Second {
		t.Errorf("default timeout = %v, want 60s", tr.cfg.Timeout)
	}
}
