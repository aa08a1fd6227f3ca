package sshd

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rivo/tview"
	gossh "golang.org/x/crypto/ssh"

	"sshtui/session"
	"sshtui/tuihost"
)

type echoSession struct {
	tuihost.EmbeddableSession
	started chan struct{}
}

func (e *echoSession) OnStart(ctx *tuihost.ViewContext, forceRefresh chan<- struct{}) (tview.Primitive, error) {
	close(e.started)
	return tview.NewBox(), nil
}

type echoApp struct{}

func (echoApp) OnLoad() error { return nil }
func (echoApp) NewSession() tuihost.AppSession {
	return &echoSession{started: make(chan struct{})}
}

func TestNewServerRequiresHostKey(t *testing.T) {
	mgr := session.NewManager(echoApp{}, 0)
	if _, err := NewServer(Config{BindAddr: "127.0.0.1", Port: 0}, mgr); err == nil {
		t.Fatal("expected an error when no host keys are configured")
	}
}

func TestSSHConfigRejectsUnusableAuth(t *testing.T) {
	mgr := session.NewManager(echoApp{}, 0)

	_, priv, err := ed25519Key(t)
	if err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(Config{
		BindAddr:             "127.0.0.1",
		Port:                 0,
		HostKeys:             []gossh.Signer{priv},
		PermittedAuthMethods: nil,
	}, mgr)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	if _, err := srv.sshConfig(); err == nil {
		t.Fatal("expected an error when no auth method is permitted")
	}
}

func TestSSHConfigAllowsAnonymousWhenPermitted(t *testing.T) {
	mgr := session.NewManager(echoApp{}, 0)
	_, priv, err := ed25519Key(t)
	if err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(Config{
		BindAddr:             "127.0.0.1",
		Port:                 0,
		HostKeys:             []gossh.Signer{priv},
		Auth:                 AuthPolicy{AllowAnonymous: true},
		PermittedAuthMethods: []string{"none"},
	}, mgr)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	sc, err := srv.sshConfig()
	if err != nil {
		t.Fatalf("sshConfig failed: %v", err)
	}
	if !sc.NoClientAuth {
		t.Error("expected NoClientAuth to be enabled")
	}
}

func TestServerRunAndStop(t *testing.T) {
	mgr := session.NewManager(echoApp{}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	_, priv, err := ed25519Key(t)
	if err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(Config{
		BindAddr:             "127.0.0.1",
		Port:                 0,
		HostKeys:             []gossh.Signer{priv},
		PermittedAuthMethods: []string{"publickey"},
	}, mgr)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	runErr := make(chan error, 1)
	runCtx, runCancel := context.WithCancel(context.Background())
	go func() { runErr <- srv.Run(runCtx) }()

	// Give the listener a moment to come up, then confirm Stop terminates
	// Run cleanly.
	time.Sleep(50 * time.Millisecond)
	if !srv.IsRunning() {
		t.Fatal("expected server to report running")
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	runCancel()

	select {
	case <-runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestServerAccessLogCreatedFromPath(t *testing.T) {
	mgr := session.NewManager(echoApp{}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	_, priv, err := ed25519Key(t)
	if err != nil {
		t.Fatal(err)
	}

	logPath := filepath.Join(t.TempDir(), "access.log")
	srv, err := NewServer(Config{
		BindAddr:             "127.0.0.1",
		Port:                 0,
		HostKeys:             []gossh.Signer{priv},
		Auth:                 AuthPolicy{AllowAnonymous: true},
		PermittedAuthMethods: []string{"none"},
		AccessLogPath:        logPath,
	}, mgr)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if srv.accessLog == nil {
		t.Fatal("expected an access logger to be built from AccessLogPath")
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("expected access log file to exist: %v", err)
	}
}

func ed25519Key(t *testing.T) (gossh.PublicKey, gossh.Signer, error) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	signer, err := gossh.NewSignerFromKey(priv)
	if err != nil {
		return nil, nil, err
	}
	return signer.PublicKey(), signer, nil
}
