// Package sshtui lets a caller implement a terminal UI once and serve it
// to many simultaneous SSH clients, each in its own independent session
// with its own pty and its own tview.Application instance.
package sshtui

import (
	"context"
	"fmt"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"sshtui/adminhttp"
	"sshtui/config"
	"sshtui/session"
	"sshtui/sshd"
	"sshtui/telemetry"
	"sshtui/tuihost"
)

// App and AppSession are the two interfaces a caller implements; both are
// defined in package tuihost, which owns the TUI Event Loop Host that
// drives them. Re-exported here so callers only need to import this one
// package.
type (
	App        = tuihost.App
	AppSession = tuihost.AppSession
	ViewContext = tuihost.ViewContext
	Handle      = session.Handle
)

// ErrKind classifies the five ways a server-level operation can fail,
// matching the error taxonomy this library commits to across packages.
type ErrKind int

const (
	ErrKindAuthRejected ErrKind = iota
	ErrKindTransport
	ErrKindResourceExhausted
	ErrKindBackendFailure
	ErrKindApplication
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindAuthRejected:
		return "auth_rejected"
	case ErrKindTransport:
		return "transport"
	case ErrKindResourceExhausted:
		return "resource_exhausted"
	case ErrKindBackendFailure:
		return "backend_failure"
	case ErrKindApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Error wraps a lower-level failure with the ErrKind a caller needs to
// decide whether it's worth retrying.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sshtui: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// AppServer wires the Server Front, Session Manager, and optional
// telemetry/admin sinks into one runnable unit.
type AppServer struct {
	cfg     *config.Config
	app     App
	manager *session.Manager
	sshd    *sshd.Server
	admin   *adminhttp.Server
	bus     *telemetry.Bus
}

// NewAppServer constructs an AppServer from cfg and app. Host keys must
// be supplied separately via hostKeys (typically loaded or generated with
// sshd.LoadOrGenerateHostKey) since key material management is a
// deployment concern the caller controls, not something this library
// hides inside a config file path.
func NewAppServer(cfg *config.Config, app App, hostKeys []gossh.Signer) (*AppServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Kind: ErrKindApplication, Err: err}
	}

	manager := session.NewManager(app, 0)

	sc := sshd.Config{
		BindAddr: cfg.BindAddr,
		Port:     cfg.Port,
		HostKeys: hostKeys,
		Auth: sshd.AuthPolicy{
			AuthorizedKeysPath: cfg.AuthorizedKeysPath,
			AllowAnonymous:     cfg.AllowAnonymous,
		},
		PermittedAuthMethods: cfg.PermittedAuthMethods,
		ConnectionTimeout:    cfg.ConnectionTimeout,
		AuthRejectionDelay:   cfg.AuthRejectionDelay,
		AccessLogPath:        cfg.AccessLogPath,
	}

	srv, err := sshd.NewServer(sc, manager)
	if err != nil {
		return nil, &Error{Kind: ErrKindTransport, Err: err}
	}

	as := &AppServer{cfg: cfg, app: app, manager: manager, sshd: srv}

	sinks, err := buildSinks(cfg.Telemetry)
	if err != nil {
		return nil, &Error{Kind: ErrKindApplication, Err: err}
	}
	if len(sinks) > 0 {
		as.bus = telemetry.NewBus(5*time.Second, sinks...)
		manager.SetOnConnect(func(h session.Handle, remoteAddr string) {
			as.bus.Publish(telemetry.Event{Handle: uint64(h), RemoteAddr: remoteAddr, Kind: telemetry.EventConnect, Timestamp: timeNow()})
		})
		manager.SetOnDisconnect(func(h session.Handle, remoteAddr string) {
			as.bus.Publish(telemetry.Event{Handle: uint64(h), RemoteAddr: remoteAddr, Kind: telemetry.EventDisconnect, Timestamp: timeNow()})
		})
	}

	if cfg.Admin.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port)
		as.admin = adminhttp.NewServer(addr, sessionListerAdapter{manager})
	}

	return as, nil
}

func timeNow() time.Time { return time.Now() }

func buildSinks(tc config.TelemetryConfig) ([]telemetry.Sink, error) {
	var sinks []telemetry.Sink

	if tc.MQTT.Enabled {
		sink, err := telemetry.NewMQTTSink(tc.MQTT)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if tc.Kafka.Enabled {
		sink, err := telemetry.NewKafkaSink(tc.Kafka)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if tc.Valkey.Enabled {
		sink, err := telemetry.NewValkeySink(tc.Valkey)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	return sinks, nil
}

// sessionListerAdapter bridges session.Manager's richer Info type (which
// uses the session package's own Handle type) to adminhttp's narrower,
// dependency-free SessionInfo.
type sessionListerAdapter struct {
	manager *session.Manager
}

func (a sessionListerAdapter) SessionCount() int { return a.manager.SessionCount() }

func (a sessionListerAdapter) List() []adminhttp.SessionInfo {
	infos := a.manager.List()
	out := make([]adminhttp.SessionInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, adminhttp.SessionInfo{
			Handle:      uint64(info.Handle),
			RemoteAddr:  info.RemoteAddr,
			ConnectedAt: info.ConnectedAt,
		})
	}
	return out
}

// Run starts the Session Manager, the SSH listener, and (if configured)
// the admin HTTP endpoint, blocking until ctx is cancelled.
func (s *AppServer) Run(ctx context.Context) error {
	if err := s.app.OnLoad(); err != nil {
		return &Error{Kind: ErrKindApplication, Err: err}
	}

	go s.manager.Run(ctx)

	if s.admin != nil {
		if err := s.admin.Start(); err != nil {
			return &Error{Kind: ErrKindTransport, Err: err}
		}
		defer s.admin.Stop(context.Background())
	}

	if err := s.sshd.Run(ctx); err != nil {
		return &Error{Kind: ErrKindTransport, Err: err}
	}
	return nil
}

// Stop gracefully shuts the SSH listener down. Use context cancellation
// on the context passed to Run to tear the whole server (and every live
// session) down.
func (s *AppServer) Stop() error {
	return s.sshd.Stop()
}

// SessionCount reports how many sessions are currently connected.
func (s *AppServer) SessionCount() int { return s.manager.SessionCount() }

// Disconnect forcibly ends one session by handle.
func (s *AppServer) Disconnect(h Handle) bool { return s.manager.Disconnect(h) }

// Sessions lists the handles of every currently connected session.
func (s *AppServer) Sessions() []Handle { return s.manager.Sessions() }
