// Package sshd is the SSH Connection Handler and Server Front: it accepts
// TCP connections, performs the SSH handshake, enforces the configured
// authentication policy, and turns every accepted "session" channel into
// a session.NewSessionEvent for the Session Manager.
package sshd

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"sshtui/logging"
	"sshtui/session"
)

// Config holds the Server Front's listen and policy settings.
type Config struct {
	BindAddr string
	Port     int

	HostKeys []gossh.Signer
	Auth     AuthPolicy

	// PermittedAuthMethods controls which gossh.ServerConfig callbacks are
	// wired up. "publickey" enables AuthPolicy's public-key callback;
	// "none" (only honored when Auth.AllowAnonymous is also true) enables
	// unauthenticated connections.
	PermittedAuthMethods []string

	// ConnectionTimeout bounds how long an accepted TCP connection may sit
	// idle (no SSH traffic) before it is closed. Zero disables the timeout.
	ConnectionTimeout time.Duration

	// AuthRejectionDelay, if non-zero, is slept before returning a failed
	// auth outcome, raising the cost of an online key-guessing attempt.
	AuthRejectionDelay time.Duration

	// AccessLogPath, if non-empty, appends one line per accepted connection
	// and per authentication failure, independent of whether debug logging
	// is enabled or filtered. Meant to stay on in production as a thin
	// audit trail when the verbose debug log is not.
	AccessLogPath string
}

// Server is the Server Front: it owns the listener for as long as Run is
// active and submits accepted channels to a Session Manager that is run
// separately.
type Server struct {
	cfg       Config
	manager   *session.Manager
	accessLog *logging.FileLogger

	mu       sync.Mutex
	listener net.Listener
	running  bool
}

// NewServer constructs a Server that will submit every accepted channel
// to manager.
func NewServer(cfg Config, manager *session.Manager) (*Server, error) {
	if len(cfg.HostKeys) == 0 {
		return nil, fmt.Errorf("sshd: at least one host key is required")
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "0.0.0.0"
	}

	s := &Server{cfg: cfg, manager: manager}

	if cfg.AccessLogPath != "" {
		accessLog, err := logging.NewFileLogger(cfg.AccessLogPath)
		if err != nil {
			return nil, fmt.Errorf("sshd: access log: %w", err)
		}
		s.accessLog = accessLog
	}

	return s, nil
}

func (s *Server) sshConfig() (*gossh.ServerConfig, error) {
	permitted := make(map[string]bool, len(s.cfg.PermittedAuthMethods))
	for _, m := range s.cfg.PermittedAuthMethods {
		permitted[m] = true
	}

	sc := &gossh.ServerConfig{
		AuthLogCallback: func(conn gossh.ConnMetadata, method string, err error) {
			if err != nil {
				logging.DebugLog("sshd", "auth failed for %s (%s): %v", conn.RemoteAddr(), method, err)
				if s.accessLog != nil {
					s.accessLog.Log("AUTH FAILED %s method=%s: %v", conn.RemoteAddr(), method, err)
				}
				if s.cfg.AuthRejectionDelay > 0 {
					time.Sleep(s.cfg.AuthRejectionDelay)
				}
			}
		},
	}

	if permitted["none"] && s.cfg.Auth.AllowAnonymous {
		sc.NoClientAuth = true
	}

	if permitted["publickey"] {
		cb := s.cfg.Auth.publicKeyCallback()
		if cb == nil {
			return nil, fmt.Errorf("sshd: public key auth permitted but policy could not build a callback")
		}
		sc.PublicKeyCallback = cb
	}

	if !sc.NoClientAuth && sc.PublicKeyCallback == nil {
		return nil, fmt.Errorf("sshd: no usable authentication method configured")
	}

	for _, key := range s.cfg.HostKeys {
		sc.AddHostKey(key)
	}

	return sc, nil
}

// Run starts the listener and accepts connections until ctx is cancelled
// or Stop is called. It blocks for the lifetime of the server.
func (s *Server) Run(ctx context.Context) error {
	sc, err := s.sshConfig()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddr, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sshd: listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	logging.DebugLog("sshd", "listening on %s", addr)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
				logging.DebugError("sshd", "accept", err)
				continue
			}
		}

		go s.handleConnection(conn, sc)
	}
}

func (s *Server) handleConnection(conn net.Conn, sc *gossh.ServerConfig) {
	if s.cfg.ConnectionTimeout > 0 {
		conn.SetDeadline(time.Now().Add(s.cfg.ConnectionTimeout))
	}

	sshConn, chans, reqs, err := gossh.NewServerConn(conn, sc)
	if err != nil {
		logging.DebugError("sshd", "handshake from "+conn.RemoteAddr().String(), err)
		conn.Close()
		return
	}
	defer sshConn.Close()

	logging.DebugLog("sshd", "connection from %s", sshConn.RemoteAddr())
	if s.accessLog != nil {
		s.accessLog.Log("CONNECT %s user=%s", sshConn.RemoteAddr(), sshConn.User())
	}

	go gossh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(gossh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			logging.DebugError("sshd", "accept channel", err)
			continue
		}

		handler := newChannelHandler(sshConn, channel, s.manager)
		go handler.run(requests)
	}
}

// Stop gracefully shuts down the listener. In-flight sessions are left to
// the Session Manager's own Disconnect/context-cancellation path.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	if s.accessLog != nil {
		s.accessLog.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// IsRunning reports whether the listener is currently accepting
// connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
