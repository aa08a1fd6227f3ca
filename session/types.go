// Package session implements the Session Manager: the single long-running
// task that mints a handle for each newly accepted SSH channel, wires up
// its pty pair and bounded queues, and runs its input/output pumps until
// the session's exit_signal fires.
package session

import (
	gossh "golang.org/x/crypto/ssh"

	"sshtui/tuihost"
)

// Handle uniquely and permanently identifies one session's lifetime.
// Handles are minted from a strictly increasing counter and are never
// reused, even across a reconnect from the same client.
type Handle = tuihost.SessionHandle

// UpdateKind distinguishes the three things an SshSessionUpdate can carry.
type UpdateKind int

const (
	UpdateData UpdateKind = iota
	UpdateResize
	UpdateClose
)

// Update is one item on a session's inbound queue: bytes typed by the
// client, a window resize, or a channel close.
type Update struct {
	Kind UpdateKind
	Data []byte
	Cols int
	Rows int
}

// ChannelSink is the subset of golang.org/x/crypto/ssh.Channel the output
// pump needs. Defined narrowly here, rather than depending on package sshd,
// so session has no import-time dependency on the SSH transport package —
// sshd depends on session, not the other way around.
type ChannelSink interface {
	Write(p []byte) (int, error)
	CloseWrite() error
	Close() error
}

// NewSessionEvent is what the SSH Connection Handler publishes to the
// Session Manager's single intake channel for every accepted "session"
// channel: enough to mint a pty, size it, and start a TUI for the
// connecting client.
type NewSessionEvent struct {
	RemoteAddr string
	PublicKey  gossh.PublicKey
	Term       string
	Cols, Rows int

	// Channel is the SSH side the output pump writes rendered frames to.
	Channel ChannelSink

	// Updates is the inbound queue the SSH Connection Handler feeds with
	// client data, resizes, and the terminal close.
	Updates <-chan Update
}
