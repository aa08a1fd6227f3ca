// Package render implements the terminal rendering backend: a from-scratch
// gdamore/tcell/v2 Screen driven by raw bytes read from and written to a
// pty, with no dependency on tcell's own terminfo-screen implementation.
package render

// Output is one unit of bytes the Backend wants written to the remote
// terminal, or a signal that no more will follow.
type Output struct {
	Data  []byte
	Close bool
}

// Resize carries a new terminal size, as reported by an SSH window-change
// request and forwarded by the session layer.
type Resize struct {
	Cols int
	Rows int
}
