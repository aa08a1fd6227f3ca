// Package tuihost runs a tview.Application against a caller-supplied
// tcell.Screen, generalizing the per-session TUI orchestration the teacher
// repo's tui.App hard-wired to one fixed set of tabs into the narrow
// App/AppSession/View contract this library exposes to its own callers.
package tuihost

import (
	"context"
	"runtime"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	gossh "golang.org/x/crypto/ssh"
)

// frameInterval is the fixed cadence OnTick is driven at, in lieu of a
// native per-frame hook from the underlying widget toolkit.
const frameInterval = 100 * time.Millisecond

// SessionHandle identifies one connected session for the lifetime of its
// TUI. Defined here (rather than in package session) so App/AppSession
// implementations can depend on tuihost alone without importing the
// session manager.
type SessionHandle uint64

// ViewContext is handed to AppSession.OnStart and OnTick. It carries the
// ambient request-scoped state a view needs without forcing every
// implementation to thread a context.Context through by hand.
type ViewContext struct {
	context.Context
	Handle    SessionHandle
	PublicKey gossh.PublicKey
	RemoteAddr string
}

// App is the long-lived, process-wide entry point a library caller
// implements once per server. OnLoad runs a single time before the SSH
// listener opens; NewSession is called once per accepted session and must
// return an independent AppSession (no state may be shared across
// sessions except what the caller explicitly synchronizes).
type App interface {
	OnLoad() error
	NewSession() AppSession
}

// AppSession is the per-connection counterpart to App. OnStart builds the
// root view once pty and window size are known; OnTick runs every
// frameInterval from a background goroutine, for views that poll external
// state rather than push updates through ForceRefresh. OnTick does not
// itself trigger a redraw.
type AppSession interface {
	OnStart(ctx *ViewContext, forceRefresh chan<- struct{}) (tview.Primitive, error)
	OnTick(ctx *ViewContext) error
}

// EmbeddableSession gives AppSession implementations a no-op OnTick for
// free, the same "embed for defaults" convention tview itself uses for
// its Box/Primitive base types.
type EmbeddableSession struct{}

func (EmbeddableSession) OnTick(ctx *ViewContext) error { return nil }

// Host drives one AppSession's tview.Application against backend for the
// lifetime of one session.
type Host struct {
	app     *tview.Application
	backend tcell.Screen
	session AppSession

	forceRefresh chan struct{}
	relayout     <-chan struct{}
	exitSignal   <-chan struct{}
}

// NewHost constructs a Host. relayout is the consumer end of the Render
// Backend's relayout queue (fed on every resize); exitSignal is closed by
// the session manager when this session's resources are being torn down.
func NewHost(backend tcell.Screen, session AppSession, relayout <-chan struct{}, exitSignal <-chan struct{}) *Host {
	return &Host{
		app:          tview.NewApplication().SetScreen(backend),
		backend:      backend,
		session:      session,
		forceRefresh: make(chan struct{}, 1),
		relayout:     relayout,
		exitSignal:   exitSignal,
	}
}

// ForceRefresh returns the send side of the bounded force-refresh channel
// an AppSession's OnStart can hand out to background goroutines that need
// to wake the redraw loop outside of the normal tick cadence.
func (h *Host) ForceRefresh() chan<- struct{} { return h.forceRefresh }

// Run builds the root view, then drives the event loop until the session's
// tview.Application quits or exitSignal fires. It locks its goroutine to
// an OS thread for the duration, the idiomatic Go analogue of giving the
// widget toolkit's blocking event loop a dedicated OS thread distinct from
// the async SSH side.
func (h *Host) Run(ctx *ViewContext) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	root, err := h.session.OnStart(ctx, h.forceRefresh)
	if err != nil {
		return err
	}
	h.app.SetRoot(root, true)

	go h.refreshLoop(ctx)
	go h.tickLoop(ctx)

	err = h.app.Run()
	h.app.Stop()
	return err
}

// refreshLoop handles the two forced-redraw sources described for the TUI
// Event Loop Host: a resize arriving through relayout, and an
// AppSession-supplied ForceRefresh signal. Both are treated identically —
// a Sync() followed by another Sync(), the double-refresh the underlying
// toolkit needs to repaint cleanly after certain state changes, a quirk
// this library reproduces rather than papers over.
func (h *Host) refreshLoop(ctx *ViewContext) {
	for {
		select {
		case <-h.exitSignal:
			return
		case _, ok := <-h.relayout:
			if !ok {
				return
			}
			h.doubleSync()
		case _, ok := <-h.forceRefresh:
			if !ok {
				return
			}
			h.doubleSync()
		}
	}
}

// tickLoop drives AppSession.OnTick once per frame. tview has no public
// hook for "run this before every draw", so this approximates it with a
// fixed-rate ticker rather than forking the toolkit.
func (h *Host) tickLoop(ctx *ViewContext) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.exitSignal:
			return
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

func (h *Host) doubleSync() {
	h.app.QueueUpdate(func() {
		h.app.Sync()
	})
	h.app.QueueUpdate(func() {
		h.app.Sync()
	})
}

// Tick invokes the session's OnTick and, if it returns an error, stops the
// application. The error itself is discarded; OnTick errors end this one
// session only.
func (h *Host) Tick(ctx *ViewContext) {
	if err := h.session.OnTick(ctx); err != nil {
		h.app.Stop()
	}
}

// Stop requests the event loop terminate, used when exitSignal fires from
// outside the refresh loop's own select (e.g. a direct caller-initiated
// disconnect).
func (h *Host) Stop() {
	h.app.Stop()
}
