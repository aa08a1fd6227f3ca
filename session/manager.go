package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sshtui/logging"
	"sshtui/ptybridge"
	"sshtui/render"
	"sshtui/tuihost"
)

const (
	outputQueueCapacity   = 1 << 17
	resizeQueueCapacity   = 100
	relayoutQueueCapacity = 100
	shutdownJoinTimeout   = 5 * time.Second
)

// entry tracks the live resources for one session, enough for Manager to
// report on and forcibly disconnect it later.
type entry struct {
	handle      Handle
	remoteAddr  string
	connectedAt time.Time
	cancel      func()
}

// Info is the externally visible snapshot of one live session, used by
// callers like an admin HTTP endpoint that want to list sessions without
// reaching into Manager's internals.
type Info struct {
	Handle      Handle
	RemoteAddr  string
	ConnectedAt time.Time
}

// Manager is the Session Manager: one goroutine (Run) that owns the intake
// channel of NewSessionEvents, and one set of pumps + a dedicated Host per
// accepted session.
type Manager struct {
	app tuihost.App

	newSessions chan NewSessionEvent
	nextHandle  atomic.Uint64

	mu       sync.RWMutex
	sessions map[Handle]*entry

	onConnect    func(handle Handle, remoteAddr string)
	onDisconnect func(handle Handle, remoteAddr string)
}

// NewManager constructs a Manager for the given App. intakeCapacity bounds
// how many accepted-but-not-yet-spawned sessions can queue up; a
// reasonable default is used when 0 is passed.
func NewManager(app tuihost.App, intakeCapacity int) *Manager {
	if intakeCapacity <= 0 {
		intakeCapacity = 64
	}
	return &Manager{
		app:         app,
		newSessions: make(chan NewSessionEvent, intakeCapacity),
		sessions:    make(map[Handle]*entry),
	}
}

// Submit publishes a new accepted SSH channel to the manager. Called by
// the SSH Connection Handler once pty-req and shell have both arrived.
func (m *Manager) Submit(ev NewSessionEvent) {
	m.newSessions <- ev
}

// SetOnConnect registers a callback invoked after a session's resources
// are fully wired and its Host has started.
func (m *Manager) SetOnConnect(fn func(handle Handle, remoteAddr string)) {
	m.onConnect = fn
}

// SetOnDisconnect registers a callback invoked once a session's resources
// have been fully released.
func (m *Manager) SetOnDisconnect(fn func(handle Handle, remoteAddr string)) {
	m.onDisconnect = fn
}

// Run is the Session Manager's one long-running task: it spawns a
// goroutine per accepted session and otherwise just waits on ctx or the
// intake channel forever.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.disconnectAll()
			return
		case ev := <-m.newSessions:
			go m.runSession(ctx, ev)
		}
	}
}

func (m *Manager) runSession(parent context.Context, ev NewSessionEvent) {
	handle := Handle(m.nextHandle.Add(1) - 1)

	pair, err := ptybridge.Open()
	if err != nil {
		logging.DebugError("session", "ptybridge.Open", err)
		return
	}
	if err := pair.SetSize(ev.Cols, ev.Rows); err != nil {
		logging.DebugError("session", "ptybridge.SetSize (initial)", err)
	}

	outputQ := make(chan render.Output, outputQueueCapacity)
	resizeQ := make(chan render.Resize, resizeQueueCapacity)
	relayoutQ := make(chan struct{}, relayoutQueueCapacity)

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	ent := &entry{handle: handle, remoteAddr: ev.RemoteAddr, connectedAt: time.Now(), cancel: cancel}
	m.mu.Lock()
	m.sessions[handle] = ent
	m.mu.Unlock()

	if m.onConnect != nil {
		m.onConnect(handle, ev.RemoteAddr)
	}

	backend := render.NewBackend(pair.TUISide(), ev.Term, ev.Cols, ev.Rows, outputQ, resizeQ, relayoutQ)
	if err := backend.Init(); err != nil {
		logging.DebugError("session", "backend.Init", err)
		pair.Close()
		m.cleanup(handle, ev.RemoteAddr)
		return
	}

	appSession := m.app.NewSession()
	host := tuihost.NewHost(backend, appSession, relayoutQ, done)

	viewCtx := &tuihost.ViewContext{Context: ctx, Handle: handle, PublicKey: ev.PublicKey, RemoteAddr: ev.RemoteAddr}

	hostDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(hostDone)
		if err := host.Run(viewCtx); err != nil {
			logging.DebugError("session", "host.Run", err)
		}
		backend.Fini()
	}()

	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		outputPump(ev.Channel, outputQ)
	}()

	// The session ends from whichever side finishes first: the TUI
	// application quitting on its own, the SSH Connection Handler closing
	// the channel / sending a Close update, or an explicit Disconnect.
	inputPump(ctx, pair.SSHSide(), pair, ev.Updates, resizeQ, hostDone)

	close(done)
	host.Stop()
	wg.Wait()

	cancel()
	<-afterTimeout(outputDone, shutdownJoinTimeout)

	pair.Close()
	ev.Channel.CloseWrite()
	ev.Channel.Close()

	m.cleanup(handle, ev.RemoteAddr)
}

func afterTimeout(done <-chan struct{}, timeout time.Duration) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		select {
		case <-done:
		case <-time.After(timeout):
		}
	}()
	return out
}

func (m *Manager) cleanup(handle Handle, remoteAddr string) {
	m.mu.Lock()
	delete(m.sessions, handle)
	m.mu.Unlock()

	if m.onDisconnect != nil {
		m.onDisconnect(handle, remoteAddr)
	}
}

// outputPump drains outputQ and writes Data records to the SSH channel
// until a Close record arrives or the channel is exhausted.
func outputPump(sink ChannelSink, outputQ <-chan render.Output) {
	for out := range outputQ {
		if out.Close {
			return
		}
		if len(out.Data) == 0 {
			continue
		}
		if _, err := sink.Write(out.Data); err != nil {
			return
		}
	}
}

// ptyResizer applies a new window size to the pty backing a session;
// *ptybridge.Pair satisfies this.
type ptyResizer interface {
	SetSize(cols, rows int) error
}

// inputPump drains the SSH Connection Handler's update queue: Data is
// written to the pty's SSH-facing side, and WindowResize both resizes the
// underlying pty and is forwarded non-blockingly to resizeQ so the Render
// Backend's cached size and the Event Loop Host's relayout follow along. It
// returns when the handler sends Close, closes the updates channel, hostDone
// fires because the TUI application ended on its own, or ctx is cancelled by
// an explicit Disconnect.
func inputPump(ctx context.Context, sshSide interface{ Write([]byte) (int, error) }, pty ptyResizer, updates <-chan Update, resizeQ chan<- render.Resize, hostDone <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hostDone:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			switch u.Kind {
			case UpdateData:
				if len(u.Data) > 0 {
					sshSide.Write(u.Data)
				}
			case UpdateResize:
				if err := pty.SetSize(u.Cols, u.Rows); err != nil {
					logging.DebugError("session", "ptybridge.SetSize", err)
				}
				select {
				case resizeQ <- render.Resize{Cols: u.Cols, Rows: u.Rows}:
				default:
				}
			case UpdateClose:
				return
			}
		}
	}
}

// Sessions returns the handles of every currently live session.
func (m *Manager) Sessions() []Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Handle, 0, len(m.sessions))
	for h := range m.sessions {
		out = append(out, h)
	}
	return out
}

// List returns a snapshot of every currently live session.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, Info{Handle: e.handle, RemoteAddr: e.remoteAddr, ConnectedAt: e.connectedAt})
	}
	return out
}

// SessionCount returns the number of currently live sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Disconnect forcibly tears down one session by handle.
func (m *Manager) Disconnect(handle Handle) bool {
	m.mu.RLock()
	ent, ok := m.sessions[handle]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	ent.cancel()
	return true
}

func (m *Manager) disconnectAll() {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		e.cancel()
	}
}
