package session

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rivo/tview"

	"sshtui/render"
	"sshtui/tuihost"
)

// fakeChannel is an in-memory stand-in for the SSH channel's Write side,
// letting tests assert on rendered output without a real network
// connection.
type fakeChannel struct {
	mu        sync.Mutex
	written   bytes.Buffer
	closed    bool
	closedWr  bool
}

func (f *fakeChannel) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakeChannel) CloseWrite() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedWr = true
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// quitSession is an AppSession whose OnStart only signals that it ran and
// returns an empty Box, so lifecycle tests don't need a real interactive
// widget tree.
type quitSession struct {
	tuihost.EmbeddableSession
	started chan struct{}
}

func (q *quitSession) OnStart(ctx *tuihost.ViewContext, forceRefresh chan<- struct{}) (tview.Primitive, error) {
	close(q.started)
	return tview.NewBox(), nil
}

type quitApp struct {
	sessions []*quitSession
	mu       sync.Mutex
}

func (a *quitApp) OnLoad() error { return nil }

func (a *quitApp) NewSession() tuihost.AppSession {
	s := &quitSession{started: make(chan struct{})}
	a.mu.Lock()
	a.sessions = append(a.sessions, s)
	a.mu.Unlock()
	return s
}

func TestManagerRunSessionLifecycle(t *testing.T) {
	app := &quitApp{}
	mgr := NewManager(app, 0)

	connected := make(chan Handle, 1)
	disconnected := make(chan Handle, 1)
	mgr.SetOnConnect(func(h Handle, addr string) { connected <- h })
	mgr.SetOnDisconnect(func(h Handle, addr string) { disconnected <- h })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	updates := make(chan Update)
	ch := &fakeChannel{}

	mgr.Submit(NewSessionEvent{
		RemoteAddr: "10.0.0.1:1234",
		Term:       "xterm-256color",
		Cols:       80,
		Rows:       24,
		Channel:    ch,
		Updates:    updates,
	})

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("session never connected")
	}

	if got := mgr.SessionCount(); got != 1 {
		t.Fatalf("expected 1 live session, got %d", got)
	}

	close(updates)

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("session never disconnected after updates closed")
	}

	if got := mgr.SessionCount(); got != 0 {
		t.Fatalf("expected 0 live sessions after teardown, got %d", got)
	}
	if !ch.isClosed() {
		t.Error("expected the SSH channel to be closed on teardown")
	}
}

// fakeResizer records the sizes it's asked to apply, standing in for
// *ptybridge.Pair in inputPump tests.
type fakeResizer struct {
	mu    sync.Mutex
	calls []render.Resize
}

func (r *fakeResizer) SetSize(cols, rows int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, render.Resize{Cols: cols, Rows: rows})
	return nil
}

func (r *fakeResizer) sizes() []render.Resize {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]render.Resize, len(r.calls))
	copy(out, r.calls)
	return out
}

func TestInputPumpAppliesResizeToPty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan Update, 1)
	resizeQ := make(chan render.Resize, 1)
	hostDone := make(chan struct{})
	resizer := &fakeResizer{}
	ch := &fakeChannel{}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		inputPump(ctx, ch, resizer, updates, resizeQ, hostDone)
	}()

	updates <- Update{Kind: UpdateResize, Cols: 132, Rows: 43}

	select {
	case r := <-resizeQ:
		if r.Cols != 132 || r.Rows != 43 {
			t.Fatalf("unexpected resize forwarded to resizeQ: %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("resize was never forwarded to resizeQ")
	}

	deadline := time.After(2 * time.Second)
	for len(resizer.sizes()) == 0 {
		select {
		case <-deadline:
			t.Fatal("resize was never applied to the pty")
		default:
		}
	}
	if got := resizer.sizes(); len(got) != 1 || got[0] != (render.Resize{Cols: 132, Rows: 43}) {
		t.Fatalf("unexpected pty resize calls: %+v", got)
	}

	close(updates)
	select {
	case <-pumpDone:
	case <-time.After(2 * time.Second):
		t.Fatal("inputPump did not return after updates closed")
	}
}

func TestManagerDisconnect(t *testing.T) {
	app := &quitApp{}
	mgr := NewManager(app, 0)

	connected := make(chan Handle, 1)
	mgr.SetOnConnect(func(h Handle, addr string) { connected <- h })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	updates := make(chan Update)
	ch := &fakeChannel{}

	mgr.Submit(NewSessionEvent{
		RemoteAddr: "10.0.0.2:4321",
		Term:       "xterm",
		Cols:       80,
		Rows:       24,
		Channel:    ch,
		Updates:    updates,
	})

	var handle Handle
	select {
	case handle = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("session never connected")
	}

	if ok := mgr.Disconnect(handle); !ok {
		t.Fatal("Disconnect reported unknown handle")
	}
	if ok := mgr.Disconnect(Handle(999999)); ok {
		t.Fatal("Disconnect should report false for an unknown handle")
	}
}
