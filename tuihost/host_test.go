package tuihost

import (
	"context"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

type fakeSession struct {
	EmbeddableSession
	started chan struct{}
}

func (f *fakeSession) OnStart(ctx *ViewContext, forceRefresh chan<- struct{}) (tview.Primitive, error) {
	close(f.started)
	return tview.NewBox(), nil
}

func TestHostRunInvokesOnStart(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("screen init failed: %v", err)
	}
	defer screen.Fini()

	exit := make(chan struct{})
	relayout := make(chan struct{})
	sess := &fakeSession{started: make(chan struct{})}
	host := NewHost(screen, sess, relayout, exit)

	go func() {
		host.Run(&ViewContext{Context: context.Background()})
	}()

	select {
	case <-sess.started:
	case <-time.After(2 * time.Second):
		t.Fatal("OnStart was not called")
	}

	close(exit)
	host.Stop()
}

func TestEmbeddableSessionOnTickIsNoop(t *testing.T) {
	var s EmbeddableSession
	if err := s.OnTick(&ViewContext{Context: context.Background()}); err != nil {
		t.Errorf("expected nil error from embedded OnTick, got %v", err)
	}
}
