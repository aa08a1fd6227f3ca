package ptybridge

import (
	"testing"
	"time"
)

func TestOpenAndClose(t *testing.T) {
	pair, err := Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if pair.SSHSide() == nil || pair.TUISide() == nil {
		t.Fatal("expected both ends of the pair to be non-nil")
	}
	if err := pair.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	pair, err := Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := pair.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := pair.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestTUISideReadIsNonBlocking(t *testing.T) {
	pair, err := Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer pair.Close()

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 16)
		pair.TUISide().Read(buf)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Read on TUI side blocked with nothing pending")
	}
}

func TestSetSize(t *testing.T) {
	pair, err := Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer pair.Close()

	if err := pair.SetSize(100, 40); err != nil {
		t.Fatalf("SetSize failed: %v", err)
	}
}
