package render

import (
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestWriteColorSGRTruecolor(t *testing.T) {
	var b strings.Builder
	writeColorSGR(&b, tcell.NewRGBColor(10, 20, 30), true)
	if got := b.String(); got != ";38;2;10;20;30" {
		t.Errorf("unexpected truecolor SGR fragment: %q", got)
	}
}

func TestWriteColorSGRLowPalette(t *testing.T) {
	var b strings.Builder
	writeColorSGR(&b, tcell.ColorMaroon, true)
	got := b.String()
	if strings.Contains(got, "38;2;") {
		t.Errorf("expected indexed/16-color encoding, got truecolor: %q", got)
	}
}

func TestWriteColorSGRExtendedPalette(t *testing.T) {
	var b strings.Builder
	writeColorSGR(&b, tcell.PaletteColor(200), true)
	got := b.String()
	if !strings.Contains(got, ";38;5;200") {
		t.Errorf("expected 256-color SGR fragment, got %q", got)
	}
}

func TestWriteColorSGRDefaultIsNoop(t *testing.T) {
	var b strings.Builder
	writeColorSGR(&b, tcell.ColorDefault, true)
	if b.String() != "" {
		t.Errorf("expected no SGR fragment for the default color, got %q", b.String())
	}
}
