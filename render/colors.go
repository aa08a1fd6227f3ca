package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
)

// sgrForStyle returns the CSI SGR sequence that sets the terminal to the
// given style, relative to no assumed prior state (every call emits a full
// reset-then-set sequence; the caller is responsible for skipping the call
// entirely when style is unchanged from the last emitted one).
func sgrForStyle(style tcell.Style) string {
	fg, bg, attrs := style.Decompose()

	var b strings.Builder
	b.WriteString("\x1b[0")

	if attrs&tcell.AttrBold != 0 {
		b.WriteString(";1")
	}
	if attrs&tcell.AttrDim != 0 {
		b.WriteString(";2")
	}
	if attrs&tcell.AttrItalic != 0 {
		b.WriteString(";3")
	}
	if attrs&tcell.AttrUnderline != 0 {
		b.WriteString(";4")
	}
	if attrs&tcell.AttrBlink != 0 {
		b.WriteString(";5")
	}
	if attrs&tcell.AttrReverse != 0 {
		b.WriteString(";7")
	}
	if attrs&tcell.AttrStrikeThrough != 0 {
		b.WriteString(";9")
	}

	writeColorSGR(&b, fg, true)
	writeColorSGR(&b, bg, false)

	b.WriteString("m")
	return b.String()
}

// writeColorSGR appends the SGR fragment selecting fg (foreground=true) or
// bg color, choosing 16-color, 256-color, or truecolor encoding depending
// on what the color carries.
func writeColorSGR(b *strings.Builder, c tcell.Color, foreground bool) {
	if c == tcell.ColorDefault {
		return
	}

	// Color.RGB() returns valid-looking components for palette colors too,
	// so truecolor encoding must be gated on the ColorIsRGB flag rather
	// than on RGB() alone, or the 256-color/16-color branches below never
	// fire.
	if c&tcell.ColorIsRGB != 0 {
		r, g, bl := c.RGB()
		if foreground {
			fmt.Fprintf(b, ";38;2;%d;%d;%d", r, g, bl)
		} else {
			fmt.Fprintf(b, ";48;2;%d;%d;%d", r, g, bl)
		}
		return
	}

	// Named/palette color: c&0xff is the palette index per tcell's Color
	// encoding (PaletteColor / valid low 256).
	idx := int(c) & 0xff
	if idx < 16 {
		base := 30
		if idx >= 8 {
			base = 90
			idx -= 8
		}
		if !foreground {
			base += 10
		}
		fmt.Fprintf(b, ";%d", base+idx)
		return
	}

	if foreground {
		fmt.Fprintf(b, ";38;5;%d", idx)
	} else {
		fmt.Fprintf(b, ";48;5;%d", idx)
	}
}

// colorsForTermType returns the color depth this backend advertises for a
// given $TERM value, following the same fallback chain the teacher's own
// createScreenFromTty used for terminfo lookups: truecolor-capable
// terminals, then 256-color xterm variants, then a conservative 8-color
// default.
func colorsForTermType(term string) int {
	t := strings.ToLower(term)
	switch {
	case strings.Contains(t, "truecolor") || strings.Contains(t, "24bit"):
		return 1 << 24
	case strings.Contains(t, "256color"):
		return 256
	case strings.HasPrefix(t, "xterm"), strings.HasPrefix(t, "screen"), strings.HasPrefix(t, "tmux"):
		return 256
	case t == "":
		return 256
	default:
		return 8
	}
}

func atoiOr(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
