package render

import (
	"strings"

	"github.com/gdamore/tcell/v2"
)

// inputParser turns a stream of raw bytes read from the pty into tcell
// events, one at a time. It is not safe for concurrent use; Backend serializes
// calls to feed/next through PollEvent.
type inputParser struct {
	buf         []byte
	mouseButton tcell.ButtonMask // last pressed button, for drag/release framing
	mouseDown   bool
}

// feed appends newly read bytes to the pending buffer.
func (p *inputParser) feed(b []byte) {
	p.buf = append(p.buf, b...)
}

// next extracts and returns the next complete event from the buffer, or
// (nil, false) if the buffer holds no complete event yet.
func (p *inputParser) next() (tcell.Event, bool) {
	if len(p.buf) == 0 {
		return nil, false
	}

	if p.buf[0] == 0x1b {
		if ev, n, ok := p.parseEscape(p.buf); ok {
			p.buf = p.buf[n:]
			if ev == nil {
				// Recognized but dropped (phantom mouse release, unmapped
				// key): keep looking for a real event.
				return p.next()
			}
			return ev, true
		}
		// An incomplete escape sequence: with only the ESC byte buffered,
		// wait for more; otherwise report a bare Escape keypress and drop
		// just the ESC byte so input never stalls. A sequence split across
		// two reads is therefore not reassembled.
		if len(p.buf) == 1 {
			return nil, false // wait for more bytes; might be the start of a sequence
		}
		p.buf = p.buf[1:]
		return tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone), true
	}

	return p.parsePlain(p.buf)
}

func (p *inputParser) parsePlain(buf []byte) (tcell.Event, bool) {
	b := buf[0]

	switch b {
	case '\r', '\n':
		p.buf = p.buf[1:]
		return tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone), true
	case '\t':
		p.buf = p.buf[1:]
		return tcell.NewEventKey(tcell.KeyTab, 0, tcell.ModNone), true
	case 0x7f, 0x08:
		p.buf = p.buf[1:]
		return tcell.NewEventKey(tcell.KeyBackspace, 0, tcell.ModNone), true
	}

	if b < 0x20 {
		p.buf = p.buf[1:]
		return tcell.NewEventKey(tcell.KeyCtrlA+tcell.Key(b-1), rune(b), tcell.ModCtrl), true
	}

	r, size := decodeRune(buf)
	if size == 0 {
		return nil, false // incomplete UTF-8 sequence, wait for more bytes
	}
	p.buf = p.buf[size:]
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone), true
}

// decodeRune decodes one UTF-8 rune from the front of buf. Returns size==0
// if buf doesn't yet contain a complete rune.
func decodeRune(buf []byte) (rune, int) {
	b0 := buf[0]
	var need int
	switch {
	case b0&0x80 == 0:
		return rune(b0), 1
	case b0&0xe0 == 0xc0:
		need = 2
	case b0&0xf0 == 0xe0:
		need = 3
	case b0&0xf8 == 0xf0:
		need = 4
	default:
		return '?', 1 // invalid lead byte, don't stall on it
	}
	if len(buf) < need {
		return 0, 0
	}
	r := rune(b0 & (0xff >> uint(need+1)))
	for i := 1; i < need; i++ {
		r = r<<6 | rune(buf[i]&0x3f)
	}
	return r, need
}

// csiKeys maps a CSI final letter (no parameters, e.g. "\x1b[A") to a key.
var csiKeys = map[byte]tcell.Key{
	'A': tcell.KeyUp,
	'B': tcell.KeyDown,
	'C': tcell.KeyRight,
	'D': tcell.KeyLeft,
	'H': tcell.KeyHome,
	'F': tcell.KeyEnd,
	'Z': tcell.KeyBacktab,
}

// ss3Keys maps an SS3 (ESC O) final letter to a key, the encoding xterm
// uses for the arrow/home/end/F1-F4 keys in application-cursor mode.
var ss3Keys = map[byte]tcell.Key{
	'A': tcell.KeyUp,
	'B': tcell.KeyDown,
	'C': tcell.KeyRight,
	'D': tcell.KeyLeft,
	'H': tcell.KeyHome,
	'F': tcell.KeyEnd,
	'P': tcell.KeyF1,
	'Q': tcell.KeyF2,
	'R': tcell.KeyF3,
	'S': tcell.KeyF4,
}

// csiTildeKeys maps the numeric parameter of a "\x1b[N~" sequence to a key.
var csiTildeKeys = map[int]tcell.Key{
	1:  tcell.KeyHome,
	2:  tcell.KeyInsert,
	3:  tcell.KeyDelete,
	4:  tcell.KeyEnd,
	5:  tcell.KeyPgUp,
	6:  tcell.KeyPgDn,
	11: tcell.KeyF1,
	12: tcell.KeyF2,
	13: tcell.KeyF3,
	14: tcell.KeyF4,
	15: tcell.KeyF5,
	17: tcell.KeyF6,
	18: tcell.KeyF7,
	19: tcell.KeyF8,
	20: tcell.KeyF9,
	21: tcell.KeyF10,
	23: tcell.KeyF11,
	24: tcell.KeyF12,
}

// parseEscape attempts to parse an escape sequence starting at buf[0]=='\x1b'.
// Returns the event, the number of bytes consumed, and whether a complete
// sequence was recognized.
func (p *inputParser) parseEscape(buf []byte) (tcell.Event, int, bool) {
	if len(buf) < 2 {
		return nil, 0, false
	}

	switch buf[1] {
	case 'O': // SS3
		if len(buf) < 3 {
			return nil, 0, false
		}
		if key, ok := ss3Keys[buf[2]]; ok {
			return tcell.NewEventKey(key, 0, tcell.ModNone), 3, true
		}
		return tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone), 1, true

	case '[':
		return p.parseCSI(buf)

	case 0x1b:
		return tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone), 1, true
	}

	// ESC followed by a printable byte: Alt+rune.
	r, size := decodeRune(buf[1:])
	if size == 0 {
		return nil, 0, false
	}
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModAlt), 1 + size, true
}

// parseCSI parses a Control Sequence Introducer: ESC [ params final, where
// params is digits and ';' (and, for mouse reports, a leading '<').
func (p *inputParser) parseCSI(buf []byte) (tcell.Event, int, bool) {
	if len(buf) < 3 {
		return nil, 0, false
	}

	i := 2
	mouse := false
	if buf[i] == '<' {
		mouse = true
		i++
	}
	start := i
	for i < len(buf) && (buf[i] == ';' || (buf[i] >= '0' && buf[i] <= '9')) {
		i++
	}
	if i >= len(buf) {
		return nil, 0, false // need more bytes: final byte not seen yet
	}

	final := buf[i]
	params := string(buf[start:i])
	n := i + 1

	if mouse {
		return p.parseSGRMouse(params, final, n)
	}

	if final == '~' {
		code := atoiOr(strings.SplitN(params, ";", 2)[0], -1)
		if key, ok := csiTildeKeys[code]; ok {
			return tcell.NewEventKey(key, 0, modFromCSIParams(params)), n, true
		}
		return nil, n, true // recognized-but-unknown: consume and drop
	}

	if key, ok := csiKeys[final]; ok {
		return tcell.NewEventKey(key, 0, modFromCSIParams(params)), n, true
	}

	// Unknown CSI final byte: surface it as a KeyF35 key event rather than
	// stalling the input stream. The raw bytes are not carried on the event.
	// Unmapped "~" sequences (F13 and above among them) are consumed and
	// dropped above.
	return tcell.NewEventKey(tcell.KeyF35, 0, tcell.ModNone), n, true
}

// modFromCSIParams extracts the xterm modifier parameter (the second
// ';'-separated field, 1-based per xterm's "1;mod" convention) from a CSI
// parameter string.
func modFromCSIParams(params string) tcell.ModMask {
	parts := strings.SplitN(params, ";", 2)
	if len(parts) < 2 {
		return tcell.ModNone
	}
	mod := atoiOr(parts[1], 1) - 1
	var m tcell.ModMask
	if mod&1 != 0 {
		m |= tcell.ModShift
	}
	if mod&2 != 0 {
		m |= tcell.ModAlt
	}
	if mod&4 != 0 {
		m |= tcell.ModCtrl
	}
	return m
}

// parseSGRMouse parses the body of an SGR mouse report: "b;x;yM" (press or
// motion) or "b;x;ym" (release).
func (p *inputParser) parseSGRMouse(params string, final byte, n int) (tcell.Event, int, bool) {
	fields := strings.Split(params, ";")
	if len(fields) != 3 {
		return nil, n, true
	}
	b := atoiOr(fields[0], -1)
	x := atoiOr(fields[1], 1) - 1
	y := atoiOr(fields[2], 1) - 1
	if b < 0 || x < 0 || y < 0 {
		return nil, n, true
	}

	var buttons tcell.ButtonMask
	motion := b&32 != 0
	wheel := b&64 != 0

	switch {
	case wheel:
		if b&1 != 0 {
			buttons = tcell.WheelDown
		} else {
			buttons = tcell.WheelUp
		}
	case final == 'm':
		// Release: no phantom release is reported unless a press is open.
		if !p.mouseDown {
			return nil, n, true
		}
		p.mouseDown = false
		buttons = tcell.ButtonNone
	default:
		btnCode := b & 3
		switch btnCode {
		case 0:
			buttons = tcell.Button1
		case 1:
			buttons = tcell.Button2
		case 2:
			buttons = tcell.Button3
		default:
			buttons = tcell.ButtonNone
		}
		if motion && !p.mouseDown {
			// Drag reported with no open press: drop it, same rule as a
			// phantom release.
			return nil, n, true
		}
		if !motion {
			p.mouseDown = true
			p.mouseButton = buttons
		} else {
			buttons = p.mouseButton
		}
	}

	return tcell.NewEventMouse(x, y, buttons, modFromButtonByte(b)), n, true
}

func modFromButtonByte(b int) tcell.ModMask {
	var m tcell.ModMask
	if b&4 != 0 {
		m |= tcell.ModShift
	}
	if b&8 != 0 {
		m |= tcell.ModAlt
	}
	if b&16 != 0 {
		m |= tcell.ModCtrl
	}
	return m
}
