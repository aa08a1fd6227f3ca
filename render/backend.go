package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
)

type cellState struct {
	mainc rune
	combc []rune
	style tcell.Style
	width int
}

func cellsEqual(a, b cellState) bool {
	if a.mainc != b.mainc || a.style != b.style || a.width != b.width {
		return false
	}
	if len(a.combc) != len(b.combc) {
		return false
	}
	for i := range a.combc {
		if a.combc[i] != b.combc[i] {
			return false
		}
	}
	return true
}

// Backend is a from-scratch gdamore/tcell/v2.Screen implementation driven
// directly by a raw byte stream (the TUI-facing side of a pty pair), rather
// than by tcell's own terminfo-driven screen. It owns the output buffering,
// ANSI/SGR encoding, and input parsing described for the rendering
// component: every draw call only touches an in-memory cell grid, and a
// whole frame's worth of changes is flushed as a single Output record on
// Show/Sync.
type Backend struct {
	mu sync.Mutex

	tty io.ReadWriter

	w, h        int
	front, back [][]cellState
	style       tcell.Style
	cursorX     int
	cursorY     int
	cursorOn    bool

	lastStyle     tcell.Style
	lastStyleSet  bool
	mouseEnabled  bool
	pasteEnabled  bool
	charset       string
	fallbackRunes map[rune]string

	parser inputParser
	readCh chan []byte

	outputQ  chan<- Output
	resizeCh <-chan Resize
	relayout chan<- struct{}

	finiOnce sync.Once
	term     string
	pending  strings.Builder
}

// NewBackend constructs a Backend over tty (the TUI-facing pty file, which
// the caller is responsible for having put in non-blocking read mode),
// publishing buffered output to outputQ, and consuming size updates from
// resizeCh. Each consumed resize pushes a non-blocking notification to
// relayout so a host loop can force a redraw.
func NewBackend(tty io.ReadWriter, term string, cols, rows int, outputQ chan<- Output, resizeCh <-chan Resize, relayout chan<- struct{}) *Backend {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	b := &Backend{
		tty:           tty,
		w:             cols,
		h:             rows,
		outputQ:       outputQ,
		resizeCh:      resizeCh,
		relayout:      relayout,
		charset:       "UTF-8",
		fallbackRunes: make(map[rune]string),
		term:          term,
	}
	b.allocateBuffers()
	return b
}

func (b *Backend) allocateBuffers() {
	b.allocateBuffersLocked()
}

// Init switches to the alternate screen, clears it and homes the cursor,
// then starts the background reader that feeds PollEvent.
func (b *Backend) Init() error {
	b.emit("\x1b[?1049h\x1b[2J\x1b[H")
	b.readCh = make(chan []byte, 64)
	go b.readLoop()
	return nil
}

func (b *Backend) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := b.tty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case b.readCh <- chunk:
			default:
				// Reader outpacing PollEvent: drop rather than block the
				// pty side, matching the queue-based backpressure policy
				// used everywhere else in this library.
			}
		}
		if err != nil {
			close(b.readCh)
			return
		}
	}
}

// Fini sends the terminal-restore sequence, flushes it, and emits exactly
// one Close record. Idempotent.
func (b *Backend) Fini() {
	b.finiOnce.Do(func() {
		b.emit("\x1b[?25h\x1b[H\x1b[49m\x1b[39m\x1b[2J")
		b.flush()
		if b.outputQ != nil {
			select {
			case b.outputQ <- Output{Close: true}:
			default:
			}
		}
	})
}

func (b *Backend) emit(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending.WriteString(s)
}

// Clear blanks the back buffer to the current style.
func (b *Backend) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for y := 0; y < b.h; y++ {
		for x := 0; x < b.w; x++ {
			b.back[y][x] = cellState{mainc: ' ', style: b.style, width: 1}
		}
	}
}

// Fill fills the back buffer with a rune/style.
func (b *Backend) Fill(r rune, style tcell.Style) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for y := 0; y < b.h; y++ {
		for x := 0; x < b.w; x++ {
			b.back[y][x] = cellState{mainc: r, style: style, width: 1}
		}
	}
}

// SetContent writes one cell into the back buffer. No I/O happens here;
// the change is only flushed on Show/Sync.
func (b *Backend) SetContent(x, y int, mainc rune, combc []rune, style tcell.Style) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if x < 0 || y < 0 || x >= b.w || y >= b.h {
		return
	}
	width := 1
	if mainc == 0 {
		mainc = ' '
	}
	b.back[y][x] = cellState{mainc: mainc, combc: combc, style: style, width: width}
}

// GetContent reads one cell from the back buffer.
func (b *Backend) GetContent(x, y int) (rune, []rune, tcell.Style, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if x < 0 || y < 0 || x >= b.w || y >= b.h {
		return ' ', nil, tcell.StyleDefault, 1
	}
	c := b.back[y][x]
	return c.mainc, c.combc, c.style, c.width
}

func (b *Backend) SetStyle(style tcell.Style) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.style = style
}

func (b *Backend) ShowCursor(x, y int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursorX, b.cursorY, b.cursorOn = x, y, true
}

func (b *Backend) HideCursor() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursorOn = false
}

func (b *Backend) Size() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainResize()
	return b.w, b.h
}

// drainResize consumes at most one pending resize per call, matching the
// "resize handling drains at most once per poll/size query" rule. Must be
// called with b.mu held.
func (b *Backend) drainResize() {
	select {
	case r, ok := <-b.resizeCh:
		if !ok {
			return
		}
		if r.Cols > 0 && r.Rows > 0 && (r.Cols != b.w || r.Rows != b.h) {
			b.w, b.h = r.Cols, r.Rows
			b.allocateBuffersLocked()
			if b.relayout != nil {
				select {
				case b.relayout <- struct{}{}:
				default:
				}
			}
		}
	default:
	}
}

func (b *Backend) allocateBuffersLocked() {
	front := make([][]cellState, b.h)
	back := make([][]cellState, b.h)
	for y := 0; y < b.h; y++ {
		front[y] = make([]cellState, b.w)
		back[y] = make([]cellState, b.w)
		for x := 0; x < b.w; x++ {
			front[y][x] = cellState{mainc: ' ', width: 1}
			back[y][x] = cellState{mainc: ' ', width: 1}
		}
	}
	b.front, b.back = front, back
}

// Show diffs the back buffer against the front buffer and flushes only the
// changed cells as a single buffered write.
func (b *Backend) Show() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.redraw(false)
	b.flushLocked()
}

// Sync forces a full redraw of every cell, used for the relayout
// double-refresh this library's host loop issues after a resize or theme
// change.
func (b *Backend) Sync() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.redraw(true)
	b.flushLocked()
}

func (b *Backend) redraw(full bool) {
	var out strings.Builder
	b.lastStyleSet = false
	for y := 0; y < b.h; y++ {
		for x := 0; x < b.w; x++ {
			cell := b.back[y][x]
			if !full && cellsEqual(b.front[y][x], cell) {
				continue
			}
			b.front[y][x] = cell
			fmt.Fprintf(&out, "\x1b[%d;%dH", y+1, x+1)
			if !b.lastStyleSet || b.lastStyle != cell.style {
				out.WriteString(sgrForStyle(cell.style))
				b.lastStyle = cell.style
				b.lastStyleSet = true
			}
			out.WriteRune(cell.mainc)
			for _, c := range cell.combc {
				out.WriteRune(c)
			}
		}
	}
	if b.cursorOn {
		fmt.Fprintf(&out, "\x1b[%d;%dH\x1b[?25h", b.cursorY+1, b.cursorX+1)
	} else {
		out.WriteString("\x1b[?25l")
	}
	b.pending.WriteString(out.String())
}

func (b *Backend) flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Backend) flushLocked() {
	if b.pending.Len() == 0 {
		return
	}
	data := []byte(b.pending.String())
	b.pending.Reset()
	if b.outputQ == nil {
		return
	}
	select {
	case b.outputQ <- Output{Data: data}:
	default:
		// output_q full: drop rather than block the TUI thread. The next
		// Sync() will redraw from the back buffer, which still holds the
		// authoritative state.
	}
}

// PollEvent blocks until the next input event is available and returns it,
// or returns nil once the tty input has ended. It does not return early
// when nothing is buffered. The tty read itself happens on a background
// goroutine, so the pty's own I/O is decoupled from the toolkit's loop.
func (b *Backend) PollEvent() tcell.Event {
	for {
		b.mu.Lock()
		if ev, ok := b.parser.next(); ok {
			b.mu.Unlock()
			return ev
		}
		b.mu.Unlock()

		chunk, ok := <-b.readCh
		if !ok {
			return nil
		}
		b.mu.Lock()
		b.parser.feed(chunk)
		ev, ok := b.parser.next()
		b.mu.Unlock()
		if ok {
			return ev
		}
	}
}

func (b *Backend) HasPendingEvent() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.parser.buf) > 0
}

func (b *Backend) PostEvent(ev tcell.Event) error {
	return nil
}

func (b *Backend) PostEventWait(ev tcell.Event) {}

func (b *Backend) EnableMouse(flags ...tcell.MouseFlags) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mouseEnabled = true
	b.pending.WriteString("\x1b[?1000h\x1b[?1006h")
}

func (b *Backend) DisableMouse() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mouseEnabled = false
	b.pending.WriteString("\x1b[?1000l\x1b[?1006l")
}

func (b *Backend) EnablePaste() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pasteEnabled = true
}

func (b *Backend) DisablePaste() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pasteEnabled = false
}

func (b *Backend) HasMouse() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mouseEnabled
}

func (b *Backend) Colors() int {
	return colorsForTermType(b.term)
}

func (b *Backend) CharacterSet() string {
	return b.charset
}

func (b *Backend) RegisterRuneFallback(r rune, subst string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallbackRunes[r] = subst
}

func (b *Backend) UnregisterRuneFallback(r rune) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.fallbackRunes, r)
}

func (b *Backend) CanDisplay(r rune, checkFallbacks bool) bool {
	if r < 0x80 {
		return true
	}
	if !checkFallbacks {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.fallbackRunes[r]
	return ok || true
}

func (b *Backend) ChannelEvents(ch chan<- tcell.Event, quit <-chan struct{}) {
	for {
		ev := b.PollEvent()
		if ev == nil {
			return
		}
		select {
		case ch <- ev:
		case <-quit:
			return
		}
	}
}

func (b *Backend) Resize(x, y, width, height int) {}

func (b *Backend) Beep() error {
	b.emit("\a")
	return nil
}

func (b *Backend) SetSize(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.w, b.h = width, height
	b.allocateBuffersLocked()
}

func (b *Backend) LockRegion(x, y, width, height int, lock bool) bool {
	return false
}

func (b *Backend) Tty() (tcell.Tty, bool) {
	return nil, false
}

var _ tcell.Screen = (*Backend)(nil)
