package sshd

import (
	"encoding/binary"
	"fmt"
	"sync"

	gossh "golang.org/x/crypto/ssh"

	"sshtui/logging"
	"sshtui/session"
)

// ptyRequest holds the parsed payload of an SSH pty-req request.
type ptyRequest struct {
	Term   string
	Width  uint32
	Height uint32
}

// windowChange holds the parsed payload of an SSH window-change request.
type windowChange struct {
	Width  uint32
	Height uint32
}

// parsePtyRequest decodes an SSH pty-req payload: string term, uint32
// width, uint32 height, uint32 pixel_width, uint32 pixel_height, string
// modes. Pixel dimensions and terminal modes are accepted but ignored.
func parsePtyRequest(payload []byte) (*ptyRequest, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("sshd: pty-req payload too short")
	}

	termLen := binary.BigEndian.Uint32(payload[0:4])
	if uint64(len(payload)) < uint64(4+termLen+16) {
		return nil, fmt.Errorf("sshd: pty-req payload too short for term")
	}

	term := string(payload[4 : 4+termLen])
	offset := 4 + termLen

	width := binary.BigEndian.Uint32(payload[offset : offset+4])
	height := binary.BigEndian.Uint32(payload[offset+4 : offset+8])

	return &ptyRequest{Term: term, Width: width, Height: height}, nil
}

// parseWindowChange decodes an SSH window-change payload: uint32 width,
// uint32 height, uint32 pixel_width, uint32 pixel_height.
func parseWindowChange(payload []byte) (windowChange, error) {
	if len(payload) < 8 {
		return windowChange{}, fmt.Errorf("sshd: window-change payload too short")
	}
	width := binary.BigEndian.Uint32(payload[0:4])
	height := binary.BigEndian.Uint32(payload[4:8])
	return windowChange{Width: width, Height: height}, nil
}

// channelHandler drives one accepted "session" channel's request stream
// through INIT -> AUTHED -> OPEN -> DONE: it waits for both a pty-req and
// a shell request before handing the channel to the Session Manager, then
// forwards window-change requests and channel data for the rest of the
// channel's life.
type channelHandler struct {
	conn       *gossh.ServerConn
	channel    gossh.Channel
	remoteAddr string
	manager    *session.Manager

	updates chan session.Update
	opened  bool

	stopCh   chan struct{}
	stopOnce sync.Once
	readWg   sync.WaitGroup
}

func newChannelHandler(conn *gossh.ServerConn, channel gossh.Channel, manager *session.Manager) *channelHandler {
	return &channelHandler{
		conn:       conn,
		channel:    channel,
		remoteAddr: conn.RemoteAddr().String(),
		manager:    manager,
		updates:    make(chan session.Update, 16),
		stopCh:     make(chan struct{}),
	}
}

// stop marks the handler as shutting down: send, called from here on,
// drops rather than delivers. Safe to call more than once.
func (h *channelHandler) stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// send delivers u to h.updates, dropping it instead of blocking when the
// handler has already stopped or the queue is full. readLoop and run's
// window-change case are the only callers; both run concurrently with
// run's own shutdown path, which is the only place h.updates is closed.
func (h *channelHandler) send(u session.Update) {
	select {
	case <-h.stopCh:
		return
	default:
	}
	select {
	case h.updates <- u:
	default:
	}
}

// run consumes the channel's out-of-band requests and, once open, its
// data stream, until the channel closes.
func (h *channelHandler) run(requests <-chan *gossh.Request) {
	var pty *ptyRequest

	for req := range requests {
		switch req.Type {
		case "pty-req":
			parsed, err := parsePtyRequest(req.Payload)
			if err != nil {
				logging.DebugError("sshd", "pty-req from "+h.remoteAddr, err)
				if req.WantReply {
					req.Reply(false, nil)
				}
				continue
			}
			pty = parsed
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			if pty != nil && !h.opened {
				h.opened = true
				h.open(pty)
			}

		case "window-change":
			win, err := parseWindowChange(req.Payload)
			if err != nil {
				logging.DebugError("sshd", "window-change from "+h.remoteAddr, err)
				continue
			}
			if h.opened {
				h.send(session.Update{Kind: session.UpdateResize, Cols: int(win.Width), Rows: int(win.Height)})
			}

		case "env":
			if req.WantReply {
				req.Reply(true, nil)
			}

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}

	if h.opened {
		// Wait for readLoop to have stopped sending before this goroutine
		// becomes the sole, final sender and then the closer of h.updates.
		h.readWg.Wait()
	}
	h.stop()
	if h.opened {
		select {
		case h.updates <- session.Update{Kind: session.UpdateClose}:
		default:
		}
	}
	close(h.updates)
}

// open hands the channel to the Session Manager and starts the goroutine
// that turns raw channel reads into Data updates.
func (h *channelHandler) open(pty *ptyRequest) {
	var pubKey gossh.PublicKey
	if h.conn.Permissions != nil {
		pubKey = permissionsPublicKey(h.conn.Permissions)
	}

	h.manager.Submit(session.NewSessionEvent{
		RemoteAddr: h.remoteAddr,
		PublicKey:  pubKey,
		Term:       pty.Term,
		Cols:       int(pty.Width),
		Rows:       int(pty.Height),
		Channel:    h.channel,
		Updates:    h.updates,
	})

	h.readWg.Add(1)
	go h.readLoop()
}

func (h *channelHandler) readLoop() {
	defer h.readWg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := h.channel.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			h.send(session.Update{Kind: session.UpdateData, Data: data})
		}
		if err != nil {
			return
		}
	}
}
