package session

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshsync/internal/event"
	"github.com/meshsync/internal/logger"
	"github.com/meshsync/internal/metrics"
)

const writeWait = 10 * time.Second

var errSnapshotTimeout = errors.New("session: snapshot timeout")

// gate holds incremental events until both halves of the snapshot arrived.
type gate struct {
	holding     bool
	gotNodes    bool
	gotChannels bool
	held        []event.Event
}

func (g *gate) arm() {
	g.holding = true
	g.gotNodes, g.gotChannels = false, false
	g.held = g.held[:0]
}

// admit decides what to deliver for ev. It returns the events to deliver now
// in order, and whether the snapshot just completed.
func (g *gate) admit(ev event.Event) (out []event.Event, completed bool) {
	if !g.holding {
		return []event.Event{ev}, false
	}
	switch ev.(type) {
	case event.NodesSnapshot:
		g.gotNodes = true
	case event.ChannelsSnapshot:
		g.gotChannels = true
	default:
		if len(g.held) < maxHeld {
			g.held = append(g.held, ev)
			return nil, false
		}
		logger.Warnf("session: %d events held without snapshot, releasing", len(g.held))
		return append(g.release(), ev), false
	}
	out = []event.Event{ev}
	if g.gotNodes && g.gotChannels {
		return append(out, g.release()...), true
	}
	return out, false
}

func (g *gate) release() []event.Event {
	out := append([]event.Event(nil), g.held...)
	g.held = g.held[:0]
	g.holding = false
	return out
}

// serve runs one link until it fails or ctx is done. The first frame written
// is always a snapshot request. Frames already read when the link fails are
// still delivered; only an explicit disconnect discards them.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn, dec *event.Decoder) error {
	connCtx, cancel := context.WithCancel(ctx)
	frames := make(chan []byte, sendBufSize)
	errs := make(chan error, 2)
	done := make(chan struct{}, 2)
	defer func() {
		cancel()
		conn.Close()
		for range frames {
		}
		<-done
		<-done
	}()

	go s.readPump(connCtx, conn, frames, errs, done)
	go s.writePump(connCtx, conn, errs, done)

	var g gate
	g.arm()
	timer := time.NewTimer(s.cfg.SnapshotTimeout)
	defer timer.Stop()

	in := frames
	for {
		select {
		case <-connCtx.Done():
			return ctx.Err()
		case err := <-errs:
			conn.Close()
			for raw := range frames {
				s.handle(&g, dec, raw)
			}
			if g.holding && len(g.held) > 0 {
				logger.Warnf("session: link lost before snapshot, delivering %d held events", len(g.held))
				s.deliver(g.release())
			}
			return err
		case <-timer.C:
			if g.holding {
				logger.Warnf("session: %v, delivering %d held events", errSnapshotTimeout, len(g.held))
				s.deliver(g.release())
				s.setStatus(Connected, true, errSnapshotTimeout)
			}
		case raw, ok := <-in:
			if !ok {
				// reader exited; its error or the cancel follows
				in = nil
				continue
			}
			s.handle(&g, dec, raw)
		}
	}
}

func (s *Session) handle(g *gate, dec *event.Decoder, raw []byte) {
	ev, err := dec.Decode(raw)
	if err != nil {
		metrics.MalformedFrames.Inc()
		logger.Warnf("session: drop frame: %v", err)
		return
	}
	if ev == nil {
		return
	}
	out, completed := g.admit(ev)
	s.deliver(out)
	if completed {
		s.backoff.reset()
		s.setStatus(Connected, true, nil)
	}
}

func (s *Session) deliver(evs []event.Event) {
	for _, ev := range evs {
		s.sink(ev)
	}
}

// readPump reads frames until the link fails, then closes frames. Any frame
// or pong extends the read deadline.
func (s *Session) readPump(ctx context.Context, conn *websocket.Conn, frames chan<- []byte, errs chan<- error, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	defer close(frames)

	conn.SetReadLimit(s.cfg.MaxFrameSize)
	if err := conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait)); err != nil {
		errs <- err
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				errs <- err
			}
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait)); err != nil {
			errs <- err
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		frames <- raw
	}
}

// writePump owns every write on conn: the snapshot request, control frames,
// paced text frames and pings.
func (s *Session) writePump(ctx context.Context, conn *websocket.Conn, errs chan<- error, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer ticker.Stop()

	write := func(typ int, data []byte) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			errs <- err
			return false
		}
		if err := conn.WriteMessage(typ, data); err != nil {
			if ctx.Err() == nil {
				errs <- err
			}
			return false
		}
		return true
	}

	if !write(websocket.TextMessage, event.EncodeSnapshotRequest()) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		case frame := <-s.control:
			if !write(websocket.TextMessage, frame) {
				return
			}
		case frame := <-s.text:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if !write(websocket.TextMessage, frame) {
				logger.Warnf("session: send_text lost with link")
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}
