// Package session maintains the websocket link to the mesh gateway and turns
// its frames into events.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/meshsync/internal/event"
	"github.com/meshsync/internal/logger"
	"github.com/meshsync/internal/metrics"
	"github.com/meshsync/internal/model"
)

var (
	ErrNotRunning = errors.New("session: not running")
	ErrQueueFull  = errors.New("session: send queue full")
)

type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Reconnecting State = "reconnecting"
)

// Status is a point-in-time view of the link. Transport failures surface
// here and nowhere else.
type Status struct {
	State State `json:"state"`
	// Synced is true once the snapshot for the current link was delivered.
	Synced    bool      `json:"synced"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
	Attempt   int       `json:"attempt"`
}

type Config struct {
	URL             string
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
	PingPeriod      time.Duration
	PongWait        time.Duration
	SnapshotTimeout time.Duration
	// SendRatePerMin paces send_text frames; 0 disables pacing.
	SendRatePerMin int
	SendBurst      int
	MaxFrameSize   int64
}

func (c *Config) setDefaults() {
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = (c.PongWait * 9) / 10
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = 10 * time.Second
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 256 << 10
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 1
	}
}

// Sink receives decoded events in delivery order. It must not block.
type Sink func(event.Event)

const (
	sendBufSize   = 64
	statusBufSize = 16
	maxHeld       = 4096
)

// Session is safe for concurrent use.
// Lifecycle: New -> Connect -> [run: dial, serve, backoff]* -> Disconnect.
type Session struct {
	cfg     Config
	dialer  Dialer
	sink    Sink
	limiter *rate.Limiter
	backoff *backoff

	text    chan []byte
	control chan []byte

	mu       sync.Mutex
	status   Status
	statusCh chan Status
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(cfg Config, dialer Dialer, sink Sink) *Session {
	cfg.setDefaults()
	if dialer == nil {
		dialer = NewWebsocketDialer()
	}
	lim := rate.NewLimiter(rate.Inf, cfg.SendBurst)
	if cfg.SendRatePerMin > 0 {
		lim = rate.NewLimiter(rate.Limit(float64(cfg.SendRatePerMin)/60), cfg.SendBurst)
	}
	return &Session{
		cfg:      cfg,
		dialer:   dialer,
		sink:     sink,
		limiter:  lim,
		backoff:  newBackoff(cfg.ReconnectMin, cfg.ReconnectMax),
		text:     make(chan []byte, sendBufSize),
		control:  make(chan []byte, 4),
		status:   Status{State: Disconnected, Since: time.Now()},
		statusCh: make(chan Status, statusBufSize),
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// StatusChanges delivers every state change. When the reader falls behind
// the oldest pending change is discarded.
func (s *Session) StatusChanges() <-chan Status { return s.statusCh }

func (s *Session) setStatus(state State, synced bool, err error) {
	s.mu.Lock()
	st := s.status
	if st.State == state && st.Synced == synced && err == nil {
		s.mu.Unlock()
		return
	}
	if st.State != state {
		st.Since = time.Now()
	}
	st.State = state
	st.Synced = synced
	st.Attempt = s.backoff.attempts()
	if err != nil {
		st.LastError = err.Error()
	} else if state == Connected {
		st.LastError = ""
	}
	s.status = st
	s.mu.Unlock()

	metrics.SessionConnected.Set(boolGauge(state == Connected))
	for {
		select {
		case s.statusCh <- st:
			return
		default:
		}
		select {
		case <-s.statusCh:
		default:
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Connect starts the link in the background. Calling it while running is a
// no-op.
func (s *Session) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.run(runCtx, done)
}

// Disconnect stops delivery and closes the link, waiting for the run loop to
// exit. Safe to call repeatedly.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.mu.Lock()
	if s.done == done {
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Running reports whether Connect was called without a matching Disconnect.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Send queues msg for transmission. The frame goes out on the next live link,
// subject to the send rate.
func (s *Session) Send(msg model.Message) error {
	if !s.Running() {
		return ErrNotRunning
	}
	frame, err := event.EncodeSendText(msg)
	if err != nil {
		return err
	}
	select {
	case s.text <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// RequestSnapshot asks the gateway to resend nodes, channels and status on
// the current link.
func (s *Session) RequestSnapshot() {
	select {
	case s.control <- event.EncodeSnapshotRequest():
	default:
	}
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setStatus(Disconnected, false, nil)

	dec := event.NewDecoder()
	first := true
	for {
		if first {
			s.setStatus(Connecting, false, nil)
		}
		conn, err := s.dialer.Dial(ctx, s.cfg.URL)
		if err == nil {
			logger.Infof("session: connected url=%s", s.cfg.URL)
			s.setStatus(Connected, false, nil)
			err = s.serve(ctx, conn, dec)
		}
		if ctx.Err() != nil {
			return
		}
		first = false
		wait := s.backoff.next()
		metrics.Reconnects.Inc()
		logger.Warnf("session: link lost, retry in %v: %v", wait, err)
		s.setStatus(Reconnecting, false, err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
