// Package engine composes the model, reducer, views, ack watchdog and
// gateway session, and is the API a renderer talks to.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meshsync/internal/ack"
	"github.com/meshsync/internal/event"
	"github.com/meshsync/internal/logger"
	"github.com/meshsync/internal/metrics"
	"github.com/meshsync/internal/model"
	"github.com/meshsync/internal/session"
	"github.com/meshsync/internal/state"
	"github.com/meshsync/internal/storage"
	"github.com/meshsync/internal/view"
)

// Transport is the gateway link. *session.Session implements it.
type Transport interface {
	Connect(ctx context.Context)
	Disconnect()
	Send(msg model.Message) error
	RequestSnapshot()
	Status() session.Status
	StatusChanges() <-chan session.Status
}

type Options struct {
	Session session.Config
	Dialer  session.Dialer
	// Transport overrides the gateway session built from Session and Dialer.
	Transport        Transport
	Store            storage.MarkerStore
	QueueSize        int
	SubscriberBuffer int
	AckTimeout       time.Duration
	AckCheckInterval time.Duration
}

// Change tells subscribers which slices moved and the global revision after
// the move. Status is set for link changes and Keys is empty then.
type Change struct {
	Revision uint64          `json:"revision"`
	Kind     event.Kind      `json:"kind,omitempty"`
	Keys     []state.Key     `json:"keys,omitempty"`
	Status   *session.Status `json:"status,omitempty"`
}

type Engine struct {
	model   *state.Model
	reducer *state.Reducer
	views   *view.Cache
	acks    *ack.Tracker
	sess    Transport
	store   storage.MarkerStore
	q       *queue

	ackEvery  time.Duration
	subBuf    int
	newPacket func() model.PacketID
	now       func() time.Time

	// applyMu orders transitions with their publication.
	applyMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[int]chan Change
	nextSub int

	restoreOnce sync.Once
	restoreErr  error
}

func New(opts Options) *Engine {
	m := state.NewModel()
	e := &Engine{
		model:     m,
		reducer:   state.NewReducer(m),
		views:     view.NewCache(m),
		acks:      ack.NewTracker(opts.AckTimeout),
		store:     opts.Store,
		q:         newQueue(opts.QueueSize),
		ackEvery:  opts.AckCheckInterval,
		subBuf:    opts.SubscriberBuffer,
		newPacket: randomPacketID,
		now:       time.Now,
		subs:      make(map[int]chan Change),
	}
	if e.ackEvery <= 0 {
		e.ackEvery = 5 * time.Second
	}
	if e.subBuf <= 0 {
		e.subBuf = 64
	}
	e.sess = opts.Transport
	if e.sess == nil {
		e.sess = session.New(opts.Session, opts.Dialer, e.Enqueue)
	}
	return e
}

func (e *Engine) Model() *state.Model { return e.model }
func (e *Engine) Views() *view.Cache  { return e.views }

// Snapshot copies the whole model at one revision.
func (e *Engine) Snapshot() model.Snapshot { return e.model.Snapshot() }

func (e *Engine) Status() session.Status { return e.sess.Status() }

// Connect starts the gateway link; the engine keeps running regardless of
// link state.
func (e *Engine) Connect(ctx context.Context) { e.sess.Connect(ctx) }

func (e *Engine) Disconnect() { e.sess.Disconnect() }

// Enqueue hands an inbound event to the reducer loop. It never blocks.
func (e *Engine) Enqueue(ev event.Event) {
	if ev != nil {
		e.q.push(ev)
	}
}

// Run drains the event queue and drives the ack watchdog until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Restore(ctx); err != nil {
		logger.Errorf("engine: restore markers: %v", err)
	}
	ticker := time.NewTicker(e.ackEvery)
	defer ticker.Stop()
	statuses := e.sess.StatusChanges()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.q.signal:
			e.drain()
		case <-ticker.C:
			e.expireAcks(e.now())
		case st := <-statuses:
			// events the session queued before this status apply first
			e.drain()
			e.applyMu.Lock()
			e.publish(Change{Revision: e.model.GlobalRevision(), Status: &st})
			e.applyMu.Unlock()
		}
	}
}

func (e *Engine) drain() {
	for {
		ev, ok := e.q.pop()
		if !ok {
			break
		}
		e.apply(ev)
	}
	if e.q.takeResync() {
		logger.Warnf("engine: queue overflow, requesting snapshot")
		e.sess.RequestSnapshot()
	}
}

// apply runs one transition and notifies subscribers when it changed
// anything.
func (e *Engine) apply(ev event.Event) state.Result {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	res := e.reducer.Apply(ev)
	if !res.Applied {
		metrics.EventsDropped.WithLabelValues(string(res.Reason)).Inc()
		return res
	}
	metrics.EventsApplied.WithLabelValues(string(ev.Kind())).Inc()
	if a, ok := ev.(event.AckUpdated); ok {
		e.acks.Resolve(a.PacketID)
	}
	e.publish(Change{Revision: res.Revision, Kind: ev.Kind(), Keys: res.Keys})
	return res
}

func (e *Engine) expireAcks(now time.Time) {
	for _, pid := range e.acks.Expired(now) {
		if res := e.apply(event.AckUpdated{PacketID: pid, Status: model.AckFailed}); res.Applied {
			metrics.AckTimeouts.Inc()
			logger.Warnf("engine: ack timeout packet=%d", pid)
		}
	}
}

// Restore loads read markers and favorites from the store into the model.
// It runs once; later calls return the first result.
func (e *Engine) Restore(ctx context.Context) error {
	e.restoreOnce.Do(func() {
		if e.store == nil {
			return
		}
		lr, err := e.store.LoadLastRead(ctx)
		if err != nil {
			e.restoreErr = err
			return
		}
		for chat, at := range lr {
			e.apply(event.LastReadSet{Chat: chat, At: at})
		}
		favs, err := e.store.LoadFavorites(ctx)
		if err != nil {
			e.restoreErr = err
			return
		}
		for id := range favs {
			e.apply(event.FavoriteSet{NodeID: id, Favorite: true})
		}
		logger.Infof("engine: restored markers chats=%d favorites=%d", len(lr), len(favs))
	})
	if e.restoreErr != nil {
		return fmt.Errorf("engine: restore: %w", e.restoreErr)
	}
	return nil
}
