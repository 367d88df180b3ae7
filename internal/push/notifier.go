// Package push sends web push notifications for incoming mesh messages to
// subscribed browsers.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/meshsync/internal/engine"
	"github.com/meshsync/internal/event"
	"github.com/meshsync/internal/logger"
	"github.com/meshsync/internal/model"
	"github.com/meshsync/internal/state"
	"github.com/meshsync/internal/view"
)

const (
	sendTimeout  = 10 * time.Second
	maxBodyRunes = 120
)

// Source is the part of *engine.Engine the notifier reads.
type Source interface {
	Subscribe() (<-chan engine.Change, func())
	Model() *state.Model
	Views() *view.Cache
}

// Notification is the JSON payload a service worker receives.
type Notification struct {
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Data  NotificationData `json:"data"`
}

type NotificationData struct {
	Chat      string `json:"chat"`
	MessageID string `json:"message_id"`
	Unread    int    `json:"unread"`
}

type sendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

type Notifier struct {
	src  Source
	keys *VAPIDKeys
	opts *webpush.Options
	subs *Subscriptions
	send sendFunc

	mu       sync.Mutex
	quiet    func() bool
	notified map[model.ChatID]string
}

// New returns a notifier signing with keys. subscriber is the VAPID contact,
// usually a mailto: address.
func New(src Source, keys *VAPIDKeys, subscriber string) *Notifier {
	return &Notifier{
		src:  src,
		keys: keys,
		opts: &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             300,
			Urgency:         webpush.UrgencyNormal,
		},
		subs:     &Subscriptions{},
		send:     webpush.SendNotificationWithContext,
		notified: make(map[model.ChatID]string),
	}
}

func (n *Notifier) PublicKey() string             { return n.keys.PublicKey }
func (n *Notifier) Subscriptions() *Subscriptions { return n.subs }

// SetQuiet installs a check run before every push; nothing is sent while it
// returns true. serve uses it to stay silent while a renderer is connected.
func (n *Notifier) SetQuiet(fn func() bool) {
	n.mu.Lock()
	n.quiet = fn
	n.mu.Unlock()
}

func (n *Notifier) isQuiet() bool {
	n.mu.Lock()
	fn := n.quiet
	n.mu.Unlock()
	return fn != nil && fn()
}

// Run pushes every newly received message until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	changes, unsubscribe := n.src.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-changes:
			if c.Kind != event.KindMessageReceived {
				continue
			}
			for _, k := range c.Keys {
				if k.Kind == state.KeyChat {
					n.notifyChat(ctx, k.Chat)
				}
			}
		}
	}
}

// notifyChat pushes the newest message of chat once. It returns how many
// subscriptions accepted it.
func (n *Notifier) notifyChat(ctx context.Context, chat model.ChatID) int {
	msgs, _ := n.src.Model().Messages(chat)
	if len(msgs) == 0 {
		return 0
	}
	last := msgs[len(msgs)-1]
	if last.Outgoing || last.Sender == n.src.Model().MyNodeID() {
		return 0
	}
	n.mu.Lock()
	if n.notified[chat] == last.ID {
		n.mu.Unlock()
		return 0
	}
	n.notified[chat] = last.ID
	n.mu.Unlock()

	subs := n.subs.List()
	if len(subs) == 0 || n.isQuiet() {
		return 0
	}
	payload, err := json.Marshal(n.build(chat, last))
	if err != nil {
		logger.Errorf("push: encode: %v", err)
		return 0
	}
	sent := 0
	for _, sub := range subs {
		if n.deliver(ctx, payload, sub) {
			sent++
		}
	}
	logger.Debugf("push: chat=%s message=%s delivered=%d/%d", chat, last.ID, sent, len(subs))
	return sent
}

func (n *Notifier) build(chat model.ChatID, msg model.Message) Notification {
	views := n.src.Views()
	sender := views.SenderName(msg.Sender)
	note := Notification{
		Title: sender,
		Body:  truncate(msg.Text, maxBodyRunes),
		Data: NotificationData{
			Chat:      chat.String(),
			MessageID: msg.ID,
			Unread:    views.Unread(chat),
		},
	}
	if chat.Kind == model.ChatKindChannel {
		name := model.Channel{Index: chat.Index}.DisplayName()
		if ch, ok := n.src.Model().Channel(chat.Index); ok {
			name = ch.DisplayName()
		}
		note.Title = "#" + name
		note.Body = truncate(sender+": "+msg.Text, maxBodyRunes)
	}
	return note
}

// deliver sends one payload. Subscriptions the push service reports as gone
// are dropped.
func (n *Notifier) deliver(ctx context.Context, payload []byte, sub Subscription) bool {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	wp := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}
	resp, err := n.send(ctx, payload, wp, n.opts)
	if err != nil {
		logger.Warnf("push: send %s: %v", shortEndpoint(sub.Endpoint), err)
		return false
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		n.subs.Remove(sub.Endpoint)
		logger.Infof("push: subscription gone %s", shortEndpoint(sub.Endpoint))
		return false
	case resp.StatusCode >= 300:
		logger.Warnf("push: send %s: status %d", shortEndpoint(sub.Endpoint), resp.StatusCode)
		return false
	}
	return true
}

func shortEndpoint(e string) string {
	if len(e) > 50 {
		return e[:50]
	}
	return e
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
