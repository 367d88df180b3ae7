package push

import (
	"errors"
	"sync"
)

const maxSubscriptions = 16

var ErrInvalidSubscription = errors.New("push: subscription needs endpoint, keys.p256dh and keys.auth")

// Subscription is what a browser's PushManager.subscribe returns.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s Subscription) valid() bool {
	return s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}

// Subscriptions keeps the newest maxSubscriptions browser subscriptions,
// one per endpoint.
type Subscriptions struct {
	mu   sync.Mutex
	list []Subscription
}

// Add stores sub, replacing an older one with the same endpoint.
func (s *Subscriptions) Add(sub Subscription) error {
	if !sub.valid() {
		return ErrInvalidSubscription
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(sub.Endpoint)
	s.list = append(s.list, sub)
	if over := len(s.list) - maxSubscriptions; over > 0 {
		s.list = append([]Subscription(nil), s.list[over:]...)
	}
	return nil
}

// Remove reports whether endpoint was subscribed.
func (s *Subscriptions) Remove(endpoint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(endpoint)
}

func (s *Subscriptions) removeLocked(endpoint string) bool {
	for i, sub := range s.list {
		if sub.Endpoint == endpoint {
			s.list = append(s.list[:i], s.list[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Subscriptions) List() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Subscription(nil), s.list...)
}

func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}
