// Package view derives renderer-facing projections from the state model.
// Every projection is memoized on the revisions it reads, so repeated calls
// between transitions cost a map lookup.
package view

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/meshsync/internal/metrics"
	"github.com/meshsync/internal/model"
	"github.com/meshsync/internal/state"
)

type SortKey string

const (
	SortName      SortKey = "name"
	SortLastHeard SortKey = "last_heard"
)

// ParseSortKey maps a query value to a SortKey. Empty and unknown values
// fall back to SortName.
func ParseSortKey(s string) SortKey {
	switch SortKey(strings.ToLower(strings.TrimSpace(s))) {
	case SortLastHeard, "lastheard", "recent":
		return SortLastHeard
	}
	return SortName
}

// maxNodeQueries bounds the node list memo; it is cleared when full.
const maxNodeQueries = 64

type unreadEntry struct {
	rev   uint64
	count int
}

type nodesQuery struct {
	sort  SortKey
	query string
}

type threadEntry struct {
	chatRev, nodesRev, statusRev uint64
	day                          string
	bubbles                      []Bubble
}

// Cache is safe for concurrent use.
type Cache struct {
	m   *state.Model
	now func() time.Time

	mu       sync.Mutex
	unread   map[model.ChatID]unreadEntry
	nodesRev uint64
	nodes    map[nodesQuery][]model.Node
	threads  map[model.ChatID]threadEntry
	computes uint64
}

func NewCache(m *state.Model) *Cache {
	return &Cache{
		m:       m,
		now:     time.Now,
		unread:  make(map[model.ChatID]unreadEntry),
		nodes:   make(map[nodesQuery][]model.Node),
		threads: make(map[model.ChatID]threadEntry),
	}
}

// Computes returns how many projections were recomputed rather than served
// from the memo.
func (c *Cache) Computes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.computes
}

func (c *Cache) recomputed(view string) {
	c.computes++
	metrics.ViewRecomputes.WithLabelValues(view).Inc()
}

// Unread counts incoming messages in chat newer than its read marker.
func (c *Cache) Unread(chat model.ChatID) int {
	rev := c.m.Revision(state.ChatKey(chat))
	c.mu.Lock()
	if e, ok := c.unread[chat]; ok && e.rev == rev {
		c.mu.Unlock()
		return e.count
	}
	c.mu.Unlock()

	var e unreadEntry
	c.m.VisitChat(chat, func(msgs []model.Message, lastRead time.Time, rev uint64) {
		e.rev = rev
		e.count = countUnread(msgs, lastRead)
	})

	c.mu.Lock()
	c.unread[chat] = e
	c.recomputed("unread")
	c.mu.Unlock()
	return e.count
}

func countUnread(msgs []model.Message, lastRead time.Time) int {
	n := 0
	for i := range msgs {
		if msgs[i].Outgoing {
			continue
		}
		if msgs[i].Timestamp.After(lastRead) {
			n++
		}
	}
	return n
}

// UnreadAll returns the unread count of every chat that has one.
func (c *Cache) UnreadAll() map[model.ChatID]int {
	out := make(map[model.ChatID]int)
	for _, chat := range c.m.Chats() {
		if n := c.Unread(chat); n > 0 {
			out[chat] = n
		}
	}
	return out
}

// Nodes returns the node list with favorites first, then ordered by key.
// A non-empty query keeps nodes whose long name, short name or id contains
// it, ignoring case.
func (c *Cache) Nodes(key SortKey, query string) []model.Node {
	if key != SortLastHeard {
		key = SortName
	}
	q := nodesQuery{sort: key, query: strings.ToLower(strings.TrimSpace(query))}
	rev := c.m.Revision(state.NodesKey)

	c.mu.Lock()
	if c.nodesRev == rev {
		if list, ok := c.nodes[q]; ok {
			c.mu.Unlock()
			return append([]model.Node(nil), list...)
		}
	}
	c.mu.Unlock()

	all, rev := c.m.Nodes()
	list := sortNodes(filterNodes(all, q.query), key)

	c.mu.Lock()
	if c.nodesRev != rev || len(c.nodes) >= maxNodeQueries {
		c.nodes = make(map[nodesQuery][]model.Node)
		c.nodesRev = rev
	}
	c.nodes[q] = list
	c.recomputed("nodes")
	c.mu.Unlock()
	return append([]model.Node(nil), list...)
}

func filterNodes(nodes []model.Node, q string) []model.Node {
	if q == "" {
		return nodes
	}
	out := nodes[:0:0]
	for _, n := range nodes {
		if matches(n, q) {
			out = append(out, n)
		}
	}
	return out
}

func matches(n model.Node, q string) bool {
	if strings.Contains(strings.ToLower(n.ID), q) {
		return true
	}
	if n.LongName != nil && strings.Contains(strings.ToLower(*n.LongName), q) {
		return true
	}
	return n.ShortName != nil && strings.Contains(strings.ToLower(*n.ShortName), q)
}

func sortNodes(nodes []model.Node, key SortKey) []model.Node {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.Favorite != b.Favorite {
			return a.Favorite
		}
		if key == SortLastHeard {
			if a.LastHeard != b.LastHeard {
				return a.LastHeard > b.LastHeard
			}
			return a.ID < b.ID
		}
		an, bn := strings.ToLower(a.DisplayName()), strings.ToLower(b.DisplayName())
		if an != bn {
			return an < bn
		}
		return a.ID < b.ID
	})
	return nodes
}

// PartitionUnread splits nodes into those with unread direct messages and the
// rest. Both halves keep the input order.
func (c *Cache) PartitionUnread(nodes []model.Node) (unread, rest []model.Node) {
	for _, n := range nodes {
		if c.Unread(model.DMChat(n.ID)) > 0 {
			unread = append(unread, n)
		} else {
			rest = append(rest, n)
		}
	}
	return unread, rest
}
