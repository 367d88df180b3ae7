package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/meshsync/internal/engine"
	"github.com/meshsync/internal/model"
	"github.com/meshsync/internal/view"
)

type NodeHandler struct {
	eng *engine.Engine
	now func() time.Time
}

func NewNodeHandler(eng *engine.Engine) *NodeHandler {
	return &NodeHandler{eng: eng, now: time.Now}
}

// NodeItem is a node row as the node list shows it.
type NodeItem struct {
	model.Node
	DisplayName  string `json:"display_name"`
	Unread       int    `json:"unread"`
	LastHeardAgo string `json:"last_heard_ago,omitempty"`
}

type NodeListResponse struct {
	Sort view.SortKey `json:"sort"`
	// Unread holds nodes with unread direct messages when split=1.
	Unread []NodeItem `json:"unread,omitempty"`
	Nodes  []NodeItem `json:"nodes"`
}

func (h *NodeHandler) item(n model.Node) NodeItem {
	it := NodeItem{
		Node:        n,
		DisplayName: n.DisplayName(),
		Unread:      h.eng.Views().Unread(model.DMChat(n.ID)),
	}
	if n.LastHeard > 0 {
		it.LastHeardAgo = humanize.RelTime(time.Unix(n.LastHeard, 0), h.now(), "ago", "from now")
	}
	return it
}

func (h *NodeHandler) items(nodes []model.Node) []NodeItem {
	out := make([]NodeItem, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, h.item(n))
	}
	return out
}

// List serves GET /api/nodes?sort=name|last_heard&q=...&split=1&limit=N.
func (h *NodeHandler) List(w http.ResponseWriter, r *http.Request) {
	key := view.ParseSortKey(r.URL.Query().Get("sort"))
	nodes := h.eng.Views().Nodes(key, r.URL.Query().Get("q"))
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(nodes) {
		nodes = nodes[:limit]
	}
	resp := NodeListResponse{Sort: key}
	if queryInt(r, "split", 0) == 1 {
		unread, rest := h.eng.Views().PartitionUnread(nodes)
		resp.Unread = h.items(unread)
		resp.Nodes = h.items(rest)
	} else {
		resp.Nodes = h.items(nodes)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *NodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := model.FormatNodeID(chi.URLParam(r, "id"))
	n, ok := h.eng.Model().Node(id)
	if !ok {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, h.item(n))
}

type FavoriteRequest struct {
	Favorite bool `json:"favorite"`
}

func (h *NodeHandler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	var req FavoriteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	id := model.FormatNodeID(chi.URLParam(r, "id"))
	if err := h.eng.SetFavorite(r.Context(), id, req.Favorite); err != nil {
		if errors.Is(err, engine.ErrInvalidNode) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to save favorite")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "favorite": req.Favorite})
}
