package engine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/meshsync/internal/event"
	"github.com/meshsync/internal/logger"
	"github.com/meshsync/internal/model"
)

// MaxTextBytes is the largest text payload a mesh packet carries.
const MaxTextBytes = 228

var (
	ErrEmptyText   = errors.New("engine: empty text")
	ErrTextTooLong = fmt.Errorf("engine: text longer than %d bytes", MaxTextBytes)
	ErrInvalidNode = errors.New("engine: invalid node id")
	ErrNotSent     = errors.New("engine: message not handed to gateway")
)

func randomPacketID() model.PacketID {
	var b [4]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return model.PacketID(time.Now().UnixNano()&0xffffffff | 1)
		}
		if id := binary.BigEndian.Uint32(b[:]); id != 0 {
			return model.PacketID(id)
		}
	}
}

func (e *Engine) packetID() model.PacketID {
	for {
		id := e.newPacket()
		if _, taken := e.model.MessageByPacket(id); !taken {
			return id
		}
	}
}

// SendMessage appends a pending outgoing message and queues it for
// transmission. It returns once the local transition is visible. A message
// the gateway link refuses stays in the log as failed and ErrNotSent is
// returned with it.
func (e *Engine) SendMessage(ctx context.Context, chat model.ChatID, text, replyID string) (model.Message, error) {
	if !chat.Valid() {
		return model.Message{}, model.ErrInvalidChatID
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, ErrEmptyText
	}
	if len(text) > MaxTextBytes {
		return model.Message{}, ErrTextTooLong
	}
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}

	pid := e.packetID()
	res := e.apply(event.MessageSent{Message: model.Message{
		PacketID: pid,
		Chat:     chat,
		Text:     text,
		ReplyID:  strings.TrimSpace(replyID),
		Outgoing: true,
	}})
	if !res.Applied {
		return model.Message{}, fmt.Errorf("engine: send dropped: %s", res.Reason)
	}
	msg, _ := e.model.MessageByRef(res.MessageID)
	e.acks.Track(pid, e.now())

	if err := e.sess.Send(msg); err != nil {
		logger.Warnf("engine: send chat=%s packet=%d: %v", chat, pid, err)
		e.acks.Resolve(pid)
		e.apply(event.AckUpdated{PacketID: pid, Status: model.AckFailed})
		msg, _ = e.model.MessageByRef(res.MessageID)
		return msg, fmt.Errorf("%w: %v", ErrNotSent, err)
	}
	logger.Debugf("engine: queued chat=%s packet=%d", chat, pid)
	return msg, nil
}

// SetLastRead moves chat's read marker to at. A zero at means "everything
// so far": the newest message timestamp or now, whichever is later.
func (e *Engine) SetLastRead(ctx context.Context, chat model.ChatID, at time.Time) error {
	if !chat.Valid() {
		return model.ErrInvalidChatID
	}
	if at.IsZero() {
		at = e.now().UTC()
		msgs, _ := e.model.Messages(chat)
		for _, m := range msgs {
			if m.Timestamp.After(at) {
				at = m.Timestamp
			}
		}
	}
	res := e.apply(event.LastReadSet{Chat: chat, At: at})
	if !res.Applied || e.store == nil {
		return nil
	}
	if err := e.store.SetLastRead(ctx, chat, at); err != nil {
		return fmt.Errorf("engine: persist last read: %w", err)
	}
	return nil
}

func (e *Engine) SetFavorite(ctx context.Context, nodeID string, favorite bool) error {
	id := model.FormatNodeID(nodeID)
	if id == "" || model.IsBroadcast(id) {
		return ErrInvalidNode
	}
	res := e.apply(event.FavoriteSet{NodeID: id, Favorite: favorite})
	if !res.Applied || e.store == nil {
		return nil
	}
	if err := e.store.SetFavorite(ctx, id, favorite); err != nil {
		return fmt.Errorf("engine: persist favorite: %w", err)
	}
	return nil
}
