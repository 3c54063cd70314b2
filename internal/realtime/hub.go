// Package realtime is the websocket broker behind the messaging views: it
// fans confirmed message inserts out to both participants and relays typing
// presence per conversation channel.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CoveTalks/CoveTalksApp/internal/metrics"
	"github.com/CoveTalks/CoveTalksApp/internal/models"
	"github.com/CoveTalks/CoveTalksApp/internal/presence"
	"github.com/CoveTalks/CoveTalksApp/internal/services"
)

type Hub struct {
	clients    map[uuid.UUID]map[*Client]struct{}
	presence   *channelRegistry
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event
	typing     chan typingUpdate
	log        zerolog.Logger
}

type typingUpdate struct {
	key    string
	signal models.TypingSignal
}

type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	memberID uuid.UUID
	send     chan []byte
}

type sender interface {
	Send(
		ctx context.Context,
		senderID uuid.UUID,
		recipientID uuid.UUID,
		subject string,
		body string,
		parentID *uuid.UUID,
	) (*services.Delivery, error)
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		presence:   newChannelRegistry(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, 64),
		typing:     make(chan typingUpdate, 64),
		log:        log,
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, memberID uuid.UUID) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		memberID: memberID,
		send:     make(chan []byte, 32),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.memberID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.memberID] = set
			}
			set[client] = struct{}{}
			metrics.WSConnections.Inc()
		case client := <-h.unregister:
			set, ok := h.clients[client.memberID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
				metrics.WSConnections.Dec()
			}
			if len(set) == 0 {
				delete(h.clients, client.memberID)
				h.dropPresence(client.memberID)
			}
		case event := <-h.broadcast:
			h.deliver(event)
		case update := <-h.typing:
			h.relayTyping(update)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// NotifyDelivery fans a confirmed send out to both participants. Called from
// the websocket read pump and from the REST send handler, so a message posted
// over HTTP still produces a realtime echo.
func (h *Hub) NotifyDelivery(delivery *services.Delivery) {
	h.broadcast <- &Event{
		Type:      EventMessageNew,
		Message:   delivery.Message,
		Timestamp: services.FormatTimestamp(delivery.Message.CreatedAt),
	}
}

// Typing feeds one typing signal into the per-channel presence registry.
func (h *Hub) Typing(channelKey string, signal models.TypingSignal) {
	h.typing <- typingUpdate{key: channelKey, signal: signal}
}

func (h *Hub) deliver(event *Event) {
	if event.Message == nil {
		return
	}

	encoded, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("encode event")
		return
	}

	h.sendToMember(event.Message.SenderID, encoded)
	if event.Message.RecipientID != event.Message.SenderID {
		h.sendToMember(event.Message.RecipientID, encoded)
	}
	metrics.MessagesDelivered.Inc()
}

func (h *Hub) relayTyping(update typingUpdate) {
	snapshot := h.presence.update(update.key, update.signal)
	metrics.TypingEvents.Inc()
	h.pushPresence(update.key, snapshot)
}

func (h *Hub) dropPresence(memberID uuid.UUID) {
	for key, snapshot := range h.presence.drop(memberID) {
		h.pushPresence(key, snapshot)
	}
}

func (h *Hub) pushPresence(key string, snapshot []models.TypingSignal) {
	participants, err := channelParticipants(key)
	if err != nil {
		h.log.Warn().Err(err).Msg("drop typing update")
		return
	}

	encoded, err := json.Marshal(&Event{
		Type:       EventPresence,
		ChannelKey: key,
		Typing:     snapshot,
		Timestamp:  services.FormatTimestamp(time.Now().UTC()),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("encode presence event")
		return
	}

	h.sendToMember(participants[0], encoded)
	h.sendToMember(participants[1], encoded)
}

func (h *Hub) sendToMember(memberID uuid.UUID, payload []byte) {
	set, ok := h.clients[memberID]
	if !ok {
		return
	}

	for client := range set {
		select {
		case client.send <- payload:
		default:
			delete(set, client)
			close(client.send)
			metrics.WSConnections.Dec()
		}
	}
	if len(set) == 0 {
		// Dropping a member's last client here means the unregister path will
		// never see it, so typing presence must be cleared now; otherwise a
		// member typing at drop time stays typing forever.
		delete(h.clients, memberID)
		h.dropPresence(memberID)
	}
}

func (c *Client) ReadPump(service sender) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			writeError(c, "invalid frame payload")
			continue
		}

		switch frame.Type {
		case FrameMessage:
			c.handleSend(service, frame)
		case FrameTyping:
			c.handleTyping(frame)
		default:
			writeError(c, "unsupported frame type")
		}
	}
}

func (c *Client) handleSend(service sender, frame Frame) {
	delivery, err := service.Send(
		context.Background(),
		c.memberID,
		frame.RecipientID,
		frame.Subject,
		frame.Body,
		frame.ParentID,
	)
	if err != nil {
		metrics.SendFailures.Inc()
		writeError(c, "failed to send message")
		return
	}

	metrics.MessagesSent.Inc()
	c.hub.NotifyDelivery(delivery)
}

func (c *Client) handleTyping(frame Frame) {
	if frame.CounterpartyID == uuid.Nil || frame.CounterpartyID == c.memberID {
		writeError(c, "invalid counterparty id")
		return
	}

	c.hub.Typing(presence.ChannelKey(c.memberID, frame.CounterpartyID), models.TypingSignal{
		MemberID:    c.memberID,
		DisplayName: frame.DisplayName,
		IsTyping:    frame.IsTyping,
	})
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func writeError(client *Client, message string) {
	payload, err := json.Marshal(Event{
		Type:      EventError,
		Error:     message,
		Timestamp: services.FormatTimestamp(time.Now().UTC()),
	})
	if err != nil {
		return
	}
	select {
	case client.send <- payload:
	default:
		client.hub.Unregister(client)
	}
}
