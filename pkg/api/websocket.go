package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbarter/pkg/app/core/exchange"
)

// Channels a client may subscribe to
const (
	ChannelEvents   = "events"   // every exchange event
	ChannelOrders   = "orders"   // order lifecycle events
	ChannelFeeds    = "feeds"    // price feed registrations
	ChannelTreasury = "treasury" // withdrawals
	ChannelPeers    = "peers"    // events gossiped by other nodes
)

// OrderChannel is the channel carrying the events of one order
func OrderChannel(eid uint64) string { return "order:" + strconv.FormatUint(eid, 10) }

// AccountChannel carries events naming addr as seller, buyer or owner
func AccountChannel(addr string) string { return "account:" + strings.ToLower(addr) }

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// outbound is a message for every client subscribed to one of channels.
type outbound struct {
	channels []string
	data     []byte
}

// direct is a message for a single client.
type direct struct {
	client *Client
	data   []byte
}

// Hub maintains active WebSocket connections and fans messages out to the
// subscribed ones. Only Run touches the client set.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan outbound
	direct     chan direct
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns

	mu    sync.RWMutex // guards count
	count int

	log *zap.SugaredLogger
}

// NewHub creates a new WebSocket hub
func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, sendBuffer),
		direct:     make(chan direct, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run is the hub's main loop. It closes every client when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount()
			h.log.Debugw("ws_client_connected", "client", client.id, "total", len(h.clients))

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.log.Debugw("ws_client_disconnected", "client", client.id, "total", len(h.clients))
			}

		case msg := <-h.direct:
			if h.clients[msg.client] {
				h.deliver(msg.client, msg.data)
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.subscribedToAny(msg.channels) {
					h.deliver(client, msg.data)
				}
			}
		}
	}
}

// deliver queues data for c, dropping c when it does not keep up
func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.drop(c)
		h.log.Warnw("ws_client_dropped", "client", c.id, "reason", "send buffer full")
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// BroadcastToChannel sends data to all clients subscribed to any of channels.
// Messages are dropped when the hub is backed up.
func (h *Hub) BroadcastToChannel(data interface{}, channels ...string) {
	message, err := json.Marshal(data)
	if err != nil {
		h.log.Errorw("ws_marshal_failed", "err", err)
		return
	}
	select {
	case h.broadcast <- outbound{channels: channels, data: message}:
	default:
		h.log.Warnw("ws_broadcast_dropped", "channels", channels)
	}
}

// PublishEvent routes an exchange event to its channels. It is registered as
// an exchange listener.
func (h *Hub) PublishEvent(ev exchange.Event) {
	h.BroadcastToChannel(WSMessage{Type: "event", Data: ev}, EventChannels(ev)...)
}

// EventChannels lists the channels an event is delivered on
func EventChannels(ev exchange.Event) []string {
	channels := []string{ChannelEvents}
	switch ev.Type {
	case exchange.EventOrderCreated, exchange.EventOrderCancelled, exchange.EventOrderFulfilled:
		channels = append(channels, ChannelOrders, OrderChannel(ev.EID))
	case exchange.EventPriceFeedSet:
		channels = append(channels, ChannelFeeds)
	case exchange.EventFeesWithdrawn:
		channels = append(channels, ChannelTreasury)
	}
	for _, a := range []*common.Address{ev.Seller, ev.Buyer, ev.Owner} {
		if a != nil && *a != (common.Address{}) {
			channels = append(channels, AccountChannel(a.Hex()))
		}
	}
	return channels
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	// Subscribed channels
	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

// IsSubscribed checks if client is subscribed to a channel
func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *Client) subscribedToAny(channels []string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	for _, ch := range channels {
		if c.subscriptions[ch] {
			return true
		}
	}
	return false
}

// Subscribe adds a channel subscription
func (c *Client) Subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[normalizeChannel(channel)] = true
	c.subsMu.Unlock()
}

// Unsubscribe removes a channel subscription
func (c *Client) Unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, normalizeChannel(channel))
	c.subsMu.Unlock()
}

// account channels are matched case-insensitively
func normalizeChannel(channel string) string {
	if strings.HasPrefix(strings.ToLower(channel), "account:") {
		return strings.ToLower(channel)
	}
	return channel
}

// reply queues a message for this client only, through the hub so that
// send is never written after the hub closed it
func (c *Client) reply(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.hub.direct <- direct{client: c, data: data}:
	default:
	}
}

// readPump handles subscription requests until the connection fails
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debugw("ws_read_failed", "client", c.id, "err", err)
			}
			break
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.reply(WSMessage{Type: "error", Data: "invalid message"})
			continue
		}

		switch req.Op {
		case "subscribe":
			for _, channel := range req.Channels {
				c.Subscribe(channel)
			}
			c.reply(WSMessage{Type: "subscribed", Data: req.Channels})
		case "unsubscribe":
			for _, channel := range req.Channels {
				c.Unsubscribe(channel)
			}
			c.reply(WSMessage{Type: "unsubscribed", Data: req.Channels})
		default:
			c.reply(WSMessage{Type: "error", Data: "unknown op: " + req.Op})
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket handles WebSocket upgrade and client lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("ws_upgrade_failed", "err", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
