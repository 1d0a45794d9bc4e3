// Package chat 负责频道消息的实时推送：每个频道一个房间，Hub 的事件循环独占房间表。
package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "townsquare_chat_clients",
		Help: "Connected chat websocket clients.",
	})
	droppedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "townsquare_chat_dropped_clients_total",
		Help: "Chat clients dropped because their send buffer was full.",
	})
)

type envelope struct {
	channelID uint
	data      []byte
}

type delivery struct {
	client *Client
	data   []byte
}

// Hub 在线连接按频道分组
type Hub struct {
	rooms map[uint]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	unicast    chan delivery
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uint]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope),
		unicast:    make(chan delivery),
		done:       make(chan struct{}),
	}
}

// Run 事件循环，ctx 取消后关闭所有连接的发送队列
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, room := range h.rooms {
				for c := range room {
					close(c.send)
				}
			}
			h.rooms = map[uint]map[*Client]struct{}{}
			connectedClients.Set(0)
			return
		case c := <-h.register:
			room, ok := h.rooms[c.channelID]
			if !ok {
				room = make(map[*Client]struct{})
				h.rooms[c.channelID] = room
			}
			room[c] = struct{}{}
			connectedClients.Inc()
		case c := <-h.unregister:
			h.remove(c)
		case env := <-h.broadcast:
			for c := range h.rooms[env.channelID] {
				h.deliver(c, env.data)
			}
		case d := <-h.unicast:
			if _, ok := h.rooms[d.client.channelID][d.client]; ok {
				h.deliver(d.client, d.data)
			}
		}
	}
}

// deliver 发送队列已满的连接直接断开
func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("Dropping slow chat client", "client_id", c.id, "channel_id", c.channelID, "user_id", c.userID)
		droppedClients.Inc()
		h.remove(c)
	}
}

func (h *Hub) remove(c *Client) {
	room, ok := h.rooms[c.channelID]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	close(c.send)
	connectedClients.Dec()
	if len(room) == 0 {
		delete(h.rooms, c.channelID)
	}
}

func (h *Hub) Join(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

func (h *Hub) Leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish 把 payload 编码为 JSON 推送给频道内所有连接
func (h *Hub) Publish(channelID uint, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to encode chat payload", "channel_id", channelID, "error", err)
		return
	}
	select {
	case h.broadcast <- envelope{channelID: channelID, data: data}:
	case <-h.done:
	}
}

func (h *Hub) sendTo(c *Client, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case h.unicast <- delivery{client: c, data: data}:
	case <-h.done:
	}
}
