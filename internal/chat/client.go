package chat

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"townsquare/internal/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Upgrader 只接受同源或不带 Origin 的请求
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// Poster 客户端发来的消息经由它校验并落库
type Poster interface {
	PostMessage(ctx context.Context, userID, channelID uint, body string) (*services.MessageView, error)
}

type incoming struct {
	Body string `json:"body"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// Client 一条 websocket 连接
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	poster    Poster
	channelID uint
	userID    uint
	send      chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn, poster Poster, channelID, userID uint) *Client {
	return &Client{
		id:        uuid.NewString(),
		hub:       hub,
		conn:      conn,
		poster:    poster,
		channelID: channelID,
		userID:    userID,
		send:      make(chan []byte, sendBuffer),
	}
}

// Serve 阻塞直到连接断开
func (c *Client) Serve(ctx context.Context) {
	c.hub.Join(c)
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in incoming
		if err := c.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Chat connection closed unexpectedly", "client_id", c.id, "channel_id", c.channelID, "user_id", c.userID, "error", err)
			}
			return
		}
		if _, err := c.poster.PostMessage(ctx, c.userID, c.channelID, in.Body); err != nil {
			if services.KindOf(err) == services.KindInternal {
				slog.Error("Failed to post chat message", "channel_id", c.channelID, "user_id", c.userID, "error", err)
			}
			c.hub.sendTo(c, errorFrame{Error: services.Message(err)})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
