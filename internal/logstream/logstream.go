package logstream

import (
	"net/http"
	"time"

	"github.com/Sandotech/Arduino-Climate-Control-System/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	sendBuffer = 256

	// backlogSize is how many recent lines a new client receives on connect.
	backlogSize = 100
)

// Hub maintains the set of active clients and broadcasts log lines to them.
// All fields except the channels are owned by the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	backlog    [][]byte
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run dispatches registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			for _, line := range h.backlog {
				client.send <- line
			}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case message := <-h.broadcast:
			h.remember(message)
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		case <-h.done:
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return
		}
	}
}

// remember appends message to the backlog, dropping the oldest line when
// it is full.
func (h *Hub) remember(message []byte) {
	if len(h.backlog) == backlogSize {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:backlogSize-1]
	}
	h.backlog = append(h.backlog, message)
}

// Stop ends Run and closes every client.
func (h *Hub) Stop() {
	close(h.done)
}

// Write implements io.Writer so the hub can be passed to logger.Setup.
// The send is non-blocking; lines are dropped while the hub is busy.
func (h *Hub) Write(p []byte) (int, error) {
	msg := make([]byte, len(p))
	copy(msg, p)
	select {
	case h.broadcast <- msg:
	default:
	}
	return len(p), nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWs upgrades the request and registers the connection with the hub.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade to websocket: %v", err)
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump runs in its own goroutine per connection. The log page never
// sends anything, so it only processes pong frames, refreshing the read
// deadline, and notices when the browser goes away. On return the client is
// unregistered, which closes send and in turn stops writePump.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error: %v", err)
			}
			return
		}
	}
}

// writePump runs in its own goroutine per connection and is the only
// writer on conn. Lines queued on send are written as one text frame per
// wakeup; a ping goes out every pingPeriod so readPump's deadline is kept
// alive. A closed send channel means the hub dropped the client: a close
// frame is sent and the connection torn down.
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
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
