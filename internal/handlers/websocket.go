package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/call-signaling/internal/middleware"
	"github.com/mossy-p/call-signaling/internal/redis"
	"github.com/mossy-p/call-signaling/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 << 10
	sendBufferSize = 256
	lookupTimeout  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// SignalingOptions wires the WebSocket endpoint to the hub and its
// collaborators. History is optional.
type SignalingOptions struct {
	Hub          *signaling.Hub
	Rooms        RoomDirectory
	History      MessageHistory
	HistoryLimit int
	Logger       *slog.Logger
}

// Client is one WebSocket connection. The hub queues frames with Send;
// writePump is the only goroutine writing to conn.
type Client struct {
	id       string
	identity string
	conn     *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	opts   SignalingOptions
	logger *slog.Logger

	// Directory room this client last joined. Only touched by readPump.
	roomID string
}

// HandleSignaling upgrades an authenticated request to a signaling
// connection bound to the token's identity.
func HandleSignaling(opts SignalingOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.GetString(middleware.ContextUserID)
		if identity == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}

		displayName := c.Query("displayName")
		if displayName == "" {
			displayName = identity
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			opts.Logger.Warn("failed to upgrade connection", "identity", identity, "error", err)
			return
		}

		client := &Client{
			id:       uuid.New().String(),
			identity: identity,
			conn:     conn,
			send:     make(chan []byte, sendBufferSize),
			done:     make(chan struct{}),
			opts:     opts,
		}
		client.logger = opts.Logger.With("connID", client.id, "identity", identity)

		if err := opts.Hub.Connect(c.Request.Context(), client, identity, displayName); err != nil {
			client.logger.Warn("signaling connection refused", "error", err)
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.TextMessage, signaling.ErrorFrame(err))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "registration failed"))
			conn.Close()
			if !errors.Is(err, signaling.ErrDuplicateBinding) {
				// The registration may still be queued behind the failure.
				opts.Hub.Disconnect(client.id)
			}
			return
		}

		client.logger.Info("peer connected")

		// Start goroutines for reading and writing
		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) ID() string { return c.id }

// Send queues data for writePump. It never blocks: a full buffer or a
// closed client reports false.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer func() {
		c.leaveDirectory()
		c.opts.Hub.Disconnect(c.id)
		c.close()
		c.conn.Close()
		c.logger.Info("peer disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", "error", err)
			}
			return
		}

		ev, err := signaling.DecodeEvent(message)
		if err != nil {
			c.logger.Debug("rejecting frame", "error", err)
			c.Send(signaling.ErrorFrame(err))
			continue
		}

		switch e := ev.(type) {
		case signaling.JoinRoom:
			join, err := c.prepareJoin(e)
			if err != nil {
				c.Send(signaling.ErrorFrame(err))
				continue
			}
			ev = join
		case signaling.LeaveRoom:
			c.leaveDirectory()
		}

		if err := c.opts.Hub.Dispatch(context.Background(), c.id, ev); err != nil {
			c.logger.Info("hub unavailable, closing connection", "error", err)
			return
		}
	}
}

// prepareJoin resolves room codes, enforces directory capacity and loads
// archived history. It runs here rather than on the hub so Redis and
// Postgres latency never stalls signaling for other connections.
func (c *Client) prepareJoin(ev signaling.JoinRoom) (signaling.JoinRoom, error) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	if ev.RoomID == "" {
		ev.RoomID = uuid.New().String()
	}

	roomID, err := c.opts.Rooms.ResolveJoin(ctx, ev.RoomID, c.id)
	if errors.Is(err, redis.ErrRoomFull) {
		return ev, signaling.Errorf(signaling.ErrInvalidState, "room %s is full", ev.RoomID)
	}
	if err != nil {
		c.logger.Error("failed to resolve room", "roomID", ev.RoomID, "error", err)
		return ev, signaling.Errorf(signaling.ErrInvalidState, "room %s is unavailable", ev.RoomID)
	}
	ev.RoomID = roomID

	if c.opts.History != nil {
		msgs, err := c.opts.History.RecentMessages(ctx, roomID, c.opts.HistoryLimit)
		if err != nil {
			c.logger.Warn("failed to load room history", "roomID", roomID, "error", err)
		} else {
			ev.History = msgs
		}
	}

	if roomID != c.roomID {
		c.leaveDirectory()
		if err := c.opts.Rooms.AddMember(ctx, roomID, c.id); err != nil {
			c.logger.Warn("failed to record room member", "roomID", roomID, "error", err)
		}
		c.roomID = roomID
	}
	return ev, nil
}

func (c *Client) leaveDirectory() {
	if c.roomID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	if err := c.opts.Rooms.RemoveMember(ctx, c.roomID, c.id); err != nil {
		c.logger.Warn("failed to remove room member", "roomID", c.roomID, "error", err)
	}
	c.roomID = ""
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return

		case <-c.opts.Hub.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
