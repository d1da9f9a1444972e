package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 16384
)

// ErrConnectionClosed is returned when sending on a closed connection.
var ErrConnectionClosed = websocket.ErrCloseSent

// Connection wraps one websocket session. A single writer goroutine
// drains the send channel, guaranteeing ordered delivery per socket.
type Connection struct {
	id        string
	conn      *websocket.Conn
	send      chan *Message
	server    *Server
	logger    *log.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu         sync.RWMutex
	playerID   string
	playerName string
	avatarSeed string
	userID     int64
}

// newConnection wraps an upgraded socket.
func newConnection(id string, conn *websocket.Conn, server *Server, logger *log.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:     id,
		conn:   conn,
		send:   make(chan *Message, 256),
		server: server,
		logger: logger.WithPrefix("conn").With("session", id),
		ctx:    ctx,
		cancel: cancel,
	}
}

// start begins the read and write pumps.
func (c *Connection) start() {
	go c.writePump()
	go c.readPump()
}

// Close tears the connection down once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.conn.Close()
	})
	return err
}

// SendMessage queues a message for the writer goroutine. A full buffer
// closes the connection rather than blocking the caller.
func (c *Connection) SendMessage(msg *Message) error {
	defer func() {
		if r := recover(); r != nil {
			// Send channel closed during shutdown.
			c.logger.Debug("send on closed connection", "error", r)
		}
	}()

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn("send buffer full, closing connection")
		_ = c.Close()
		return ErrConnectionClosed
	}
}

// PlayerID returns the attached player identity, empty before auth.
func (c *Connection) PlayerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerID
}

// UserID returns the database user bound by the bearer token, if any.
func (c *Connection) UserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) setIdentity(playerID, playerName, avatarSeed string, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playerID = playerID
	c.playerName = playerName
	c.avatarSeed = avatarSeed
	c.userID = userID
}

func (c *Connection) identity() (playerID, playerName, avatarSeed string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playerID, c.playerName, c.avatarSeed
}

func (c *Connection) readPump() {
	defer func() {
		c.server.dropConnection(c)
		_ = c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// handleMessage dispatches one inbound message. Everything except auth
// and ping requires an attached identity.
func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("received message", "type", msg.Type, "player", c.PlayerID())

	if msg.Type == MessageTypeAuth {
		var data AuthData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(msg.RequestID, "invalid_message", "failed to parse auth data")
			return
		}
		c.server.handleAuth(c, msg.RequestID, data)
		return
	}

	if msg.Type == MessageTypePing {
		c.reply(msg.RequestID, MessageTypePong, PongData{Time: time.Now().UnixMilli()})
		return
	}

	if c.PlayerID() == "" {
		c.sendError(msg.RequestID, "not_authenticated", "must authenticate first")
		return
	}

	switch msg.Type {
	case MessageTypeRequestTables, MessageTypeGetTables:
		c.server.handleTables(c, msg.RequestID)

	case MessageTypeCreateTable:
		var data CreateTableData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(msg.RequestID, "invalid_message", "failed to parse create table data")
			return
		}
		c.server.handleCreateTable(c, msg.RequestID, data)

	case MessageTypeReserveSeat:
		var data ReserveSeatData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(msg.RequestID, "invalid_message", "failed to parse reserve seat data")
			return
		}
		c.server.handleReserveSeat(c, msg.RequestID, data)

	case MessageTypeReleaseSeat:
		var data ReleaseSeatData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(msg.RequestID, "invalid_message", "failed to parse release seat data")
			return
		}
		c.server.handleReleaseSeat(c, data)

	case MessageTypeSitAtSeat:
		var data SitAtSeatData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(msg.RequestID, "invalid_message", "failed to parse sit data")
			return
		}
		c.server.handleSit(c, msg.RequestID, data)

	case MessageTypeJoinTable:
		var data JoinTableData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(msg.RequestID, "invalid_message", "failed to parse join table data")
			return
		}
		c.server.handleJoin(c, msg.RequestID, data)

	case MessageTypeLeaveTable:
		var data LeaveTableData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(msg.RequestID, "invalid_message", "failed to parse leave table data")
			return
		}
		c.server.handleLeave(c, data)

	case MessageTypeWatchTable:
		var data WatchTableData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(msg.RequestID, "invalid_message", "failed to parse watch table data")
			return
		}
		c.server.handleWatch(c, data)

	case MessageTypePlayerAction:
		var data PlayerActionData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError(msg.RequestID, "invalid_message", "failed to parse action data")
			return
		}
		c.server.handleAction(c, data)

	default:
		c.sendError(msg.RequestID, "unknown_message_type", "unknown message type: "+msg.Type.String())
	}
}

// reply sends a response echoing the request id.
func (c *Connection) reply(requestID string, messageType MessageType, payload any) {
	msg, err := NewMessage(messageType, payload)
	if err != nil {
		c.logger.Error("failed to create reply", "type", messageType, "error", err)
		return
	}
	msg.RequestID = requestID
	_ = c.SendMessage(msg)
}

func (c *Connection) sendError(requestID, code, message string) {
	c.reply(requestID, MessageTypeError, ErrorData{Code: code, Message: message})
}
