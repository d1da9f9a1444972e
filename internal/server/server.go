package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/goldenflop/goldenflop/internal/registry"
	"github.com/goldenflop/goldenflop/internal/room"
	"github.com/goldenflop/goldenflop/internal/store"
)

// Server is the websocket transport adapter: it owns the connection
// table and routes typed commands into the Service. It holds no game
// state; the rooms are the only authority.
type Server struct {
	service  *Service
	registry *registry.Registry
	store    *store.Store
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	logger   *log.Logger

	mu          sync.RWMutex
	connections map[string]*Connection // playerID -> active connection

	httpServer *http.Server
	routesOnce sync.Once
}

// NewServer builds the adapter. The registry and service are attached
// afterwards via setters: both need the server as their Sender.
func NewServer(s *store.Store, logger *log.Logger) *Server {
	return &Server{
		store: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers connect from the game origin; tighten in deployment.
				return true
			},
		},
		mux:         http.NewServeMux(),
		logger:      logger.WithPrefix("ws"),
		connections: make(map[string]*Connection),
	}
}

// SetService attaches the command layer.
func (s *Server) SetService(service *Service) {
	s.service = service
}

// SetRegistry attaches the room registry.
func (s *Server) SetRegistry(reg *registry.Registry) {
	s.registry = reg
}

// Send implements room.Sender: events are wrapped in the envelope and
// dropped when the player has no live session.
func (s *Server) Send(playerID, event string, payload any) {
	s.mu.RLock()
	conn, ok := s.connections[playerID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	msg, err := NewMessage(MessageType(event), payload)
	if err != nil {
		s.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}
	_ = conn.SendMessage(msg)
}

// Start listens and serves until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve runs the adapter on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.ensureRoutes()
	s.httpServer = &http.Server{Handler: s.mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("websocket server starting", "addr", listener.Addr().String())
	err := s.httpServer.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) ensureRoutes() {
	s.routesOnce.Do(func() {
		s.mux.HandleFunc("/ws", s.handleWebSocket)
		s.mux.HandleFunc("/health", s.handleHealth)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK\n")
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade error", "error", err)
		return
	}

	c := newConnection(uuid.NewString(), conn, s, s.logger)
	c.start()
}

// handleAuth attaches an identity to the connection. A missing identity
// is fatal for the connection.
func (s *Server) handleAuth(c *Connection, requestID string, data AuthData) {
	if data.PlayerID == "" || data.PlayerName == "" {
		c.reply(requestID, MessageTypeAuthResponse, AuthResponseData{
			Success: false,
			Error:   "playerId and playerName required",
		})
		// Missing identity is fatal; let the writer flush the response
		// before the socket goes away.
		go func() {
			time.Sleep(100 * time.Millisecond)
			_ = c.Close()
		}()
		return
	}

	var userID int64
	if data.Token != "" {
		sess, err := s.store.GetSession(data.Token, time.Now())
		if err != nil {
			c.reply(requestID, MessageTypeAuthResponse, AuthResponseData{
				Success: false,
				Error:   "invalid or expired token",
			})
			return
		}
		userID = sess.UserID
	}

	c.setIdentity(data.PlayerID, data.PlayerName, data.AvatarSeed, userID)

	s.mu.Lock()
	if previous, ok := s.connections[data.PlayerID]; ok && previous != c {
		// Latest session wins; the old socket is cut loose.
		_ = previous.Close()
	}
	s.connections[data.PlayerID] = c
	s.mu.Unlock()

	c.reply(requestID, MessageTypeAuthResponse, AuthResponseData{
		Success:  true,
		PlayerID: data.PlayerID,
		UserID:   userID,
	})

	// Reconnection restores the player to any room they occupy.
	restored := s.registry.OnReconnect(data.PlayerID, c.id)
	s.logger.Info("player attached", "player", data.PlayerID, "restoredRooms", len(restored))
}

// dropConnection detaches a closed socket and starts the disconnect
// grace for its player.
func (s *Server) dropConnection(c *Connection) {
	playerID := c.PlayerID()
	if playerID == "" {
		return
	}

	s.mu.Lock()
	current, ok := s.connections[playerID]
	if ok && current == c {
		delete(s.connections, playerID)
	} else {
		ok = false
	}
	s.mu.Unlock()

	if ok {
		s.logger.Info("player disconnected", "player", playerID)
		s.registry.OnDisconnect(playerID)
	}
}

func (s *Server) handleTables(c *Connection, requestID string) {
	c.reply(requestID, MessageType(room.EventTablesList), map[string]any{
		"tables": s.service.Tables(),
	})
}

// BroadcastLobby pushes the lobby to every connected player.
func (s *Server) BroadcastLobby() {
	payload := map[string]any{"tables": s.service.Tables()}
	msg, err := NewMessage(MessageType(room.EventTablesList), payload)
	if err != nil {
		return
	}

	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		_ = c.SendMessage(msg)
	}
}

func (s *Server) handleCreateTable(c *Connection, requestID string, data CreateTableData) {
	tableID, err := s.service.CreateTable(c.PlayerID(), data)
	if err != nil {
		c.reply(requestID, MessageTypeCreateTable, CreateTableResponse{Error: err.Error()})
		return
	}
	c.reply(requestID, MessageTypeCreateTable, CreateTableResponse{TableID: tableID})
	s.BroadcastLobby()
}

func (s *Server) handleReserveSeat(c *Connection, requestID string, data ReserveSeatData) {
	playerID, playerName, avatarSeed := c.identity()
	if err := s.service.ReserveSeat(playerID, playerName, avatarSeed, data); err != nil {
		c.reply(requestID, MessageTypeReserveSeat, ReserveSeatResponse{OK: false, Error: err.Error()})
		return
	}
	c.reply(requestID, MessageTypeReserveSeat, ReserveSeatResponse{OK: true})
}

func (s *Server) handleReleaseSeat(c *Connection, data ReleaseSeatData) {
	_ = s.service.ReleaseSeat(c.PlayerID(), data)
}

func (s *Server) handleSit(c *Connection, requestID string, data SitAtSeatData) {
	playerID, playerName, avatarSeed := c.identity()
	if data.PlayerName == "" {
		data.PlayerName = playerName
	}
	if data.AvatarSeed == "" {
		data.AvatarSeed = avatarSeed
	}

	seatIndex, err := s.service.Sit(c.ctx, playerID, data)
	if err != nil {
		c.reply(requestID, MessageTypeSitAtSeat, SitAtSeatResponse{Error: err.Error()})
		return
	}
	c.reply(requestID, MessageTypeSitAtSeat, SitAtSeatResponse{SeatIndex: &seatIndex})
}

func (s *Server) handleJoin(c *Connection, requestID string, data JoinTableData) {
	playerID, playerName, _ := c.identity()
	if data.PlayerName == "" {
		data.PlayerName = playerName
	}

	if err := s.service.JoinLedger(playerID, c.UserID(), data); err != nil {
		c.reply(requestID, MessageTypeJoinTable, JoinTableResponse{Error: err.Error()})
		return
	}
	c.reply(requestID, MessageTypeJoinTable, JoinTableResponse{})
}

func (s *Server) handleLeave(c *Connection, data LeaveTableData) {
	if err := s.service.Leave(c.PlayerID(), data); err != nil {
		c.sendError("", "leave_failed", err.Error())
	}
}

func (s *Server) handleWatch(c *Connection, data WatchTableData) {
	if err := s.service.Watch(c.PlayerID(), data); err != nil {
		c.sendError("", "watch_failed", err.Error())
	}
}

func (s *Server) handleAction(c *Connection, data PlayerActionData) {
	if err := s.service.Action(c.PlayerID(), data); err != nil {
		c.sendError("", "invalid_action", err.Error())
	}
}
