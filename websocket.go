package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSManager is the session manager: it tracks live connections, room
// subscriber sets and the username bound to each connection, and fans
// out events. It doubles as the event bus for the global friend
// notifications, where every registered client is a subscriber.
type WSManager struct {
	db         *Database
	state      *RoomStore
	files      *FileBuffer
	clients    map[*WSClient]bool
	rooms      map[string][]*WSClient
	broadcast  chan BroadcastMsg
	unregister chan *WSClient
	mutex      sync.RWMutex
}

type WSClient struct {
	id       string
	conn     *websocket.Conn
	manager  *WSManager
	send     chan []byte
	rooms    map[string]bool
	username string       // guarded by manager.mutex
	lastPing atomic.Int64 // unix nanos, stored by the pong handler
}

// BroadcastMsg carries an encoded frame to a room's subscribers, or to
// every connected client when Room is empty.
type BroadcastMsg struct {
	Room    string
	Message []byte
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

func NewWSManager(db *Database, state *RoomStore, files *FileBuffer) *WSManager {
	manager := &WSManager{
		db:         db,
		state:      state,
		files:      files,
		clients:    make(map[*WSClient]bool),
		rooms:      make(map[string][]*WSClient),
		broadcast:  make(chan BroadcastMsg),
		unregister: make(chan *WSClient),
	}

	go manager.run()
	return manager
}

func (m *WSManager) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-m.unregister:
			m.mutex.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				for room := range client.rooms {
					m.removeClientFromRoom(client, room)
				}
				m.mutex.Unlock()
				close(client.send)
			} else {
				m.mutex.Unlock()
			}
			log.Printf("Client %s disconnected", client.id)

		case msg := <-m.broadcast:
			m.deliver(msg)

		case <-ticker.C:
			m.checkClientHealth()
		}
	}
}

// deliver fans a frame out to the target subscriber set. A client whose
// send buffer is full is dropped rather than blocking the others.
func (m *WSManager) deliver(msg BroadcastMsg) {
	m.mutex.RLock()
	var targets []*WSClient
	if msg.Room == "" {
		targets = make([]*WSClient, 0, len(m.clients))
		for client := range m.clients {
			targets = append(targets, client)
		}
	} else {
		targets = append(targets, m.rooms[msg.Room]...)
	}

	var failed []*WSClient
	for _, client := range targets {
		if !m.trySend(client, msg.Message) {
			failed = append(failed, client)
		}
	}
	m.mutex.RUnlock()

	m.dropClients(failed)
}

// trySend requires m.mutex held (read) so the send channel cannot be
// closed mid-send.
func (m *WSManager) trySend(client *WSClient, message []byte) bool {
	if _, ok := m.clients[client]; !ok {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

func (m *WSManager) dropClients(clients []*WSClient) {
	if len(clients) == 0 {
		return
	}

	m.mutex.Lock()
	var toClose []chan []byte
	for _, client := range clients {
		if _, ok := m.clients[client]; ok {
			delete(m.clients, client)
			for room := range client.rooms {
				m.removeClientFromRoom(client, room)
			}
			toClose = append(toClose, client.send)
			log.Printf("Client %s dropped due to full send buffer", client.id)
		}
	}
	m.mutex.Unlock()

	for _, ch := range toClose {
		close(ch)
	}
}

func (m *WSManager) checkClientHealth() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for client := range m.clients {
		if time.Since(time.Unix(0, client.lastPing.Load())) > 60*time.Second {
			client.conn.Close()
		}
	}
}

func (m *WSManager) addClientToRoom(client *WSClient, room string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	// A connection dropped mid-handler must not re-enter a room
	if _, ok := m.clients[client]; !ok {
		return
	}

	// Re-joining is a no-op
	for _, c := range m.rooms[room] {
		if c == client {
			return
		}
	}

	m.rooms[room] = append(m.rooms[room], client)
	client.rooms[room] = true
}

// removeClientFromRoom requires m.mutex held.
func (m *WSManager) removeClientFromRoom(client *WSClient, room string) {
	for i, c := range m.rooms[room] {
		if c == client {
			m.rooms[room] = append(m.rooms[room][:i], m.rooms[room][i+1:]...)
			break
		}
	}
	delete(client.rooms, room)
}

func (m *WSManager) bindUsername(client *WSClient, username string) {
	m.mutex.Lock()
	client.username = username
	m.mutex.Unlock()
}

func (m *WSManager) clientsFor(username string) []*WSClient {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var out []*WSClient
	for client := range m.clients {
		if client.username == username {
			out = append(out, client)
		}
	}
	return out
}

func (m *WSManager) BroadcastToRoom(room string, msgType string, data interface{}) {
	jsonData, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		log.Printf("Failed to marshal broadcast message: %v", err)
		return
	}

	m.broadcast <- BroadcastMsg{Room: room, Message: jsonData}
}

// BroadcastAll notifies every connected client, not just interested
// parties. Cheap at this scale; the friend events depend on it.
func (m *WSManager) BroadcastAll(msgType string, data interface{}) {
	m.BroadcastToRoom("", msgType, data)
}

func (m *WSManager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &WSClient{
		id:      uuid.NewString(),
		conn:    conn,
		manager: m,
		send:    make(chan []byte, 256),
		rooms:   make(map[string]bool),
	}
	client.lastPing.Store(time.Now().UnixNano())

	// Register before the pumps start so the first inbound event can
	// already reach this connection with a direct reply.
	m.mutex.Lock()
	m.clients[client] = true
	m.mutex.Unlock()
	log.Printf("Client %s connected", client.id)

	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.manager.unregister <- c
		c.conn.Close()
	}()

	// File uploads arrive inline as base64 data-URL strings, so the
	// read limit is sized to the encoded ceiling, not the decoded one.
	c.conn.SetReadLimit(maxUploadFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.lastPing.Store(time.Now().UnixNano())
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Printf("Invalid JSON from client: %v", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendEvent delivers a frame to this connection only.
func (c *WSClient) sendEvent(msgType string, data interface{}) {
	jsonData, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		log.Printf("Failed to marshal %s event: %v", msgType, err)
		return
	}

	c.manager.mutex.RLock()
	ok := c.manager.trySend(c, jsonData)
	c.manager.mutex.RUnlock()

	if !ok {
		c.manager.dropClients([]*WSClient{c})
	}
}

func (c *WSClient) handleMessage(msg WSMessage) {
	switch msg.Type {
	case "login":
		c.handleLogin(msg.Data)
	case "add-request":
		c.handleAddRequest(msg.Data)
	case "accept-request":
		c.handleAcceptRequest(msg.Data)
	case "join-room":
		c.handleJoinRoom(msg.Data)
	case "chat-msg":
		c.handleChatMsg(msg.Data)
	case "file-upload":
		c.handleFileUpload(msg.Data)
	case "spy":
		c.handleSpy(msg.Data)
	default:
		log.Printf("Unknown message type: %s", msg.Type)
	}
}

func (c *WSClient) handleLogin(data interface{}) {
	jsonData, _ := json.Marshal(data)
	var login LoginData
	if err := json.Unmarshal(jsonData, &login); err != nil {
		log.Printf("Invalid login data: %v", err)
		return
	}

	c.manager.bindUsername(c, login.Username)

	user, err := c.manager.db.GetUserByUsername(login.Username)
	if err != nil {
		// Unknown username gets no setup event
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("Login lookup for %s failed: %v", login.Username, err)
		}
		return
	}

	c.sendEvent("setup", SetupData{
		Friends:     user.Friends,
		Requests:    user.Requests,
		Muted:       user.Muted,
		MuteExpires: user.MuteExpires,
	})
}

func (c *WSClient) handleAddRequest(data interface{}) {
	jsonData, _ := json.Marshal(data)
	var req FriendEventData
	if err := json.Unmarshal(jsonData, &req); err != nil {
		log.Printf("Invalid add-request data: %v", err)
		return
	}

	if err := c.manager.db.AddFriendRequest(req.From, req.To); err != nil {
		// Absent target is a silent no-op
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("add-request %s -> %s failed: %v", req.From, req.To, err)
		}
		return
	}

	c.manager.BroadcastAll("request-update", RequestUpdateBroadcast{To: req.To})
}

func (c *WSClient) handleAcceptRequest(data interface{}) {
	jsonData, _ := json.Marshal(data)
	var req FriendEventData
	if err := json.Unmarshal(jsonData, &req); err != nil {
		log.Printf("Invalid accept-request data: %v", err)
		return
	}

	if err := c.manager.db.AcceptFriend(req.From, req.To); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("accept-request %s -> %s failed: %v", req.From, req.To, err)
		}
		return
	}

	c.manager.BroadcastAll("friend-update", FriendUpdateBroadcast{From: req.From, To: req.To})
}

func (c *WSClient) handleJoinRoom(data interface{}) {
	jsonData, _ := json.Marshal(data)
	var join JoinRoomData
	if err := json.Unmarshal(jsonData, &join); err != nil {
		log.Printf("Invalid join-room data: %v", err)
		return
	}

	c.manager.addClientToRoom(c, join.Room)

	history := c.manager.state.Evict(join.Room, time.Now())
	c.sendEvent("chat-history", history)
}

func (c *WSClient) handleChatMsg(data interface{}) {
	jsonData, _ := json.Marshal(data)
	var chat ChatMsgData
	if err := json.Unmarshal(jsonData, &chat); err != nil {
		log.Printf("Invalid chat-msg data: %v", err)
		return
	}

	c.manager.state.Append(chat.Room, chat.From, chat.Text, time.Now())
	c.manager.BroadcastToRoom(chat.Room, "chat-msg", ChatMsgBroadcast{From: chat.From, Text: chat.Text})
}

func (c *WSClient) handleFileUpload(data interface{}) {
	jsonData, _ := json.Marshal(data)
	var up FileUploadData
	if err := json.Unmarshal(jsonData, &up); err != nil {
		log.Printf("Invalid file-upload data: %v", err)
		return
	}

	now := time.Now()
	rec := FileRecord{
		ID:        uuid.NewString(),
		Room:      up.Room,
		From:      up.From,
		MediaType: up.Type,
		Size:      up.Size,
		Payload:   up.File,
		SentAt:    now,
	}

	// Oversized uploads are dropped without a reply
	if !c.manager.files.Add(rec) {
		return
	}

	c.manager.BroadcastToRoom(up.Room, "file-receive", FileReceiveBroadcast{
		ID:   rec.ID,
		From: up.From,
		Type: up.Type,
		File: up.File,
	})

	// Successful uploads trigger an eviction pass over the global buffer
	c.manager.files.Evict(now)
}

func (c *WSClient) handleSpy(data interface{}) {
	jsonData, _ := json.Marshal(data)
	var spy SpyData
	if err := json.Unmarshal(jsonData, &spy); err != nil {
		log.Printf("Invalid spy data: %v", err)
		return
	}

	c.manager.mutex.RLock()
	caller := c.username
	c.manager.mutex.RUnlock()

	if !isAdmin(caller) {
		return
	}

	for _, target := range c.manager.clientsFor(spy.Target) {
		target.sendEvent("spy-request", SpyRequestBroadcast{Admin: adminUsername})
	}
}
