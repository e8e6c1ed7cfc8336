package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"memo-sync/pkg/logger"
)

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager tracks connected devices and fans change notifications out to them.
type Manager struct {
	clients        map[string]*Client
	userIndex      map[string]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	maxConnPerUser int
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
	logger         *zap.Logger
	done           chan struct{}
}

func NewManager(maxConnPerUser int, writeWait, pongWait, pingPeriod time.Duration, lg *zap.Logger) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		userIndex:      make(map[string]map[string]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		HandleMessage:  make(chan *ClientMessage),
		maxConnPerUser: maxConnPerUser,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
		logger:         logger.OrNop(lg),
		done:           make(chan struct{}),
	}
}

// SetMaxMessageSize bounds inbound frames of connections registered later.
func (m *Manager) SetMaxMessageSize(n int64) {
	m.maxMessageSize = n
}

// Run serves registrations and inbound messages until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(m.done)
			m.closeAll()
			return

		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.userIndex[client.Username] == nil {
		m.userIndex[client.Username] = make(map[string]bool)
	}

	if m.maxConnPerUser > 0 && len(m.userIndex[client.Username]) >= m.maxConnPerUser {
		m.logger.Warn("max connections reached", zap.String("username", client.Username))
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.userIndex[client.Username][client.ID] = true

	m.logger.Debug("client registered",
		zap.String("client", client.ID),
		zap.String("device", client.DeviceID))
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; ok {
		delete(m.clients, client.ID)
		delete(m.userIndex[client.Username], client.ID)

		if len(m.userIndex[client.Username]) == 0 {
			delete(m.userIndex, client.Username)
		}

		close(client.Send)
		m.logger.Debug("client unregistered", zap.String("client", client.ID))
	}
}

func (m *Manager) closeAll() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	for id, client := range m.clients {
		close(client.Send)
		delete(m.clients, id)
	}
	m.userIndex = make(map[string]map[string]bool)
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	var msg Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		m.logger.Debug("error unmarshaling message", zap.Error(err))
		return
	}

	switch msg.Type {
	case TypePing:
		pong, err := NewMessage(TypePong, nil)
		if err != nil {
			return
		}
		m.SendToClient(clientMsg.Client.ID, pong)
	default:
		m.logger.Debug("ignoring message", zap.String("type", string(msg.Type)))
	}
}

// BroadcastToUser sends message to every connection of username except the
// one registered for excludeDeviceID. Connections whose buffer is full are
// dropped.
func (m *Manager) BroadcastToUser(username string, message *Message, excludeDeviceID string) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	var slow []*Client

	m.clientsMutex.RLock()
	for clientID := range m.userIndex[username] {
		client := m.clients[clientID]
		if excludeDeviceID != "" && client.DeviceID == excludeDeviceID {
			continue
		}
		select {
		case client.Send <- messageBytes:
		default:
			slow = append(slow, client)
		}
	}
	m.clientsMutex.RUnlock()

	for _, client := range slow {
		m.logger.Warn("client send buffer full, closing connection", zap.String("client", client.ID))
		go m.unregister(client)
	}

	return nil
}

// Add hands client to Run. It reports false once Run has stopped.
func (m *Manager) Add(client *Client) bool {
	select {
	case m.Register <- client:
		return true
	case <-m.done:
		return false
	}
}

// unregister hands client to Run, or gives up once Run has stopped.
func (m *Manager) unregister(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.done:
	}
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case client.Send <- messageBytes:
	default:
		m.logger.Warn("client send buffer full", zap.String("client", clientID))
	}

	return nil
}

func (m *Manager) GetUserConnections(username string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	return len(m.userIndex[username])
}
