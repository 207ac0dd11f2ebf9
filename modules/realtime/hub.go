package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"outfit-stylist-server/modules/outfit"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10

	emptySweepInterval    = 5 * time.Minute
	inactiveSweepInterval = 30 * time.Minute
)

// 연결된 클라이언트 정보
type Client struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
}

// 세션별 구독자 묶음
type Session struct {
	id           string
	clients      map[string]*Client
	mutex        sync.Mutex
	createdAt    time.Time
	lastActivity time.Time
}

// Metrics - 허브 카운터
type Metrics struct {
	TotalSessions    int       `json:"totalSessions"`
	ActiveSessions   int       `json:"activeSessions"`
	TotalConnections int       `json:"totalConnections"`
	EventsPublished  int       `json:"eventsPublished"`
	StartTime        time.Time `json:"startTime"`
}

// Hub fans outfit events out to every WebSocket subscribed to a session.
// It implements outfit.Notifier.
type Hub struct {
	sessions map[string]*Session
	mutex    sync.RWMutex

	metrics      Metrics
	metricsMutex sync.Mutex

	upgrader websocket.Upgrader
	log      zerolog.Logger
}

var _ outfit.Notifier = (*Hub)(nil)

// ClientMessage - 클라이언트가 보내는 메시지 (현재 ping 만 사용)
type ClientMessage struct {
	Type string `json:"type"`
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		metrics:  Metrics{StartTime: time.Now()},
		upgrader: websocket.Upgrader{
			// 개발용 - 모든 origin 허용
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// 세션 가져오기 또는 생성
func (h *Hub) getOrCreateSession(sessionID string) *Session {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	session, exists := h.sessions[sessionID]
	if !exists {
		now := time.Now()
		session = &Session{
			id:           sessionID,
			clients:      make(map[string]*Client),
			createdAt:    now,
			lastActivity: now,
		}
		h.sessions[sessionID] = session

		h.metricsMutex.Lock()
		h.metrics.TotalSessions++
		h.metrics.ActiveSessions++
		h.metricsMutex.Unlock()

		h.log.Debug().Str("session", sessionID).Msg("✅ [Hub] Created subscriber session")
	}
	return session
}

func (h *Hub) addClient(session *Session, client *Client) {
	session.mutex.Lock()
	session.clients[client.id] = client
	session.lastActivity = time.Now()
	clientCount := len(session.clients)
	session.mutex.Unlock()

	h.metricsMutex.Lock()
	h.metrics.TotalConnections++
	h.metricsMutex.Unlock()

	h.log.Info().
		Str("session", session.id).
		Str("client", client.id).
		Int("clients", clientCount).
		Msg("👤 [Hub] Client subscribed")
}

// removeClient closes the client's send channel exactly once.
func (s *Session) removeClient(clientID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	client, exists := s.clients[clientID]
	if !exists {
		return false
	}
	close(client.send)
	delete(s.clients, clientID)
	s.lastActivity = time.Now()
	return true
}

// Publish sends event to every subscriber of sessionID. Slow clients whose
// buffer is full are dropped.
func (h *Hub) Publish(sessionID string, event outfit.Event) {
	h.mutex.RLock()
	session, exists := h.sessions[sessionID]
	h.mutex.RUnlock()

	h.metricsMutex.Lock()
	h.metrics.EventsPublished++
	h.metricsMutex.Unlock()

	if !exists {
		return
	}

	if event.SessionID == "" {
		event.SessionID = sessionID
	}
	messageBytes, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("type", event.Type).Msg("❌ [Hub] Failed to marshal event")
		return
	}

	session.mutex.Lock()
	defer session.mutex.Unlock()

	session.lastActivity = time.Now()
	for clientID, client := range session.clients {
		select {
		case client.send <- messageBytes:
		default:
			close(client.send)
			delete(session.clients, clientID)
			h.log.Warn().Str("client", clientID).Msg("⚠️  [Hub] Dropped slow client")
		}
	}
	h.log.Debug().
		Str("session", sessionID).
		Str("type", event.Type).
		Int("clients", len(session.clients)).
		Msg("📢 [Hub] Event published")
}

// HandleWebSocket - GET /ws?session=<id>
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "Missing session parameter", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("❌ [Hub] WebSocket upgrade failed")
		return
	}

	client := &Client{
		id:        uuid.NewString(),
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
	}

	session := h.getOrCreateSession(sessionID)
	h.addClient(session, client)

	go h.writePump(client)
	go h.readPump(session, client)
}

// 클라이언트로부터 메시지 읽기 (ping 응답 + 연결 종료 감지)
func (h *Hub) readPump(session *Session, c *Client) {
	defer func() {
		if session.removeClient(c.id) {
			h.log.Info().Str("session", session.id).Str("client", c.id).Msg("👋 [Hub] Client left")
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var message ClientMessage
		if err := c.conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("client", c.id).Msg("❌ [Hub] WebSocket error")
			}
			return
		}

		switch message.Type {
		case "ping":
			pong, _ := json.Marshal(ClientMessage{Type: "pong"})
			session.mutex.Lock()
			if _, ok := session.clients[c.id]; ok {
				select {
				case c.send <- pong:
				default:
				}
			}
			session.mutex.Unlock()
		default:
			h.log.Debug().Str("type", message.Type).Msg("[Hub] Ignoring client message")
		}
	}
}

// 클라이언트로 메시지 쓰기
func (h *Hub) writePump(c *Client) {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.Warn().Err(err).Str("client", c.id).Msg("❌ [Hub] WebSocket write error")
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

// CleanupEmptySessions - 구독자가 없는 세션 정리
func (h *Hub) CleanupEmptySessions() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	cleaned := 0
	for sessionID, session := range h.sessions {
		session.mutex.Lock()
		isEmpty := len(session.clients) == 0
		session.mutex.Unlock()

		if isEmpty {
			delete(h.sessions, sessionID)
			cleaned++
		}
	}

	if cleaned > 0 {
		h.metricsMutex.Lock()
		h.metrics.ActiveSessions -= cleaned
		h.metricsMutex.Unlock()
		h.log.Info().Int("cleaned", cleaned).Msg("🧹 [Hub] Cleaned up empty sessions")
	}
	return cleaned
}

// CleanupInactiveSessions disconnects subscribers of sessions idle longer than ttl.
func (h *Hub) CleanupInactiveSessions(ttl time.Duration) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	now := time.Now()
	cleaned := 0
	for sessionID, session := range h.sessions {
		session.mutex.Lock()
		if now.Sub(session.lastActivity) > ttl {
			for clientID, client := range session.clients {
				close(client.send)
				delete(session.clients, clientID)
			}
			session.mutex.Unlock()
			delete(h.sessions, sessionID)
			cleaned++
			h.log.Info().Str("session", sessionID).Msg("⏰ [Hub] Cleaned up inactive session")
			continue
		}
		session.mutex.Unlock()
	}

	if cleaned > 0 {
		h.metricsMutex.Lock()
		h.metrics.ActiveSessions -= cleaned
		h.metricsMutex.Unlock()
	}
	return cleaned
}

// StartCleanupRoutine - 정기적 정리 작업 시작 (빈 세션 5분, 비활성 세션 30분)
func (h *Hub) StartCleanupRoutine(ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(emptySweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			h.CleanupEmptySessions()
		}
	}()

	go func() {
		ticker := time.NewTicker(inactiveSweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			h.CleanupInactiveSessions(ttl)
		}
	}()

	h.log.Info().Msg("🔄 [Hub] Started cleanup routines (Empty: 5min, Inactive: 30min)")
}

// SessionInfo - 세션 구독 현황
type SessionInfo struct {
	SessionID    string    `json:"sessionId"`
	ClientCount  int       `json:"clientCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Age          string    `json:"age"`
	Inactive     string    `json:"inactive"`
}

// Snapshot returns the counters and per-session details for /metrics.
func (h *Hub) Snapshot() (Metrics, []SessionInfo) {
	h.metricsMutex.Lock()
	metrics := h.metrics
	h.metricsMutex.Unlock()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	details := make([]SessionInfo, 0, len(h.sessions))
	for _, session := range h.sessions {
		details = append(details, session.info())
	}
	return metrics, details
}

func (s *Session) info() SessionInfo {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return SessionInfo{
		SessionID:    s.id,
		ClientCount:  len(s.clients),
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Age:          time.Since(s.createdAt).String(),
		Inactive:     time.Since(s.lastActivity).String(),
	}
}

// HandleSessionInfo - GET /session/{sessionId}
func (h *Hub) HandleSessionInfo(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	h.mutex.RLock()
	session, exists := h.sessions[sessionID]
	h.mutex.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "Session not found"})
		return
	}
	json.NewEncoder(w).Encode(session.info())
}
