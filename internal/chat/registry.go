package chat

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/anivlogisticsllc-ui/ridesharing-sub001/internal/models"
)

// Session wraps one party's socket. Writes are serialized per connection.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(m models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(m)
}

// Registry holds the live sockets per conversation, keyed by account.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session // conversationID -> accountID -> session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]map[string]*Session)}
}

func (r *Registry) Add(conversationID, accountID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[conversationID] == nil {
		r.sessions[conversationID] = make(map[string]*Session)
	}
	r.sessions[conversationID][accountID] = &Session{conn: conn}
}

func (r *Registry) Remove(conversationID, accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.sessions[conversationID]; m != nil {
		delete(m, accountID)
		if len(m) == 0 {
			delete(r.sessions, conversationID)
		}
	}
}

// Broadcast sends a message to every connected party except the sender.
func (r *Registry) Broadcast(conversationID, senderID string, m models.Message) {
	r.mu.RLock()
	targets := make([]*Session, 0, 2)
	for acct, s := range r.sessions[conversationID] {
		if acct != senderID {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()
	for _, s := range targets {
		if err := s.Send(m); err != nil {
			log.Printf("chat ws send error: %v", err)
		}
	}
}
