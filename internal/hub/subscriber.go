package hub

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ulfur/nightshift/internal/external"
)

// Subscriber is one authenticated full-duplex connection. Frame ordering
// within a subscriber is preserved by sendMu (spec.md §4.5 "Broadcast
// semantics").
type Subscriber struct {
	id   string
	conn *websocket.Conn

	sendMu sync.Mutex

	mu   sync.Mutex
	user *external.User
	dead bool
}

func newSubscriber(id string, conn *websocket.Conn) *Subscriber {
	return &Subscriber{id: id, conn: conn}
}

func (s *Subscriber) setUser(u *external.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

func (s *Subscriber) authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != nil
}

func (s *Subscriber) markDead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = true
}

func (s *Subscriber) isDead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}

// send serializes a single JSON write under the per-connection mutex,
// marking the subscriber dead on failure so the next broadcast skips it
// rather than retry (spec.md §4.5: "no retry and no per-subscriber
// queue").
func (s *Subscriber) send(env Envelope) {
	if s.isDead() {
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.WriteJSON(env); err != nil {
		s.markDead()
	}
}
