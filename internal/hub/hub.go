package hub

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ulfur/nightshift/internal/external"
)

// authCloseCode is the application-level close code (4000-4999 range
// gorilla/websocket reserves for callers) signaling a failed auth
// handshake (spec.md §4.5, SPEC_FULL.md §4.5 "Transport").
const authCloseCode = 4401

const authDeadline = 10 * time.Second
const readDeadline = 1 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Snapshotter is queried by the Hub for the state burst sent on auth and
// on request_queue/fetch_prompt messages (spec.md §4.5).
type Snapshotter interface {
	QueueSnapshot() any
	HealthSnapshot() any
	PromptPayload(id string) (any, bool)
}

// Hub multiplexes authenticated subscribers (spec.md §4.5).
type Hub struct {
	auth external.Authenticator
	snap Snapshotter
	log  *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscriber
}

// New creates a Hub. snap is consulted for initial-state bursts and
// client-initiated fetches.
func New(auth external.Authenticator, snap Snapshotter, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{auth: auth, snap: snap, log: log, subs: make(map[string]*Subscriber)}
}

func newSubscriberID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// ServeHTTP upgrades the connection and runs the handshake plus read loop
// until the subscriber disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := newSubscriber(newSubscriberID(), conn)
	sub.send(Envelope{Type: TypeHello})

	if !h.handshakeAuth(sub) {
		msg := websocket.FormatCloseMessage(authCloseCode, "auth failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	h.register(sub)
	defer h.unregister(sub)

	sub.send(Envelope{Type: TypeAuthOK, Payload: h.auth.UserPayload(sub.user)})
	sub.send(Envelope{Type: TypeQueueSnap, Payload: h.snap.QueueSnapshot()})
	sub.send(Envelope{Type: TypeHealth, Payload: h.snap.HealthSnapshot()})

	h.readLoop(sub)
}

// handshakeAuth waits up to authDeadline for an {type: "auth", token}
// message and verifies it (spec.md §4.5 "Subscriber model").
func (h *Hub) handshakeAuth(sub *Subscriber) bool {
	_ = sub.conn.SetReadDeadline(time.Now().Add(authDeadline))
	for {
		var msg struct {
			Type  string `json:"type"`
			Token string `json:"token"`
		}
		if err := sub.conn.ReadJSON(&msg); err != nil {
			return false
		}
		if msg.Type != "auth" {
			sub.send(Envelope{Type: TypeError, Payload: map[string]string{"error": "must authenticate first"}})
			continue
		}
		user, err := h.auth.VerifyToken(msg.Token)
		if err != nil {
			return false
		}
		sub.setUser(user)
		return true
	}
}

func (h *Hub) register(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub.id] = sub
}

func (h *Hub) unregister(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subs, sub.id)
	h.mu.Unlock()
	sub.conn.Close()
}

// readLoop implements the post-auth read path with a rolling 1s deadline.
// A deadline-exceeded error just loops (the connection is still alive);
// any other read error (close, protocol violation) ends the loop — this
// is the distinction spec.md §9's open question (b) calls for, resolved
// in DESIGN.md.
func (h *Hub) readLoop(sub *Subscriber) {
	for {
		_ = sub.conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				continue
			}
			return
		}
		h.handleMessage(sub, data)
	}
}

func (h *Hub) handleMessage(sub *Subscriber, data []byte) {
	var msg struct {
		Type     string `json:"type"`
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		sub.send(Envelope{Type: TypeError, Payload: map[string]string{"error": "malformed message"}})
		return
	}

	switch msg.Type {
	case "fetch_prompt":
		payload, ok := h.snap.PromptPayload(msg.PromptID)
		if !ok {
			sub.send(Envelope{Type: TypeError, Payload: map[string]string{"error": "unknown prompt id"}})
			return
		}
		sub.send(Envelope{Type: TypePromptUpdate, Payload: payload})
	case "request_queue":
		sub.send(Envelope{Type: TypeQueueSnap, Payload: h.snap.QueueSnapshot()})
	case "ping":
		sub.send(Envelope{Type: TypePong, Payload: map[string]any{"timestamp": time.Now().UTC()}})
	default:
		sub.send(Envelope{Type: TypeError, Payload: map[string]string{"error": "unknown message type"}})
	}
}

// Broadcast serializes the envelope once per subscriber write and sends
// it to every target (or every subscriber, if targets is empty). Dead
// subscribers are skipped and left for their read loop to clean up
// (spec.md §4.5 "Broadcast semantics").
func (h *Hub) Broadcast(envType string, payload any, targets ...string) {
	env := Envelope{Type: envType, Payload: payload}

	h.mu.Lock()
	var recipients []*Subscriber
	if len(targets) == 0 {
		for _, s := range h.subs {
			recipients = append(recipients, s)
		}
	} else {
		for _, id := range targets {
			if s, ok := h.subs[id]; ok {
				recipients = append(recipients, s)
			}
		}
	}
	h.mu.Unlock()

	for _, s := range recipients {
		if !s.authenticated() || s.isDead() {
			continue
		}
		s.send(env)
	}
}

// StartHealthTicker runs a goroutine publishing a health envelope every
// interval until stop is closed (spec.md §4.5 "Periodic health").
func (h *Hub) StartHealthTicker(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				h.Broadcast(TypeHealth, h.snap.HealthSnapshot())
			}
		}
	}()
}
