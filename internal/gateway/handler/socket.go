package handler

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"chatwire/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	socketWriteWait = 10 * time.Second
	socketPongWait  = 60 * time.Second
	socketPingEvery = (socketPongWait * 9) / 10
	socketQueueSize = 256
	socketReadLimit = 16 << 20
)

var socketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleSocket upgrades to a websocket bound to the sessionId query
// parameter and relays envelopes between the client and its session.
func (h *Handler) HandleSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := strings.TrimSpace(q.Get(protocol.QuerySessionID))
	if sessionID == "" {
		http.Error(w, protocol.QuerySessionID+" is required", http.StatusBadRequest)
		return
	}
	threadID := strings.TrimSpace(q.Get(protocol.QueryThreadID))
	clientType := strings.TrimSpace(q.Get(protocol.QueryClientType))

	conn, err := socketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(socketReadLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(socketPongWait)); err != nil {
		log.Printf("socket: set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})

	writeCh := make(chan protocol.Envelope, socketQueueSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(socketPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(socketWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(socketWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	send := func(env protocol.Envelope) { pushSocket(writeCh, env) }
	session, err := h.hub.Attach(ctx, sessionID, threadID, send)
	if err != nil {
		log.Printf("socket: attach %s: %v", sessionID, err)
		cancel()
		<-writerDone
		return
	}
	log.Printf("socket: session %s connected (client=%s thread=%s)", sessionID, clientType, threadID)
	defer func() {
		h.hub.Detach(session)
		log.Printf("socket: session %s disconnected", sessionID)
	}()

	for {
		var in protocol.Envelope
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		in.Event = strings.TrimSpace(in.Event)
		if in.Event == "" {
			env, _ := protocol.NewEnvelope(protocol.EventSessionError, protocol.SessionError{Message: "event is required"})
			send(env)
			continue
		}
		session.Handle(ctx, in)
	}
}

// pushSocket queues out, dropping the oldest frame when the queue is full.
func pushSocket(writeCh chan protocol.Envelope, out protocol.Envelope) {
	if writeCh == nil {
		return
	}
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
