package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hivechat/callbridge/pkg/call"
	"github.com/hivechat/callbridge/pkg/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// sendBuffer bounds per-connection outbound queueing; a consumer
	// slower than this drops events rather than stalling the relay
	sendBuffer = 64
)

var errSendFull = errors.New("send buffer full")

// Client-to-server event names
const (
	clientRegisterUser = "register-user"
	clientJoinCall     = "join-call"
	clientLeaveCall    = "leave-call"
	clientWebRTCOffer  = "webrtc-offer"
	clientWebRTCAnswer = "webrtc-answer"
	clientICECandidate = "ice-candidate"
	clientToggleAudio  = "toggle-audio"
	clientToggleVideo  = "toggle-video"
)

// clientEvent is the inbound real-time envelope
type clientEvent struct {
	Type string `json:"type"`
	Data struct {
		UserID       string          `json:"userId"`
		CallID       string          `json:"callId"`
		TargetUserID string          `json:"targetUserId"`
		Enabled      bool            `json:"enabled"`
		Offer        json.RawMessage `json:"offer"`
		Answer       json.RawMessage `json:"answer"`
		Candidate    json.RawMessage `json:"candidate"`
	} `json:"data"`
}

// wsClient is one device connection. It implements relay.Sink; Send never
// blocks the relay dispatch loop.
type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan relay.Event

	closeOnce sync.Once
	closed    chan struct{}
}

// ID returns the connection ID
func (c *wsClient) ID() string {
	return c.id
}

// Send queues an event for delivery. It fails rather than blocks when
// the client cannot keep up.
func (c *wsClient) Send(ev relay.Event) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	case c.send <- ev:
		return nil
	default:
		return errSendFull
	}
}

// Close tears the connection down; safe to call more than once
func (c *wsClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
	return nil
}

// handleWS upgrades the connection and runs the read/write pumps.
// GET /ws
func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan relay.Event, sendBuffer),
		closed: make(chan struct{}),
	}

	go client.writePump()
	go h.readPump(client)
}

// checkOrigin enforces the allowed-origins list; an empty list allows any
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// readPump pumps client events into the relay and controller until the
// connection drops. Unregistering on exit is what drives ungraceful
// departure handling.
func (h *Handler) readPump(c *wsClient) {
	log := h.log.WithConnectionID(c.id)

	defer func() {
		h.relay.Unregister(c.id)
		c.Close()
		log.Info("connection closed")
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// The connection belongs to nobody until register-user arrives
	var userID string

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn("unexpected close", "error", err)
			}
			return
		}

		var ev clientEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			log.Debug("invalid client event", "error", err)
			continue
		}

		if ev.Type == clientRegisterUser {
			if ev.Data.UserID == "" {
				continue
			}
			// A connection is bound to one user for its lifetime
			if userID != "" {
				log.Debug("repeat register-user ignored", "user_id", ev.Data.UserID)
				continue
			}
			userID = ev.Data.UserID
			h.relay.Register(userID, c.id, c)
			continue
		}

		// Everything else requires a registered user
		if userID == "" {
			log.Debug("event before register-user", "event", ev.Type)
			continue
		}

		switch ev.Type {
		case clientJoinCall:
			h.relay.JoinCall(ev.Data.CallID, userID, c.id)

		case clientLeaveCall:
			h.relay.LeaveCall(ev.Data.CallID, userID)

		case clientWebRTCOffer:
			h.relay.RelaySignal(relay.Signal{
				Kind:         relay.SignalOffer,
				CallID:       ev.Data.CallID,
				SenderID:     userID,
				TargetUserID: ev.Data.TargetUserID,
				Payload:      ev.Data.Offer,
			})

		case clientWebRTCAnswer:
			h.relay.RelaySignal(relay.Signal{
				Kind:         relay.SignalAnswer,
				CallID:       ev.Data.CallID,
				SenderID:     userID,
				TargetUserID: ev.Data.TargetUserID,
				Payload:      ev.Data.Answer,
			})

		case clientICECandidate:
			h.relay.RelaySignal(relay.Signal{
				Kind:         relay.SignalCandidate,
				CallID:       ev.Data.CallID,
				SenderID:     userID,
				TargetUserID: ev.Data.TargetUserID,
				Payload:      ev.Data.Candidate,
			})

		case clientToggleAudio, clientToggleVideo:
			kind := call.MediaAudio
			if ev.Type == clientToggleVideo {
				kind = call.MediaVideo
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if _, err := h.controller.ToggleMedia(ctx, ev.Data.CallID, userID, kind, ev.Data.Enabled); err != nil {
				log.Warn("media toggle failed", "call_id", ev.Data.CallID, "error", err)
			}
			cancel()

		default:
			log.Debug("unknown client event", "event", ev.Type)
		}
	}
}

// writePump pumps relay events out to the connection and keeps it alive
// with pings
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
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
