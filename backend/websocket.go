// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// Message types for WebSocket communication
const (
	MsgTypeJoin       = "JOIN"
	MsgTypeAck        = "ACK"
	MsgTypeEvent      = "EVENT"
	MsgTypeState      = "STATE"
	MsgTypeSyncUpdate = "SYNC_UPDATE"
	MsgTypeConflict   = "CONFLICT"
	MsgTypeError      = "ERROR"
)

// Message represents a WebSocket message
type Message struct {
	Type         string            `json:"type"`
	MatchId      string            `json:"matchId,omitempty"`
	LastRevision string            `json:"lastRevision,omitempty"`
	BaseRevision string            `json:"baseRevision,omitempty"`
	Event        json.RawMessage   `json:"event,omitempty"`
	Events       []json.RawMessage `json:"events,omitempty"`
	State        json.RawMessage   `json:"state,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// HubRequest types
const (
	ReqTypeWSJoin    = "WS_JOIN"
	ReqTypeHTTPLoad  = "HTTP_LOAD"
	ReqTypeHTTPSave  = "HTTP_SAVE"
	ReqTypeHTTPEvent = "HTTP_EVENT"
	ReqTypeHTTPUndo  = "HTTP_UNDO"
)

// HubRequest represents a request to the Hub
type HubRequest struct {
	Type    string
	Client  *wsClient        // For WS requests
	UserId  string           // For HTTP requests
	Message Message          // For WS/HTTP requests
	Payload []byte           // For HTTP Save
	Reply   chan HubResponse // For HTTP requests
}

// HubResponse represents a response from the Hub
type HubResponse struct {
	Data  []byte // For HTTP Load
	Error error  // For HTTP Save/Load errors
}

// Hub owns the in-memory copy of one match and is its single
// serialized writer: every mutation flows through the requests channel
// and is handled by the hub goroutine.
type Hub struct {
	matchId string

	// Registered clients.
	clients map[*wsClient]bool

	// Inbound requests
	requests chan HubRequest

	// Register requests from the clients.
	register chan *wsClient

	// Unregister requests from clients.
	unregister chan *wsClient

	// In-memory state
	matchData *Match

	// Throttling for conflicts
	lastConflict map[string]time.Time // userId -> last conflict sent
	conflictMu   sync.Mutex

	ms      *MatchStore
	r       *Registry
	hm      *HubManager
	dls     *DLSEngine
	metrics *Metrics
}

func newHub(id string, ms *MatchStore, r *Registry, hm *HubManager, dls *DLSEngine, metrics *Metrics) *Hub {
	return &Hub{
		matchId:      id,
		requests:     make(chan HubRequest, 64), // Buffered to prevent dropping updates
		register:     make(chan *wsClient),
		unregister:   make(chan *wsClient),
		clients:      make(map[*wsClient]bool),
		lastConflict: make(map[string]time.Time),
		ms:           ms,
		r:            r,
		hm:           hm,
		dls:          dls,
		metrics:      metrics,
	}
}

func (h *Hub) run() {
	idleTimer := time.NewTicker(5 * time.Minute)
	defer idleTimer.Stop()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case req := <-h.requests:
			h.ensureLoaded(req.Reply)

			// If loading failed, stop processing.
			if h.matchData == nil {
				if req.Client != nil {
					req.Client.sendJSON(Message{Type: MsgTypeError, Error: "Server error loading match"})
				}
				continue
			}

			switch req.Type {
			case ReqTypeWSJoin:
				if req.Client != nil && !h.clients[req.Client] {
					continue
				}
				h.handleWSJoin(req.Client, req.Message)
			case ReqTypeHTTPEvent:
				h.handleHTTPEvent(req)
			case ReqTypeHTTPUndo:
				h.handleHTTPUndo(req)
			case ReqTypeHTTPLoad:
				h.handleHTTPLoad(req.Reply)
			case ReqTypeHTTPSave:
				h.handleHTTPSave(req.Payload, req.Reply)
			}
		case <-idleTimer.C:
			if len(h.clients) == 0 {
				h.hm.RemoveHub(h.matchId)
				return
			}
		}
	}
}

func (h *Hub) ensureLoaded(reply chan HubResponse) {
	if h.matchData != nil {
		return
	}
	m, err := h.ms.LoadMatch(h.matchId)
	if err != nil {
		if os.IsNotExist(err) {
			h.matchData = &Match{ID: h.matchId}
			return
		}
		log.Printf("Hub: Error loading match %s: %v", h.matchId, err)
		if reply != nil {
			reply <- HubResponse{Error: err}
		}
		return
	}
	h.matchData = m
}

// HubManager manages hubs for different matches
type HubManager struct {
	hubs    map[string]*Hub
	mu      sync.Mutex
	dls     *DLSEngine
	metrics *Metrics
}

func NewHubManager(dls *DLSEngine, metrics *Metrics) *HubManager {
	return &HubManager{
		hubs:    make(map[string]*Hub),
		dls:     dls,
		metrics: metrics,
	}
}

func (hm *HubManager) GetHub(id string, ms *MatchStore, r *Registry) *Hub {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if hub, ok := hm.hubs[id]; ok {
		return hub
	}

	hub := newHub(id, ms, r, hm, hm.dls, hm.metrics)
	hm.hubs[id] = hub
	go hub.run()
	return hub
}

func (hm *HubManager) RemoveHub(id string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.hubs, id)
}

func (hm *HubManager) Clear() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.hubs = make(map[string]*Hub)
}

// wsClient is a middleman between the websocket connection and the hub.
type wsClient struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan Message

	userId  string
	matchId string
}

// readPump pumps messages from the websocket connection to the hub.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypeJoin:
			c.hub.requests <- HubRequest{Type: ReqTypeWSJoin, Client: c, Message: msg}
		case "PING":
			c.sendJSON(Message{Type: "PONG"})
		default:
			log.Printf("Unknown message type: %s", msg.Type)
			c.sendJSON(Message{Type: MsgTypeError, Error: "Unknown message type"})
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *wsClient) writePump() {
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
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
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

func (c *wsClient) sendJSON(msg Message) {
	select {
	case c.send <- msg:
	default:
		// Channel full, drop connection?
	}
}

func (h *Hub) handleWSJoin(c *wsClient, msg Message) {
	// Authorization Check
	if len(h.matchData.EventLog) > 0 || h.matchData.OwnerID != "" {
		access := GetMatchAccess(c.userId, h.matchData)
		if access < AccessRead {
			log.Printf("Forbidden: User %s attempted to join match %s without permissions", maskEmail(c.userId), h.matchId)
			c.sendJSON(Message{Type: MsgTypeError, Error: "Forbidden: You do not have access to this match"})
			return
		}
	} else if msg.LastRevision != "" {
		log.Printf("Conflict: Client joining match %s with revision %s, but match empty on server", h.matchId, msg.LastRevision)
		c.sendJSON(Message{Type: MsgTypeConflict, Error: "Match not found on server", BaseRevision: ""})
		return
	}

	serverRevision := getCurrentRevision(h.matchData.EventLog)

	if msg.LastRevision == "" || msg.LastRevision == serverRevision {
		c.sendJSON(Message{Type: MsgTypeAck})
		h.sendState(c)
		return
	}

	missingEvents := getEventsSince(h.matchData.EventLog, msg.LastRevision)
	if missingEvents == nil && msg.LastRevision != "" {
		if len(h.matchData.EventLog) > 0 {
			c.sendJSON(Message{Type: MsgTypeConflict, Error: "Client history is divergent from server", BaseRevision: serverRevision})
			return
		}
	}

	if missingEvents == nil {
		c.sendJSON(Message{Type: MsgTypeAck})
		h.sendState(c)
		return
	}

	c.sendJSON(Message{Type: MsgTypeSyncUpdate, Events: missingEvents})
	h.sendState(c)
}

// liveState is the derived view pushed to clients after every applied
// event.
type liveState struct {
	MatchState   MatchState      `json:"matchState"`
	Scorecards   []*Scorecard    `json:"scorecards"`
	FirstInnings *InningsSummary `json:"firstInnings,omitempty"`
	LastDelivery *Delivery       `json:"lastDelivery,omitempty"`
	LastEventID  string          `json:"lastEventId,omitempty"`
}

func (h *Hub) stateMessage() (Message, bool) {
	ls := liveState{
		MatchState:   h.matchData.State,
		Scorecards:   AggregateAll(h.matchData.Deliveries),
		FirstInnings: h.matchData.FirstInnings,
		LastDelivery: h.matchData.LastDelivery(),
		LastEventID:  h.matchData.LastEventID,
	}
	data, err := json.Marshal(ls)
	if err != nil {
		log.Printf("Hub: Error marshaling state for match %s: %v", h.matchId, err)
		return Message{}, false
	}
	return Message{Type: MsgTypeState, State: data}, true
}

func (h *Hub) sendState(c *wsClient) {
	if msg, ok := h.stateMessage(); ok {
		c.sendJSON(msg)
	}
}

func (h *Hub) handleHTTPEvent(req HubRequest) {
	response, broadcasts, err := h.processEvent(req.Message, req.UserId)
	if err != nil {
		if req.Reply != nil {
			req.Reply <- HubResponse{Error: err}
		}
		return
	}

	// For HTTP, we return the response message as Data
	data, _ := json.Marshal(response)

	for _, b := range broadcasts {
		h.broadcast(b)
	}

	if req.Reply != nil {
		req.Reply <- HubResponse{Data: data}
	}
}

func (h *Hub) processEvent(msg Message, userId string) (response *Message, broadcasts []Message, err error) {
	var events []json.RawMessage
	if len(msg.Events) > 0 {
		if len(msg.Events) > 100 {
			return &Message{Type: MsgTypeError, Error: "Batch size too large (max 100)"}, nil, nil
		}
		events = msg.Events
		if err := ValidateEvents(events); err != nil {
			log.Printf("Invalid events payload from user %s: %v", maskEmail(userId), err)
			return &Message{Type: MsgTypeError, Error: "Malformed events: " + err.Error()}, nil, nil
		}
	} else {
		events = []json.RawMessage{msg.Event}
		if err := ValidateEvent(msg.Event); err != nil {
			log.Printf("Invalid event payload from user %s: %v", maskEmail(userId), err)
			return &Message{Type: MsgTypeError, Error: "Malformed event: " + err.Error()}, nil, nil
		}
	}

	matchExists := len(h.matchData.EventLog) > 0 || h.matchData.OwnerID != ""

	// Authorization Check
	effectiveAccess := GetMatchAccess(userId, h.matchData)

	isMatchStart := false
	for _, raw := range events {
		var meta struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue // Malformed meta, but base validation already caught serious issues
		}

		if meta.Type == EvMatchStart {
			isMatchStart = true
			if !matchExists {
				var p struct {
					OwnerID string `json:"ownerId"`
				}
				if err := json.Unmarshal(meta.Payload, &p); err == nil {
					if normalizeEmail(p.OwnerID) == userId {
						effectiveAccess = AccessWrite // Elevate for subsequent events in batch
					}
				}
			}
		}

		if effectiveAccess < AccessWrite {
			log.Printf("Forbidden: User %s attempted to write event %s to match %s", maskEmail(userId), meta.Type, h.matchId)
			if userId == "" {
				return &Message{Type: MsgTypeError, Error: "Unauthenticated: Login required"}, nil, nil
			}
			return &Message{Type: MsgTypeError, Error: "Forbidden: You do not have write access to this match"}, nil, nil
		}
	}

	if !matchExists && !isMatchStart {
		log.Printf("Conflict: User %s sending event for non-existent match %s", maskEmail(userId), h.matchId)
		return &Message{Type: MsgTypeConflict, Error: "Match not found on server", BaseRevision: ""}, nil, nil
	}

	currentServerRevision := getCurrentRevision(h.matchData.EventLog)

	if len(h.matchData.EventLog) > 0 && msg.BaseRevision != "" && msg.BaseRevision != currentServerRevision {
		// Attempt reload from disk to clear stale cache
		if m, err := h.ms.LoadMatch(h.matchId); err == nil {
			h.matchData = m
			currentServerRevision = getCurrentRevision(h.matchData.EventLog)
		}

		if len(h.matchData.EventLog) > 0 && msg.BaseRevision != currentServerRevision {
			// Prefix matching to handle partial retries: find the claimed
			// base in the log, then check the batch against what follows.
			matchIndex := -1
			found := false
			for i := len(h.matchData.EventLog) - 1; i >= 0; i-- {
				var ev struct {
					ID string `json:"id"`
				}
				if err := json.Unmarshal(h.matchData.EventLog[i], &ev); err == nil {
					if ev.ID == msg.BaseRevision {
						matchIndex = i
						found = true
						break
					}
				}
			}
			if !found {
				log.Printf("Conflict: Base revision %s not found in log (Head: %s) for user %s", msg.BaseRevision, currentServerRevision, maskEmail(userId))
				h.conflictMu.Lock()
				defer h.conflictMu.Unlock()
				h.lastConflict[userId] = time.Now()
				return &Message{Type: MsgTypeConflict, Error: "Base revision not found", BaseRevision: currentServerRevision}, nil, nil
			}

			serverIdx := matchIndex + 1
			batchIdx := 0
			conflict := false

			for serverIdx < len(h.matchData.EventLog) && batchIdx < len(events) {
				var sEv struct {
					ID string `json:"id"`
				}
				json.Unmarshal(h.matchData.EventLog[serverIdx], &sEv)

				var bEv struct {
					ID string `json:"id"`
				}
				json.Unmarshal(events[batchIdx], &bEv)

				if sEv.ID != bEv.ID {
					conflict = true
					break
				}
				serverIdx++
				batchIdx++
			}

			if conflict {
				h.conflictMu.Lock()
				defer h.conflictMu.Unlock()
				h.lastConflict[userId] = time.Now()
				return &Message{Type: MsgTypeConflict, Error: "History divergence", BaseRevision: currentServerRevision}, nil, nil
			}

			// If we exhausted the batch, everything was idempotent
			if batchIdx == len(events) {
				return &Message{Type: MsgTypeAck}, nil, nil
			}

			// If we exhausted server log but have more events, apply the remainder
			events = events[batchIdx:]
		}
	}

	// Apply to a clone to prevent in-memory corruption on failure
	var clone Match
	matchBytes, _ := json.Marshal(*h.matchData)
	json.Unmarshal(matchBytes, &clone)
	clone.normalize()
	clone.metrics = h.metrics

	logLenBefore := len(clone.EventLog)
	changed, err := clone.ApplyEvents(events)
	if err != nil {
		if h.metrics != nil {
			h.metrics.CountError(err)
		}
		return nil, nil, err
	}

	if !changed {
		// Already applied, just acknowledge
		if h.metrics != nil {
			h.metrics.DuplicatesCollapsed.Add(1)
		}
		return &Message{Type: MsgTypeAck}, nil, nil
	}

	if err := h.ms.SaveMatch(&clone); err != nil {
		return &Message{Type: MsgTypeError, Error: "Server error saving event"}, nil, nil
	}

	// Success: commit to Hub cache and Registry
	*h.matchData = clone
	h.r.UpdateMatch(&clone)
	if h.dls != nil {
		for _, raw := range events {
			var meta struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(raw, &meta); err == nil && meta.Type == EvReduceOvers {
				h.dls.Invalidate(h.matchId)
			}
		}
	}
	if h.metrics != nil {
		h.metrics.DeliveriesApplied.Add(int64(countDeliveries(events)))
	}

	// An event replaced via last-write-wins rewrites the log instead of
	// appending; broadcast the new head either way.
	var msgs []Message
	if len(clone.EventLog) >= logLenBefore {
		for _, raw := range clone.EventLog[min(logLenBefore, len(clone.EventLog)-1):] {
			msgs = append(msgs, Message{Type: MsgTypeEvent, Event: raw})
		}
	}
	if stateMsg, ok := h.stateMessage(); ok {
		msgs = append(msgs, stateMsg)
	}

	return &Message{Type: MsgTypeAck}, msgs, nil
}

func countDeliveries(events []json.RawMessage) int {
	n := 0
	for _, raw := range events {
		var meta struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &meta); err == nil && meta.Type == EvDelivery {
			n++
		}
	}
	return n
}

func (h *Hub) handleHTTPUndo(req HubRequest) {
	// Clone first so a failed undo leaves the cache untouched.
	var clone Match
	matchBytes, _ := json.Marshal(*h.matchData)
	json.Unmarshal(matchBytes, &clone)
	clone.normalize()

	access := GetMatchAccess(req.UserId, h.matchData)
	if access < AccessWrite {
		if req.Reply != nil {
			req.Reply <- HubResponse{Error: ErrForbidden}
		}
		return
	}

	if err := clone.UndoLastDelivery(); err != nil {
		if req.Reply != nil {
			req.Reply <- HubResponse{Error: err}
		}
		return
	}
	if err := h.ms.SaveMatch(&clone); err != nil {
		if req.Reply != nil {
			req.Reply <- HubResponse{Error: err}
		}
		return
	}

	*h.matchData = clone
	h.r.UpdateMatch(&clone)

	if stateMsg, ok := h.stateMessage(); ok {
		h.broadcast(stateMsg)
	}

	data, _ := json.Marshal(Message{Type: MsgTypeAck})
	if req.Reply != nil {
		req.Reply <- HubResponse{Data: data}
	}
}

func (h *Hub) broadcast(msg Message) {
	for client := range h.clients {
		select {
		case client.send <- msg:
			if h.metrics != nil {
				h.metrics.WSMessagesSent.Add(1)
			}
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

func (h *Hub) handleHTTPLoad(reply chan HubResponse) {
	data, err := json.Marshal(h.matchData)
	reply <- HubResponse{Data: data, Error: err}
}

func (h *Hub) handleHTTPSave(payload []byte, reply chan HubResponse) {
	var newMatch Match
	if err := json.Unmarshal(payload, &newMatch); err != nil {
		reply <- HubResponse{Error: err}
		return
	}
	newMatch.normalize()
	if err := newMatch.Rebuild(); err != nil {
		reply <- HubResponse{Error: err}
		return
	}
	h.matchData = &newMatch
	if err := h.ms.SaveMatch(h.matchData); err != nil {
		reply <- HubResponse{Error: err}
		return
	}
	h.r.UpdateMatch(h.matchData)

	// The imported log may carry different overs limits than whatever was
	// previewed before; reprice from scratch.
	if h.dls != nil {
		h.dls.Invalidate(h.matchId)
	}

	// NOTE: We do NOT broadcast the update here.
	reply <- HubResponse{Error: nil}
}

func getCurrentRevision(log []json.RawMessage) string {
	if len(log) == 0 {
		return ""
	}
	last := log[len(log)-1]
	var ev struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(last, &ev); err != nil {
		return ""
	}
	return ev.ID
}

func getEventsSince(log []json.RawMessage, revision string) []json.RawMessage {
	if revision == "" {
		return log
	}
	for i, raw := range log {
		var ev struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		if ev.ID == revision {
			return log[i+1:]
		}
	}
	return nil
}

// ServeWS handles websocket requests from the peer.
func ServeWS(ms *MatchStore, r *Registry, hm *HubManager, w http.ResponseWriter, req *http.Request, debugf func(string, ...any)) {
	userId := getUserID(req)

	matchId := req.URL.Query().Get("matchId")
	if matchId == "" || !isValidUUID(matchId) {
		http.Error(w, "Invalid matchId", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Println(err)
		return
	}

	hub := hm.GetHub(matchId, ms, r)
	client := &wsClient{hub: hub, conn: conn, send: make(chan Message, 256), userId: userId, matchId: matchId}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
