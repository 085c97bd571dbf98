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
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"github.com/google/uuid"
)

func generateETag(data []byte) string {
	return fmt.Sprintf("\"%x\"", sha256.Sum256(data))
}

func hubBusyResponse(w http.ResponseWriter, retryAfter string) {
	w.Header().Set("Retry-After", retryAfter)
	http.Error(w, "Too Many Requests: Server is busy", http.StatusTooManyRequests)
}

func parsePagination(r *http.Request) (int, int, string, string, string) {
	limit := 50
	offset := 0
	sortBy := r.URL.Query().Get("sortBy")
	order := r.URL.Query().Get("order")
	query := r.URL.Query().Get("q")

	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if val, err := strconv.Atoi(o); err == nil {
			offset = val
		}
	}

	if limit < 1 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	return limit, offset, sortBy, order, query
}

// Options represent server options.
type Options struct {
	Addr        string
	Cert        *tls.Certificate
	DataDir     string
	UseMockAuth bool
	Debug       bool
	MatchStore  *MatchStore
	Storage     *storage.Storage
	MasterKey   crypto.MasterKey
	Registry    *Registry
	Metrics     *Metrics
	Listener    net.Listener

	// Auth Options
	AuthCookieName string
	AuthJWKSURL    string
}

const (
	retryAfterLoad  = "2"
	retryAfterSave  = "10"
	retryAfterEvent = "5"
)

// Server represents the running server instance.
type Server struct {
	httpServer *http.Server
	store      *MatchStore
	registry   *Registry
}

// Shutdown gracefully shuts down the server and flushes dirty match
// state to disk.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []string

	if s.registry != nil {
		s.registry.StopGC()
	}
	if err := s.store.FlushAll(); err != nil {
		errs = append(errs, fmt.Sprintf("store flush: %v", err))
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("http: %v", err))
	}
	if err := s.store.FlushAll(); err != nil {
		errs = append(errs, fmt.Sprintf("store flush: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %s", strings.Join(errs, ", "))
	}
	return nil
}

// StartServer starts the web server and registers the API handlers.
func StartServer(opts Options) (*Server, error) {
	handler, store, registry := NewServerHandler(opts)

	httpServer := &http.Server{
		Addr:    opts.Addr,
		Handler: handler,
	}

	if opts.Cert != nil {
		httpServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{*opts.Cert},
		}
	}

	go func() {
		var err error
		if opts.Listener != nil {
			if httpServer.TLSConfig != nil {
				log.Printf("Starting HTTPS server on provided listener %s...", opts.Listener.Addr())
				err = httpServer.ServeTLS(opts.Listener, "", "")
			} else {
				log.Printf("Starting HTTP server on provided listener %s...", opts.Listener.Addr())
				err = httpServer.Serve(opts.Listener)
			}
		} else {
			log.Printf("Server starting on port %s...\n", opts.Addr)
			if opts.Cert != nil {
				err = httpServer.ListenAndServeTLS("", "")
			} else {
				err = httpServer.ListenAndServe()
			}
		}

		if err != nil && !errors.Is(err, net.ErrClosed) && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	return &Server{httpServer: httpServer, store: store, registry: registry}, nil
}

// writeHubError maps processing errors to HTTP status codes.
func writeHubError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	var ge *GateBlockedError
	var ce *ConfigError
	switch {
	case errors.As(err, &ve), errors.As(err, &ce):
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
	case errors.As(err, &ge), errors.Is(err, ErrConflict):
		http.Error(w, "Conflict: "+err.Error(), http.StatusConflict)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case os.IsNotExist(err):
		http.Error(w, "Not Found: Match not found", http.StatusNotFound)
	default:
		log.Printf("Internal Server Error during Hub request: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// NewServerHandler creates and configures the HTTP handler for the server.
func NewServerHandler(opts Options) (http.Handler, *MatchStore, *Registry) {
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}

	if opts.Storage == nil {
		opts.Storage = storage.New(opts.DataDir, opts.MasterKey)
	}

	store := opts.MatchStore
	if store == nil {
		store = NewMatchStore(opts.DataDir, opts.Storage)
	}

	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry(store)
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = &Metrics{}
	}

	dls := NewDLSEngine()
	hm := NewHubManager(dls, metrics)

	debugf := func(string, ...any) {}
	if opts.Debug {
		debugf = func(f string, a ...any) {
			log.Printf("[DEBUG BACKEND] "+f, a...)
		}
	}
	mux := http.NewServeMux()

	// loadMatch serializes a read through the match's hub.
	loadMatch := func(w http.ResponseWriter, r *http.Request, matchId string) (*Match, bool) {
		hub := hm.GetHub(matchId, store, registry)
		reply := make(chan HubResponse, 1)
		select {
		case hub.requests <- HubRequest{Type: ReqTypeHTTPLoad, Reply: reply}:
			select {
			case resp := <-reply:
				if resp.Error != nil {
					writeHubError(w, resp.Error)
					return nil, false
				}
				var m Match
				if err := json.Unmarshal(resp.Data, &m); err != nil {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					return nil, false
				}
				m.normalize()
				return &m, true
			case <-r.Context().Done():
				return nil, false
			}
		default:
			hubBusyResponse(w, retryAfterLoad)
			return nil, false
		}
	}

	// submitEvent serializes a write through the match's hub and relays
	// the hub's response message.
	submitEvent := func(w http.ResponseWriter, r *http.Request, userId string, msg Message) {
		hub := hm.GetHub(msg.MatchId, store, registry)
		reply := make(chan HubResponse, 1)
		select {
		case hub.requests <- HubRequest{
			Type:    ReqTypeHTTPEvent,
			UserId:  userId,
			Message: msg,
			Reply:   reply,
		}:
			select {
			case resp := <-reply:
				if resp.Error != nil {
					writeHubError(w, resp.Error)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Write(resp.Data)
			case <-r.Context().Done():
				return
			}
		default:
			hubBusyResponse(w, retryAfterEvent)
		}
	}

	// eventRequest is the body of the typed scoring endpoints.
	type eventRequest struct {
		MatchId      string          `json:"matchId"`
		EventId      string          `json:"eventId,omitempty"`
		BaseRevision string          `json:"baseRevision,omitempty"`
		Timestamp    int64           `json:"timestamp,omitempty"`
		Payload      json.RawMessage `json:"payload"`
	}

	// scoringEndpoint wraps a typed payload in an event envelope and
	// submits it through the hub.
	scoringEndpoint := func(eventType string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
				return
			}
			userId := getUserID(r)
			if userId == "" || !isValidEmail(userId) {
				http.Error(w, "Unauthenticated", http.StatusForbidden)
				return
			}

			var req eventRequest
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1048576)).Decode(&req); err != nil {
				http.Error(w, "Bad Request: Malformed JSON", http.StatusBadRequest)
				return
			}
			if req.MatchId == "" || !isValidUUID(req.MatchId) {
				http.Error(w, "Bad Request: matchId is missing or invalid", http.StatusBadRequest)
				return
			}
			if req.EventId == "" {
				req.EventId = uuid.NewString()
			}
			if req.Timestamp == 0 {
				req.Timestamp = time.Now().UnixMilli()
			}

			ev := MatchEvent{
				ID:            req.EventId,
				Type:          eventType,
				Payload:       req.Payload,
				Timestamp:     req.Timestamp,
				SchemaVersion: CurrentSchemaVersion,
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if err := ValidateEvent(raw); err != nil {
				if metrics != nil {
					metrics.ValidationFailures.Add(1)
				}
				http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
				return
			}

			submitEvent(w, r, userId, Message{
				MatchId:      req.MatchId,
				BaseRevision: req.BaseRevision,
				Event:        raw,
			})
		}
	}

	mux.HandleFunc("/api/delivery", scoringEndpoint(EvDelivery))
	mux.HandleFunc("/api/over", scoringEndpoint(EvNewOver))
	mux.HandleFunc("/api/over/change", scoringEndpoint(EvMidOverChange))
	mux.HandleFunc("/api/batter", scoringEndpoint(EvNewBatter))
	mux.HandleFunc("/api/openers", scoringEndpoint(EvOpeners))
	mux.HandleFunc("/api/innings", scoringEndpoint(EvNewInnings))
	mux.HandleFunc("/api/innings/end", scoringEndpoint(EvEndInnings))
	mux.HandleFunc("/api/match/start", scoringEndpoint(EvMatchStart))
	mux.HandleFunc("/api/match/finalize", scoringEndpoint(EvMatchFinalize))

	// Raw event submission for offline replay: the body carries complete
	// event envelopes, single or batch.
	mux.HandleFunc("/api/event", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
			return
		}

		userId := getUserID(r)
		if userId == "" || !isValidEmail(userId) {
			http.Error(w, "Unauthenticated", http.StatusForbidden)
			return
		}

		var msg Message
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1048576)).Decode(&msg); err != nil {
			http.Error(w, "Bad Request: Malformed JSON", http.StatusBadRequest)
			return
		}

		if msg.MatchId == "" || !isValidUUID(msg.MatchId) {
			http.Error(w, "Bad Request: matchId is missing or invalid", http.StatusBadRequest)
			return
		}
		if msg.Event == nil && len(msg.Events) == 0 {
			http.Error(w, "Bad Request: no events in request", http.StatusBadRequest)
			return
		}

		submitEvent(w, r, userId, msg)
	})

	mux.HandleFunc("/api/undo", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
			return
		}
		userId := getUserID(r)
		if userId == "" || !isValidEmail(userId) {
			http.Error(w, "Unauthenticated", http.StatusForbidden)
			return
		}

		var req struct {
			MatchId string `json:"matchId"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1048576)).Decode(&req); err != nil {
			http.Error(w, "Bad Request: Malformed JSON", http.StatusBadRequest)
			return
		}
		if req.MatchId == "" || !isValidUUID(req.MatchId) {
			http.Error(w, "Bad Request: matchId is missing or invalid", http.StatusBadRequest)
			return
		}

		hub := hm.GetHub(req.MatchId, store, registry)
		reply := make(chan HubResponse, 1)
		select {
		case hub.requests <- HubRequest{
			Type:   ReqTypeHTTPUndo,
			UserId: userId,
			Reply:  reply,
		}:
			select {
			case resp := <-reply:
				if resp.Error != nil {
					writeHubError(w, resp.Error)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Write(resp.Data)
			case <-r.Context().Done():
				return
			}
		default:
			hubBusyResponse(w, retryAfterEvent)
		}
	})

	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		userId := getUserID(r)
		matchId := r.URL.Query().Get("matchId")
		if matchId == "" || !isValidUUID(matchId) {
			http.Error(w, "Bad Request: matchId is missing or invalid", http.StatusBadRequest)
			return
		}

		m, ok := loadMatch(w, r, matchId)
		if !ok {
			return
		}
		if GetMatchAccess(userId, m) < AccessRead {
			http.Error(w, "Forbidden: You do not have access to this match", http.StatusForbidden)
			return
		}

		resp := map[string]any{
			"matchState":        m.State,
			"scorecards":        AggregateAll(m.Deliveries),
			"firstInnings":      m.FirstInnings,
			"lastEventId":       m.LastEventID,
			"inningsDeliveries": m.InningsDeliveries(m.State.CurrentInnings),
		}
		if d := m.LastDelivery(); d != nil {
			resp["lastDelivery"] = d
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	// --- DLS ---

	mux.HandleFunc("/api/dls/preview", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		userId := getUserID(r)
		matchId := r.URL.Query().Get("matchId")
		if matchId == "" || !isValidUUID(matchId) {
			http.Error(w, "Bad Request: matchId is missing or invalid", http.StatusBadRequest)
			return
		}
		g50 := 0
		if gs := r.URL.Query().Get("g50"); gs != "" {
			if val, err := strconv.Atoi(gs); err == nil {
				g50 = val
			}
		}

		m, ok := loadMatch(w, r, matchId)
		if !ok {
			return
		}
		if GetMatchAccess(userId, m) < AccessRead {
			http.Error(w, "Forbidden: You do not have access to this match", http.StatusForbidden)
			return
		}

		result, err := dls.Preview(m, g50)
		if err != nil {
			writeHubError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	})

	mux.HandleFunc("/api/dls/par", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		userId := getUserID(r)
		matchId := r.URL.Query().Get("matchId")
		if matchId == "" || !isValidUUID(matchId) {
			http.Error(w, "Bad Request: matchId is missing or invalid", http.StatusBadRequest)
			return
		}

		m, ok := loadMatch(w, r, matchId)
		if !ok {
			return
		}
		if GetMatchAccess(userId, m) < AccessRead {
			http.Error(w, "Forbidden: You do not have access to this match", http.StatusForbidden)
			return
		}

		par, err := dls.ParNow(m)
		if err != nil {
			writeHubError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"parScore": par})
	})

	// Applying a target computes the preview and records it as an event,
	// so replaying the log reproduces the adjusted chase.
	mux.HandleFunc("/api/dls/apply", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
			return
		}
		userId := getUserID(r)
		if userId == "" || !isValidEmail(userId) {
			http.Error(w, "Unauthenticated", http.StatusForbidden)
			return
		}

		var req struct {
			MatchId string `json:"matchId"`
			EventId string `json:"eventId,omitempty"`
			G50     int    `json:"g50,omitempty"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1048576)).Decode(&req); err != nil {
			http.Error(w, "Bad Request: Malformed JSON", http.StatusBadRequest)
			return
		}
		if req.MatchId == "" || !isValidUUID(req.MatchId) {
			http.Error(w, "Bad Request: matchId is missing or invalid", http.StatusBadRequest)
			return
		}

		m, ok := loadMatch(w, r, req.MatchId)
		if !ok {
			return
		}
		if GetMatchAccess(userId, m) < AccessWrite {
			http.Error(w, "Forbidden: You do not have write access to this match", http.StatusForbidden)
			return
		}

		result, err := dls.Preview(m, req.G50)
		if err != nil {
			writeHubError(w, err)
			return
		}

		if req.EventId == "" {
			req.EventId = uuid.NewString()
		}
		payload, _ := json.Marshal(ApplyTargetPayload{Target: result.Target, G50: result.G50})
		raw, _ := json.Marshal(MatchEvent{
			ID:            req.EventId,
			Type:          EvApplyTarget,
			Payload:       payload,
			Timestamp:     time.Now().UnixMilli(),
			SchemaVersion: CurrentSchemaVersion,
		})

		submitEvent(w, r, userId, Message{MatchId: req.MatchId, Event: raw})
	})

	mux.HandleFunc("/api/dls/reduce-overs", scoringEndpoint(EvReduceOvers))

	// --- Match documents ---

	mux.HandleFunc("/api/save", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
			return
		}

		userId := getUserID(r)
		if userId == "" || !isValidEmail(userId) {
			http.Error(w, "Forbidden: Invalid User ID", http.StatusForbidden)
			return
		}

		var m Match
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 20*1048576)).Decode(&m); err != nil {
			http.Error(w, "Bad Request: Malformed JSON", http.StatusBadRequest)
			return
		}

		matchId := m.ID
		if matchId == "" || !isValidUUID(matchId) {
			http.Error(w, "Bad Request: matchId is missing or invalid", http.StatusBadRequest)
			return
		}

		// Authorization Check
		existing, err := store.LoadMatch(matchId)
		if err == nil {
			// Updating existing match
			if GetMatchAccess(userId, existing) < AccessWrite {
				http.Error(w, "Forbidden: You do not have write access to this match", http.StatusForbidden)
				return
			}
			// Enforce existing ownership
			m.OwnerID = existing.OwnerID
		} else if errors.Is(err, os.ErrNotExist) {
			// New match: set owner to current user
			m.OwnerID = userId
		} else {
			log.Printf("Error checking existing match %s: %v", matchId, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		// Enforce Schema Version
		m.SchemaVersion = CurrentSchemaVersion

		// Re-marshal to bytes for validation and storage
		body, err := json.Marshal(m)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		if err := ValidateMatchData(body); err != nil {
			log.Printf("Validation error for match %s: %v", matchId, err)
			http.Error(w, fmt.Sprintf("Bad Request: Data validation failed: %v", err), http.StatusBadRequest)
			return
		}

		// Serialize through Hub
		hub := hm.GetHub(matchId, store, registry)
		reply := make(chan HubResponse, 1)
		select {
		case hub.requests <- HubRequest{
			Type:    ReqTypeHTTPSave,
			Payload: body,
			Reply:   reply,
		}:
			select {
			case resp := <-reply:
				if resp.Error != nil {
					writeHubError(w, resp.Error)
					return
				}
				w.WriteHeader(http.StatusOK)
				fmt.Fprintf(w, "Match %s saved successfully", matchId)
			case <-r.Context().Done():
				return
			}
		default:
			hubBusyResponse(w, retryAfterSave)
		}
	})

	mux.HandleFunc("/api/load/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		userId := getUserID(r)

		matchId := strings.TrimPrefix(r.URL.Path, "/api/load/")
		if matchId == "" || !isValidUUID(matchId) {
			http.Error(w, "Bad Request: matchId is missing or invalid", http.StatusBadRequest)
			return
		}

		// Serialize through Hub
		hub := hm.GetHub(matchId, store, registry)
		reply := make(chan HubResponse, 1)
		select {
		case hub.requests <- HubRequest{
			Type:  ReqTypeHTTPLoad,
			Reply: reply,
		}:
			select {
			case resp := <-reply:
				if resp.Error != nil {
					writeHubError(w, resp.Error)
					return
				}
				data := resp.Data

				// Authorization Check
				var m Match
				if err := json.Unmarshal(data, &m); err != nil {
					log.Printf("Error unmarshaling match data for auth check: %v", err)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					return
				}
				if GetMatchAccess(userId, &m) < AccessRead {
					http.Error(w, "Forbidden: You do not have access to this match", http.StatusForbidden)
					return
				}

				etag := generateETag(data)
				if r.Header.Get("If-None-Match") == etag {
					w.WriteHeader(http.StatusNotModified)
					return
				}

				w.Header().Set("ETag", etag)
				w.Header().Set("Content-Type", "application/json")
				w.Write(data)
			case <-r.Context().Done():
				return
			}
		default:
			hubBusyResponse(w, retryAfterLoad)
		}
	})

	mux.HandleFunc("/api/list-matches", func(w http.ResponseWriter, r *http.Request) {
		userId := getUserID(r)
		if userId == "" || !isValidEmail(userId) {
			http.Error(w, "Forbidden: Invalid User ID", http.StatusForbidden)
			return
		}

		var knownIds []string
		if r.Method == http.MethodPost {
			var body struct {
				KnownIds []string `json:"knownIds"`
			}
			// Ignore error on decode if body empty, just treat as empty list
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1048576)).Decode(&body); err == nil {
				knownIds = body.KnownIds
			}
		} else if r.Method != http.MethodGet {
			http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
			return
		}

		limit, offset, sortBy, order, query := parsePagination(r)
		accessibleIds := registry.ListMatches(userId, sortBy, order, query)
		total := len(accessibleIds)

		// Pagination Logic
		var pageIds []string
		if offset < total {
			end := offset + limit
			if end > total {
				end = total
			}
			pageIds = accessibleIds[offset:end]
		}

		matches := make([]MatchSummary, 0)

		for _, mid := range pageIds {
			m, err := store.LoadMatch(mid)
			if err != nil {
				continue
			}
			matches = append(matches, summaryOf(m))
		}

		// Check for deleted matches among known IDs
		for _, kid := range knownIds {
			if registry.IsMatchDeleted(kid) {
				matches = append(matches, MatchSummary{
					ID:     kid,
					Status: StatusDeleted,
				})
			}
		}

		respData := struct {
			Data []MatchSummary `json:"data"`
			Meta struct {
				Total  int `json:"total"`
				Offset int `json:"offset"`
				Limit  int `json:"limit"`
			} `json:"meta"`
		}{
			Data: matches,
		}
		respData.Meta.Total = total
		respData.Meta.Offset = offset
		respData.Meta.Limit = limit

		response, err := json.Marshal(respData)
		if err != nil {
			log.Printf("Internal Server Error during JSON Marshal: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		etag := generateETag(response)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("ETag", etag)
		w.Header().Set("Content-Type", "application/json")
		w.Write(response)
	})

	mux.HandleFunc("/api/delete-match", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
			return
		}

		userId := getUserID(r)
		if userId == "" || !isValidEmail(userId) {
			http.Error(w, "Forbidden: Invalid User ID", http.StatusForbidden)
			return
		}

		var data struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1048576)).Decode(&data); err != nil {
			http.Error(w, "Bad Request: Malformed JSON", http.StatusBadRequest)
			return
		}

		matchId := data.ID
		if matchId == "" || !isValidUUID(matchId) {
			http.Error(w, "Bad Request: matchId is missing or invalid", http.StatusBadRequest)
			return
		}

		// Authorization Check
		m, err := store.LoadMatch(matchId)
		if err == nil {
			if GetMatchAccess(userId, m) < AccessAdmin {
				http.Error(w, "Forbidden: Only the owner can delete this match", http.StatusForbidden)
				return
			}
		}

		if err := store.DeleteMatch(matchId); err != nil {
			log.Printf("Internal Server Error during DeleteMatch: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		registry.DeleteMatch(matchId)
		hm.RemoveHub(matchId)

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Match %s deleted successfully", matchId)
	})

	mux.HandleFunc("/api/check-deletions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Invalid request method", http.StatusMethodNotAllowed)
			return
		}

		userId := getUserID(r)
		if userId == "" || !isValidEmail(userId) {
			http.Error(w, "Forbidden: Invalid User ID", http.StatusForbidden)
			return
		}

		var req struct {
			MatchIDs []string `json:"matchIds"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1048576)).Decode(&req); err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}

		var resp struct {
			DeletedMatchIDs []string `json:"deletedMatchIds"`
		}
		resp.DeletedMatchIDs = make([]string, 0)

		for _, mid := range req.MatchIDs {
			// Report as deleted if explicitly tombstoned OR if it exists
			// but is no longer accessible.
			if registry.IsMatchDeleted(mid) || (registry.MatchExists(mid) && registry.GetAccessLevel(userId, mid) < AccessRead) {
				resp.DeletedMatchIDs = append(resp.DeletedMatchIDs, mid)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	// User status endpoint
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		userId := getUserID(r)
		if userId == "" || !isValidEmail(userId) {
			http.Error(w, "Unauthenticated", http.StatusForbidden)
			return
		}

		resp := map[string]interface{}{
			"id":           userId,
			"matchesOwned": registry.CountOwnedMatches(userId),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		data, err := metrics.ToJSON()
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWS(store, registry, hm, w, r, debugf)
	})

	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		if opts.UseMockAuth {
			http.SetCookie(w, &http.Cookie{
				Name:  "mock_auth_user",
				Value: "test@example.com",
				Path:  "/",
			})
		} else if userId := getUserID(r); userId == "" || !isValidEmail(userId) {
			http.Error(w, "Forbidden: Invalid User ID", http.StatusForbidden)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><head><script src='/login-success.js'></script></head><body>Login successful. Closing window...</body></html>"))
	})

	// Mock SSO endpoints for local development
	if opts.UseMockAuth {
		mux.HandleFunc("/.sso/{$}", ssoStatusHandler)
		mux.HandleFunc("/.sso/logout", ssoLogoutHandler)
	}

	handler := http.Handler(mux)
	if opts.UseMockAuth {
		handler = mockAuthMiddleware(opts, handler)
	} else {
		handler = jwtAuthMiddleware(opts, handler)
	}
	handler = loggingMiddleware(handler)
	handler = securityMiddleware(handler)
	handler = cacheControlMiddleware(handler)

	return handler, store, registry
}

// MatchSummary is the list-endpoint view of one match.
type MatchSummary struct {
	ID       string `json:"id"`
	Date     string `json:"date,omitempty"`
	Venue    string `json:"venue,omitempty"`
	Event    string `json:"event,omitempty"`
	HomeName string `json:"homeName,omitempty"`
	AwayName string `json:"awayName,omitempty"`
	Phase    Phase  `json:"phase,omitempty"`
	Revision string `json:"revision,omitempty"`
	Status   string `json:"status,omitempty"`
	OwnerID  string `json:"ownerId,omitempty"`
}

func summaryOf(m *Match) MatchSummary {
	return MatchSummary{
		ID:       m.ID,
		Date:     m.Date,
		Venue:    m.Venue,
		Event:    m.Event,
		HomeName: m.HomeName,
		AwayName: m.AwayName,
		Phase:    m.State.Phase,
		Revision: m.LastEventID,
		Status:   m.Status,
		OwnerID:  m.OwnerID,
	}
}

// cacheControlMiddleware adds Cache-Control headers for API responses
// served behind a proxy.
func cacheControlMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/.sso/") {
			w.Header().Set("Cache-Control", "private, no-cache, no-transform")
		} else {
			w.Header().Set("Cache-Control", "public, max-age=300, proxy-revalidate, no-transform")
		}
		next.ServeHTTP(w, r)
	})
}

// securityMiddleware adds HTTP security headers to responses.
func securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: blob:")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// mockAuthMiddleware simulates TLSProxy by checking for a cookie and setting the UserID context.
func mockAuthMiddleware(opts Options, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookieName := "mock_auth_user"
		cookie, err := r.Cookie(cookieName)
		if err == nil && cookie.Value != "" {
			// Simulate TLSProxy adding the UserID from a cookie
			ctx := context.WithValue(r.Context(), userIDKey, normalizeEmail(cookie.Value))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ssoStatusHandler returns the current user status.
func ssoStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	userId := getUserID(r)
	if userId == "" {
		w.Write([]byte("null\n"))
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"email": userId,
		"name":  "Test User",
	})
}

// ssoLogoutHandler logs the user out (clears cookie).
func ssoLogoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:    "mock_auth_user",
		Value:   "",
		Path:    "/",
		Expires: time.Unix(0, 0),
		MaxAge:  -1,
	})
	w.WriteHeader(http.StatusOK)
}

// loggingMiddleware logs the method and URL path of every incoming HTTP request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("Received request: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
