// Package server exposes the routing engine over HTTP: conversation
// lifecycle commands, the provider heartbeat feed, and ruleset admin.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"conversation-router/internal/assignment"
	"conversation-router/internal/common/logging"
	"conversation-router/internal/config"
	"conversation-router/internal/metrics"
	"conversation-router/internal/middleware"
	"conversation-router/internal/providers"
	"conversation-router/internal/redis"
	"conversation-router/internal/routing"
	"conversation-router/internal/storage"
)

// Server wires the engine components behind a gorilla/mux router.
type Server struct {
	router     *mux.Router
	httpServer *http.Server

	manager   *assignment.Manager
	registry  *providers.Registry
	ruleStore *routing.RuleStore
	store     storage.Storage
	mirror    *redis.Client // nil when the availability mirror is disabled
	cfg       *config.Config
	logger    logging.Logger
}

// New creates a fully routed server. mirror may be nil.
func New(cfg *config.Config, manager *assignment.Manager, registry *providers.Registry, ruleStore *routing.RuleStore, store storage.Storage, mirror *redis.Client) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		manager:   manager,
		registry:  registry,
		ruleStore: ruleStore,
		store:     store,
		mirror:    mirror,
		cfg:       cfg,
		logger:    logging.GetGlobalLogger(),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestIDMiddleware)
	s.router.Use(middleware.LoggingMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/conversations", s.handleCreateConversation).Methods("POST")
	api.HandleFunc("/conversations/{id}", s.handleGetConversation).Methods("GET")
	api.HandleFunc("/conversations/{id}/transfer", s.handleTransfer).Methods("POST")
	api.HandleFunc("/conversations/{id}/suggest", s.handleSuggest).Methods("POST")
	api.HandleFunc("/conversations/{id}/close", s.handleClose).Methods("POST")

	api.HandleFunc("/providers", s.handleListProviders).Methods("GET")
	api.HandleFunc("/providers/{id}/availability", s.handleProviderAvailability).Methods("PUT")

	api.HandleFunc("/rules", s.handleListRules).Methods("GET")
	api.HandleFunc("/rules/reload", s.handleReloadRules).Methods("POST")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
}

// Handler returns the root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", logging.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type createConversationRequest struct {
	ClientID   string                 `json:"client_id"`
	Message    string                 `json:"message"`
	Context    *routing.ClientContext `json:"context,omitempty"`
	Method     string                 `json:"method,omitempty"`      // "automatic" (default) or "manual"
	ProviderID string                 `json:"provider_id,omitempty"` // required for manual
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required")
		return
	}

	method := assignment.MethodAutomatic
	switch req.Method {
	case "", string(assignment.MethodAutomatic):
	case string(assignment.MethodManual):
		method = assignment.MethodManual
		if req.ProviderID == "" {
			writeError(w, http.StatusBadRequest, "provider_id is required for manual routing")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "method must be 'automatic' or 'manual'")
		return
	}

	conv, err := s.manager.CreateConversation(req.ClientID, req.Message, req.Context, method, req.ProviderID)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.manager.GetConversation(mux.Vars(r)["id"])
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type transferRequest struct {
	ProviderID string `json:"provider_id"`
	Reason     string `json:"reason"`
	Method     string `json:"method,omitempty"` // "manual" (default) or "automatic"
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProviderID == "" {
		writeError(w, http.StatusBadRequest, "provider_id is required")
		return
	}

	method := assignment.MethodManual
	switch req.Method {
	case "", string(assignment.MethodManual):
	case string(assignment.MethodAutomatic):
		method = assignment.MethodAutomatic
	default:
		writeError(w, http.StatusBadRequest, "method must be 'automatic' or 'manual'")
		return
	}

	providerType, err := s.registry.ProviderType(req.ProviderID)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}

	if err := s.manager.Transfer(conversationID, req.ProviderID, providerType, req.Reason, method); err != nil {
		s.writeRoutingError(w, err)
		return
	}

	conv, err := s.manager.GetConversation(conversationID)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type suggestRequest struct {
	Message string                 `json:"message"`
	Context *routing.ClientContext `json:"context,omitempty"`
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req suggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	suggestion, err := s.manager.SuggestReassignment(mux.Vars(r)["id"], req.Message, req.Context)
	if err != nil {
		s.writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.CloseConversation(mux.Vars(r)["id"]); err != nil {
		s.writeRoutingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	filterType := providers.ProviderType(r.URL.Query().Get("type"))
	available := s.registry.ListAvailable(filterType)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": available,
		"count":     len(available),
	})
}

type availabilityRequest struct {
	Available bool `json:"available"`

	// Optional registration fields. When provider_type is set the heartbeat
	// upserts the full provider record instead of just flipping availability.
	ProviderType           string                  `json:"provider_type,omitempty"`
	MaxCapacity            int                     `json:"max_capacity,omitempty"`
	AverageResponseMinutes int                     `json:"average_response_minutes,omitempty"`
	Specialties            []string                `json:"specialties,omitempty"`
	WorkingHours           *providers.WorkingHours `json:"working_hours,omitempty"`
}

func (s *Server) handleProviderAvailability(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["id"]

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ProviderType != "" {
		info := &providers.ProviderAvailability{
			ProviderID:             providerID,
			ProviderType:           providers.ProviderType(req.ProviderType),
			Available:              req.Available,
			MaxCapacity:            req.MaxCapacity,
			AverageResponseMinutes: req.AverageResponseMinutes,
			Specialties:            req.Specialties,
		}
		if req.WorkingHours != nil {
			info.WorkingHours = *req.WorkingHours
		}
		if err := s.registry.Register(info); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.store.SaveProvider(info); err != nil {
			s.logger.Error("provider record not persisted", err,
				logging.String("provider_id", providerID))
		}
	} else if err := s.registry.SetAvailable(providerID, req.Available); err != nil {
		s.writeRoutingError(w, err)
		return
	}

	if s.mirror != nil {
		if err := s.mirror.SetAvailability(r.Context(), providerID, req.Available, s.cfg.HeartbeatTTL()); err != nil {
			// Mirror failures never fail the heartbeat.
			s.logger.Warn("availability mirror write failed",
				logging.String("provider_id", providerID), logging.Err(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider_id": providerID,
		"available":   req.Available,
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules := s.ruleStore.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// handleReloadRules re-reads the ruleset from storage and swaps it in as a
// single snapshot. In-flight scoring finishes on the previous snapshot.
func (s *Server) handleReloadRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.GetRules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load rules from storage")
		return
	}
	routing.StampRules(rules, time.Now().UTC())

	if err := s.ruleStore.Replace(rules); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("ruleset reloaded", logging.Int("rules", len(rules)))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "reloaded",
		"count":  len(rules),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if err := s.store.Health(); err != nil {
		checks["storage"] = err.Error()
		healthy = false
	} else {
		checks["storage"] = "ok"
	}

	if s.mirror != nil {
		if err := s.mirror.Health(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
		"rules":  s.ruleStore.Len(),
	})
}

// writeRoutingError maps engine sentinel errors to HTTP statuses.
func (s *Server) writeRoutingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assignment.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, providers.ErrProviderNotFound),
		errors.Is(err, assignment.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, assignment.ErrConversationClosed),
		errors.Is(err, assignment.ErrTransferNotAllowed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
