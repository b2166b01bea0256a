package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ultrahub-team/ultrahub/internal/catalog"
	"github.com/ultrahub-team/ultrahub/internal/config"
	"github.com/ultrahub-team/ultrahub/internal/observability"
	"github.com/ultrahub-team/ultrahub/internal/raid"
)

type Server struct {
	cfg      config.Config
	manager  *raid.Manager
	catalog  *catalog.Catalog
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, manager *raid.Manager, cat *catalog.Catalog, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		manager: manager,
		catalog: cat,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up; other sites must not
				// be able to watch a guild's raid feed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/bosses", s.handleListBosses)
	r.Get("/v1/bosses/{name}/comps", s.handleListComps)

	r.Post("/v1/raids", s.handleCreateRaid)
	r.Get("/v1/raids", s.handleListRaids)
	r.Get("/v1/raids/ws", s.handleEventsWS)
	r.Get("/v1/raids/{id}", s.handleGetRaid)
	r.Post("/v1/raids/{id}/join", s.handleJoin)
	r.Post("/v1/raids/{id}/role", s.handleAssignRole)
	r.Post("/v1/raids/{id}/leave", s.handleLeave)
	r.Post("/v1/raids/{id}/kick", s.handleKick)
	r.Post("/v1/raids/{id}/ack", s.handleAcknowledge)
	r.Post("/v1/raids/{id}/complete", s.handleComplete)
	r.Post("/v1/raids/{id}/cancel", s.handleCancel)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"bosses": len(s.catalog.VisibleBosses()),
	})
}

func (s *Server) handleListBosses(w http.ResponseWriter, _ *http.Request) {
	names := s.catalog.VisibleBosses()
	bosses := make([]catalog.Boss, 0, len(names))
	for _, name := range names {
		if b, err := s.catalog.Boss(name); err == nil {
			bosses = append(bosses, b)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"bosses": bosses})
}

func (s *Server) handleListComps(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.catalog.Boss(name); err != nil {
		respondError(w, http.StatusNotFound, "boss_not_found", "unknown boss")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"comps":        s.catalog.Compositions(name),
		"meta_classes": s.catalog.MetaClasses(name),
	})
}

func (s *Server) handleCreateRaid(w http.ResponseWriter, r *http.Request) {
	var req raid.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.ChannelID == "" {
		req.ChannelID = s.cfg.RaidChannelID
	}
	sess, err := s.manager.Create(r.Context(), req)
	if err != nil {
		respondRaidError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListRaids(w http.ResponseWriter, r *http.Request) {
	boss := strings.TrimSpace(r.URL.Query().Get("boss"))
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if boss == "" || userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "query parameters boss and user_id are required")
		return
	}
	listings, err := s.manager.List(r.Context(), boss, userID)
	if err != nil {
		respondRaidError(w, err)
		return
	}
	if listings == nil {
		listings = []raid.Listing{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"raids": listings})
}

func (s *Server) handleGetRaid(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondRaidError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type memberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	Target string `json:"target,omitempty"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	offered, err := s.manager.Join(r.Context(), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		respondRaidError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"offered_roles": offered})
}

func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.manager.AssignRole(r.Context(), chi.URLParam(r, "id"), req.UserID, req.Role); err != nil {
		respondRaidError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.manager.Leave(r.Context(), chi.URLParam(r, "id"), req.UserID); err != nil {
		respondRaidError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.manager.Kick(r.Context(), chi.URLParam(r, "id"), req.UserID, req.Target); err != nil {
		respondRaidError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	count, err := s.manager.Acknowledge(r.Context(), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		respondRaidError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"confirmed": count})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.manager.Complete(r.Context(), chi.URLParam(r, "id"), req.UserID); err != nil {
		respondRaidError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.manager.Cancel(r.Context(), chi.URLParam(r, "id"), req.UserID); err != nil {
		respondRaidError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleEventsWS streams raid events for one presentation channel. The
// connection is read only from the server's side; client frames besides
// close/ping are ignored.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	channelID := strings.TrimSpace(r.URL.Query().Get("channel_id"))
	if channelID == "" {
		respondError(w, http.StatusBadRequest, "missing_channel_id", "query parameter channel_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.manager.Subscribe(channelID)
	defer cancel()

	// Drain client frames so pings and close handshakes are processed.
	go func() {
		conn.SetReadLimit(1 << 16)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for evt := range events {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondRaidError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, raid.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, raid.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, raid.ErrExternalUnavailable):
		respondError(w, http.StatusBadGateway, "external_unavailable", err.Error())
	case errors.Is(err, raid.ErrConflict):
		respondError(w, http.StatusConflict, "conflict", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
