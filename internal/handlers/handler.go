package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/supportbot/internal/bridge"
	"github.com/eldtechnologies/supportbot/internal/queue"
	"github.com/eldtechnologies/supportbot/internal/store"
	"github.com/eldtechnologies/supportbot/internal/tasks"
)

// Deps are the collaborators of a Handler. Redis, Queue and Orchestrator
// are nil when no Redis server is configured; task endpoints then answer
// 503.
type Deps struct {
	Store        store.DataStore
	Redis        redis.UniversalClient
	Queue        *queue.Queue
	Orchestrator *tasks.Orchestrator
	Bridge       *bridge.Bridge
	Hub          *bridge.Hub
	Logger       zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store  store.DataStore
	redis  redis.UniversalClient
	queue  *queue.Queue
	orch   *tasks.Orchestrator
	bridge *bridge.Bridge
	hub    *bridge.Hub
	logger zerolog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:  d.Store,
		redis:  d.Redis,
		queue:  d.Queue,
		orch:   d.Orchestrator,
		bridge: d.Bridge,
		hub:    d.Hub,
		logger: d.Logger.With().Str("component", "http").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeText trims s, drops control characters and caps it at max bytes.
func sanitizeText(s string, max int) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	if len(s) > max {
		s = s[:max]
	}
	return s
}
