// Copyright 2024-2026 Aiku AI

package bridge

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// maxRequestBodySize caps command request bodies (1 MB).
const maxRequestBodySize = 1 << 20

// API exposes the command surface over HTTP to the backend's API layer.
// Command failures are in-band ({"success":false,"error":...} with 200);
// non-2xx statuses are reserved for protocol misuse (bad method, bad JSON).
type API struct {
	commands *Commands
	log      zerolog.Logger
}

// NewAPIMux builds the HTTP handler for the command surface.
func NewAPIMux(commands *Commands, log zerolog.Logger) http.Handler {
	api := &API{
		commands: commands,
		log:      log.With().Str("component", "api").Logger(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/circles", api.handleList)
	mux.HandleFunc("/circles/join", api.handleJoin)
	mux.HandleFunc("/circles/leave", api.handleLeave)
	mux.HandleFunc("/circles/message", api.handleMessage)
	return mux
}

// NewAPIServer wraps the command mux in a server with explicit timeouts.
func NewAPIServer(addr string, commands *Commands, log zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      NewAPIMux(commands, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

type joinRequest struct {
	CircleID   string `json:"circle_id"`
	InviteLink string `json:"invite_link"`
}

type circleRequest struct {
	CircleID string `json:"circle_id"`
}

type messageRequest struct {
	CircleID string `json:"circle_id"`
	Text     string `json:"text"`
}

func (a *API) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.writeJSON(w, a.commands.JoinGroup(r.Context(), req.CircleID, req.InviteLink))
}

func (a *API) handleLeave(w http.ResponseWriter, r *http.Request) {
	var req circleRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.writeJSON(w, a.commands.LeaveGroup(r.Context(), req.CircleID))
}

func (a *API) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !a.decode(w, r, &req) {
		return
	}
	a.writeJSON(w, a.commands.SendGroupMessage(r.Context(), req.CircleID, req.Text))
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	bindings := a.commands.ListCircles()
	if bindings == nil {
		bindings = []Binding{}
	}
	a.writeJSON(w, bindings)
}

// decode reads a JSON POST body into dst, writing the error response and
// returning false on protocol misuse.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (a *API) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn().Err(err).Msg("Failed to write response")
	}
}
