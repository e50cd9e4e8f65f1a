// Command lookup is the room code lookup service: hosts register their
// address under a short code, clients resolve the code before connecting.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/andersfylling/rayman-slides/internal/lobby"
)

// Version is set at build time
var Version = "dev"

var log = logging.MustGetLogger("lookup")

func main() {
	addr := flag.String("addr", ":8070", "HTTP address to listen on")
	ttl := flag.Duration("ttl", 2*time.Hour, "room lifetime")
	flag.Parse()

	backend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(
		`%{time:15:04:05.000} %{level:.4s} %{module} %{message}`)
	logging.SetBackend(logging.NewBackendFormatter(backend, format))
	logging.SetLevel(logging.INFO, "")

	log.Infof("lookup %s listening on %s", Version, *addr)

	svc := &service{store: lobby.NewRoomStore(*ttl)}
	go svc.cleanupLoop(*ttl)

	mux := http.NewServeMux()
	mux.HandleFunc("/rooms", svc.handleRooms)
	mux.HandleFunc("/rooms/", svc.handleRoom)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type service struct {
	mu    sync.Mutex
	store *lobby.RoomStore
}

func (s *service) cleanupLoop(ttl time.Duration) {
	interval := ttl / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	for range time.Tick(interval) {
		s.mu.Lock()
		s.store.Cleanup()
		s.mu.Unlock()
	}
}

type createRequest struct {
	Host       string `json:"host"`
	Name       string `json:"name"`
	MaxPlayers int    `json:"max_players"`
}

// handleRooms serves POST /rooms: register a room, return its code.
func (s *service) handleRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Host == "" {
		http.Error(w, "host is required", http.StatusBadRequest)
		return
	}
	if req.MaxPlayers <= 0 {
		req.MaxPlayers = 4
	}

	s.mu.Lock()
	room, err := s.store.Create(req.Host, req.Name, req.MaxPlayers)
	s.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Infof("room %s registered for %s", room.Code, room.Host)
	writeJSON(w, http.StatusCreated, room)
}

// handleRoom serves GET and DELETE /rooms/{code}.
func (s *service) handleRoom(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimPrefix(r.URL.Path, "/rooms/"))
	if code == "" {
		http.Error(w, "room code is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.mu.Lock()
		room, err := s.store.Lookup(code)
		s.mu.Unlock()
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, room)
	case http.MethodDelete:
		s.mu.Lock()
		s.store.Delete(code)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warningf("encode response: %v", err)
	}
}
