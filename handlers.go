package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9]{1,10}$`)

type Server struct {
	db        *Database
	state     *RoomStore
	files     *FileBuffer
	wsManager *WSManager
	sweeper   *Sweeper
}

func NewServer(db *Database) *Server {
	state := NewRoomStore()
	files := NewFileBuffer()
	wsManager := NewWSManager(db, state, files)
	sweeper := NewSweeper(state, files, wsManager)

	return &Server{
		db:        db,
		state:     state,
		files:     files,
		wsManager: wsManager,
		sweeper:   sweeper,
	}
}

func (s *Server) RegisterRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Serve the client page and assets
	mux.Handle("/", http.FileServer(http.Dir("public")))

	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/admin", s.handleAdminAction)

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	return mux
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if !usernamePattern.MatchString(req.Username) {
		respondError(w, "Invalid username", http.StatusBadRequest)
		return
	}

	if _, err := s.db.GetUserByUsername(req.Username); err == nil {
		respondError(w, "Username already exists", http.StatusConflict)
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		respondError(w, "Failed to look up user", http.StatusInternalServerError)
		return
	}

	ip := clientIP(r)
	ban, err := s.db.ActiveBan(ip, time.Now())
	if err != nil {
		respondError(w, "Failed to check bans", http.StatusInternalServerError)
		return
	}
	if ban != nil {
		respondError(w, fmt.Sprintf("You are banned until %s", ban.Expires.Format(time.RFC1123)), http.StatusForbidden)
		return
	}

	user, err := s.db.CreateUser(req.Username, ip)
	if err != nil {
		respondError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"success":  true,
		"username": user.Username,
	})
}

func (s *Server) handleAdminAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Admin  string `json:"admin"`
		Action string `json:"action"`
		Target string `json:"target"`
		Time   int    `json:"time"` // minutes
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if !isAdmin(req.Admin) {
		respondError(w, "Not an admin", http.StatusForbidden)
		return
	}

	user, err := s.db.GetUserByUsername(req.Target)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, "No such user", http.StatusNotFound)
		} else {
			respondError(w, "Failed to look up user", http.StatusInternalServerError)
		}
		return
	}

	switch req.Action {
	case "mute":
		until := time.Now().Add(time.Duration(req.Time) * time.Minute)
		if err := s.db.SetMute(user.Username, until); err != nil {
			respondError(w, "Failed to mute user", http.StatusInternalServerError)
			return
		}
		respondJSON(w, map[string]string{"status": "muted"})

	case "unmute":
		if err := s.db.ClearMute(user.Username); err != nil {
			respondError(w, "Failed to unmute user", http.StatusInternalServerError)
			return
		}
		respondJSON(w, map[string]string{"status": "unmuted"})

	case "ban":
		expires := time.Now().Add(time.Duration(req.Time) * time.Minute)
		if err := s.db.InsertBan(user.IP, expires); err != nil {
			respondError(w, "Failed to ban user", http.StatusInternalServerError)
			return
		}
		respondJSON(w, map[string]string{"status": "banned"})

	case "unban":
		if err := s.db.DeleteBans(user.IP); err != nil {
			respondError(w, "Failed to unban user", http.StatusInternalServerError)
			return
		}
		respondJSON(w, map[string]string{"status": "unbanned"})

	default:
		respondError(w, "Invalid action", http.StatusBadRequest)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsManager.HandleConnection(w, r)
}
