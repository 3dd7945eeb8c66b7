package server

import (
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/blocklab/blocklab/internal/session"
	"github.com/blocklab/blocklab/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleGetSession resolves a session code to its owner id so a joining
// client can open the WebSocket with the right credentials.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	rec, err := s.coord.store.Get(r.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("get session %s: %v", code, err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	if rec.UUID == "" {
		http.Error(w, "Session uuid is invalid or not found", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"uuid": rec.UUID})
}

type newSessionRequest struct {
	Language string `json:"language"`
}

// handleNewSession creates a session record under a fresh join code and a
// generated owner id.
func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	var req newSessionRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // empty body is fine
		r.Body.Close()
	}

	language := req.Language
	if language == "" {
		language = s.lang
	}

	code := GenerateCode()
	rec := session.New(code, uuid.NewString(), language)
	if err := s.coord.store.Put(r.Context(), rec); err != nil {
		log.Printf("create session: %v", err)
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"sessioncode": code, "uuid": rec.UUID})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	rec, err := s.coord.store.Get(r.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}

	// A deleted session must not leave its sandbox behind.
	if _, err := s.vms.StopExecution(r.Context(), code, rec.UUID); err != nil {
		log.Printf("delete session %s: %v", code, err)
	}
	if err := s.coord.store.Delete(r.Context(), code); err != nil {
		http.Error(w, "Server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHello is the liveness probe.
func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("hello"))
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode returns a six-character join code. Ambiguous characters are
// left out of the alphabet.
func GenerateCode() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(b)
}
