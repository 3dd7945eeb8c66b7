package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/blocklab/blocklab/internal/i18n"
	"github.com/blocklab/blocklab/internal/store"
	"github.com/blocklab/blocklab/internal/tutor"
	"github.com/blocklab/blocklab/internal/vm"
)

// Server is the HTTP and WebSocket front for the session subsystem.
type Server struct {
	coord  *coordinator
	vms    *vm.Manager
	lang   string
	router chi.Router
	http   *http.Server
}

// New wires the coordinator from its collaborators. A nil tut disables
// tutor replies; everything else keeps working.
func New(st store.Store, vms *vm.Manager, tut tutor.Collaborator, tr *i18n.Translator, defaultLanguage string) *Server {
	s := &Server{
		coord: &coordinator{
			store:    st,
			registry: NewRegistry(),
			vms:      vms,
			tutor:    tut,
			i18n:     tr,
		},
		vms:    vms,
		lang:   defaultLanguage,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Route("/session", func(r chi.Router) {
		r.Get("/connect/{code}", s.handleConnect)
		r.Get("/get/{code}", s.handleGetSession)
		r.Post("/new", s.handleNewSession)
		r.Delete("/{code}", s.handleDeleteSession)
		r.Get("/hello", s.handleHello)
	})
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	log.Printf("blocklab server starting on http://localhost%s", addr)
	return s.http.ListenAndServe()
}

// Shutdown stops every live sandbox and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")
	s.vms.StopAll(ctx)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
