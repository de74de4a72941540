package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/covm/covm/core"
)

// debugServer is a read-only introspection surface over a fresh in-memory
// environment. It is a host convenience for watching emitted events and
// browsing storage during manual exploration; it is never part of the VM or
// storage contract and a client must never depend on its shape.
type debugServer struct {
	storage core.Storage
	sink    *core.RingBuffer
	auth    *core.AuthContext
	router  chi.Router
}

func newDebugServer() *debugServer {
	sink := core.NewRingBuffer(4096)
	s := &debugServer{
		storage: core.NewMemoryStorage(sink),
		sink:    sink,
		auth:    bootstrapAuth("debug", "admin"),
	}
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Get("/events", s.handleEvents)
	r.Get("/storage/{ns}", s.handleListKeys)
	r.Get("/storage/{ns}/{key}/versions", s.handleListVersions)
	s.router = r
	return s
}

func (s *debugServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *debugServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sink.Events())
}

func (s *debugServer) handleListKeys(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	keys, verr := s.storage.ListKeys(s.auth, ns, "")
	if verr != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": verr.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, keys)
}

func (s *debugServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	ns := chi.URLParam(r, "ns")
	key := chi.URLParam(r, "key")
	versions, verr := s.storage.ListVersions(s.auth, ns, key)
	if verr != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": verr.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, versions)
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve a read-only debug introspection surface (events, storage browsing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := newDebugServer()
			fmt.Printf("debug surface listening on %s (read-only, host convenience only)\n", addr)
			return http.ListenAndServe(addr, s.router)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8787", "address to listen on")
	return cmd
}
