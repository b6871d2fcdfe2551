// Package statusapi exposes a read-only HTTP surface over the mesh
// graph: a liveness endpoint, a stats endpoint reporting edge counts
// and observation-time bounds, and, when a decoder is supplied, a debug
// decode endpoint returning raw per-token JSON. Learning stays an
// internal API; nothing here mutates state.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/jtstockton/meshresolver/internal/meshgraph"
	"github.com/jtstockton/meshresolver/internal/resolver"
)

// Server serves the status endpoints.
type Server struct {
	graph     *meshgraph.MeshGraph
	decoder   *resolver.Decoder
	addr      string
	startTime time.Time
}

// NewServer creates a status server over graph, listening on addr.
// decoder is optional; when present, a debug decode endpoint is exposed.
func NewServer(graph *meshgraph.MeshGraph, decoder *resolver.Decoder, addr string) *Server {
	return &Server{graph: graph, decoder: decoder, addr: addr, startTime: time.Now()}
}

// Router builds the chi router, exposed separately so tests can drive
// the handlers without a listener.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	if s.decoder != nil {
		r.Get("/decode", s.handleDecode)
	}
	return r
}

// Serve runs the HTTP server until ctx is canceled. It satisfies
// suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info().Str("addr", s.addr).Msg("statusapi: listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.graph.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"edge_count":         stats.EdgeCount,
		"total_observations": stats.TotalObservations,
		"oldest_first_seen":  stats.OldestFirstSeen,
		"newest_last_seen":   stats.NewestLastSeen,
	})
}

// handleDecode resolves a path passed as ?path=..., optionally with the
// sender's full public key as ?sender=... — a raw JSON view for
// operators debugging a decode; the chat-facing rendering lives in the
// bot, not here.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	res, err := s.decoder.Decode(r.Context(), raw, r.URL.Query().Get("sender"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	type tokenView struct {
		Token      string   `json:"token"`
		Outcome    string   `json:"outcome"`
		Name       string   `json:"name,omitempty"`
		PublicKey  string   `json:"public_key,omitempty"`
		Method     string   `json:"method,omitempty"`
		Confidence *float64 `json:"confidence,omitempty"`
		Matches    int      `json:"matches,omitempty"`
	}

	tokens := make([]tokenView, 0, len(res.Tokens))
	for _, t := range res.Tokens {
		v := tokenView{Token: t.Token}
		switch t.Result.Kind {
		case resolver.Found:
			v.Outcome = "found"
			v.Name = t.Result.Record.Name
			v.PublicKey = t.Result.Record.PublicKey
			v.Method = t.Result.Method
			v.Confidence = t.Result.Confidence
		case resolver.Collision:
			v.Outcome = "collision"
			v.Matches = len(t.Result.Matches)
		case resolver.NotFound:
			v.Outcome = "not_found"
		}
		tokens = append(tokens, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("statusapi: response encode failed")
	}
}
