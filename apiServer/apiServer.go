// Package apiServer exposes the repository over a small
// resource-oriented HTTP protocol. Transport concerns only: request
// parsing, status mapping, response encoding. All semantics live in
// the entitystore package.
package apiServer

import (
	"log/slog"
	"net/http"

	entitystore "github.com/preservio/entitystore"
)

type Server struct {
	mux  *http.ServeMux
	repo *entitystore.Repository
	log  *slog.Logger
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

func New(repo *entitystore.Repository, opts ...Option) *Server {
	s := &Server{
		mux:  http.NewServeMux(),
		repo: repo,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /entity", s.handleIngest)
	s.mux.HandleFunc("POST /entity-async", s.handleIngestAsync)
	s.mux.HandleFunc("POST /entity-list", s.handleEntityList)
	s.mux.HandleFunc("PUT /entity/{id}", s.handleUpdate)
	s.mux.HandleFunc("GET /entity/{id}", s.handleEntity)
	s.mux.HandleFunc("GET /entity/{id}/{version}", s.handleEntity)
	s.mux.HandleFunc("GET /representation/{id}", s.handleRepresentation)
	s.mux.HandleFunc("GET /representation/{id}/{version}", s.handleRepresentation)
	s.mux.HandleFunc("GET /file/{id}", s.handleFile)
	s.mux.HandleFunc("GET /file/{id}/{version}", s.handleFile)
	s.mux.HandleFunc("GET /bitstream/{id}", s.handleBitStream)
	s.mux.HandleFunc("GET /bitstream/{id}/{version}", s.handleBitStream)
	s.mux.HandleFunc("GET /metadata/{id}", s.handleMetadata)
	s.mux.HandleFunc("GET /entity-version-list/{id}", s.handleVersionList)
	s.mux.HandleFunc("GET /lifecycle/{id}", s.handleLifecycle)
	s.mux.HandleFunc("GET /sru/entities", s.handleEntitySearch)
	s.mux.HandleFunc("GET /sru/representations", s.handleRepresentationSearch)
	s.mux.HandleFunc("PUT /datastream/{id}", s.handlePutDatastream)
	s.mux.HandleFunc("GET /datastream/{id}", s.handleGetDatastream)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.log.Info("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
	s.mux.ServeHTTP(w, r)
}
