// Package api implements the HTTP/JSON control plane: proxy and toxic CRUD
// plus metrics exposition.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/rom8726/faultproxy/internal/apierr"
	"github.com/rom8726/faultproxy/internal/metrics"
	"github.com/rom8726/faultproxy/internal/pipeline"
	"github.com/rom8726/faultproxy/internal/registry"
	"github.com/rom8726/faultproxy/internal/toxic"
)

// Server wires a Registry and a metrics Registry onto the route table.
type Server struct {
	reg     *registry.Registry
	metrics *metrics.Registry
	logger  *slog.Logger

	handler http.Handler
}

// New builds a Server and its route table. The returned Server's Handler()
// is ready to pass to http.Serve.
func New(reg *registry.Registry, metricsReg *metrics.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{reg: reg, metrics: metricsReg, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/proxies", s.listProxies).Methods(http.MethodGet)
	r.HandleFunc("/proxies", s.createProxy).Methods(http.MethodPost)
	r.HandleFunc("/proxies/{name}", s.getProxy).Methods(http.MethodGet)
	r.HandleFunc("/proxies/{name}", s.deleteProxy).Methods(http.MethodDelete)
	r.HandleFunc("/proxies/{name}/enabled", s.setEnabled).Methods(http.MethodPost)
	r.HandleFunc("/proxies/{name}/toxics", s.listToxics).Methods(http.MethodGet)
	r.HandleFunc("/proxies/{name}/toxics", s.addToxic).Methods(http.MethodPost)
	r.HandleFunc("/proxies/{name}/toxics/{id}", s.deleteToxic).Methods(http.MethodDelete)
	r.Handle("/metrics", metricsReg.Handler()).Methods(http.MethodGet)

	s.handler = cors.AllowAll().Handler(r)

	return s
}

// Handler returns the CORS-wrapped mux.Router as an http.Handler.
func (s *Server) Handler() http.Handler { return s.handler }

type proxyConfig struct {
	Name     string `json:"name"`
	Listen   string `json:"listen"`
	Upstream string `json:"upstream"`
}

func (s *Server) listProxies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.List())
}

func (s *Server) createProxy(w http.ResponseWriter, r *http.Request) {
	var cfg proxyConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, apierr.NewConfigError("invalid request body: %v", err))

		return
	}
	if cfg.Name == "" {
		writeError(w, apierr.NewConfigError("name is required"))

		return
	}
	if err := validateAddr(cfg.Listen); err != nil {
		writeError(w, apierr.NewConfigError("invalid listen address: %v", err))

		return
	}
	if err := validateAddr(cfg.Upstream); err != nil {
		writeError(w, apierr.NewConfigError("invalid upstream address: %v", err))

		return
	}

	p, err := s.reg.Create(context.WithoutCancel(r.Context()), cfg.Name, cfg.Listen, cfg.Upstream)
	if err != nil {
		var exists *registry.ErrAlreadyExists
		if errors.As(err, &exists) {
			writeError(w, apierr.NewConflict("proxy %q already exists", cfg.Name))

			return
		}
		writeError(w, apierr.NewConfigError("failed to bind listener: %v", err))

		return
	}

	writeJSON(w, http.StatusCreated, p.Summarize())
}

func (s *Server) getProxy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, ok := s.reg.Get(name)
	if !ok {
		writeError(w, apierr.NewNotFound("proxy %q not found", name))

		return
	}
	writeJSON(w, http.StatusOK, p.Summarize())
}

func (s *Server) deleteProxy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.reg.Delete(name) {
		writeError(w, apierr.NewNotFound("proxy %q not found", name))

		return
	}
	s.metrics.DeleteProxy(name)
	w.WriteHeader(http.StatusNoContent)
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

// setEnabled toggles a proxy between Listening and Paused without
// forgetting its pipelines.
func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, ok := s.reg.Get(name)
	if !ok {
		writeError(w, apierr.NewNotFound("proxy %q not found", name))

		return
	}

	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.NewConfigError("invalid request body: %v", err))

		return
	}

	var err error
	if req.Enabled {
		err = p.Resume(context.WithoutCancel(r.Context()))
	} else {
		err = p.Pause()
	}
	if err != nil {
		writeError(w, apierr.NewConfigError("%v", err))

		return
	}

	writeJSON(w, http.StatusOK, p.Summarize())
}

type toxicResponse struct {
	toxic.Config
	ID        string          `json:"id"`
	Direction toxic.Direction `json:"direction"`
}

func (s *Server) listToxics(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, ok := s.reg.Get(name)
	if !ok {
		writeError(w, apierr.NewNotFound("proxy %q not found", name))

		return
	}

	out := make([]toxicResponse, 0)
	for _, e := range p.PipelineUp.Snapshot() {
		out = append(out, entryResponse(e))
	}
	for _, e := range p.PipelineDown.Snapshot() {
		if e.Direction == toxic.Both {
			continue // already emitted from the up pipeline; Both entries are inserted into both pipelines with the same id
		}
		out = append(out, entryResponse(e))
	}

	writeJSON(w, http.StatusOK, out)
}

func entryResponse(e pipeline.Entry) toxicResponse {
	return toxicResponse{Config: toxic.ToConfig(e.Toxic), ID: e.ID, Direction: e.Direction}
}

type addToxicRequest struct {
	toxic.Config
	Direction toxic.Direction `json:"direction"`
}

// addToxic inserts a new toxic. Direction defaults to Both when omitted.
// A Both toxic is inserted into both of the proxy's pipelines, sharing one
// id, so deleteToxic, which removes that id from both pipelines, tears down
// the whole entry.
func (s *Server) addToxic(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	p, ok := s.reg.Get(name)
	if !ok {
		writeError(w, apierr.NewNotFound("proxy %q not found", name))

		return
	}

	var req addToxicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.NewConfigError("invalid request body: %v", err))

		return
	}
	if req.Direction == "" {
		req.Direction = toxic.Both
	}
	if !req.Direction.Valid() {
		writeError(w, apierr.NewConfigError("invalid direction %q", req.Direction))

		return
	}

	tx, err := toxic.Build(req.Config)
	if err != nil {
		writeError(w, apierr.NewConfigError("invalid toxic config: %v", err))

		return
	}

	var entry pipeline.Entry
	switch req.Direction {
	case toxic.Upstream:
		entry = p.PipelineUp.Insert(req.Direction, tx)
	case toxic.Downstream:
		entry = p.PipelineDown.Insert(req.Direction, tx)
	case toxic.Both:
		entry = p.PipelineUp.Insert(req.Direction, tx)
		p.PipelineDown.InsertWithID(entry.ID, req.Direction, tx)
	}

	writeJSON(w, http.StatusCreated, toxicResponse{Config: toxic.ToConfig(tx), ID: entry.ID, Direction: entry.Direction})
}

func (s *Server) deleteToxic(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, id := vars["name"], vars["id"]

	p, ok := s.reg.Get(name)
	if !ok {
		writeError(w, apierr.NewNotFound("proxy %q not found", name))

		return
	}

	removedUp := p.PipelineUp.Remove(id)
	removedDown := p.PipelineDown.Remove(id)
	if !removedUp && !removedDown {
		writeError(w, apierr.NewNotFound("toxic %q not found", id))

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case asConfigError(err):
		status = http.StatusBadRequest
	case asNotFound(err):
		status = http.StatusNotFound
	case asConflict(err):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{Message: err.Error()})
}

func asConfigError(err error) bool {
	var e *apierr.ConfigError

	return errors.As(err, &e)
}

func asNotFound(err error) bool {
	var e *apierr.NotFound

	return errors.As(err, &e)
}

func asConflict(err error) bool {
	var e *apierr.Conflict

	return errors.As(err, &e)
}

func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)

	return err
}
