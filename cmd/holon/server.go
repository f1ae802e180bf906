// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nightscape/holon/internal/engine"
	"github.com/nightscape/holon/internal/types"
)

// Server exposes an Engine over a plain net/http JSON API. A bare
// http.ServeMux is the grounded choice here (mirroring HandleRequest's
// direct net/http use), not a stdlib default of convenience.
type Server struct {
	engine *engine.Engine
	mux    *http.ServeMux
}

// NewServer wires every handler onto a fresh ServeMux.
func NewServer(eng *engine.Engine) *Server {
	s := &Server{engine: eng, mux: http.NewServeMux()}
	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/operation", s.handleOperation)
	s.mux.HandleFunc("/undo", s.handleUndo)
	s.mux.HandleFunc("/redo", s.handleRedo)
	s.mux.HandleFunc("/watch", s.handleWatch)
	s.mux.Handle("/metrics", promhttp.Handler())
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type queryRequest struct {
	Source string `json:"source"`
}

type queryResponse struct {
	Render types.RenderSpec      `json:"render,omitempty"`
	Rows   []*types.StorageEntity `json:"rows"`
}

// handleQuery compiles and executes a query once, without opening a
// watch subscription, for a front-end that only wants one read.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	compiled, err := s.engine.CompileQuery(req.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rows, err := s.engine.ExecuteQuery(r.Context(), compiled.SQL, compiled.Args)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Render: compiled.Render, Rows: rows})
}

type operationRequest struct {
	EntityName string               `json:"entity_name"`
	OpName     string               `json:"op_name"`
	Params     *types.StorageEntity `json:"params"`
}

type operationResponse struct {
	Reversible bool `json:"reversible"`
}

// handleOperation dispatches execute_operation.
func (s *Server) handleOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	action, err := s.engine.ExecuteOperation(r.Context(), req.EntityName, req.OpName, req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, operationResponse{Reversible: action != types.Irreversible})
}

type undoRedoResponse struct {
	Applied bool `json:"applied"`
}

// handleUndo runs undo.
func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	applied, err := s.engine.Undo(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, undoRedoResponse{Applied: applied})
}

// handleRedo runs redo.
func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	applied, err := s.engine.Redo(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, undoRedoResponse{Applied: applied})
}

// handleWatch opens watch_query and streams newline-
// delimited JSON RowChanges for as long as the client keeps the
// connection open, flushing after every change — the http.Flusher
// idiom standing in for a dedicated push transport (websockets, SSE).
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("q")
	if source == "" {
		writeError(w, http.StatusBadRequest, errMissingQueryParam)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errNoFlush)
		return
	}

	render, rows, handle, changes, err := s.engine.QueryAndWatch(r.Context(), source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer handle.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)

	_ = enc.Encode(queryResponse{Render: *render, Rows: rows})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := enc.Encode(rowChangeToJSON(change)); err != nil {
				log.WithError(err).Warn("watch: client disconnected")
				return
			}
			flusher.Flush()
		}
	}
}

var (
	errMissingQueryParam = jsonError("missing required 'q' query parameter")
	errNoFlush           = jsonError("response writer does not support streaming")
)

type jsonError string

func (e jsonError) Error() string { return string(e) }

// changeWire is a RowChange's JSON shape: Data is omitted for Deleted
// changes, matching Change[T]'s own zero-payload convention.
type changeWire struct {
	Relation string               `json:"relation"`
	Kind     string                `json:"kind"`
	ID       string               `json:"id,omitempty"`
	Data     *types.StorageEntity `json:"data,omitempty"`
}

func rowChangeToJSON(rc engine.RowChange) changeWire {
	c := rc.Change
	w := changeWire{Relation: rc.RelationName, ID: c.ID()}
	switch c.Kind() {
	case types.ChangeCreated:
		w.Kind = "created"
		w.Data = c.Data()
		if w.ID == "" {
			w.ID = w.Data.ID()
		}
	case types.ChangeUpdated:
		w.Kind = "updated"
		w.Data = c.Data()
	case types.ChangeDeleted:
		w.Kind = "deleted"
	}
	return w
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(bufio.NewReader(r.Body)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to encode JSON response")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// ListenAndServe starts the HTTP server, returning once ctx is canceled
// or ListenAndServe itself fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
