//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package rest exposes workflow validation, execution and locked sessions
// over HTTP, with server-sent events for streamed runs.
package rest

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-workflow-go/execution"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/server/rest/internal/schema"
	"trpc.group/trpc-go/trpc-workflow-go/session"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

const (
	// HeaderAdminToken identifies the publishing system.
	HeaderAdminToken = "X-Admin-Token"
	// QueryAccessToken carries a session token.
	QueryAccessToken = "access_token"

	apiPrefix = "/api/v1/workflow"
)

// Server routes REST requests onto the execution service and the session
// manager.
type Server struct {
	router   *mux.Router
	exec     *execution.Service
	sessions *session.Manager

	baseURL        string
	adminToken     string
	allowedOrigins []string
}

// Option configures the Server instance.
type Option func(*Server)

// WithBaseURL sets the public URL share links are built on. If omitted,
// the request host is used.
func WithBaseURL(url string) Option {
	return func(s *Server) { s.baseURL = strings.TrimRight(url, "/") }
}

// WithAdminToken enables owner access for requests carrying the token in
// the X-Admin-Token header.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithAllowedOrigins restricts CORS origins (default: any).
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// New creates a server.
func New(exec *execution.Service, sessions *session.Manager, opts ...Option) *Server {
	s := &Server{
		router:         mux.NewRouter(),
		exec:           exec,
		sessions:       sessions,
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Workflow APIs.
	api := s.router.PathPrefix(apiPrefix).Subrouter()
	api.HandleFunc("/validate", s.handleValidate).Methods(http.MethodPost)
	api.HandleFunc("/execute", s.handleExecute).Methods(http.MethodPost)
	api.HandleFunc("/execute-stream", s.handleExecuteStream).Methods(http.MethodPost)
	api.HandleFunc("/node-types", s.handleNodeTypes).Methods(http.MethodGet)
	api.HandleFunc("/executions", s.handleListExecutions).Methods(http.MethodGet)
	api.HandleFunc("/executions/{id}", s.handleGetExecution).Methods(http.MethodGet)
	api.HandleFunc("/executions/{id}", s.handleCancelExecution).Methods(http.MethodDelete)

	// Session APIs.
	s.router.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/from-workflow", s.handleCreateSession).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}/workflow", s.handleGetSessionWorkflow).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}/execute", s.handleExecuteSession).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}", s.handleRevokeSession).Methods(http.MethodDelete)

	// OPTIONS handlers to allow CORS pre-flight.
	preflight := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	s.router.PathPrefix("/").HandlerFunc(preflight).Methods(http.MethodOptions)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, schema.StatusResponse{Status: "ok"})
}

// isOwner reports whether the request carries the admin token.
func (s *Server) isOwner(r *http.Request) bool {
	if s.adminToken == "" {
		return false
	}
	got := r.Header.Get(HeaderAdminToken)
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) == 1
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("Error marshalling response: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, schema.ErrorResponse{Error: msg})
}

// fail maps err onto its HTTP status.
func (s *Server) fail(w http.ResponseWriter, err error) {
	s.writeError(w, statusOf(err), err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, workflow.ErrInvalidDefinition),
		errors.Is(err, session.ErrParameterNotAllowed),
		errors.Is(err, session.ErrInvalidLockLevel):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, session.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, execution.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, execution.ErrNotRunning):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
