//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package rest

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/server/rest/internal/schema"
	"trpc.group/trpc-go/trpc-workflow-go/session"
)

func (s *Server) accessOptions(r *http.Request) []session.AccessOption {
	if s.isOwner(r) {
		return []session.AccessOption{session.WithOwnerAccess()}
	}
	return nil
}

func (s *Server) shareURL(r *http.Request, sess *session.LockedSession) string {
	base := s.baseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return fmt.Sprintf("%s/sessions/%s/workflow?%s=%s",
		base, url.PathEscape(sess.SessionID), QueryAccessToken, url.QueryEscape(sess.AccessToken))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleCreateSession called: path=%s", r.URL.Path)
	var req schema.CreateSessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.sessions.Create(r.Context(), session.CreateRequest{
		Workflow:          req.Definition(),
		LockLevel:         session.LockLevel(req.LockLevel),
		AllowedParameters: req.AllowedParameters,
		CustomerName:      req.CustomerName,
		ExpiresInDays:     req.ExpiresInDays,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, schema.CreateSessionResponse{
		SessionID:    sess.SessionID,
		ShareURL:     s.shareURL(r, sess),
		AccessToken:  sess.AccessToken,
		ExpiresAt:    sess.ExpiresAt,
		WorkflowName: sess.Workflow.Name,
	})
}

func (s *Server) handleGetSessionWorkflow(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleGetSessionWorkflow called: path=%s", r.URL.Path)
	id := mux.Vars(r)["id"]
	detail, err := s.sessions.GetDetail(r.Context(), id, r.URL.Query().Get(QueryAccessToken), s.accessOptions(r)...)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleExecuteSession(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleExecuteSession called: path=%s", r.URL.Path)
	id := mux.Vars(r)["id"]
	var req schema.SessionExecuteRequest
	if !s.decode(w, r, &req) {
		return
	}
	ticket, err := s.sessions.Execute(r.Context(), id, r.URL.Query().Get(QueryAccessToken),
		req.ImageIDs, req.Parameters, s.accessOptions(r)...)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleRevokeSession called: path=%s", r.URL.Path)
	if !s.isOwner(r) {
		s.fail(w, session.ErrAccessDenied)
		return
	}
	if err := s.sessions.Revoke(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, schema.StatusResponse{Status: "revoked"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleListSessions called: path=%s", r.URL.Path)
	if !s.isOwner(r) {
		s.fail(w, session.ErrAccessDenied)
		return
	}
	list, err := s.sessions.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}
