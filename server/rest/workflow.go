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
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"trpc.group/trpc-go/trpc-workflow-go/event"
	"trpc.group/trpc-go/trpc-workflow-go/log"
	"trpc.group/trpc-go/trpc-workflow-go/scheduler"
	"trpc.group/trpc-go/trpc-workflow-go/server/rest/internal/schema"
	"trpc.group/trpc-go/trpc-workflow-go/workflow"
)

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleValidate called: path=%s", r.URL.Path)
	var def workflow.Definition
	if !s.decode(w, r, &def) {
		return
	}
	errs := workflow.ValidateAll(&def)
	resp := schema.ValidateResponse{Valid: len(errs) == 0, Errors: make([]string, 0, len(errs))}
	for _, err := range errs {
		resp.Errors = append(resp.Errors, err.Error())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) decodeExecute(w http.ResponseWriter, r *http.Request) (*schema.ExecuteRequest, bool) {
	var req schema.ExecuteRequest
	if !s.decode(w, r, &req) {
		return nil, false
	}
	if req.Workflow == nil {
		s.writeError(w, http.StatusBadRequest, "workflow is required")
		return nil, false
	}
	return &req, true
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleExecute called: path=%s", r.URL.Path)
	req, ok := s.decodeExecute(w, r)
	if !ok {
		return
	}
	resp, err := s.exec.Run(r.Context(), req.Workflow, req.Inputs, scheduler.WithConfig(req.Config))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleExecuteStream writes one SSE frame per event. A client disconnect
// cancels the run.
func (s *Server) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleExecuteStream called: path=%s", r.URL.Path)
	req, ok := s.decodeExecute(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events, err := s.exec.Stream(r.Context(), req.Workflow, req.Inputs, scheduler.WithConfig(req.Config))
	if err != nil {
		s.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for e := range events {
		if err := writeSSE(w, e); err != nil {
			log.Errorf("Error writing SSE event: %v", err)
			continue
		}
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, e *event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *Server) handleNodeTypes(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleNodeTypes called: path=%s", r.URL.Path)
	s.writeJSON(w, http.StatusOK, schema.NodeTypesResponse{
		Types: s.exec.Scheduler().Registry().ListTypes(),
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleListExecutions called: path=%s", r.URL.Path)
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	list, err := s.exec.List(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if list == nil {
		list = []*workflow.ExecutionResponse{}
	}
	s.writeJSON(w, http.StatusOK, schema.ExecutionsResponse{Executions: list})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleGetExecution called: path=%s", r.URL.Path)
	resp, err := s.exec.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	log.Infof("handleCancelExecution called: path=%s", r.URL.Path)
	id := mux.Vars(r)["id"]
	if err := s.exec.Cancel(id); err != nil {
		if _, getErr := s.exec.Get(r.Context(), id); getErr != nil {
			err = getErr
		}
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, schema.StatusResponse{Status: "cancelling"})
}
