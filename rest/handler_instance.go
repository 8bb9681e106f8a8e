package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	api "github.com/mohitkumar/loanflow/api/v1"
)

func (s *Server) HandleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	var req api.StartWorkflowRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := s.loanService.StartWorkflow(r.Context(), req)
	respondWithResult(w, http.StatusCreated, out, err)
}

func (s *Server) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	out, err := s.loanService.GetInstance(r.Context(), mux.Vars(r)["id"])
	respondWithResult(w, http.StatusOK, out, err)
}

func (s *Server) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	out, err := s.loanService.History(r.Context(), mux.Vars(r)["id"])
	respondWithResult(w, http.StatusOK, out, err)
}

func (s *Server) HandleTransition(w http.ResponseWriter, r *http.Request) {
	var req api.TransitionRequest
	if !decode(w, r, &req) {
		return
	}
	req.InstanceId = mux.Vars(r)["id"]
	out, err := s.loanService.Transition(r.Context(), req)
	respondWithResult(w, http.StatusOK, out, err)
}

func (s *Server) HandleAssign(w http.ResponseWriter, r *http.Request) {
	var req api.AssignRequest
	if !decode(w, r, &req) {
		return
	}
	req.InstanceId = mux.Vars(r)["id"]
	out, err := s.loanService.Assign(r.Context(), req)
	respondWithResult(w, http.StatusOK, out, err)
}

func (s *Server) HandleQueueForRole(w http.ResponseWriter, r *http.Request) {
	out, err := s.loanService.QueueForRole(r.Context(), mux.Vars(r)["role"])
	respondWithResult(w, http.StatusOK, out, err)
}

func (s *Server) HandleOverdue(w http.ResponseWriter, r *http.Request) {
	out, err := s.loanService.Overdue(r.Context())
	respondWithResult(w, http.StatusOK, out, err)
}
