package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	api "github.com/mohitkumar/loanflow/api/v1"
)

func (s *Server) HandleCirculate(w http.ResponseWriter, r *http.Request) {
	var req api.CirculateRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := s.loanService.Circulate(r.Context(), req)
	respondWithResult(w, http.StatusCreated, out, err)
}

func (s *Server) HandleGetReview(w http.ResponseWriter, r *http.Request) {
	out, err := s.loanService.GetReview(r.Context(), mux.Vars(r)["id"])
	respondWithResult(w, http.StatusOK, out, err)
}

func (s *Server) HandleCastVote(w http.ResponseWriter, r *http.Request) {
	var req api.VoteRequest
	if !decode(w, r, &req) {
		return
	}
	req.ReviewId = mux.Vars(r)["id"]
	out, err := s.loanService.CastVote(r.Context(), req)
	respondWithResult(w, http.StatusOK, out, err)
}

func (s *Server) HandleRecordView(w http.ResponseWriter, r *http.Request) {
	var req api.ViewRequest
	if !decode(w, r, &req) {
		return
	}
	req.ReviewId = mux.Vars(r)["id"]
	out, err := s.loanService.RecordView(r.Context(), req)
	respondWithResult(w, http.StatusOK, out, err)
}

func (s *Server) HandleAddComment(w http.ResponseWriter, r *http.Request) {
	var req api.CommentRequest
	if !decode(w, r, &req) {
		return
	}
	req.ReviewId = mux.Vars(r)["id"]
	out, err := s.loanService.AddComment(r.Context(), req)
	respondWithResult(w, http.StatusCreated, out, err)
}

func (s *Server) HandleAddDocument(w http.ResponseWriter, r *http.Request) {
	var req api.DocumentRequest
	if !decode(w, r, &req) {
		return
	}
	req.ReviewId = mux.Vars(r)["id"]
	out, err := s.loanService.AddDocument(r.Context(), req)
	respondWithResult(w, http.StatusCreated, out, err)
}

func (s *Server) HandleSetTerms(w http.ResponseWriter, r *http.Request) {
	var req api.TermsRequest
	if !decode(w, r, &req) {
		return
	}
	req.ReviewId = mux.Vars(r)["id"]
	out, err := s.loanService.SetTermsOverride(r.Context(), req)
	respondWithResult(w, http.StatusOK, out, err)
}
