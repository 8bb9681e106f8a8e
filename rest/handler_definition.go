package rest

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/model"
)

func (s *Server) HandlePublishDefinition(w http.ResponseWriter, r *http.Request) {
	var def model.WorkflowDefinition
	if !decode(w, r, &def) {
		return
	}
	out, err := s.loanService.PublishDefinition(r.Context(), def)
	respondWithResult(w, http.StatusCreated, out, err)
}

func (s *Server) HandleGetDefinition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid version")
		return
	}
	out, err := s.loanService.GetDefinition(r.Context(), api.GetRequest{Id: vars["id"], Version: version})
	respondWithResult(w, http.StatusOK, out, err)
}

func (s *Server) HandleGetActiveDefinition(w http.ResponseWriter, r *http.Request) {
	out, err := s.loanService.GetActiveDefinition(r.Context(), mux.Vars(r)["applicationType"])
	respondWithResult(w, http.StatusOK, out, err)
}
