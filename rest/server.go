package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	api "github.com/mohitkumar/loanflow/api/v1"
	"github.com/mohitkumar/loanflow/logger"
	"github.com/mohitkumar/loanflow/service"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port        int
	loanService *service.LoanService
}

func NewServer(httpPort int, loanService *service.LoanService) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr: fmt.Sprintf(":%d", httpPort),
		},
		loanService: loanService,
		Port:        httpPort,
	}

	router := mux.NewRouter()
	router.HandleFunc("/definitions", s.HandlePublishDefinition).Methods(http.MethodPost)
	router.HandleFunc("/definitions/active/{applicationType}", s.HandleGetActiveDefinition).Methods(http.MethodGet)
	router.HandleFunc("/definitions/{id}/{version:[0-9]+}", s.HandleGetDefinition).Methods(http.MethodGet)

	router.HandleFunc("/instances", s.HandleStartWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/instances/{id}", s.HandleGetInstance).Methods(http.MethodGet)
	router.HandleFunc("/instances/{id}/history", s.HandleGetHistory).Methods(http.MethodGet)
	router.HandleFunc("/instances/{id}/transitions", s.HandleTransition).Methods(http.MethodPost)
	router.HandleFunc("/instances/{id}/assignee", s.HandleAssign).Methods(http.MethodPut)
	router.HandleFunc("/queues/{role}", s.HandleQueueForRole).Methods(http.MethodGet)
	router.HandleFunc("/overdue", s.HandleOverdue).Methods(http.MethodGet)

	router.HandleFunc("/reviews", s.HandleCirculate).Methods(http.MethodPost)
	router.HandleFunc("/reviews/{id}", s.HandleGetReview).Methods(http.MethodGet)
	router.HandleFunc("/reviews/{id}/votes", s.HandleCastVote).Methods(http.MethodPost)
	router.HandleFunc("/reviews/{id}/views", s.HandleRecordView).Methods(http.MethodPost)
	router.HandleFunc("/reviews/{id}/comments", s.HandleAddComment).Methods(http.MethodPost)
	router.HandleFunc("/reviews/{id}/documents", s.HandleAddDocument).Methods(http.MethodPost)
	router.HandleFunc("/reviews/{id}/terms", s.HandleSetTerms).Methods(http.MethodPut)
	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("startting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI, zap.String("method", r.Method))
		next.ServeHTTP(w, r)
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithResult writes payload, or the http form of err when it is set.
func respondWithResult(w http.ResponseWriter, code int, payload any, err error) {
	if err != nil {
		status := api.HTTPStatus(err)
		if status == http.StatusInternalServerError {
			logger.Error("error serving request", zap.Error(err))
		}
		respondWithError(w, status, err.Error())
		return
	}
	respondWithJSON(w, code, payload)
}
