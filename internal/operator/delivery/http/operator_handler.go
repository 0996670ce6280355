package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pace-noge/defense-probe/internal/domain"
	operatorUsecase "github.com/pace-noge/defense-probe/internal/operator/usecase"
)

// OperatorHandler handles HTTP requests for operator accounts
type OperatorHandler struct {
	usecase *operatorUsecase.OperatorUsecase
}

// NewOperatorHandler creates a new OperatorHandler
func NewOperatorHandler(uc *operatorUsecase.OperatorUsecase) *OperatorHandler {
	return &OperatorHandler{usecase: uc}
}

// RegisterRoutes adds the public login route and the authenticated
// operator routes.
func (h *OperatorHandler) RegisterRoutes(public, api *mux.Router) {
	public.HandleFunc("/auth/login", h.handleLogin).Methods("POST")
	api.HandleFunc("/operators", h.handleList).Methods("GET")
	api.HandleFunc("/operators", h.handleCreate).Methods("POST")
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *OperatorHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	resp, err := h.usecase.Login(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, operatorUsecase.ErrOperatorDisabled):
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	case err != nil:
		http.Error(w, fmt.Sprintf("Failed to log in: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OperatorHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ops, err := h.usecase.ListOperators(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list operators: %v", err), http.StatusInternalServerError)
		return
	}
	if ops == nil {
		ops = []*domain.Operator{}
	}
	writeJSON(w, http.StatusOK, ops)
}

func (h *OperatorHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	op, err := h.usecase.CreateOperator(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, op)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
