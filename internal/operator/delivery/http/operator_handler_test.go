package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/pace-noge/defense-probe/internal/domain"
	"github.com/pace-noge/defense-probe/internal/infrastructure/auth"
	"github.com/pace-noge/defense-probe/internal/infrastructure/database"
	operatorUsecase "github.com/pace-noge/defense-probe/internal/operator/usecase"
)

func newTestRouter(t *testing.T) (*mux.Router, *operatorUsecase.OperatorUsecase) {
	t.Helper()
	auth.SetJWTSecret("operator-handler-secret")
	store, err := database.NewSQLStore(database.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatal(err)
	}

	uc := operatorUsecase.NewOperatorUsecase(store, time.Hour)
	r := mux.NewRouter()
	NewOperatorHandler(uc).RegisterRoutes(r, r.PathPrefix("/api").Subrouter())
	return r, uc
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestLoginRoute(t *testing.T) {
	r, uc := newTestRouter(t)
	if _, err := uc.CreateOperator(context.Background(), "alice", "correct-horse"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"valid", `{"username":"alice","password":"correct-horse"}`, http.StatusOK},
		{"wrong password", `{"username":"alice","password":"nope-nope"}`, http.StatusUnauthorized},
		{"unknown operator", `{"username":"bob","password":"correct-horse"}`, http.StatusUnauthorized},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(r, "/auth/login", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want != http.StatusOK {
				return
			}
			var resp domain.AuthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if op, err := auth.ValidateJWT(resp.Token); err != nil || op != "alice" {
				t.Errorf("token operator = %q err = %v", op, err)
			}
			if strings.Contains(rec.Body.String(), "$2a$") {
				t.Error("password hash leaked in login response")
			}
		})
	}
}

func TestCreateAndListOperators(t *testing.T) {
	r, _ := newTestRouter(t)

	if rec := post(r, "/api/operators", `{"username":"carol","password":"short"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("short password status = %d", rec.Code)
	}
	if rec := post(r, "/api/operators", `{"username":"carol","password":"long-enough"}`); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/operators", nil))
	var ops []domain.Operator
	if err := json.Unmarshal(rec.Body.Bytes(), &ops); err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Username != "carol" || !ops[0].IsActive {
		t.Errorf("operators = %+v", ops)
	}
}
