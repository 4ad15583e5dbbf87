package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/freieslabor/prepaid-mate/internal/models"
	"github.com/freieslabor/prepaid-mate/internal/service"
)

// Handler is for handling api requests
type Handler struct {
	engine *service.Engine
}

func NewHandler(engine *service.Engine) *Handler {
	return &Handler{
		engine: engine,
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// every rejected request is a 400 with the error message as body
func respondError(w http.ResponseWriter, err error) {
	respondText(w, http.StatusBadRequest, err.Error())
}

func respondOK(w http.ResponseWriter) {
	respondText(w, http.StatusOK, "ok")
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		respondError(w, models.ErrIncompleteRequest)
		return false
	}
	return true
}

// handles account creation
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	values, ok := requireFields(r, fieldName, fieldPassword, "code")
	if !ok {
		respondError(w, models.ErrIncompleteRequest)
		return
	}

	if err := h.engine.CreateAccount(r.Context(), values[0], values[1], values[2]); err != nil {
		respondError(w, err)
		return
	}
	respondOK(w)
}

// handles account modification by the owner or the superuser
func (h *Handler) ModifyAccount(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	auth, err := resolveAuth(r)
	if err != nil {
		respondError(w, err)
		return
	}

	changes := models.AccountChanges{
		NewName:     optionalField(r, "new_name"),
		NewPassword: optionalField(r, "new_password"),
		NewCode:     optionalField(r, "new_code"),
	}
	if err := h.engine.ModifyAccount(r.Context(), auth, changes); err != nil {
		respondError(w, err)
		return
	}
	respondOK(w)
}

// returns [name, code, balance]
func (h *Handler) ViewAccount(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	values, ok := requireFields(r, fieldName, fieldPassword)
	if !ok {
		respondError(w, models.ErrIncompleteRequest)
		return
	}

	view, err := h.engine.ViewAccount(r.Context(), values[0], values[1])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// returns [exists, name|null]
func (h *Handler) CodeExists(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	code, ok := formValue(r, "code")
	if !ok {
		respondError(w, models.ErrIncompleteRequest)
		return
	}

	lookup, err := h.engine.CodeExists(r.Context(), code)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, lookup)
}

// handles top-ups by the owner or the superuser
func (h *Handler) AddMoney(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	auth, err := resolveAuth(r)
	if err != nil {
		respondError(w, err)
		return
	}
	money, ok := formValue(r, "money")
	if !ok {
		respondError(w, models.ErrIncompleteRequest)
		return
	}

	if err := h.engine.AddMoney(r.Context(), auth, money); err != nil {
		respondError(w, err)
		return
	}
	respondOK(w)
}

// returns [[amount, label, timestamp, drink_code], ...], newest first
func (h *Handler) ViewMoney(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	values, ok := requireFields(r, fieldName, fieldPassword)
	if !ok {
		respondError(w, models.ErrIncompleteRequest)
		return
	}

	history, err := h.engine.ViewMoney(r.Context(), values[0], values[1])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// charges a drink and returns the new balance in cents
func (h *Handler) PerformPayment(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	values, ok := requireFields(r, fieldSuperuserPassword, fieldAccountCode, "drink_barcode")
	if !ok {
		respondError(w, models.ErrIncompleteRequest)
		return
	}

	balance, err := h.engine.PerformPayment(r.Context(), values[0], values[1], values[2])
	if err != nil {
		respondError(w, err)
		return
	}
	respondText(w, http.StatusOK, strconv.FormatInt(balance, 10))
}

// registers a drink, superuser only
func (h *Handler) CreateDrink(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	values, ok := requireFields(r, fieldSuperuserPassword, fieldName, "price", "barcode")
	if !ok {
		respondError(w, models.ErrIncompleteRequest)
		return
	}
	content, _ := formValue(r, "content_ml")

	req := service.DrinkRequest{
		Name:      values[1],
		ContentML: content,
		Price:     values[2],
		Code:      values[3],
	}
	if err := h.engine.CreateDrink(r.Context(), values[0], req); err != nil {
		respondError(w, err)
		return
	}
	respondOK(w)
}

// returns the last unmatched code seen in the TTL window, or an empty body
func (h *Handler) LastUnknownCode(w http.ResponseWriter, r *http.Request) {
	respondText(w, http.StatusOK, h.engine.LastUnknownCode())
}

// handles health check
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sets up the API routes
func SetupRoutes(r *mux.Router, engine *service.Engine, logger *zap.Logger) {
	h := NewHandler(engine)
	r.Use(RequestLogger(logger))

	// Health check (check if API is working)
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// Account routes
	r.HandleFunc("/api/account/create", h.CreateAccount).Methods("POST")
	r.HandleFunc("/api/account/modify", h.ModifyAccount).Methods("POST")
	r.HandleFunc("/api/account/view", h.ViewAccount).Methods("POST")
	r.HandleFunc("/api/account/code_exists", h.CodeExists).Methods("POST")

	// Money routes
	r.HandleFunc("/api/money/add", h.AddMoney).Methods("POST")
	r.HandleFunc("/api/money/view", h.ViewMoney).Methods("POST")

	r.HandleFunc("/api/payment/perform", h.PerformPayment).Methods("POST")
	r.HandleFunc("/api/drink/create", h.CreateDrink).Methods("POST")
	r.HandleFunc("/api/last_unknown_code", h.LastUnknownCode).Methods("GET")
}
