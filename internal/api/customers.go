package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agnox/callcore/internal/customer"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// CustomersHandler provides REST endpoints for customer profiles
type CustomersHandler struct {
	customers *customer.Registry
	logger    zerolog.Logger
}

// NewCustomersHandler creates a new CustomersHandler
func NewCustomersHandler(reg *customer.Registry, logger zerolog.Logger) *CustomersHandler {
	return &CustomersHandler{
		customers: reg,
		logger:    logger.With().Str("component", "customers").Logger(),
	}
}

// Get handles GET /api/customers/{customerId}
func (h *CustomersHandler) Get(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")

	cust, ok := h.customers.Get(customerID)
	if !ok {
		http.Error(w, `{"error":"customer not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cust)
}

// Lookup handles GET /api/customers?phone=+15551234567
func (h *CustomersHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(h.customers.All())
		return
	}

	cust, ok := h.customers.GetByPhone(phone)
	if !ok {
		http.Error(w, `{"error":"customer not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cust)
}

// UpdateProfile handles PUT /api/customers/{customerId}
func (h *CustomersHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerId")

	var req struct {
		Name  string `json:"name,omitempty"`
		Email string `json:"email,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := h.customers.UpdateProfile(customerID, req.Name, req.Email); err != nil {
		if errors.Is(err, customer.ErrCustomerNotFound) {
			http.Error(w, `{"error":"customer not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("customer_id", customerID).Msg("failed to update customer")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	cust, _ := h.customers.Get(customerID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cust)
}
