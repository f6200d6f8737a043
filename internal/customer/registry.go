package customer

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/agnox/callcore/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrCustomerNotFound is returned for lookups of unknown customers
var ErrCustomerNotFound = errors.New("customer not found")

// Registry is the in-memory customer index, keyed by phone number.
// Customers are created on first contact and never deleted.
type Registry struct {
	mu      sync.RWMutex
	byPhone map[string]*types.Customer
	byID    map[string]*types.Customer
	logger  zerolog.Logger
}

// NewRegistry creates an empty customer registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byPhone: make(map[string]*types.Customer),
		byID:    make(map[string]*types.Customer),
		logger:  logger,
	}
}

// GetOrCreate returns the customer for the phone number, creating one
// on first contact. created reports whether this call created it.
func (r *Registry) GetOrCreate(phoneNumber string) (types.Customer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.byPhone[phoneNumber]; ok {
		return *c, false
	}

	now := time.Now()
	c := &types.Customer{
		ID:          uuid.New().String(),
		PhoneNumber: phoneNumber,
		Metadata:    make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.byPhone[phoneNumber] = c
	r.byID[c.ID] = c

	r.logger.Info().
		Str("customer_id", c.ID).
		Str("phone", phoneNumber).
		Msg("customer created on first contact")
	return *c, true
}

// Get returns a customer by id.
func (r *Registry) Get(customerID string) (types.Customer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[customerID]
	if !ok {
		return types.Customer{}, false
	}
	return *c, true
}

// GetByPhone returns a customer by phone number.
func (r *Registry) GetByPhone(phoneNumber string) (types.Customer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byPhone[phoneNumber]
	if !ok {
		return types.Customer{}, false
	}
	return *c, true
}

// UpdateProfile sets the customer's name and email. Empty values leave
// the existing field untouched.
func (r *Registry) UpdateProfile(customerID, name, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[customerID]
	if !ok {
		return ErrCustomerNotFound
	}
	if name != "" {
		c.Name = name
	}
	if email != "" {
		c.Email = email
	}
	c.UpdatedAt = time.Now()
	return nil
}

// SetMetadata sets one metadata key. Keys are unique per customer;
// setting an existing key overwrites its value.
func (r *Registry) SetMetadata(customerID, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[customerID]
	if !ok {
		return ErrCustomerNotFound
	}
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[key] = value
	c.UpdatedAt = time.Now()
	return nil
}

// RecordCall bumps the customer's call counters. Called once per
// session at call start.
func (r *Registry) RecordCall(customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byID[customerID]
	if !ok {
		return ErrCustomerNotFound
	}
	now := time.Now()
	c.TotalCalls++
	c.LastCallAt = &now
	c.UpdatedAt = now
	return nil
}

// All returns all customers sorted by creation time.
func (r *Registry) All() []types.Customer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Customer, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Count returns the number of known customers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Resume seeds the registry from durable records after a restart.
func (r *Registry) Resume(customers []types.Customer) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for i := range customers {
		c := customers[i]
		if _, ok := r.byPhone[c.PhoneNumber]; ok {
			continue
		}
		r.byPhone[c.PhoneNumber] = &c
		r.byID[c.ID] = &c
		loaded++
	}
	if loaded > 0 {
		r.logger.Info().Int("customers", loaded).Msg("resumed customers from durable store")
	}
	return loaded
}
