package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/haul-dispatch/internal/models"
)

var (
	ErrNotFound     = errors.New("order not found")
	ErrInvalidOrder = errors.New("invalid order")
)

// ValidationError describes why a NewOrder was refused. It matches ErrInvalidOrder.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return ErrInvalidOrder.Error() + ": " + e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidOrder }

// NewOrder is the input for a directly created order record.
type NewOrder struct {
	VendorID       string   `json:"vendor_id"`
	PickupLocation string   `json:"pickup_location"`
	DropLocation   string   `json:"drop_location"`
	LoadType       string   `json:"load_type"`
	LoadWeightKg   *float64 `json:"load_weight_kg,omitempty"`
}

// Validate reports every missing required field at once.
func (n NewOrder) Validate() error {
	var missing []string
	if strings.TrimSpace(n.VendorID) == "" {
		missing = append(missing, "vendor_id")
	}
	if strings.TrimSpace(n.PickupLocation) == "" {
		missing = append(missing, "pickup_location")
	}
	if strings.TrimSpace(n.DropLocation) == "" {
		missing = append(missing, "drop_location")
	}
	if strings.TrimSpace(n.LoadType) == "" {
		missing = append(missing, "load_type")
	}
	if len(missing) > 0 {
		return &ValidationError{Reason: "missing required fields: " + strings.Join(missing, ", ")}
	}
	if n.LoadWeightKg != nil && *n.LoadWeightKg < 0 {
		return &ValidationError{Reason: "load_weight_kg must not be negative"}
	}
	return nil
}

// OrderStore persists delivery records.
type OrderStore interface {
	CreateRecord(ctx context.Context, n NewOrder) (models.Order, error)
	SaveTrip(ctx context.Context, o models.Order) error
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus) error
	ListByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
	GetByID(ctx context.Context, id string) (models.Order, error)
	Close() error
}

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]models.Order
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]models.Order), now: time.Now}
}

func (m *MemoryStore) CreateRecord(ctx context.Context, n NewOrder) (models.Order, error) {
	if err := n.Validate(); err != nil {
		return models.Order{}, err
	}
	now := m.now().UTC()
	o := models.Order{
		ID:             uuid.NewString(),
		VendorID:       strings.TrimSpace(n.VendorID),
		PickupLocation: strings.TrimSpace(n.PickupLocation),
		DropLocation:   strings.TrimSpace(n.DropLocation),
		LoadType:       strings.TrimSpace(n.LoadType),
		LoadWeightKg:   n.LoadWeightKg,
		Status:         models.OrderPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.mu.Lock()
	m.orders[o.ID] = o
	m.mu.Unlock()
	return o, nil
}

// SaveTrip inserts or replaces the record for a claimed booking.
func (m *MemoryStore) SaveTrip(ctx context.Context, o models.Order) error {
	if o.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidOrder)
	}
	now := m.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.orders[o.ID]; ok {
		o.CreatedAt = prev.CreatedAt
	}
	m.orders[o.ID] = o
	return nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = m.now().UTC()
	m.orders[id] = o
	return nil
}

// ListByStatus returns matching orders, newest first.
func (m *MemoryStore) ListByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	m.mu.RLock()
	out := make([]models.Order, 0)
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *MemoryStore) Close() error { return nil }
