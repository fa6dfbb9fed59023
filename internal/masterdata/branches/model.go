package branches

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

// Type classifies a branch.
type Type string

const (
	TypeHQ             Type = "HQ"
	TypeCentralKitchen Type = "CENTRAL_KITCHEN"
	TypeRestaurant     Type = "RESTAURANT"
)

// Valid reports whether t is a known branch type.
func (t Type) Valid() bool {
	switch t {
	case TypeHQ, TypeCentralKitchen, TypeRestaurant:
		return true
	}
	return false
}

// Branch represents a physical location that owns stock and journal entries.
type Branch struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	// ErrNotFound indicates an unknown branch.
	ErrNotFound = fmt.Errorf("%w: branches: branch not found", shared.ErrNotFound)
	// ErrDuplicateCode indicates the code is taken.
	ErrDuplicateCode = fmt.Errorf("%w: branches: code already exists", shared.ErrValidation)
)
