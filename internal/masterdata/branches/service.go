package branches

import (
	"context"
	"strings"

	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

// Service exposes the branch registry.
type Service struct {
	repo Repository
}

// NewService constructs Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns the branches visible in scope. Head office sees every branch.
func (s *Service) List(ctx context.Context, scope branchscope.Scope) ([]Branch, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, scope)
}

// Get returns a branch the caller controls.
func (s *Service) Get(ctx context.Context, scope branchscope.Scope, id int64) (Branch, error) {
	if id <= 0 {
		return Branch{}, shared.Validationf("branches: invalid branch id")
	}
	if err := scope.Validate(); err != nil {
		return Branch{}, err
	}
	if !scope.IsHeadOffice() && !scope.Controls(id) {
		return Branch{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Create registers a branch. Head office only.
func (s *Service) Create(ctx context.Context, scope branchscope.Scope, b Branch) (Branch, error) {
	if !scope.IsHeadOffice() {
		return Branch{}, shared.Forbiddenf("branches: head office required")
	}
	b.Code = strings.TrimSpace(b.Code)
	b.Name = strings.TrimSpace(b.Name)
	if b.Code == "" || b.Name == "" {
		return Branch{}, shared.Validationf("branches: code and name are required")
	}
	if !b.Type.Valid() {
		return Branch{}, shared.Validationf("branches: unknown type %q", b.Type)
	}
	return s.repo.Create(ctx, b)
}

// Archive deactivates a branch so it no longer accepts stock movements.
func (s *Service) Archive(ctx context.Context, scope branchscope.Scope, id int64) error {
	if !scope.IsHeadOffice() {
		return shared.Forbiddenf("branches: head office required")
	}
	if id <= 0 {
		return shared.Validationf("branches: invalid branch id")
	}
	return s.repo.SetActive(ctx, id, false)
}
