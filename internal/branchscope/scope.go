// Package branchscope turns a caller's permitted-branch context into query predicates
// and write authorisations. Sibling branches never see each other's rows; rows without a
// branch (global entries) are visible to every branch.
package branchscope

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

// Kind enumerates caller contexts.
type Kind string

const (
	// KindBranch is a single-branch caller.
	KindBranch Kind = "branch"
	// KindConsolidated spans an explicit list of branches.
	KindConsolidated Kind = "consolidated"
	// KindHeadOffice sees only global rows.
	KindHeadOffice Kind = "head_office"
)

// SessionKey is the session value written by the auth collaborator.
const SessionKey = "branch_scope"

// Scope is the request-scoped branch context.
type Scope struct {
	Kind      Kind
	BranchID  int64
	BranchIDs []int64
}

// ForBranch builds a single-branch scope.
func ForBranch(id int64) Scope {
	return Scope{Kind: KindBranch, BranchID: id}
}

// Consolidated builds a consolidated scope over ids. Duplicates are dropped.
func Consolidated(ids ...int64) Scope {
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id > 0 && !slices.Contains(unique, id) {
			unique = append(unique, id)
		}
	}
	slices.Sort(unique)
	return Scope{Kind: KindConsolidated, BranchIDs: unique}
}

// HeadOffice builds the global-only scope.
func HeadOffice() Scope {
	return Scope{Kind: KindHeadOffice}
}

// Validate rejects scopes that cannot resolve to any branch context.
func (s Scope) Validate() error {
	switch s.Kind {
	case KindBranch:
		if s.BranchID <= 0 {
			return shared.Forbiddenf("branch scope without branch id")
		}
	case KindConsolidated:
		if len(s.BranchIDs) == 0 {
			return shared.Forbiddenf("consolidated scope without branches")
		}
		for _, id := range s.BranchIDs {
			if id <= 0 {
				return shared.Forbiddenf("consolidated scope with invalid branch id %d", id)
			}
		}
	case KindHeadOffice:
	default:
		return shared.Forbiddenf("no branch context")
	}
	return nil
}

// Parse decodes the session representation: "branch:<id>", "consolidated:<id>,<id>" or "head_office".
func Parse(raw string) (Scope, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Scope{}, shared.Forbiddenf("no branch context")
	}
	if raw == string(KindHeadOffice) {
		return HeadOffice(), nil
	}
	kind, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return Scope{}, shared.Forbiddenf("malformed branch context %q", raw)
	}
	switch Kind(kind) {
	case KindBranch:
		id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil || id <= 0 {
			return Scope{}, shared.Forbiddenf("malformed branch id %q", rest)
		}
		return ForBranch(id), nil
	case KindConsolidated:
		var ids []int64
		for _, part := range strings.Split(rest, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || id <= 0 {
				return Scope{}, shared.Forbiddenf("malformed branch id %q", part)
			}
			ids = append(ids, id)
		}
		scope := Consolidated(ids...)
		return scope, scope.Validate()
	default:
		return Scope{}, shared.Forbiddenf("unknown branch context %q", kind)
	}
}

// String encodes the scope in its session representation.
func (s Scope) String() string {
	switch s.Kind {
	case KindBranch:
		return fmt.Sprintf("%s:%d", KindBranch, s.BranchID)
	case KindConsolidated:
		parts := make([]string, len(s.BranchIDs))
		for i, id := range s.BranchIDs {
			parts[i] = strconv.FormatInt(id, 10)
		}
		return fmt.Sprintf("%s:%s", KindConsolidated, strings.Join(parts, ","))
	case KindHeadOffice:
		return string(KindHeadOffice)
	}
	return ""
}

// FromSession re-derives the scope from authenticated session state.
func FromSession(sess *shared.Session) (Scope, error) {
	if sess == nil || strings.TrimSpace(sess.User()) == "" {
		return Scope{}, shared.Forbiddenf("no authenticated session")
	}
	return Parse(sess.Get(SessionKey))
}

// Visible reports whether a row owned by branchID is visible in this scope.
func (s Scope) Visible(branchID *int64) bool {
	if branchID == nil {
		return s.Validate() == nil
	}
	switch s.Kind {
	case KindBranch:
		return s.BranchID > 0 && *branchID == s.BranchID
	case KindConsolidated:
		return slices.Contains(s.BranchIDs, *branchID)
	default:
		return false
	}
}

// Predicate renders a SQL condition over column using positional argument nextArg.
// Invalid scopes render a condition that matches nothing.
func (s Scope) Predicate(column string, nextArg int) (string, []any) {
	if s.Validate() != nil {
		return "FALSE", nil
	}
	switch s.Kind {
	case KindBranch:
		return fmt.Sprintf("(%s = $%d OR %s IS NULL)", column, nextArg, column), []any{s.BranchID}
	case KindConsolidated:
		ids := slices.Clone(s.BranchIDs)
		return fmt.Sprintf("(%s = ANY($%d) OR %s IS NULL)", column, nextArg, column), []any{ids}
	default:
		return fmt.Sprintf("%s IS NULL", column), nil
	}
}

// Controls reports whether the caller may write into branchID.
func (s Scope) Controls(branchID int64) bool {
	switch s.Kind {
	case KindBranch:
		return s.BranchID > 0 && s.BranchID == branchID
	case KindConsolidated:
		return slices.Contains(s.BranchIDs, branchID)
	default:
		return false
	}
}

// AuthorizeWrite resolves the branch a journal entry is written into. Branch callers
// always write into their own branch; consolidated callers into a listed branch or
// global; head office into global only.
func (s Scope) AuthorizeWrite(requested *int64) (*int64, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Kind {
	case KindBranch:
		if requested != nil && *requested != s.BranchID {
			return nil, shared.Forbiddenf("branch %d is outside the caller's branch", *requested)
		}
		id := s.BranchID
		return &id, nil
	case KindConsolidated:
		if requested == nil {
			return nil, nil
		}
		if !s.Controls(*requested) {
			return nil, shared.Forbiddenf("branch %d is outside the caller's branches", *requested)
		}
		id := *requested
		return &id, nil
	default:
		if requested != nil {
			return nil, shared.Forbiddenf("head office may only post global entries")
		}
		return nil, nil
	}
}

// OperatingBranch resolves the single branch a stock operation runs in.
func (s Scope) OperatingBranch(requested *int64) (int64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	switch s.Kind {
	case KindBranch:
		if requested != nil && *requested != s.BranchID {
			return 0, shared.Forbiddenf("branch %d is outside the caller's branch", *requested)
		}
		return s.BranchID, nil
	case KindConsolidated:
		if requested == nil {
			if len(s.BranchIDs) == 1 {
				return s.BranchIDs[0], nil
			}
			return 0, shared.Forbiddenf("branch required for consolidated callers")
		}
		if !s.Controls(*requested) {
			return 0, shared.Forbiddenf("branch %d is outside the caller's branches", *requested)
		}
		return *requested, nil
	default:
		return 0, shared.Forbiddenf("head office has no operating branch")
	}
}

// IsHeadOffice reports whether the scope is the head-office context.
func (s Scope) IsHeadOffice() bool {
	return s.Kind == KindHeadOffice
}

type contextKey struct{}

// WithScope stores the scope in ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext extracts the scope stored by the middleware.
func FromContext(ctx context.Context) (Scope, error) {
	s, ok := ctx.Value(contextKey{}).(Scope)
	if !ok {
		return Scope{}, shared.Forbiddenf("no branch context")
	}
	return s, s.Validate()
}
