package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

type fakeSource struct {
	perms []string
	err   error
}

func (f fakeSource) EffectivePermissions(context.Context, int64) ([]string, error) {
	return f.perms, f.err
}

func runGuard(t *testing.T, guard func(http.Handler) http.Handler, user string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if user != "" {
		sess := &shared.Session{}
		sess.SetUser(user)
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	}
	rec := httptest.NewRecorder()
	guard(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireAny(t *testing.T) {
	m := Middleware{Service: fakeSource{perms: []string{"Ledger.View"}}}

	require.Equal(t, http.StatusNoContent, runGuard(t, m.RequireAny(PermLedgerView, PermLedgerPost), "4"))
	require.Equal(t, http.StatusForbidden, runGuard(t, m.RequireAny(PermLedgerPost), "4"))
	require.Equal(t, http.StatusForbidden, runGuard(t, m.RequireAny(PermLedgerView), ""))
	require.Equal(t, http.StatusForbidden, runGuard(t, m.RequireAny(PermLedgerView), "admin"))
	require.Equal(t, http.StatusNoContent, runGuard(t, m.RequireAny(" "), ""))
}

func TestRequireAll(t *testing.T) {
	m := Middleware{Service: fakeSource{perms: []string{PermInventoryView, PermInventoryEdit}}}

	require.Equal(t, http.StatusNoContent, runGuard(t, m.RequireAll(PermInventoryView, PermInventoryEdit), "9"))
	require.Equal(t, http.StatusForbidden, runGuard(t, m.RequireAll(PermInventoryView, PermBranchesAdmin), "9"))
}

func TestSourceFailureIsInternal(t *testing.T) {
	m := Middleware{Service: fakeSource{err: errors.New("db down")}}
	require.Equal(t, http.StatusInternalServerError, runGuard(t, m.RequireAny(PermLedgerView), "4"))
}
