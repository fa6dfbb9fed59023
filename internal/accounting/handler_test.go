package accounting_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/resto-ledger/internal/accounting"
	"github.com/odyssey-erp/resto-ledger/internal/branchscope"
	"github.com/odyssey-erp/resto-ledger/internal/rbac"
	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

type staticPermissions map[int64][]string

func (p staticPermissions) EffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return p[userID], nil
}

const (
	poster int64 = 7
	viewer int64 = 8
)

func newLedgerRouter(f *ledgerFixture) http.Handler {
	perms := staticPermissions{
		poster: {rbac.PermLedgerView, rbac.PermLedgerPost},
		viewer: {rbac.PermLedgerView},
	}
	h := accounting.NewHandler(nil, f.svc, rbac.Middleware{Service: perms})
	r := chi.NewRouter()
	r.Route("/ledger", h.MountRoutes)
	return r
}

func doRequest(t *testing.T, router http.Handler, user int64, scope string, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	sess := &shared.Session{}
	sess.SetUser(fmt.Sprint(user))
	sess.Set(branchscope.SessionKey, scope)
	ctx := shared.ContextWithSession(req.Context(), sess)
	if parsed, err := branchscope.Parse(scope); err == nil {
		ctx = branchscope.WithScope(ctx, parsed)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func entryBody(f *ledgerFixture, debit, credit string) string {
	return fmt.Sprintf(`{"date":"2024-03-01","description":"Gas bill","lines":[{"account_id":%d,"debit":"%s"},{"account_id":%d,"credit":"%s"}]}`,
		f.expense, debit, f.cash, credit)
}

func TestHandlerPostEntry(t *testing.T) {
	f := newLedgerFixture(t)
	router := newLedgerRouter(f)
	scope := fmt.Sprintf("branch:%d", f.branchA)

	rec := doRequest(t, router, poster, scope, http.MethodPost, "/ledger/entries", entryBody(f, "80.50", "80.50"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.EqualValues(t, f.branchA, body["branch_id"])
	require.Len(t, body["lines"], 2)
	require.Len(t, f.store.Entries(), 1)
	require.EqualValues(t, poster, f.store.Entries()[0].PostedBy)
}

func TestHandlerPostEntryErrors(t *testing.T) {
	f := newLedgerFixture(t)
	router := newLedgerRouter(f)
	scope := fmt.Sprintf("branch:%d", f.branchA)

	rec := doRequest(t, router, poster, scope, http.MethodPost, "/ledger/entries", entryBody(f, "80.50", "80.00"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "imbalanced_entry", decodeBody(t, rec)["kind"])

	rec = doRequest(t, router, poster, scope, http.MethodPost, "/ledger/entries", `{"date":"2024-03-01","description":"x","lines":[],"extra":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, viewer, scope, http.MethodPost, "/ledger/entries", entryBody(f, "1", "1"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, router, poster, "", http.MethodPost, "/ledger/entries", entryBody(f, "1", "1"))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "forbidden", decodeBody(t, rec)["kind"])

	require.Empty(t, f.store.Entries())
}

func TestHandlerReadsAreScoped(t *testing.T) {
	f := newLedgerFixture(t)
	router := newLedgerRouter(f)
	scopeA := fmt.Sprintf("branch:%d", f.branchA)
	scopeB := fmt.Sprintf("branch:%d", f.branchB)

	rec := doRequest(t, router, poster, scopeA, http.MethodPost, "/ledger/entries", entryBody(f, "100", "100"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := int64(decodeBody(t, rec)["id"].(float64))

	rec = doRequest(t, router, viewer, scopeB, http.MethodGet, fmt.Sprintf("/ledger/entries/%d", id), "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, viewer, scopeA, http.MethodGet, fmt.Sprintf("/ledger/entries/%d", id), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, viewer, scopeB, http.MethodGet, "/ledger/entries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeBody(t, rec)["entries"])

	consolidated := fmt.Sprintf("consolidated:%d,%d", f.branchA, f.branchB)
	rec = doRequest(t, router, viewer, consolidated, http.MethodGet, "/ledger/balances?from=2024-03-01&to=2024-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	require.Equal(t, "100", body["total_debit"])
	require.Equal(t, "100", body["total_credit"])
	require.Equal(t, "0", body["difference"])

	rec = doRequest(t, router, viewer, scopeA, http.MethodGet, "/ledger/balances?from=bogus", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerReassignRequiresAdmin(t *testing.T) {
	f := newLedgerFixture(t)
	router := newLedgerRouter(f)
	body := fmt.Sprintf(`{"from_branch_id":%d,"to_branch_id":%d}`, f.branchA, f.branchB)

	rec := doRequest(t, router, poster, "head_office", http.MethodPost, "/ledger/branches/reassign", body)
	require.Equal(t, http.StatusForbidden, rec.Code)

	perms := staticPermissions{poster: {rbac.PermLedgerAdmin}}
	h := accounting.NewHandler(nil, f.svc, rbac.Middleware{Service: perms})
	r := chi.NewRouter()
	r.Route("/ledger", h.MountRoutes)

	rec = doRequest(t, r, poster, "head_office", http.MethodPost, "/ledger/branches/reassign", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.EqualValues(t, 0, decodeBody(t, rec)["entries_moved"])

	rec = doRequest(t, r, poster, fmt.Sprintf("branch:%d", f.branchA), http.MethodPost, "/ledger/branches/reassign", body)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerBalancesSurviveLeaderCancellation(t *testing.T) {
	f := newLedgerFixture(t)
	router := newLedgerRouter(f)
	scope := fmt.Sprintf("branch:%d", f.branchA)
	before := f.store.Commits()

	req := httptest.NewRequest(http.MethodGet, "/ledger/balances", nil)
	sess := &shared.Session{}
	sess.SetUser(fmt.Sprint(viewer))
	sess.Set(branchscope.SessionKey, scope)
	ctx := shared.ContextWithSession(req.Context(), sess)
	ctx = branchscope.WithScope(ctx, branchscope.ForBranch(f.branchA))
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	router.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	// The shared query still runs to completion for any follower waiting on it.
	require.Eventually(t, func() bool { return f.store.Commits() > before }, time.Second, 10*time.Millisecond)

	rec := doRequest(t, router, viewer, scope, http.MethodGet, "/ledger/balances", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
