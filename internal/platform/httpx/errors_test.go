package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/resto-ledger/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{shared.Validationf("lines required"), http.StatusBadRequest, shared.KindValidation},
		{&shared.ImbalancedEntryError{Debits: decimal.NewFromInt(10), Credits: decimal.NewFromInt(9)}, http.StatusUnprocessableEntity, shared.KindImbalancedEntry},
		{shared.NotFoundf("account 4"), http.StatusNotFound, shared.KindNotFound},
		{shared.Forbiddenf("branch 2"), http.StatusForbidden, shared.KindForbidden},
		{shared.ErrConcurrencyConflict, http.StatusConflict, shared.KindConcurrencyConflict},
		{shared.Configurationf("mapping inventory.asset"), http.StatusUnprocessableEntity, shared.KindConfiguration},
		{errors.New("pq: relation does not exist"), http.StatusInternalServerError, shared.KindInternal},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, tc.kind, body.Kind)
		if tc.kind == shared.KindInternal {
			require.Empty(t, body.Detail)
		}
	}
}
