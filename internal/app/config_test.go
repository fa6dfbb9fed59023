package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/resto-ledger/internal/accounting"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.DBTxMaxAttempts)
	require.False(t, cfg.AllowNegativeQty)
	policy, err := cfg.Policy()
	require.NoError(t, err)
	require.Equal(t, accounting.MappingFailClosed, policy)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")

	t.Setenv("MAPPING_POLICY", "ignore")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("MAPPING_POLICY", "fail_open")
	t.Setenv("DB_TX_MAX_ATTEMPTS", "0")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("DB_TX_MAX_ATTEMPTS", "5")
	t.Setenv("INVENTORY_ALLOW_NEGATIVE", "true")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.AllowNegativeQty)
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("CSRF_SECRET", "c")
	_, err := LoadConfig()
	require.Error(t, err)
}
