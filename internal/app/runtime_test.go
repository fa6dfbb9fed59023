package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/resto-ledger/internal/testing/guard"
)

func TestGuardEnablesTestMode(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Cleanup(RefreshTestMode)
	t.Setenv(guard.EnvVar, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}
