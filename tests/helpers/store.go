package helpers

import (
	"testing"

	"github.com/qontinui/treeline/internal/ledger"
)

func NewTestSQLiteLedger(t *testing.T) *ledger.SQLiteLedger {
	t.Helper()

	l, err := ledger.NewSQLiteLedger(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite ledger: %v", err)
	}

	t.Cleanup(func() {
		_ = l.Close()
	})

	return l
}
