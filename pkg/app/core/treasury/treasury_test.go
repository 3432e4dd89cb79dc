package treasury

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperbarter/pkg/storage"
)

func TestTreasuryStageApplyReload(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	tr, err := Open(db)
	require.NoError(t, err)
	require.Zero(t, tr.Balance().Sign())

	amount, _ := new(big.Int).SetString("11000000000000000000", 10)
	b := db.NewBatch()
	require.NoError(t, tr.StageSet(b, amount))
	require.NoError(t, b.Commit())
	require.NoError(t, b.Close())
	tr.Apply(amount)

	got := tr.Balance()
	require.Equal(t, amount.String(), got.String())
	got.SetInt64(0)
	require.Equal(t, amount.String(), tr.Balance().String())

	reloaded, err := Open(db)
	require.NoError(t, err)
	require.Equal(t, amount.String(), reloaded.Balance().String())

	b = db.NewBatch()
	defer b.Close()
	require.Error(t, tr.StageSet(b, big.NewInt(-1)))
}
