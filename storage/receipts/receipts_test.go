package receipts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerengine/core/types"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	archive, err := Open("sqlite", filepath.Join(t.TempDir(), "receipts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, archive.Close()) })
	return archive
}

func receipt(seed byte, status types.TransactionStatus, version uint64) *types.Receipt {
	var hash types.Hash
	hash[0] = seed
	return &types.Receipt{
		TransactionHash: hash,
		Status:          status,
		StateVersion:    version,
		Fee: types.FeeSummary{
			ExecutionCostUnitsConsumed: 1200,
			CollectedFee:               types.MustParseDecimal("0.012"),
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	archive := newTestArchive(t)

	r := receipt(1, types.StatusCommitted, 7)
	r.Outcome = types.OutcomeSuccess
	r.NewComponents = []types.NodeId{types.NewNodeId(types.EntityGlobalGenericComponent, []byte("acct"), 0)}
	r.Logs = []types.LogEntry{{Level: types.LogInfo, Message: "hello"}}
	require.NoError(t, archive.SaveReceipt(ctx, r))

	got, err := archive.Get(ctx, r.TransactionHash)
	require.NoError(t, err)
	require.Equal(t, r.TransactionHash, got.TransactionHash)
	require.Equal(t, types.OutcomeSuccess, got.Outcome)
	require.Equal(t, r.NewComponents, got.NewComponents)
	require.Equal(t, r.Logs, got.Logs)
	require.Equal(t, "0.012", got.Fee.CollectedFee.String())

	// Saving again replaces the stored receipt.
	r.Error = "replaced"
	require.NoError(t, archive.SaveReceipt(ctx, r))
	got, err = archive.Get(ctx, r.TransactionHash)
	require.NoError(t, err)
	require.Equal(t, "replaced", got.Error)
}

func TestGetMissing(t *testing.T) {
	_, err := newTestArchive(t).Get(context.Background(), types.Hash{9})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecentFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	archive := newTestArchive(t)
	require.NoError(t, archive.SaveReceipt(ctx, receipt(1, types.StatusCommitted, 2)))
	require.NoError(t, archive.SaveReceipt(ctx, receipt(2, types.StatusRejected, 0)))
	require.NoError(t, archive.SaveReceipt(ctx, receipt(3, types.StatusCommitted, 3)))

	committed, err := archive.Recent(ctx, string(types.StatusCommitted), 10)
	require.NoError(t, err)
	require.Len(t, committed, 2)
	require.Equal(t, uint64(3), committed[0].StateVersion)

	all, err := archive.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestOpenValidatesArguments(t *testing.T) {
	_, err := Open("sqlite", " ")
	require.ErrorIs(t, err, ErrDSNRequired)
	_, err = Open("mysql", "dsn")
	require.ErrorIs(t, err, ErrUnknownDriver)

	var disabled *Archive
	require.Error(t, disabled.SaveReceipt(context.Background(), receipt(1, types.StatusCommitted, 1)))
	require.NoError(t, disabled.Close())
}
