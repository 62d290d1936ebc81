package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/equitybot/internal/domain"
)

type failingBlobs struct{}

func (failingBlobs) Put(context.Context, string, io.Reader, string) error {
	return errors.New("bucket unavailable")
}

func Test_SnapshotService_Snapshot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.store.SetClock(func() time.Time { return fixedNow })
	h.portfolio(t, "10000")
	h.sim.SetPrice("AAPL", 100)
	h.hold(t, "MSFT", "10", "50")
	require.NoError(t, h.store.Audit().Log(ctx, domain.AuditAlert, "pf-2", map[string]any{"kind": "other"}))

	_, err := h.exec.Execute(ctx, marketBuy("AAPL", "10"))
	require.NoError(t, err)

	// A trade from the previous day stays out of the snapshot.
	old := pendingTrade("t-old", "GOOG", "1")
	old.CreatedAt = fixedNow.AddDate(0, 0, -1)
	require.NoError(t, h.store.Trades().CreateIfNoneInFlight(ctx, old))

	blobs := &memBlobs{}
	svc := NewSnapshotService(h.store.Portfolios(), h.store.Positions(), h.store.Trades(), blobs, h.store.Audit(), discardLogger())
	svc.now = func() time.Time { return fixedNow }

	path, err := svc.Snapshot(ctx, "pf-1", "")
	require.NoError(t, err)
	assert.Equal(t, "snapshots/pf-1/2024-03-05.json", path)

	raw, ok := blobs.objects[path]
	require.True(t, ok)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, "2024-03-05", snap.TradingDay)
	assert.Len(t, snap.Positions, 2)
	require.Len(t, snap.Trades, 1)
	assert.Equal(t, "AAPL", snap.Trades[0].Symbol)

	// cash 8999.5 + AAPL 10 @ 100.05 + MSFT 10 @ 50
	assert.True(t, snap.TotalValue.Equal(d("10500")), snap.TotalValue.String())

	require.Len(t, snap.Audit, 1, "only pf-1 entries from the day")
	assert.Equal(t, domain.AuditOrderPlaced, snap.Audit[0].Event)
	assert.Equal(t, "pf-1", snap.Audit[0].PortfolioID)
	assert.Equal(t, "AAPL", snap.Audit[0].Detail["symbol"])

	entries, err := h.store.Audit().List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, domain.AuditSnapshotWritten, entries[0].Event)
	assert.Equal(t, "pf-1", entries[0].PortfolioID)
}

func Test_SnapshotService_Errors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.portfolio(t, "10000")

	t.Run("bad day", func(t *testing.T) {
		svc := NewSnapshotService(h.store.Portfolios(), h.store.Positions(), h.store.Trades(), &memBlobs{}, nil, discardLogger())
		_, err := svc.Snapshot(ctx, "pf-1", "03/05/2024")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("unknown portfolio", func(t *testing.T) {
		svc := NewSnapshotService(h.store.Portfolios(), h.store.Positions(), h.store.Trades(), &memBlobs{}, nil, discardLogger())
		_, err := svc.Snapshot(ctx, "missing", "2024-03-05")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("upload failure is joined", func(t *testing.T) {
		require.NoError(t, h.store.Portfolios().Create(ctx, domain.Portfolio{ID: "pf-2", CashBalance: d("1")}))
		svc := NewSnapshotService(h.store.Portfolios(), h.store.Positions(), h.store.Trades(), failingBlobs{}, nil, discardLogger())
		paths, err := svc.SnapshotAll(ctx, "2024-03-05")
		assert.Error(t, err)
		assert.Empty(t, paths)
	})
}
