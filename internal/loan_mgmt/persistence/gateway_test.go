package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendledger/internal/loan_mgmt/loan"
	"lendledger/internal/platform/kv"
	"lendledger/internal/platform/logging"
	"lendledger/internal/platform/metrics"
)

func sampleRecord(id, group, lender, borrower string) loan.Record {
	return loan.Record{
		ID:            id,
		GroupID:       group,
		LenderID:      lender,
		BorrowerID:    borrower,
		ItemID:        4587,
		ItemName:      "Rune scimitar",
		Quantity:      1,
		Collateral:    loan.Collateral{Value: 15000},
		LendTimestamp: 1_700_000_000_000,
		DueTimestamp:  1_700_086_400_000,
	}
}

func newGateway(t *testing.T) (*Gateway, *kv.Memory) {
	t.Helper()
	store := kv.NewMemory()
	return NewGateway(store, logging.Discard()), store
}

func TestEntriesRoundTrip(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t)

	entries := map[string]loan.Record{
		"01A": sampleRecord("01A", "g1", "Alice", "Bob"),
		"01B": sampleRecord("01B", "g1", "Bob", "Carol"),
	}
	g.SaveEntries(ctx, entries)

	assert.Equal(t, entries, g.LoadEntries(ctx))
}

func TestSaveLoadIsStable(t *testing.T) {
	ctx := context.Background()
	g, store := newGateway(t)

	g.SaveEntries(ctx, map[string]loan.Record{
		"01C": sampleRecord("01C", "g2", "Dan", "Eve"),
		"01A": sampleRecord("01A", "g1", "Alice", "Bob"),
		"01B": sampleRecord("01B", "g1", "Bob", "Carol"),
	})
	g.SaveEntries(ctx, g.LoadEntries(ctx))
	first, err := store.Get(ctx, KeyEntries)
	require.NoError(t, err)

	g.SaveEntries(ctx, g.LoadEntries(ctx))
	second, err := store.Get(ctx, KeyEntries)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestHistoryKeepsOrder(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t)

	h := []loan.Record{
		sampleRecord("03", "g1", "A", "B"),
		sampleRecord("01", "g1", "A", "B"),
		sampleRecord("02", "g1", "A", "B"),
	}
	g.SaveHistory(ctx, h)
	assert.Equal(t, h, g.LoadHistory(ctx))
}

func TestMissingDocumentsLoadEmpty(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t)

	assert.Empty(t, g.LoadEntries(ctx))
	assert.NotNil(t, g.LoadEntries(ctx))
	assert.Empty(t, g.LoadHistory(ctx))

	gd := g.LoadGroupData(ctx, "nope")
	assert.NotNil(t, gd.Lent)
	assert.NotNil(t, gd.Borrowed)
	assert.NotNil(t, gd.Available)
}

func TestCorruptDocumentFailsOpen(t *testing.T) {
	ctx := context.Background()
	g, store := newGateway(t)

	require.NoError(t, store.Set(ctx, KeyEntries, []byte(`{"01A": {"id": 12`)))
	require.NoError(t, store.Set(ctx, KeyHistory, []byte(`not json`)))
	require.NoError(t, store.Set(ctx, GroupKey("g1"), []byte(`{"lent": []}`)))

	before := testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues(metrics.OpLoad, docEntries))

	assert.Empty(t, g.LoadEntries(ctx))
	assert.Empty(t, g.LoadHistory(ctx))
	gd := g.LoadGroupData(ctx, "g1")
	assert.Empty(t, gd.Lent)

	after := testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues(metrics.OpLoad, docEntries))
	assert.Equal(t, before+1, after)
}

func TestGroupDataRoundTripKeepsAvailable(t *testing.T) {
	ctx := context.Background()
	g, store := newGateway(t)

	r := sampleRecord("01A", "g1", "Alice", "Bob")
	offer := json.RawMessage(`{"itemName":"Abyssal whip","price":1500000}`)
	g.SaveGroupData(ctx, "g1",
		map[string][]loan.Record{"Alice": {r}},
		map[string][]loan.Record{"Bob": {r}},
		map[string][]json.RawMessage{"Alice": {offer}},
	)

	gd := g.LoadGroupData(ctx, "g1")
	assert.Equal(t, []loan.Record{r}, gd.Lent["Alice"])
	assert.Equal(t, []loan.Record{r}, gd.Borrowed["Bob"])
	require.Len(t, gd.Available["Alice"], 1)
	assert.JSONEq(t, string(offer), string(gd.Available["Alice"][0]))

	raw, err := store.Get(ctx, "recorder.g1")
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "lent")
	assert.Contains(t, doc, "borrowed")
	assert.Contains(t, doc, "available")

	g.DeleteGroupData(ctx, "g1")
	_, err = store.Get(ctx, "recorder.g1")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	g, store := newGateway(t)

	g.SaveEntries(ctx, map[string]loan.Record{"01A": sampleRecord("01A", "g1", "A", "B")})
	g.SaveHistory(ctx, []loan.Record{sampleRecord("01B", "g1", "A", "B")})
	g.ClearEntries(ctx)
	g.ClearHistory(ctx)

	_, err := store.Get(ctx, KeyEntries)
	assert.ErrorIs(t, err, kv.ErrNotFound)
	_, err = store.Get(ctx, KeyHistory)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestSaveSnapshotWritesAndDrops(t *testing.T) {
	ctx := context.Background()
	g, store := newGateway(t)
	require.NoError(t, store.Set(ctx, GroupKey("old"), []byte(`{}`)))

	r := sampleRecord("01A", "g1", "Alice", "Bob")
	gd := loan.NewGroupData()
	gd.Lent["Alice"] = []loan.Record{r}
	gd.Borrowed["Bob"] = []loan.Record{r}

	g.SaveSnapshot(ctx, loan.Snapshot{
		Entries:    map[string]loan.Record{r.ID: r},
		Groups:     map[string]loan.GroupData{"g1": gd},
		DropGroups: []string{"old"},
	})

	assert.Equal(t, map[string]loan.Record{r.ID: r}, g.LoadEntries(ctx))
	assert.Empty(t, g.LoadHistory(ctx))
	assert.Equal(t, gd, g.LoadGroupData(ctx, "g1"))
	_, err := store.Get(ctx, GroupKey("old"))
	assert.ErrorIs(t, err, kv.ErrNotFound)

	// history は null ではなく [] で書かれる
	raw, err := store.Get(ctx, KeyHistory)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

type brokenStore struct{ kv.Store }

var errBroken = errors.New("disk on fire")

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errBroken }
func (brokenStore) Set(context.Context, string, []byte) error { return errBroken }
func (brokenStore) Delete(context.Context, string) error { return errBroken }
func (brokenStore) Apply(context.Context, *kv.Batch) error { return errBroken }

func TestStoreFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	g := NewGateway(brokenStore{}, logging.Discard())

	saveBefore := testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues(metrics.OpSave, "snapshot"))

	assert.NotPanics(t, func() {
		g.SaveEntries(ctx, nil)
		g.SaveHistory(ctx, nil)
		g.SaveSnapshot(ctx, loan.Snapshot{})
		g.ClearEntries(ctx)
	})
	assert.Empty(t, g.LoadEntries(ctx))
	assert.Empty(t, g.LoadHistory(ctx))

	saveAfter := testutil.ToFloat64(metrics.PersistenceFailures.WithLabelValues(metrics.OpSave, "snapshot"))
	assert.Equal(t, saveBefore+1, saveAfter)
}
