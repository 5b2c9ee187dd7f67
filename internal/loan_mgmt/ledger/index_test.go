package ledger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendledger/internal/loan_mgmt/loan"
)

func TestRebuildCoversEveryActiveRecordOnce(t *testing.T) {
	entries := map[string]loan.Record{}
	lenders := []string{"Alice", "Bob", "Carol"}
	for i := 0; i < 30; i++ {
		r := loan.Record{
			ID:            fmt.Sprintf("R%02d", i),
			GroupID:       fmt.Sprintf("g%d", i%2),
			LenderID:      lenders[i%3],
			BorrowerID:    fmt.Sprintf("P%d", i%5),
			ItemName:      "Coins",
			Quantity:      1,
			LendTimestamp: int64(1000 - i%7),
		}
		entries[r.ID] = r
	}
	// クローズ済みは載らない
	entries["X1"] = loan.Record{ID: "X1", GroupID: "g0", LenderID: "Alice", BorrowerID: "P9", ReturnTimestamp: 5}
	entries["X2"] = loan.Record{ID: "X2", GroupID: "g0", LenderID: "Alice", BorrowerID: "P9", CloseReason: loan.CloseDefaulted}

	ix := Rebuild(entries)

	lenderHits := map[string]int{}
	ix.lenders.Range(func(k partyKey, refs []ref) bool {
		for i, rf := range refs {
			r, ok := entries[rf.id]
			require.True(t, ok, "bucket references unknown record %s", rf.id)
			assert.Equal(t, k, partyKey{r.GroupID, r.LenderID})
			if i > 0 {
				assert.True(t, refLess(refs[i-1], rf), "bucket not sorted")
			}
			lenderHits[rf.id]++
		}
		return true
	})
	borrowerHits := map[string]int{}
	ix.borrowers.Range(func(k partyKey, refs []ref) bool {
		for _, rf := range refs {
			r, ok := entries[rf.id]
			require.True(t, ok)
			assert.Equal(t, k, partyKey{r.GroupID, r.BorrowerID})
			borrowerHits[rf.id]++
		}
		return true
	})

	for id, r := range entries {
		want := 1
		if r.ReturnTimestamp > 0 || r.CloseReason != "" {
			want = 0
		}
		assert.Equal(t, want, lenderHits[id], id)
		assert.Equal(t, want, borrowerHits[id], id)
	}
}

func TestIndexAddRemove(t *testing.T) {
	ix := newIndex()
	a := loan.Record{ID: "B", GroupID: "g1", LenderID: "Alice", BorrowerID: "Bob", ItemName: "Rune scimitar", LendTimestamp: 10}
	b := loan.Record{ID: "A", GroupID: "g1", LenderID: "Alice", BorrowerID: "Bob", ItemName: "rune scimitar", LendTimestamp: 10}
	c := loan.Record{ID: "C", GroupID: "g1", LenderID: "Alice", BorrowerID: "Bob", ItemName: "Rune scimitar", LendTimestamp: 5}

	ix.add(a)
	ix.add(b)
	ix.add(c)

	id, ok := ix.first("g1", "Alice", "Bob", "RUNE SCIMITAR")
	require.True(t, ok)
	assert.Equal(t, "C", id)

	ix.remove(c)
	id, _ = ix.first("g1", "Alice", "Bob", "Rune scimitar")
	assert.Equal(t, "A", id, "same lend time falls back to id order")

	held := ix.byLender("g1", "Alice")
	ix.remove(b)
	ix.remove(a)
	assert.Len(t, held, 2, "buckets handed to readers are never mutated")

	_, ok = ix.first("g1", "Alice", "Bob", "Rune scimitar")
	assert.False(t, ok)
	assert.Equal(t, 0, ix.lenders.Size())
	assert.Equal(t, 0, ix.borrowers.Size())
	assert.Equal(t, 0, ix.triples.Size())

	lent, borrowed := ix.groupBuckets("g1")
	assert.Empty(t, lent)
	assert.Empty(t, borrowed)
}
