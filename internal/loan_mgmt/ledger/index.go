package ledger

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"lendledger/internal/loan_mgmt/loan"
)

// ref はバケット内の1件。並び順（貸出時刻→ID）の判定に必要な分だけ持つ
type ref struct {
	id   string
	lent int64
}

func refLess(a, b ref) bool {
	if a.lent != b.lent {
		return a.lent < b.lent
	}
	return a.id < b.id
}

type partyKey struct {
	group string
	party string
}

// tripleKey は (group, lender, borrower, item) の非一意セカンダリインデックス
type tripleKey struct {
	group    string
	lender   string
	borrower string
	item     string
}

func tripleOf(r loan.Record) tripleKey {
	return tripleKey{group: r.GroupID, lender: r.LenderID, borrower: r.BorrowerID, item: loan.ItemKey(r.ItemName)}
}

// Index は active な貸出のグループ別・当事者別インデックス。
// バケットは書き換えずに差し替える（copy-on-write）ので、読み手はロック不要。
// 書き込みは Ledger のライタロック下で1本に限られる。
type Index struct {
	lenders   *xsync.MapOf[partyKey, []ref]
	borrowers *xsync.MapOf[partyKey, []ref]
	triples   *xsync.MapOf[tripleKey, []ref]
}

func newIndex() *Index {
	return &Index{
		lenders:   xsync.NewMapOf[partyKey, []ref](),
		borrowers: xsync.NewMapOf[partyKey, []ref](),
		triples:   xsync.NewMapOf[tripleKey, []ref](),
	}
}

// Rebuild は active な貸出の一覧からインデックスを作り直す。
// 永続化済みの recorder.<groupId> は信用せず、entries だけから導出する。
// アーカイブ済み（ReturnTimestamp > 0 またはクローズ理由あり）のものは含めない。
func Rebuild(entries map[string]loan.Record) *Index {
	recs := make([]loan.Record, 0, len(entries))
	for _, r := range entries {
		if r.ReturnTimestamp > 0 || r.CloseReason != "" {
			continue
		}
		recs = append(recs, r)
	}
	sort.Slice(recs, func(i, j int) bool { return loan.Less(recs[i], recs[j]) })

	ix := newIndex()
	for _, r := range recs {
		ix.add(r)
	}
	return ix
}

func (ix *Index) add(r loan.Record) {
	rf := ref{id: r.ID, lent: r.LendTimestamp}
	insert := func(old []ref, _ bool) ([]ref, bool) { return insertRef(old, rf), false }
	ix.lenders.Compute(partyKey{r.GroupID, r.LenderID}, insert)
	ix.borrowers.Compute(partyKey{r.GroupID, r.BorrowerID}, insert)
	ix.triples.Compute(tripleOf(r), insert)
}

func (ix *Index) remove(r loan.Record) {
	drop := func(old []ref, loaded bool) ([]ref, bool) {
		if !loaded {
			return nil, true
		}
		next := removeRef(old, r.ID)
		return next, len(next) == 0
	}
	ix.lenders.Compute(partyKey{r.GroupID, r.LenderID}, drop)
	ix.borrowers.Compute(partyKey{r.GroupID, r.BorrowerID}, drop)
	ix.triples.Compute(tripleOf(r), drop)
}

func (ix *Index) byLender(group, lender string) []ref {
	v, _ := ix.lenders.Load(partyKey{group, lender})
	return v
}

func (ix *Index) byBorrower(group, borrower string) []ref {
	v, _ := ix.borrowers.Load(partyKey{group, borrower})
	return v
}

// first は複合キーに一致する中で最も古い貸出のIDを返す
func (ix *Index) first(group, lender, borrower, item string) (string, bool) {
	v, ok := ix.triples.Load(tripleKey{group: group, lender: lender, borrower: borrower, item: loan.ItemKey(item)})
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0].id, true
}

// groupBuckets はグループ内の貸し手別・借り手別のバケットを返す
func (ix *Index) groupBuckets(group string) (lent, borrowed map[string][]ref) {
	lent = map[string][]ref{}
	borrowed = map[string][]ref{}
	ix.lenders.Range(func(k partyKey, v []ref) bool {
		if k.group == group {
			lent[k.party] = v
		}
		return true
	})
	ix.borrowers.Range(func(k partyKey, v []ref) bool {
		if k.group == group {
			borrowed[k.party] = v
		}
		return true
	})
	return lent, borrowed
}

func insertRef(bucket []ref, r ref) []ref {
	i := sort.Search(len(bucket), func(i int) bool { return !refLess(bucket[i], r) })
	out := make([]ref, 0, len(bucket)+1)
	out = append(out, bucket[:i]...)
	out = append(out, r)
	return append(out, bucket[i:]...)
}

func removeRef(bucket []ref, id string) []ref {
	out := make([]ref, 0, len(bucket))
	for _, r := range bucket {
		if r.id != id {
			out = append(out, r)
		}
	}
	return out
}
